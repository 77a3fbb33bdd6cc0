// Package playback owns the speech side of a conversation turn: a
// synthesis engine boundary plus the controller that enforces
// capture/playback mutual exclusion.
package playback

import "context"

// Engine synthesizes and delivers speech for one utterance. Speak
// blocks until audio delivery finishes, fails, or ctx is cancelled.
type Engine interface {
	Speak(ctx context.Context, text string) error
}

// Sink consumes synthesized PCM bytes and performs delivery.
// Implementations should buffer internally and pace delivery.
type Sink interface {
	WritePCM(pcm []byte)
	FlushTail()
	// Reset drops any queued frames immediately (used on cancel).
	Reset()
}

type nopSink struct{}

func (nopSink) WritePCM(_ []byte) {}
func (nopSink) FlushTail()        {}
func (nopSink) Reset()            {}

// Discard is a Sink that drops all audio. Useful when no media
// transport is attached to the session.
var Discard Sink = nopSink{}
