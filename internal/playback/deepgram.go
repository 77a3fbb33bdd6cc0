package playback

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

// DeepgramEngine synthesizes speech over Deepgram's websocket speak
// API and delivers linear16 PCM into a Sink.
type DeepgramEngine struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
	sink       Sink
}

// NewDeepgramEngine creates an engine delivering 48kHz PCM into sink.
// A nil sink discards audio.
func NewDeepgramEngine(apiKey, model string, sink Sink) *DeepgramEngine {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	if sink == nil {
		sink = Discard
	}
	return &DeepgramEngine{apiKey: apiKey, model: model, sampleRate: 48000, encoding: "linear16", sink: sink}
}

// Speak streams synthesized audio for text into the sink. It returns
// when the synthesis stream has drained, on error, or when ctx is
// cancelled (in which case queued audio is dropped).
func (d *DeepgramEngine) Speak(ctx context.Context, text string) error {
	if d.apiKey == "" {
		return fmt.Errorf("deepgram: api key missing")
	}
	if text == "" {
		return nil
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}

	var lastRecvUnix int64
	var seenAudio int32

	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		buf := make([]byte, len(data))
		copy(buf, data)
		d.sink.WritePCM(buf)
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		log.Printf("deepgram: flush error: %v", err)
	}

	// No explicit end-of-stream signal: finish once audio has been
	// flowing and then goes quiet for idleWindow, or at the deadline.
	const idleWindow = 400 * time.Millisecond
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(12 * time.Second)
	for {
		select {
		case <-ctx.Done():
			d.sink.Reset()
			return ctx.Err()
		case <-ticker.C:
			if atomic.LoadInt32(&seenAudio) == 1 {
				last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
				if time.Since(last) > idleWindow {
					d.sink.FlushTail()
					return nil
				}
			}
			if time.Now().After(deadline) {
				d.sink.FlushTail()
				return nil
			}
		}
	}
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
