// Package capture supervises a single streaming speech-to-text session
// and translates raw engine events into the three outcomes the
// conversation loop cares about: interim text, final text, and
// classified errors.
package capture

import "strings"

// Callbacks receive raw events from the capture engine. All callbacks
// may be invoked from engine-owned goroutines.
type Callbacks struct {
	// OnInterim delivers a partial, not-yet-final transcript.
	OnInterim func(text string)
	// OnFinal delivers a completed utterance.
	OnFinal func(text string)
	// OnError delivers a textual failure reason.
	OnError func(reason string)
	// OnEnded fires when the engine stops on its own (e.g. silence timeout).
	OnEnded func()
}

// Engine is the boundary to a streaming speech-to-text backend.
// Bind must be called before Start.
type Engine interface {
	Bind(cb Callbacks)
	Start() error
	Stop()
}

// ErrorKind classifies a capture failure for retry purposes.
type ErrorKind int

const (
	// Transient errors (silence timeouts, aborts) are recovered by the
	// supervisor's auto-restart path and never end the session.
	Transient ErrorKind = iota
	// Fatal errors are surfaced upward and end the session.
	Fatal
)

func (k ErrorKind) String() string {
	if k == Transient {
		return "transient"
	}
	return "fatal"
}

// EventKind discriminates supervisor events.
type EventKind int

const (
	EventInterim EventKind = iota
	EventFinal
	EventError
	// EventRestarted signals the engine cycled without delivering a
	// final result; any interim text held upstream is dead.
	EventRestarted
)

// Event is one logical outcome emitted by the Supervisor.
type Event struct {
	Kind    EventKind
	Text    string    // interim or final transcript
	ErrKind ErrorKind // set for EventError
	Reason  string    // raw engine reason, for logging
}

// Classify maps a raw engine error reason onto the retry policy.
func Classify(reason string) ErrorKind {
	r := strings.ToLower(reason)
	if strings.Contains(r, "no-speech") || strings.Contains(r, "no speech") || strings.Contains(r, "aborted") {
		return Transient
	}
	return Fatal
}
