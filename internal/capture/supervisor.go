package capture

import (
	"log"
	"strings"
	"sync"
)

// Supervisor owns at most one active capture session at a time. It
// tracks two flags independently: intent ("the orchestrator wants us
// listening"), cleared only by an explicit Stop, and active ("the
// engine currently runs a capture session"). The split is what lets
// the auto-restart path fire on engine self-stops without racing a
// legitimate Stop from the orchestrator.
type Supervisor struct {
	engine      Engine
	autoRestart bool
	events      chan Event

	mu     sync.Mutex
	intent bool
	active bool
}

// New creates a Supervisor bound to the given engine. When autoRestart
// is set, an engine that stops itself without delivering a final
// result is started again as long as intent is still held.
func New(engine Engine, autoRestart bool) *Supervisor {
	s := &Supervisor{
		engine:      engine,
		autoRestart: autoRestart,
		events:      make(chan Event, 64),
	}
	engine.Bind(Callbacks{
		OnInterim: s.onInterim,
		OnFinal:   s.onFinal,
		OnError:   s.onEngineError,
		OnEnded:   s.onEngineEnded,
	})
	return s
}

// Events delivers interim/final/error outcomes in arrival order.
func (s *Supervisor) Events() <-chan Event { return s.events }

// Start begins a capture session. Idempotent: a no-op when a session
// is already active.
func (s *Supervisor) Start() {
	s.mu.Lock()
	s.intent = true
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.mu.Unlock()

	if err := s.engine.Start(); err != nil {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		s.emit(Event{Kind: EventError, ErrKind: Classify(err.Error()), Reason: err.Error()})
	}
}

// Stop tears down the current capture session, if any. Idempotent and
// always safe, even mid-transition. Clears intent so a pending engine
// self-stop cannot trigger a restart afterwards.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.intent = false
	wasActive := s.active
	s.active = false
	s.mu.Unlock()
	if wasActive {
		s.engine.Stop()
	}
}

// Active reports whether a capture session is currently live.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Supervisor) onInterim(text string) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	// guards against late callbacks after Stop
	if !active || text == "" {
		return
	}
	s.emit(Event{Kind: EventInterim, Text: text})
}

func (s *Supervisor) onFinal(text string) {
	text = strings.TrimSpace(text)
	s.mu.Lock()
	if !s.active || text == "" {
		s.mu.Unlock()
		return
	}
	// one final result terminates one capture session; tear the
	// engine down so no audio is recognized until the next Start
	s.active = false
	s.mu.Unlock()
	s.engine.Stop()
	s.emit(Event{Kind: EventFinal, Text: text})
}

func (s *Supervisor) onEngineError(reason string) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if !active {
		return
	}
	s.emit(Event{Kind: EventError, ErrKind: Classify(reason), Reason: reason})
}

func (s *Supervisor) onEngineEnded() {
	s.mu.Lock()
	restart := s.active && s.intent && s.autoRestart
	if !restart {
		s.active = false
	}
	s.mu.Unlock()
	if !restart {
		return
	}
	// the engine stopped itself (e.g. silence timeout) while we still
	// want to listen; bring it back up
	if err := s.engine.Start(); err != nil {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		log.Printf("capture: restart failed: %v", err)
		s.emit(Event{Kind: EventError, ErrKind: Classify(err.Error()), Reason: err.Error()})
		return
	}
	s.emit(Event{Kind: EventRestarted})
}

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		log.Printf("capture: event queue full, dropping %v", ev.Kind)
	}
}
