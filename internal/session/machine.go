package session

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/pnbalu/telemed-voice/internal/capture"
	"github.com/pnbalu/telemed-voice/internal/transcript"
)

// CaptureSource is the capture supervisor surface the machine drives.
type CaptureSource interface {
	Start()
	Stop()
	Events() <-chan capture.Event
}

// Speaker is the turn controller surface the machine drives.
type Speaker interface {
	Speak(text string) (<-chan struct{}, error)
	Cancel()
}

type eventKind int

const (
	evSpeechDone eventKind = iota
	evResponse
	evEnd
)

type event struct {
	kind eventKind
	text string
	err  error
}

// Option configures optional sinks on a Machine.
type Option func(*Machine)

// WithCompletionSink registers the callback fired exactly once when
// the session ends, carrying the final plain transcript. Without it
// the transcript is logged instead.
func WithCompletionSink(fn func(reason EndReason, transcript string)) Option {
	return func(m *Machine) { m.onEnded = fn }
}

// WithInterimSink registers a purely observational callback for
// interim capture text. It never affects control flow.
func WithInterimSink(fn func(text string)) Option {
	return func(m *Machine) { m.onInterim = fn }
}

// WithTurnSink registers a callback invoked for every appended turn.
func WithTurnSink(fn func(t transcript.Turn)) Option {
	return func(m *Machine) { m.onTurn = fn }
}

// Machine is the conversation state machine. It is logically
// single-threaded: one goroutine processes events to completion, so
// two events are never applied concurrently to the same session.
type Machine struct {
	cfg     Config
	capture CaptureSource
	speaker Speaker
	resp    Responder
	ledger  *transcript.Ledger

	onEnded   func(EndReason, string)
	onInterim func(string)
	onTurn    func(transcript.Turn)

	inbox chan event
	done  chan struct{}
	begin sync.Once

	mu        sync.Mutex
	ctx       context.Context
	state     State
	interim   string
	endReason EndReason
}

// New assembles a Machine. resp may be nil, in which case every reply
// comes from the fallback script.
func New(cfg Config, cap CaptureSource, speaker Speaker, resp Responder, opts ...Option) *Machine {
	cfg.applyDefaults()
	m := &Machine{
		cfg:     cfg,
		capture: cap,
		speaker: speaker,
		resp:    resp,
		ledger:  transcript.NewLedger(),
		inbox:   make(chan event, 32),
		done:    make(chan struct{}),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin starts the conversation: the greeting is appended and spoken,
// then the machine listens. Subsequent calls are no-ops. The event
// loop exits when ctx is cancelled.
func (m *Machine) Begin(ctx context.Context) {
	m.begin.Do(func() {
		m.mu.Lock()
		if m.state == StateEnded {
			m.mu.Unlock()
			return
		}
		m.ctx = ctx
		m.mu.Unlock()
		go m.loop(ctx)
	})
}

// EndRequest asks the session to terminate. Accepted from any state,
// including before Begin, immediately effective, safe to call more
// than once.
func (m *Machine) EndRequest() {
	m.mu.Lock()
	if m.ctx == nil {
		// not begun yet; end directly, a later Begin stays a no-op
		if m.state == StateEnded {
			m.mu.Unlock()
			return
		}
		m.state = StateEnded
		m.endReason = EndUserRequested
		m.mu.Unlock()
		m.finish(EndUserRequested)
		return
	}
	m.mu.Unlock()
	m.post(event{kind: evEnd})
}

// Done closes when the session reaches a terminal state.
func (m *Machine) Done() <-chan struct{} { return m.done }

// State returns a snapshot of the current conversation state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Interim returns the in-flight partial utterance, if any.
func (m *Machine) Interim() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interim
}

// EndedReason reports why the session ended; ok is false until then.
func (m *Machine) EndedReason() (reason EndReason, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endReason, m.state == StateEnded
}

// Ledger exposes the session transcript. It outlives the session.
func (m *Machine) Ledger() *transcript.Ledger { return m.ledger }

// Transcript renders the conversation so far as plain text.
func (m *Machine) Transcript() string { return m.ledger.PlainText() }

func (m *Machine) loop(ctx context.Context) {
	m.setState(StateGreeting)
	m.appendTurn(transcript.RoleAgent, m.cfg.Greeting)
	m.speak(m.cfg.Greeting)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.capture.Events():
			m.handleCapture(ev)
		case ev := <-m.inbox:
			m.handleControl(ev)
		}
	}
}

func (m *Machine) handleCapture(ev capture.Event) {
	state := m.State()
	switch ev.Kind {
	case capture.EventInterim:
		if state != StateListening && state != StateCapturing {
			return
		}
		m.mu.Lock()
		m.interim = ev.Text
		m.state = StateCapturing
		m.mu.Unlock()
		if m.onInterim != nil {
			m.onInterim(ev.Text)
		}

	case capture.EventFinal:
		// Finals arriving outside the listening phase are late
		// callbacks; they must never append a turn out of order or
		// re-trigger a response.
		if state != StateListening && state != StateCapturing {
			log.Printf("session: dropping stale final result in state %s", state)
			return
		}
		m.mu.Lock()
		m.interim = ""
		m.mu.Unlock()
		history := m.ledger.Lines()
		m.appendTurn(transcript.RoleHuman, ev.Text)
		m.setState(StateThinking)
		m.generate(ev.Text, history)

	case capture.EventRestarted:
		// the capture session cycled without a final result; the held
		// interim belongs to the dead session
		m.mu.Lock()
		if m.state == StateCapturing {
			m.state = StateListening
		}
		cleared := m.interim != ""
		m.interim = ""
		m.mu.Unlock()
		if cleared && m.onInterim != nil {
			m.onInterim("")
		}

	case capture.EventError:
		if ev.ErrKind == capture.Transient {
			// the supervisor's auto-restart path already handles these
			log.Printf("session: transient capture error: %s", ev.Reason)
			return
		}
		if state == StateListening || state == StateCapturing {
			log.Printf("session: fatal capture error: %s", ev.Reason)
			m.end(EndCaptureFailed)
		}
	}
}

func (m *Machine) handleControl(ev event) {
	switch ev.kind {
	case evSpeechDone:
		switch m.State() {
		case StateGreeting:
			m.setState(StateListening)
			m.capture.Start()
		case StateSpeaking:
			if m.shouldEnd() {
				m.end(EndCompleted)
			} else {
				m.setState(StateListening)
				m.capture.Start()
			}
		}

	case evResponse:
		if m.State() != StateThinking {
			log.Printf("session: dropping stale response in state %s", m.State())
			return
		}
		reply := strings.TrimSpace(ev.text)
		if ev.err != nil || reply == "" {
			if ev.err != nil {
				log.Printf("session: responder error, using fallback: %v", ev.err)
			}
			reply = m.fallbackReply()
		}
		m.appendTurn(transcript.RoleAgent, reply)
		m.setState(StateSpeaking)
		m.speak(reply)

	case evEnd:
		if m.State() == StateEnded {
			return
		}
		m.end(EndUserRequested)
	}
}

// generate invokes the responder off-loop and posts the result back
// as an event; a nil responder short-circuits into the fallback path.
func (m *Machine) generate(latest string, history []string) {
	if m.resp == nil {
		m.handleControl(event{kind: evResponse})
		return
	}
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	genCtx, cancel := context.WithTimeout(ctx, m.cfg.ResponseTimeout)
	go func() {
		defer cancel()
		text, err := m.resp.Generate(genCtx, latest, history)
		m.post(event{kind: evResponse, text: text, err: err})
	}()
}

func (m *Machine) speak(text string) {
	done, err := m.speaker.Speak(text)
	if err != nil {
		// the machine is the only caller; this is a bug, not a
		// runtime condition to recover from silently
		log.Printf("session: speak rejected: %v", err)
		return
	}
	go func() {
		<-done
		m.post(event{kind: evSpeechDone})
	}()
}

// shouldEnd applies the termination policy after an agent turn has
// finished playing.
func (m *Machine) shouldEnd() bool {
	if m.ledger.AgentTurnCount() >= m.cfg.MaxTurns {
		return true
	}
	last := strings.ToLower(m.ledger.LastAgentText())
	for _, phrase := range m.cfg.TerminalPhrases {
		if phrase != "" && strings.Contains(last, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// fallbackReply picks the scripted reply for the current agent-turn
// count: index 0 for the first post-greeting reply, clamped to the
// last entry once the script is exhausted.
func (m *Machine) fallbackReply() string {
	idx := m.ledger.AgentTurnCount() - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(m.cfg.FallbackReplies) {
		idx = len(m.cfg.FallbackReplies) - 1
	}
	return m.cfg.FallbackReplies[idx]
}

func (m *Machine) end(reason EndReason) {
	m.mu.Lock()
	if m.state == StateEnded {
		m.mu.Unlock()
		return
	}
	m.state = StateEnded
	m.endReason = reason
	m.interim = ""
	m.mu.Unlock()
	m.finish(reason)
}

// finish runs the terminal-state side effects. Callers must have
// already moved the state to StateEnded exactly once.
func (m *Machine) finish(reason EndReason) {
	m.capture.Stop()
	m.speaker.Cancel()

	text := m.ledger.PlainText()
	if m.onEnded != nil {
		m.onEnded(reason, text)
	} else {
		log.Printf("session ended (%s), %d turns", reason, len(m.ledger.Turns()))
	}
	close(m.done)
}

func (m *Machine) appendTurn(role transcript.Role, text string) {
	t := m.ledger.Append(role, text)
	if m.onTurn != nil {
		m.onTurn(t)
	}
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Machine) post(ev event) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil {
		return
	}
	select {
	case m.inbox <- ev:
	case <-ctx.Done():
	}
}
