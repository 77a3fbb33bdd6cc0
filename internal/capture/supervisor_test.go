package capture

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeEngine struct {
	cb       Callbacks
	starts   int32
	stops    int32
	running  int32
	startErr error
}

func (f *fakeEngine) Bind(cb Callbacks) { f.cb = cb }
func (f *fakeEngine) Start() error {
	atomic.AddInt32(&f.starts, 1)
	if f.startErr == nil {
		atomic.StoreInt32(&f.running, 1)
	}
	return f.startErr
}
func (f *fakeEngine) Stop() {
	atomic.AddInt32(&f.stops, 1)
	atomic.StoreInt32(&f.running, 0)
}
func (f *fakeEngine) isRunning() bool { return atomic.LoadInt32(&f.running) == 1 }

func recvEvent(t *testing.T, s *Supervisor) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for supervisor event")
		return Event{}
	}
}

func expectNoEvent(t *testing.T, s *Supervisor) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSupervisor_StartIsIdempotent(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, true)
	s.Start()
	s.Start()
	s.Start()
	if got := atomic.LoadInt32(&eng.starts); got != 1 {
		t.Fatalf("expected single engine start, got %d", got)
	}
	if !s.Active() {
		t.Fatalf("expected supervisor active after start")
	}
}

func TestSupervisor_StopIsIdempotent(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, true)
	s.Stop()
	s.Stop()
	if got := atomic.LoadInt32(&eng.stops); got != 0 {
		t.Fatalf("expected no engine stop when nothing active, got %d", got)
	}
	s.Start()
	s.Stop()
	s.Stop()
	if got := atomic.LoadInt32(&eng.stops); got != 1 {
		t.Fatalf("expected single engine stop, got %d", got)
	}
}

func TestSupervisor_InterimDroppedAfterStop(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, true)
	s.Start()
	s.Stop()
	// late callback from the engine after the orchestrator stopped us
	eng.cb.OnInterim("too late")
	expectNoEvent(t, s)
}

func TestSupervisor_FinalEmitsOnceAndDeactivates(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, true)
	s.Start()
	eng.cb.OnFinal("  hello there  ")
	ev := recvEvent(t, s)
	if ev.Kind != EventFinal || ev.Text != "hello there" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if s.Active() {
		t.Fatalf("expected inactive after final result")
	}
	// a second final from the same engine session is dropped
	eng.cb.OnFinal("echo")
	expectNoEvent(t, s)
}

func TestSupervisor_FinalTearsDownEngine(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, true)
	s.Start()
	eng.cb.OnFinal("my head hurts")
	if ev := recvEvent(t, s); ev.Kind != EventFinal {
		t.Fatalf("unexpected event: %+v", ev)
	}
	// the engine must not keep recognizing audio while the reply is
	// generated and played back
	if eng.isRunning() {
		t.Fatalf("engine still capturing after final result")
	}
	// the orchestrator's stop before playback finds nothing left to do
	s.Stop()
	if got := atomic.LoadInt32(&eng.stops); got != 1 {
		t.Fatalf("expected single engine stop, got %d", got)
	}
	// next listening phase brings the engine back up
	s.Start()
	if !eng.isRunning() {
		t.Fatalf("engine not restarted for the next turn")
	}
}

func TestSupervisor_EmptyFinalIgnored(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, true)
	s.Start()
	eng.cb.OnFinal("   ")
	expectNoEvent(t, s)
	if !s.Active() {
		t.Fatalf("expected still active after empty final")
	}
}

func TestSupervisor_AutoRestartOnEngineSelfStop(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, true)
	s.Start()
	// engine gave up on its own (silence timeout) while intent is held
	eng.cb.OnEnded()
	if got := atomic.LoadInt32(&eng.starts); got != 2 {
		t.Fatalf("expected restart, starts=%d", got)
	}
	if !s.Active() {
		t.Fatalf("expected active after restart")
	}
	// consumers are told the session cycled so held interims get dropped
	if ev := recvEvent(t, s); ev.Kind != EventRestarted {
		t.Fatalf("expected restart event, got %+v", ev)
	}
}

func TestSupervisor_NoRestartAfterExplicitStop(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, true)
	s.Start()
	s.Stop()
	eng.cb.OnEnded()
	if got := atomic.LoadInt32(&eng.starts); got != 1 {
		t.Fatalf("restart fired after explicit stop, starts=%d", got)
	}
}

func TestSupervisor_NoRestartWhenDisabled(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, false)
	s.Start()
	eng.cb.OnEnded()
	if got := atomic.LoadInt32(&eng.starts); got != 1 {
		t.Fatalf("restart fired with autoRestart disabled, starts=%d", got)
	}
	if s.Active() {
		t.Fatalf("expected inactive after unhandled engine end")
	}
}

func TestSupervisor_StartErrorSurfacesClassified(t *testing.T) {
	eng := &fakeEngine{startErr: errors.New("network unreachable")}
	s := New(eng, true)
	s.Start()
	ev := recvEvent(t, s)
	if ev.Kind != EventError || ev.ErrKind != Fatal {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if s.Active() {
		t.Fatalf("expected inactive after failed start")
	}
}

func TestSupervisor_ErrorAfterStopDropped(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, true)
	s.Start()
	s.Stop()
	eng.cb.OnError("aborted")
	expectNoEvent(t, s)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		reason string
		want   ErrorKind
	}{
		{"no-speech", Transient},
		{"No speech detected", Transient},
		{"request aborted", Transient},
		{"audio-capture", Fatal},
		{"not-allowed", Fatal},
		{"network", Fatal},
	}
	for _, tc := range cases {
		if got := Classify(tc.reason); got != tc.want {
			t.Fatalf("Classify(%q)=%v want %v", tc.reason, got, tc.want)
		}
	}
}
