package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pnbalu/telemed-voice/internal/capture"
	"github.com/pnbalu/telemed-voice/internal/playback"
	"github.com/pnbalu/telemed-voice/internal/session"
)

// fakeCapture feeds scripted capture events into the machine.
type fakeCapture struct {
	events chan capture.Event
}

func (f *fakeCapture) Start()                       {}
func (f *fakeCapture) Stop()                        {}
func (f *fakeCapture) Events() <-chan capture.Event { return f.events }

// instantSpeaker resolves every playback immediately.
type instantSpeaker struct{}

func (instantSpeaker) Speak(text string) (<-chan struct{}, error) {
	ch := make(chan struct{})
	close(ch)
	return ch, nil
}
func (instantSpeaker) Cancel() {}

func testFactory(caps map[string]*fakeCapture) Factory {
	var mu sync.Mutex
	return func(req CreateSessionRequest, _ playback.Sink, opts ...session.Option) (Runtime, error) {
		src := &fakeCapture{events: make(chan capture.Event, 16)}
		mu.Lock()
		caps[req.PatientName] = src
		mu.Unlock()
		cfg := session.Config{MaxTurns: req.MaxTurns, TerminalPhrases: req.TerminalPhrases}
		m := session.New(cfg, src, instantSpeaker{}, nil, opts...)
		return Runtime{Machine: m}, nil
	}
}

func newTestServer(t *testing.T) (*Server, map[string]*fakeCapture) {
	t.Helper()
	caps := make(map[string]*fakeCapture)
	return New(testFactory(caps), nil), caps
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	return w
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestServer_CreateSessionBadJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/sessions", "not-json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestServer_UnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/sessions/nope", "/sessions/nope/transcript"} {
		if w := doJSON(t, srv, http.MethodGet, path, ""); w.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for %s, got %d", path, w.Code)
		}
	}
	if w := doJSON(t, srv, http.MethodPost, "/sessions/nope/end", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for end, got %d", w.Code)
	}
}

func createSession(t *testing.T, srv *Server, body string) string {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/sessions", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad create response: %v", err)
	}
	if resp["id"] == "" {
		t.Fatalf("missing session id")
	}
	return resp["id"]
}

func TestServer_SessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv, `{"patient_name":"priya"}`)

	// transcript is unavailable while the session runs
	deadline := time.Now().Add(time.Second)
	var status map[string]interface{}
	for time.Now().Before(deadline) {
		w := doJSON(t, srv, http.MethodGet, "/sessions/"+id, "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 status, got %d", w.Code)
		}
		if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
			t.Fatalf("bad status response: %v", err)
		}
		if status["state"] == "listening" {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if w := doJSON(t, srv, http.MethodGet, "/sessions/"+id+"/transcript", ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 before end, got %d", w.Code)
	}

	if w := doJSON(t, srv, http.MethodPost, "/sessions/"+id+"/end", ""); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	// once ended, the transcript is served as plain text
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		w := doJSON(t, srv, http.MethodGet, "/sessions/"+id+"/transcript", "")
		if w.Code == http.StatusOK {
			if !strings.Contains(w.Body.String(), "AI Assistant:") {
				t.Fatalf("transcript missing greeting: %q", w.Body.String())
			}
			w2 := doJSON(t, srv, http.MethodGet, "/sessions/"+id, "")
			_ = json.Unmarshal(w2.Body.Bytes(), &status)
			if status["ended_reason"] != string(session.EndUserRequested) {
				t.Fatalf("unexpected ended reason: %v", status["ended_reason"])
			}
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("transcript never became available")
}

func TestServer_ArchiveInvokedOnEnd(t *testing.T) {
	caps := make(map[string]*fakeCapture)
	var mu sync.Mutex
	archived := make(map[string]string)
	srv := New(testFactory(caps), func(id, tr string) {
		mu.Lock()
		archived[id] = tr
		mu.Unlock()
	})

	id := createSession(t, srv, `{"patient_name":"sam"}`)
	doJSON(t, srv, http.MethodPost, "/sessions/"+id+"/end", "")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		tr, ok := archived[id]
		mu.Unlock()
		if ok {
			if !strings.Contains(tr, "AI Assistant:") {
				t.Fatalf("archived transcript missing content: %q", tr)
			}
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("archive never invoked")
}
