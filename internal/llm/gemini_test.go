package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGemini_NoKey(t *testing.T) {
	c := NewGeminiClient("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Generate(ctx, "hi", nil); err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestGemini_BuildPrompt(t *testing.T) {
	c := NewGeminiClient("key", "")
	p := c.buildPrompt("my head hurts", []string{"AI Assistant: Hello!", "Patient: hi"})
	if !strings.Contains(p, "Previous conversation:\nAI Assistant: Hello!\nPatient: hi") {
		t.Fatalf("history missing from prompt:\n%s", p)
	}
	if !strings.HasSuffix(p, "Patient: my head hurts\n\nAI Assistant:") {
		t.Fatalf("unexpected prompt tail:\n%s", p)
	}
	// no history block when the conversation just started
	p2 := c.buildPrompt("hi", nil)
	if strings.Contains(p2, "Previous conversation") {
		t.Fatalf("unexpected history block:\n%s", p2)
	}
}

func redirectClient(srv *httptest.Server) *http.Client {
	return &http.Client{Timeout: time.Second, Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		req.URL.Scheme = "http"
		req.URL.Host = srv.Listener.Addr().String()
		return http.DefaultTransport.RoundTrip(req)
	})}
}

func TestGemini_HTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("not-json")) }},
		{"no_candidates", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"candidates":[]}`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := NewGeminiClient("key", "model")
			c.HTTPClient = redirectClient(srv)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if _, err := c.Generate(ctx, "hi", nil); err == nil {
				t.Fatalf("expected error; got nil")
			}
		})
	}
}

func TestGemini_Success(t *testing.T) {
	var body generateContentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"  When did the pain start?  "}]}}]}`))
	}))
	defer srv.Close()
	c := NewGeminiClient("key", "model")
	c.HTTPClient = redirectClient(srv)
	got, err := c.Generate(context.Background(), "my head hurts", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "When did the pain start?" {
		t.Fatalf("unexpected reply: %q", got)
	}
	if len(body.SafetySettings) != 4 {
		t.Fatalf("expected 4 safety settings, got %d", len(body.SafetySettings))
	}
	for _, s := range body.SafetySettings {
		if s.Threshold != "BLOCK_NONE" {
			t.Fatalf("unexpected threshold for %s: %s", s.Category, s.Threshold)
		}
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
