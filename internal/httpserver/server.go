package httpserver

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pnbalu/telemed-voice/internal/playback"
	"github.com/pnbalu/telemed-voice/internal/session"
	"github.com/pnbalu/telemed-voice/internal/transcript"
)

// CreateSessionRequest starts one conversation session.
type CreateSessionRequest struct {
	PatientName     string   `json:"patient_name"`
	MaxTurns        int      `json:"max_turns,omitempty"`
	TerminalPhrases []string `json:"terminal_phrases,omitempty"`
}

// AudioInput accepts PCM16LE 16kHz mono microphone audio for a session.
type AudioInput interface {
	SendPCM(pcm []byte) error
}

// Runtime bundles a running conversation with its optional audio input.
type Runtime struct {
	Machine *session.Machine
	Audio   AudioInput // nil when no capture engine is attached
}

// Factory assembles the conversation components for one session. out
// receives the agent's synthesized speech and fans it out to the
// session's websocket subscribers; the provided options carry the
// server's sinks and must be passed through to session.New.
type Factory func(req CreateSessionRequest, out playback.Sink, opts ...session.Option) (Runtime, error)

// Server exposes session management over HTTP plus a websocket event
// feed per session.
type Server struct {
	Router http.Handler

	factory Factory
	archive func(id, transcript string)

	mu       sync.Mutex
	sessions map[string]*liveSession
}

type liveSession struct {
	id     string
	rt     Runtime
	cancel context.CancelFunc
	feed   *feed
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// demo use; restrict in production
		return true
	},
}

// New constructs the HTTP server. archive is invoked with the final
// transcript of every ended session and may be nil.
func New(factory Factory, archive func(id, transcript string)) *Server {
	s := &Server{
		factory:  factory,
		archive:  archive,
		sessions: make(map[string]*liveSession),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/sessions", s.createSession)
	e.GET("/sessions/:id", s.getSession)
	e.POST("/sessions/:id/end", s.endSession)
	e.GET("/sessions/:id/transcript", s.getTranscript)
	e.GET("/sessions/:id/events", s.sessionEvents)

	s.Router = e
	return s
}

func (s *Server) createSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id := uuid.Must(uuid.NewV7()).String()
	fd := newFeed()

	opts := []session.Option{
		session.WithInterimSink(func(text string) {
			fd.publish(FeedEvent{Type: "interim", Text: text})
		}),
		session.WithTurnSink(func(t transcript.Turn) {
			fd.publish(FeedEvent{Type: "turn", Role: t.Role.Label(), Text: t.Text})
		}),
		session.WithCompletionSink(func(reason session.EndReason, tr string) {
			fd.publish(FeedEvent{Type: "ended", Reason: string(reason), Transcript: tr})
			fd.close()
			if s.archive != nil {
				s.archive(id, tr)
			}
		}),
	}

	rt, err := s.factory(req, feedSink{fd}, opts...)
	if err != nil {
		log.Printf("httpserver: session setup failed: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "session setup failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.Machine.Begin(ctx)
	go func() {
		// release the event loop once the session reaches Ended
		<-rt.Machine.Done()
		cancel()
	}()

	ls := &liveSession{id: id, rt: rt, cancel: cancel, feed: fd}
	s.mu.Lock()
	s.sessions[id] = ls
	s.mu.Unlock()

	return c.JSON(http.StatusCreated, map[string]string{
		"id":    id,
		"state": rt.Machine.State().String(),
	})
}

// feedSink forwards agent speech onto the session's event feed so
// connected clients can play it back.
type feedSink struct {
	fd *feed
}

func (fs feedSink) WritePCM(pcm []byte) {
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	fs.fd.publish(FeedEvent{Type: "audio", PCM: buf})
}

func (fs feedSink) FlushTail() { fs.fd.publish(FeedEvent{Type: "audio_done"}) }
func (fs feedSink) Reset()     { fs.fd.publish(FeedEvent{Type: "audio_reset"}) }

func (s *Server) lookup(id string) (*liveSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[id]
	return ls, ok
}

func (s *Server) getSession(c echo.Context) error {
	ls, ok := s.lookup(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	m := ls.rt.Machine
	resp := map[string]interface{}{
		"id":          ls.id,
		"state":       m.State().String(),
		"interim":     m.Interim(),
		"turns":       len(m.Ledger().Turns()),
		"agent_turns": m.Ledger().AgentTurnCount(),
	}
	if reason, ended := m.EndedReason(); ended {
		resp["ended_reason"] = string(reason)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) endSession(c echo.Context) error {
	ls, ok := s.lookup(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	ls.rt.Machine.EndRequest()
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) getTranscript(c echo.Context) error {
	ls, ok := s.lookup(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	if _, ended := ls.rt.Machine.EndedReason(); !ended {
		return echo.NewHTTPError(http.StatusConflict, "session still running")
	}
	return c.String(http.StatusOK, ls.rt.Machine.Transcript())
}

// sessionEvents upgrades to a websocket that streams session events
// out (JSON for events, binary frames for agent speech) and accepts
// binary microphone audio in.
func (s *Server) sessionEvents(c echo.Context) error {
	ls, ok := s.lookup(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("httpserver: ws upgrade error: %v", err)
		return nil
	}

	sub := ls.feed.subscribe()
	defer ls.feed.unsubscribe(sub)

	// event writer
	go func() {
		for ev := range sub {
			var err error
			if ev.PCM != nil {
				err = conn.WriteMessage(websocket.BinaryMessage, ev.PCM)
			} else {
				err = conn.WriteJSON(ev)
			}
			if err != nil {
				_ = conn.Close()
				return
			}
		}
		_ = conn.Close()
	}()

	// audio/command reader
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		switch mt {
		case websocket.BinaryMessage:
			if ls.rt.Audio != nil {
				_ = ls.rt.Audio.SendPCM(data)
			}
		case websocket.TextMessage:
			if string(data) == "end" {
				ls.rt.Machine.EndRequest()
			}
		}
	}
}
