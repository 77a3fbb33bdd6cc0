package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pnbalu/telemed-voice/internal/capture"
	"github.com/pnbalu/telemed-voice/internal/config"
	"github.com/pnbalu/telemed-voice/internal/httpserver"
	"github.com/pnbalu/telemed-voice/internal/llm"
	"github.com/pnbalu/telemed-voice/internal/playback"
	"github.com/pnbalu/telemed-voice/internal/session"
	"github.com/pnbalu/telemed-voice/internal/storage"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	srv := httpserver.New(sessionFactory(cfg), archiveFunc(cfg))

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}

// sessionFactory assembles the speech and response pipeline for each
// new conversation session.
func sessionFactory(cfg config.Config) httpserver.Factory {
	return func(req httpserver.CreateSessionRequest, out playback.Sink, opts ...session.Option) (httpserver.Runtime, error) {
		engine := capture.NewAssemblyAIEngine(cfg.AssemblyAIKey)
		sup := capture.New(engine, true)

		var tts playback.Engine
		if cfg.TTSProvider == "elevenlabs" {
			tts = playback.NewElevenLabsEngine(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, out)
		} else {
			tts = playback.NewDeepgramEngine(cfg.DeepgramAPIKey, cfg.DeepgramModel, out)
		}
		speaker := playback.NewController(tts, sup)

		var resp session.Responder
		if cfg.GoogleAIKey != "" {
			resp = llm.NewGeminiClient(cfg.GoogleAIKey, cfg.GoogleAIModel)
		}

		scfg := session.Config{
			MaxTurns:        cfg.MaxTurns,
			TerminalPhrases: cfg.TerminalPhrases,
			Greeting:        greetingFor(cfg, req),
		}
		if req.MaxTurns > 0 {
			scfg.MaxTurns = req.MaxTurns
		}
		if len(req.TerminalPhrases) > 0 {
			scfg.TerminalPhrases = req.TerminalPhrases
		}

		m := session.New(scfg, sup, speaker, resp, opts...)
		return httpserver.Runtime{Machine: m, Audio: engine}, nil
	}
}

func greetingFor(cfg config.Config, req httpserver.CreateSessionRequest) string {
	if cfg.Greeting != "" {
		return cfg.Greeting
	}
	if req.PatientName != "" {
		return fmt.Sprintf("Hello %s! I'm your AI health assistant. I'll ask you a few questions about your health. Let's begin - what brings you here today?", req.PatientName)
	}
	return ""
}

// archiveFunc stores finished transcripts in Supabase when configured.
func archiveFunc(cfg config.Config) func(id, transcript string) {
	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		log.Println("transcript archive disabled: Supabase not configured")
		return nil
	}
	archive, err := storage.NewArchive(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseBucket)
	if err != nil {
		log.Printf("transcript archive disabled: %v", err)
		return nil
	}
	return func(id, transcript string) {
		if err := archive.SaveTranscript(id, transcript); err != nil {
			log.Printf("transcript archive failed for %s: %v", id, err)
		}
	}
}
