// Package session drives one turn-taking voice conversation between a
// patient and the automated assistant. The Machine is the single
// authority over conversation state: every external signal (capture
// results, playback completion, generated replies, end requests) is
// serialized into one event loop, which is what keeps capture and
// playback mutually exclusive and makes stale callbacks harmless.
package session

import (
	"context"
	"time"
)

// State is the conversation phase. Exactly one state is active at any
// instant, owned exclusively by the Machine's event loop.
type State int

const (
	StateIdle State = iota
	StateGreeting
	StateListening
	// StateCapturing is Listening with an interim utterance in flight.
	StateCapturing
	StateThinking
	StateSpeaking
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGreeting:
		return "greeting"
	case StateListening:
		return "listening"
	case StateCapturing:
		return "capturing"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// EndReason records why a session reached StateEnded.
type EndReason string

const (
	EndCompleted     EndReason = "completed"
	EndUserRequested EndReason = "user_requested"
	EndCaptureFailed EndReason = "capture_failed"
)

// Responder generates the assistant's reply for a finalized utterance.
// history carries the prior turns rendered as "<RoleLabel>: <text>".
type Responder interface {
	Generate(ctx context.Context, latest string, history []string) (string, error)
}

// DefaultFallbackReplies are the scripted intake questions spoken when
// the responder fails or none is configured, indexed by agent-turn
// count and clamped to the last entry.
var DefaultFallbackReplies = []string{
	"I understand. Can you tell me more about your symptoms? When did they start?",
	"On a scale of 0 to 10, how severe is your discomfort?",
	"Are you currently taking any medications?",
	"Do you have any known allergies to medications?",
	"Do you have any chronic conditions or medical history I should know about?",
	"Thank you for providing all this information. I've recorded everything and a doctor will review your case within 2 hours.",
}

// DefaultGreeting opens the conversation when none is configured.
const DefaultGreeting = "Hello! I'm your AI health assistant. I'll ask you a few questions about your health. Let's begin - what brings you here today?"

// Config fixes the session policy at construction time.
type Config struct {
	// MaxTurns ends the session once this many agent turns were spoken.
	MaxTurns int
	// TerminalPhrases end the session when the latest agent reply
	// contains any of them (case-insensitive substring match).
	TerminalPhrases []string
	// Greeting is the first agent turn.
	Greeting string
	// FallbackReplies substitute for failed response generation.
	FallbackReplies []string
	// ResponseTimeout bounds one responder invocation.
	ResponseTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 6
	}
	if len(c.TerminalPhrases) == 0 {
		c.TerminalPhrases = []string{"thank you"}
	}
	if c.Greeting == "" {
		c.Greeting = DefaultGreeting
	}
	if len(c.FallbackReplies) == 0 {
		c.FallbackReplies = DefaultFallbackReplies
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = 20 * time.Second
	}
}
