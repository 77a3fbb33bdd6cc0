// Package transcript keeps the append-only turn record for one conversation.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Role identifies which party produced a turn.
type Role string

const (
	RoleAgent Role = "agent"
	RoleHuman Role = "human"
)

// Label returns the display name used when rendering transcripts.
func (r Role) Label() string {
	if r == RoleAgent {
		return "AI Assistant"
	}
	return "Patient"
}

// Turn is one utterance by either party. Immutable once appended.
type Turn struct {
	Role      Role
	Text      string
	CreatedAt time.Time
}

// Ledger is an ordered, append-only record of turns. There is no
// deletion or mutation API. Safe for concurrent use.
type Ledger struct {
	mu         sync.Mutex
	turns      []Turn
	agentTurns int
	now        func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// Append records a turn and returns it. Timestamps are clamped so that
// CreatedAt is non-decreasing across the ledger even if the wall clock
// steps backwards.
func (l *Ledger) Append(role Role, text string) Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.now()
	if n := len(l.turns); n > 0 && ts.Before(l.turns[n-1].CreatedAt) {
		ts = l.turns[n-1].CreatedAt
	}
	t := Turn{Role: role, Text: text, CreatedAt: ts}
	l.turns = append(l.turns, t)
	if role == RoleAgent {
		l.agentTurns++
	}
	return t
}

// Turns returns a defensive copy of the recorded turns in insertion order.
func (l *Ledger) Turns() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// AgentTurnCount reports how many agent-authored turns were appended.
func (l *Ledger) AgentTurnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.agentTurns
}

// LastAgentText returns the text of the most recent agent turn, or "".
func (l *Ledger) LastAgentText() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.turns) - 1; i >= 0; i-- {
		if l.turns[i].Role == RoleAgent {
			return l.turns[i].Text
		}
	}
	return ""
}

// Lines renders each turn as "<RoleLabel>: <text>", in ledger order.
func (l *Ledger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	lines := make([]string, len(l.turns))
	for i, t := range l.turns {
		lines[i] = t.Role.Label() + ": " + t.Text
	}
	return lines
}

// PlainText renders the whole conversation, one turn per line with a
// blank line between turns.
func (l *Ledger) PlainText() string {
	return strings.Join(l.Lines(), "\n\n")
}
