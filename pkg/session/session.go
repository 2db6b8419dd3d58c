// Package session holds the client-side view of a multi-turn conversation
// with a remote agent. The server is the authority for session contents; the
// client round-trips the session identifier and applies server snapshots
// wholesale as they arrive.
package session

import (
	"sync"

	"github.com/google/uuid"
)

// Mode is the agent execution mode for a session.
type Mode string

const (
	// ModeAskAlways requires user approval before every action.
	ModeAskAlways Mode = "ask_always"
	// ModePlanOnly produces a plan without executing anything.
	ModePlanOnly Mode = "plan_only"
	// ModeAutoEdit auto-accepts file edits but asks for other actions.
	ModeAutoEdit Mode = "auto_edit"
	// ModeUnattended runs autonomously within a turn budget.
	ModeUnattended Mode = "unattended"
)

// Message is one role-tagged entry in the conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Snapshot is the wire form of session state. It is embedded in outbound
// input frames and carried back on session-bearing server frames.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages,omitempty"`
	Mode      Mode      `json:"mode,omitempty"`
	// MaxTurns and TurnsUsed are only meaningful in ModeUnattended.
	MaxTurns  int `json:"max_turns,omitempty"`
	TurnsUsed int `json:"turns_used,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	return out
}

// State is the durable conversational context spanning turns.
// It is mutated only by the turn controller; external callers read snapshots.
// Safe for concurrent use.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewState creates an empty session state.
func NewState() *State {
	return &State{}
}

// EnsureID returns the session identifier, generating one on first use.
// Once established the identifier is preserved across turns and failures;
// only Clear discards it.
func (s *State) EnsureID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.SessionID == "" {
		s.snap.SessionID = uuid.New().String()
	}
	return s.snap.SessionID
}

// ID returns the session identifier, or empty if none established yet.
func (s *State) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.SessionID
}

// Snapshot returns a deep copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Apply replaces the state wholesale with a server-carried snapshot.
// Last write wins; the server is trusted as sole authority. An empty
// session_id in the incoming snapshot keeps the established identifier.
func (s *State) Apply(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.SessionID == "" {
		snap.SessionID = s.snap.SessionID
	}
	s.snap = snap.Clone()
}

// SetMode merges a new execution mode into the state.
func (s *State) SetMode(mode Mode, maxTurns int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Mode = mode
	if mode == ModeUnattended && maxTurns > 0 {
		s.snap.MaxTurns = maxTurns
	}
}

// SetTurnsUsed records the number of budget turns consumed.
func (s *State) SetTurnsUsed(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.TurnsUsed = n
}

// Clear discards all session state, including the session identifier.
// The next turn will start a fresh conversation on the server.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{}
}
