// Package wire defines the framed JSON protocol spoken between the client
// and a remote agent, either directly or through a relay. Every inbound
// frame carries a "type" discriminator; Decode maps each discriminator to
// exactly one Frame variant.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/agentdial-dev/agentdial/pkg/session"
)

// Inbound frame discriminator values.
const (
	TypePing            = "PING"
	TypeSessionSync     = "session_sync"
	TypeModeChanged     = "mode_changed"
	TypeTurnsReached    = "ulw_turns_reached"
	TypeLLMCall         = "llm_call"
	TypeLLMResult       = "llm_result"
	TypeToolCall        = "tool_call"
	TypeToolResult      = "tool_result"
	TypeThinking        = "thinking"
	TypeAssistant       = "assistant"
	TypeAgentImage      = "agent_image"
	TypeIntent          = "intent"
	TypeEval            = "eval"
	TypeCompact         = "compact"
	TypeToolBlocked     = "tool_blocked"
	TypeAskUser         = "ask_user"
	TypeApprovalNeeded  = "approval_needed"
	TypeOnboardRequired = "ONBOARD_REQUIRED"
	TypeOnboardSuccess  = "ONBOARD_SUCCESS"
	TypeOutput          = "OUTPUT"
	TypeError           = "ERROR"
)

// Frame is one decoded inbound frame. Exactly one concrete type exists per
// discriminator value.
type Frame interface {
	// FrameType returns the wire discriminator for this frame.
	FrameType() string
}

// Ping is a server liveness check. The client must echo a PONG immediately.
type Ping struct{}

// SessionSync replaces the client session state wholesale.
type SessionSync struct {
	Session session.Snapshot
}

// ModeChanged merges a new execution mode into the session.
type ModeChanged struct {
	Mode     session.Mode
	MaxTurns int
}

// TurnsReached signals the unattended turn budget is exhausted; the server
// holds the transport open and waits for a ULW_RESPONSE.
type TurnsReached struct {
	TurnsUsed int
	MaxTurns  int
}

// LLMCall marks the start of a reasoning step against a model.
type LLMCall struct {
	Model   string
	Session *session.Snapshot
}

// LLMResult completes a reasoning step started by LLMCall or Thinking.
type LLMResult struct {
	Model      string
	Status     string
	DurationMS int64
	Tokens     int
	ContextPct float64
	Session    *session.Snapshot
}

// ToolCall marks the start of a tool invocation.
type ToolCall struct {
	CallID  string
	Name    string
	Args    string
	Session *session.Snapshot
}

// ToolResult completes a tool invocation started by ToolCall.
type ToolResult struct {
	CallID     string
	Status     string
	Result     string
	DurationMS int64
	Session    *session.Snapshot
}

// Thinking marks the start of a model thinking step.
type Thinking struct {
	Model   string
	Text    string
	Session *session.Snapshot
}

// Assistant carries intermediate assistant text.
type Assistant struct {
	ID      string
	Content string
	Session *session.Snapshot
}

// AgentImage attaches an image to the most recent agent message.
type AgentImage struct {
	Image   string
	Session *session.Snapshot
}

// Intent carries intent-classification progress.
type Intent struct {
	ID      string
	Status  string
	Text    string
	Session *session.Snapshot
}

// Eval carries evaluation progress.
type Eval struct {
	ID      string
	Status  string
	Passed  bool
	Summary string
	Session *session.Snapshot
}

// Compact carries context-compaction progress.
type Compact struct {
	ID           string
	Status       string
	BeforeTokens int
	AfterTokens  int
	Session      *session.Snapshot
}

// ToolBlocked reports a tool invocation refused by policy.
type ToolBlocked struct {
	Name    string
	Reason  string
	Session *session.Snapshot
}

// AskUser poses a question to the user; the transport stays open until the
// client sends an ASK_USER_RESPONSE.
type AskUser struct {
	Question string
}

// ApprovalNeeded requests user approval for an action; the transport stays
// open until the client sends an APPROVAL_RESPONSE.
type ApprovalNeeded struct {
	Action      string
	Tool        string
	Description string
}

// OnboardRequired challenges an unknown client identity; the transport stays
// open until the client sends an ONBOARD_SUBMIT.
type OnboardRequired struct {
	Challenge string
	URL       string
}

// OnboardSuccess resolves an onboarding challenge.
type OnboardSuccess struct {
	Message string
}

// Output is the terminal result of a turn.
type Output struct {
	InputID string
	Result  string
	Session *session.Snapshot
}

// ErrorFrame is an explicit, authoritative server error for the turn.
type ErrorFrame struct {
	Message string
}

func (Ping) FrameType() string            { return TypePing }
func (SessionSync) FrameType() string     { return TypeSessionSync }
func (ModeChanged) FrameType() string     { return TypeModeChanged }
func (TurnsReached) FrameType() string    { return TypeTurnsReached }
func (LLMCall) FrameType() string         { return TypeLLMCall }
func (LLMResult) FrameType() string       { return TypeLLMResult }
func (ToolCall) FrameType() string        { return TypeToolCall }
func (ToolResult) FrameType() string      { return TypeToolResult }
func (Thinking) FrameType() string        { return TypeThinking }
func (Assistant) FrameType() string       { return TypeAssistant }
func (AgentImage) FrameType() string      { return TypeAgentImage }
func (Intent) FrameType() string          { return TypeIntent }
func (Eval) FrameType() string            { return TypeEval }
func (Compact) FrameType() string         { return TypeCompact }
func (ToolBlocked) FrameType() string     { return TypeToolBlocked }
func (AskUser) FrameType() string         { return TypeAskUser }
func (ApprovalNeeded) FrameType() string  { return TypeApprovalNeeded }
func (OnboardRequired) FrameType() string { return TypeOnboardRequired }
func (OnboardSuccess) FrameType() string  { return TypeOnboardSuccess }
func (Output) FrameType() string          { return TypeOutput }
func (ErrorFrame) FrameType() string      { return TypeError }

// SessionOf returns the session snapshot piggy-backed on a progress frame,
// or nil when the frame carries none.
func SessionOf(f Frame) *session.Snapshot {
	switch v := f.(type) {
	case LLMCall:
		return v.Session
	case LLMResult:
		return v.Session
	case ToolCall:
		return v.Session
	case ToolResult:
		return v.Session
	case Thinking:
		return v.Session
	case Assistant:
		return v.Session
	case AgentImage:
		return v.Session
	case Intent:
		return v.Session
	case Eval:
		return v.Session
	case Compact:
		return v.Session
	case ToolBlocked:
		return v.Session
	case Output:
		return v.Session
	default:
		return nil
	}
}

// rawFrame is the superset of fields any inbound frame may carry.
type rawFrame struct {
	Type string `json:"type"`

	Session *session.Snapshot `json:"session,omitempty"`
	Mode    session.Mode      `json:"mode,omitempty"`

	MaxTurns  int `json:"max_turns,omitempty"`
	TurnsUsed int `json:"turns_used,omitempty"`

	ID     string `json:"id,omitempty"`
	CallID string `json:"call_id,omitempty"`
	Model  string `json:"model,omitempty"`
	Status string `json:"status,omitempty"`

	Name   string `json:"name,omitempty"`
	Args   string `json:"args,omitempty"`
	Result string `json:"result,omitempty"`
	Reason string `json:"reason,omitempty"`

	DurationMS int64   `json:"duration_ms,omitempty"`
	Tokens     int     `json:"tokens,omitempty"`
	ContextPct float64 `json:"context_pct,omitempty"`

	Content string `json:"content,omitempty"`
	Text    string `json:"text,omitempty"`
	Image   string `json:"image,omitempty"`

	Passed       bool `json:"passed,omitempty"`
	BeforeTokens int  `json:"before_tokens,omitempty"`
	AfterTokens  int  `json:"after_tokens,omitempty"`

	Question    string `json:"question,omitempty"`
	Action      string `json:"action,omitempty"`
	Tool        string `json:"tool,omitempty"`
	Description string `json:"description,omitempty"`

	Challenge string `json:"challenge,omitempty"`
	URL       string `json:"url,omitempty"`
	Message   string `json:"message,omitempty"`

	InputID string `json:"input_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Decode parses one inbound frame. A malformed frame or an unknown
// discriminator is a protocol error; the turn controller fails the turn on
// either, with no retry.
func Decode(data []byte) (Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch raw.Type {
	case TypePing:
		return Ping{}, nil
	case TypeSessionSync:
		if raw.Session == nil {
			return nil, fmt.Errorf("malformed frame: %s without session", TypeSessionSync)
		}
		return SessionSync{Session: *raw.Session}, nil
	case TypeModeChanged:
		return ModeChanged{Mode: raw.Mode, MaxTurns: raw.MaxTurns}, nil
	case TypeTurnsReached:
		return TurnsReached{TurnsUsed: raw.TurnsUsed, MaxTurns: raw.MaxTurns}, nil
	case TypeLLMCall:
		return LLMCall{Model: raw.Model, Session: raw.Session}, nil
	case TypeLLMResult:
		return LLMResult{
			Model:      raw.Model,
			Status:     raw.Status,
			DurationMS: raw.DurationMS,
			Tokens:     raw.Tokens,
			ContextPct: raw.ContextPct,
			Session:    raw.Session,
		}, nil
	case TypeToolCall:
		return ToolCall{CallID: raw.CallID, Name: raw.Name, Args: raw.Args, Session: raw.Session}, nil
	case TypeToolResult:
		return ToolResult{
			CallID:     raw.CallID,
			Status:     raw.Status,
			Result:     raw.Result,
			DurationMS: raw.DurationMS,
			Session:    raw.Session,
		}, nil
	case TypeThinking:
		return Thinking{Model: raw.Model, Text: raw.Text, Session: raw.Session}, nil
	case TypeAssistant:
		return Assistant{ID: raw.ID, Content: raw.Content, Session: raw.Session}, nil
	case TypeAgentImage:
		return AgentImage{Image: raw.Image, Session: raw.Session}, nil
	case TypeIntent:
		return Intent{ID: raw.ID, Status: raw.Status, Text: raw.Text, Session: raw.Session}, nil
	case TypeEval:
		return Eval{ID: raw.ID, Status: raw.Status, Passed: raw.Passed, Summary: raw.Text, Session: raw.Session}, nil
	case TypeCompact:
		return Compact{
			ID:           raw.ID,
			Status:       raw.Status,
			BeforeTokens: raw.BeforeTokens,
			AfterTokens:  raw.AfterTokens,
			Session:      raw.Session,
		}, nil
	case TypeToolBlocked:
		return ToolBlocked{Name: raw.Name, Reason: raw.Reason, Session: raw.Session}, nil
	case TypeAskUser:
		q := raw.Question
		if q == "" {
			q = raw.Text
		}
		return AskUser{Question: q}, nil
	case TypeApprovalNeeded:
		return ApprovalNeeded{Action: raw.Action, Tool: raw.Tool, Description: raw.Description}, nil
	case TypeOnboardRequired:
		return OnboardRequired{Challenge: raw.Challenge, URL: raw.URL}, nil
	case TypeOnboardSuccess:
		return OnboardSuccess{Message: raw.Message}, nil
	case TypeOutput:
		return Output{InputID: raw.InputID, Result: raw.Result, Session: raw.Session}, nil
	case TypeError:
		msg := raw.Error
		if msg == "" {
			msg = raw.Message
		}
		return ErrorFrame{Message: msg}, nil
	default:
		return nil, fmt.Errorf("unknown frame type %q", raw.Type)
	}
}
