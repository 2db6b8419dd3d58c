package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentdial-dev/agentdial/pkg/identity"
	"github.com/agentdial-dev/agentdial/pkg/session"
)

// Outbound frame discriminator values.
const (
	TypeInput            = "INPUT"
	TypePong             = "PONG"
	TypeAskUserResponse  = "ASK_USER_RESPONSE"
	TypeApprovalResponse = "APPROVAL_RESPONSE"
	TypeOnboardSubmit    = "ONBOARD_SUBMIT"
	TypeULWResponse      = "ULW_RESPONSE"
	TypeModeChange       = "mode_change"
	TypeEditPrompt       = "edit_prompt"
)

// Input is the outbound turn-submission frame. When a signing identity is
// available it carries a signed envelope: the natural-order payload, the
// signer's address, and a detached signature over the canonical form of the
// payload. Without an identity it degrades to the bare prompt.
type Input struct {
	Type      string           `json:"type"`
	InputID   string           `json:"input_id"`
	Prompt    string           `json:"prompt"`
	Payload   map[string]any   `json:"payload,omitempty"`
	From      string           `json:"from,omitempty"`
	Signature string           `json:"signature,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
	To        string           `json:"to,omitempty"`
	Images    []string         `json:"images,omitempty"`
	Session   session.Snapshot `json:"session"`
}

// NewInput builds a turn-submission frame. to is the agent address and is
// only set in relay mode. id may be nil, in which case the frame is sent
// unsigned; best-effort auth is deliberate, not a failure.
func NewInput(inputID, prompt string, images []string, to string, snap session.Snapshot, id *identity.Identity) (*Input, error) {
	in := &Input{
		Type:    TypeInput,
		InputID: inputID,
		Prompt:  prompt,
		Images:  images,
		To:      to,
		Session: snap,
	}
	if id == nil {
		return in, nil
	}

	ts := time.Now().UTC().Format(time.RFC3339Nano)
	payload := map[string]any{
		"prompt":    prompt,
		"timestamp": ts,
	}
	if to != "" {
		payload["to"] = to
	}

	sig, err := id.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign input: %w", err)
	}

	in.Payload = payload
	in.From = id.Address
	in.Signature = sig
	// Timestamp is duplicated at the top level for quick access on the
	// receiving side.
	in.Timestamp = ts
	return in, nil
}

// Pong acknowledges a server liveness check.
type Pong struct {
	Type string `json:"type"`
}

// NewPong builds a keep-alive acknowledgment.
func NewPong() Pong {
	return Pong{Type: TypePong}
}

// AskUserResponse answers a question posed by the agent.
type AskUserResponse struct {
	Type   string `json:"type"`
	Answer string `json:"answer"`
}

// NewAskUserResponse builds an answer to an ask_user frame.
func NewAskUserResponse(answer string) AskUserResponse {
	return AskUserResponse{Type: TypeAskUserResponse, Answer: answer}
}

// ApprovalResponse grants or denies a pending permission request.
type ApprovalResponse struct {
	Type     string       `json:"type"`
	Approved bool         `json:"approved"`
	Scope    string       `json:"scope,omitempty"`
	Mode     session.Mode `json:"mode,omitempty"`
	Feedback string       `json:"feedback,omitempty"`
}

// NewApprovalResponse builds a reply to an approval_needed frame.
func NewApprovalResponse(approved bool, scope string, mode session.Mode, feedback string) ApprovalResponse {
	return ApprovalResponse{
		Type:     TypeApprovalResponse,
		Approved: approved,
		Scope:    scope,
		Mode:     mode,
		Feedback: feedback,
	}
}

// OnboardSubmit answers an onboarding challenge with a signed envelope.
type OnboardSubmit struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	From      string         `json:"from,omitempty"`
	Signature string         `json:"signature,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// NewOnboardSubmit builds a signed onboarding submission. id may be nil,
// producing an unsigned submission the server is free to reject.
func NewOnboardSubmit(answer string, id *identity.Identity) (*OnboardSubmit, error) {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	payload := map[string]any{
		"answer":    answer,
		"timestamp": ts,
	}

	sub := &OnboardSubmit{
		Type:      TypeOnboardSubmit,
		Payload:   payload,
		Timestamp: ts,
	}
	if id == nil {
		return sub, nil
	}

	sig, err := id.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign onboarding submission: %w", err)
	}
	sub.From = id.Address
	sub.Signature = sig
	return sub, nil
}

// ULWResponse answers a turn-budget-exhausted frame: continue with a fresh
// budget, switch modes, or stop.
type ULWResponse struct {
	Type   string       `json:"type"`
	Action string       `json:"action"`
	Turns  int          `json:"turns,omitempty"`
	Mode   session.Mode `json:"mode,omitempty"`
}

// NewULWResponse builds a reply to a ulw_turns_reached frame.
func NewULWResponse(action string, turns int, mode session.Mode) ULWResponse {
	return ULWResponse{Type: TypeULWResponse, Action: action, Turns: turns, Mode: mode}
}

// ModeChange requests an execution-mode switch mid-turn.
type ModeChange struct {
	Type  string       `json:"type"`
	Mode  session.Mode `json:"mode"`
	Turns int          `json:"turns,omitempty"`
}

// NewModeChange builds a mode-change request.
func NewModeChange(mode session.Mode, turns int) ModeChange {
	return ModeChange{Type: TypeModeChange, Mode: mode, Turns: turns}
}

// EditPrompt revises the pending prompt while the agent is waiting on user
// input.
type EditPrompt struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

// NewEditPrompt builds a prompt-edit frame.
func NewEditPrompt(prompt string) EditPrompt {
	return EditPrompt{Type: TypeEditPrompt, Prompt: prompt}
}

// Encode serializes an outbound frame.
func Encode(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}
