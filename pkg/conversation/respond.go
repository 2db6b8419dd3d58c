package conversation

import (
	"context"
	"fmt"

	"github.com/agentdial-dev/agentdial/pkg/session"
	"github.com/agentdial-dev/agentdial/pkg/wire"
)

// ULW_RESPONSE actions for RespondToTurnsExhausted.
const (
	TurnsActionContinue = "continue"
	TurnsActionStop     = "stop"
)

// activeConn returns the open transport of the in-flight turn, or
// ErrNoActiveTurn when there is none. Interactive responses ride the same
// connection the turn was submitted on; they never open a new one.
func (c *Conversation) activeConn() (*turnState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == nil || c.turn.conn == nil {
		return nil, ErrNoActiveTurn
	}
	return c.turn, nil
}

// send encodes and sends one frame on the active turn's transport.
func (c *Conversation) send(ctx context.Context, frame any) error {
	t, err := c.activeConn()
	if err != nil {
		return err
	}
	data, err := wire.Encode(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := t.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNoActiveTurn
	}
	if err := conn.Send(ctx, data); err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	return nil
}

// Respond answers a pending ask_user question. The turn resumes working;
// settlement still comes from a later terminal frame.
func (c *Conversation) Respond(ctx context.Context, answer string) error {
	if err := c.send(ctx, wire.NewAskUserResponse(answer)); err != nil {
		return err
	}
	c.setStatus(StatusWorking)
	return nil
}

// RespondToApproval grants or denies a pending permission request. scope
// widens a grant ("once", "always"); mode and feedback are optional
// refinements carried through verbatim. Local session state is not touched;
// any resulting mode change arrives back as a mode_changed frame.
func (c *Conversation) RespondToApproval(ctx context.Context, approved bool, scope string, mode session.Mode, feedback string) error {
	if err := c.send(ctx, wire.NewApprovalResponse(approved, scope, mode, feedback)); err != nil {
		return err
	}
	c.setStatus(StatusWorking)
	return nil
}

// SubmitOnboarding answers a pending onboarding challenge with a signed
// submission. The turn stays in waiting until the server resolves the
// challenge; on ONBOARD_SUCCESS the stashed input is resent automatically.
func (c *Conversation) SubmitOnboarding(ctx context.Context, answer string) error {
	c.mu.Lock()
	ident := c.ident
	c.mu.Unlock()

	sub, err := wire.NewOnboardSubmit(answer, ident)
	if err != nil {
		return err
	}
	return c.send(ctx, sub)
}

// RespondToTurnsExhausted answers a turn-budget-exhausted notice. action is
// TurnsActionContinue or TurnsActionStop; turns grants a fresh budget and
// mode optionally switches execution mode at the same time.
func (c *Conversation) RespondToTurnsExhausted(ctx context.Context, action string, turns int, mode session.Mode) error {
	if err := c.send(ctx, wire.NewULWResponse(action, turns, mode)); err != nil {
		return err
	}
	if action == TurnsActionContinue {
		c.setStatus(StatusWorking)
	}
	return nil
}

// SetMode requests an execution-mode switch mid-turn. The local session is
// left untouched; the authoritative mode arrives back as a mode_changed
// frame.
func (c *Conversation) SetMode(ctx context.Context, mode session.Mode, turns int) error {
	return c.send(ctx, wire.NewModeChange(mode, turns))
}

// EditPrompt revises the pending prompt while the agent is waiting on user
// input.
func (c *Conversation) EditPrompt(ctx context.Context, prompt string) error {
	return c.send(ctx, wire.NewEditPrompt(prompt))
}
