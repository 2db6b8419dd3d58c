package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/agentdial-dev/agentdial/pkg/conversation"
	"github.com/agentdial-dev/agentdial/pkg/session"
	"github.com/agentdial-dev/agentdial/pkg/timeline"
)

// newChatCmd starts an interactive multi-turn session.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session with an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openIdentityStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			conv, err := openConversation(cfg, store)
			if err != nil {
				return err
			}

			return runWithObservability(cfg, store, func(ctx context.Context) error {
				return runRepl(ctx, conv)
			})
		},
	}
	return cmd
}

// repl drives the line editor and renders timeline items as they appear.
type repl struct {
	conv *conversation.Conversation
	line *liner.State

	// rendered tracks how many timeline items have been printed, and
	// prompted how many waiting items have been answered.
	rendered int
	prompted int
}

func runRepl(ctx context.Context, conv *conversation.Conversation) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	r := &repl{conv: conv, line: line}

	fmt.Println("Type a message, or /help for commands.")
	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := line.Prompt("> ")
		if err != nil {
			if err == liner.ErrPromptAborted || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if done := r.command(ctx, input); done {
				return nil
			}
			continue
		}

		if err := r.turn(ctx, input); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Println("Error:", err)
		}
	}
}

// command handles a slash command; it returns true when the REPL should
// exit.
func (r *repl) command(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/reset":
		r.conv.Reset()
		r.rendered = 0
		r.prompted = 0
		fmt.Println("Session reset.")

	case "/status":
		snap := r.conv.Session()
		fmt.Printf("Status: %s\n", r.conv.Status())
		fmt.Printf("Session: %s\n", snap.SessionID)
		if snap.Mode != "" {
			fmt.Printf("Mode: %s\n", snap.Mode)
		}
		if addr := r.conv.Address(); addr != "" {
			fmt.Printf("Address: %s\n", addr)
		}

	case "/mode":
		if len(fields) < 2 {
			fmt.Println("Usage: /mode <ask_always|plan_only|auto_edit|unattended> [turns]")
			return false
		}
		turns := 0
		if len(fields) > 2 {
			turns, _ = strconv.Atoi(fields[2])
		}
		if err := r.conv.SetMode(ctx, session.Mode(fields[1]), turns); err != nil {
			fmt.Println("Error:", err)
		}

	case "/help":
		fmt.Println("/reset   discard the session and start fresh")
		fmt.Println("/status  show session status")
		fmt.Println("/mode    request an execution-mode switch")
		fmt.Println("/quit    exit")

	default:
		fmt.Println("Unknown command; /help lists commands.")
	}
	return false
}

// turn submits one turn and services its interactive sub-protocols until
// settlement.
func (r *repl) turn(ctx context.Context, prompt string) error {
	done := make(chan error, 1)
	go func() {
		_, err := r.conv.Input(ctx, prompt, nil)
		done <- err
	}()

	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			r.render()
			return err
		case <-ticker.C:
			r.render()
			if r.conv.Status() == conversation.StatusWaiting {
				if err := r.answer(ctx); err != nil {
					fmt.Println("Error:", err)
				}
			}
		}
	}
}

// render prints timeline items that appeared since the last call.
func (r *repl) render() {
	items := r.conv.Timeline()
	for ; r.rendered < len(items); r.rendered++ {
		printItem(items[r.rendered])
	}
}

// answer services the most recent unanswered waiting item.
func (r *repl) answer(ctx context.Context) error {
	items := r.conv.Timeline()
	idx := -1
	for i := len(items) - 1; i >= 0; i-- {
		switch items[i].Kind {
		case timeline.KindAskUser, timeline.KindApproval, timeline.KindOnboard, timeline.KindTurnsExhausted:
			idx = i
		}
		if idx >= 0 {
			break
		}
	}
	if idx < 0 || idx < r.prompted {
		return nil
	}
	r.prompted = idx + 1

	it := items[idx]
	switch it.Kind {
	case timeline.KindAskUser:
		answer, err := r.line.Prompt("answer> ")
		if err != nil {
			return err
		}
		return r.conv.Respond(ctx, strings.TrimSpace(answer))

	case timeline.KindApproval:
		reply, err := r.line.Prompt("approve? [y]es/[a]lways/[n]o> ")
		if err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(reply)) {
		case "y", "yes":
			return r.conv.RespondToApproval(ctx, true, "once", "", "")
		case "a", "always":
			return r.conv.RespondToApproval(ctx, true, "always", "", "")
		default:
			feedback, err := r.line.Prompt("feedback (optional)> ")
			if err != nil {
				return err
			}
			return r.conv.RespondToApproval(ctx, false, "", "", strings.TrimSpace(feedback))
		}

	case timeline.KindOnboard:
		answer, err := r.line.Prompt("onboarding answer> ")
		if err != nil {
			return err
		}
		return r.conv.SubmitOnboarding(ctx, strings.TrimSpace(answer))

	case timeline.KindTurnsExhausted:
		reply, err := r.line.Prompt("grant more turns? [n of turns / stop]> ")
		if err != nil {
			return err
		}
		reply = strings.TrimSpace(reply)
		if n, err := strconv.Atoi(reply); err == nil && n > 0 {
			return r.conv.RespondToTurnsExhausted(ctx, conversation.TurnsActionContinue, n, "")
		}
		return r.conv.RespondToTurnsExhausted(ctx, conversation.TurnsActionStop, 0, "")
	}
	return nil
}

// printItem renders one timeline item.
func printItem(it timeline.Item) {
	switch it.Kind {
	case timeline.KindUser:
		// The user just typed it; no echo.

	case timeline.KindAgent:
		if it.Text != "" {
			fmt.Println(it.Text)
		}
		for range it.Images {
			fmt.Println("[image]")
		}

	case timeline.KindThinking:
		if it.Placeholder {
			return
		}
		if it.Text != "" {
			fmt.Printf("  · thinking: %s\n", it.Text)
		} else {
			fmt.Println("  · thinking...")
		}

	case timeline.KindTool:
		fmt.Printf("  · tool %s\n", it.ToolName)

	case timeline.KindToolBlocked:
		fmt.Printf("  · tool %s blocked: %s\n", it.ToolName, it.Text)

	case timeline.KindAskUser:
		fmt.Printf("? %s\n", it.Text)

	case timeline.KindApproval:
		fmt.Printf("! approval needed: %s", it.Text)
		if it.ToolName != "" {
			fmt.Printf(" (%s)", it.ToolName)
		}
		fmt.Println()
		if it.Detail != "" {
			fmt.Printf("  %s\n", it.Detail)
		}

	case timeline.KindOnboard:
		fmt.Printf("! onboarding required: %s\n", it.Text)
		if it.Detail != "" {
			fmt.Printf("  %s\n", it.Detail)
		}

	case timeline.KindOnboardResolved:
		fmt.Printf("  · %s\n", it.Text)

	case timeline.KindTurnsExhausted:
		fmt.Printf("! turn budget exhausted (%d/%d)\n", it.TurnsUsed, it.MaxTurns)

	case timeline.KindIntent:
		if it.Detail != "" {
			fmt.Printf("  · intent: %s\n", it.Detail)
		}

	case timeline.KindEval:
		if it.Status == timeline.StatusDone {
			verdict := "failed"
			if it.Passed {
				verdict = "passed"
			}
			fmt.Printf("  · eval %s: %s\n", verdict, it.Text)
		}

	case timeline.KindCompact:
		if it.Status == timeline.StatusDone {
			fmt.Printf("  · compacted context (%d -> %d tokens)\n", it.BeforeTokens, it.AfterTokens)
		}
	}
}
