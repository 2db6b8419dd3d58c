package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentdial-dev/agentdial/pkg/identity"
	"github.com/agentdial-dev/agentdial/pkg/recovery"
	"github.com/agentdial-dev/agentdial/pkg/session"
	"github.com/agentdial-dev/agentdial/pkg/timeline"
	"github.com/agentdial-dev/agentdial/pkg/transport"
)

// harness scripts the server side of the protocol over an in-memory pipe.
type harness struct {
	mu       sync.Mutex
	conn     *transport.PipeConn
	received []map[string]any
	dials    int
	dialURL  string
	dialErr  error

	// onFrame is invoked synchronously for every frame the client sends.
	onFrame func(h *harness, frame map[string]any)
}

func (h *harness) Dial(ctx context.Context, url string, handlers transport.Handlers) (transport.Conn, error) {
	h.mu.Lock()
	h.dials++
	h.dialURL = url
	err := h.dialErr
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	client, server := transport.NewPipe()
	client.SetHandlers(handlers)
	server.SetHandlers(transport.Handlers{OnMessage: func(data []byte) {
		var frame map[string]any
		_ = json.Unmarshal(data, &frame)
		h.mu.Lock()
		h.received = append(h.received, frame)
		cb := h.onFrame
		h.mu.Unlock()
		if cb != nil {
			cb(h, frame)
		}
	}})

	h.mu.Lock()
	h.conn = server
	h.mu.Unlock()
	return client, nil
}

// push sends one frame to the client.
func (h *harness) push(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	_ = conn.Send(context.Background(), data)
}

// frames returns a copy of the frames received so far.
func (h *harness) frames() []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]map[string]any, len(h.received))
	copy(out, h.received)
	return out
}

// framesOf filters received frames by discriminator.
func (h *harness) framesOf(frameType string) []map[string]any {
	var out []map[string]any
	for _, f := range h.frames() {
		if f["type"] == frameType {
			out = append(out, f)
		}
	}
	return out
}

// output builds a terminal frame correlated to the given input frame.
func output(input map[string]any, result string) map[string]any {
	return map[string]any{
		"type":     "OUTPUT",
		"input_id": input["input_id"],
		"result":   result,
		"session":  map[string]any{"session_id": "srv-session"},
	}
}

func newTestConversation(t *testing.T, h *harness, mutate func(*Config)) *Conversation {
	t.Helper()
	cfg := Config{
		AgentAddress:      "agent-1",
		RelayURL:          "https://relay.test",
		Dialer:            h,
		KeepAliveInterval: time.Hour,
		TurnTimeout:       5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	conv, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return conv
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestInputSettlesOnOutput(t *testing.T) {
	h := &harness{onFrame: func(h *harness, f map[string]any) {
		if f["type"] == "INPUT" {
			h.push(output(f, "hello back"))
		}
	}}
	conv := newTestConversation(t, h, nil)

	res, err := conv.Input(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("Input() error = %v", err)
	}
	if res.Text != "hello back" || !res.Done {
		t.Errorf("Input() = %+v", res)
	}
	if conv.Status() != StatusIdle {
		t.Errorf("Status() = %s after settlement", conv.Status())
	}
	if got := conv.Session().SessionID; got != "srv-session" {
		t.Errorf("session id = %s, want srv-session", got)
	}

	items := conv.Timeline()
	if len(items) != 2 {
		t.Fatalf("timeline = %+v", items)
	}
	if items[0].Kind != timeline.KindUser || items[1].Kind != timeline.KindAgent {
		t.Errorf("timeline kinds = %s, %s", items[0].Kind, items[1].Kind)
	}
	if items[1].Text != "hello back" {
		t.Errorf("agent item = %+v", items[1])
	}
}

func TestRelayInputEnvelope(t *testing.T) {
	h := &harness{onFrame: func(h *harness, f map[string]any) {
		if f["type"] == "INPUT" {
			h.push(output(f, "ok"))
		}
	}}
	conv := newTestConversation(t, h, nil)

	if _, err := conv.Input(context.Background(), "hi", nil); err != nil {
		t.Fatalf("Input() error = %v", err)
	}

	inputs := h.framesOf("INPUT")
	if len(inputs) != 1 {
		t.Fatalf("inputs = %d, want 1", len(inputs))
	}
	in := inputs[0]
	if in["to"] != "agent-1" {
		t.Errorf("to = %v, want agent-1", in["to"])
	}
	if in["input_id"] == "" || in["input_id"] == nil {
		t.Error("input_id missing")
	}
	sess, _ := in["session"].(map[string]any)
	if sess == nil || sess["session_id"] == "" {
		t.Errorf("session = %v", in["session"])
	}
	if h.dialURL != "https://relay.test/ws/input" {
		t.Errorf("dial URL = %s", h.dialURL)
	}
}

func TestSignedInput(t *testing.T) {
	store, err := identity.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	defer store.Close()

	h := &harness{onFrame: func(h *harness, f map[string]any) {
		if f["type"] == "INPUT" {
			h.push(output(f, "ok"))
		}
	}}
	conv := newTestConversation(t, h, func(c *Config) { c.IdentityStore = store })

	if _, err := conv.Input(context.Background(), "deploy", nil); err != nil {
		t.Fatalf("Input() error = %v", err)
	}

	in := h.framesOf("INPUT")[0]
	from, _ := in["from"].(string)
	sig, _ := in["signature"].(string)
	payload, _ := in["payload"].(map[string]any)
	if from == "" || sig == "" || payload == nil {
		t.Fatalf("input not signed: %+v", in)
	}
	if from != conv.Address() {
		t.Errorf("from = %s, want %s", from, conv.Address())
	}

	ok, err := identity.Verify(from, payload, sig)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("signature does not verify from transmitted fields")
	}
}

func TestDirectURLBypassesRelay(t *testing.T) {
	h := &harness{onFrame: func(h *harness, f map[string]any) {
		if f["type"] == "INPUT" {
			h.push(output(f, "ok"))
		}
	}}
	conv := newTestConversation(t, h, func(c *Config) {
		c.DirectURL = "https://agent.local:8443"
	})

	if _, err := conv.Input(context.Background(), "hi", nil); err != nil {
		t.Fatalf("Input() error = %v", err)
	}
	if h.dialURL != "https://agent.local:8443/ws/input" {
		t.Errorf("dial URL = %s", h.dialURL)
	}
	// Direct mode needs no relay routing field.
	if to, present := h.framesOf("INPUT")[0]["to"]; present && to != "" {
		t.Errorf("to = %v, want absent", to)
	}
}

func TestProgressFramesFoldIntoTimeline(t *testing.T) {
	h := &harness{onFrame: func(h *harness, f map[string]any) {
		if f["type"] != "INPUT" {
			return
		}
		h.push(map[string]any{"type": "tool_call", "call_id": "c1", "name": "bash", "args": "ls"})
		h.push(map[string]any{"type": "tool_result", "call_id": "c1", "status": "ok", "result": "files", "duration_ms": 5})
		h.push(output(f, "done"))
	}}
	conv := newTestConversation(t, h, nil)

	if _, err := conv.Input(context.Background(), "list files", nil); err != nil {
		t.Fatalf("Input() error = %v", err)
	}

	items := conv.Timeline()
	if len(items) != 3 {
		t.Fatalf("timeline = %+v", items)
	}
	tool := items[1]
	if tool.Kind != timeline.KindTool || tool.Status != timeline.StatusDone || tool.Text != "files" {
		t.Errorf("tool item = %+v", tool)
	}
	for _, it := range items {
		if it.Placeholder {
			t.Error("placeholder survived the turn")
		}
	}
}

func TestRelayIgnoresForeignOutput(t *testing.T) {
	h := &harness{onFrame: func(h *harness, f map[string]any) {
		if f["type"] != "INPUT" {
			return
		}
		h.push(map[string]any{"type": "OUTPUT", "input_id": "someone-else", "result": "not yours"})
		h.push(output(f, "yours"))
	}}
	conv := newTestConversation(t, h, nil)

	res, err := conv.Input(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Input() error = %v", err)
	}
	if res.Text != "yours" {
		t.Errorf("Input() = %q, settled on a foreign result", res.Text)
	}
}

func TestServerErrorFrame(t *testing.T) {
	h := &harness{onFrame: func(h *harness, f map[string]any) {
		if f["type"] == "INPUT" {
			h.push(map[string]any{"type": "ERROR", "error": "kaboom"})
		}
	}}
	conv := newTestConversation(t, h, nil)

	_, err := conv.Input(context.Background(), "hi", nil)
	if !errors.Is(err, ErrServer) {
		t.Fatalf("Input() error = %v, want ErrServer", err)
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("error %q does not carry the server message", err)
	}
}

func TestMalformedFrameFailsTurn(t *testing.T) {
	h := &harness{}
	h.onFrame = func(h *harness, f map[string]any) {
		if f["type"] == "INPUT" {
			h.mu.Lock()
			conn := h.conn
			h.mu.Unlock()
			_ = conn.Send(context.Background(), []byte(`{"type":`))
		}
	}
	conv := newTestConversation(t, h, nil)

	_, err := conv.Input(context.Background(), "hi", nil)
	if err == nil || !strings.Contains(err.Error(), "malformed frame") {
		t.Errorf("Input() error = %v, want malformed frame", err)
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	h := &harness{onFrame: func(h *harness, f map[string]any) {
		if f["type"] != "INPUT" {
			return
		}
		h.push(map[string]any{"type": "PING"})
		h.push(output(f, "ok"))
	}}
	conv := newTestConversation(t, h, nil)

	if _, err := conv.Input(context.Background(), "hi", nil); err != nil {
		t.Fatalf("Input() error = %v", err)
	}
	if len(h.framesOf("PONG")) != 1 {
		t.Errorf("frames = %v, want one PONG", h.frames())
	}
}

func TestSecondInputRejectedWhileInFlight(t *testing.T) {
	h := &harness{} // never responds
	conv := newTestConversation(t, h, nil)

	done := make(chan error, 1)
	go func() {
		_, err := conv.Input(context.Background(), "first", nil)
		done <- err
	}()
	waitFor(t, "first turn in flight", func() bool { return conv.Status() == StatusWorking })

	if _, err := conv.Input(context.Background(), "second", nil); !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("Input() error = %v, want ErrTurnInFlight", err)
	}

	h.push(output(h.framesOf("INPUT")[0], "ok"))
	if err := <-done; err != nil {
		t.Errorf("first turn error = %v", err)
	}
}

func TestTurnTimeout(t *testing.T) {
	h := &harness{} // never responds
	conv := newTestConversation(t, h, func(c *Config) {
		c.TurnTimeout = 30 * time.Millisecond
	})

	_, err := conv.Input(context.Background(), "hi", nil)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("Input() error = %v, want ErrTimedOut", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error %q does not say timed out", err)
	}
	if conv.Status() != StatusIdle {
		t.Errorf("Status() = %s after timeout", conv.Status())
	}
}

func TestWatchdogBreachFailsTurn(t *testing.T) {
	h := &harness{} // never pings
	conv := newTestConversation(t, h, func(c *Config) {
		c.KeepAliveInterval = 10 * time.Millisecond
	})

	start := time.Now()
	_, err := conv.Input(context.Background(), "hi", nil)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("Input() error = %v, want ErrTimedOut", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("watchdog took %s to fire", elapsed)
	}
}

func TestWatchdogBreachRecoversExactlyOnce(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "done", "result": "recovered answer"})
	}))
	defer srv.Close()

	h := &harness{} // never pings
	conv := newTestConversation(t, h, func(c *Config) {
		c.KeepAliveInterval = 10 * time.Millisecond
		c.RelayURL = srv.URL
		c.RecoveryEnabled = true
		c.Recovery = recovery.Config{Interval: time.Millisecond, MaxAttempts: 10}
	})

	res, err := conv.Input(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Input() error = %v, want recovery to succeed", err)
	}
	if res.Text != "recovered answer" {
		t.Errorf("result = %q", res.Text)
	}
	// Closing the breached transport fires its close handler; that path
	// must not start a second poll loop.
	if got := polls.Load(); got != 1 {
		t.Errorf("recovery polls = %d, want 1", got)
	}
}

func TestAskUserFlow(t *testing.T) {
	h := &harness{onFrame: func(h *harness, f map[string]any) {
		switch f["type"] {
		case "INPUT":
			h.push(map[string]any{"type": "ask_user", "question": "which color?"})
		case "ASK_USER_RESPONSE":
			if f["answer"] != "blue" {
				h.push(map[string]any{"type": "ERROR", "error": "wrong answer"})
				return
			}
			h.push(output(h.framesOf("INPUT")[0], "painted blue"))
		}
	}}
	conv := newTestConversation(t, h, nil)

	done := make(chan error, 1)
	var res Result
	go func() {
		var err error
		res, err = conv.Input(context.Background(), "paint it", nil)
		done <- err
	}()

	waitFor(t, "waiting on ask_user", func() bool { return conv.Status() == StatusWaiting })

	found := false
	for _, it := range conv.Timeline() {
		if it.Kind == timeline.KindAskUser && it.Text == "which color?" {
			found = true
		}
	}
	if !found {
		t.Errorf("timeline missing ask_user item: %+v", conv.Timeline())
	}

	if err := conv.Respond(context.Background(), "blue"); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Input() error = %v", err)
	}
	if res.Text != "painted blue" {
		t.Errorf("result = %q", res.Text)
	}
}

func TestApprovalFlow(t *testing.T) {
	h := &harness{onFrame: func(h *harness, f map[string]any) {
		switch f["type"] {
		case "INPUT":
			h.push(map[string]any{"type": "approval_needed", "action": "run command", "tool": "bash", "description": "rm -rf ./build"})
		case "APPROVAL_RESPONSE":
			if f["approved"] != true || f["scope"] != "once" {
				h.push(map[string]any{"type": "ERROR", "error": "unexpected approval"})
				return
			}
			h.push(output(h.framesOf("INPUT")[0], "command ran"))
		}
	}}
	conv := newTestConversation(t, h, nil)

	done := make(chan error, 1)
	go func() {
		_, err := conv.Input(context.Background(), "clean build dir", nil)
		done <- err
	}()

	waitFor(t, "waiting on approval", func() bool { return conv.Status() == StatusWaiting })
	if err := conv.RespondToApproval(context.Background(), true, "once", "", ""); err != nil {
		t.Fatalf("RespondToApproval() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Input() error = %v", err)
	}
}

func TestRespondWithoutActiveTurn(t *testing.T) {
	conv := newTestConversation(t, &harness{}, nil)
	if err := conv.Respond(context.Background(), "hello"); !errors.Is(err, ErrNoActiveTurn) {
		t.Errorf("Respond() error = %v, want ErrNoActiveTurn", err)
	}
}

func TestOnboardingAutoRetry(t *testing.T) {
	h := &harness{}
	h.onFrame = func(h *harness, f map[string]any) {
		switch f["type"] {
		case "INPUT":
			if len(h.framesOf("INPUT")) == 1 {
				h.push(map[string]any{"type": "ONBOARD_REQUIRED", "challenge": "what is the passphrase?"})
				return
			}
			h.push(output(f, "welcome aboard"))
		case "ONBOARD_SUBMIT":
			h.push(map[string]any{"type": "ONBOARD_SUCCESS", "message": "verified"})
		}
	}
	conv := newTestConversation(t, h, nil)

	done := make(chan error, 1)
	var res Result
	go func() {
		var err error
		res, err = conv.Input(context.Background(), "let me in", nil)
		done <- err
	}()

	waitFor(t, "waiting on onboarding", func() bool { return conv.Status() == StatusWaiting })
	if err := conv.SubmitOnboarding(context.Background(), "swordfish"); err != nil {
		t.Fatalf("SubmitOnboarding() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Input() error = %v", err)
	}
	if res.Text != "welcome aboard" {
		t.Errorf("result = %q", res.Text)
	}

	// The retry must reuse the original turn identity and session.
	inputs := h.framesOf("INPUT")
	if len(inputs) != 2 {
		t.Fatalf("inputs = %d, want 2", len(inputs))
	}
	if inputs[0]["input_id"] != inputs[1]["input_id"] {
		t.Errorf("input_id changed across retry: %v != %v", inputs[0]["input_id"], inputs[1]["input_id"])
	}
	s0, _ := inputs[0]["session"].(map[string]any)
	s1, _ := inputs[1]["session"].(map[string]any)
	if s0["session_id"] != s1["session_id"] {
		t.Errorf("session_id changed across retry: %v != %v", s0["session_id"], s1["session_id"])
	}
}

func TestTurnsExhaustedFlow(t *testing.T) {
	h := &harness{onFrame: func(h *harness, f map[string]any) {
		switch f["type"] {
		case "INPUT":
			h.push(map[string]any{"type": "ulw_turns_reached", "turns_used": float64(5), "max_turns": float64(5)})
		case "ULW_RESPONSE":
			if f["action"] != TurnsActionContinue {
				h.push(map[string]any{"type": "ERROR", "error": "stopped"})
				return
			}
			h.push(output(h.framesOf("INPUT")[0], "finished with extra budget"))
		}
	}}
	conv := newTestConversation(t, h, nil)

	done := make(chan error, 1)
	go func() {
		_, err := conv.Input(context.Background(), "migrate everything", nil)
		done <- err
	}()

	waitFor(t, "waiting on turn budget", func() bool { return conv.Status() == StatusWaiting })
	if got := conv.Session().TurnsUsed; got != 5 {
		t.Errorf("TurnsUsed = %d, want 5", got)
	}
	if err := conv.RespondToTurnsExhausted(context.Background(), TurnsActionContinue, 5, ""); err != nil {
		t.Fatalf("RespondToTurnsExhausted() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Input() error = %v", err)
	}
}

func TestSessionContinuityAcrossTurns(t *testing.T) {
	h := &harness{onFrame: func(h *harness, f map[string]any) {
		if f["type"] == "INPUT" {
			h.push(output(f, "ok"))
		}
	}}
	conv := newTestConversation(t, h, nil)

	ctx := context.Background()
	if _, err := conv.Input(ctx, "first", nil); err != nil {
		t.Fatalf("Input() error = %v", err)
	}
	if _, err := conv.Input(ctx, "second", nil); err != nil {
		t.Fatalf("Input() error = %v", err)
	}

	inputs := h.framesOf("INPUT")
	if len(inputs) != 2 {
		t.Fatalf("inputs = %d, want 2", len(inputs))
	}
	s1, _ := inputs[1]["session"].(map[string]any)
	if s1["session_id"] != "srv-session" {
		t.Errorf("second turn session_id = %v, want the server-established one", s1["session_id"])
	}
}

func TestModeChangedMergesIntoSession(t *testing.T) {
	h := &harness{onFrame: func(h *harness, f map[string]any) {
		if f["type"] != "INPUT" {
			return
		}
		h.push(map[string]any{"type": "mode_changed", "mode": "plan_only"})
		h.push(map[string]any{"type": "OUTPUT", "input_id": f["input_id"], "result": "ok"})
	}}
	conv := newTestConversation(t, h, nil)

	if _, err := conv.Input(context.Background(), "hi", nil); err != nil {
		t.Fatalf("Input() error = %v", err)
	}
	if got := conv.Session().Mode; got != session.ModePlanOnly {
		t.Errorf("Mode = %s, want plan_only", got)
	}
}

func TestResetSettlesInFlightTurn(t *testing.T) {
	h := &harness{} // never responds
	conv := newTestConversation(t, h, nil)

	done := make(chan error, 1)
	go func() {
		_, err := conv.Input(context.Background(), "hi", nil)
		done <- err
	}()
	waitFor(t, "turn in flight", func() bool { return conv.Status() == StatusWorking })

	conv.Reset()
	if err := <-done; !errors.Is(err, ErrReset) {
		t.Errorf("Input() error = %v, want ErrReset", err)
	}
	if conv.Session().SessionID != "" {
		t.Error("Reset() kept the session id")
	}
	if len(conv.Timeline()) != 0 {
		t.Error("Reset() kept timeline items")
	}
}

func TestRecoveryAfterTransportLoss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/sessions/") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "done", "result": "recovered answer"})
	}))
	defer srv.Close()

	h := &harness{}
	h.onFrame = func(h *harness, f map[string]any) {
		if f["type"] == "INPUT" {
			h.mu.Lock()
			conn := h.conn
			h.mu.Unlock()
			conn.CloseWithError(errors.New("relay fell over"))
		}
	}
	conv := newTestConversation(t, h, func(c *Config) {
		c.RelayURL = srv.URL
		c.RecoveryEnabled = true
		c.Recovery = recovery.Config{Interval: time.Millisecond, MaxAttempts: 10}
	})

	res, err := conv.Input(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Input() error = %v, want recovery to succeed", err)
	}
	if res.Text != "recovered answer" {
		t.Errorf("result = %q", res.Text)
	}

	items := conv.Timeline()
	if len(items) == 0 || items[len(items)-1].Text != "recovered answer" {
		t.Errorf("timeline = %+v", items)
	}
}

func TestRecoveryFailureReportsBothErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	h := &harness{}
	h.onFrame = func(h *harness, f map[string]any) {
		if f["type"] == "INPUT" {
			h.mu.Lock()
			conn := h.conn
			h.mu.Unlock()
			conn.CloseWithError(errors.New("relay fell over"))
		}
	}
	conv := newTestConversation(t, h, func(c *Config) {
		c.RelayURL = srv.URL
		c.RecoveryEnabled = true
		c.Recovery = recovery.Config{Interval: time.Millisecond, MaxAttempts: 3}
	})

	_, err := conv.Input(context.Background(), "hi", nil)
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("Input() error = %v, want ErrConnectionClosed", err)
	}
	if !strings.Contains(err.Error(), "recovery failed") {
		t.Errorf("error %q does not mention the failed recovery", err)
	}
}

func TestTransportLossWithoutRecovery(t *testing.T) {
	h := &harness{}
	h.onFrame = func(h *harness, f map[string]any) {
		if f["type"] == "INPUT" {
			h.mu.Lock()
			conn := h.conn
			h.mu.Unlock()
			conn.CloseWithError(errors.New("gone"))
		}
	}
	conv := newTestConversation(t, h, nil)

	_, err := conv.Input(context.Background(), "hi", nil)
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Input() error = %v, want ErrConnectionClosed", err)
	}
}

func TestDialFailure(t *testing.T) {
	h := &harness{dialErr: errors.New("no route to host")}
	conv := newTestConversation(t, h, nil)

	_, err := conv.Input(context.Background(), "hi", nil)
	if err == nil || !strings.Contains(err.Error(), "open transport") {
		t.Errorf("Input() error = %v", err)
	}
	if conv.Status() != StatusIdle {
		t.Errorf("Status() = %s", conv.Status())
	}
}

func TestContextCancellationAbandonsTurn(t *testing.T) {
	h := &harness{} // never responds
	conv := newTestConversation(t, h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := conv.Input(ctx, "hi", nil)
		done <- err
	}()
	waitFor(t, "turn in flight", func() bool { return conv.Status() == StatusWorking })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Input() error = %v, want context.Canceled", err)
	}
}
