// Package conversation implements the turn controller: one full
// request/response cycle against a remote agent, including transport
// selection, liveness monitoring, interactive sub-protocols, and fallback
// to pull-based recovery when the push transport dies.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	tracing "github.com/agentdial-dev/agentdial/internal/observability"
	"github.com/agentdial-dev/agentdial/pkg/identity"
	"github.com/agentdial-dev/agentdial/pkg/observability"
	"github.com/agentdial-dev/agentdial/pkg/recovery"
	"github.com/agentdial-dev/agentdial/pkg/resolve"
	"github.com/agentdial-dev/agentdial/pkg/session"
	"github.com/agentdial-dev/agentdial/pkg/timeline"
	"github.com/agentdial-dev/agentdial/pkg/transport"
	"github.com/agentdial-dev/agentdial/pkg/wire"
)

// Status is the externally visible turn-controller state.
type Status string

const (
	// StatusIdle means no turn is in flight.
	StatusIdle Status = "idle"
	// StatusWorking means a turn is in flight and the agent is making
	// progress.
	StatusWorking Status = "working"
	// StatusWaiting means the agent is blocked on user input; the
	// transport is deliberately held open.
	StatusWaiting Status = "waiting"
)

var (
	// ErrTurnInFlight is returned when Input is called while a previous
	// turn has not settled.
	ErrTurnInFlight = errors.New("a turn is already in flight")
	// ErrNoActiveTurn is returned when an interactive response is sent
	// with no open transport to carry it.
	ErrNoActiveTurn = errors.New("no active turn with an open transport")
	// ErrReset is the settlement error for a turn abandoned by Reset.
	ErrReset = errors.New("conversation reset")
	// ErrTimedOut is the settlement error for overall-timeout expiry and
	// liveness watchdog breaches.
	ErrTimedOut = errors.New("turn timed out")
	// ErrConnectionClosed is the settlement error when the transport
	// closes before a terminal frame.
	ErrConnectionClosed = errors.New("connection closed before result")
	// ErrServer wraps an explicit ERROR frame from the server.
	ErrServer = errors.New("server error")
)

// Result is the terminal outcome of a successful turn.
type Result struct {
	Text string
	Done bool
}

// Config configures a Conversation.
type Config struct {
	// AgentAddress is the stable identifier of the remote agent.
	AgentAddress string

	// RelayURL is the relay base used when no direct endpoint is
	// available. Accepts the bare base or /ws and /ws/announce variants.
	RelayURL string

	// DirectURL, when set, bypasses endpoint resolution entirely and is
	// always preferred.
	DirectURL string

	// DirectoryURL enables direct-endpoint resolution when set.
	DirectoryURL string

	// Dialer opens the duplex transport (default: websocket).
	Dialer transport.Dialer

	// IdentityStore supplies the signing identity. Optional: without it
	// turns are submitted unsigned.
	IdentityStore identity.Store

	// IdentityName selects the stored identity (default: "default").
	IdentityName string

	// KeepAliveInterval is the expected server PING cadence (default: 15s).
	KeepAliveInterval time.Duration

	// LivenessThreshold is how long without a PING counts as a dead
	// connection (default: 3x KeepAliveInterval).
	LivenessThreshold time.Duration

	// WatchdogTick is the liveness check interval (default:
	// KeepAliveInterval / 3).
	WatchdogTick time.Duration

	// TurnTimeout bounds a whole turn (default: 2m).
	TurnTimeout time.Duration

	// RecoveryEnabled turns on pull-based recovery after transport
	// failures.
	RecoveryEnabled bool

	// Recovery configures the recovery poller.
	Recovery recovery.Config

	// ProbeTimeout bounds each resolution probe (default: 2s).
	ProbeTimeout time.Duration

	// HTTPClient is shared by resolution and recovery (optional).
	HTTPClient *http.Client

	// Logger receives engine diagnostics (optional).
	Logger *log.Logger
}

// Conversation drives turns against one remote agent. Resolution results
// and the loaded identity are owned here, scoped to the conversation
// lifetime. Safe for concurrent use, but only one turn may be in flight at
// a time.
type Conversation struct {
	cfg    Config
	logger *log.Logger
	dialer transport.Dialer

	resolver *resolve.Resolver
	poller   *recovery.Poller

	sess *session.State
	tl   *timeline.Timeline

	mu           sync.Mutex
	status       Status
	ident        *identity.Identity
	identTried   bool
	resolved     *resolve.Endpoint
	resolveTried bool
	turn         *turnState
}

// turnState is the ephemeral per-turn bookkeeping. It exists only for the
// duration of one Input call.
type turnState struct {
	inputID string
	prompt  string
	images  []string
	relay   bool
	started time.Time

	conn transport.Conn

	lastPing     time.Time
	watchdogStop chan struct{}
	timeout      *time.Timer

	// settled guards the single settlement point: the first writer wins
	// and every later settlement attempt is a no-op.
	settled bool
	// settling marks a failure already in progress. Closing the transport
	// below fires its OnClose handler, which re-enters failOrRecover; the
	// flag keeps that re-entry from replacing the original cause or
	// starting a second recovery poll.
	settling bool
	done    chan struct{}
	result  Result
	err     error

	stash *onboardStash
}

// onboardStash holds the pending input for auto-retry after an onboarding
// challenge resolves.
type onboardStash struct {
	prompt    string
	images    []string
	inputID   string
	sessionID string
}

// New creates a conversation for one remote agent.
func New(cfg Config) (*Conversation, error) {
	if cfg.AgentAddress == "" && cfg.DirectURL == "" {
		return nil, errors.New("either AgentAddress or DirectURL is required")
	}
	if cfg.RelayURL == "" && cfg.DirectURL == "" {
		return nil, errors.New("RelayURL is required unless DirectURL is set")
	}

	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 15 * time.Second
	}
	if cfg.LivenessThreshold <= 0 {
		cfg.LivenessThreshold = 3 * cfg.KeepAliveInterval
	}
	if cfg.WatchdogTick <= 0 {
		cfg.WatchdogTick = cfg.KeepAliveInterval / 3
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}
	if cfg.Dialer == nil {
		cfg.Dialer = transport.NewWebsocketDialer()
	}
	if cfg.IdentityName == "" {
		cfg.IdentityName = identity.DefaultName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &Conversation{
		cfg:    cfg,
		logger: logger,
		dialer: cfg.Dialer,
		sess:   session.NewState(),
		tl:     timeline.New(),
		status: StatusIdle,
	}

	if cfg.DirectoryURL != "" {
		c.resolver = resolve.NewResolver(resolve.Config{
			DirectoryURL: cfg.DirectoryURL,
			ProbeTimeout: cfg.ProbeTimeout,
			HTTPClient:   cfg.HTTPClient,
			Logger:       logger,
		})
	}
	if cfg.RecoveryEnabled {
		rcfg := cfg.Recovery
		if rcfg.HTTPClient == nil {
			rcfg.HTTPClient = cfg.HTTPClient
		}
		if rcfg.Logger == nil {
			rcfg.Logger = logger
		}
		c.poller = recovery.NewPoller(rcfg)
	}

	return c, nil
}

// Status returns the current turn-controller state.
func (c *Conversation) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Session returns a read-only snapshot of the session state.
func (c *Conversation) Session() session.Snapshot {
	return c.sess.Snapshot()
}

// Timeline returns a deep-copied snapshot of the UI item sequence.
func (c *Conversation) Timeline() []timeline.Item {
	return c.tl.Snapshot()
}

// TimelineVersion returns the timeline mutation counter, letting render
// loops skip redundant redraws.
func (c *Conversation) TimelineVersion() uint64 {
	return c.tl.Version()
}

// Address returns the local signing address, or empty before the first
// turn loads or generates the identity.
func (c *Conversation) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ident == nil {
		return ""
	}
	return c.ident.Address
}

// InputOptions carries optional arguments for Input.
type InputOptions struct {
	// Images are base64 data URLs attached to the prompt.
	Images []string
}

// Input submits one conversational turn and blocks until it settles. Only
// one turn may be in flight per conversation; a second call while one is
// outstanding returns ErrTurnInFlight.
func (c *Conversation) Input(ctx context.Context, prompt string, opts *InputOptions) (Result, error) {
	if opts == nil {
		opts = &InputOptions{}
	}

	t := &turnState{
		inputID:      uuid.New().String(),
		prompt:       prompt,
		images:       opts.Images,
		started:      time.Now(),
		lastPing:     time.Now(),
		watchdogStop: make(chan struct{}),
		done:         make(chan struct{}),
	}

	c.mu.Lock()
	if c.turn != nil {
		c.mu.Unlock()
		return Result{}, ErrTurnInFlight
	}
	c.turn = t
	c.status = StatusWorking
	c.mu.Unlock()

	observability.TurnStarted()
	ctx, span := tracing.StartTurnSpan(ctx, c.cfg.AgentAddress, t.inputID)

	c.start(ctx, t)

	select {
	case <-t.done:
	case <-ctx.Done():
		c.settle(t, Result{}, fmt.Errorf("turn abandoned: %w", ctx.Err()))
		<-t.done
	}

	tracing.EndTurnSpan(span, t.err)
	return t.result, t.err
}

// start performs turn setup through sending the input frame. Any failure
// settles the turn.
func (c *Conversation) start(ctx context.Context, t *turnState) {
	c.ensureIdentity(ctx)

	target, isRelay := c.selectTarget(ctx)
	c.mu.Lock()
	t.relay = isRelay
	c.mu.Unlock()

	c.tl.AppendUser(t.prompt, t.images)
	c.tl.SetPlaceholder()
	c.sess.EnsureID()

	conn, err := c.dialer.Dial(ctx, target, transport.Handlers{
		OnMessage: func(data []byte) { c.handleFrame(t, data) },
		OnClose:   func(err error) { c.handleClose(t, err) },
	})
	if err != nil {
		c.tl.RemovePlaceholder()
		c.settle(t, Result{}, fmt.Errorf("open transport: %w", err))
		return
	}

	c.mu.Lock()
	t.conn = conn
	ident := c.ident
	c.mu.Unlock()

	if err := c.sendInput(ctx, t, t.inputID, t.prompt, t.images, ident); err != nil {
		c.tl.RemovePlaceholder()
		c.settle(t, Result{}, err)
		return
	}

	c.startWatchdog(t)

	timer := time.AfterFunc(c.cfg.TurnTimeout, func() {
		c.failOrRecover(t, fmt.Errorf("%w after %s", ErrTimedOut, c.cfg.TurnTimeout))
	})
	c.mu.Lock()
	// The turn may have settled synchronously while the input was in
	// flight; do not leave a timer armed on a dead turn.
	if t.settled {
		timer.Stop()
	} else {
		t.timeout = timer
	}
	c.mu.Unlock()
}

// ensureIdentity lazily loads or generates the signing identity. Failure is
// logged, not fatal: the turn proceeds unsigned.
func (c *Conversation) ensureIdentity(ctx context.Context) {
	c.mu.Lock()
	tried := c.identTried
	c.identTried = true
	c.mu.Unlock()
	if tried || c.cfg.IdentityStore == nil {
		return
	}

	ident, err := identity.LoadOrGenerate(ctx, c.cfg.IdentityStore, c.cfg.IdentityName)
	if err != nil {
		c.logger.Printf("conversation: identity unavailable, sending unsigned: %v", err)
		return
	}

	c.mu.Lock()
	c.ident = ident
	c.mu.Unlock()
}

// selectTarget picks the transport target in priority order: explicit
// direct URL, then a freshly- or previously-resolved direct endpoint, then
// the relay. Resolution runs at most once per conversation.
func (c *Conversation) selectTarget(ctx context.Context) (target string, relay bool) {
	if c.cfg.DirectURL != "" {
		return wire.NormalizeRelayBase(c.cfg.DirectURL) + "/ws/input", false
	}

	c.mu.Lock()
	tried := c.resolveTried
	resolved := c.resolved
	c.mu.Unlock()

	if !tried && c.resolver != nil {
		resolved = c.resolver.Resolve(ctx, c.cfg.AgentAddress)
		c.mu.Lock()
		c.resolveTried = true
		c.resolved = resolved
		c.mu.Unlock()
		if resolved != nil {
			c.logger.Printf("conversation: using direct endpoint %s", resolved.URL)
		}
	}

	if resolved != nil {
		return wire.NormalizeRelayBase(resolved.URL) + "/ws/input", false
	}
	return wire.RelayInputURL(c.cfg.RelayURL), true
}

// sendInput builds, signs, and sends an INPUT frame carrying the current
// session snapshot.
func (c *Conversation) sendInput(ctx context.Context, t *turnState, inputID, prompt string, images []string, ident *identity.Identity) error {
	to := ""
	if t.relay {
		to = c.cfg.AgentAddress
	}

	in, err := wire.NewInput(inputID, prompt, images, to, c.sess.Snapshot(), ident)
	if err != nil {
		return fmt.Errorf("build input frame: %w", err)
	}
	data, err := wire.Encode(in)
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
		return fmt.Errorf("send input: %w", err)
	}
	return nil
}

// startWatchdog runs the periodic liveness check. The watchdog compares
// time-since-last-PING against the liveness threshold; a breach closes the
// transport and hands the turn to recovery.
func (c *Conversation) startWatchdog(t *turnState) {
	go func() {
		ticker := time.NewTicker(c.cfg.WatchdogTick)
		defer ticker.Stop()

		for {
			select {
			case <-t.watchdogStop:
				return
			case <-t.done:
				return
			case <-ticker.C:
				c.mu.Lock()
				silent := time.Since(t.lastPing)
				c.mu.Unlock()

				if silent > c.cfg.LivenessThreshold {
					observability.RecordWatchdogBreach()
					c.failOrRecover(t, fmt.Errorf("%w: no keep-alive for %s", ErrTimedOut, silent.Round(time.Millisecond)))
					return
				}
			}
		}
	}()
}

// handleFrame dispatches one inbound frame. Frames are processed strictly
// in arrival order; the transport read loop delivers them one at a time.
func (c *Conversation) handleFrame(t *turnState, data []byte) {
	frame, err := wire.Decode(data)
	if err != nil {
		// Parse failures are terminal; there is nothing to retry.
		c.settle(t, Result{}, err)
		return
	}
	observability.RecordFrame(frame.FrameType())

	switch f := frame.(type) {
	case wire.Ping:
		c.mu.Lock()
		t.lastPing = time.Now()
		conn := t.conn
		c.mu.Unlock()
		if conn != nil {
			pong, _ := wire.Encode(wire.NewPong())
			if err := conn.Send(context.Background(), pong); err != nil {
				c.logger.Printf("conversation: pong failed: %v", err)
			}
		}

	case wire.SessionSync:
		c.sess.Apply(f.Session)

	case wire.ModeChanged:
		c.sess.SetMode(f.Mode, f.MaxTurns)

	case wire.TurnsReached:
		c.setStatus(StatusWaiting)
		c.sess.SetTurnsUsed(f.TurnsUsed)
		c.tl.AppendTurnsExhausted(f.TurnsUsed, f.MaxTurns)

	case wire.AskUser:
		c.setStatus(StatusWaiting)
		c.tl.AppendAskUser(f.Question)

	case wire.ApprovalNeeded:
		c.setStatus(StatusWaiting)
		c.tl.AppendApproval(f.Action, f.Tool, f.Description)

	case wire.OnboardRequired:
		c.setStatus(StatusWaiting)
		c.mu.Lock()
		t.stash = &onboardStash{
			prompt:    t.prompt,
			images:    t.images,
			inputID:   t.inputID,
			sessionID: c.sess.ID(),
		}
		c.mu.Unlock()
		c.tl.AppendOnboard(f.Challenge, f.URL)

	case wire.OnboardSuccess:
		c.tl.AppendOnboardResolved(f.Message)
		c.mu.Lock()
		stash := t.stash
		t.stash = nil
		ident := c.ident
		c.mu.Unlock()
		if stash != nil {
			c.setStatus(StatusWorking)
			if err := c.sendInput(context.Background(), t, stash.inputID, stash.prompt, stash.images, ident); err != nil {
				c.settle(t, Result{}, fmt.Errorf("resend after onboarding: %w", err))
			}
		}

	case wire.Output:
		c.mu.Lock()
		relay := t.relay
		inputID := t.inputID
		c.mu.Unlock()
		// In relay mode a shared connection can carry results for other
		// turns; only the matching correlation id settles this one. In
		// direct mode the 1:1 connection makes any terminal frame
		// authoritative.
		if relay && f.InputID != inputID {
			return
		}
		if f.Session != nil {
			c.sess.Apply(*f.Session)
		}
		c.tl.RemovePlaceholder()
		c.tl.AppendAgentFinal(f.Result)
		c.settle(t, Result{Text: f.Result, Done: true}, nil)

	case wire.ErrorFrame:
		// An explicit server error is authoritative: no recovery.
		c.settle(t, Result{}, fmt.Errorf("%w: %s", ErrServer, f.Message))

	case wire.LLMCall, wire.LLMResult, wire.ToolCall, wire.ToolResult,
		wire.Thinking, wire.Assistant, wire.AgentImage, wire.Intent,
		wire.Eval, wire.Compact, wire.ToolBlocked:
		c.tl.Apply(frame)
		if snap := wire.SessionOf(frame); snap != nil {
			c.sess.Apply(*snap)
		}
	}
}

// handleClose reacts to the transport dying under an unsettled turn.
func (c *Conversation) handleClose(t *turnState, err error) {
	cause := ErrConnectionClosed
	if err != nil {
		cause = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	c.failOrRecover(t, cause)
}

// failOrRecover settles a failed turn, first attempting pull-based
// recovery when it is enabled and a session exists on the server.
func (c *Conversation) failOrRecover(t *turnState, cause error) {
	c.mu.Lock()
	if t.settled || t.settling {
		c.mu.Unlock()
		return
	}
	t.settling = true
	conn := t.conn
	sessionID := c.sess.ID()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	if c.poller == nil || sessionID == "" {
		c.settle(t, Result{}, cause)
		return
	}

	// Recovery stops as soon as something else settles the turn.
	pctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-t.done
		cancel()
	}()

	c.logger.Printf("conversation: transport lost (%v), attempting recovery", cause)
	text, err := c.poller.Poll(pctx, c.recoveryBase(), sessionID)
	if err != nil {
		observability.RecordRecoveryPoll("failure")
		c.settle(t, Result{}, fmt.Errorf("%w (recovery failed: %v)", cause, err))
		return
	}
	observability.RecordRecoveryPoll("success")
	c.tl.RemovePlaceholder()
	c.tl.AppendAgentFinal(text)
	c.settle(t, Result{Text: text, Done: true}, nil)
}

// recoveryBase picks the base URL for the pull-based status endpoint.
func (c *Conversation) recoveryBase() string {
	if c.cfg.RelayURL != "" {
		return c.cfg.RelayURL
	}
	return c.cfg.DirectURL
}

// settle is the single settlement point for a turn. The first caller wins;
// every later attempt is a no-op. All per-turn timers are cancelled on
// every exit path.
func (c *Conversation) settle(t *turnState, res Result, err error) {
	c.mu.Lock()
	if t.settled {
		c.mu.Unlock()
		return
	}
	t.settled = true
	t.result = res
	t.err = err

	close(t.watchdogStop)
	if t.timeout != nil {
		t.timeout.Stop()
	}
	conn := t.conn
	t.conn = nil
	if c.turn == t {
		c.turn = nil
	}
	c.status = StatusIdle
	mode := string(c.sess.Snapshot().Mode)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	observability.RecordTurn(outcome, mode, time.Since(t.started))
	observability.TurnSettled()

	close(t.done)
}

func (c *Conversation) setStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn != nil {
		c.status = s
	}
}

// Reset abandons any in-flight turn, settling it with ErrReset so no
// caller is left waiting on an orphaned result, then discards the session
// state and timeline unconditionally.
func (c *Conversation) Reset() {
	c.mu.Lock()
	t := c.turn
	c.mu.Unlock()

	if t != nil {
		c.settle(t, Result{}, ErrReset)
	}
	c.sess.Clear()
	c.tl.Reset()
}
