// Package recovery implements the pull-based fallback used when the push
// transport dies mid-turn: the session status endpoint is polled at a fixed
// interval until a terminal result appears or the attempt budget runs out.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentdial-dev/agentdial/pkg/wire"
)

var (
	// ErrSessionExpired is returned when the status endpoint reports 404:
	// the server no longer knows the session and recovery must give up.
	ErrSessionExpired = errors.New("session expired on server")
	// ErrExhausted is returned when the attempt budget runs out before a
	// terminal result is observed.
	ErrExhausted = errors.New("recovery attempts exhausted")
)

// Status values reported by the recovery endpoint.
const (
	StatusRunning = "running"
	StatusDone    = "done"
)

// statusResponse is the recovery endpoint's body.
type statusResponse struct {
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
}

// Poller queries a session status endpoint until it reports completion.
type Poller struct {
	client      *http.Client
	interval    time.Duration
	maxAttempts int
	logger      *log.Logger
}

// Config configures a Poller.
type Config struct {
	// Interval between polls (default: 2s).
	Interval time.Duration
	// MaxAttempts before giving up (default: 30).
	MaxAttempts int
	// HTTPClient overrides the default client (optional).
	HTTPClient *http.Client
	// Logger receives poll diagnostics (optional).
	Logger *log.Logger
}

// NewPoller creates a recovery poller.
func NewPoller(cfg Config) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 30
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Poller{
		client:      client,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Poll queries {base}/sessions/{sessionID} until it reports done, the
// attempt budget is exhausted, or the session has expired. It returns the
// terminal result text on success.
func (p *Poller) Poll(ctx context.Context, base, sessionID string) (string, error) {
	u := wire.SessionStatusURL(base, sessionID)
	limiter := rate.NewLimiter(rate.Every(p.interval), 1)

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("recovery interrupted: %w", err)
		}

		status, err := p.query(ctx, u)
		if err != nil {
			if errors.Is(err, ErrSessionExpired) {
				return "", err
			}
			// Transient failures consume an attempt and keep polling.
			p.logger.Printf("recovery: poll %d/%d failed: %v", attempt, p.maxAttempts, err)
			continue
		}

		if status.Status == StatusDone {
			return status.Result, nil
		}
	}
	return "", ErrExhausted
}

func (p *Poller) query(ctx context.Context, u string) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&status); err != nil {
		return nil, fmt.Errorf("parse status response: %w", err)
	}
	return &status, nil
}
