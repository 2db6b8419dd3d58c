package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthCheckerAggregates(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(&HealthCheck{
		Name:      "ok",
		CheckFunc: func(ctx context.Context) error { return nil },
		Critical:  true,
	})
	hc.RegisterCheck(&HealthCheck{
		Name:      "flaky",
		CheckFunc: func(ctx context.Context) error { return errors.New("degraded thing") },
		Critical:  false,
	})

	resp := hc.Check(context.Background())
	if resp.Status != HealthStatusDegraded {
		t.Errorf("Status = %s, want degraded", resp.Status)
	}
	if resp.Checks["ok"].Status != HealthStatusHealthy {
		t.Errorf("ok check = %+v", resp.Checks["ok"])
	}
}

func TestHealthCheckerCriticalFailure(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(&HealthCheck{
		Name:      "store",
		CheckFunc: func(ctx context.Context) error { return errors.New("down") },
		Critical:  true,
	})

	resp := hc.Check(context.Background())
	if resp.Status != HealthStatusUnhealthy {
		t.Errorf("Status = %s, want unhealthy", resp.Status)
	}
}

func TestHealthCheckerTimeout(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(&HealthCheck{
		Name:      "slow",
		CheckFunc: func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() },
		Timeout:   10 * time.Millisecond,
		Critical:  true,
	})

	resp := hc.Check(context.Background())
	if resp.Status != HealthStatusUnhealthy {
		t.Errorf("Status = %s, want unhealthy on timeout", resp.Status)
	}
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(&HealthCheck{
		Name:      "down",
		CheckFunc: func(ctx context.Context) error { return errors.New("down") },
		Critical:  true,
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hc.HealthHandler()(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var body HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body parse error = %v", err)
	}
	if body.Status != HealthStatusUnhealthy {
		t.Errorf("body status = %s", body.Status)
	}
}
