package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mockHealthProbe struct {
	name  string
	err   error
	delay time.Duration
	panic bool
}

func (m *mockHealthProbe) Name() string { return m.name }

func (m *mockHealthProbe) Check(ctx context.Context) error {
	if m.panic {
		panic("probe exploded")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			// Report late so the handler sees the probe as unfinished.
			time.Sleep(10 * time.Millisecond)
			return ctx.Err()
		}
	}
	return m.err
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func runHealth(t *testing.T, probes ...HealthProbe) (int, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.HealthProbes = probes

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, body
}

func TestHandleHealthNoProbes(t *testing.T) {
	code, body := runHealth(t)
	if code != http.StatusOK || body.Status != "healthy" || body.Components != nil {
		t.Errorf("code = %d body = %+v", code, body)
	}
}

func TestHandleHealthAllHealthy(t *testing.T) {
	code, body := runHealth(t, &mockHealthProbe{name: "database"}, &mockHealthProbe{name: "queue"})
	if code != http.StatusOK || body.Status != "healthy" {
		t.Fatalf("code = %d body = %+v", code, body)
	}
	if len(body.Components) != 2 || body.Components["queue"].Status != "healthy" {
		t.Errorf("components = %+v", body.Components)
	}
}

func TestHandleHealthFailures(t *testing.T) {
	tests := []struct {
		name    string
		probe   *mockHealthProbe
		message string
	}{
		{"error", &mockHealthProbe{name: "database", err: errors.New("connection refused")}, "connection refused"},
		{"panic", &mockHealthProbe{name: "database", panic: true}, "probe panicked: probe exploded"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := runHealth(t, tc.probe, &mockHealthProbe{name: "other"})
			if code != http.StatusServiceUnavailable || body.Status != "unhealthy" {
				t.Fatalf("code = %d body = %+v", code, body)
			}
			if got := body.Components["database"]; got.Status != "unhealthy" || got.Message != tc.message {
				t.Errorf("database = %+v", got)
			}
			if body.Components["other"].Status != "healthy" {
				t.Errorf("other = %+v", body.Components["other"])
			}
		})
	}
}

func TestHandleHealthTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the health deadline")
	}
	code, body := runHealth(t, &mockHealthProbe{name: "slow", delay: time.Minute})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", code)
	}
	if got := body.Components["slow"].Message; got != "health check timed out" {
		t.Errorf("message = %q", got)
	}
}

func TestDatabaseProbe(t *testing.T) {
	p := DatabaseProbe{DB: pingerFunc(func(context.Context) error { return nil })}
	if p.Name() != "database" || p.Check(context.Background()) != nil {
		t.Error("healthy ping should pass")
	}

	down := errors.New("no route to host")
	p = DatabaseProbe{DB: pingerFunc(func(context.Context) error { return down })}
	if !errors.Is(p.Check(context.Background()), down) {
		t.Error("ping error should surface")
	}

	if (DatabaseProbe{}).Check(context.Background()) == nil {
		t.Error("missing pool should fail")
	}
}
