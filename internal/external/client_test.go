package external

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gardennotify/internal/types"

	"github.com/sony/gobreaker/v2"
)

// noopSleep returns immediately, for fast tests.
func noopSleep(context.Context, time.Duration) error { return nil }

// newTestClient creates a BaseClient with fast retries and no real sleep.
func newTestClient(t *testing.T, policy RetryPolicy, opts ...BaseClientOption) *BaseClient {
	t.Helper()
	opts = append([]BaseClientOption{WithSleepFunc(noopSleep)}, opts...)
	return NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-breaker",
		policy,
		"GardenNotify-Test/1.0",
		opts...,
	)
}

var fastPolicy = RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond}

func get(t *testing.T, ctx context.Context, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	return req
}

func TestDo_SuccessInjectsHeaders(t *testing.T) {
	var gotTrace, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTrace = r.Header.Get("X-B3-TraceId")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()

	client := newTestClient(t, fastPolicy)
	ctx := types.WithRequestID(context.Background(), "req_abc")

	resp, err := client.Do(get(t, ctx, server.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if gotTrace != "req_abc" {
		t.Errorf("trace id = %q", gotTrace)
	}
	if gotUA != "GardenNotify-Test/1.0" {
		t.Errorf("user agent = %q", gotUA)
	}
}

func TestDo_WorkerIDUsedWhenNoRequestID(t *testing.T) {
	var gotTrace string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTrace = r.Header.Get("X-B3-TraceId")
	}))
	defer server.Close()

	client := newTestClient(t, fastPolicy)
	ctx := types.WithWorkerID(context.Background(), "worker_7")
	resp, err := client.Do(get(t, ctx, server.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if gotTrace != "worker_7" {
		t.Errorf("trace id = %q, want worker id", gotTrace)
	}
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := newTestClient(t, fastPolicy).Do(get(t, context.Background(), server.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestDo_ExhaustedRetriesMapToUpstreamCodes(t *testing.T) {
	cases := []struct {
		status int
		want   types.ErrorCode
	}{
		{http.StatusInternalServerError, types.ErrCodeUpstreamUnavailable},
		{http.StatusTooManyRequests, types.ErrCodeUpstreamRateLimited},
	}
	for _, tc := range cases {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(tc.status)
		}))

		_, err := newTestClient(t, fastPolicy).Do(get(t, context.Background(), server.URL))
		server.Close()

		if !types.IsCode(err, tc.want) {
			t.Errorf("status %d: err = %v, want %s", tc.status, err, tc.want)
		}
		if calls.Load() != 3 {
			t.Errorf("status %d: calls = %d, want 3", tc.status, calls.Load())
		}
	}
}

func TestDo_4xxNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	resp, err := newTestClient(t, fastPolicy).Do(get(t, context.Background(), server.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest || calls.Load() != 1 {
		t.Errorf("status = %d, calls = %d", resp.StatusCode, calls.Load())
	}
}

func TestDo_PostBodyPreservedAcrossRetries(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader(`{"a":1}`))
	resp, err := newTestClient(t, fastPolicy).Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(bodies) != 2 || bodies[0] != `{"a":1}` || bodies[1] != `{"a":1}` {
		t.Errorf("bodies = %q", bodies)
	}
}

func TestDo_CircuitBreakerOpenShortCircuits(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "test-open",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	client := newTestClient(t, RetryPolicy{MaxRetries: 0}, WithBreaker(breaker))

	for i := 0; i < 3; i++ {
		_, _ = client.Do(get(t, context.Background(), server.URL))
	}
	before := calls.Load()

	_, err := client.Do(get(t, context.Background(), server.URL))
	if !types.IsCode(err, types.ErrCodeUpstreamUnavailable) {
		t.Fatalf("err = %v, want upstream unavailable", err)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected wrapped ErrOpenState, got %v", err)
	}
	if calls.Load() != before {
		t.Error("server must not be called while the breaker is open")
	}
}

func TestDo_CancelledContextStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cancelling := func(ctx context.Context, _ time.Duration) error { return context.Canceled }
	client := newTestClient(t, fastPolicy, WithSleepFunc(cancelling))

	_, err := client.Do(get(t, context.Background(), server.URL))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled in chain", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestComputeBackoff(t *testing.T) {
	c := newTestClient(t, RetryPolicy{MaxRetries: 5, MinWait: 100 * time.Millisecond, MaxWait: time.Second})

	for attempt := 0; attempt < 6; attempt++ {
		d := c.computeBackoff(attempt, nil)
		if d < 100*time.Millisecond || d > time.Second {
			t.Errorf("attempt %d: backoff %v outside [MinWait, MaxWait]", attempt, d)
		}
	}

	resp := &http.Response{Header: http.Header{"Retry-After": []string{"30"}}}
	if d := c.computeBackoff(0, resp); d != time.Second {
		t.Errorf("Retry-After should be capped by MaxWait, got %v", d)
	}
	resp.Header.Set("Retry-After", "0")
	if d := c.computeBackoff(0, resp); d != 100*time.Millisecond {
		t.Errorf("non-positive Retry-After falls back to backoff, got %v", d)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxRetries != 3 || p.MinWait != 500*time.Millisecond || p.MaxWait != 10*time.Second {
		t.Errorf("unexpected default policy: %+v", p)
	}
}

func TestContextSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := contextSleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if err := contextSleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("err = %v", err)
	}
}
