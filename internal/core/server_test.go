package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"gardennotify/internal/config"
	"gardennotify/internal/types"
)

const testAdminKey = "admin-key-0123456789"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedRequest struct {
	route  string
	status int
}

type mockMetricsCollector struct {
	mu    sync.Mutex
	calls []recordedRequest
}

func (m *mockMetricsCollector) RecordRequest(_ context.Context, route string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recordedRequest{route, status})
}

func newTestServer(t *testing.T, registrars ...RouteRegistrar) *Server {
	t.Helper()
	srv, err := NewServer(config.ServerConfig{AdminAPIKey: testAdminKey}, discardLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.V1RouteRegistrars = registrars
	return srv
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestNewServerValidation(t *testing.T) {
	if _, err := NewServer(config.ServerConfig{AdminAPIKey: testAdminKey}, nil); err == nil {
		t.Error("expected error for nil logger")
	}
	if _, err := NewServer(config.ServerConfig{}, discardLogger()); err == nil {
		t.Error("expected error for empty admin key")
	}
	srv, err := NewServer(config.ServerConfig{Port: "9090", AdminAPIKey: testAdminKey}, discardLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if srv.Handler() == nil || srv.Router() == nil {
		t.Error("router should be initialized")
	}
	if srv.requestTimeout() != defaultRequestTimeout {
		t.Errorf("requestTimeout = %v, want default", srv.requestTimeout())
	}
}

func TestAdminKeyMiddleware(t *testing.T) {
	srv := newTestServer(t, func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			JSON(w, r, http.StatusOK, APIResponse{Data: "pong"})
		})
	})
	srv.MountRoutes()

	tests := []struct {
		name     string
		header   string
		value    string
		wantCode int
		wantErr  types.ErrorCode
	}{
		{"missing", "", "", http.StatusUnauthorized, types.ErrCodeAuthTokenMissing},
		{"wrong key", AdminKeyHeader, "nope", http.StatusUnauthorized, types.ErrCodeAuthTokenInvalid},
		{"header key", AdminKeyHeader, testAdminKey, http.StatusOK, ""},
		{"bearer key", "Authorization", "bearer " + testAdminKey, http.StatusOK, ""},
		{"malformed bearer", "Authorization", "Basic abc", http.StatusUnauthorized, types.ErrCodeAuthTokenMissing},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.wantCode, rec.Body.String())
			}
			if tc.wantErr != "" {
				if got := decodeError(t, rec); got.Code != string(tc.wantErr) {
					t.Errorf("code = %q, want %q", got.Code, tc.wantErr)
				}
			}
		})
	}
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t)
	srv.MountRoutes()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRecovererReturnsEnvelope(t *testing.T) {
	srv := newTestServer(t, func(r chi.Router) {
		r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })
	})
	srv.MountRoutes()

	req := httptest.NewRequest(http.MethodGet, "/v1/boom", nil)
	req.Header.Set(AdminKeyHeader, testAdminKey)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	got := decodeError(t, rec)
	if got.Code != string(types.ErrCodeInternalUnexpected) || got.RequestID != "req-123" {
		t.Errorf("error = %+v", got)
	}
	if strings.Contains(rec.Body.String(), "kaboom") {
		t.Error("panic value must not leak to the client")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc")
	h.ServeHTTP(rec, req)
	if seen != "abc" || rec.Header().Get("X-Request-Id") != "abc" {
		t.Errorf("propagated id = %q header = %q", seen, rec.Header().Get("X-Request-Id"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 32 || rec.Header().Get("X-Request-Id") != seen {
		t.Errorf("generated id = %q", seen)
	}
}

func TestContextTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	var ok bool
	h := ContextTimeoutMiddleware(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !ok || time.Until(deadline) > time.Second {
		t.Errorf("deadline = %v ok = %v", deadline, ok)
	}
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	metrics := &mockMetricsCollector{}
	srv := newTestServer(t, func(r chi.Router) {
		r.Post("/users/{userID}/check", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
	})
	srv.Metrics = metrics
	srv.MountRoutes()

	req := httptest.NewRequest(http.MethodPost, "/v1/users/u_42/check", nil)
	req.Header.Set(AdminKeyHeader, testAdminKey)
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.calls) != 1 {
		t.Fatalf("calls = %v, want 1", metrics.calls)
	}
	if metrics.calls[0].route != "/v1/users/{userID}/check" || metrics.calls[0].status != http.StatusAccepted {
		t.Errorf("recorded %+v", metrics.calls[0])
	}
}

func TestNotFoundRoute(t *testing.T) {
	srv := newTestServer(t)
	srv.MountRoutes()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != "not_found_route" {
		t.Errorf("code = %q", got.Code)
	}
}

func TestErrorResponses(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "rid"))

	rec := httptest.NewRecorder()
	Error(rec, req, errors.Join(errors.New("ctx"), types.NewAppError(types.ErrCodeConflictClaimed, "busy", nil)))
	if rec.Code != http.StatusConflict {
		t.Errorf("wrapped AppError status = %d, want 409", rec.Code)
	}
	if got := decodeError(t, rec); got.Message != "busy" || got.RequestID != "rid" {
		t.Errorf("error = %+v", got)
	}

	rec = httptest.NewRecorder()
	Error(rec, req, errors.New("pq: password authentication failed"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("generic status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("generic error text must not leak")
	}
}

func TestJSONMarshalFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]any{"ch": make(chan int)})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %q", got.Code)
	}
}

func TestEscapeJSON(t *testing.T) {
	if got := escapeJSON("a\"b\\c\nd"); got != `a\"b\\c\nd` {
		t.Errorf("escapeJSON = %q", got)
	}
}
