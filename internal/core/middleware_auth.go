package core

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"gardennotify/internal/types"
)

// AdminKeyHeader carries the operator key. A Bearer Authorization header is
// accepted as well.
const AdminKeyHeader = "X-Admin-Key"

// AdminKeyMiddleware rejects requests that do not present the configured
// admin key. Missing keys get auth_token_missing, wrong keys
// auth_token_invalid; both are 401.
func (s *Server) AdminKeyMiddleware(next http.Handler) http.Handler {
	want := []byte(s.Config.AdminAPIKey.Unmask())
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(AdminKeyHeader)
		if got == "" {
			got = extractBearerToken(r.Header.Get("Authorization"))
		}
		if got == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "admin key required", nil))
			return
		}
		if len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			s.Logger.Warn("admin key rejected",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid admin key", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractBearerToken returns the token of a "Bearer <token>" header, or ""
// (scheme matched case-insensitively per RFC 7235).
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}
