// Package handlers contains the operational HTTP handlers mounted under /v1.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"gardennotify/internal/core"
	"gardennotify/internal/scheduler"
	"gardennotify/internal/types"
)

// maxListLimit caps the notifications listing page.
const maxListLimit = 200

// Checker runs one user's pipeline on demand. Satisfied by *scheduler.Runner.
type Checker interface {
	Check(ctx context.Context, userID string) (scheduler.UserResult, error)
}

// NotificationLister reads a user's inbox. Satisfied by
// *db.NotificationRepository.
type NotificationLister interface {
	ListRecent(ctx context.Context, userID string, limit int) ([]types.Notification, error)
}

// CheckResponse is the body of a successful manual check.
type CheckResponse struct {
	UserID string               `json:"user_id"`
	Result scheduler.UserResult `json:"result"`
}

// UserHandler serves the per-user operational endpoints.
type UserHandler struct {
	checker       Checker
	notifications NotificationLister
	logger        *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(checker Checker, notifications NotificationLister, l *slog.Logger) *UserHandler {
	if l == nil {
		l = slog.Default()
	}
	return &UserHandler{checker: checker, notifications: notifications, logger: l}
}

// RegisterRoutes mounts the handler. Intended as a core.RouteRegistrar.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Post("/check", h.Check)
		r.Get("/notifications", h.ListNotifications)
	})
}

// Check handles POST /v1/users/{userID}/check: run the user's pipeline now
// and flush every held delivery regardless of its resume time.
//
// 200 with the counts, 404 for an unknown user, 409 while another check for
// the same user is running.
func (h *UserHandler) Check(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	res, err := h.checker.Check(r.Context(), userID)
	if err != nil {
		if !types.IsCode(err, types.ErrCodeNotFoundUser) && !types.IsCode(err, types.ErrCodeConflictClaimed) {
			h.logger.ErrorContext(r.Context(), "manual check failed",
				"user_id", userID,
				"error", err,
			)
		}
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "manual check complete",
		"user_id", userID,
		"delivered", res.Delivered,
		"flushed", res.Flushed,
	)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CheckResponse{UserID: userID, Result: res}})
}

// ListNotifications handles GET /v1/users/{userID}/notifications?limit=N,
// newest first.
func (h *UserHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidQuery,
				"limit must be an integer between 1 and "+strconv.Itoa(maxListLimit), err))
			return
		}
		limit = n
	}

	items, err := h.notifications.ListRecent(r.Context(), userID, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "listing notifications failed",
			"user_id", userID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}
	if items == nil {
		items = []types.Notification{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: items})
}

func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "user id is required", nil))
		return "", false
	}
	return userID, true
}
