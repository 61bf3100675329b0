// Package handler exposes the admin HTTP API of the verification service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gatekeeper/internal/captcha/models"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/httputil"
	"gatekeeper/pkg/requestcontext"
)

const defaultStatisticsLimit = 30

// Service is the admin surface of the verification service.
type Service interface {
	PendingSessions(ctx context.Context) ([]*models.Session, error)
	GroupPolicy(ctx context.Context, chatID int64) (models.Policy, bool, error)
	UpdateGroupPolicy(ctx context.Context, chatID int64, policy models.Policy) (models.Policy, error)
	GroupStatistics(ctx context.Context, chatID int64, limit int) ([]models.GroupStatistic, error)
	Sweep(ctx context.Context) (models.SweepResult, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the admin endpoints on the router. Callers add the admin
// token middleware.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/sessions", h.HandleListSessions)
	r.Post("/admin/sweep", h.HandleSweep)
	r.Route("/admin/chats/{chatID}", func(r chi.Router) {
		r.Get("/settings", h.HandleGetSettings)
		r.Put("/settings", h.HandlePutSettings)
		r.Get("/statistics", h.HandleGetStatistics)
	})
}

// HandleListSessions handles GET /admin/sessions.
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessions, err := h.service.PendingSessions(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to list sessions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSessionList(sessions))
}

// HandleSweep handles POST /admin/sweep.
func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.service.Sweep(ctx)
	if err != nil {
		h.fail(ctx, w, "manual sweep failed", err)
		return
	}
	h.logger.InfoContext(ctx, "manual sweep completed",
		"request_id", requestcontext.RequestID(ctx),
		"deleted", result.Deleted,
	)
	httputil.WriteJSON(w, http.StatusOK, SweepResponse{
		Scanned: result.Scanned,
		Deleted: result.Deleted,
		Skipped: result.Skipped,
	})
}

// HandleGetSettings handles GET /admin/chats/{chatID}/settings.
func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	policy, stored, err := h.service.GroupPolicy(ctx, chatID)
	if err != nil {
		h.fail(ctx, w, "failed to load settings", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPolicyResponse(chatID, policy, stored))
}

// HandlePutSettings handles PUT /admin/chats/{chatID}/settings.
func (h *Handler) HandlePutSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	req, err := httputil.DecodeJSON[PolicyRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	policy, err := h.service.UpdateGroupPolicy(ctx, chatID, req.ToPolicy())
	if err != nil {
		h.fail(ctx, w, "failed to update settings", err)
		return
	}
	h.logger.InfoContext(ctx, "settings updated via admin api",
		"request_id", requestcontext.RequestID(ctx),
		"chat_id", chatID,
	)
	httputil.WriteJSON(w, http.StatusOK, toPolicyResponse(chatID, policy, true))
}

// HandleGetStatistics handles GET /admin/chats/{chatID}/statistics?limit=N.
func (h *Handler) HandleGetStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	limit := defaultStatisticsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	stats, err := h.service.GroupStatistics(ctx, chatID, limit)
	if err != nil {
		h.fail(ctx, w, "failed to load statistics", err)
		return
	}
	if stats == nil {
		stats = []models.GroupStatistic{}
	}
	httputil.WriteJSON(w, http.StatusOK, StatisticsResponse{ChatID: chatID, Snapshots: stats})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	}
	httputil.WriteError(w, err)
}

func chatIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "chat id must be an integer"))
		return 0, false
	}
	return chatID, true
}
