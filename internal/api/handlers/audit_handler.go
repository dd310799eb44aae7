package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"hooksync/internal/engine/resilience"
	"hooksync/internal/pkg/errors"
	"hooksync/internal/pkg/validator"
	"hooksync/internal/platform/audit"
	"hooksync/internal/platform/models"
)

type SyncLogReader interface {
	List(ctx context.Context, f audit.Filter) ([]*models.SyncLogEntry, error)
}

type BreakerLister interface {
	Snapshots() []resilience.BreakerSnapshot
}

// AuditHandler exposes the sync log and the live circuit breaker states.
type AuditHandler struct {
	syncLog  SyncLogReader
	breakers BreakerLister
}

func NewAuditHandler(syncLog SyncLogReader, breakers BreakerLister) *AuditHandler {
	return &AuditHandler{syncLog: syncLog, breakers: breakers}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{EventID: q.Get("event_id"), Status: q.Get("status")}

	if err := validator.SyncStatus(filter.Status); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	if raw := q.Get("since"); raw != "" {
		since, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || since < 0 {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "since must be a unix timestamp", nil)
			return
		}
		filter.Since = since
	}
	limit, err := validator.Limit(q.Get("limit"), 100)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	filter.Limit = limit

	entries, err := h.syncLog.List(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("failed to list sync log")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "count": len(entries)})
}

func (h *AuditHandler) Breakers(w http.ResponseWriter, r *http.Request) {
	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{"breakers": h.breakers.Snapshots()})
}
