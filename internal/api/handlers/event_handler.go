package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	apiContext "hooksync/internal/api/context"
	"hooksync/internal/engine/queue"
	"hooksync/internal/pkg/errors"
	"hooksync/internal/pkg/validator"
	"hooksync/internal/platform/auth"
	"hooksync/internal/platform/models"
	"hooksync/internal/platform/repositories"
)

type EventReader interface {
	GetByID(ctx context.Context, id string) (*models.Event, error)
	List(ctx context.Context, f repositories.EventFilter) ([]*models.Event, error)
}

type Replayer interface {
	Replay(ctx context.Context, eventID string) (*models.QueueJob, error)
}

type QuarantineStore interface {
	Add(ctx context.Context, entry *models.QuarantineEntry) error
	Remove(ctx context.Context, eventID, source string) (bool, error)
	List(ctx context.Context) ([]*models.QuarantineEntry, error)
}

// EventHandler serves the operator view of stored events: inspection,
// replay and quarantine.
type EventHandler struct {
	events     EventReader
	replayer   Replayer
	quarantine QuarantineStore
	now        func() time.Time
}

func NewEventHandler(events EventReader, replayer Replayer, quarantine QuarantineStore) *EventHandler {
	return &EventHandler{events: events, replayer: replayer, quarantine: quarantine, now: time.Now}
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := eventIDParam(r)
	if err := validator.EventID(id); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	event, err := h.events.GetByID(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("event_id", id).Msg("failed to load event")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if event == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Event not found", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, event)
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repositories.EventFilter{Status: q.Get("status"), Source: q.Get("source")}

	if err := validator.EventStatus(filter.Status); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	if err := validator.Source(filter.Source); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	limit, err := validator.Limit(q.Get("limit"), 100)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	filter.Limit = limit

	events, err := h.events.List(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("failed to list events")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

// Replay is the only way out of the error state.
func (h *EventHandler) Replay(w http.ResponseWriter, r *http.Request) {
	id := eventIDParam(r)
	if err := validator.EventID(id); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	job, err := h.replayer.Replay(r.Context(), id)
	switch {
	case stderrors.Is(err, queue.ErrEventNotFound):
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Event not found", nil)
		return
	case stderrors.Is(err, queue.ErrNotReplayable):
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, err.Error(), nil)
		return
	case err != nil:
		log.Error().Err(err).Str("event_id", id).Msg("replay failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Replay failed", nil)
		return
	}

	log.Info().Str("event_id", id).Str("operator", operator(r)).Msg("replay requested")
	errors.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"event_id": id, "job": job})
}

func (h *EventHandler) ListQuarantine(w http.ResponseWriter, r *http.Request) {
	entries, err := h.quarantine.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list quarantine")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// Quarantine suppresses processing of an event. When source is omitted it is
// taken from the stored event.
func (h *EventHandler) Quarantine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID string `json:"event_id"`
		Source  string `json:"source"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validator.EventID(req.EventID); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	if err := validator.Source(req.Source); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	reason, err := validator.Reason(req.Reason)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	if req.Source == "" {
		event, err := h.events.GetByID(r.Context(), req.EventID)
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
			return
		}
		if event == nil {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Event not found; pass source explicitly", nil)
			return
		}
		req.Source = event.Source
	}

	entry := &models.QuarantineEntry{
		EventID:     req.EventID,
		EventSource: req.Source,
		Reason:      reason,
		CreatedAt:   h.now().Unix(),
	}
	if err := h.quarantine.Add(r.Context(), entry); err != nil {
		log.Error().Err(err).Str("event_id", req.EventID).Msg("failed to quarantine event")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	log.Info().
		Str("event_id", entry.EventID).
		Str("source", entry.EventSource).
		Str("operator", operator(r)).
		Msg("event quarantined")
	errors.WriteJSON(w, http.StatusCreated, entry)
}

func (h *EventHandler) Unquarantine(w http.ResponseWriter, r *http.Request) {
	id := eventIDParam(r)
	source := r.URL.Query().Get("source")
	if err := validator.EventID(id); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	if err := validator.Source(source); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	removed, err := h.quarantine.Remove(r.Context(), id, source)
	if err != nil {
		log.Error().Err(err).Str("event_id", id).Msg("failed to lift quarantine")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if !removed {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Event is not quarantined", nil)
		return
	}

	log.Info().Str("event_id", id).Str("operator", operator(r)).Msg("quarantine lifted")
	w.WriteHeader(http.StatusNoContent)
}

func eventIDParam(r *http.Request) string {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	return params.ByName("event_id")
}

func operator(r *http.Request) string {
	if claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims); ok {
		return claims.Subject
	}
	return ""
}
