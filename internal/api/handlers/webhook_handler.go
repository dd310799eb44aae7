package handlers

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	apiContext "hooksync/internal/api/context"
	"hooksync/internal/engine/ingest"
	"hooksync/internal/pkg/errors"
	"hooksync/internal/platform/metrics"
)

// Headers a transport may use to identify a delivery, in order of preference.
var deliveryHeaders = []string{"X-Delivery-Id", "X-Webhook-Id", "Idempotency-Key"}

type Authenticator interface {
	Verify(source string, r *http.Request, body []byte) error
}

type Ingester interface {
	Ingest(ctx context.Context, source string, body []byte, deliveryID string) ([]ingest.Result, error)
}

type WebhookHandler struct {
	verifier     Authenticator
	ingest       Ingester
	maxBodyBytes int64
}

func NewWebhookHandler(verifier Authenticator, ingester Ingester, maxBodyBytes int64) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &WebhookHandler{verifier: verifier, ingest: ingester, maxBodyBytes: maxBodyBytes}
}

// Receive authenticates and stores one delivery. Everything that reaches the
// ingest step answers 200, duplicates included, so senders stop retrying.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	source := params.ByName("source")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(source, "rejected").Inc()
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodePayloadTooLarge, "Request body too large", nil)
			return
		}
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unreadable request body", nil)
		return
	}

	if err := h.verifier.Verify(source, r, body); err != nil {
		switch {
		case stderrors.Is(err, ingest.ErrUnknownSource):
			metrics.WebhooksReceived.WithLabelValues("unknown", "rejected").Inc()
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Unknown webhook source", nil)
		default:
			metrics.WebhooksReceived.WithLabelValues(source, "unauthorized").Inc()
			log.Warn().Str("source", source).Str("remote_addr", r.RemoteAddr).Msg("webhook authentication failed")
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Webhook authentication failed", nil)
		}
		return
	}

	results, err := h.ingest.Ingest(r.Context(), source, body, deliveryID(r))
	if err != nil {
		if stderrors.Is(err, ingest.ErrMalformed) {
			metrics.WebhooksReceived.WithLabelValues(source, "rejected").Inc()
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Malformed webhook body", nil)
			return
		}
		metrics.WebhooksReceived.WithLabelValues(source, "failed").Inc()
		log.Error().Err(err).Str("source", source).Msg("webhook ingest failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to store webhook", nil)
		return
	}

	for _, res := range results {
		metrics.WebhooksReceived.WithLabelValues(source, res.Outcome).Inc()
	}
	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"source":  source,
		"results": results,
	})
}

func deliveryID(r *http.Request) string {
	for _, name := range deliveryHeaders {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	return ""
}
