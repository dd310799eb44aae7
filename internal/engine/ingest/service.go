package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"hooksync/internal/platform/models"
	"hooksync/internal/platform/repositories"
)

// Outcomes reported per ingested payload.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeSkipped   = "skipped"
)

var ErrMalformed = errors.New("malformed webhook body")

type EventStore interface {
	Create(ctx context.Context, e *models.Event) error
}

type JobQueue interface {
	Enqueue(ctx context.Context, eventID string, maxRetries int, now int64) (*models.QueueJob, error)
}

type Result struct {
	Outcome     string `json:"outcome"`
	EventID     string `json:"event_id,omitempty"`
	EventType   string `json:"event_type,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

type Options struct {
	MaxRetries  int
	DedupWindow time.Duration
}

// Service turns an authenticated webhook body into stored events and queue jobs.
type Service struct {
	events EventStore
	queue  JobQueue
	opts   Options
	now    func() time.Time
}

func NewService(events EventStore, queue JobQueue, opts Options) *Service {
	return &Service{events: events, queue: queue, opts: opts, now: time.Now}
}

// SetClock replaces time.Now. Tests use it to pin dedup buckets.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Ingest stores every event in body. A top-level array is a batch and each
// element is handled on its own. deliveryID, when the transport supplied one,
// is the dedup key for a single-object body.
func (s *Service) Ingest(ctx context.Context, source string, body []byte, deliveryID string) ([]Result, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrMalformed
	}

	var elements []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		// per-element keys come from the payloads themselves
		deliveryID = ""
	} else {
		elements = []json.RawMessage{trimmed}
	}

	payloads := make([]map[string]interface{}, len(elements))
	for i, raw := range elements {
		p, err := decodeObject(raw)
		if err != nil {
			return nil, err
		}
		payloads[i] = p
	}

	results := make([]Result, 0, len(elements))
	for i, raw := range elements {
		res, err := s.ingestOne(ctx, source, raw, payloads[i], deliveryID)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func decodeObject(raw json.RawMessage) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	}
	return payload, nil
}

func (s *Service) ingestOne(ctx context.Context, source string, raw json.RawMessage, payload map[string]interface{}, deliveryID string) (Result, error) {
	c := Canonicalize(source, payload)
	if c.EventType == "" {
		log.Debug().Str("source", source).Msg("connectivity test webhook, nothing stored")
		return Result{Outcome: OutcomeIgnored}, nil
	}

	receivedAt := s.now()
	if deliveryID != "" {
		c.DeliveryID = deliveryID
	}
	key := c.DeliveryID
	if key == "" {
		key = ContentKey(payload, receivedAt, s.opts.DedupWindow)
	}

	event := &models.Event{
		Source:      source,
		EventType:   c.EventType,
		EntityType:  c.EntityType,
		EntityID:    c.EntityID,
		Direction:   c.Direction,
		Payload:     string(raw),
		Fingerprint: Fingerprint(source, c.EventType, c.EntityID, key),
		Status:      models.EventPending,
		ReceivedAt:  receivedAt.Unix(),
	}
	if c.DeliveryID != "" {
		event.DeliveryID = &c.DeliveryID
	}
	if c.EntityID == "" {
		event.Status = models.EventSkipped
		msg := "no entity id derivable from payload"
		event.ErrorMessage = &msg
	}

	logger := log.With().
		Str("source", source).
		Str("event_type", c.EventType).
		Str("fingerprint", event.Fingerprint).
		Logger()

	if err := s.events.Create(ctx, event); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			logger.Info().Msg("duplicate webhook ignored")
			return Result{Outcome: OutcomeDuplicate, EventType: c.EventType, Fingerprint: event.Fingerprint}, nil
		}
		return Result{}, fmt.Errorf("store event: %w", err)
	}

	res := Result{EventID: event.ID, EventType: c.EventType, Fingerprint: event.Fingerprint}
	if event.Status == models.EventSkipped {
		logger.Warn().Str("event_id", event.ID).Msg("webhook stored as skipped: no entity id")
		res.Outcome = OutcomeSkipped
		return res, nil
	}

	// the event is durable; the sweep recovers it if enqueueing fails
	if _, err := s.queue.Enqueue(ctx, event.ID, s.opts.MaxRetries, receivedAt.Unix()); err != nil {
		logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to enqueue event")
	}

	logger.Info().Str("event_id", event.ID).Str("entity_id", c.EntityID).Msg("webhook accepted")
	res.Outcome = OutcomeAccepted
	return res, nil
}
