// Package syncer holds the per-route synchronizers. Each one resolves the
// person across systems, performs its write through the resilience executor
// and leaves exactly one sync log row behind.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"hooksync/internal/engine/compliance"
	"hooksync/internal/engine/connectors"
	"hooksync/internal/engine/merge"
	"hooksync/internal/engine/resilience"
	"hooksync/internal/engine/router"
	"hooksync/internal/platform/metrics"
	"hooksync/internal/platform/models"
)

type IdentityStore interface {
	GetByID(ctx context.Context, id string) (*models.IdentityMapping, error)
	FindBySystemID(ctx context.Context, system, id string) (*models.IdentityMapping, error)
	FindByPhone(ctx context.Context, phone string) (*models.IdentityMapping, error)
	FindByEmail(ctx context.Context, email string) (*models.IdentityMapping, error)
	Create(ctx context.Context, m *models.IdentityMapping, now int64) error
	Link(ctx context.Context, id, system, systemID, phone, email string, now int64) error
}

type Deps struct {
	Systems    map[string]connectors.System
	Executor   *resilience.Executor
	Identities IdentityStore
	Guard      *compliance.Guard
	SyncLog    router.SyncLogWriter
	Merge      merge.Options
	OptOutTag  string
	OptInTag   string
}

type Synchronizer struct {
	systems    map[string]connectors.System
	exec       *resilience.Executor
	identities IdentityStore
	guard      *compliance.Guard
	synclog    router.SyncLogWriter
	mergeOpts  merge.Options
	optOutTag  string
	optInTag   string
	now        func() time.Time
}

func New(d Deps) *Synchronizer {
	optOut := d.OptOutTag
	if optOut == "" {
		optOut = merge.SystemTagPrefix + "sms-opted-out"
	}
	return &Synchronizer{
		systems:    d.Systems,
		exec:       d.Executor,
		identities: d.Identities,
		guard:      d.Guard,
		synclog:    d.SyncLog,
		mergeOpts:  d.Merge,
		optOutTag:  optOut,
		optInTag:   d.OptInTag,
		now:        time.Now,
	}
}

// Register installs every synchronizer on r and declares the remaining
// pairs unhandled.
func (s *Synchronizer) Register(r *router.Router) {
	r.Handle(models.SourceCRM, models.EntityContact, s.handler(s.crmContact))
	r.Handle(models.SourceTelephony, models.EntityContact, s.handler(s.telephonyContact))
	r.Handle(models.SourceTelephony, models.EntityCall, s.handler(s.telephonyCall))
	r.Handle(models.SourceMessaging, models.EntityMessage, s.handler(s.messagingMessage))
	r.Handle(models.SourceMessaging, models.EntityContact, s.handler(s.messagingContact))
	r.Handle(models.SourceBroadcast, models.EntityMessage, s.handler(s.broadcastMessage))

	r.Unhandled(models.SourceCRM, models.EntityCall)
	r.Unhandled(models.SourceCRM, models.EntityMessage)
	r.Unhandled(models.SourceTelephony, models.EntityMessage)
	r.Unhandled(models.SourceMessaging, models.EntityCall)
	r.Unhandled(models.SourceBroadcast, models.EntityContact)
	r.Unhandled(models.SourceBroadcast, models.EntityCall)
}

// outcome is what a synchronizer reports for its sync log row.
type outcome struct {
	targetID string
	status   string
	message  string
}

type syncFunc func(ctx context.Context, event *models.Event, payload map[string]interface{}) (outcome, error)

// handler wraps fn so that every run, successful or not, writes one sync log row.
func (s *Synchronizer) handler(fn syncFunc) router.HandlerFunc {
	return func(ctx context.Context, event *models.Event) error {
		correlationID := uuid.New().String()
		logger := log.With().
			Str("event_id", event.ID).
			Str("direction", event.Direction).
			Str("correlation_id", correlationID).
			Logger()
		ctx = logger.WithContext(ctx)

		var out outcome
		payload, err := decodePayload(event.Payload)
		if err == nil {
			out, err = fn(ctx, event, payload)
		}

		entry := &models.SyncLogEntry{
			EventID:       event.ID,
			Direction:     event.Direction,
			EntityType:    event.EntityType,
			EntityID:      event.EntityID,
			SourceID:      event.EntityID,
			Status:        models.SyncSuccess,
			CorrelationID: correlationID,
		}
		if out.targetID != "" {
			entry.TargetID = &out.targetID
		}
		switch {
		case err != nil:
			msg := err.Error()
			entry.Status = models.SyncError
			entry.ErrorMessage = &msg
		case out.status != "":
			entry.Status = out.status
		}
		if err == nil && out.message != "" {
			entry.ErrorMessage = &out.message
		}
		metrics.SyncRuns.WithLabelValues(event.Direction, entry.Status).Inc()

		if logErr := s.synclog.Record(ctx, entry); logErr != nil && err == nil {
			return resilience.Transient(logErr)
		}
		if err != nil {
			logger.Warn().Err(err).Msg("sync failed")
			return err
		}
		logger.Info().Str("status", entry.Status).Str("target_id", out.targetID).Msg("sync finished")
		return nil
	}
}

// call runs fn against a target system through the breaker and retry policy.
func (s *Synchronizer) call(ctx context.Context, system string, fn func(ctx context.Context, sys connectors.System) error) error {
	sys, ok := s.systems[system]
	if !ok {
		return resilience.Permanent(fmt.Errorf("no connector configured for %s", system))
	}
	return s.exec.Do(ctx, system, func(ctx context.Context) error {
		return fn(ctx, sys)
	})
}

func decodePayload(raw string) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("decode stored payload: %w", err))
	}
	if payload == nil {
		return nil, resilience.Permanent(fmt.Errorf("decode stored payload: not an object"))
	}
	return payload, nil
}

func eventTime(event *models.Event) time.Time {
	return time.Unix(event.ReceivedAt, 0)
}
