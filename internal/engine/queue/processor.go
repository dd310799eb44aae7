// Package queue drives events through the claim state machine: workers lease
// jobs, claim the event, route it, and complete, retry or dead-letter the job.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"hooksync/internal/engine/resilience"
	"hooksync/internal/platform/models"
)

type EventStore interface {
	GetByID(ctx context.Context, id string) (*models.Event, error)
	Claim(ctx context.Context, id string, now int64) (bool, error)
	MarkDone(ctx context.Context, id string, processedAt int64, message string) error
	MarkError(ctx context.Context, id string, processedAt int64, message string) error
	Reopen(ctx context.Context, id string) (bool, error)
	ListStalePending(ctx context.Context, cutoff int64, limit int) ([]*models.Event, error)
	RecoverStuck(ctx context.Context, cutoff int64) (int64, error)
}

type Quarantine interface {
	IsQuarantined(ctx context.Context, eventID, source string) (bool, error)
}

type Router interface {
	Route(ctx context.Context, event *models.Event) error
}

// Processor runs one event from pending to done or error.
type Processor struct {
	events     EventStore
	quarantine Quarantine
	router     Router
	now        func() time.Time
}

func NewProcessor(events EventStore, quarantine Quarantine, router Router) *Processor {
	return &Processor{events: events, quarantine: quarantine, router: router, now: time.Now}
}

// Process claims eventID and routes it. claimed is false when the event was
// not pending, in which case nothing happened. A routing failure leaves the
// event in error and is returned.
func (p *Processor) Process(ctx context.Context, eventID string) (claimed bool, err error) {
	ok, err := p.events.Claim(ctx, eventID, p.now().Unix())
	if err != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}
	if !ok {
		log.Debug().Str("event_id", eventID).Msg("event not pending, claim abandoned")
		return false, nil
	}

	event, err := p.events.GetByID(ctx, eventID)
	if err != nil {
		return true, p.fail(ctx, eventID, resilience.Transient(fmt.Errorf("load claimed event: %w", err)))
	}
	if event == nil {
		return true, fmt.Errorf("claimed event %s vanished", eventID)
	}

	quarantined, err := p.quarantine.IsQuarantined(ctx, event.ID, event.Source)
	if err != nil {
		return true, p.fail(ctx, eventID, resilience.Transient(fmt.Errorf("check quarantine: %w", err)))
	}
	if quarantined {
		log.Info().Str("event_id", event.ID).Str("source", event.Source).Msg("event quarantined, skipping sync")
		return true, p.finish(ctx, event.ID, models.QuarantinedMessage)
	}

	if err := p.route(ctx, event); err != nil {
		return true, p.fail(ctx, eventID, err)
	}
	return true, p.finish(ctx, event.ID, "")
}

// finish and fail write through cancellation so a timed-out run still
// leaves the event in a terminal state.
func (p *Processor) finish(ctx context.Context, eventID, message string) error {
	if err := p.events.MarkDone(context.WithoutCancel(ctx), eventID, p.now().Unix(), message); err != nil {
		return resilience.Transient(fmt.Errorf("mark event done: %w", err))
	}
	return nil
}

func (p *Processor) route(ctx context.Context, event *models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event_id", event.ID).Msg("synchronizer panicked")
			err = fmt.Errorf("synchronizer panic: %v", r)
		}
	}()
	return p.router.Route(ctx, event)
}

// fail records cause on the event and returns it. A failure to record is
// logged; cause still reaches the queue.
func (p *Processor) fail(ctx context.Context, eventID string, cause error) error {
	if err := p.events.MarkError(context.WithoutCancel(ctx), eventID, p.now().Unix(), cause.Error()); err != nil {
		log.Error().Err(err).Str("event_id", eventID).Msg("failed to mark event as errored")
	}
	return cause
}
