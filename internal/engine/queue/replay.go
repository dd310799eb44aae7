package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"hooksync/internal/platform/models"
)

var (
	ErrEventNotFound = errors.New("event not found")
	ErrNotReplayable = errors.New("event is not in a replayable state")
)

type ReplayEvents interface {
	GetByID(ctx context.Context, id string) (*models.Event, error)
	ResetForReplay(ctx context.Context, id string) (bool, error)
}

type ReplayJobs interface {
	DeleteByEvent(ctx context.Context, eventID string) error
	Enqueue(ctx context.Context, eventID string, maxRetries int, now int64) (*models.QueueJob, error)
}

// Replayer is the only way an event leaves error: an operator puts it back to
// pending and it gets a fresh job with a full retry budget.
type Replayer struct {
	events     ReplayEvents
	jobs       ReplayJobs
	maxRetries int
	now        func() time.Time
}

func NewReplayer(events ReplayEvents, jobs ReplayJobs, maxRetries int) *Replayer {
	return &Replayer{events: events, jobs: jobs, maxRetries: maxRetries, now: time.Now}
}

// Replay resets a done or error event and enqueues it again. Any job left
// over from earlier attempts, dead-lettered or not, is dropped first.
func (r *Replayer) Replay(ctx context.Context, eventID string) (*models.QueueJob, error) {
	event, err := r.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	if event == nil {
		return nil, ErrEventNotFound
	}

	ok, err := r.events.ResetForReplay(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("reset event: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: status %s", ErrNotReplayable, event.Status)
	}

	if err := r.jobs.DeleteByEvent(ctx, eventID); err != nil {
		return nil, fmt.Errorf("drop old jobs: %w", err)
	}
	job, err := r.jobs.Enqueue(ctx, eventID, r.maxRetries, r.now().Unix())
	if err != nil {
		// the event is pending again, so the sweep still picks it up
		log.Warn().Err(err).Str("event_id", eventID).Msg("replay enqueue failed")
		return nil, fmt.Errorf("enqueue replay: %w", err)
	}

	log.Info().
		Str("event_id", eventID).
		Str("job_id", job.ID).
		Str("previous_status", event.Status).
		Msg("event replayed")
	return job, nil
}
