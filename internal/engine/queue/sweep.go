package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"hooksync/internal/platform/metrics"
	"hooksync/internal/platform/models"
)

type DepthCounter interface {
	CountByStatus(ctx context.Context, status string) (int, error)
}

type SweepConfig struct {
	StaleAfter  time.Duration
	BatchSize   int
	Concurrency int
}

type SweepResult struct {
	Released    int64 `json:"released"`
	Recovered   int64 `json:"recovered"`
	Reprocessed int64 `json:"reprocessed"`
	Failed      int64 `json:"failed"`
}

// Sweeper recovers work the queue lost track of: expired leases, events left
// processing by a dead worker, and pending events nobody picked up.
type Sweeper struct {
	events    EventStore
	jobs      JobStore
	processor *Processor
	cfg       SweepConfig
	now       func() time.Time
}

func NewSweeper(events EventStore, jobs JobStore, processor *Processor, cfg SweepConfig) *Sweeper {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Sweeper{events: events, jobs: jobs, processor: processor, cfg: cfg, now: time.Now}
}

// Sweep runs one pass. Stale pending events are processed inline, at most
// cfg.Concurrency at a time.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now()
	cutoff := now.Add(-s.cfg.StaleAfter).Unix()

	released, err := s.jobs.ReleaseExpired(ctx, now.Unix())
	if err != nil {
		return res, err
	}
	res.Released = released

	recovered, err := s.events.RecoverStuck(ctx, cutoff)
	if err != nil {
		return res, err
	}
	res.Recovered = recovered

	stale, err := s.events.ListStalePending(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return res, err
	}

	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))
	var reprocessed, failed int64
	for _, event := range stale {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		go func(event *models.Event) {
			defer sem.Release(1)
			claimed, err := s.processor.Process(ctx, event.ID)
			switch {
			case err != nil:
				atomic.AddInt64(&failed, 1)
				log.Warn().Err(err).Str("event_id", event.ID).Msg("sweep reprocessing failed")
			case claimed:
				atomic.AddInt64(&reprocessed, 1)
			}
		}(event)
	}
	// wait for the stragglers
	if err := sem.Acquire(context.WithoutCancel(ctx), int64(s.cfg.Concurrency)); err == nil {
		sem.Release(int64(s.cfg.Concurrency))
	}

	res.Reprocessed = reprocessed
	res.Failed = failed
	if res.Released+res.Recovered+res.Reprocessed+res.Failed > 0 {
		log.Info().
			Int64("released", res.Released).
			Int64("recovered", res.Recovered).
			Int64("reprocessed", res.Reprocessed).
			Int64("failed", res.Failed).
			Msg("sweep finished")
	}
	return res, ctx.Err()
}

// QueueDepth is queued jobs plus pending events. It also updates the gauge.
func QueueDepth(ctx context.Context, jobs, events DepthCounter) (int, error) {
	queued, err := jobs.CountByStatus(ctx, models.JobQueued)
	if err != nil {
		return 0, err
	}
	pending, err := events.CountByStatus(ctx, models.EventPending)
	if err != nil {
		return 0, err
	}
	depth := queued + pending
	metrics.QueueDepth.Set(float64(depth))
	return depth, nil
}
