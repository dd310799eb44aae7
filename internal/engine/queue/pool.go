package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"hooksync/internal/engine/resilience"
	"hooksync/internal/platform/metrics"
	"hooksync/internal/platform/models"
)

type JobStore interface {
	Lease(ctx context.Context, owner string, now int64, ttl time.Duration) (*models.QueueJob, error)
	Complete(ctx context.Context, id, owner string) error
	Retry(ctx context.Context, id, owner string, nextVisibleAt, now int64, lastError string) error
	Fail(ctx context.Context, id, owner string, now int64, lastError string) error
	Requeue(ctx context.Context, id, owner string, now int64, lastError string) error
	ReleaseExpired(ctx context.Context, now int64) (int64, error)
}

type PoolConfig struct {
	Concurrency  int
	PollInterval time.Duration
	LeaseTimeout time.Duration
	JobTimeout   time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// Job outcomes, as reported in metrics.
const (
	OutcomeDone       = "done"
	OutcomeRetry      = "retry"
	OutcomeDeadLetter = "dead_letter"
	OutcomeAbandoned  = "abandoned"
	OutcomeRequeued   = "requeued"
)

// Pool is a fixed set of workers polling the job table.
type Pool struct {
	jobs      JobStore
	events    EventStore
	processor *Processor
	cfg       PoolConfig
	backoff   resilience.RetryPolicy
	host      string
	now       func() time.Time
}

func NewPool(jobs JobStore, events EventStore, processor *Processor, cfg PoolConfig) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 5 * time.Minute
	}
	host, _ := os.Hostname()
	return &Pool{
		jobs:      jobs,
		events:    events,
		processor: processor,
		cfg:       cfg,
		backoff: resilience.RetryPolicy{
			BaseDelay:  cfg.BaseBackoff,
			MaxDelay:   cfg.MaxBackoff,
			Multiplier: 2,
		},
		host: host,
		now:  time.Now,
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		owner := fmt.Sprintf("%s/%d/w%d", p.host, os.Getpid(), i)
		g.Go(func() error {
			return p.work(ctx, owner)
		})
	}
	log.Info().Int("workers", p.cfg.Concurrency).Msg("worker pool started")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) work(ctx context.Context, owner string) error {
	logger := log.With().Str("worker", owner).Logger()
	for {
		handled, err := p.RunOnce(logger.WithContext(ctx), owner)
		if err != nil {
			logger.Error().Err(err).Msg("poll failed")
		}
		if handled {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// RunOnce leases one visible job and handles it. It reports whether a job
// was found.
func (p *Pool) RunOnce(ctx context.Context, owner string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	job, err := p.jobs.Lease(ctx, owner, p.now().Unix(), p.cfg.LeaseTimeout)
	if err != nil {
		return false, fmt.Errorf("lease job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	return true, p.handle(ctx, job, owner)
}

func (p *Pool) handle(ctx context.Context, job *models.QueueJob, owner string) error {
	logger := zerolog.Ctx(ctx).With().Str("job_id", job.ID).Str("event_id", job.EventID).Int("retry", job.RetryCount).Logger()
	start := p.now()

	// A job that ran before finds its event in error. The lease makes this
	// worker the event's only owner, so reopening it cannot race a claim.
	if job.RetryCount > 0 || job.LastError != nil {
		if _, err := p.events.Reopen(ctx, job.EventID); err != nil {
			return p.retry(ctx, job, owner, fmt.Errorf("reopen event: %w", err), logger)
		}
	}

	runCtx := ctx
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}
	claimed, err := p.processor.Process(runCtx, job.EventID)
	metrics.JobDuration.Observe(p.now().Sub(start).Seconds())

	bookkeeping := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		outcome := OutcomeDone
		if !claimed {
			outcome = OutcomeAbandoned
		}
		metrics.JobsProcessed.WithLabelValues(outcome).Inc()
		logger.Debug().Str("outcome", outcome).Msg("job finished")
		return p.jobs.Complete(bookkeeping, job.ID, owner)

	case ctx.Err() != nil:
		// shutting down mid-run; the failure says nothing about the event
		return p.requeue(bookkeeping, job, owner, err, logger)

	case resilience.IsPermanent(err):
		return p.deadLetter(bookkeeping, job, owner, err, logger)

	default:
		return p.retry(bookkeeping, job, owner, err, logger)
	}
}

func (p *Pool) retry(ctx context.Context, job *models.QueueJob, owner string, cause error, logger zerolog.Logger) error {
	if job.RetryCount >= job.MaxRetries {
		return p.deadLetter(ctx, job, owner, fmt.Errorf("retries exhausted: %w", cause), logger)
	}
	delay := p.backoff.Delay(job.RetryCount)
	now := p.now()
	metrics.JobsProcessed.WithLabelValues(OutcomeRetry).Inc()
	logger.Warn().Err(cause).Dur("backoff", delay).Msg("job failed, will retry")
	return p.jobs.Retry(ctx, job.ID, owner, now.Add(delay).Unix(), now.Unix(), cause.Error())
}

// requeue hands the job back without spending a retry.
func (p *Pool) requeue(ctx context.Context, job *models.QueueJob, owner string, cause error, logger zerolog.Logger) error {
	metrics.JobsProcessed.WithLabelValues(OutcomeRequeued).Inc()
	logger.Info().Err(cause).Msg("job interrupted, requeued")
	return p.jobs.Requeue(ctx, job.ID, owner, p.now().Unix(), cause.Error())
}

func (p *Pool) deadLetter(ctx context.Context, job *models.QueueJob, owner string, cause error, logger zerolog.Logger) error {
	metrics.JobsProcessed.WithLabelValues(OutcomeDeadLetter).Inc()
	logger.Error().Err(cause).Msg("job dead-lettered")
	return p.jobs.Fail(ctx, job.ID, owner, p.now().Unix(), cause.Error())
}
