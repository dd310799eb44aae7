// Package app assembles hooksync's components from configuration. The server,
// the worker and the operator CLI all start from the same App.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"hooksync/internal/engine/alerting"
	"hooksync/internal/engine/compliance"
	"hooksync/internal/engine/connectors"
	"hooksync/internal/engine/ingest"
	"hooksync/internal/engine/merge"
	"hooksync/internal/engine/queue"
	"hooksync/internal/engine/resilience"
	"hooksync/internal/engine/router"
	"hooksync/internal/engine/syncer"
	"hooksync/internal/platform/audit"
	"hooksync/internal/platform/auth"
	"hooksync/internal/platform/config"
	"hooksync/internal/platform/database"
	"hooksync/internal/platform/metrics"
	"hooksync/internal/platform/models"
	"hooksync/internal/platform/repositories"
)

// App holds the shared resources and the pipeline built on top of them.
type App struct {
	Config *config.Config
	DB     *sqlx.DB

	Events     *repositories.EventRepository
	Jobs       *repositories.QueueRepository
	Quarantine *repositories.QuarantineRepository
	Identities *repositories.IdentityRepository
	Optouts    *repositories.OptoutRepository
	SyncLog    *audit.Logger

	Breakers *resilience.Registry
	Executor *resilience.Executor
	Guard    *compliance.Guard
	Router   *router.Router

	Verifier  *ingest.Verifier
	Ingest    *ingest.Service
	Processor *queue.Processor
	Replayer  *queue.Replayer
	Tokens    *auth.TokenService
}

// New opens the database, migrates it when configured to, and wires the
// pipeline. The routing table is validated before New returns.
func New(cfg *config.Config) (*App, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	a, err := Build(cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// Build wires the pipeline over an already open database.
func Build(cfg *config.Config, db *sqlx.DB) (*App, error) {
	a := &App{
		Config:     cfg,
		DB:         db,
		Events:     repositories.NewEventRepository(db),
		Jobs:       repositories.NewQueueRepository(db),
		Quarantine: repositories.NewQuarantineRepository(db),
		Identities: repositories.NewIdentityRepository(db),
		Optouts:    repositories.NewOptoutRepository(db),
		SyncLog:    audit.NewLogger(db),
		Tokens:     auth.NewTokenService(cfg.JWT),
	}

	policy, breakerCfg := resilience.FromConfig(cfg.Resilience)
	a.Breakers = resilience.NewRegistry(breakerCfg, resilience.WithStateListener(onBreakerChange))
	a.Executor = resilience.NewExecutor(a.Breakers, policy)
	a.Guard = compliance.NewGuard(a.Optouts)

	systems := make(map[string]connectors.System, len(models.Sources))
	for _, name := range models.Sources {
		conn, ok := cfg.Connectors[name]
		if !ok || conn.BaseURL == "" {
			log.Warn().Str("service", name).Msg("no connector configured, calls to it will fail")
		}
		systems[name] = connectors.NewClient(name, conn)
		// register the breaker so it shows up before the first call
		a.Breakers.Get(name)
		metrics.BreakerState.WithLabelValues(name).Set(0)
	}

	sync := syncer.New(syncer.Deps{
		Systems:    systems,
		Executor:   a.Executor,
		Identities: a.Identities,
		Guard:      a.Guard,
		SyncLog:    a.SyncLog,
		Merge:      merge.Options{PrimarySource: cfg.Merge.PrimarySource},
		OptOutTag:  cfg.Compliance.OptOutTag,
		OptInTag:   cfg.Compliance.OptInTag,
	})
	a.Router = router.New(a.SyncLog)
	sync.Register(a.Router)
	if err := a.Router.Validate(); err != nil {
		return nil, fmt.Errorf("routing table: %w", err)
	}

	a.Verifier = ingest.NewVerifier(cfg.Sources)
	a.Ingest = ingest.NewService(a.Events, a.Jobs, ingest.Options{
		MaxRetries:  cfg.Queue.MaxRetries,
		DedupWindow: cfg.Ingest.DedupWindow,
	})
	a.Processor = queue.NewProcessor(a.Events, a.Quarantine, a.Router)
	a.Replayer = queue.NewReplayer(a.Events, a.Jobs, cfg.Queue.MaxRetries)
	return a, nil
}

func onBreakerChange(name string, from, to resilience.State) {
	metrics.BreakerState.WithLabelValues(name).Set(float64(to))
	log.Warn().
		Str("service", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("circuit breaker state changed")
}

// Pool builds the queue worker pool from the worker and queue sections.
func (a *App) Pool() *queue.Pool {
	return queue.NewPool(a.Jobs, a.Events, a.Processor, queue.PoolConfig{
		Concurrency:  a.Config.Worker.Concurrency,
		PollInterval: a.Config.Worker.PollInterval,
		LeaseTimeout: a.Config.Queue.LeaseTimeout,
		JobTimeout:   a.Config.Worker.JobTimeout,
		BaseBackoff:  a.Config.Queue.BaseBackoff,
		MaxBackoff:   a.Config.Queue.MaxBackoff,
	})
}

func (a *App) Sweeper() *queue.Sweeper {
	return queue.NewSweeper(a.Events, a.Jobs, a.Processor, queue.SweepConfig{
		StaleAfter:  a.Config.Sweep.StaleAfter,
		BatchSize:   a.Config.Sweep.BatchSize,
		Concurrency: a.Config.Sweep.Concurrency,
	})
}

// QueueDepth samples the backlog and updates the gauge.
func (a *App) QueueDepth(ctx context.Context) (int, error) {
	return queue.QueueDepth(ctx, a.Jobs, a.Events)
}

// Evaluator builds the alert evaluator and its sink. The returned closer
// releases the sink's connection, if it holds one.
func (a *App) Evaluator() (*alerting.Evaluator, io.Closer, error) {
	sink, err := alerting.NewSink(a.Config.Alerting.Sink)
	if err != nil {
		return nil, nil, err
	}

	thresholds := make(map[string]alerting.Threshold, len(a.Config.Alerting.Thresholds))
	for metric, t := range a.Config.Alerting.Thresholds {
		thresholds[metric] = alerting.Threshold{Warning: t.Warning, Critical: t.Critical}
	}
	eval := alerting.NewEvaluator(a.Events, a.SyncLog, a.QueueDepth, sink, alerting.Config{
		Window:      a.Config.Alerting.Window,
		RepeatAfter: a.Config.Alerting.RepeatAfter,
		Thresholds:  thresholds,
	})

	closer := io.Closer(nopCloser{})
	if c, ok := sink.(io.Closer); ok {
		closer = c
	}
	return eval, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (a *App) Close() error {
	return a.DB.Close()
}

// ShutdownTimeout bounds how long in-flight work may take to finish.
const ShutdownTimeout = 30 * time.Second
