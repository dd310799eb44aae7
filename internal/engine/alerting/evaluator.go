package alerting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"hooksync/internal/platform/audit"
	"hooksync/internal/platform/metrics"
	"hooksync/internal/platform/repositories"
)

type EventStats interface {
	StatsSince(ctx context.Context, since int64) (repositories.EventStats, error)
}

type SyncStats interface {
	StatsSince(ctx context.Context, since int64) (audit.Stats, error)
	ErrorsByTarget(ctx context.Context, since int64) (map[string]int, error)
}

// Snapshot is one evaluation's raw numbers.
type Snapshot struct {
	WebhookErrorRate float64        `json:"webhook_error_rate"`
	SyncErrorRate    float64        `json:"sync_error_rate"`
	QueueDepth       int            `json:"queue_depth"`
	ExternalErrors   map[string]int `json:"external_errors"`
}

type Config struct {
	Window      time.Duration
	RepeatAfter time.Duration
	Thresholds  map[string]Threshold
}

type fired struct {
	level Level
	at    time.Time
}

// Evaluator computes a Snapshot, compares it with the thresholds and
// notifies the sink. Alerts at an unchanged level are held back for
// RepeatAfter.
type Evaluator struct {
	events EventStats
	syncs  SyncStats
	depth  func(ctx context.Context) (int, error)
	sink   Sink
	cfg    Config
	now    func() time.Time

	mu   sync.Mutex
	last map[string]fired
}

func NewEvaluator(events EventStats, syncs SyncStats, depth func(ctx context.Context) (int, error), sink Sink, cfg Config) *Evaluator {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &Evaluator{
		events: events,
		syncs:  syncs,
		depth:  depth,
		sink:   sink,
		cfg:    cfg,
		now:    time.Now,
		last:   map[string]fired{},
	}
}

func (e *Evaluator) Collect(ctx context.Context) (Snapshot, error) {
	since := e.now().Add(-e.cfg.Window).Unix()
	var s Snapshot

	ev, err := e.events.StatsSince(ctx, since)
	if err != nil {
		return s, fmt.Errorf("event stats: %w", err)
	}
	s.WebhookErrorRate = ratio(ev.Errored, ev.Total)

	sl, err := e.syncs.StatsSince(ctx, since)
	if err != nil {
		return s, fmt.Errorf("sync stats: %w", err)
	}
	s.SyncErrorRate = ratio(sl.Errors, sl.Total)

	if s.QueueDepth, err = e.depth(ctx); err != nil {
		return s, fmt.Errorf("queue depth: %w", err)
	}
	if s.ExternalErrors, err = e.syncs.ErrorsByTarget(ctx, since); err != nil {
		return s, fmt.Errorf("external errors: %w", err)
	}
	return s, nil
}

// Evaluate runs one pass and returns the alerts it sent. Delivery is tried
// once; a failing sink is logged and does not fail the pass.
func (e *Evaluator) Evaluate(ctx context.Context) ([]Alert, error) {
	snap, err := e.Collect(ctx)
	if err != nil {
		return nil, err
	}

	type reading struct {
		metric, subject string
		value           float64
	}
	readings := []reading{
		{metric: MetricWebhookErrorRate, value: snap.WebhookErrorRate},
		{metric: MetricSyncErrorRate, value: snap.SyncErrorRate},
		{metric: MetricQueueDepth, value: float64(snap.QueueDepth)},
	}
	targets := make([]string, 0, len(snap.ExternalErrors))
	for target := range snap.ExternalErrors {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	for _, target := range targets {
		readings = append(readings, reading{MetricExternalErrors, target, float64(snap.ExternalErrors[target])})
	}

	now := e.now()
	var sent []Alert
	for _, r := range readings {
		th, ok := e.cfg.Thresholds[r.metric]
		if !ok {
			continue
		}
		a := Alert{
			Metric:  r.metric,
			Subject: r.subject,
			Level:   th.Level(r.value),
			Value:   r.value,
			Window:  e.cfg.Window.String(),
			FiredAt: now.Unix(),
		}
		if !e.shouldFire(a, now) {
			continue
		}
		a.ID = "alt_" + uuid.New().String()
		a.Threshold = th.bound(a.Level)
		a.Message = describe(r.metric, r.subject, r.value, e.cfg.Window)

		metrics.AlertsFired.WithLabelValues(a.Metric, string(a.Level)).Inc()
		if err := e.sink.Notify(ctx, a); err != nil {
			log.Error().Err(err).Str("metric", a.Key()).Str("level", string(a.Level)).Msg("alert delivery failed")
			e.forget(a.Key())
			continue
		}
		sent = append(sent, a)
	}
	return sent, nil
}

// shouldFire records a's level and reports whether it is news: a new level,
// or the same level once RepeatAfter has passed. Returning to ok clears it.
func (e *Evaluator) shouldFire(a Alert, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := a.Key()
	prev, seen := e.last[key]
	if a.Level == LevelOK {
		delete(e.last, key)
		return false
	}
	if seen && prev.level == a.Level && now.Sub(prev.at) < e.cfg.RepeatAfter {
		return false
	}
	e.last[key] = fired{level: a.Level, at: now}
	return true
}

func (e *Evaluator) forget(key string) {
	e.mu.Lock()
	delete(e.last, key)
	e.mu.Unlock()
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
