// Package workers runs the periodic jobs beside the queue workers: the stale
// event sweep, alert evaluation, queue depth sampling and rate limiter cleanup.
package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is one run of a periodic job.
type Task func(ctx context.Context) error

// Every runs task once immediately and then on every tick until ctx is done.
// A failed run is logged and the loop carries on.
func Every(ctx context.Context, name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		log.Warn().Str("worker", name).Msg("non-positive interval, periodic job disabled")
		return nil
	}

	logger := log.With().Str("worker", name).Logger()
	logger.Info().Dur("interval", interval).Msg("periodic job started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		if err := task(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("periodic job failed")
		} else {
			logger.Debug().Dur("took", time.Since(start)).Msg("periodic job finished")
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("periodic job stopped")
			return nil
		case <-ticker.C:
		}
	}
}
