package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"hooksync/internal/app"
	"hooksync/internal/pkg/logger"
	"hooksync/internal/platform/config"
	"hooksync/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(cfg.Logging)
	logger.Watch(*configPath)

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	eval, sinkCloser, err := a.Evaluator()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build alert sink")
	}
	defer sinkCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Str("alert_sink", cfg.Alerting.Sink.Kind).
		Msg("starting hooksync workers")

	pool := a.Pool()
	sweeper := a.Sweeper()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(ctx)
	})
	g.Go(func() error {
		return workers.Every(ctx, "sweep", cfg.Sweep.Interval, func(ctx context.Context) error {
			_, err := sweeper.Sweep(ctx)
			return err
		})
	})
	g.Go(func() error {
		return workers.Every(ctx, "alerting", cfg.Alerting.Interval, func(ctx context.Context) error {
			_, err := eval.Evaluate(ctx)
			return err
		})
	})
	g.Go(func() error {
		return workers.Every(ctx, "queue-depth", cfg.Worker.DepthInterval, func(ctx context.Context) error {
			_, err := a.QueueDepth(ctx)
			return err
		})
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker stopped with error")
		return
	}
	log.Info().Msg("workers stopped")
}
