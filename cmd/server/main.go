package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"hooksync/internal/api"
	"hooksync/internal/api/handlers"
	"hooksync/internal/api/middleware"
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

	limiter := middleware.NewRateLimiter()
	router := api.NewRouter(&api.Dependencies{
		WebhookHandler: handlers.NewWebhookHandler(a.Verifier, a.Ingest, cfg.Ingest.MaxBodyBytes),
		EventHandler:   handlers.NewEventHandler(a.Events, a.Replayer, a.Quarantine),
		AuditHandler:   handlers.NewAuditHandler(a.SyncLog, a.Breakers),
		HealthHandler:  handlers.NewHealthHandler(a.DB),
		MetricsHandler: handlers.NewMetricsHandler(),
		AuthMiddleware: middleware.NewAuthMiddleware(a.Tokens),
		RateLimiter:    limiter,
		RateLimit:      cfg.RateLimit,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return workers.Every(ctx, "rate-limit-cleanup", 10*time.Minute, func(ctx context.Context) error {
			limiter.Sweep(10 * time.Minute)
			return nil
		})
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}
