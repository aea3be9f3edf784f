package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("noshow-worker", "dev", "info")
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("noshow-worker", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("grace", cfg.NoShowGrace).
		Msg("no-show worker starting up")

	if cfg.StoreDriver != config.StoreDriverPostgres {
		logger.Fatal().Msg("no-show worker needs STORE_DRIVER=postgres")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 2)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	var hooks appointment.Hooks = appointment.NopHooks()
	if cfg.KafkaBrokers != "" {
		publisher := events.NewPublisher(events.NewKafkaWriter(cfg.KafkaBrokers), cfg.KafkaTopicPrefix)
		defer publisher.Close()
		hooks = publisher
	}

	repo := appointment.NewPgRepository(pgPool)
	// Transitions are compare-and-set in the store, so no lock is needed here.
	svc := appointment.NewService(repo, nil, hooks, nil, cfg, logger)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	// Run once at startup
	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping no-show worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	marked, err := svc.MarkOverdueNoShows(runCtx, appointment.LocalClock(), 500)
	if err != nil {
		logger.Error().Err(err).Msg("no-show run error")
		return
	}
	metrics.RecordNoShows(marked)
	logger.Info().Int("marked", marked).Dur("took", time.Since(start)).Msg("no-show run complete")
}
