package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("api-server", "dev", "info")
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("api-server", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "clinic-scheduling-api",
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup error")
	}

	calendar, err := appointment.ParseWorkingHours(cfg.WorkingHours)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid WORKING_HOURS")
	}

	repo, pgPool := openRepository(rootCtx, cfg, logger)
	if pgPool != nil {
		defer pgPool.Close()
	}

	locker, rdb := openLocker(rootCtx, cfg, logger)
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
	}

	var hooks appointment.Hooks = appointment.NopHooks()
	if cfg.KafkaBrokers != "" {
		publisher := events.NewPublisher(events.NewKafkaWriter(cfg.KafkaBrokers), cfg.KafkaTopicPrefix)
		defer publisher.Close()
		hooks = publisher
		logger.Info().Str("brokers", cfg.KafkaBrokers).Msg("publishing appointment events to Kafka")
	} else {
		logger.Warn().Msg("event publishing disabled (no KAFKA_BROKERS configured)")
	}

	svc := appointment.NewService(repo, locker, hooks, calendar, cfg, logger)

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  logger,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           otelhttp.NewHandler(router, "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracing shutdown error")
	}
}

func openRepository(ctx context.Context, cfg config.Config, logger zerolog.Logger) (appointment.Repository, *pgxpool.Pool) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn().Msg("using in-memory store; data is lost on restart")
		return demoDirectory(logger), nil
	}

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	defer cancelPg()

	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	logger.Info().Msg("connected to Postgres")

	applied, err := db.Migrate(pgCtx, pgPool)
	if err != nil {
		pgPool.Close()
		logger.Fatal().Err(err).Msg("migration error")
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	return appointment.NewPgRepository(pgPool), pgPool
}

func openLocker(ctx context.Context, cfg config.Config, logger zerolog.Logger) (redisclient.Locker, *redis.Client) {
	if !cfg.RedisEnabled {
		logger.Info().Msg("redis disabled; relying on storage constraint only")
		return redisclient.NoopLocker(), nil
	}

	rdb, err := redisclient.NewLockClient(ctx, redisclient.ClientOptions{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		if cfg.Env == "prod" {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		logger.Warn().Err(err).Msg("redis unavailable; relying on storage constraint only")
		return redisclient.NoopLocker(), nil
	}
	logger.Info().Msg("connected to Redis")

	return redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait), rdb
}

// demoDirectory registers one tenant with two doctors and three patients so the
// in-memory store can take bookings right away.
func demoDirectory(logger zerolog.Logger) *appointment.MemoryRepository {
	repo := appointment.NewMemoryRepository()

	tenantID := uuid.New()
	repo.AddTenant(tenantID)

	doctors := zerolog.Arr()
	for i := 0; i < 2; i++ {
		id := uuid.New()
		repo.AddDoctor(id, tenantID)
		doctors.Str(id.String())
	}
	patients := zerolog.Arr()
	for i := 0; i < 3; i++ {
		id := uuid.New()
		repo.AddPatient(id)
		patients.Str(id.String())
	}

	logger.Info().
		Str("tenant_id", tenantID.String()).
		Array("doctor_ids", doctors).
		Array("patient_ids", patients).
		Msg("demo directory loaded")
	return repo
}
