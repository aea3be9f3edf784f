package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type seedOptions struct {
	dsn      string
	tenants  int
	doctors  int
	patients int
	seed     int64
	migrate  bool
}

func main() {
	logger := logging.New("seed", os.Getenv("APP_ENV"), "info")

	if err := newRootCmd(logger).Execute(); err != nil {
		logger.Fatal().Err(err).Msg("seed failed")
	}
}

func newRootCmd(logger zerolog.Logger) *cobra.Command {
	opts := seedOptions{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate tenants, doctors and patients with fake data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.dsn == "" {
				return fmt.Errorf("--dsn or POSTGRES_DSN is required")
			}
			return run(cmd.Context(), opts, logger)
		},
	}

	cmd.Flags().StringVar(&opts.dsn, "dsn", os.Getenv("POSTGRES_DSN"), "Postgres connection string")
	cmd.Flags().IntVar(&opts.tenants, "tenants", 3, "number of tenants (clinics)")
	cmd.Flags().IntVar(&opts.doctors, "doctors", 10, "doctors per tenant")
	cmd.Flags().IntVar(&opts.patients, "patients", 1000, "patients per tenant")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "faker seed, 0 for random")
	cmd.Flags().BoolVar(&opts.migrate, "migrate", true, "apply migrations before seeding")

	return cmd
}

func run(ctx context.Context, opts seedOptions, logger zerolog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(connectCtx, opts.dsn, 4)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if opts.migrate {
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			return err
		}
		logger.Info().Int("applied", applied).Msg("migrations up to date")
	}

	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(uint64(seed))

	for i := 0; i < opts.tenants; i++ {
		tenantID, err := seedTenant(ctx, pool, faker)
		if err != nil {
			return fmt.Errorf("seed tenant: %w", err)
		}
		log := logger.With().Str("tenant_id", tenantID.String()).Logger()

		if err := seedDoctors(ctx, pool, faker, tenantID, opts.doctors); err != nil {
			return fmt.Errorf("seed doctors: %w", err)
		}
		log.Info().Int("count", opts.doctors).Msg("doctors seeded")

		if err := seedPatients(ctx, pool, faker, tenantID, opts.patients, log); err != nil {
			return fmt.Errorf("seed patients: %w", err)
		}
	}

	logger.Info().Msg("seed complete")
	return nil
}

func seedTenant(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker) (uuid.UUID, error) {
	id := uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO tenants (id, name, created_at)
		VALUES ($1, $2, now())
	`, id, faker.Company()+" Clinic")
	return id, err
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, tenantID uuid.UUID, count int) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		specialty := specialties[faker.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, tenant_id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, uuid.New(), tenantID, "Dr. "+faker.Name(), specialty)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, tenantID uuid.UUID, count int, logger zerolog.Logger) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, tenant_id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), tenantID, faker.Name(), faker.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}
