//go:build integration

package appointment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

// setupPostgres starts a throwaway Postgres and applies the migrations.
func setupPostgres(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "scheduling_test",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:testpass@%s:%s/scheduling_test?sslmode=disable", host, port.Port())
	pool, err := db.ConnectPostgres(ctx, dsn, 20)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applied, err := db.Migrate(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	return pool, dsn
}

func seedDirectory(t *testing.T, pool *pgxpool.Pool) (tenantID, doctorID, patientID uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	faker := gofakeit.New(7)

	tenantID, doctorID, patientID = uuid.New(), uuid.New(), uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO tenants (id, name) VALUES ($1, $2)`, tenantID, faker.Company()+" Clinic")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO doctors (id, tenant_id, name) VALUES ($1, $2, $3)`, doctorID, tenantID, "Dr. "+faker.LastName())
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO patients (id, tenant_id, name) VALUES ($1, $2, $3)`, patientID, tenantID, faker.Name())
	require.NoError(t, err)
	return tenantID, doctorID, patientID
}

func TestPgRepository_ExclusionConstraint(t *testing.T) {
	pool, _ := setupPostgres(t)
	repo := NewPgRepository(pool)
	ctx := context.Background()
	tenantID, doctorID, patientID := seedDirectory(t, pool)

	newAppt := func(start, end time.Time) *Appointment {
		d := doctorID
		return &Appointment{
			TenantID:  tenantID,
			PatientID: patientID,
			DoctorID:  &d,
			StartAt:   start,
			EndAt:     end,
			Status:    StatusScheduled,
			CreatedAt: at(7, 0),
		}
	}

	first := newAppt(at(10, 0), at(11, 0))
	require.NoError(t, repo.InsertAppointment(ctx, first))
	assert.NotEqual(t, uuid.Nil, first.ID)

	err := repo.InsertAppointment(ctx, newAppt(at(10, 30), at(11, 30)))
	var slotErr *SlotUnavailableError
	require.ErrorAs(t, err, &slotErr)
	assert.Equal(t, first.ID, slotErr.ConflictID)

	// Back-to-back is fine under '[)'.
	require.NoError(t, repo.InsertAppointment(ctx, newAppt(at(11, 0), at(11, 30))))

	// Cancelling releases the range.
	_, err = repo.UpdateAppointmentStatus(ctx, tenantID, first.ID, StatusScheduled, StatusCancelled, at(8, 0))
	require.NoError(t, err)
	require.NoError(t, repo.InsertAppointment(ctx, newAppt(at(10, 0), at(10, 30))))

	_, err = repo.UpdateAppointmentStatus(ctx, tenantID, first.ID, StatusScheduled, StatusConfirmed, at(8, 0))
	assert.ErrorIs(t, err, ErrStaleStatus)
	_, err = repo.UpdateAppointmentStatus(ctx, tenantID, uuid.New(), StatusScheduled, StatusConfirmed, at(8, 0))
	assert.ErrorIs(t, err, ErrNotFound)

	bucket, err := repo.AppointmentsForDoctorOnDate(ctx, tenantID, doctorID, testDay)
	require.NoError(t, err)
	require.Len(t, bucket, 2)
	assert.Equal(t, at(10, 0), bucket[0].StartAt)
	assert.Equal(t, at(11, 0), bucket[1].StartAt)
}

func TestPgRepository_ConcurrentBookings(t *testing.T) {
	const attempts = 25

	pool, _ := setupPostgres(t)
	ctx := context.Background()
	tenantID, doctorID, patientID := seedDirectory(t, pool)

	svc := NewService(NewPgRepository(pool), nil, nil, nil, config.Config{}, zerolog.Nop())
	end := at(14, 30)
	req := BookRequest{
		TenantID:  tenantID,
		PatientID: patientID,
		DoctorID:  &doctorID,
		StartAt:   at(14, 0),
		EndAt:     &end,
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	gate := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			_, err := svc.Book(ctx, req, at(7, 0))

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if assert.ErrorIs(t, err, ErrSlotUnavailable) {
				conflicts++
			}
		}()
	}
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
}

func TestPgRepository_ListAndEvents(t *testing.T) {
	pool, _ := setupPostgres(t)
	ctx := context.Background()
	tenantID, doctorID, patientID := seedDirectory(t, pool)

	svc := NewService(NewPgRepository(pool), nil, nil, nil, config.Config{NoShowGrace: 15 * time.Minute}, zerolog.Nop())
	for _, h := range []int{8, 9, 10} {
		end := at(h, 30)
		_, err := svc.Book(ctx, BookRequest{
			TenantID: tenantID, PatientID: patientID, DoctorID: &doctorID,
			StartAt: at(h, 0), EndAt: &end,
		}, at(7, 0))
		require.NoError(t, err)
	}

	items, err := svc.ListAppointments(ctx, ListFilter{TenantID: tenantID, DoctorID: &doctorID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, at(8, 0), items[0].StartAt)

	marked, err := svc.MarkOverdueNoShows(ctx, at(10, 0), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	var events int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM event_logs WHERE tenant_id = $1`, tenantID).Scan(&events))
	assert.Equal(t, 5, events)
}

// cancelAfterUpdate cancels the statement context once an UPDATE completes,
// so whatever the repository runs next on that context fails.
type cancelAfterUpdate struct {
	cancel context.CancelFunc
}

func (c *cancelAfterUpdate) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	return ctx
}

func (c *cancelAfterUpdate) TraceQueryEnd(_ context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.CommandTag.Update() {
		c.cancel()
	}
}

func TestPgRepository_UpdateStatusReloadFailure(t *testing.T) {
	pool, dsn := setupPostgres(t)
	tenantID, doctorID, patientID := seedDirectory(t, pool)

	d := doctorID
	appt := &Appointment{
		TenantID:  tenantID,
		PatientID: patientID,
		DoctorID:  &d,
		StartAt:   at(10, 0),
		EndAt:     at(10, 30),
		Status:    StatusScheduled,
		CreatedAt: at(7, 0),
	}
	require.NoError(t, NewPgRepository(pool).InsertAppointment(context.Background(), appt))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.Tracer = &cancelAfterUpdate{cancel: cancel}
	traced, err := pgxpool.NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(traced.Close)

	// The guard on status fails, and the reload that tells stale from missing
	// runs on a cancelled context.
	_, err = NewPgRepository(traced).UpdateAppointmentStatus(ctx, tenantID, appt.ID, StatusConfirmed, StatusInProgress, at(9, 0))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrStaleStatus)
}
