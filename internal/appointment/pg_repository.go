package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// exclusionViolation is SQLSTATE 23P01, raised by appointments_doctor_no_overlap.
const exclusionViolation = "23P01"

const appointmentColumns = `id, tenant_id, patient_id, doctor_id, start_at, end_at,
	type, channel, address, status, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var doctorID *uuid.UUID
	var address *string
	var updatedAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.PatientID,
		&doctorID,
		&a.StartAt,
		&a.EndAt,
		&a.Type,
		&a.Channel,
		&address,
		&a.Status,
		&a.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.DoctorID = doctorID
	a.Address = address
	a.UpdatedAt = updatedAt
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == exclusionViolation
}

func (r *PgRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Interface methods

func (r *PgRepository) PatientExists(ctx context.Context, patientID uuid.UUID) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, patientID)
}

func (r *PgRepository) TenantExists(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, tenantID)
}

func (r *PgRepository) DoctorExists(ctx context.Context, doctorID uuid.UUID) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM doctors WHERE id = $1)`, doctorID)
}

func (r *PgRepository) DoctorBelongsToTenant(ctx context.Context, doctorID, tenantID uuid.UUID) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM doctors WHERE id = $1 AND tenant_id = $2)`, doctorID, tenantID)
}

func (r *PgRepository) AppointmentsForDoctorOnDate(ctx context.Context, tenantID, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	day := dayOf(date)
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
		  AND doctor_id = $2
		  AND start_at >= $3
		  AND start_at < $4
		  AND status NOT IN ('cancelled', 'no_show')
		ORDER BY start_at, id
	`, tenantID, doctorID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// InsertAppointment relies on the appointments_doctor_no_overlap exclusion
// constraint: of two concurrent overlapping inserts for one doctor, Postgres
// commits one and fails the other with 23P01.
func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, tenant_id, patient_id, doctor_id, start_at, end_at,
			type, channel, address, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()::timestamp), NULL)
		RETURNING `+appointmentColumns,
		id, a.TenantID, a.PatientID, a.DoctorID, a.StartAt, a.EndAt,
		a.Type, a.Channel, a.Address, a.Status, nullableTime(a.CreatedAt))

	stored, err := scanAppointment(row)
	if err != nil {
		if isExclusionViolation(err) && a.DoctorID != nil {
			conflict, lookupErr := r.firstOverlap(ctx, a.TenantID, *a.DoctorID, a.StartAt, a.EndAt)
			if lookupErr != nil && !errors.Is(lookupErr, ErrAppointmentNotFound) {
				return fmt.Errorf("load conflicting appointment: %w", lookupErr)
			}
			return newSlotUnavailable(conflict)
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	*a = *stored
	return nil
}

func (r *PgRepository) firstOverlap(ctx context.Context, tenantID, doctorID uuid.UUID, start, end time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
		  AND doctor_id = $2
		  AND status NOT IN ('cancelled', 'no_show')
		  AND start_at < $4
		  AND end_at > $3
		ORDER BY start_at, id
		LIMIT 1
	`, tenantID, doctorID, start, end)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointment(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	where := []string{"tenant_id = $1"}
	args := []any{f.TenantID}

	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.From.IsZero() {
		add("start_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("start_at < $%d", f.To)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM appointments
		WHERE %s
		ORDER BY start_at, id
		LIMIT $%d OFFSET $%d
	`, appointmentColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, tenantID, id uuid.UUID, from, to Status, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    updated_at = $5
		WHERE id = $1
		  AND tenant_id = $2
		  AND status = $4
		RETURNING `+appointmentColumns,
		id, tenantID, to, from, at)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		// Either the row is gone or the guard on status failed.
		_, getErr := r.GetAppointment(ctx, tenantID, id)
		return nil, missingOrStale(getErr)
	}
	return updated, err
}

// missingOrStale classifies a compare-and-set that matched no row from the
// result of reloading it. Lookup failures are passed through, not reported
// as a missing appointment.
func missingOrStale(getErr error) error {
	switch {
	case getErr == nil:
		return ErrStaleStatus
	case errors.Is(getErr, ErrNotFound):
		return ErrAppointmentNotFound
	default:
		return fmt.Errorf("reload appointment after status update: %w", getErr)
	}
}

func (r *PgRepository) FindOverdue(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		  AND end_at < $1
		ORDER BY end_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (tenant_id, event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.TenantID, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
