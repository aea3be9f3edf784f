package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all store interactions needed by the service.
type Repository interface {
	// Directory lookups
	PatientExists(ctx context.Context, patientID uuid.UUID) (bool, error)
	TenantExists(ctx context.Context, tenantID uuid.UUID) (bool, error)
	DoctorExists(ctx context.Context, doctorID uuid.UUID) (bool, error)
	DoctorBelongsToTenant(ctx context.Context, doctorID, tenantID uuid.UUID) (bool, error)

	// For conflict checks
	AppointmentsForDoctorOnDate(ctx context.Context, tenantID, doctorID uuid.UUID, date time.Time) ([]Appointment, error)

	// InsertAppointment stores a and fills its ID and CreatedAt. When a has a doctor
	// it must refuse, atomically with the write, any overlap with another active
	// appointment of that doctor and return a *SlotUnavailableError.
	InsertAppointment(ctx context.Context, a *Appointment) error

	GetAppointment(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)

	// UpdateAppointmentStatus sets status to `to` and updated_at to `at` only if the
	// stored status still equals `from`. Returns ErrStaleStatus otherwise.
	UpdateAppointmentStatus(ctx context.Context, tenantID, id uuid.UUID, from, to Status, at time.Time) (*Appointment, error)

	// No-show worker
	FindOverdue(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Hooks receives side effects after a state change has been stored. Errors are
// logged by the service and never undo the stored change.
type Hooks interface {
	OnAppointmentCreated(ctx context.Context, a Appointment) error
	OnStatusChanged(ctx context.Context, a Appointment, from Status) error
}

type nopHooks struct{}

func (nopHooks) OnAppointmentCreated(context.Context, Appointment) error    { return nil }
func (nopHooks) OnStatusChanged(context.Context, Appointment, Status) error { return nil }

// NopHooks discards every notification.
func NopHooks() Hooks { return nopHooks{} }
