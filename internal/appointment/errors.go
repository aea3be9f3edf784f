package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrInvalidTimeRange     = errors.New("invalid time range")
	ErrNotFound             = errors.New("not found")
	ErrDoctorTenantMismatch = errors.New("doctor does not belong to tenant")
	ErrSlotUnavailable      = errors.New("time slot is not available")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrTransient            = errors.New("storage unavailable")
)

var (
	ErrStartInPast      = fmt.Errorf("%w: start is in the past", ErrInvalidTimeRange)
	ErrEndNotAfterStart = fmt.Errorf("%w: end must be after start", ErrInvalidTimeRange)

	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrTenantNotFound      = fmt.Errorf("tenant %w", ErrNotFound)
	ErrDoctorNotFound      = fmt.Errorf("doctor %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)

	// ErrStaleStatus is returned by UpdateAppointmentStatus when the stored
	// status no longer equals the expected one.
	ErrStaleStatus = errors.New("appointment status changed concurrently")
)

// SlotUnavailableError carries the conflicting appointment for diagnostics.
type SlotUnavailableError struct {
	ConflictID    uuid.UUID
	ConflictStart time.Time
	ConflictEnd   time.Time
}

func newSlotUnavailable(c *Appointment) *SlotUnavailableError {
	if c == nil {
		return &SlotUnavailableError{}
	}
	return &SlotUnavailableError{ConflictID: c.ID, ConflictStart: c.StartAt, ConflictEnd: c.EndAt}
}

func (e *SlotUnavailableError) Error() string {
	if e.ConflictID == uuid.Nil {
		return ErrSlotUnavailable.Error()
	}
	return fmt.Sprintf("%s: conflicts with appointment %s (%s - %s)",
		ErrSlotUnavailable, e.ConflictID,
		e.ConflictStart.Format(time.DateTime), e.ConflictEnd.Format(time.DateTime))
}

func (e *SlotUnavailableError) Is(target error) bool { return target == ErrSlotUnavailable }

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// TransientError wraps an unexpected storage failure. Retrying may succeed.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

func transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}
