package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// DefaultDuration is applied when a booking request omits its end time.
const DefaultDuration = 30 * time.Minute

type Appointment struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	PatientID uuid.UUID
	DoctorID  *uuid.UUID
	StartAt   time.Time
	EndAt     time.Time
	Type      string
	Channel   string
	Address   *string
	Status    Status
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// Active reports whether the appointment still holds its time range.
func (a Appointment) Active() bool {
	return a.Status.Active()
}

// HasDoctor reports whether the appointment is assigned to doctorID.
func (a Appointment) HasDoctor(doctorID uuid.UUID) bool {
	return a.DoctorID != nil && *a.DoctorID == doctorID
}

// Active is false for the two statuses that release the time range.
func (s Status) Active() bool {
	return s != StatusCancelled && s != StatusNoShow
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type EventLog struct {
	ID            int64
	TenantID      uuid.UUID
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// ListFilter narrows ListAppointments. Zero values mean "any".
type ListFilter struct {
	TenantID  uuid.UUID
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Status    Status
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// WithPaging returns f with Limit clamped to (0, MaxListLimit] and a
// non-negative Offset.
func (f ListFilter) WithPaging() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// BookRequest is the input of Service.Book. EndAt and DoctorID are optional.
type BookRequest struct {
	TenantID  uuid.UUID
	PatientID uuid.UUID
	DoctorID  *uuid.UUID
	StartAt   time.Time
	EndAt     *time.Time
	Type      string
	Channel   string
	Address   *string
}
