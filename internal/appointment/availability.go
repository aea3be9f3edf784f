package appointment

import (
	"time"

	"github.com/google/uuid"
)

// IsAvailable reports whether [start, end) is free for doctorID given existing.
func IsAvailable(doctorID uuid.UUID, start, end time.Time, existing []Appointment) bool {
	_, busy := FindConflict(doctorID, start, end, existing)
	return !busy
}

// FindConflict returns the conflicting appointment with the earliest StartAt.
//
// Only appointments of the same doctor, on the calendar day of start, and still
// active are considered. A candidate running past midnight is therefore only
// checked against bookings of its start day.
func FindConflict(doctorID uuid.UUID, start, end time.Time, existing []Appointment) (*Appointment, bool) {
	var first *Appointment
	for i := range existing {
		a := &existing[i]
		if !a.HasDoctor(doctorID) || !a.Active() || !sameDay(a.StartAt, start) {
			continue
		}
		if !Overlaps(start, end, a.StartAt, a.EndAt) {
			continue
		}
		if first == nil || startsBefore(a, first) {
			first = a
		}
	}
	if first == nil {
		return nil, false
	}
	c := *first
	return &c, true
}

// startsBefore orders conflicts by StartAt, then ID.
func startsBefore(a, b *Appointment) bool {
	if a.StartAt.Equal(b.StartAt) {
		return a.ID.String() < b.ID.String()
	}
	return a.StartAt.Before(b.StartAt)
}
