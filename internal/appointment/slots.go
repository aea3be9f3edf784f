package appointment

import (
	"time"

	"github.com/google/uuid"
)

// AvailableSlots walks every calendar window of date on a fixed grid of
// duration, starting at the window start, and returns the free slot starts in
// chronological order.
//
// The grid never shifts to fit a gap: with a 30 minute grid, a 20 minute booking
// at 09:10 hides 09:00 even though 08:40-09:10 is free, because 08:40 is not a
// grid point. That is intended.
func AvailableSlots(cal Calendar, doctorID uuid.UUID, date time.Time, duration time.Duration, booked []Appointment) []time.Time {
	if duration <= 0 {
		return nil
	}

	var slots []time.Time
	for _, w := range cal.WindowsFor(date) {
		for cursor := w.Start; !cursor.Add(duration).After(w.End); cursor = cursor.Add(duration) {
			if IsAvailable(doctorID, cursor, cursor.Add(duration), booked) {
				slots = append(slots, cursor)
			}
		}
	}
	return slots
}
