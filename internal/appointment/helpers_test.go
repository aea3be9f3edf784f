package appointment

import (
	"time"

	"github.com/google/uuid"
)

// testDay is a fixed Monday used by the table tests.
var testDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return testDay.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func booked(doctorID uuid.UUID, start, end time.Time, status Status) Appointment {
	d := doctorID
	return Appointment{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  &d,
		StartAt:   start,
		EndAt:     end,
		Status:    status,
		CreatedAt: start.Add(-24 * time.Hour),
	}
}
