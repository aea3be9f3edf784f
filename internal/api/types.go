package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// wallClockLayout is how tenant-local times travel over the wire.
const wallClockLayout = "2006-01-02T15:04:05"

type CreateAppointmentRequest struct {
	PatientID string  `json:"patient_id"`
	DoctorID  *string `json:"doctor_id,omitempty"`
	StartAt   string  `json:"start_at"`
	EndAt     *string `json:"end_at,omitempty"`
	Type      string  `json:"type"`
	Channel   string  `json:"channel"`
	Address   *string `json:"address,omitempty"`
}

type AppointmentResponse struct {
	ID        uuid.UUID  `json:"id"`
	TenantID  uuid.UUID  `json:"tenant_id"`
	PatientID uuid.UUID  `json:"patient_id"`
	DoctorID  *uuid.UUID `json:"doctor_id,omitempty"`
	StartAt   string     `json:"start_at"`
	EndAt     string     `json:"end_at"`
	Type      string     `json:"type"`
	Channel   string     `json:"channel"`
	Address   *string    `json:"address,omitempty"`
	Status    string     `json:"status"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt *string    `json:"updated_at,omitempty"`
}

type ListAppointmentsResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type SlotsResponse struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	Date            string    `json:"date"`
	DurationMinutes int       `json:"duration_minutes"`
	Slots           []string  `json:"slots"`
}

type AvailabilityResponse struct {
	DoctorID  uuid.UUID         `json:"doctor_id"`
	StartAt   string            `json:"start_at"`
	EndAt     string            `json:"end_at"`
	Available bool              `json:"available"`
	Conflict  *ConflictResponse `json:"conflict,omitempty"`
}

type ConflictResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	StartAt       string    `json:"start_at"`
	EndAt         string    `json:"end_at"`
}

type ErrorResponse struct {
	Error    string            `json:"error"`
	Details  string            `json:"details,omitempty"`
	Conflict *ConflictResponse `json:"conflict,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:        a.ID,
		TenantID:  a.TenantID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		StartAt:   formatWallClock(a.StartAt),
		EndAt:     formatWallClock(a.EndAt),
		Type:      a.Type,
		Channel:   a.Channel,
		Address:   a.Address,
		Status:    string(a.Status),
		CreatedAt: formatWallClock(a.CreatedAt),
	}
	if a.UpdatedAt != nil {
		u := formatWallClock(*a.UpdatedAt)
		resp.UpdatedAt = &u
	}
	return resp
}

func formatWallClock(t time.Time) string {
	return t.Format(wallClockLayout)
}

// parseWallClock accepts wall-clock timestamps with or without seconds. An
// RFC 3339 offset, if present, is dropped: the wall-clock reading is kept.
func parseWallClock(s string) (time.Time, error) {
	for _, layout := range []string{wallClockLayout, "2006-01-02T15:04", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return appointment.WallClock(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q, expected %s", s, wallClockLayout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
