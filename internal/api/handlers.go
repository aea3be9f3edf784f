package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

// actions maps the last path segment of POST /appointments/{id}/{action}.
var actions = map[string]appointment.Status{
	"confirm":  appointment.StatusConfirmed,
	"start":    appointment.StatusInProgress,
	"complete": appointment.StatusCompleted,
	"cancel":   appointment.StatusCancelled,
	"no-show":  appointment.StatusNoShow,
}

type handlers struct {
	svc    *appointment.Service
	now    func() time.Time
	logger zerolog.Logger
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordBooking("invalid_request")
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	book, code, msg := req.toBookRequest(TenantFromContext(r.Context()))
	if code != "" {
		metrics.RecordBooking("invalid_request")
		writeError(w, http.StatusBadRequest, code, msg)
		return
	}

	appt, err := h.svc.Book(r.Context(), book, h.now())
	if err != nil {
		metrics.RecordBooking(h.writeServiceError(w, r, err))
		return
	}

	metrics.RecordBooking("created")
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (req CreateAppointmentRequest) toBookRequest(tenantID uuid.UUID) (appointment.BookRequest, string, string) {
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return appointment.BookRequest{}, "invalid_patient_id", "patient_id must be a valid UUID"
	}

	book := appointment.BookRequest{
		TenantID:  tenantID,
		PatientID: patientID,
		Type:      req.Type,
		Channel:   req.Channel,
		Address:   req.Address,
	}

	if req.DoctorID != nil && *req.DoctorID != "" {
		doctorID, err := uuid.Parse(*req.DoctorID)
		if err != nil {
			return appointment.BookRequest{}, "invalid_doctor_id", "doctor_id must be a valid UUID"
		}
		book.DoctorID = &doctorID
	}

	book.StartAt, err = parseWallClock(req.StartAt)
	if err != nil {
		return appointment.BookRequest{}, "invalid_start_at", err.Error()
	}

	if req.EndAt != nil && *req.EndAt != "" {
		end, err := parseWallClock(*req.EndAt)
		if err != nil {
			return appointment.BookRequest{}, "invalid_end_at", err.Error()
		}
		book.EndAt = &end
	}

	return book, "", ""
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), TenantFromContext(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := appointment.ListFilter{
		TenantID: TenantFromContext(r.Context()),
		Status:   appointment.Status(q.Get("status")),
	}

	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+q.Get("status"))
		return
	}
	if v := q.Get("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		f.DoctorID = &id
	}
	if v := q.Get("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		f.PatientID = &id
	}
	for key, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if v := q.Get(key); v != "" {
			t, err := parseWallClock(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_"+key, err.Error())
				return
			}
			*dst = t
		}
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	f = f.WithPaging()

	items, err := h.svc.ListAppointments(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := ListAppointmentsResponse{Items: make([]AppointmentResponse, 0, len(items)), Limit: f.Limit, Offset: f.Offset}
	for i := range items {
		resp.Items = append(resp.Items, toAppointmentResponse(&items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) transitionAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	action := chi.URLParam(r, "action")
	to, ok := actions[action]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_action", "unknown appointment action "+action)
		return
	}

	appt, err := h.svc.Transition(r.Context(), TenantFromContext(r.Context()), id, to, h.now())
	if err != nil {
		metrics.RecordTransition(string(to), h.writeServiceError(w, r, err))
		return
	}

	metrics.RecordTransition(string(to), "ok")
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) availableSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
		return
	}

	date, err := time.Parse(time.DateOnly, r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	var duration time.Duration
	if v := r.URL.Query().Get("duration"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a positive number of minutes")
			return
		}
		duration = time.Duration(minutes) * time.Minute
	}

	slots, err := h.svc.AvailableSlots(r.Context(), TenantFromContext(r.Context()), doctorID, date, duration)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if duration == 0 {
		duration = h.svc.SlotDuration()
	}
	resp := SlotsResponse{
		DoctorID:        doctorID,
		Date:            date.Format(time.DateOnly),
		DurationMinutes: int(duration / time.Minute),
		Slots:           make([]string, 0, len(slots)),
	}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, formatWallClock(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) checkAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
		return
	}

	start, err := parseWallClock(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start", err.Error())
		return
	}
	end, err := parseWallClock(r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_end", err.Error())
		return
	}

	available, conflict, err := h.svc.CheckAvailability(r.Context(), TenantFromContext(r.Context()), doctorID, start, end)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := AvailabilityResponse{
		DoctorID:  doctorID,
		StartAt:   formatWallClock(start),
		EndAt:     formatWallClock(end),
		Available: available,
	}
	if conflict != nil {
		resp.Conflict = &ConflictResponse{
			AppointmentID: conflict.ID,
			StartAt:       formatWallClock(conflict.StartAt),
			EndAt:         formatWallClock(conflict.EndAt),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeServiceError maps a service error to a response and returns the error code.
func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) string {
	var slotErr *appointment.SlotUnavailableError

	switch {
	case errors.Is(err, appointment.ErrStartInPast):
		writeError(w, http.StatusBadRequest, "start_in_past", err.Error())
		return "start_in_past"
	case errors.Is(err, appointment.ErrInvalidTimeRange):
		writeError(w, http.StatusBadRequest, "invalid_time_range", err.Error())
		return "invalid_time_range"
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
		return "patient_not_found"
	case errors.Is(err, appointment.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, "tenant_not_found", err.Error())
		return "tenant_not_found"
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
		return "doctor_not_found"
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
		return "appointment_not_found"
	case errors.Is(err, appointment.ErrDoctorTenantMismatch):
		writeError(w, http.StatusUnprocessableEntity, "doctor_tenant_mismatch", err.Error())
		return "doctor_tenant_mismatch"
	case errors.As(err, &slotErr):
		resp := ErrorResponse{Error: "slot_unavailable", Details: err.Error()}
		if slotErr.ConflictID != uuid.Nil {
			resp.Conflict = &ConflictResponse{
				AppointmentID: slotErr.ConflictID,
				StartAt:       formatWallClock(slotErr.ConflictStart),
				EndAt:         formatWallClock(slotErr.ConflictEnd),
			}
		}
		writeJSON(w, http.StatusConflict, resp)
		return "slot_unavailable"
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
		return "invalid_status_transition"
	case errors.Is(err, appointment.ErrTransient):
		h.logger.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("storage failure")
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage temporarily unavailable, please retry")
		return "storage_unavailable"
	default:
		h.logger.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return "internal_error"
	}
}
