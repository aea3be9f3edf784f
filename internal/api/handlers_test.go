package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
)

type testServer struct {
	handler  http.Handler
	tenantID uuid.UUID
	doctorID uuid.UUID
	patient  uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo := appointment.NewMemoryRepository()
	ts := &testServer{tenantID: uuid.New(), doctorID: uuid.New(), patient: uuid.New()}
	repo.AddTenant(ts.tenantID)
	repo.AddPatient(ts.patient)
	repo.AddDoctor(ts.doctorID, ts.tenantID)

	cfg := config.Config{SlotDuration: 30 * time.Minute, DefaultDuration: 30 * time.Minute}
	svc := appointment.NewService(repo, nil, nil, nil, cfg, zerolog.Nop())

	ts.handler = NewRouter(RouterConfig{
		Service: svc,
		Logger:  zerolog.Nop(),
		Env:     "test",
		Version: "test",
		Clock: func() time.Time {
			return time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
		},
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", ts.tenantID.String())

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) create(t *testing.T, start, end string) *httptest.ResponseRecorder {
	t.Helper()
	doctor := ts.doctorID.String()
	req := CreateAppointmentRequest{
		PatientID: ts.patient.String(),
		DoctorID:  &doctor,
		StartAt:   start,
		Type:      "consultation",
		Channel:   "video",
	}
	if end != "" {
		req.EndAt = &end
	}
	return ts.do(t, http.MethodPost, "/appointments", req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestCreateAppointment(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.create(t, "2025-03-10T10:00:00", "")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "scheduled", resp.Status)
	assert.Equal(t, "2025-03-10T10:00:00", resp.StartAt)
	assert.Equal(t, "2025-03-10T10:30:00", resp.EndAt)
	assert.Equal(t, "2025-03-10T07:00:00", resp.CreatedAt)
	assert.Equal(t, ts.tenantID, resp.TenantID)
	require.NotNil(t, resp.DoctorID)
	assert.Equal(t, ts.doctorID, *resp.DoctorID)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateAppointment_Conflict(t *testing.T) {
	ts := newTestServer(t)
	first := decode[AppointmentResponse](t, ts.create(t, "2025-03-10T10:00:00", "2025-03-10T11:00:00"))

	rec := ts.create(t, "2025-03-10T10:30", "2025-03-10T11:30")

	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "slot_unavailable", resp.Error)
	require.NotNil(t, resp.Conflict)
	assert.Equal(t, first.ID, resp.Conflict.AppointmentID)
	assert.Equal(t, "2025-03-10T10:00:00", resp.Conflict.StartAt)
}

func TestCreateAppointment_Errors(t *testing.T) {
	ts := newTestServer(t)
	unknown := uuid.New().String()
	doctor := ts.doctorID.String()

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"bad json", "not an object", http.StatusBadRequest, "invalid_request_body"},
		{"bad patient id", CreateAppointmentRequest{PatientID: "x", StartAt: "2025-03-10T10:00:00"}, http.StatusBadRequest, "invalid_patient_id"},
		{"bad start", CreateAppointmentRequest{PatientID: ts.patient.String(), StartAt: "tomorrow"}, http.StatusBadRequest, "invalid_start_at"},
		{"start in past", CreateAppointmentRequest{PatientID: ts.patient.String(), DoctorID: &doctor, StartAt: "2025-03-10T06:00:00"}, http.StatusBadRequest, "start_in_past"},
		{"unknown patient", CreateAppointmentRequest{PatientID: unknown, StartAt: "2025-03-10T10:00:00"}, http.StatusNotFound, "patient_not_found"},
		{"unknown doctor", CreateAppointmentRequest{PatientID: ts.patient.String(), DoctorID: &unknown, StartAt: "2025-03-10T10:00:00"}, http.StatusNotFound, "doctor_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/appointments", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestCreateAppointment_EndBeforeStart(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.create(t, "2025-03-10T10:00:00", "2025-03-10T09:00:00")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_time_range", decode[ErrorResponse](t, rec).Error)
}

func TestTenantHeaderRequired(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_tenant", decode[ErrorResponse](t, rec).Error)

	req = httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set("X-Tenant-ID", "clinic-1")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, "invalid_tenant_id", decode[ErrorResponse](t, rec).Error)
}

func TestTransitionAppointment(t *testing.T) {
	ts := newTestServer(t)
	created := decode[AppointmentResponse](t, ts.create(t, "2025-03-10T10:00:00", ""))
	base := "/appointments/" + created.ID.String()

	rec := ts.do(t, http.MethodPost, base+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "confirmed", resp.Status)
	require.NotNil(t, resp.UpdatedAt)
	assert.Equal(t, "2025-03-10T07:00:00", *resp.UpdatedAt)

	rec = ts.do(t, http.MethodPost, base+"/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodPost, base+"/teleport", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_action", decode[ErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodPost, "/appointments/"+uuid.NewString()+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decode[ErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodPost, base+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The slot is free again.
	rec = ts.create(t, "2025-03-10T10:00:00", "")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestGetAndListAppointments(t *testing.T) {
	ts := newTestServer(t)
	a := decode[AppointmentResponse](t, ts.create(t, "2025-03-10T09:00:00", ""))
	decode[AppointmentResponse](t, ts.create(t, "2025-03-10T10:00:00", ""))

	rec := ts.do(t, http.MethodGet, "/appointments/"+a.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, a.ID, decode[AppointmentResponse](t, rec).ID)

	rec = ts.do(t, http.MethodGet, "/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/appointments?doctor_id="+ts.doctorID.String()+"&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListAppointmentsResponse](t, rec)
	require.Len(t, list.Items, 1)
	assert.Equal(t, a.ID, list.Items[0].ID)
	assert.Equal(t, 1, list.Limit)

	rec = ts.do(t, http.MethodGet, "/appointments", nil)
	list = decode[ListAppointmentsResponse](t, rec)
	assert.Len(t, list.Items, 2)
	assert.Equal(t, appointment.DefaultListLimit, list.Limit)

	rec = ts.do(t, http.MethodGet, "/appointments?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_status", decode[ErrorResponse](t, rec).Error)
}

func TestAvailableSlots(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, "2025-03-10T09:00:00", "")

	rec := ts.do(t, http.MethodGet, "/doctors/"+ts.doctorID.String()+"/slots?date=2025-03-10", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SlotsResponse](t, rec)
	assert.Equal(t, 30, resp.DurationMinutes)
	assert.Len(t, resp.Slots, 15)
	assert.Equal(t, "2025-03-10T08:00:00", resp.Slots[0])
	assert.NotContains(t, resp.Slots, "2025-03-10T09:00:00")

	rec = ts.do(t, http.MethodGet, "/doctors/"+ts.doctorID.String()+"/slots?date=2025-03-10&duration=60", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 60, decode[SlotsResponse](t, rec).DurationMinutes)

	rec = ts.do(t, http.MethodGet, "/doctors/"+ts.doctorID.String()+"/slots?date=10-03-2025", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/doctors/"+uuid.NewString()+"/slots?date=2025-03-10", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckAvailability(t *testing.T) {
	ts := newTestServer(t)
	created := decode[AppointmentResponse](t, ts.create(t, "2025-03-10T09:00:00", ""))
	path := "/doctors/" + ts.doctorID.String() + "/availability"

	rec := ts.do(t, http.MethodGet, path+"?start=2025-03-10T09:15:00&end=2025-03-10T09:45:00", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[AvailabilityResponse](t, rec)
	assert.False(t, resp.Available)
	require.NotNil(t, resp.Conflict)
	assert.Equal(t, created.ID, resp.Conflict.AppointmentID)

	rec = ts.do(t, http.MethodGet, path+"?start=2025-03-10T09:30:00&end=2025-03-10T10:00:00", nil)
	resp = decode[AvailabilityResponse](t, rec)
	assert.True(t, resp.Available)
	assert.Nil(t, resp.Conflict)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "disabled", resp.Dependencies["postgres"])
	assert.Equal(t, "disabled", resp.Dependencies["redis"])
}

func TestParseWallClock(t *testing.T) {
	want := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

	for _, in := range []string{"2025-03-10T09:30:00", "2025-03-10T09:30", "2025-03-10T09:30:00+05:00"} {
		got, err := parseWallClock(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
	}

	_, err := parseWallClock("09:30")
	assert.Error(t, err)
}
