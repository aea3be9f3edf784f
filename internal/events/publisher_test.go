package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func sample() appointment.Appointment {
	doctorID := uuid.New()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	return appointment.Appointment{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  &doctorID,
		StartAt:   start,
		EndAt:     start.Add(30 * time.Minute),
		Type:      "consultation",
		Channel:   "video",
		Status:    appointment.StatusScheduled,
	}
}

func TestPublisher_OnAppointmentCreated(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, "scheduling.")
	a := sample()

	require.NoError(t, p.OnAppointmentCreated(context.Background(), a))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "scheduling.appointment.created.v1", msg.Topic)
	assert.Equal(t, a.ID.String(), string(msg.Key))
	assert.Equal(t, TypeAppointmentCreated, header(msg, "event_type"))
	assert.Equal(t, a.TenantID.String(), header(msg, "tenant_id"))
	assert.NotEmpty(t, header(msg, "event_id"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, "scheduled", payload["status"])
	assert.Equal(t, "2025-03-10 09:00:00", payload["start_at"])
	assert.Equal(t, a.DoctorID.String(), payload["doctor_id"])
	assert.NotContains(t, payload, "previous_status")
}

func TestPublisher_OnStatusChanged(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, "")
	a := sample()
	a.Status = appointment.StatusCancelled
	a.DoctorID = nil

	require.NoError(t, p.OnStatusChanged(context.Background(), a, appointment.StatusConfirmed))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, TypeAppointmentStatusChanged, w.msgs[0].Topic)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &payload))
	assert.Equal(t, "cancelled", payload["status"])
	assert.Equal(t, "confirmed", payload["previous_status"])
	assert.NotContains(t, payload, "doctor_id")
}

func TestPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := NewPublisher(w, "scheduling")

	err := p.OnAppointmentCreated(context.Background(), sample())
	assert.ErrorContains(t, err, "leader not available")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, SplitBrokers(""))
}
