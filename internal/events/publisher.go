package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

const (
	TypeAppointmentCreated       = "appointment.created.v1"
	TypeAppointmentStatusChanged = "appointment.status_changed.v1"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements appointment.Hooks by writing one Kafka message per
// event. The topic is "<prefix>.<event type>" and the key is the appointment
// id, so all events of one appointment land on one partition in order.
type Publisher struct {
	writer MessageWriter
	prefix string
}

func NewPublisher(w MessageWriter, topicPrefix string) *Publisher {
	return &Publisher{writer: w, prefix: strings.TrimSuffix(topicPrefix, ".")}
}

// NewKafkaWriter builds a writer for the comma separated broker list. Topics
// are set per message.
func NewKafkaWriter(brokers string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(SplitBrokers(brokers)...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type appointmentPayload struct {
	AppointmentID  string  `json:"appointment_id"`
	TenantID       string  `json:"tenant_id"`
	PatientID      string  `json:"patient_id"`
	DoctorID       *string `json:"doctor_id,omitempty"`
	StartAt        string  `json:"start_at"`
	EndAt          string  `json:"end_at"`
	Type           string  `json:"type,omitempty"`
	Channel        string  `json:"channel,omitempty"`
	Status         string  `json:"status"`
	PreviousStatus string  `json:"previous_status,omitempty"`
}

func (p *Publisher) OnAppointmentCreated(ctx context.Context, a appointment.Appointment) error {
	return p.publish(ctx, TypeAppointmentCreated, a, "")
}

func (p *Publisher) OnStatusChanged(ctx context.Context, a appointment.Appointment, from appointment.Status) error {
	return p.publish(ctx, TypeAppointmentStatusChanged, a, from)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func (p *Publisher) topic(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

func (p *Publisher) publish(ctx context.Context, eventType string, a appointment.Appointment, from appointment.Status) error {
	payload := appointmentPayload{
		AppointmentID:  a.ID.String(),
		TenantID:       a.TenantID.String(),
		PatientID:      a.PatientID.String(),
		StartAt:        a.StartAt.Format(time.DateTime),
		EndAt:          a.EndAt.Format(time.DateTime),
		Type:           a.Type,
		Channel:        a.Channel,
		Status:         string(a.Status),
		PreviousStatus: string(from),
	}
	if a.DoctorID != nil {
		d := a.DoctorID.String()
		payload.DoctorID = &d
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	msg := kafka.Message{
		Topic: p.topic(eventType),
		Key:   []byte(a.ID.String()),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(uuid.NewString())},
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "tenant_id", Value: []byte(a.TenantID.String())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
