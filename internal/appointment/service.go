package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/config"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const (
	EventAppointmentCreated = "APPOINTMENT_CREATED"
	EventStatusChanged      = "APPOINTMENT_STATUS_CHANGED"
)

// maxTransitionAttempts bounds the optimistic retry loop of Transition.
const maxTransitionAttempts = 3

var tracer = otel.Tracer("github.com/hackgods/clinic-scheduling/internal/appointment")

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	hooks    Hooks
	calendar Calendar
	cfg      config.Config
	logger   zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, hooks Hooks, cal Calendar, cfg config.Config, logger zerolog.Logger) *Service {
	if locker == nil {
		locker = redisclient.NoopLocker()
	}
	if hooks == nil {
		hooks = NopHooks()
	}
	if cal == nil {
		cal = DefaultWorkingHours()
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = DefaultDuration
	}
	if cfg.SlotDuration <= 0 {
		cfg.SlotDuration = DefaultDuration
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		hooks:    hooks,
		calendar: cal,
		cfg:      cfg,
		logger:   logger.With().Str("component", "appointment").Logger(),
	}
}

// Book validates req and stores a Scheduled appointment. now is the caller's
// notion of the current tenant-local time.
//
// When a doctor is given, the conflict read and the insert happen under a
// per doctor-day lock, and the store rejects any overlap that slips through
// (lock unavailable, clock skew between instances). Both paths surface as
// *SlotUnavailableError.
func (s *Service) Book(ctx context.Context, req BookRequest, now time.Time) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.Book", trace.WithAttributes(
		attribute.String("tenant_id", req.TenantID.String()),
		attribute.String("patient_id", req.PatientID.String()),
	))
	defer span.End()

	appt, err := s.book(ctx, req, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("appointment_id", appt.ID.String()))
	return appt, nil
}

func (s *Service) book(ctx context.Context, req BookRequest, now time.Time) (*Appointment, error) {
	if req.StartAt.Before(now) {
		return nil, ErrStartInPast
	}

	end := req.StartAt.Add(s.cfg.DefaultDuration)
	if req.EndAt != nil {
		end = *req.EndAt
	}
	if !end.After(req.StartAt) {
		return nil, ErrEndNotAfterStart
	}

	ok, err := s.repo.PatientExists(ctx, req.PatientID)
	if err != nil {
		return nil, transient("load patient", err)
	}
	if !ok {
		return nil, ErrPatientNotFound
	}

	ok, err = s.repo.TenantExists(ctx, req.TenantID)
	if err != nil {
		return nil, transient("load tenant", err)
	}
	if !ok {
		return nil, ErrTenantNotFound
	}

	appt := &Appointment{
		TenantID:  req.TenantID,
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		StartAt:   req.StartAt,
		EndAt:     end,
		Type:      req.Type,
		Channel:   req.Channel,
		Address:   req.Address,
		Status:    StatusScheduled,
		CreatedAt: now,
	}

	if req.DoctorID == nil {
		if err := s.insert(ctx, appt); err != nil {
			return nil, err
		}
	} else {
		if err := s.checkDoctor(ctx, req.TenantID, *req.DoctorID); err != nil {
			return nil, err
		}
		if err := s.insertChecked(ctx, appt); err != nil {
			return nil, err
		}
	}

	s.logEvent(ctx, appt.TenantID, appt.ID, EventAppointmentCreated, now, map[string]any{
		"patient_id": appt.PatientID.String(),
		"doctor_id":  doctorString(appt.DoctorID),
		"start_at":   appt.StartAt,
		"end_at":     appt.EndAt,
	})

	if err := s.hooks.OnAppointmentCreated(ctx, *appt); err != nil {
		s.logger.Warn().Err(err).
			Str("appointment_id", appt.ID.String()).
			Msg("appointment created hook failed")
	}

	return appt, nil
}

// insertChecked runs the conflict pre-check and the insert for a doctor
// appointment as one unit under the doctor-day lock.
func (s *Service) insertChecked(ctx context.Context, appt *Appointment) error {
	doctorID := *appt.DoctorID
	day := dayOf(appt.StartAt)

	critical := func(ctx context.Context) error {
		existing, err := s.repo.AppointmentsForDoctorOnDate(ctx, appt.TenantID, doctorID, day)
		if err != nil {
			return transient("load doctor appointments", err)
		}
		if conflict, busy := FindConflict(doctorID, appt.StartAt, appt.EndAt, existing); busy {
			return newSlotUnavailable(conflict)
		}
		return s.insert(ctx, appt)
	}

	ran := false
	err := s.locker.WithLock(ctx, redisclient.DoctorDayKey(appt.TenantID, doctorID, day), func(lockCtx context.Context) error {
		ran = true
		return critical(lockCtx)
	})
	if ran {
		return err
	}
	if err != nil && ctx.Err() != nil {
		return transient("acquire doctor lock", err)
	}

	// Lock unavailable: the store's exclusion check still decides the race.
	s.logger.Warn().Err(err).
		Str("doctor_id", doctorID.String()).
		Msg("booking without doctor lock")
	return critical(ctx)
}

func (s *Service) insert(ctx context.Context, appt *Appointment) error {
	err := s.repo.InsertAppointment(ctx, appt)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSlotUnavailable) {
		return err
	}
	return transient("insert appointment", err)
}

func (s *Service) checkDoctor(ctx context.Context, tenantID, doctorID uuid.UUID) error {
	ok, err := s.repo.DoctorExists(ctx, doctorID)
	if err != nil {
		return transient("load doctor", err)
	}
	if !ok {
		return ErrDoctorNotFound
	}

	ok, err = s.repo.DoctorBelongsToTenant(ctx, doctorID, tenantID)
	if err != nil {
		return transient("load doctor tenant", err)
	}
	if !ok {
		return ErrDoctorTenantMismatch
	}
	return nil
}

// CheckAvailability reports whether [start, end) is free for the doctor and, if
// not, the earliest conflicting appointment.
func (s *Service) CheckAvailability(ctx context.Context, tenantID, doctorID uuid.UUID, start, end time.Time) (bool, *Appointment, error) {
	if !end.After(start) {
		return false, nil, ErrEndNotAfterStart
	}
	if err := s.checkDoctor(ctx, tenantID, doctorID); err != nil {
		return false, nil, err
	}

	existing, err := s.repo.AppointmentsForDoctorOnDate(ctx, tenantID, doctorID, dayOf(start))
	if err != nil {
		return false, nil, transient("load doctor appointments", err)
	}
	conflict, busy := FindConflict(doctorID, start, end, existing)
	return !busy, conflict, nil
}

// AvailableSlots lists the free slot starts of the doctor on date. A zero
// duration uses the configured slot grid.
func (s *Service) AvailableSlots(ctx context.Context, tenantID, doctorID uuid.UUID, date time.Time, duration time.Duration) ([]time.Time, error) {
	ctx, span := tracer.Start(ctx, "appointment.AvailableSlots")
	defer span.End()

	if duration <= 0 {
		duration = s.cfg.SlotDuration
	}
	if err := s.checkDoctor(ctx, tenantID, doctorID); err != nil {
		return nil, err
	}

	day := dayOf(date)
	booked, err := s.repo.AppointmentsForDoctorOnDate(ctx, tenantID, doctorID, day)
	if err != nil {
		return nil, transient("load doctor appointments", err)
	}

	slots := AvailableSlots(s.calendar, doctorID, day, duration, booked)
	span.SetAttributes(attribute.Int("slots", len(slots)))
	return slots, nil
}

// SlotDuration is the grid used when AvailableSlots gets a zero duration.
func (s *Service) SlotDuration() time.Duration {
	return s.cfg.SlotDuration
}

// Transition moves an appointment to `to`. The read-modify-write is a
// compare-and-set on the current status; a concurrent change is retried
// against the fresh status, which may then reject the transition.
func (s *Service) Transition(ctx context.Context, tenantID, id uuid.UUID, to Status, now time.Time) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.Transition", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
		attribute.String("to", string(to)),
	))
	defer span.End()

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		current, err := s.repo.GetAppointment(ctx, tenantID, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrAppointmentNotFound
			}
			return nil, transient("load appointment", err)
		}

		if err := checkTransition(current.Status, to); err != nil {
			return nil, err
		}

		updated, err := s.repo.UpdateAppointmentStatus(ctx, tenantID, id, current.Status, to, now)
		if errors.Is(err, ErrStaleStatus) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrAppointmentNotFound
			}
			return nil, transient("update appointment status", err)
		}

		s.logEvent(ctx, tenantID, id, EventStatusChanged, now, map[string]any{
			"from": current.Status,
			"to":   to,
		})
		if err := s.hooks.OnStatusChanged(ctx, *updated, current.Status); err != nil {
			s.logger.Warn().Err(err).
				Str("appointment_id", id.String()).
				Str("status", string(to)).
				Msg("status changed hook failed")
		}
		return updated, nil
	}

	return nil, transient("update appointment status", ErrStaleStatus)
}

func (s *Service) Confirm(ctx context.Context, tenantID, id uuid.UUID, now time.Time) (*Appointment, error) {
	return s.Transition(ctx, tenantID, id, StatusConfirmed, now)
}

func (s *Service) Start(ctx context.Context, tenantID, id uuid.UUID, now time.Time) (*Appointment, error) {
	return s.Transition(ctx, tenantID, id, StatusInProgress, now)
}

func (s *Service) Complete(ctx context.Context, tenantID, id uuid.UUID, now time.Time) (*Appointment, error) {
	return s.Transition(ctx, tenantID, id, StatusCompleted, now)
}

func (s *Service) Cancel(ctx context.Context, tenantID, id uuid.UUID, now time.Time) (*Appointment, error) {
	return s.Transition(ctx, tenantID, id, StatusCancelled, now)
}

func (s *Service) MarkNoShow(ctx context.Context, tenantID, id uuid.UUID, now time.Time) (*Appointment, error) {
	return s.Transition(ctx, tenantID, id, StatusNoShow, now)
}

// MarkOverdueNoShows is intended to be called by the worker periodically. It
// marks every Scheduled or Confirmed appointment that ended more than the
// configured grace before now as NoShow and returns how many it changed.
func (s *Service) MarkOverdueNoShows(ctx context.Context, now time.Time, batch int) (int, error) {
	if batch <= 0 {
		batch = 500
	}
	cutoff := now.Add(-s.cfg.NoShowGrace)

	overdue, err := s.repo.FindOverdue(ctx, cutoff, batch)
	if err != nil {
		return 0, transient("find overdue appointments", err)
	}

	marked := 0
	for _, appt := range overdue {
		_, err := s.Transition(ctx, appt.TenantID, appt.ID, StatusNoShow, now)
		if err != nil {
			// Staff may have moved it on since the scan.
			if !errors.Is(err, ErrInvalidTransition) {
				s.logger.Error().Err(err).
					Str("appointment_id", appt.ID.String()).
					Msg("failed to mark appointment as no-show")
			}
			continue
		}
		marked++
	}

	return marked, nil
}

// GetAppointment retrieves one appointment of the tenant.
func (s *Service) GetAppointment(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, transient("get appointment", err)
	}
	return appt, nil
}

// ListAppointments retrieves the tenant's appointments matching f
func (s *Service) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	appointments, err := s.repo.ListAppointments(ctx, f.WithPaging())
	if err != nil {
		return nil, transient("list appointments", err)
	}
	return appointments, nil
}

// logEvent records an audit row stamped with the caller's now.
func (s *Service) logEvent(ctx context.Context, tenantID, appointmentID uuid.UUID, eventType string, at time.Time, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		TenantID:      tenantID,
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     at,
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

func doctorString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
