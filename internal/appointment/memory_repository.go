package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a Repository held in process memory. Inserts and status
// updates are serialized by one mutex, which makes the doctor exclusion check
// atomic with the write. It backs tests and STORE_DRIVER=memory.
type MemoryRepository struct {
	mu           sync.RWMutex
	tenants      map[uuid.UUID]bool
	patients     map[uuid.UUID]bool
	doctors      map[uuid.UUID]uuid.UUID // doctor -> tenant
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tenants:      make(map[uuid.UUID]bool),
		patients:     make(map[uuid.UUID]bool),
		doctors:      make(map[uuid.UUID]uuid.UUID),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (m *MemoryRepository) AddTenant(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[id] = true
}

func (m *MemoryRepository) AddPatient(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[id] = true
}

func (m *MemoryRepository) AddDoctor(id, tenantID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[id] = tenantID
}

func (m *MemoryRepository) PatientExists(_ context.Context, patientID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.patients[patientID], nil
}

func (m *MemoryRepository) TenantExists(_ context.Context, tenantID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenants[tenantID], nil
}

func (m *MemoryRepository) DoctorExists(_ context.Context, doctorID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.doctors[doctorID]
	return ok, nil
}

func (m *MemoryRepository) DoctorBelongsToTenant(_ context.Context, doctorID, tenantID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.doctors[doctorID]
	return ok && t == tenantID, nil
}

func (m *MemoryRepository) AppointmentsForDoctorOnDate(_ context.Context, tenantID, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Appointment
	for _, a := range m.appointments {
		if a.TenantID != tenantID || !a.HasDoctor(doctorID) || !a.Active() {
			continue
		}
		if !sameDay(a.StartAt, date) {
			continue
		}
		out = append(out, copyAppointment(a))
	}
	sortByStart(out)
	return out, nil
}

func (m *MemoryRepository) InsertAppointment(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.DoctorID != nil && a.Active() {
		var conflict *Appointment
		for _, other := range m.appointments {
			if other.TenantID != a.TenantID || !other.HasDoctor(*a.DoctorID) || !other.Active() {
				continue
			}
			if !Overlaps(a.StartAt, a.EndAt, other.StartAt, other.EndAt) {
				continue
			}
			if conflict == nil || startsBefore(other, conflict) {
				conflict = other
			}
		}
		if conflict != nil {
			return newSlotUnavailable(conflict)
		}
	}

	a.ID = uuid.New()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	stored := copyAppointment(a)
	m.appointments[a.ID] = &stored
	return nil
}

func (m *MemoryRepository) GetAppointment(_ context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.appointments[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrAppointmentNotFound
	}
	c := copyAppointment(a)
	return &c, nil
}

func (m *MemoryRepository) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Appointment
	for _, a := range m.appointments {
		if a.TenantID != f.TenantID {
			continue
		}
		if f.DoctorID != nil && !a.HasDoctor(*f.DoctorID) {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && a.StartAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !a.StartAt.Before(f.To) {
			continue
		}
		out = append(out, copyAppointment(a))
	}
	sortByStart(out)

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) UpdateAppointmentStatus(_ context.Context, tenantID, id uuid.UUID, from, to Status, at time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStaleStatus
	}

	a.Status = to
	updatedAt := at
	a.UpdatedAt = &updatedAt

	c := copyAppointment(a)
	return &c, nil
}

func (m *MemoryRepository) FindOverdue(_ context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Appointment
	for _, a := range m.appointments {
		if (a.Status == StatusScheduled || a.Status == StatusConfirmed) && a.EndAt.Before(cutoff) {
			out = append(out, copyAppointment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndAt.Before(out[j].EndAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the audit log.
func (m *MemoryRepository) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]EventLog(nil), m.events...)
}

func copyAppointment(a *Appointment) Appointment {
	c := *a
	if a.DoctorID != nil {
		d := *a.DoctorID
		c.DoctorID = &d
	}
	if a.Address != nil {
		addr := *a.Address
		c.Address = &addr
	}
	if a.UpdatedAt != nil {
		u := *a.UpdatedAt
		c.UpdatedAt = &u
	}
	return c
}

func sortByStart(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].StartAt.Equal(appts[j].StartAt) {
			return appts[i].ID.String() < appts[j].ID.String()
		}
		return appts[i].StartAt.Before(appts[j].StartAt)
	})
}
