package appointment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_InsertRejectsOverlap(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	doctorID := uuid.New()

	first := booked(doctorID, at(10, 0), at(11, 0), StatusScheduled)
	require.NoError(t, repo.InsertAppointment(ctx, &first))

	second := booked(doctorID, at(10, 30), at(11, 30), StatusScheduled)
	second.TenantID = first.TenantID
	err := repo.InsertAppointment(ctx, &second)

	var slotErr *SlotUnavailableError
	require.ErrorAs(t, err, &slotErr)
	assert.Equal(t, first.ID, slotErr.ConflictID)
}

func TestMemoryRepository_ExclusionIsPerTenant(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	doctorID := uuid.New()

	a := booked(doctorID, at(10, 0), at(11, 0), StatusScheduled)
	b := booked(doctorID, at(10, 0), at(11, 0), StatusScheduled)

	require.NoError(t, repo.InsertAppointment(ctx, &a))
	assert.NoError(t, repo.InsertAppointment(ctx, &b))
}

func TestMemoryRepository_CrossMidnightOverlap(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	doctorID := uuid.New()

	late := booked(doctorID, at(23, 30), at(24, 30), StatusConfirmed)
	require.NoError(t, repo.InsertAppointment(ctx, &late))

	early := booked(doctorID, at(24, 0), at(24, 15), StatusScheduled)
	early.TenantID = late.TenantID
	err := repo.InsertAppointment(ctx, &early)
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	// The start-day bucket of the next day does not contain the late booking.
	bucket, err := repo.AppointmentsForDoctorOnDate(ctx, late.TenantID, doctorID, at(24, 0))
	require.NoError(t, err)
	assert.Empty(t, bucket)
}

func TestMemoryRepository_UpdateStatusCompareAndSet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	a := booked(uuid.New(), at(10, 0), at(11, 0), StatusScheduled)
	require.NoError(t, repo.InsertAppointment(ctx, &a))

	updated, err := repo.UpdateAppointmentStatus(ctx, a.TenantID, a.ID, StatusScheduled, StatusConfirmed, at(9, 0))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)
	assert.Equal(t, at(9, 0), *updated.UpdatedAt)

	_, err = repo.UpdateAppointmentStatus(ctx, a.TenantID, a.ID, StatusScheduled, StatusCancelled, at(9, 5))
	assert.ErrorIs(t, err, ErrStaleStatus)

	_, err = repo.UpdateAppointmentStatus(ctx, uuid.New(), a.ID, StatusConfirmed, StatusCancelled, at(9, 5))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	a := booked(uuid.New(), at(10, 0), at(11, 0), StatusScheduled)
	require.NoError(t, repo.InsertAppointment(ctx, &a))

	got, err := repo.GetAppointment(ctx, a.TenantID, a.ID)
	require.NoError(t, err)
	*got.DoctorID = uuid.New()
	got.Status = StatusCancelled

	again, err := repo.GetAppointment(ctx, a.TenantID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, *a.DoctorID, *again.DoctorID)
	assert.Equal(t, StatusScheduled, again.Status)
}

func TestMemoryRepository_FindOverdue(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	doctorID := uuid.New()

	for _, a := range []Appointment{
		booked(doctorID, at(8, 0), at(8, 30), StatusScheduled),
		booked(doctorID, at(8, 30), at(9, 0), StatusConfirmed),
		booked(doctorID, at(9, 0), at(9, 30), StatusInProgress),
		booked(doctorID, at(9, 30), at(10, 0), StatusCancelled),
		booked(doctorID, at(12, 0), at(12, 30), StatusScheduled),
	} {
		a := a
		require.NoError(t, repo.InsertAppointment(ctx, &a))
	}

	overdue, err := repo.FindOverdue(ctx, at(11, 0), 0)
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	assert.Equal(t, at(8, 30), overdue[0].EndAt)
	assert.Equal(t, at(9, 0), overdue[1].EndAt)

	overdue, err = repo.FindOverdue(ctx, at(11, 0), 1)
	require.NoError(t, err)
	assert.Len(t, overdue, 1)
}

func TestMemoryRepository_InsertConflictTieBreak(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	doctorID := uuid.New()
	tenantID := uuid.New()

	// Two rows with the same start only exist in imported data; the reported
	// conflict must still be stable.
	var ids []uuid.UUID
	for range 5 {
		a := booked(doctorID, at(10, 0), at(10, 30), StatusScheduled)
		a.TenantID = tenantID
		repo.appointments[a.ID] = &a
		ids = append(ids, a.ID)
	}
	want := ids[0]
	for _, id := range ids[1:] {
		if id.String() < want.String() {
			want = id
		}
	}

	for range 20 {
		candidate := booked(doctorID, at(10, 15), at(10, 45), StatusScheduled)
		candidate.TenantID = tenantID
		err := repo.InsertAppointment(ctx, &candidate)

		var slotErr *SlotUnavailableError
		require.ErrorAs(t, err, &slotErr)
		assert.Equal(t, want, slotErr.ConflictID)
	}
}
