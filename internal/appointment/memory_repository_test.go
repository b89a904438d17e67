package appointment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_TransitionOnlyLeavesBooked(t *testing.T) {
	repo := NewMemoryRepository()
	clinicID := uuid.New()
	repo.AddClinic(Clinic{ID: clinicID, Name: "Oak Clinic", Status: ClinicApproved})
	ctx := context.Background()

	appt, err := repo.InsertBooked(ctx, &Appointment{UserID: uuid.New(), ClinicID: clinicID, Date: "2025-06-01", Slot: "04:00 PM"})
	require.NoError(t, err)

	for _, pair := range [][2]AppointmentStatus{
		{StatusBooked, StatusBooked},
		{StatusCancelled, StatusBooked},
		{StatusCompleted, StatusCancelled},
	} {
		_, err := repo.TransitionStatus(ctx, appt.ID, pair[0], pair[1])
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", pair[0], pair[1])
	}

	_, err = repo.TransitionStatus(ctx, appt.ID, StatusBooked, StatusCancelled)
	require.NoError(t, err)

	booked, err := repo.ListBookedSlots(ctx, clinicID, "2025-06-01")
	require.NoError(t, err)
	assert.Empty(t, booked)

	_, err = repo.TransitionStatus(ctx, appt.ID, StatusBooked, StatusCompleted)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestMemoryRepository_EventLogIsCapped(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SetEventLimit(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.InsertEvent(ctx, EventLog{EventType: EventAppointmentBooked}))
	}

	events := repo.Events()
	require.Len(t, events, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{events[0].ID, events[1].ID, events[2].ID})

	pending, err := repo.ListUndispatchedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	repo.SetEventLimit(1)
	events = repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, int64(5), events[0].ID)
}

func TestMemoryRepository_DefaultEventLimit(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for i := 0; i < DefaultMemoryEventLimit+10; i++ {
		require.NoError(t, repo.InsertEvent(ctx, EventLog{EventType: EventAppointmentCancelled}))
	}
	assert.Len(t, repo.Events(), DefaultMemoryEventLimit)
}
