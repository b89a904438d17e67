package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/slot"
)

// Error kinds. Callers classify with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("slot already booked")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnavailable       = errors.New("storage unavailable")
	ErrForbidden         = errors.New("forbidden")
)

var (
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrClinicNotFound      = fmt.Errorf("clinic %w", ErrNotFound)
)

// Repository contains all storage interactions needed by the service.
//
// Implementations must make InsertBooked atomic with respect to the booked-triple
// uniqueness: when another booked row holds (clinic, date, slot) it returns
// ErrConflict and writes nothing.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)

	// Availability
	ListBookedSlots(ctx context.Context, clinicID uuid.UUID, date Date) ([]slot.Slot, error)

	// Creation and updates
	InsertBooked(ctx context.Context, appt *Appointment) (*Appointment, error)
	// TransitionStatus moves id from booked to a terminal status only if its current
	// status is `from`. Any other pair is ErrInvalidTransition. It returns
	// ErrAppointmentNotFound when no row matched.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// Listing
	ListByUser(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error)
	ListByClinic(ctx context.Context, filter ClinicFilter) ([]AppointmentDetail, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
	ListUndispatchedEvents(ctx context.Context, limit int) ([]EventLog, error)
	MarkEventsDispatched(ctx context.Context, ids []int64, at time.Time) error
}

// ClinicDirectory answers whether a clinic may take bookings.
type ClinicDirectory interface {
	GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
}

// AvailabilityCache is an optional read-through cache for free slots. Entries for a
// (clinic, date) are dropped whenever a booking on it changes.
//
// GetAvailability also returns the generation of (clinic, date). Invalidate moves it
// forward, and SetAvailability must not store a list read under an older generation.
type AvailabilityCache interface {
	GetAvailability(ctx context.Context, clinicID uuid.UUID, date Date) (free []slot.Slot, gen int64, ok bool, err error)
	SetAvailability(ctx context.Context, clinicID uuid.UUID, date Date, gen int64, free []slot.Slot) error
	Invalidate(ctx context.Context, clinicID uuid.UUID, date Date) error
}
