package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/slot"
)

type AppointmentStatus string

const (
	StatusBooked    AppointmentStatus = "booked"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// Terminal reports whether no transition may leave s.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func ParseStatus(raw string) (AppointmentStatus, error) {
	switch st := AppointmentStatus(strings.ToLower(strings.TrimSpace(raw))); st {
	case StatusBooked, StatusCancelled, StatusCompleted:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
	}
}

type ClinicStatus string

const (
	ClinicPending  ClinicStatus = "pending"
	ClinicApproved ClinicStatus = "approved"
	ClinicRejected ClinicStatus = "rejected"
)

// DateLayout is the only accepted calendar date format.
const DateLayout = "2006-01-02"

// Date is a calendar date without a time of day, kept in DateLayout form so that
// string comparison is chronological.
type Date string

func ParseDate(raw string) (Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: date is required", ErrValidation)
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return "", fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	return DateOf(t), nil
}

// DateOf drops the time of day from t as seen in t's own location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

func (d Date) String() string { return string(d) }

// Time returns midnight UTC of d.
func (d Date) Time() time.Time {
	t, _ := time.Parse(DateLayout, string(d))
	return t
}

func (d Date) Before(other Date) bool { return d < other }

type Clinic struct {
	ID        uuid.UUID
	Name      string
	Address   *string
	Phone     *string
	Status    ClinicStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ClinicID  uuid.UUID
	Date      Date
	Slot      slot.Slot
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

type AppointmentDetail struct {
	Appointment
	Clinic *Clinic
}

// CreateRequest carries the inputs of a booking. UserID must already be bound to a
// verified caller identity.
type CreateRequest struct {
	UserID   uuid.UUID
	ClinicID uuid.UUID
	Date     Date
	Slot     slot.Slot
}

// ClinicFilter narrows a clinic's bookings list. Nil fields do not filter.
type ClinicFilter struct {
	ClinicID uuid.UUID
	Date     *Date
	Status   *AppointmentStatus
}

type Role string

const (
	RoleUser   Role = "user"
	RoleClinic Role = "clinic"
	RoleAdmin  Role = "admin"
)

// Caller is the verified identity behind a request.
type Caller struct {
	UserID   uuid.UUID
	Role     Role
	ClinicID *uuid.UUID
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// OwnsClinic reports whether c manages the given clinic.
func (c Caller) OwnsClinic(clinicID uuid.UUID) bool {
	return c.Role == RoleClinic && c.ClinicID != nil && *c.ClinicID == clinicID
}

// lessAppointment orders appointments by date, then by catalog slot position.
func lessAppointment(a, b *Appointment) bool {
	if a.Date != b.Date {
		return a.Date < b.Date
	}
	return slot.Less(a.Slot, b.Slot)
}
