package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-slot-booking/internal/slot"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

// Create outcomes reported to BookingMetrics.
const (
	OutcomeCreated     = "created"
	OutcomeConflict    = "conflict"
	OutcomeInvalid     = "invalid"
	OutcomeUnavailable = "unavailable"
)

// BookingMetrics receives booking outcomes. See internal/metrics.
type BookingMetrics interface {
	ObserveCreate(outcome string)
	ObserveTransition(to AppointmentStatus)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCreate(string)               {}
func (noopMetrics) ObserveTransition(AppointmentStatus) {}

type Service struct {
	repo            Repository
	clinics         ClinicDirectory
	cache           AvailabilityCache
	metrics         BookingMetrics
	logger          zerolog.Logger
	now             func() time.Time
	rejectPastDates bool
}

type Option func(*Service)

func WithCache(c AvailabilityCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithMetrics(m BookingMetrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPastDateRejection makes CreateBooking refuse dates before today.
func WithPastDateRejection(enabled bool) Option {
	return func(s *Service) { s.rejectPastDates = enabled }
}

func NewService(repo Repository, clinics ClinicDirectory, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		clinics: clinics,
		metrics: noopMetrics{},
		logger:  logger.With().Str("component", "booking").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetAvailability returns the catalog, in order, minus every slot that holds a
// booked appointment for (clinicID, date). The result may be stale by the time the
// caller books; CreateBooking is the authority on conflicts.
func (s *Service) GetAvailability(ctx context.Context, clinicID uuid.UUID, date Date) ([]slot.Slot, error) {
	if clinicID == uuid.Nil {
		return nil, fmt.Errorf("%w: clinic_id is required", ErrValidation)
	}
	if err := validateDate(date); err != nil {
		return nil, err
	}
	if err := s.requireClinic(ctx, clinicID); err != nil {
		return nil, err
	}

	// The generation is read before the store so a list that raced with a booking
	// change is never written back.
	var (
		gen      int64
		fillable bool
	)
	if s.cache != nil {
		free, g, ok, err := s.cache.GetAvailability(ctx, clinicID, date)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Str("clinic_id", clinicID.String()).Str("date", date.String()).Msg("availability cache read failed")
		case ok:
			return free, nil
		default:
			gen, fillable = g, true
		}
	}

	booked, err := s.repo.ListBookedSlots(ctx, clinicID, date)
	if err != nil {
		return nil, storageError("list booked slots", err)
	}

	free := freeSlots(booked)

	if fillable {
		if err := s.cache.SetAvailability(ctx, clinicID, date, gen, free); err != nil {
			s.logger.Warn().Err(err).Str("clinic_id", clinicID.String()).Msg("availability cache write failed")
		}
	}

	return free, nil
}

func freeSlots(booked []slot.Slot) []slot.Slot {
	taken := make(map[slot.Slot]struct{}, len(booked))
	for _, b := range booked {
		taken[b] = struct{}{}
	}

	free := make([]slot.Slot, 0, slot.Len())
	for _, s := range slot.All() {
		if _, ok := taken[s]; !ok {
			free = append(free, s)
		}
	}
	return free
}

// CreateBooking books req.Slot for req.UserID. The duplicate check happens inside
// the repository's insert, never as a separate read.
func (s *Service) CreateBooking(ctx context.Context, req CreateRequest) (*Appointment, error) {
	if err := s.validateCreate(req); err != nil {
		s.metrics.ObserveCreate(OutcomeInvalid)
		return nil, err
	}

	if err := s.requireClinic(ctx, req.ClinicID); err != nil {
		if errors.Is(err, ErrUnavailable) {
			s.metrics.ObserveCreate(OutcomeUnavailable)
		} else {
			s.metrics.ObserveCreate(OutcomeInvalid)
		}
		return nil, err
	}

	appt, err := s.repo.InsertBooked(ctx, &Appointment{
		UserID:   req.UserID,
		ClinicID: req.ClinicID,
		Date:     req.Date,
		Slot:     req.Slot,
		Status:   StatusBooked,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			s.metrics.ObserveCreate(OutcomeConflict)
			s.logger.Info().
				Str("clinic_id", req.ClinicID.String()).
				Str("date", req.Date.String()).
				Str("slot", req.Slot.String()).
				Msg("slot already booked")
			return nil, err
		case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
			s.metrics.ObserveCreate(OutcomeInvalid)
			return nil, err
		default:
			s.metrics.ObserveCreate(OutcomeUnavailable)
			return nil, storageError("insert appointment", err)
		}
	}

	s.metrics.ObserveCreate(OutcomeCreated)
	s.invalidate(ctx, appt.ClinicID, appt.Date)
	s.logEvent(ctx, appt.ID, EventAppointmentBooked, map[string]any{
		"user_id":   appt.UserID.String(),
		"clinic_id": appt.ClinicID.String(),
		"date":      appt.Date.String(),
		"slot":      appt.Slot.String(),
	})

	return appt, nil
}

func (s *Service) validateCreate(req CreateRequest) error {
	if req.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if req.ClinicID == uuid.Nil {
		return fmt.Errorf("%w: clinic_id is required", ErrValidation)
	}
	if err := validateDate(req.Date); err != nil {
		return err
	}
	if req.Slot == "" {
		return fmt.Errorf("%w: slot is required", ErrValidation)
	}
	if !slot.Valid(req.Slot) {
		return fmt.Errorf("%w: slot %q is not offered", ErrValidation, req.Slot)
	}
	if s.rejectPastDates && req.Date.Before(DateOf(s.now())) {
		return fmt.Errorf("%w: date %s is in the past", ErrValidation, req.Date)
	}
	return nil
}

func validateDate(d Date) error {
	if d == "" {
		return fmt.Errorf("%w: date is required", ErrValidation)
	}
	if _, err := time.Parse(DateLayout, string(d)); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	return nil
}

// ListBookings returns every appointment owned by userID ordered by date, then slot.
func (s *Service) ListBookings(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}

	appts, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, storageError("list appointments by user", err)
	}
	return appts, nil
}

// ListClinicBookings backs the clinic dashboard.
func (s *Service) ListClinicBookings(ctx context.Context, filter ClinicFilter) ([]AppointmentDetail, error) {
	if filter.ClinicID == uuid.Nil {
		return nil, fmt.Errorf("%w: clinic_id is required", ErrValidation)
	}
	if filter.Date != nil {
		if err := validateDate(*filter.Date); err != nil {
			return nil, err
		}
	}

	appts, err := s.repo.ListByClinic(ctx, filter)
	if err != nil {
		return nil, storageError("list appointments by clinic", err)
	}
	return appts, nil
}

// GetBooking retrieves an appointment with its clinic.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: appointment id is required", ErrValidation)
	}

	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, storageError("get appointment", err)
	}
	return detail, nil
}

// SetStatus moves a booked appointment to cancelled or completed. The move is one
// compare-and-set on (id, status = booked); a concurrent transition makes this call
// fail with ErrInvalidTransition instead of overwriting.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: appointment id is required", ErrValidation)
	}

	if !to.Terminal() {
		current, err := s.repo.GetAppointmentByID(ctx, id)
		if err != nil {
			return nil, storageError("load appointment", err)
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}

	updated, err := s.repo.TransitionStatus(ctx, id, StatusBooked, to)
	if err != nil {
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, storageError("update appointment status", err)
		}

		// Nothing matched (id, booked): either the row is missing or already terminal.
		current, getErr := s.repo.GetAppointmentByID(ctx, id)
		if getErr != nil {
			return nil, storageError("load appointment", getErr)
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}

	s.metrics.ObserveTransition(to)
	s.invalidate(ctx, updated.ClinicID, updated.Date)

	eventType := EventAppointmentCompleted
	if to == StatusCancelled {
		eventType = EventAppointmentCancelled
	}
	s.logEvent(ctx, updated.ID, eventType, map[string]any{
		"clinic_id": updated.ClinicID.String(),
		"date":      updated.Date.String(),
		"slot":      updated.Slot.String(),
	})

	return updated, nil
}

// SetStatusAs applies SetStatus on behalf of caller. Users may only cancel their
// own bookings; a clinic owner may cancel or complete bookings at its clinic.
func (s *Service) SetStatusAs(ctx context.Context, caller Caller, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: appointment id is required", ErrValidation)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, storageError("load appointment", err)
	}
	if !caller.CanTransition(appt, to) {
		return nil, fmt.Errorf("%w: %s may not set %s on appointment %s", ErrForbidden, caller.Role, to, id)
	}

	return s.SetStatus(ctx, id, to)
}

func (s *Service) requireClinic(ctx context.Context, clinicID uuid.UUID) error {
	clinic, err := s.clinics.GetClinicByID(ctx, clinicID)
	if err != nil {
		return storageError("load clinic", err)
	}
	if clinic.Status != ClinicApproved {
		return fmt.Errorf("%w: clinic is %s", ErrClinicNotFound, clinic.Status)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, clinicID uuid.UUID, date Date) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, clinicID, date); err != nil {
		s.logger.Warn().Err(err).Str("clinic_id", clinicID.String()).Str("date", date.String()).Msg("availability cache invalidation failed")
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("appointment_id", appointmentID.String()).Msg("failed to insert event log")
	}
}

// storageError keeps already classified errors and marks everything else as
// Unavailable, which callers may retry.
func storageError(op string, err error) error {
	for _, kind := range []error{ErrValidation, ErrConflict, ErrNotFound, ErrInvalidTransition, ErrForbidden, ErrUnavailable} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
