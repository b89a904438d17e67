package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/slot"
)

// DefaultMemoryEventLimit bounds the in-memory event log. Nothing drains it when no
// relay runs, so the oldest rows are dropped past this size.
const DefaultMemoryEventLimit = 10000

type tripleKey struct {
	clinicID uuid.UUID
	date     Date
	slot     slot.Slot
}

// MemoryRepository keeps everything in process. Its uniqueness guarantee only holds
// for a single instance, so it backs tests and STORAGE_DRIVER=memory local runs.
type MemoryRepository struct {
	mu           sync.RWMutex
	clinics      map[uuid.UUID]*Clinic
	appointments map[uuid.UUID]*Appointment
	booked       map[tripleKey]uuid.UUID
	events       []EventLog
	eventLimit   int
	nextEventID  int64
	now          func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		clinics:      make(map[uuid.UUID]*Clinic),
		appointments: make(map[uuid.UUID]*Appointment),
		booked:       make(map[tripleKey]uuid.UUID),
		eventLimit:   DefaultMemoryEventLimit,
		now:          time.Now,
	}
}

// SetEventLimit changes how many event rows are kept. Zero or less keeps all of them.
func (r *MemoryRepository) SetEventLimit(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventLimit = n
	r.trimEventsLocked()
}

func (r *MemoryRepository) trimEventsLocked() {
	if r.eventLimit > 0 && len(r.events) > r.eventLimit {
		r.events = r.events[len(r.events)-r.eventLimit:]
	}
}

// AddClinic registers or replaces a clinic.
func (r *MemoryRepository) AddClinic(c Clinic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now()
		c.UpdatedAt = c.CreatedAt
	}
	r.clinics[c.ID] = &c
}

func (r *MemoryRepository) GetClinicByID(_ context.Context, id uuid.UUID) (*Clinic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clinics[id]
	if !ok {
		return nil, ErrClinicNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) GetAppointmentDetail(_ context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return r.detailLocked(a), nil
}

func (r *MemoryRepository) ListBookedSlots(_ context.Context, clinicID uuid.UUID, date Date) ([]slot.Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var booked []slot.Slot
	for key := range r.booked {
		if key.clinicID == clinicID && key.date == date {
			booked = append(booked, key.slot)
		}
	}
	return booked, nil
}

// InsertBooked checks the booked index and writes under one lock.
func (r *MemoryRepository) InsertBooked(_ context.Context, appt *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clinics[appt.ClinicID]; !ok {
		return nil, ErrClinicNotFound
	}

	key := tripleKey{clinicID: appt.ClinicID, date: appt.Date, slot: appt.Slot}
	if _, taken := r.booked[key]; taken {
		return nil, ErrConflict
	}

	now := r.now()
	created := *appt
	if created.ID == uuid.Nil {
		created.ID = uuid.New()
	}
	created.Status = StatusBooked
	created.CreatedAt = now
	created.UpdatedAt = now

	r.appointments[created.ID] = &created
	r.booked[key] = created.ID

	cp := created
	return &cp, nil
}

func (r *MemoryRepository) TransitionStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if from != StatusBooked || !to.Terminal() {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}

	delete(r.booked, tripleKey{clinicID: a.ClinicID, date: a.Date, slot: a.Slot})

	a.Status = to
	a.UpdatedAt = r.now()

	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.collectLocked(func(a *Appointment) bool {
		return a.UserID == userID
	}), nil
}

func (r *MemoryRepository) ListByClinic(_ context.Context, filter ClinicFilter) ([]AppointmentDetail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.collectLocked(func(a *Appointment) bool {
		if a.ClinicID != filter.ClinicID {
			return false
		}
		if filter.Date != nil && a.Date != *filter.Date {
			return false
		}
		if filter.Status != nil && a.Status != *filter.Status {
			return false
		}
		return true
	}), nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextEventID++
	ev.ID = r.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	r.trimEventsLocked()
	return nil
}

func (r *MemoryRepository) ListUndispatchedEvents(_ context.Context, limit int) ([]EventLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []EventLog
	for _, ev := range r.events {
		if ev.DispatchedAt != nil {
			continue
		}
		result = append(result, ev)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (r *MemoryRepository) MarkEventsDispatched(_ context.Context, ids []int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := range r.events {
		if _, ok := want[r.events[i].ID]; ok && r.events[i].DispatchedAt == nil {
			t := at
			r.events[i].DispatchedAt = &t
		}
	}
	return nil
}

// Events returns a snapshot of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) collectLocked(match func(*Appointment) bool) []AppointmentDetail {
	var picked []*Appointment
	for _, a := range r.appointments {
		if match(a) {
			picked = append(picked, a)
		}
	}

	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].Date == picked[j].Date && picked[i].Slot == picked[j].Slot {
			return picked[i].CreatedAt.Before(picked[j].CreatedAt)
		}
		return lessAppointment(picked[i], picked[j])
	})

	result := make([]AppointmentDetail, 0, len(picked))
	for _, a := range picked {
		result = append(result, *r.detailLocked(a))
	}
	return result
}

func (r *MemoryRepository) detailLocked(a *Appointment) *AppointmentDetail {
	d := &AppointmentDetail{Appointment: *a}
	if c, ok := r.clinics[a.ClinicID]; ok {
		cp := *c
		d.Clinic = &cp
	}
	return d
}
