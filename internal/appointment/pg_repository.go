package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-slot-booking/internal/slot"
)

const (
	// bookedTripleIndex is the partial unique index over (clinic_id, date, slot)
	// WHERE status = 'booked'. See internal/db/migrations.
	bookedTripleIndex = "appointments_booked_triple_key"

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const appointmentColumns = `a.id, a.user_id, a.clinic_id, a.date, a.slot, a.status, a.created_at, a.updated_at`

const detailColumns = appointmentColumns + `,
	c.id, c.name, c.address, c.phone, c.status, c.created_at, c.updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var s string

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.ClinicID,
		&date,
		&s,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = DateOf(date)
	a.Slot = slot.Slot(s)
	return &a, nil
}

func scanDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	var c Clinic
	var date time.Time
	var s string

	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.ClinicID,
		&date,
		&s,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
		&c.ID,
		&c.Name,
		&c.Address,
		&c.Phone,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	d.Date = DateOf(date)
	d.Slot = slot.Slot(s)
	d.Clinic = &c
	return &d, nil
}

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Address,
		&c.Phone,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}

	return &c, nil
}

// catalogOrder is passed to array_position so Postgres sorts slots the way the
// catalog does instead of lexically.
func catalogOrder() []string {
	all := slot.All()
	out := make([]string, len(all))
	for i, s := range all {
		out[i] = string(s)
	}
	return out
}

// mapWriteError turns constraint violations into error kinds.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgUniqueViolation:
		if pgErr.ConstraintName == bookedTripleIndex {
			return ErrConflict
		}
	case pgForeignKeyViolation:
		return ErrClinicNotFound
	case pgCheckViolation:
		return fmt.Errorf("%w: %s", ErrValidation, pgErr.ConstraintName)
	}
	return err
}

// Interface methods

func (r *PgRepository) GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, address, phone, status, created_at, updated_at
		FROM clinics
		WHERE id = $1
	`, id)
	return scanClinic(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+detailColumns+`
		FROM appointments a
		JOIN clinics c ON c.id = a.clinic_id
		WHERE a.id = $1
	`, id)
	return scanDetail(row)
}

func (r *PgRepository) ListBookedSlots(ctx context.Context, clinicID uuid.UUID, date Date) ([]slot.Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slot
		FROM appointments
		WHERE clinic_id = $1
		  AND date = $2
		  AND status = 'booked'
	`, clinicID, date.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var booked []slot.Slot
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		booked = append(booked, slot.Slot(s))
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return booked, nil
}

// InsertBooked relies on the partial unique index: the existence check and the
// write are the same statement, so two concurrent inserts for one triple cannot
// both commit.
func (r *PgRepository) InsertBooked(ctx context.Context, appt *Appointment) (*Appointment, error) {
	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments AS a (id, user_id, clinic_id, date, slot, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'booked', now(), now())
		RETURNING `+appointmentColumns+`
	`, id, appt.UserID, appt.ClinicID, appt.Date.Time(), string(appt.Slot))

	created, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return created, nil
}

func (r *PgRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	if from != StatusBooked || !to.Terminal() {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments AS a
		SET status = $2,
		    updated_at = now()
		WHERE a.id = $1
		  AND a.status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	updated, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return updated, nil
}

func (r *PgRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+detailColumns+`
		FROM appointments a
		JOIN clinics c ON c.id = a.clinic_id
		WHERE a.user_id = $1
		ORDER BY a.date ASC, array_position($2::text[], a.slot) ASC, a.created_at ASC
	`, userID, catalogOrder())
	if err != nil {
		return nil, err
	}
	return collectDetails(rows)
}

func (r *PgRepository) ListByClinic(ctx context.Context, filter ClinicFilter) ([]AppointmentDetail, error) {
	query, args, err := clinicBookingsQuery(filter)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectDetails(rows)
}

func clinicBookingsQuery(filter ClinicFilter) (string, []any, error) {
	q := psql.Select(detailColumns).
		From("appointments a").
		Join("clinics c ON c.id = a.clinic_id").
		Where(sq.Eq{"a.clinic_id": filter.ClinicID})

	if filter.Date != nil {
		q = q.Where(sq.Eq{"a.date": filter.Date.Time()})
	}
	if filter.Status != nil {
		q = q.Where(sq.Eq{"a.status": string(*filter.Status)})
	}

	q = q.OrderByClause("a.date ASC, array_position(?::text[], a.slot) ASC, a.created_at ASC", catalogOrder())

	query, args, err := q.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build clinic bookings query: %w", err)
	}
	return query, args, nil
}

func collectDetails(rows pgx.Rows) ([]AppointmentDetail, error) {
	defer rows.Close()

	result := []AppointmentDetail{}
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func (r *PgRepository) ListUndispatchedEvents(ctx context.Context, limit int) ([]EventLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at, dispatched_at
		FROM event_logs
		WHERE dispatched_at IS NULL
		ORDER BY id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []EventLog
	for rows.Next() {
		var ev EventLog
		if err := rows.Scan(
			&ev.ID,
			&ev.EventType,
			&ev.AppointmentID,
			&ev.Payload,
			&ev.CreatedAt,
			&ev.DispatchedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) MarkEventsDispatched(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE event_logs
		SET dispatched_at = $2
		WHERE id = ANY($1)
		  AND dispatched_at IS NULL
	`, ids, at)
	if err != nil {
		return fmt.Errorf("mark events dispatched: %w", err)
	}

	return nil
}

// Ping lets the readiness probe check the pool without knowing about pgx.
func (r *PgRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
