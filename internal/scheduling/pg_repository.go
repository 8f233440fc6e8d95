package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres SQLSTATEs raised by the interval constraints.
const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// asConflict maps a constraint violation to ErrConflict so callers see
// the domain error, not the driver error.
func asConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgExclusionViolation || pgErr.Code == pgUniqueViolation) {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// -- scan helpers --

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	err := row.Scan(&p.ID, &p.Name, &p.Specialty, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPractitionerNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanTemplate(row pgx.Row) (*SlotTemplate, error) {
	var t SlotTemplate
	err := row.Scan(
		&t.ID,
		&t.PractitionerID,
		&t.Weekday,
		&t.StartMinute,
		&t.EndMinute,
		&t.SlotMinutes,
		&t.Weekly,
		&t.ValidFrom,
		&t.ValidTo,
		&t.Active,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	return &t, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PractitionerID,
		&a.PatientID,
		&a.DepartmentID,
		&a.Start,
		&a.Minutes,
		&a.Status,
		&a.Type,
		&a.ProposedStart,
		&a.ProposedMessage,
		&a.CancelReason,
		&a.CancelledBy,
		&a.CancelledAt,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanLock(row pgx.Row) (*ReservationLock, error) {
	var l ReservationLock
	err := row.Scan(
		&l.Token,
		&l.PractitionerID,
		&l.HolderID,
		&l.Start,
		&l.Minutes,
		&l.CreatedAt,
		&l.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLockNotFound
		}
		return nil, err
	}
	return &l, nil
}

const appointmentColumns = `id, practitioner_id, patient_id, department_id, start_time, duration_minutes,
		status, appointment_type, proposed_start, COALESCE(proposed_message, ''), COALESCE(cancel_reason, ''),
		cancelled_by, cancelled_at, version, created_at, updated_at`

const lockColumns = `token, practitioner_id, holder_id, start_time, duration_minutes, created_at, expires_at`

// -- reference data --

func (r *PgRepository) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM practitioners
		WHERE id = $1
	`, id)
	return scanPractitioner(row)
}

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

// -- templates --

func (r *PgRepository) CreateTemplate(ctx context.Context, t *SlotTemplate) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO slot_templates
			(id, practitioner_id, weekday, start_minute, end_minute, slot_minutes,
			 weekly, valid_from, valid_to, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
	`, t.ID, t.PractitionerID, t.Weekday, t.StartMinute, t.EndMinute, t.SlotMinutes,
		t.Weekly, t.ValidFrom, t.ValidTo, t.Active)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (r *PgRepository) ListActiveTemplates(ctx context.Context, practitionerID uuid.UUID) ([]SlotTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, practitioner_id, weekday, start_minute, end_minute, slot_minutes,
		       weekly, valid_from, valid_to, active, created_at, updated_at
		FROM slot_templates
		WHERE practitioner_id = $1 AND active
		ORDER BY weekday, start_minute
	`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (r *PgRepository) DeactivateTemplate(ctx context.Context, practitionerID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slot_templates
		SET active = false, updated_at = now()
		WHERE id = $1 AND practitioner_id = $2
	`, id, practitionerID)
	if err != nil {
		return fmt.Errorf("deactivate template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// -- unavailability --

func (r *PgRepository) CreateUnavailability(ctx context.Context, u *UnavailabilityPeriod) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO unavailability_periods
			(id, practitioner_id, start_time, end_time, category, whole_day, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, u.ID, u.PractitionerID, u.Start, u.End, u.Category, u.WholeDay, u.Reason)
	if err != nil {
		return fmt.Errorf("insert unavailability: %w", err)
	}
	return nil
}

func (r *PgRepository) ListUnavailability(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]UnavailabilityPeriod, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, practitioner_id, start_time, end_time, category, whole_day, COALESCE(reason, ''), created_at
		FROM unavailability_periods
		WHERE practitioner_id = $1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time
	`, practitionerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []UnavailabilityPeriod
	for rows.Next() {
		var u UnavailabilityPeriod
		if err := rows.Scan(&u.ID, &u.PractitionerID, &u.Start, &u.End, &u.Category, &u.WholeDay, &u.Reason, &u.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *PgRepository) DeleteUnavailability(ctx context.Context, practitionerID, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM unavailability_periods
		WHERE id = $1 AND practitioner_id = $2
	`, id, practitionerID)
	if err != nil {
		return fmt.Errorf("delete unavailability: %w", err)
	}
	return nil
}

// -- appointments --

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND start_time < $3
		  AND start_time + duration_minutes * interval '1 minute' > $2
		ORDER BY start_time
	`, practitionerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) HasBlockingOverlap(ctx context.Context, practitionerID uuid.UUID, iv Interval, exclude *uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE practitioner_id = $1
			  AND status NOT IN ('cancelled', 'no_show')
			  AND tstzrange(start_time, start_time + duration_minutes * interval '1 minute')
			      && tstzrange($2::timestamptz, $3::timestamptz)
			  AND ($4::uuid IS NULL OR id <> $4)
		)
	`, practitionerID, iv.Start, iv.End(), exclude).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment, consumeToken *uuid.UUID) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if consumeToken != nil {
		// Consuming the lock in the same transaction keeps "booking
		// exists" and "lock gone" atomic for every other observer.
		if _, err := tx.Exec(ctx, `DELETE FROM reservation_locks WHERE token = $1`, *consumeToken); err != nil {
			return nil, fmt.Errorf("consume lock: %w", err)
		}
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, practitioner_id, patient_id, department_id, start_time, duration_minutes,
			 status, appointment_type, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, now(), now())
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PractitionerID, a.PatientID, a.DepartmentID, a.Start, a.Minutes, a.Status, a.Type)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, asConflict(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, asConflict(err)
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, id uuid.UUID, fn func(*Appointment) error) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	if err := fn(a); err != nil {
		return nil, err
	}
	a.Version++

	row = tx.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $2,
		    duration_minutes = $3,
		    status = $4,
		    proposed_start = $5,
		    proposed_message = NULLIF($6, ''),
		    cancel_reason = NULLIF($7, ''),
		    cancelled_by = $8,
		    cancelled_at = $9,
		    version = $10,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, a.ID, a.Start, a.Minutes, a.Status, a.ProposedStart, a.ProposedMessage,
		a.CancelReason, a.CancelledBy, a.CancelledAt, a.Version)

	updated, err := scanAppointment(row)
	if err != nil {
		return nil, asConflict(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, asConflict(err)
	}
	return updated, nil
}

// -- reservation locks --

func (r *PgRepository) GetLock(ctx context.Context, token uuid.UUID) (*ReservationLock, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+lockColumns+`
		FROM reservation_locks
		WHERE token = $1
	`, token)
	return scanLock(row)
}

// AcquireLock purges expired locks overlapping the wanted interval,
// verifies no blocking appointment occupies it, and inserts the lock —
// all in one transaction. The exclusion constraint decides between
// concurrent acquirers; a violation surfaces as ErrConflict.
func (r *PgRepository) AcquireLock(ctx context.Context, l *ReservationLock) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	end := l.Interval().End()

	_, err = tx.Exec(ctx, `
		DELETE FROM reservation_locks
		WHERE practitioner_id = $1
		  AND expires_at <= $2
		  AND tstzrange(start_time, start_time + duration_minutes * interval '1 minute')
		      && tstzrange($3::timestamptz, $4::timestamptz)
	`, l.PractitionerID, l.CreatedAt, l.Start, end)
	if err != nil {
		return fmt.Errorf("purge expired locks: %w", err)
	}

	var booked bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE practitioner_id = $1
			  AND status NOT IN ('cancelled', 'no_show')
			  AND tstzrange(start_time, start_time + duration_minutes * interval '1 minute')
			      && tstzrange($2::timestamptz, $3::timestamptz)
		)
	`, l.PractitionerID, l.Start, end).Scan(&booked)
	if err != nil {
		return fmt.Errorf("check bookings: %w", err)
	}
	if booked {
		return fmt.Errorf("%w: interval already booked", ErrConflict)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reservation_locks
			(token, practitioner_id, holder_id, start_time, duration_minutes, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, l.Token, l.PractitionerID, l.HolderID, l.Start, l.Minutes, l.CreatedAt, l.ExpiresAt)
	if err != nil {
		return asConflict(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return asConflict(err)
	}
	return nil
}

func (r *PgRepository) ReleaseLock(ctx context.Context, token uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM reservation_locks WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (r *PgRepository) RenewLock(ctx context.Context, token uuid.UUID, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reservation_locks
		SET expires_at = $2
		WHERE token = $1
	`, token, expiresAt)
	if err != nil {
		return fmt.Errorf("renew lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLockNotFound
	}
	return nil
}

func (r *PgRepository) ListActiveLocks(ctx context.Context, practitionerID uuid.UUID, from, to time.Time, now time.Time) ([]ReservationLock, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+lockColumns+`
		FROM reservation_locks
		WHERE practitioner_id = $1
		  AND expires_at > $4
		  AND start_time < $3
		  AND start_time + duration_minutes * interval '1 minute' > $2
	`, practitionerID, from, to, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ReservationLock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *l)
	}
	return result, rows.Err()
}

func (r *PgRepository) DeleteExpiredLocks(ctx context.Context, now time.Time) ([]ReservationLock, error) {
	rows, err := r.pool.Query(ctx, `
		DELETE FROM reservation_locks
		WHERE expires_at <= $1
		RETURNING `+lockColumns+`
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ReservationLock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *l)
	}
	return result, rows.Err()
}
