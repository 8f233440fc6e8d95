package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPractitionerNotFound = errors.New("practitioner not found")
	ErrPatientNotFound      = errors.New("patient not found")
	ErrTemplateNotFound     = errors.New("template not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrLockNotFound         = errors.New("reservation lock not found")

	// ErrConflict means the target interval is already claimed by an
	// active lock or a blocking appointment.
	ErrConflict = errors.New("interval already claimed")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrLockExpired       = errors.New("reservation lock has expired")
	ErrValidation        = errors.New("validation failed")

	// ErrVersionMismatch signals a lost update on a direct edit.
	ErrVersionMismatch = errors.New("appointment version mismatch")
)

// Clock abstracts wall time so past-slot classification and lock TTLs
// stay testable.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Repository contains all store interactions needed by the engine and
// the service. Implementations must enforce the interval-uniqueness
// invariant on appointments and locks atomically; an application-level
// check-then-write is not enough.
type Repository interface {
	GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Templates
	CreateTemplate(ctx context.Context, t *SlotTemplate) error
	ListActiveTemplates(ctx context.Context, practitionerID uuid.UUID) ([]SlotTemplate, error)
	DeactivateTemplate(ctx context.Context, practitionerID, id uuid.UUID) error

	// Unavailability
	CreateUnavailability(ctx context.Context, u *UnavailabilityPeriod) error
	ListUnavailability(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]UnavailabilityPeriod, error)
	DeleteUnavailability(ctx context.Context, practitionerID, id uuid.UUID) error

	// Appointments
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	HasBlockingOverlap(ctx context.Context, practitionerID uuid.UUID, iv Interval, exclude *uuid.UUID) (bool, error)

	// CreateAppointment inserts the appointment and, when consumeToken is
	// set, deletes the corresponding lock in the same transaction.
	CreateAppointment(ctx context.Context, a *Appointment, consumeToken *uuid.UUID) (*Appointment, error)

	// UpdateAppointment loads the row for update, applies fn, bumps the
	// version, and commits; fn returning an error aborts without any
	// externally observable intermediate state.
	UpdateAppointment(ctx context.Context, id uuid.UUID, fn func(*Appointment) error) (*Appointment, error)

	// Locks
	GetLock(ctx context.Context, token uuid.UUID) (*ReservationLock, error)
	AcquireLock(ctx context.Context, l *ReservationLock) error
	ReleaseLock(ctx context.Context, token uuid.UUID) error
	RenewLock(ctx context.Context, token uuid.UUID, expiresAt time.Time) error
	ListActiveLocks(ctx context.Context, practitionerID uuid.UUID, from, to time.Time, now time.Time) ([]ReservationLock, error)

	// DeleteExpiredLocks removes every lock whose recorded expiry is at or
	// before now and returns the reclaimed locks.
	DeleteExpiredLocks(ctx context.Context, now time.Time) ([]ReservationLock, error)
}
