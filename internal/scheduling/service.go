package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careops/scheduling/internal/metrics"
	"github.com/careops/scheduling/internal/notify"
	redisclient "github.com/careops/scheduling/internal/redis"
)

// Service implements the booking contracts: slot computation, the
// reservation lock manager, and the appointment state machine. All
// writes go through the repository's atomic interval constraint; the
// slot guard only narrows the race window.
type Service struct {
	repo            Repository
	guard           redisclient.Guard
	publisher       notify.Publisher
	clock           Clock
	lockTTL         time.Duration
	pastGranularity time.Duration
	log             zerolog.Logger
}

type ServiceConfig struct {
	LockTTL         time.Duration
	PastGranularity time.Duration
}

func NewService(repo Repository, guard redisclient.Guard, publisher notify.Publisher, clock Clock, cfg ServiceConfig, log zerolog.Logger) *Service {
	if guard == nil {
		guard = redisclient.NopGuard{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.PastGranularity <= 0 {
		cfg.PastGranularity = time.Minute
	}
	return &Service{
		repo:            repo,
		guard:           guard,
		publisher:       publisher,
		clock:           clock,
		lockTTL:         cfg.LockTTL,
		pastGranularity: cfg.PastGranularity,
		log:             log,
	}
}

// -- Template and unavailability stores --

func (s *Service) CreateTemplate(ctx context.Context, t *SlotTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := s.repo.GetPractitioner(ctx, t.PractitionerID); err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.Active = true
	if err := s.repo.CreateTemplate(ctx, t); err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	s.publishSlotsChanged(ctx, t.PractitionerID)
	return nil
}

func (s *Service) ListTemplates(ctx context.Context, practitionerID uuid.UUID) ([]SlotTemplate, error) {
	if _, err := s.repo.GetPractitioner(ctx, practitionerID); err != nil {
		return nil, err
	}
	return s.repo.ListActiveTemplates(ctx, practitionerID)
}

// DeactivateTemplate soft-disables a template. Rows are never deleted
// while booking history may reference them. The row must belong to the
// named practitioner; a mismatch reads as not found.
func (s *Service) DeactivateTemplate(ctx context.Context, practitionerID, templateID uuid.UUID) error {
	if err := s.repo.DeactivateTemplate(ctx, practitionerID, templateID); err != nil {
		return err
	}
	s.publishSlotsChanged(ctx, practitionerID)
	return nil
}

func (s *Service) CreateUnavailability(ctx context.Context, u *UnavailabilityPeriod) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if _, err := s.repo.GetPractitioner(ctx, u.PractitionerID); err != nil {
		return err
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Normalize()
	if err := s.repo.CreateUnavailability(ctx, u); err != nil {
		return fmt.Errorf("create unavailability: %w", err)
	}
	s.publishSlotsChanged(ctx, u.PractitionerID)
	return nil
}

func (s *Service) DeleteUnavailability(ctx context.Context, practitionerID, id uuid.UUID) error {
	if err := s.repo.DeleteUnavailability(ctx, practitionerID, id); err != nil {
		return err
	}
	s.publishSlotsChanged(ctx, practitionerID)
	return nil
}

// -- Reservation lock manager --

// AcquireLock claims an interval for the caller. It fails with
// ErrConflict when an unexpired lock of another user or a blocking
// appointment covers an overlapping interval; the storage constraint
// arbitrates between racing acquirers.
func (s *Service) AcquireLock(ctx context.Context, caller Identity, practitionerID uuid.UUID, iv Interval) (*ReservationLock, error) {
	if err := iv.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetPractitioner(ctx, practitionerID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	lock := &ReservationLock{
		Token:          uuid.New(),
		PractitionerID: practitionerID,
		HolderID:       caller.UserID,
		Start:          iv.Start,
		Minutes:        iv.Minutes,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.lockTTL),
	}

	err := s.guard.WithSlotGuard(ctx, practitionerID, iv.Start, func(ctx context.Context) error {
		return s.repo.AcquireLock(ctx, lock)
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrGuardBusy) {
			metrics.IncConflict("acquire")
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		if errors.Is(err, ErrConflict) {
			metrics.IncConflict("acquire")
		}
		return nil, err
	}

	metrics.IncLockAcquired()
	s.publishLockEvent(ctx, notify.LockAcquired, lock)
	return lock, nil
}

// ReleaseLock is idempotent: releasing an unknown, expired, or already
// consumed token is a no-op.
func (s *Service) ReleaseLock(ctx context.Context, caller Identity, token uuid.UUID) error {
	lock, err := s.repo.GetLock(ctx, token)
	if err != nil {
		if errors.Is(err, ErrLockNotFound) {
			return nil
		}
		return err
	}
	if err := s.repo.ReleaseLock(ctx, token); err != nil {
		return err
	}
	metrics.IncLockReleased()
	s.publishLockEvent(ctx, notify.LockReleased, lock)
	return nil
}

// RenewLock extends a still-active lock by one TTL from now.
func (s *Service) RenewLock(ctx context.Context, caller Identity, token uuid.UUID) (*ReservationLock, error) {
	lock, err := s.repo.GetLock(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if lock.Expired(now) {
		return nil, ErrLockExpired
	}
	if lock.HolderID != caller.UserID {
		return nil, fmt.Errorf("%w: lock held by another user", ErrConflict)
	}
	lock.ExpiresAt = now.Add(s.lockTTL)
	if err := s.repo.RenewLock(ctx, token, lock.ExpiresAt); err != nil {
		return nil, err
	}
	return lock, nil
}

// SweepExpiredLocks reclaims every lock whose recorded expiry has
// passed. Safe to run concurrently with acquisition: the predicate is
// the stored expiry, so locks created mid-sweep are untouched.
func (s *Service) SweepExpiredLocks(ctx context.Context) (int, error) {
	reclaimed, err := s.repo.DeleteExpiredLocks(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("delete expired locks: %w", err)
	}
	for i := range reclaimed {
		metrics.IncLockReclaimed()
		s.publishLockEvent(ctx, notify.LockReclaimed, &reclaimed[i])
	}
	metrics.IncSweep()
	return len(reclaimed), nil
}

// -- Appointment state machine --

type CreateAppointmentInput struct {
	PractitionerID uuid.UUID
	PatientID      uuid.UUID
	DepartmentID   *uuid.UUID
	Start          time.Time
	Minutes        int
	Type           AppointmentType
	LockToken      *uuid.UUID
}

// CreateAppointment books an interval. Non-staff callers must present
// an unexpired lock they hold for the exact interval; staff may book
// directly. The lock is consumed in the same transaction that inserts
// the appointment.
func (s *Service) CreateAppointment(ctx context.Context, caller Identity, in CreateAppointmentInput) (*Appointment, error) {
	if in.Minutes == 0 {
		in.Minutes = 30
	}
	iv := Interval{Start: in.Start, Minutes: in.Minutes}
	if err := iv.Validate(); err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = TypeConsultation
	}
	if !validAppointmentTypes[in.Type] {
		return nil, fmt.Errorf("%w: unknown appointment type %q", ErrValidation, in.Type)
	}
	if _, err := s.repo.GetPractitioner(ctx, in.PractitionerID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetPatient(ctx, in.PatientID); err != nil {
		return nil, err
	}

	status := StatusPlanned
	if caller.CanBookDirectly() {
		status = StatusConfirmed
	}

	var consume *uuid.UUID
	if in.LockToken != nil {
		lock, err := s.repo.GetLock(ctx, *in.LockToken)
		if err != nil {
			return nil, err
		}
		if lock.Expired(s.clock.Now()) {
			return nil, ErrLockExpired
		}
		if lock.HolderID != caller.UserID {
			return nil, fmt.Errorf("%w: lock held by another user", ErrConflict)
		}
		if lock.PractitionerID != in.PractitionerID || !lock.Start.Equal(in.Start) || lock.Minutes != in.Minutes {
			return nil, fmt.Errorf("%w: lock does not cover the requested interval", ErrValidation)
		}
		consume = in.LockToken
	} else if !caller.CanBookDirectly() {
		return nil, fmt.Errorf("%w: a reservation lock is required to book", ErrValidation)
	}

	now := s.clock.Now()
	appt := &Appointment{
		ID:             uuid.New(),
		PractitionerID: in.PractitionerID,
		PatientID:      in.PatientID,
		DepartmentID:   in.DepartmentID,
		Start:          in.Start,
		Minutes:        in.Minutes,
		Status:         status,
		Type:           in.Type,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var created *Appointment
	err := s.guard.WithSlotGuard(ctx, in.PractitionerID, in.Start, func(ctx context.Context) error {
		var err error
		created, err = s.repo.CreateAppointment(ctx, appt, consume)
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrGuardBusy) {
			metrics.IncConflict("create")
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		if errors.Is(err, ErrConflict) {
			metrics.IncConflict("create")
		}
		return nil, err
	}

	metrics.IncTransition("create")
	s.publishAppointmentEvent(ctx, notify.AppointmentCreated, created)
	return created, nil
}

// Confirm validates a pending appointment. The interval is re-checked
// because time may have passed since creation.
func (s *Service) Confirm(ctx context.Context, caller Identity, id uuid.UUID) (*Appointment, error) {
	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	busy, err := s.repo.HasBlockingOverlap(ctx, current.PractitionerID, current.Interval(), &current.ID)
	if err != nil {
		return nil, fmt.Errorf("overlap re-check: %w", err)
	}
	if busy {
		metrics.IncConflict("confirm")
		return nil, ErrConflict
	}

	updated, err := s.transition(ctx, id, "confirm", func(a *Appointment) error {
		if a.Status != StatusPlanned {
			return transitionError(a.Status, StatusConfirmed)
		}
		a.Status = StatusConfirmed
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishAppointmentEvent(ctx, notify.AppointmentConfirmed, updated)
	return updated, nil
}

// Propose records a practitioner's alternate time suggestion without
// moving the appointment.
func (s *Service) Propose(ctx context.Context, caller Identity, id uuid.UUID, newStart time.Time, message string) (*Appointment, error) {
	if newStart.IsZero() {
		return nil, fmt.Errorf("%w: proposed start time is required", ErrValidation)
	}
	updated, err := s.transition(ctx, id, "propose", func(a *Appointment) error {
		if a.Status != StatusPlanned && a.Status != StatusConfirmed {
			return transitionError(a.Status, StatusProposed)
		}
		a.Status = StatusProposed
		a.ProposedStart = &newStart
		a.ProposedMessage = message
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishAppointmentEvent(ctx, notify.AppointmentProposed, updated)
	return updated, nil
}

// AcceptProposal moves the appointment to the proposed time. The new
// interval is re-validated; on conflict nothing is mutated.
func (s *Service) AcceptProposal(ctx context.Context, caller Identity, id uuid.UUID) (*Appointment, error) {
	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusProposed {
		return nil, transitionError(current.Status, StatusConfirmed)
	}
	if current.ProposedStart == nil {
		return nil, fmt.Errorf("%w: appointment has no proposed time", ErrValidation)
	}
	newIv := Interval{Start: *current.ProposedStart, Minutes: current.Minutes}
	busy, err := s.repo.HasBlockingOverlap(ctx, current.PractitionerID, newIv, &current.ID)
	if err != nil {
		return nil, fmt.Errorf("overlap re-check: %w", err)
	}
	if busy {
		metrics.IncConflict("accept")
		return nil, ErrConflict
	}

	updated, err := s.transition(ctx, id, "accept", func(a *Appointment) error {
		if a.Status != StatusProposed || a.ProposedStart == nil {
			return transitionError(a.Status, StatusConfirmed)
		}
		a.Start = *a.ProposedStart
		a.Status = StatusConfirmed
		a.ProposedStart = nil
		a.ProposedMessage = ""
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			metrics.IncConflict("accept")
		}
		return nil, err
	}
	s.publishAppointmentEvent(ctx, notify.AppointmentAccepted, updated)
	return updated, nil
}

// RefuseProposal declines a proposed time and cancels the appointment.
func (s *Service) RefuseProposal(ctx context.Context, caller Identity, id uuid.UUID, reason string) (*Appointment, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: a refusal reason is required", ErrValidation)
	}
	now := s.clock.Now()
	updated, err := s.transition(ctx, id, "refuse", func(a *Appointment) error {
		if a.Status != StatusProposed {
			return transitionError(a.Status, StatusCancelled)
		}
		a.Status = StatusCancelled
		a.CancelReason = reason
		by := caller.UserID
		a.CancelledBy = &by
		a.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishAppointmentEvent(ctx, notify.AppointmentRefused, updated)
	return updated, nil
}

// Cancel moves any pre-terminal appointment to cancelled, recording the
// reason, the actor, and the time.
func (s *Service) Cancel(ctx context.Context, caller Identity, id uuid.UUID, reason string) (*Appointment, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: a cancellation reason is required", ErrValidation)
	}
	now := s.clock.Now()
	updated, err := s.transition(ctx, id, "cancel", func(a *Appointment) error {
		switch a.Status {
		case StatusPlanned, StatusConfirmed, StatusProposed:
		default:
			return transitionError(a.Status, StatusCancelled)
		}
		a.Status = StatusCancelled
		a.CancelReason = reason
		by := caller.UserID
		a.CancelledBy = &by
		a.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncCancelled()
	s.publishAppointmentEvent(ctx, notify.AppointmentCancelled, updated)
	return updated, nil
}

// Start marks a confirmed appointment as underway.
func (s *Service) Start(ctx context.Context, caller Identity, id uuid.UUID) (*Appointment, error) {
	updated, err := s.transition(ctx, id, "start", func(a *Appointment) error {
		if a.Status != StatusConfirmed {
			return transitionError(a.Status, StatusInProgress)
		}
		a.Status = StatusInProgress
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishAppointmentEvent(ctx, notify.AppointmentStarted, updated)
	return updated, nil
}

// MarkNoShow is only permitted once the appointment's end has passed.
func (s *Service) MarkNoShow(ctx context.Context, caller Identity, id uuid.UUID) (*Appointment, error) {
	now := s.clock.Now()
	updated, err := s.transition(ctx, id, "no_show", func(a *Appointment) error {
		if a.Status != StatusConfirmed {
			return transitionError(a.Status, StatusNoShow)
		}
		if now.Before(a.Interval().End()) {
			return fmt.Errorf("%w: appointment has not ended yet", ErrInvalidTransition)
		}
		a.Status = StatusNoShow
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishAppointmentEvent(ctx, notify.AppointmentNoShow, updated)
	return updated, nil
}

// Complete closes out an appointment. Terminal.
func (s *Service) Complete(ctx context.Context, caller Identity, id uuid.UUID) (*Appointment, error) {
	updated, err := s.transition(ctx, id, "complete", func(a *Appointment) error {
		if a.Status != StatusConfirmed && a.Status != StatusInProgress {
			return transitionError(a.Status, StatusCompleted)
		}
		a.Status = StatusCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishAppointmentEvent(ctx, notify.AppointmentCompleted, updated)
	return updated, nil
}

// Reschedule is the direct-edit path: it moves a planned or confirmed
// appointment and uses the version token to detect lost updates.
func (s *Service) Reschedule(ctx context.Context, caller Identity, id uuid.UUID, expectedVersion int, newIv Interval) (*Appointment, error) {
	if err := newIv.Validate(); err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, id, "reschedule", func(a *Appointment) error {
		if a.Version != expectedVersion {
			return ErrVersionMismatch
		}
		if a.Status != StatusPlanned && a.Status != StatusConfirmed {
			return transitionError(a.Status, a.Status)
		}
		a.Start = newIv.Start
		a.Minutes = newIv.Minutes
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			metrics.IncConflict("reschedule")
		}
		return nil, err
	}
	s.publishAppointmentEvent(ctx, notify.AppointmentRescheduled, updated)
	return updated, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointment(ctx, id)
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

// -- helpers --

func (s *Service) transition(ctx context.Context, id uuid.UUID, name string, fn func(*Appointment) error) (*Appointment, error) {
	updated, err := s.repo.UpdateAppointment(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	metrics.IncTransition(name)
	return updated, nil
}

func transitionError(from, to AppointmentStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// publishAppointmentEvent fans the event out to the practitioner, the
// patient, and the practitioner's slots channel. Called strictly after
// the transaction has committed; failures are logged, never surfaced.
func (s *Service) publishAppointmentEvent(ctx context.Context, kind notify.Kind, a *Appointment) {
	if s.publisher == nil {
		return
	}
	patientID := a.PatientID
	apptID := a.ID
	ev := notify.Event{
		Kind:           kind,
		PractitionerID: a.PractitionerID,
		PatientID:      &patientID,
		AppointmentID:  &apptID,
		Start:          a.Start,
		Minutes:        a.Minutes,
		At:             s.clock.Now(),
	}
	for _, ch := range []string{
		notify.PractitionerChannel(a.PractitionerID),
		notify.PatientChannel(a.PatientID),
		notify.SlotsChannel(a.PractitionerID),
	} {
		if err := s.publisher.Publish(ctx, ch, ev); err != nil {
			s.log.Warn().Err(err).Str("channel", ch).Str("kind", string(kind)).Msg("publish failed")
		}
	}
}

func (s *Service) publishLockEvent(ctx context.Context, kind notify.Kind, l *ReservationLock) {
	if s.publisher == nil {
		return
	}
	ev := notify.Event{
		Kind:           kind,
		PractitionerID: l.PractitionerID,
		Start:          l.Start,
		Minutes:        l.Minutes,
		At:             s.clock.Now(),
	}
	for _, ch := range []string{
		notify.PractitionerChannel(l.PractitionerID),
		notify.SlotsChannel(l.PractitionerID),
	} {
		if err := s.publisher.Publish(ctx, ch, ev); err != nil {
			s.log.Warn().Err(err).Str("channel", ch).Str("kind", string(kind)).Msg("publish failed")
		}
	}
}

func (s *Service) publishSlotsChanged(ctx context.Context, practitionerID uuid.UUID) {
	if s.publisher == nil {
		return
	}
	ev := notify.Event{
		Kind:           notify.SlotsChanged,
		PractitionerID: practitionerID,
		At:             s.clock.Now(),
	}
	if err := s.publisher.Publish(ctx, notify.SlotsChannel(practitionerID), ev); err != nil {
		s.log.Warn().Err(err).Msg("publish slots changed failed")
	}
}
