package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPlanned    AppointmentStatus = "planned"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusProposed   AppointmentStatus = "proposed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no_show"
)

// Terminal reports whether no further transition may leave this status.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Blocking reports whether an appointment in this status occupies its
// interval for overlap purposes.
func (s AppointmentStatus) Blocking() bool {
	return s != StatusCancelled && s != StatusNoShow
}

type AppointmentType string

const (
	TypeConsultation AppointmentType = "consultation"
	TypeFollowUp     AppointmentType = "follow_up"
	TypeUrgent       AppointmentType = "urgent"
	TypeExam         AppointmentType = "exam"
	TypeVaccination  AppointmentType = "vaccination"
)

var validAppointmentTypes = map[AppointmentType]bool{
	TypeConsultation: true,
	TypeFollowUp:     true,
	TypeUrgent:       true,
	TypeExam:         true,
	TypeVaccination:  true,
}

type UnavailabilityCategory string

const (
	CategoryLeave    UnavailabilityCategory = "leave"
	CategoryIllness  UnavailabilityCategory = "illness"
	CategoryTraining UnavailabilityCategory = "training"
	CategoryOther    UnavailabilityCategory = "other"
)

var validCategories = map[UnavailabilityCategory]bool{
	CategoryLeave:    true,
	CategoryIllness:  true,
	CategoryTraining: true,
	CategoryOther:    true,
}

type SlotStatus string

const (
	SlotAvailable   SlotStatus = "available"
	SlotBooked      SlotStatus = "booked"
	SlotUnavailable SlotStatus = "unavailable"
	SlotLocked      SlotStatus = "locked"
	SlotPast        SlotStatus = "past"
)

// Interval is a half-open time range [Start, Start+Minutes).
type Interval struct {
	Start   time.Time
	Minutes int
}

func (i Interval) End() time.Time {
	return i.Start.Add(time.Duration(i.Minutes) * time.Minute)
}

// Overlaps reports whether the two intervals share at least one instant.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End()) && o.Start.Before(i.End())
}

func (i Interval) Validate() error {
	if i.Start.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrValidation)
	}
	if i.Minutes <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrValidation)
	}
	return nil
}

type Practitioner struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SlotTemplate generates candidate slots for one weekday. A weekly
// template is a standing rule; a non-weekly template carries a validity
// window and, on dates it covers, fully replaces the weekly templates
// for that weekday.
type SlotTemplate struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	Weekday        int // ISO: 1=Monday .. 7=Sunday
	StartMinute    int // minutes from midnight
	EndMinute      int
	SlotMinutes    int
	Weekly         bool
	ValidFrom      *time.Time
	ValidTo        *time.Time
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (t *SlotTemplate) Validate() error {
	if t.PractitionerID == uuid.Nil {
		return fmt.Errorf("%w: practitioner_id is required", ErrValidation)
	}
	if t.Weekday < 1 || t.Weekday > 7 {
		return fmt.Errorf("%w: weekday must be in 1..7, got %d", ErrValidation, t.Weekday)
	}
	if t.StartMinute < 0 || t.EndMinute > 24*60 || t.EndMinute <= t.StartMinute {
		return fmt.Errorf("%w: template window %d..%d is malformed", ErrValidation, t.StartMinute, t.EndMinute)
	}
	if t.SlotMinutes < 10 || t.SlotMinutes > 120 {
		return fmt.Errorf("%w: slot duration must be 10..120 minutes, got %d", ErrValidation, t.SlotMinutes)
	}
	if t.Weekly {
		if t.ValidFrom != nil || t.ValidTo != nil {
			return fmt.Errorf("%w: weekly template must not carry a validity window", ErrValidation)
		}
	} else {
		if t.ValidFrom == nil || t.ValidTo == nil {
			return fmt.Errorf("%w: override template requires both validity bounds", ErrValidation)
		}
		if t.ValidTo.Before(*t.ValidFrom) {
			return fmt.Errorf("%w: validity window ends before it starts", ErrValidation)
		}
	}
	return nil
}

// AppliesTo reports whether the template produces slots on the given day.
func (t *SlotTemplate) AppliesTo(day time.Time) bool {
	if !t.Active || isoWeekday(day) != t.Weekday {
		return false
	}
	if t.Weekly {
		return true
	}
	d := dateOf(day)
	return !d.Before(dateOf(*t.ValidFrom)) && !d.After(dateOf(*t.ValidTo))
}

// isoWeekday maps time.Weekday (Sunday=0) to ISO numbering (Monday=1).
func isoWeekday(day time.Time) int {
	wd := int(day.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

type UnavailabilityPeriod struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	Start          time.Time
	End            time.Time
	Category       UnavailabilityCategory
	WholeDay       bool
	Reason         string
	CreatedAt      time.Time
}

func (u *UnavailabilityPeriod) Validate() error {
	if u.PractitionerID == uuid.Nil {
		return fmt.Errorf("%w: practitioner_id is required", ErrValidation)
	}
	if !u.End.After(u.Start) {
		return fmt.Errorf("%w: unavailability ends before it starts", ErrValidation)
	}
	if !validCategories[u.Category] {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, u.Category)
	}
	return nil
}

// Normalize widens a whole-day period to cover the full civil days it
// touches, so overlap checks need no special casing later.
func (u *UnavailabilityPeriod) Normalize() {
	if !u.WholeDay {
		return
	}
	u.Start = dateOf(u.Start)
	u.End = dateOf(u.End.Add(-time.Nanosecond)).AddDate(0, 0, 1)
}

// Overlaps compares at full timestamp precision: periods are free-form
// ranges, not minute-aligned, and rounding would drop sub-minute tails.
func (u *UnavailabilityPeriod) Overlaps(iv Interval) bool {
	return iv.Start.Before(u.End) && u.Start.Before(iv.End())
}

type Appointment struct {
	ID              uuid.UUID
	PractitionerID  uuid.UUID
	PatientID       uuid.UUID
	DepartmentID    *uuid.UUID
	Start           time.Time
	Minutes         int
	Status          AppointmentStatus
	Type            AppointmentType
	ProposedStart   *time.Time
	ProposedMessage string
	CancelReason    string
	CancelledBy     *uuid.UUID
	CancelledAt     *time.Time
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a *Appointment) Interval() Interval {
	return Interval{Start: a.Start, Minutes: a.Minutes}
}

// ReservationLock is a short-lived claim on an interval. Expiry is a
// computed property of ExpiresAt, never a heartbeat, so a crashed holder
// cannot keep a slot hostage beyond the TTL.
type ReservationLock struct {
	Token          uuid.UUID
	PractitionerID uuid.UUID
	HolderID       uuid.UUID
	Start          time.Time
	Minutes        int
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

func (l *ReservationLock) Interval() Interval {
	return Interval{Start: l.Start, Minutes: l.Minutes}
}

func (l *ReservationLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

type Role string

const (
	RolePatient      Role = "patient"
	RolePractitioner Role = "practitioner"
	RoleStaff        Role = "staff"
)

// Identity is the authenticated caller, supplied by the request context.
type Identity struct {
	UserID uuid.UUID
	Role   Role
}

// CanBookDirectly is the named capability that allows creating an
// appointment without first holding a reservation lock.
func (id Identity) CanBookDirectly() bool {
	return id.Role == RoleStaff
}
