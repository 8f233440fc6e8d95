package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalOverlaps(t *testing.T) {
	base := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)

	a := Interval{Start: base, Minutes: 30}

	tests := []struct {
		name string
		b    Interval
		want bool
	}{
		{"identical", Interval{Start: base, Minutes: 30}, true},
		{"contained", Interval{Start: base.Add(10 * time.Minute), Minutes: 10}, true},
		{"partial tail", Interval{Start: base.Add(20 * time.Minute), Minutes: 30}, true},
		{"partial head", Interval{Start: base.Add(-20 * time.Minute), Minutes: 30}, true},
		{"adjacent after", Interval{Start: base.Add(30 * time.Minute), Minutes: 30}, false},
		{"adjacent before", Interval{Start: base.Add(-30 * time.Minute), Minutes: 30}, false},
		{"disjoint", Interval{Start: base.Add(2 * time.Hour), Minutes: 30}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(a), "overlap must be symmetric")
		})
	}
}

func TestIntervalValidate(t *testing.T) {
	valid := Interval{Start: time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC), Minutes: 30}
	require.NoError(t, valid.Validate())

	assert.ErrorIs(t, Interval{Minutes: 30}.Validate(), ErrValidation)
	assert.ErrorIs(t, Interval{Start: valid.Start}.Validate(), ErrValidation)
	assert.ErrorIs(t, Interval{Start: valid.Start, Minutes: -5}.Validate(), ErrValidation)
}

func TestSlotTemplateValidate(t *testing.T) {
	pid := uuid.New()
	from := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 4)

	weekly := SlotTemplate{
		PractitionerID: pid,
		Weekday:        1,
		StartMinute:    9 * 60,
		EndMinute:      12 * 60,
		SlotMinutes:    30,
		Weekly:         true,
	}
	require.NoError(t, weekly.Validate())

	override := weekly
	override.Weekly = false
	override.ValidFrom = &from
	override.ValidTo = &to
	require.NoError(t, override.Validate())

	t.Run("weekday out of range", func(t *testing.T) {
		bad := weekly
		bad.Weekday = 0
		assert.ErrorIs(t, bad.Validate(), ErrValidation)
		bad.Weekday = 8
		assert.ErrorIs(t, bad.Validate(), ErrValidation)
	})

	t.Run("window malformed", func(t *testing.T) {
		bad := weekly
		bad.EndMinute = bad.StartMinute
		assert.ErrorIs(t, bad.Validate(), ErrValidation)
	})

	t.Run("slot duration out of bounds", func(t *testing.T) {
		bad := weekly
		bad.SlotMinutes = 5
		assert.ErrorIs(t, bad.Validate(), ErrValidation)
		bad.SlotMinutes = 180
		assert.ErrorIs(t, bad.Validate(), ErrValidation)
	})

	t.Run("weekly with validity window", func(t *testing.T) {
		bad := weekly
		bad.ValidFrom = &from
		bad.ValidTo = &to
		assert.ErrorIs(t, bad.Validate(), ErrValidation)
	})

	t.Run("override missing bounds", func(t *testing.T) {
		bad := weekly
		bad.Weekly = false
		assert.ErrorIs(t, bad.Validate(), ErrValidation)
	})

	t.Run("override window inverted", func(t *testing.T) {
		bad := override
		bad.ValidFrom = &to
		bad.ValidTo = &from
		assert.ErrorIs(t, bad.Validate(), ErrValidation)
	})
}

func TestSlotTemplateAppliesTo(t *testing.T) {
	// 2026-09-07 is a Monday.
	monday := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	tuesday := monday.AddDate(0, 0, 1)
	sunday := monday.AddDate(0, 0, 6)

	weekly := SlotTemplate{Weekday: 1, Weekly: true, Active: true}
	assert.True(t, weekly.AppliesTo(monday))
	assert.False(t, weekly.AppliesTo(tuesday))

	sundayTpl := SlotTemplate{Weekday: 7, Weekly: true, Active: true}
	assert.True(t, sundayTpl.AppliesTo(sunday), "ISO weekday 7 is Sunday")

	inactive := weekly
	inactive.Active = false
	assert.False(t, inactive.AppliesTo(monday))

	from := monday
	to := monday.AddDate(0, 0, 7)
	override := SlotTemplate{Weekday: 1, Active: true, ValidFrom: &from, ValidTo: &to}
	assert.True(t, override.AppliesTo(monday))
	assert.True(t, override.AppliesTo(monday.AddDate(0, 0, 7)), "validity bounds are inclusive")
	assert.False(t, override.AppliesTo(monday.AddDate(0, 0, 14)))
	assert.False(t, override.AppliesTo(monday.AddDate(0, 0, -7)))
}

func TestUnavailabilityNormalizeWholeDay(t *testing.T) {
	u := UnavailabilityPeriod{
		Start:    time.Date(2026, 9, 7, 10, 30, 0, 0, time.UTC),
		End:      time.Date(2026, 9, 8, 11, 15, 0, 0, time.UTC),
		WholeDay: true,
	}
	u.Normalize()

	assert.Equal(t, time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC), u.Start)
	assert.Equal(t, time.Date(2026, 9, 9, 0, 0, 0, 0, time.UTC), u.End)

	partial := UnavailabilityPeriod{
		Start: time.Date(2026, 9, 7, 10, 30, 0, 0, time.UTC),
		End:   time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC),
	}
	before := partial
	partial.Normalize()
	assert.Equal(t, before.Start, partial.Start, "partial periods are untouched")
	assert.Equal(t, before.End, partial.End)
}

func TestUnavailabilityNormalizeMidnightEnd(t *testing.T) {
	// An end exactly at midnight must not widen into the next day.
	u := UnavailabilityPeriod{
		Start:    time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 9, 8, 0, 0, 0, 0, time.UTC),
		WholeDay: true,
	}
	u.Normalize()
	assert.Equal(t, time.Date(2026, 9, 8, 0, 0, 0, 0, time.UTC), u.End)
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []AppointmentStatus{StatusCompleted, StatusCancelled, StatusNoShow} {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
	for _, s := range []AppointmentStatus{StatusPlanned, StatusConfirmed, StatusInProgress, StatusProposed} {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}

	assert.False(t, StatusCancelled.Blocking())
	assert.False(t, StatusNoShow.Blocking())
	assert.True(t, StatusCompleted.Blocking())
	assert.True(t, StatusPlanned.Blocking())
	assert.True(t, StatusProposed.Blocking())
}

func TestReservationLockExpired(t *testing.T) {
	now := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)
	l := ReservationLock{ExpiresAt: now.Add(5 * time.Minute)}

	assert.False(t, l.Expired(now))
	assert.True(t, l.Expired(now.Add(5*time.Minute)), "expiry instant counts as expired")
	assert.True(t, l.Expired(now.Add(10*time.Minute)))
}

func TestIdentityCanBookDirectly(t *testing.T) {
	assert.True(t, Identity{UserID: uuid.New(), Role: RoleStaff}.CanBookDirectly())
	assert.False(t, Identity{UserID: uuid.New(), Role: RolePatient}.CanBookDirectly())
	assert.False(t, Identity{UserID: uuid.New(), Role: RolePractitioner}.CanBookDirectly())
}
