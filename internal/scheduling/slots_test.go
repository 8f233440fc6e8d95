package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestService(clock Clock, cfg ServiceConfig) (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	svc := NewService(repo, nil, nil, clock, cfg, zerolog.Nop())
	return svc, repo
}

func seedPeople(repo *MemoryRepository) (practitionerID, patientID uuid.UUID) {
	practitionerID = uuid.New()
	patientID = uuid.New()
	repo.PutPractitioner(Practitioner{ID: practitionerID, Name: "Dr. Verstraeten"})
	repo.PutPatient(Patient{ID: patientID, Name: "Jonas Claes"})
	return practitionerID, patientID
}

// 2026-09-07 is a Monday.
var (
	monday    = time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	sundayEve = time.Date(2026, 9, 6, 18, 0, 0, 0, time.UTC)
)

func mondayTemplate(practitionerID uuid.UUID, startMinute, endMinute, slotMinutes int) *SlotTemplate {
	return &SlotTemplate{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		Weekday:        1,
		StartMinute:    startMinute,
		EndMinute:      endMinute,
		SlotMinutes:    slotMinutes,
		Weekly:         true,
		Active:         true,
	}
}

func viewerFor(patientID uuid.UUID) Identity {
	return Identity{UserID: patientID, Role: RolePatient}
}

func TestGetSlotsExpandsWeeklyTemplate(t *testing.T) {
	clock := newFakeClock(sundayEve)
	svc, repo := newTestService(clock, ServiceConfig{})
	practitionerID, patientID := seedPeople(repo)

	require.NoError(t, repo.CreateTemplate(context.Background(), mondayTemplate(practitionerID, 9*60, 12*60, 30)))

	days, err := svc.GetSlots(context.Background(), viewerFor(patientID), practitionerID, monday, monday)
	require.NoError(t, err)
	require.Len(t, days, 1)

	day := days[0]
	assert.True(t, day.Configured)
	require.Len(t, day.Slots, 6)
	for i, slot := range day.Slots {
		assert.Equal(t, monday.Add(time.Duration(9*60+i*30)*time.Minute), slot.Start)
		assert.Equal(t, 30, slot.Minutes)
		assert.Equal(t, SlotAvailable, slot.Status)
	}
}

func TestGetSlotsNoPartialSlotAtWindowEnd(t *testing.T) {
	clock := newFakeClock(sundayEve)
	svc, repo := newTestService(clock, ServiceConfig{})
	practitionerID, patientID := seedPeople(repo)

	// 09:00-10:45 with 30-minute slots: the 10:30 candidate would spill
	// past the window and must not be offered.
	require.NoError(t, repo.CreateTemplate(context.Background(), mondayTemplate(practitionerID, 9*60, 10*60+45, 30)))

	days, err := svc.GetSlots(context.Background(), viewerFor(patientID), practitionerID, monday, monday)
	require.NoError(t, err)
	require.Len(t, days[0].Slots, 3)
	assert.Equal(t, monday.Add(10*time.Hour), days[0].Slots[2].Start)
}

func TestGetSlotsOverrideReplacesWeekly(t *testing.T) {
	clock := newFakeClock(sundayEve)
	svc, repo := newTestService(clock, ServiceConfig{})
	practitionerID, patientID := seedPeople(repo)

	require.NoError(t, repo.CreateTemplate(context.Background(), mondayTemplate(practitionerID, 9*60, 12*60, 30)))

	from, to := monday, monday
	override := &SlotTemplate{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		Weekday:        1,
		StartMinute:    14 * 60,
		EndMinute:      16 * 60,
		SlotMinutes:    30,
		Weekly:         false,
		ValidFrom:      &from,
		ValidTo:        &to,
		Active:         true,
	}
	require.NoError(t, repo.CreateTemplate(context.Background(), override))

	days, err := svc.GetSlots(context.Background(), viewerFor(patientID), practitionerID, monday, monday.AddDate(0, 0, 7))
	require.NoError(t, err)

	// Covered Monday: only the override's afternoon slots.
	require.Len(t, days[0].Slots, 4)
	assert.Equal(t, monday.Add(14*time.Hour), days[0].Slots[0].Start)

	// The following Monday is outside the override window, so the weekly
	// template is back in force.
	nextMonday := days[7]
	assert.True(t, nextMonday.Configured)
	require.Len(t, nextMonday.Slots, 6)
	assert.Equal(t, monday.AddDate(0, 0, 7).Add(9*time.Hour), nextMonday.Slots[0].Start)
}

func TestGetSlotsUnavailabilityExcludesOverlapping(t *testing.T) {
	clock := newFakeClock(sundayEve)
	svc, repo := newTestService(clock, ServiceConfig{})
	practitionerID, patientID := seedPeople(repo)

	require.NoError(t, repo.CreateTemplate(context.Background(), mondayTemplate(practitionerID, 9*60, 12*60, 30)))

	// 10:15-10:45 clips both the 10:00 and 10:30 slots; partial overlap
	// excludes the whole slot.
	require.NoError(t, repo.CreateUnavailability(context.Background(), &UnavailabilityPeriod{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		Start:          monday.Add(10*time.Hour + 15*time.Minute),
		End:            monday.Add(10*time.Hour + 45*time.Minute),
		Category:       CategoryLeave,
	}))

	days, err := svc.GetSlots(context.Background(), viewerFor(patientID), practitionerID, monday, monday)
	require.NoError(t, err)

	statuses := map[string]SlotStatus{}
	for _, slot := range days[0].Slots {
		statuses[slot.Start.Format("15:04")] = slot.Status
	}
	assert.Equal(t, SlotAvailable, statuses["09:30"])
	assert.Equal(t, SlotUnavailable, statuses["10:00"])
	assert.Equal(t, SlotUnavailable, statuses["10:30"])
	assert.Equal(t, SlotAvailable, statuses["11:00"])
}

func TestGetSlotsUnavailabilitySubMinuteOverlap(t *testing.T) {
	clock := newFakeClock(sundayEve)
	svc, repo := newTestService(clock, ServiceConfig{})
	practitionerID, patientID := seedPeople(repo)

	require.NoError(t, repo.CreateTemplate(context.Background(), mondayTemplate(practitionerID, 9*60, 12*60, 30)))

	// 10:59:00-11:00:30 reaches 30 seconds into the 11:00 slot. Periods
	// are free-form timestamps, so the tail still excludes the slot.
	require.NoError(t, repo.CreateUnavailability(context.Background(), &UnavailabilityPeriod{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		Start:          monday.Add(10*time.Hour + 59*time.Minute),
		End:            monday.Add(11 * time.Hour).Add(30 * time.Second),
		Category:       CategoryOther,
	}))

	days, err := svc.GetSlots(context.Background(), viewerFor(patientID), practitionerID, monday, monday)
	require.NoError(t, err)

	statuses := map[string]SlotStatus{}
	for _, slot := range days[0].Slots {
		statuses[slot.Start.Format("15:04")] = slot.Status
	}
	assert.Equal(t, SlotUnavailable, statuses["10:30"])
	assert.Equal(t, SlotUnavailable, statuses["11:00"])
	assert.Equal(t, SlotAvailable, statuses["11:30"])
}

func TestGetSlotsBookedAndCancelled(t *testing.T) {
	clock := newFakeClock(sundayEve)
	svc, repo := newTestService(clock, ServiceConfig{})
	practitionerID, patientID := seedPeople(repo)

	require.NoError(t, repo.CreateTemplate(context.Background(), mondayTemplate(practitionerID, 9*60, 12*60, 30)))

	booked := &Appointment{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		PatientID:      patientID,
		Start:          monday.Add(9 * time.Hour),
		Minutes:        30,
		Status:         StatusConfirmed,
		Type:           TypeConsultation,
		Version:        1,
	}
	_, err := repo.CreateAppointment(context.Background(), booked, nil)
	require.NoError(t, err)

	cancelled := &Appointment{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		PatientID:      patientID,
		Start:          monday.Add(10 * time.Hour),
		Minutes:        30,
		Status:         StatusCancelled,
		Type:           TypeConsultation,
		Version:        1,
	}
	repo.appointments[cancelled.ID] = *cancelled

	days, err := svc.GetSlots(context.Background(), viewerFor(patientID), practitionerID, monday, monday)
	require.NoError(t, err)

	first := days[0].Slots[0]
	assert.Equal(t, SlotBooked, first.Status)
	require.NotNil(t, first.AppointmentID)
	assert.Equal(t, booked.ID, *first.AppointmentID)

	// A cancelled appointment frees its interval.
	assert.Equal(t, SlotAvailable, days[0].Slots[2].Status)
}

func TestGetSlotsLockVisibility(t *testing.T) {
	clock := newFakeClock(sundayEve)
	svc, repo := newTestService(clock, ServiceConfig{LockTTL: 5 * time.Minute})
	practitionerID, patientID := seedPeople(repo)
	otherUser := uuid.New()

	require.NoError(t, repo.CreateTemplate(context.Background(), mondayTemplate(practitionerID, 9*60, 12*60, 30)))

	lockAt := func(holder uuid.UUID, start time.Time, expiresAt time.Time) {
		require.NoError(t, repo.AcquireLock(context.Background(), &ReservationLock{
			Token:          uuid.New(),
			PractitionerID: practitionerID,
			HolderID:       holder,
			Start:          start,
			Minutes:        30,
			CreatedAt:      clock.Now(),
			ExpiresAt:      expiresAt,
		}))
	}

	lockAt(otherUser, monday.Add(9*time.Hour), clock.Now().Add(5*time.Minute))
	lockAt(patientID, monday.Add(10*time.Hour), clock.Now().Add(5*time.Minute))
	lockAt(otherUser, monday.Add(11*time.Hour), clock.Now().Add(-time.Minute))

	days, err := svc.GetSlots(context.Background(), viewerFor(patientID), practitionerID, monday, monday)
	require.NoError(t, err)

	statuses := map[string]SlotStatus{}
	for _, slot := range days[0].Slots {
		statuses[slot.Start.Format("15:04")] = slot.Status
	}
	assert.Equal(t, SlotLocked, statuses["09:00"], "another user's active lock hides the slot")
	assert.Equal(t, SlotAvailable, statuses["10:00"], "the viewer's own lock keeps the slot visible")
	assert.Equal(t, SlotAvailable, statuses["11:00"], "an expired lock no longer hides the slot")
}

func TestGetSlotsPastClassification(t *testing.T) {
	clock := newFakeClock(monday.Add(10*time.Hour + 5*time.Minute))
	svc, repo := newTestService(clock, ServiceConfig{})
	practitionerID, patientID := seedPeople(repo)

	require.NoError(t, repo.CreateTemplate(context.Background(), mondayTemplate(practitionerID, 9*60, 12*60, 30)))

	// Past also wins over booked.
	_, err := repo.CreateAppointment(context.Background(), &Appointment{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		PatientID:      patientID,
		Start:          monday.Add(9 * time.Hour),
		Minutes:        30,
		Status:         StatusConfirmed,
		Type:           TypeConsultation,
		Version:        1,
	}, nil)
	require.NoError(t, err)

	days, err := svc.GetSlots(context.Background(), viewerFor(patientID), practitionerID, monday, monday)
	require.NoError(t, err)

	statuses := map[string]SlotStatus{}
	for _, slot := range days[0].Slots {
		statuses[slot.Start.Format("15:04")] = slot.Status
	}
	assert.Equal(t, SlotPast, statuses["09:00"])
	assert.Equal(t, SlotPast, statuses["10:00"], "a slot starting at the current minute is past")
	assert.Equal(t, SlotAvailable, statuses["10:30"])
}

func TestGetSlotsPastGranularityHour(t *testing.T) {
	clock := newFakeClock(monday.Add(10*time.Hour + 5*time.Minute))
	svc, repo := newTestService(clock, ServiceConfig{PastGranularity: time.Hour})
	practitionerID, patientID := seedPeople(repo)

	require.NoError(t, repo.CreateTemplate(context.Background(), mondayTemplate(practitionerID, 9*60, 12*60, 30)))

	days, err := svc.GetSlots(context.Background(), viewerFor(patientID), practitionerID, monday, monday)
	require.NoError(t, err)

	statuses := map[string]SlotStatus{}
	for _, slot := range days[0].Slots {
		statuses[slot.Start.Format("15:04")] = slot.Status
	}
	// Everything within the current hour rounds down to "now".
	assert.Equal(t, SlotPast, statuses["10:00"])
	assert.Equal(t, SlotPast, statuses["10:30"])
	assert.Equal(t, SlotAvailable, statuses["11:00"])
}

func TestGetSlotsUnconfiguredDay(t *testing.T) {
	clock := newFakeClock(sundayEve)
	svc, repo := newTestService(clock, ServiceConfig{})
	practitionerID, patientID := seedPeople(repo)

	require.NoError(t, repo.CreateTemplate(context.Background(), mondayTemplate(practitionerID, 9*60, 12*60, 30)))

	tuesday := monday.AddDate(0, 0, 1)
	days, err := svc.GetSlots(context.Background(), viewerFor(patientID), practitionerID, tuesday, tuesday)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.False(t, days[0].Configured)
	assert.Empty(t, days[0].Slots)
}

func TestDeactivateTemplateChecksOwnership(t *testing.T) {
	clock := newFakeClock(sundayEve)
	svc, repo := newTestService(clock, ServiceConfig{})
	practitionerID, patientID := seedPeople(repo)
	other := uuid.New()
	repo.PutPractitioner(Practitioner{ID: other, Name: "Dr. Maes"})

	tpl := mondayTemplate(practitionerID, 9*60, 12*60, 30)
	require.NoError(t, repo.CreateTemplate(context.Background(), tpl))

	err := svc.DeactivateTemplate(context.Background(), other, tpl.ID)
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	// The template is untouched and still produces slots.
	days, err := svc.GetSlots(context.Background(), viewerFor(patientID), practitionerID, monday, monday)
	require.NoError(t, err)
	require.Len(t, days[0].Slots, 6)

	require.NoError(t, svc.DeactivateTemplate(context.Background(), practitionerID, tpl.ID))
	days, err = svc.GetSlots(context.Background(), viewerFor(patientID), practitionerID, monday, monday)
	require.NoError(t, err)
	assert.False(t, days[0].Configured)
}

func TestDeleteUnavailabilityChecksOwnership(t *testing.T) {
	clock := newFakeClock(sundayEve)
	svc, repo := newTestService(clock, ServiceConfig{})
	practitionerID, patientID := seedPeople(repo)
	other := uuid.New()
	repo.PutPractitioner(Practitioner{ID: other, Name: "Dr. Maes"})

	require.NoError(t, repo.CreateTemplate(context.Background(), mondayTemplate(practitionerID, 9*60, 12*60, 30)))
	period := &UnavailabilityPeriod{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		Start:          monday.Add(9 * time.Hour),
		End:            monday.Add(12 * time.Hour),
		Category:       CategoryLeave,
	}
	require.NoError(t, repo.CreateUnavailability(context.Background(), period))

	// A delete under the wrong practitioner leaves the period in force.
	require.NoError(t, svc.DeleteUnavailability(context.Background(), other, period.ID))
	days, err := svc.GetSlots(context.Background(), viewerFor(patientID), practitionerID, monday, monday)
	require.NoError(t, err)
	for _, slot := range days[0].Slots {
		assert.Equal(t, SlotUnavailable, slot.Status)
	}

	require.NoError(t, svc.DeleteUnavailability(context.Background(), practitionerID, period.ID))
	days, err = svc.GetSlots(context.Background(), viewerFor(patientID), practitionerID, monday, monday)
	require.NoError(t, err)
	for _, slot := range days[0].Slots {
		assert.Equal(t, SlotAvailable, slot.Status)
	}
}

func TestGetSlotsValidation(t *testing.T) {
	clock := newFakeClock(sundayEve)
	svc, repo := newTestService(clock, ServiceConfig{})
	practitionerID, patientID := seedPeople(repo)

	_, err := svc.GetSlots(context.Background(), viewerFor(patientID), practitionerID, monday, monday.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.GetSlots(context.Background(), viewerFor(patientID), uuid.New(), monday, monday)
	assert.ErrorIs(t, err, ErrPractitionerNotFound)
}
