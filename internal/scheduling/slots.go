package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SlotView is one candidate slot with its computed status. Exactly one
// status applies; past wins over every other classification.
type SlotView struct {
	Start         time.Time
	Minutes       int
	Status        SlotStatus
	AppointmentID *uuid.UUID
}

// DayAvailability carries one day's slots. Configured distinguishes
// "no schedule set up for this day" from "schedule exists but every
// slot is taken".
type DayAvailability struct {
	Date       time.Time
	Configured bool
	Slots      []SlotView
}

// GetSlots computes the offered slots for a practitioner over the date
// range [from, to] as seen by viewer. Read-only; reflects whatever is
// committed at call time.
func (s *Service) GetSlots(ctx context.Context, viewer Identity, practitionerID uuid.UUID, from, to time.Time) ([]DayAvailability, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: range end before start", ErrValidation)
	}

	if _, err := s.repo.GetPractitioner(ctx, practitionerID); err != nil {
		return nil, err
	}

	templates, err := s.repo.ListActiveTemplates(ctx, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	rangeStart := dateOf(from)
	rangeEnd := dateOf(to).AddDate(0, 0, 1)

	unavailability, err := s.repo.ListUnavailability(ctx, practitionerID, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("load unavailability: %w", err)
	}

	appointments, err := s.repo.ListAppointments(ctx, practitionerID, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	now := s.clock.Now()

	locks, err := s.repo.ListActiveLocks(ctx, practitionerID, rangeStart, rangeEnd, now)
	if err != nil {
		return nil, fmt.Errorf("load locks: %w", err)
	}

	var days []DayAvailability
	for day := rangeStart; day.Before(rangeEnd); day = day.AddDate(0, 0, 1) {
		chosen := templatesForDay(templates, day)
		da := DayAvailability{
			Date:       day,
			Configured: len(chosen) > 0,
		}
		for _, tpl := range chosen {
			da.Slots = append(da.Slots, expandTemplate(tpl, day)...)
		}
		sort.Slice(da.Slots, func(i, j int) bool {
			return da.Slots[i].Start.Before(da.Slots[j].Start)
		})
		for i := range da.Slots {
			s.classify(&da.Slots[i], viewer, now, unavailability, appointments, locks)
		}
		days = append(days, da)
	}

	return days, nil
}

// templatesForDay selects the templates that generate slots on a day.
// Any override whose validity window covers the day replaces the weekly
// templates wholesale; there is no merging of the two kinds.
func templatesForDay(templates []SlotTemplate, day time.Time) []SlotTemplate {
	var overrides, weekly []SlotTemplate
	for _, t := range templates {
		if !t.AppliesTo(day) {
			continue
		}
		if t.Weekly {
			weekly = append(weekly, t)
		} else {
			overrides = append(overrides, t)
		}
	}
	if len(overrides) > 0 {
		return overrides
	}
	return weekly
}

func expandTemplate(t SlotTemplate, day time.Time) []SlotView {
	var slots []SlotView
	for m := t.StartMinute; m+t.SlotMinutes <= t.EndMinute; m += t.SlotMinutes {
		slots = append(slots, SlotView{
			Start:   day.Add(time.Duration(m) * time.Minute),
			Minutes: t.SlotMinutes,
			Status:  SlotAvailable,
		})
	}
	return slots
}

func (s *Service) classify(slot *SlotView, viewer Identity, now time.Time,
	unavailability []UnavailabilityPeriod, appointments []Appointment, locks []ReservationLock) {

	iv := Interval{Start: slot.Start, Minutes: slot.Minutes}

	// Comparison is rounded (default to the minute) so a slot does not
	// flip to past mid-render right at the boundary.
	if !slot.Start.Truncate(s.pastGranularity).After(now.Truncate(s.pastGranularity)) {
		slot.Status = SlotPast
		return
	}

	for _, u := range unavailability {
		if u.Overlaps(iv) {
			slot.Status = SlotUnavailable
			return
		}
	}

	for _, a := range appointments {
		if a.Status.Blocking() && iv.Overlaps(a.Interval()) {
			id := a.ID
			slot.Status = SlotBooked
			slot.AppointmentID = &id
			return
		}
	}

	for _, l := range locks {
		if l.HolderID != viewer.UserID && !l.Expired(now) && iv.Overlaps(l.Interval()) {
			slot.Status = SlotLocked
			return
		}
	}

	slot.Status = SlotAvailable
}
