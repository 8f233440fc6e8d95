package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/careops/scheduling/internal/scheduling"
)

type CreateTemplateRequest struct {
	PractitionerID string  `json:"practitioner_id"`
	Weekday        int     `json:"weekday"`
	StartTime      string  `json:"start_time"` // "09:00"
	EndTime        string  `json:"end_time"`   // "12:00"
	SlotMinutes    int     `json:"slot_minutes"`
	Weekly         bool    `json:"weekly"`
	ValidFrom      *string `json:"valid_from,omitempty"` // "2026-09-01"
	ValidTo        *string `json:"valid_to,omitempty"`
}

type CreateUnavailabilityRequest struct {
	PractitionerID string    `json:"practitioner_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Category       string    `json:"category"`
	WholeDay       bool      `json:"whole_day"`
	Reason         string    `json:"reason,omitempty"`
}

type AcquireLockRequest struct {
	PractitionerID string    `json:"practitioner_id"`
	Start          time.Time `json:"start"`
	Minutes        int       `json:"minutes"`
}

type LockResponse struct {
	Token          uuid.UUID `json:"token"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	Start          time.Time `json:"start"`
	Minutes        int       `json:"minutes"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type CreateAppointmentRequest struct {
	PractitionerID string    `json:"practitioner_id"`
	PatientID      string    `json:"patient_id"`
	DepartmentID   *string   `json:"department_id,omitempty"`
	Start          time.Time `json:"start"`
	Minutes        int       `json:"minutes,omitempty"`
	Type           string    `json:"type,omitempty"`
	LockToken      *string   `json:"lock_token,omitempty"`
}

type ProposeRequest struct {
	NewStart time.Time `json:"new_start"`
	Message  string    `json:"message,omitempty"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type RescheduleRequest struct {
	Version int       `json:"version"`
	Start   time.Time `json:"start"`
	Minutes int       `json:"minutes"`
}

type AppointmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	Start          time.Time  `json:"start"`
	Minutes        int        `json:"minutes"`
	Status         string     `json:"status"`
	Type           string     `json:"type"`
	ProposedStart  *time.Time `json:"proposed_start,omitempty"`
	Version        int        `json:"version"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		PractitionerID: a.PractitionerID,
		PatientID:      a.PatientID,
		Start:          a.Start,
		Minutes:        a.Minutes,
		Status:         string(a.Status),
		Type:           string(a.Type),
		ProposedStart:  a.ProposedStart,
		Version:        a.Version,
	}
}

type SlotResponse struct {
	Start         time.Time  `json:"start"`
	Minutes       int        `json:"minutes"`
	Status        string     `json:"status"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

type DayResponse struct {
	Date       string         `json:"date"`
	Configured bool           `json:"configured"`
	Slots      []SlotResponse `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
