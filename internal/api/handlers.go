package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careops/scheduling/internal/scheduling"
)

// -- slot computation --

func getSlotsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, err := uuid.Parse(chi.URLParam(r, "practitionerID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner id must be a valid UUID")
			return
		}

		from, err := parseDateParam(r, "from")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
			return
		}
		to, err := parseDateParam(r, "to")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
			return
		}

		days, err := svc.GetSlots(r.Context(), CallerIdentity(r.Context()), practitionerID, from, to)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]DayResponse, 0, len(days))
		for _, d := range days {
			day := DayResponse{
				Date:       d.Date.Format("2006-01-02"),
				Configured: d.Configured,
				Slots:      make([]SlotResponse, 0, len(d.Slots)),
			}
			for _, s := range d.Slots {
				day.Slots = append(day.Slots, SlotResponse{
					Start:         s.Start,
					Minutes:       s.Minutes,
					Status:        string(s.Status),
					AppointmentID: s.AppointmentID,
				})
			}
			resp = append(resp, day)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// -- templates --

func createTemplateHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTemplateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		practitionerID, err := uuid.Parse(req.PractitionerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner_id must be a valid UUID")
			return
		}

		startMinute, err := parseClock(req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
			return
		}
		endMinute, err := parseClock(req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
			return
		}

		tpl := scheduling.SlotTemplate{
			PractitionerID: practitionerID,
			Weekday:        req.Weekday,
			StartMinute:    startMinute,
			EndMinute:      endMinute,
			SlotMinutes:    req.SlotMinutes,
			Weekly:         req.Weekly,
		}
		if req.ValidFrom != nil {
			d, err := time.Parse("2006-01-02", *req.ValidFrom)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "valid_from must be YYYY-MM-DD")
				return
			}
			tpl.ValidFrom = &d
		}
		if req.ValidTo != nil {
			d, err := time.Parse("2006-01-02", *req.ValidTo)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "valid_to must be YYYY-MM-DD")
				return
			}
			tpl.ValidTo = &d
		}

		if err := svc.CreateTemplate(r.Context(), &tpl); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, tpl)
	}
}

func listTemplatesHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, err := uuid.Parse(chi.URLParam(r, "practitionerID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner id must be a valid UUID")
			return
		}
		templates, err := svc.ListTemplates(r.Context(), practitionerID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, templates)
	}
}

func deactivateTemplateHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, err := uuid.Parse(chi.URLParam(r, "practitionerID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner id must be a valid UUID")
			return
		}
		templateID, err := uuid.Parse(chi.URLParam(r, "templateID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_template_id", "template id must be a valid UUID")
			return
		}
		if err := svc.DeactivateTemplate(r.Context(), practitionerID, templateID); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// -- unavailability --

func createUnavailabilityHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateUnavailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		practitionerID, err := uuid.Parse(req.PractitionerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner_id must be a valid UUID")
			return
		}
		period := scheduling.UnavailabilityPeriod{
			PractitionerID: practitionerID,
			Start:          req.Start,
			End:            req.End,
			Category:       scheduling.UnavailabilityCategory(req.Category),
			WholeDay:       req.WholeDay,
			Reason:         req.Reason,
		}
		if err := svc.CreateUnavailability(r.Context(), &period); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, period)
	}
}

func deleteUnavailabilityHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, err := uuid.Parse(chi.URLParam(r, "practitionerID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner id must be a valid UUID")
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "unavailabilityID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_id", "unavailability id must be a valid UUID")
			return
		}
		if err := svc.DeleteUnavailability(r.Context(), practitionerID, id); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// -- reservation locks --

func acquireLockHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AcquireLockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		practitionerID, err := uuid.Parse(req.PractitionerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner_id must be a valid UUID")
			return
		}

		lock, err := svc.AcquireLock(r.Context(), CallerIdentity(r.Context()), practitionerID,
			scheduling.Interval{Start: req.Start, Minutes: req.Minutes})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, LockResponse{
			Token:          lock.Token,
			PractitionerID: lock.PractitionerID,
			Start:          lock.Start,
			Minutes:        lock.Minutes,
			ExpiresAt:      lock.ExpiresAt,
		})
	}
}

func releaseLockHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := uuid.Parse(chi.URLParam(r, "token"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_token", "token must be a valid UUID")
			return
		}
		if err := svc.ReleaseLock(r.Context(), CallerIdentity(r.Context()), token); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func renewLockHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := uuid.Parse(chi.URLParam(r, "token"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_token", "token must be a valid UUID")
			return
		}
		lock, err := svc.RenewLock(r.Context(), CallerIdentity(r.Context()), token)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, LockResponse{
			Token:          lock.Token,
			PractitionerID: lock.PractitionerID,
			Start:          lock.Start,
			Minutes:        lock.Minutes,
			ExpiresAt:      lock.ExpiresAt,
		})
	}
}

// -- appointments --

func createAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		practitionerID, err := uuid.Parse(req.PractitionerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		in := scheduling.CreateAppointmentInput{
			PractitionerID: practitionerID,
			PatientID:      patientID,
			Start:          req.Start,
			Minutes:        req.Minutes,
			Type:           scheduling.AppointmentType(req.Type),
		}
		if req.DepartmentID != nil {
			deptID, err := uuid.Parse(*req.DepartmentID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_department_id", "department_id must be a valid UUID")
				return
			}
			in.DepartmentID = &deptID
		}
		if req.LockToken != nil {
			token, err := uuid.Parse(*req.LockToken)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_lock_token", "lock_token must be a valid UUID")
				return
			}
			in.LockToken = &token
		}

		appt, err := svc.CreateAppointment(r.Context(), CallerIdentity(r.Context()), in)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}
		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listPatientAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "patientID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient id must be a valid UUID")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// transitionHandler wraps the state-machine operations that take only
// the appointment id.
func transitionHandler(fn func(*http.Request, uuid.UUID) (*scheduling.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}
		appt, err := fn(r, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func proposeHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
		var req ProposeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("%w: could not parse JSON body", scheduling.ErrValidation)
		}
		return svc.Propose(r.Context(), CallerIdentity(r.Context()), id, req.NewStart, req.Message)
	})
}

func refuseHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
		var req ReasonRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("%w: could not parse JSON body", scheduling.ErrValidation)
		}
		return svc.RefuseProposal(r.Context(), CallerIdentity(r.Context()), id, req.Reason)
	})
}

func cancelHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
		var req ReasonRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("%w: could not parse JSON body", scheduling.ErrValidation)
		}
		return svc.Cancel(r.Context(), CallerIdentity(r.Context()), id, req.Reason)
	})
}

func rescheduleHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("%w: could not parse JSON body", scheduling.ErrValidation)
		}
		return svc.Reschedule(r.Context(), CallerIdentity(r.Context()), id, req.Version,
			scheduling.Interval{Start: req.Start, Minutes: req.Minutes})
	})
}

// -- helpers --

func parseDateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, fmt.Errorf("query parameter %q is required (YYYY-MM-DD)", name)
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("query parameter %q must be YYYY-MM-DD", name)
	}
	return t, nil
}

// parseClock converts "HH:MM" into minutes from midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("time %q has an invalid hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q has an invalid minute", s)
	}
	return h*60 + m, nil
}
