package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used by tests and local
// tooling. It enforces the same interval-uniqueness rules the Postgres
// exclusion constraints do, under a single mutex, so concurrency tests
// exercise real arbitration.
type MemoryRepository struct {
	mu             sync.Mutex
	practitioners  map[uuid.UUID]Practitioner
	patients       map[uuid.UUID]Patient
	templates      map[uuid.UUID]SlotTemplate
	unavailability map[uuid.UUID]UnavailabilityPeriod
	appointments   map[uuid.UUID]Appointment
	locks          map[uuid.UUID]ReservationLock
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		practitioners:  make(map[uuid.UUID]Practitioner),
		patients:       make(map[uuid.UUID]Patient),
		templates:      make(map[uuid.UUID]SlotTemplate),
		unavailability: make(map[uuid.UUID]UnavailabilityPeriod),
		appointments:   make(map[uuid.UUID]Appointment),
		locks:          make(map[uuid.UUID]ReservationLock),
	}
}

func (r *MemoryRepository) PutPractitioner(p Practitioner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.practitioners[p.ID] = p
}

func (r *MemoryRepository) PutPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = p
}

func (r *MemoryRepository) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.practitioners[id]
	if !ok {
		return nil, ErrPractitionerNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) CreateTemplate(ctx context.Context, t *SlotTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = *t
	return nil
}

func (r *MemoryRepository) ListActiveTemplates(ctx context.Context, practitionerID uuid.UUID) ([]SlotTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SlotTemplate
	for _, t := range r.templates {
		if t.PractitionerID == practitionerID && t.Active {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		return out[i].StartMinute < out[j].StartMinute
	})
	return out, nil
}

func (r *MemoryRepository) DeactivateTemplate(ctx context.Context, practitionerID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok || t.PractitionerID != practitionerID {
		return ErrTemplateNotFound
	}
	t.Active = false
	r.templates[id] = t
	return nil
}

func (r *MemoryRepository) CreateUnavailability(ctx context.Context, u *UnavailabilityPeriod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailability[u.ID] = *u
	return nil
}

func (r *MemoryRepository) ListUnavailability(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]UnavailabilityPeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []UnavailabilityPeriod
	for _, u := range r.unavailability {
		if u.PractitionerID == practitionerID && u.Start.Before(to) && u.End.After(from) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (r *MemoryRepository) DeleteUnavailability(ctx context.Context, practitionerID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.unavailability[id]; ok && u.PractitionerID == practitionerID {
		delete(r.unavailability, id)
	}
	return nil
}

func (r *MemoryRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListAppointments(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PractitionerID == practitionerID && a.Start.Before(to) && a.Interval().End().After(from) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (r *MemoryRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) HasBlockingOverlap(ctx context.Context, practitionerID uuid.UUID, iv Interval, exclude *uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasBlockingOverlapLocked(practitionerID, iv, exclude), nil
}

func (r *MemoryRepository) hasBlockingOverlapLocked(practitionerID uuid.UUID, iv Interval, exclude *uuid.UUID) bool {
	for _, a := range r.appointments {
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if a.PractitionerID == practitionerID && a.Status.Blocking() && iv.Overlaps(a.Interval()) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) CreateAppointment(ctx context.Context, a *Appointment, consumeToken *uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasBlockingOverlapLocked(a.PractitionerID, a.Interval(), nil) {
		return nil, ErrConflict
	}
	if consumeToken != nil {
		delete(r.locks, *consumeToken)
	}
	r.appointments[a.ID] = *a
	stored := r.appointments[a.ID]
	return &stored, nil
}

func (r *MemoryRepository) UpdateAppointment(ctx context.Context, id uuid.UUID, fn func(*Appointment) error) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if err := fn(&a); err != nil {
		return nil, err
	}
	if a.Status.Blocking() && r.hasBlockingOverlapLocked(a.PractitionerID, a.Interval(), &a.ID) {
		return nil, ErrConflict
	}
	a.Version++
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) GetLock(ctx context.Context, token uuid.UUID) (*ReservationLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[token]
	if !ok {
		return nil, ErrLockNotFound
	}
	return &l, nil
}

func (r *MemoryRepository) AcquireLock(ctx context.Context, l *ReservationLock) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Expired overlapping locks are purged first, mirroring the store's
	// acquire transaction.
	for token, held := range r.locks {
		if held.PractitionerID == l.PractitionerID && held.Expired(l.CreatedAt) && l.Interval().Overlaps(held.Interval()) {
			delete(r.locks, token)
		}
	}

	if r.hasBlockingOverlapLocked(l.PractitionerID, l.Interval(), nil) {
		return ErrConflict
	}
	for _, held := range r.locks {
		if held.PractitionerID == l.PractitionerID && l.Interval().Overlaps(held.Interval()) {
			return ErrConflict
		}
	}

	r.locks[l.Token] = *l
	return nil
}

func (r *MemoryRepository) ReleaseLock(ctx context.Context, token uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, token)
	return nil
}

func (r *MemoryRepository) RenewLock(ctx context.Context, token uuid.UUID, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[token]
	if !ok {
		return ErrLockNotFound
	}
	l.ExpiresAt = expiresAt
	r.locks[token] = l
	return nil
}

func (r *MemoryRepository) ListActiveLocks(ctx context.Context, practitionerID uuid.UUID, from, to time.Time, now time.Time) ([]ReservationLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ReservationLock
	for _, l := range r.locks {
		if l.PractitionerID == practitionerID && !l.Expired(now) && l.Start.Before(to) && l.Interval().End().After(from) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (r *MemoryRepository) DeleteExpiredLocks(ctx context.Context, now time.Time) ([]ReservationLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var reclaimed []ReservationLock
	for token, l := range r.locks {
		if !now.Before(l.ExpiresAt) {
			reclaimed = append(reclaimed, l)
			delete(r.locks, token)
		}
	}
	return reclaimed, nil
}
