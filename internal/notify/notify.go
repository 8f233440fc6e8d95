// Package notify defines the change-event contract published after
// each committed booking mutation, plus the two transports used to
// deliver it: an in-process bus and Redis pub/sub.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	AppointmentCreated     Kind = "appointment.created"
	AppointmentConfirmed   Kind = "appointment.confirmed"
	AppointmentProposed    Kind = "appointment.proposed"
	AppointmentAccepted    Kind = "appointment.accepted"
	AppointmentRefused     Kind = "appointment.refused"
	AppointmentCancelled   Kind = "appointment.cancelled"
	AppointmentStarted     Kind = "appointment.started"
	AppointmentNoShow      Kind = "appointment.no_show"
	AppointmentCompleted   Kind = "appointment.completed"
	AppointmentRescheduled Kind = "appointment.rescheduled"
	LockAcquired           Kind = "lock.acquired"
	LockReleased           Kind = "lock.released"
	LockReclaimed          Kind = "lock.reclaimed"
	SlotsChanged           Kind = "slots.changed"
)

// Event describes one committed change. Publication happens strictly
// after the transaction commits, never before.
type Event struct {
	Kind           Kind       `json:"kind"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"`
	Start          time.Time  `json:"start,omitempty"`
	Minutes        int        `json:"minutes,omitempty"`
	At             time.Time  `json:"at"`
}

// Publisher pushes an event onto a logical channel. Implementations are
// best-effort; delivery guarantees belong to the transport, not here.
type Publisher interface {
	Publish(ctx context.Context, channel string, ev Event) error
}

func PractitionerChannel(id uuid.UUID) string { return "practitioner:" + id.String() }
func PatientChannel(id uuid.UUID) string      { return "patient:" + id.String() }
func SlotsChannel(id uuid.UUID) string        { return "practitioner:" + id.String() + ":slots" }

// Handler reacts to an event on a subscribed channel.
type Handler func(channel string, ev Event)

// Bus is an in-process publisher for single-node deployments and tests.
// Handlers run synchronously on the publishing goroutine.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

func (b *Bus) Subscribe(channel string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], h)
}

func (b *Bus) Publish(_ context.Context, channel string, ev Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[channel]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(channel, ev)
	}
	return nil
}
