package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelNames(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	assert.Equal(t, "practitioner:6ba7b810-9dad-11d1-80b4-00c04fd430c8", PractitionerChannel(id))
	assert.Equal(t, "patient:6ba7b810-9dad-11d1-80b4-00c04fd430c8", PatientChannel(id))
	assert.Equal(t, "practitioner:6ba7b810-9dad-11d1-80b4-00c04fd430c8:slots", SlotsChannel(id))
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	practitionerID := uuid.New()
	channel := SlotsChannel(practitionerID)

	var first, second []Event
	bus.Subscribe(channel, func(_ string, ev Event) { first = append(first, ev) })
	bus.Subscribe(channel, func(_ string, ev Event) { second = append(second, ev) })
	bus.Subscribe(PatientChannel(uuid.New()), func(_ string, ev Event) {
		t.Error("unrelated channel must not receive the event")
	})

	ev := Event{
		Kind:           SlotsChanged,
		PractitionerID: practitionerID,
		At:             time.Now(),
	}
	require.NoError(t, bus.Publish(context.Background(), channel, ev))
	require.NoError(t, bus.Publish(context.Background(), channel, ev))

	assert.Len(t, first, 2, "every subscriber sees every publish")
	assert.Len(t, second, 2)
	assert.Equal(t, SlotsChanged, first[0].Kind)
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	err := bus.Publish(context.Background(), PractitionerChannel(uuid.New()), Event{Kind: LockAcquired})
	assert.NoError(t, err, "publishing into the void is not an error")
}
