package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotGuardKeyIsPerSlot(t *testing.T) {
	practitionerID := uuid.New()
	start := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)

	// Different intervals of the same practitioner must not contend.
	assert.NotEqual(t,
		slotGuardKey(practitionerID, start),
		slotGuardKey(practitionerID, start.Add(30*time.Minute)))

	// Different practitioners at the same time must not contend either.
	assert.NotEqual(t,
		slotGuardKey(practitionerID, start),
		slotGuardKey(uuid.New(), start))

	// The same instant yields the same key regardless of zone.
	assert.Equal(t,
		slotGuardKey(practitionerID, start),
		slotGuardKey(practitionerID, start.In(time.FixedZone("CEST", 2*3600))))
}

func TestNopGuardRunsFn(t *testing.T) {
	ran := false
	err := NopGuard{}.WithSlotGuard(context.Background(), uuid.New(), time.Now(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}
