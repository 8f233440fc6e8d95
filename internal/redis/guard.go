package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrGuardBusy = errors.New("slot busy, retry shortly")

// Guard serializes write attempts against one slot of a practitioner's
// calendar. It is an advisory fast path only; the database exclusion
// constraints remain the authority on overlap conflicts.
type Guard interface {
	WithSlotGuard(ctx context.Context, practitionerID uuid.UUID, start time.Time, fn func(ctx context.Context) error) error
}

type redisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSlotGuard creates a guard keyed per practitioner and slot start, so
// writers targeting different intervals never contend with each other.
func NewSlotGuard(client *redis.Client, ttl time.Duration) Guard {
	return &redisGuard{
		client: client,
		ttl:    ttl,
	}
}

func slotGuardKey(practitionerID uuid.UUID, start time.Time) string {
	return fmt.Sprintf("guard:slot:%s:%d", practitionerID.String(), start.UTC().Unix())
}

func (g *redisGuard) WithSlotGuard(ctx context.Context, practitionerID uuid.UUID, start time.Time, fn func(ctx context.Context) error) error {
	key := slotGuardKey(practitionerID, start)
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire slot guard: %w", err)
	}
	if !ok {
		return ErrGuardBusy
	}

	defer func() {
		_ = g.release(ctx, key, token)
	}()

	guardCtx, cancel := context.WithTimeout(ctx, g.ttl)
	defer cancel()

	return fn(guardCtx)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (g *redisGuard) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, g.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot guard: %w", err)
	}
	return nil
}

// NopGuard runs the critical section without coordination. Used where
// Redis is unavailable and the exclusion constraints alone must decide.
type NopGuard struct{}

func (NopGuard) WithSlotGuard(ctx context.Context, _ uuid.UUID, _ time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
