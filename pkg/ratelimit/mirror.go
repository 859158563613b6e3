package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys for the shared rate limit state.
const (
	redisKeyRemaining  = "gh:rate_limit:remaining"
	redisKeyResetAt    = "gh:rate_limit:reset_at"
	redisKeyLastUpdate = "gh:rate_limit:last_update"
)

// mirrorTTL expires mirrored state well after any window reset so stale
// processes do not inherit ancient budgets.
const mirrorTTL = 2 * time.Hour

// Mirror shares rate limit state across processes via Redis. It is strictly
// best effort: publish and load failures degrade to per-process state and
// never fail a request.
type Mirror struct {
	redis *redis.Client
}

// NewMirror creates a mirror on the given Redis client.
func NewMirror(redisClient *redis.Client) *Mirror {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Mirror{redis: redisClient}
}

// Publish stores the state in Redis. Last writer wins.
func (m *Mirror) Publish(ctx context.Context, state State) error {
	pipe := m.redis.Pipeline()
	pipe.Set(ctx, redisKeyRemaining, state.Remaining, mirrorTTL)
	pipe.Set(ctx, redisKeyResetAt, state.ResetAt.Unix(), mirrorTTL)
	pipe.Set(ctx, redisKeyLastUpdate, state.LastUpdate.UnixNano(), mirrorTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish rate limit state: %w", err)
	}
	return nil
}

// Load reads the shared state. The second return is false when no sibling
// process has published yet.
func (m *Mirror) Load(ctx context.Context) (State, bool, error) {
	remaining, err := m.redis.Get(ctx, redisKeyRemaining).Int()
	if err == redis.Nil {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("load rate limit remaining: %w", err)
	}

	resetUnix, err := m.redis.Get(ctx, redisKeyResetAt).Int64()
	if err != nil && err != redis.Nil {
		return State{}, false, fmt.Errorf("load rate limit reset: %w", err)
	}

	lastUpdateNano, err := m.redis.Get(ctx, redisKeyLastUpdate).Int64()
	if err != nil && err != redis.Nil {
		return State{}, false, fmt.Errorf("load rate limit last update: %w", err)
	}

	if remaining < 0 {
		remaining = 0
	}

	return State{
		Remaining:  remaining,
		ResetAt:    time.Unix(resetUnix, 0),
		LastUpdate: time.Unix(0, lastUpdateNano),
	}, true, nil
}
