// Package slothold serializes concurrent public bookings of one slot with a
// short-lived Redis key.
package slothold

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld means another booking currently holds the slot.
var ErrHeld = errors.New("slothold: slot is held by another booking")

const DefaultTTL = 30 * time.Second

// Holder hands out exclusive, expiring holds on (date, start time).
type Holder interface {
	Acquire(ctx context.Context, date, startTime string) (*Hold, error)
}

// Hold is one acquired slot. Release is safe to call more than once and
// after the hold has expired.
type Hold struct {
	key     string
	token   string
	release func(ctx context.Context, key, token string) error
}

func (h *Hold) Key() string { return h.key }

func (h *Hold) Release(ctx context.Context) error {
	if h == nil || h.release == nil {
		return nil
	}
	return h.release(ctx, h.key, h.token)
}

// releaseScript deletes the key only while it still carries our token, so
// a hold that expired and was taken by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisHolder struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisHolder builds a holder on client. A non-positive ttl falls back to
// DefaultTTL.
func NewRedisHolder(client redis.UniversalClient, ttl time.Duration) *RedisHolder {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisHolder{client: client, ttl: ttl, prefix: "clinic:slothold:"}
}

func (r *RedisHolder) key(date, startTime string) string {
	return r.prefix + date + "T" + startTime
}

func (r *RedisHolder) Acquire(ctx context.Context, date, startTime string) (*Hold, error) {
	key := r.key(date, startTime)
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("slothold: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Hold{key: key, token: token, release: r.release}, nil
}

func (r *RedisHolder) release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("slothold: release %s: %w", key, err)
	}
	return nil
}

// Nop always grants the hold. Used when no Redis is configured; the
// database re-check still guards the slot.
type Nop struct{}

func (Nop) Acquire(context.Context, string, string) (*Hold, error) { return &Hold{}, nil }
