package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// Locker serializes critical sections keyed by a booking resource.
// A held lock is identified by a random token so that only the holder's
// release deletes the key; a crashed holder's key expires via TTL.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// SlotLockKey is the lock key for capacity-slot bookings and moves.
func SlotLockKey(slotID uuid.UUID) string {
	return fmt.Sprintf("lock:slot:%s", slotID.String())
}

// ApptLockKey is the lock key for the raw doctor+time booking flow.
func ApptLockKey(doctorID uuid.UUID, date, startTime string) string {
	return fmt.Sprintf("lock:appt:%s:%s:%s", doctorID.String(), date, startTime)
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, log zerolog.Logger) Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

// WithLock runs fn while holding the key. If the key is already held it
// returns ErrLockNotAcquired without waiting. If Redis itself is unreachable
// the lock degrades to always-allow: fn runs unlocked and the transactional
// capacity check in the store remains the correctness backstop.
func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("lock store unreachable, proceeding unlocked")
		return fn(ctx)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		if relErr := l.release(ctx, key, token); relErr != nil {
			l.log.Warn().Err(relErr).Str("key", key).Msg("lock release failed, key will expire via TTL")
		}
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
