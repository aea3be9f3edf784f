package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("doctor lock not acquired")
)

// Locker is used by the appointment service to serialize booking attempts per key
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a locker that uses one Redis key per lock name. A caller
// finding the key held polls until wait elapses before giving up.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry:  25 * time.Millisecond,
	}
}

// DoctorDayKey names the lock guarding one doctor's bookings on one date.
func DoctorDayKey(tenantID, doctorID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("lock:doctor:%s:%s:%s", tenantID, doctorID, day.Format(time.DateOnly))
}

func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// The caller's ctx may already be cancelled; release on a fresh one.
		relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.release(relCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if time.Now().Add(l.retry).After(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}
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
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

type noopLocker struct{}

// NoopLocker runs fn directly. Used when Redis is disabled; the storage
// exclusion constraint still prevents double bookings.
func NoopLocker() Locker { return noopLocker{} }

func (noopLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
