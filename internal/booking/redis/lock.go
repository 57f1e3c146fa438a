package redis

import (
	"context"
	"fmt"
	"ms-booking/internal/logger"
	"ms-booking/internal/utils"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	lockKeyPrefix  = "request_lock:"
	defaultLockTTL = 10 * time.Second
)

// unlockScript deletes the key only while it still holds the caller's token,
// so an expired lock re-acquired by someone else is never released by mistake.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	Client  *redis.Client
	LockTTL time.Duration
	Logger  *logger.Logger
}

func NewRedis(client *redis.Client, lockTTL time.Duration, log *logger.Logger) *Redis {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Redis{
		Client:  client,
		LockTTL: lockTTL,
		Logger:  log,
	}
}

func lockKey(requestID string) string {
	return lockKeyPrefix + requestID
}

// LockRequest tries once to take the per-request lock. ok is false when
// another transition holds it.
func (r *Redis) LockRequest(ctx context.Context, requestID string) (string, bool, error) {
	token := utils.NewID()
	ok, err := r.Client.SetNX(ctx, lockKey(requestID), token, r.LockTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to lock request %s: %w", requestID, err)
	}
	if !ok {
		r.Logger.Debug("REDIS", fmt.Sprintf("Request %s is locked by another transition", requestID))
		return "", false, nil
	}
	return token, true, nil
}

// UnlockRequest releases the lock if token still owns it.
func (r *Redis) UnlockRequest(ctx context.Context, requestID, token string) error {
	released, err := unlockScript.Run(ctx, r.Client, []string{lockKey(requestID)}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to unlock request %s: %w", requestID, err)
	}
	if released == 0 {
		r.Logger.Warn("REDIS", fmt.Sprintf("Lock for request %s expired before release", requestID))
	}
	return nil
}

// IsRequestLocked reports whether a transition currently holds the lock.
func (r *Redis) IsRequestLocked(ctx context.Context, requestID string) (bool, error) {
	_, err := r.Client.Get(ctx, lockKey(requestID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
