package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/daehan-quant/premiumbot/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when it still holds the
// caller's token, so a holder whose TTL lapsed cannot free a lock
// someone else has since taken.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SET NX plus a TTL.
// One live process per ledger is the invariant it guards.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseScript),
	}
}

// Acquire takes the named lock for ttl and returns its release
// function, which is idempotent. domain.ErrLockHeld means another
// process got there first.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	redisKey := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled when the
			// process shuts down; release on a fresh one.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.release.Run(rctx, lm.rdb, []string{redisKey}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
