// Redis-based pass locking.
//
// Each processing pass takes a short-lived lock per account/mode so that two
// scheduler instances never run the same account concurrently. When Redis is
// unavailable, an in-memory fallback keeps single-instance deployments safe.
package database

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"disclosure-trading-bot/internal/logging"
)

const (
	// PassLockKeyPrefix is the prefix for pass lock keys.
	// Format: engine:passlock:{accountID}:{mode}
	PassLockKeyPrefix = "engine:passlock"

	// PassLockTTL bounds how long a crashed pass can keep an account locked
	PassLockTTL = 10 * time.Minute
)

// PassLocker serializes processing passes per account/mode pair.
type PassLocker struct {
	client         *redis.Client
	log            *logging.Logger
	localMu        sync.Mutex
	localLocks     map[string]time.Time
	redisAvailable atomic.Bool
}

// NewPassLocker creates a PassLocker. If client is nil, locking is
// process-local only.
func NewPassLocker(client *redis.Client) *PassLocker {
	l := &PassLocker{
		client:     client,
		log:        logging.WithComponent("pass_lock"),
		localLocks: make(map[string]time.Time),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			l.log.Warn("Redis unavailable at startup, using in-memory locks", "error", err)
			l.redisAvailable.Store(false)
		} else {
			l.log.Info("Redis connected")
			l.redisAvailable.Store(true)
		}
	} else {
		l.redisAvailable.Store(false)
	}

	return l
}

func (l *PassLocker) lockKey(accountID, mode string) string {
	return fmt.Sprintf("%s:%s:%s", PassLockKeyPrefix, accountID, mode)
}

// Acquire takes the pass lock for an account/mode pair. Returns false when
// another pass already holds it.
func (l *PassLocker) Acquire(ctx context.Context, accountID, mode string) (bool, error) {
	key := l.lockKey(accountID, mode)

	if l.client != nil && l.redisAvailable.Load() {
		ok, err := l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), PassLockTTL).Result()
		if err != nil {
			l.log.Warn("Redis lock error, falling back to in-memory locks", "error", err)
			l.redisAvailable.Store(false)
			return l.acquireLocal(key), nil
		}
		return ok, nil
	}

	return l.acquireLocal(key), nil
}

// Release drops the pass lock. Safe to call even when Acquire fell back to
// the in-memory path mid-pass.
func (l *PassLocker) Release(ctx context.Context, accountID, mode string) error {
	key := l.lockKey(accountID, mode)

	l.localMu.Lock()
	delete(l.localLocks, key)
	l.localMu.Unlock()

	if l.client != nil && l.redisAvailable.Load() {
		if err := l.client.Del(ctx, key).Err(); err != nil {
			l.log.Warn("Redis unlock error", "error", err, "key", key)
			l.redisAvailable.Store(false)
		}
	}
	return nil
}

func (l *PassLocker) acquireLocal(key string) bool {
	l.localMu.Lock()
	defer l.localMu.Unlock()

	if expiry, held := l.localLocks[key]; held && time.Now().Before(expiry) {
		return false
	}
	l.localLocks[key] = time.Now().Add(PassLockTTL)
	return true
}
