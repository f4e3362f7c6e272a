package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
	"github.com/score-portal/score-portal/pkg/retry"
)

var errLockHeld = errors.New("lock held by another importer")

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lock only while it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ImportLock serializes imports and deletions of the same exam across
// processes with SET NX PX and a token-checked release. A held lock is
// refreshed every third of its TTL until released, so long imports keep it.
type ImportLock struct {
	cache   *Cache
	ttl     time.Duration
	retrier *retry.Retrier
}

// NewImportLock creates an ImportLock. attempts and backoff control how long
// Acquire waits for a held lock.
func NewImportLock(cache *Cache, ttl time.Duration, attempts int, backoff time.Duration) *ImportLock {
	if ttl <= 0 {
		ttl = TTLImportLock
	}
	if attempts <= 0 {
		attempts = 1
	}
	return &ImportLock{
		cache:   cache,
		ttl:     ttl,
		retrier: retry.LockRetrier(attempts, backoff),
	}
}

// ImportLockKey returns the lock key for an exam.
func ImportLockKey(id score.TestIdentity) string {
	return LockKey("import:" + id.Name + ":" + id.Date)
}

// Acquire takes the lock for id. It returns shared.ErrImportInProgress when
// another holder keeps it for all attempts.
func (l *ImportLock) Acquire(ctx context.Context, id score.TestIdentity) (func(context.Context) error, error) {
	key := ImportLockKey(id)
	token := uuid.NewString()

	err := l.retrier.Do(ctx, func(ctx context.Context) error {
		ok, err := l.cache.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			return retry.Retryable(err)
		}
		if !ok {
			return retry.Retryable(errLockHeld)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errLockHeld) {
			return nil, shared.ErrImportInProgress
		}
		return nil, shared.WrapError("lock", "Acquire", shared.ErrServiceUnavailable, "import lock unavailable", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(key, token, stop)
	}()

	var once sync.Once
	release := func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			wg.Wait()
		})
		return releaseScript.Run(ctx, l.cache.Client(), []string{key}, token).Err()
	}
	return release, nil
}

// keepAlive extends the lock until stop is closed or the lock is lost.
func (l *ImportLock) keepAlive(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := refreshScript.Run(ctx, l.cache.Client(), []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}
