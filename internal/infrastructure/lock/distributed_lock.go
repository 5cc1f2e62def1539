package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"retailledger/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var ErrLockFailed = errors.New("failed to acquire distributed lock")

// unlockScript deletes the key only while it still holds our value, so a lock
// that expired and was taken by someone else is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// DistributedLock is a single SET NX lock with an owner value.
type DistributedLock struct {
	client     redis.UniversalClient
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client redis.UniversalClient, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes one attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock every retryInterval up to maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return fmt.Errorf("%w: %s", ErrLockFailed, l.key)
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// AccountLocker serializes work on a set of accounts across processes.
// The returned release func must always be called.
type AccountLocker interface {
	LockAccounts(ctx context.Context, accountIDs []int64) (release func(), err error)
}

func AccountLockKey(accountID int64) string {
	return fmt.Sprintf("ledger:lock:account:%d", accountID)
}

// RedisAccountLocker takes one redis lock per account, in ascending id order,
// so two callers locking the same pair never wait on each other crosswise.
type RedisAccountLocker struct {
	client        redis.UniversalClient
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisAccountLocker(client redis.UniversalClient, cfg config.LockConfig) *RedisAccountLocker {
	return &RedisAccountLocker{
		client:        client,
		ttl:           cfg.TTL,
		retryInterval: cfg.RetryInterval,
		maxRetries:    cfg.MaxRetries,
	}
}

func (l *RedisAccountLocker) LockAccounts(ctx context.Context, accountIDs []int64) (func(), error) {
	owner := uuid.NewString()
	held := make([]*DistributedLock, 0, len(accountIDs))

	release := func() {
		// the caller's ctx may already be cancelled
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Unlock(context.Background())
		}
	}

	for _, id := range SortedUnique(accountIDs) {
		dl := NewDistributedLock(l.client, AccountLockKey(id), owner, l.ttl)
		if err := dl.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
			release()
			return func() {}, err
		}
		held = append(held, dl)
	}
	return release, nil
}

// NoopLocker is used when redis is disabled; row locks in the database are
// then the only serialization.
type NoopLocker struct{}

func (NoopLocker) LockAccounts(context.Context, []int64) (func(), error) {
	return func() {}, nil
}

// SortedUnique returns ids ascending with duplicates removed.
func SortedUnique(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
