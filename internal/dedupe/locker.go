package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"postgate/internal/model"
	"postgate/internal/storage"
)

// LockStore is the lock persistence of the relational store.
type LockStore interface {
	AcquireLock(ctx context.Context, lock model.PublishLock) (bool, *model.PublishLock, error)
	ReleaseLock(ctx context.Context, lockID string) error
}

// StoreLocker keeps locks in the main database.
type StoreLocker struct {
	store LockStore
}

// NewStoreLocker creates a Locker over store.
func NewStoreLocker(store LockStore) *StoreLocker {
	return &StoreLocker{store: store}
}

// TryLock implements Locker.
func (l *StoreLocker) TryLock(ctx context.Context, lock model.PublishLock) (bool, *model.PublishLock, error) {
	return l.store.AcquireLock(ctx, lock)
}

// Unlock implements Locker. Unlocking a lock that was already reclaimed by
// another holder is not an error.
func (l *StoreLocker) Unlock(ctx context.Context, lock model.PublishLock) error {
	err := l.store.ReleaseLock(ctx, lock.LockID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// releaseScript deletes the key only while it still holds our lock ID.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker keeps locks in Redis with native key expiry.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker creates a Locker on client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "postgate:lock:"}
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (l *RedisLocker) key(lock model.PublishLock) string {
	return l.prefix + lock.ContentID + "|" + string(lock.Platform)
}

// TryLock implements Locker.
func (l *RedisLocker) TryLock(ctx context.Context, lock model.PublishLock) (bool, *model.PublishLock, error) {
	ttl := time.Duration(lock.TTLMinutes) * time.Minute
	ok, err := l.client.SetNX(ctx, l.key(lock), lock.LockID, ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil, nil
}

// Unlock implements Locker.
func (l *RedisLocker) Unlock(ctx context.Context, lock model.PublishLock) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(lock)}, lock.LockID).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}
