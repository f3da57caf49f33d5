package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postgate/internal/model"
)

// GetAttempt returns the ledger row for an idempotency key.
func (s *SQLite) GetAttempt(ctx context.Context, key string) (*model.PublishAttempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT idempotency_key, content_id, platform, status, platform_post_id, error, actor, created_at, updated_at
		 FROM publish_attempts WHERE idempotency_key = ?`, key,
	)
	var a model.PublishAttempt
	var platform, st, created, updated string
	err := row.Scan(&a.IdempotencyKey, &a.ContentID, &platform, &st, &a.PlatformPostID, &a.Error, &a.Actor, &created, &updated)
	if err != nil {
		return nil, notFound(err, "publish attempt")
	}
	a.Platform = model.Platform(platform)
	a.Status = model.AttemptStatus(st)
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}

// UpsertAttempt inserts or updates a ledger row. A row that already reached
// success is never overwritten, so each key holds at most one success.
func (s *SQLite) UpsertAttempt(ctx context.Context, a *model.PublishAttempt) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publish_attempts
		     (idempotency_key, content_id, platform, status, platform_post_id, error, actor, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (idempotency_key) DO UPDATE SET
		     status = excluded.status,
		     platform_post_id = excluded.platform_post_id,
		     error = excluded.error,
		     actor = excluded.actor,
		     updated_at = excluded.updated_at
		 WHERE publish_attempts.status != 'success'`,
		a.IdempotencyKey, a.ContentID, string(a.Platform), string(a.Status), a.PlatformPostID, a.Error, a.Actor, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert publish attempt: %w", err)
	}
	return nil
}

func lockKey(contentID string, platform model.Platform) string {
	return contentID + "|" + string(platform)
}

// AcquireLock atomically takes the (content, platform) lock unless an
// unexpired, unreleased lock exists. It returns the blocking lock when not acquired.
func (s *SQLite) AcquireLock(ctx context.Context, lock model.PublishLock) (bool, *model.PublishLock, error) {
	key := lockKey(lock.ContentID, lock.Platform)
	now := lock.LockedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := scanLock(tx.QueryRowContext(ctx,
		`SELECT lock_id, content_id, platform, holder, locked_at, ttl_minutes, released
		 FROM publish_locks WHERE lock_key = ?`, key))
	switch {
	case errors.Is(err, ErrNotFound):
		existing = nil
	case err != nil:
		return false, nil, err
	}
	if existing != nil && existing.Active(now) {
		return false, existing, nil
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO publish_locks (lock_key, lock_id, content_id, platform, holder, locked_at, expires_at, ttl_minutes, released)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT (lock_key) DO UPDATE SET
		     lock_id = excluded.lock_id,
		     holder = excluded.holder,
		     locked_at = excluded.locked_at,
		     expires_at = excluded.expires_at,
		     ttl_minutes = excluded.ttl_minutes,
		     released = 0
		 WHERE publish_locks.released = 1 OR publish_locks.expires_at <= excluded.locked_at`,
		key, lock.LockID, lock.ContentID, string(lock.Platform), lock.Holder,
		formatTime(now), formatTime(lock.ExpiresAt()), lock.TTLMinutes,
	)
	if err != nil {
		return false, nil, fmt.Errorf("write lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, existing, nil
	}
	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("commit lock: %w", err)
	}
	return true, nil, nil
}

// ReleaseLock marks the lock with the given ID as released.
func (s *SQLite) ReleaseLock(ctx context.Context, lockID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE publish_locks SET released = 1 WHERE lock_id = ?`, lockID)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("release lock %s: %w", lockID, ErrNotFound)
	}
	return nil
}

func scanLock(row scannable) (*model.PublishLock, error) {
	var l model.PublishLock
	var platform, locked string
	var released int
	err := row.Scan(&l.LockID, &l.ContentID, &platform, &l.Holder, &locked, &l.TTLMinutes, &released)
	if err != nil {
		return nil, notFound(err, "publish lock")
	}
	l.Platform = model.Platform(platform)
	l.LockedAt = parseTime(locked)
	l.Released = released == 1
	return &l, nil
}

