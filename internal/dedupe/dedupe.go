// Package dedupe suppresses duplicate publishes: deterministic idempotency
// keys, the attempt ledger and short-lived (content, platform) locks.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"postgate/internal/model"
	"postgate/internal/storage"
)

// DefaultLockTTLMinutes is used when a Guard is built with a non-positive TTL.
const DefaultLockTTLMinutes = 5

// Ledger is the attempt ledger persistence.
type Ledger interface {
	GetAttempt(ctx context.Context, key string) (*model.PublishAttempt, error)
	UpsertAttempt(ctx context.Context, a *model.PublishAttempt) error
}

// ContentReader loads content items.
type ContentReader interface {
	GetContent(ctx context.Context, id string) (*model.ContentItem, error)
}

// Locker is an atomic compare-and-set lock backend.
type Locker interface {
	// TryLock takes lock unless an unexpired, unreleased lock exists for the
	// same (content, platform). It returns the blocking lock when not taken,
	// if the backend knows it.
	TryLock(ctx context.Context, lock model.PublishLock) (bool, *model.PublishLock, error)
	Unlock(ctx context.Context, lock model.PublishLock) error
}

// GenerateIdempotencyKey hashes the fields identifying one logical publish.
func GenerateIdempotencyKey(contentID string, platform model.Platform, scheduledAt *time.Time, mediaSignature string) string {
	var at string
	if scheduledAt != nil {
		at = scheduledAt.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{contentID, string(platform), at, mediaSignature}, "|")))
	return hex.EncodeToString(sum[:])
}

// KeyFor returns the idempotency key of item's next publish.
func KeyFor(item model.ContentItem) string {
	return GenerateIdempotencyKey(item.ID, item.Platform, item.ScheduledAt, item.MediaSignature)
}

// DuplicateCheck is the result of CheckDuplicateAttempt.
type DuplicateCheck struct {
	IsDuplicate bool
	Existing    *model.PublishAttempt
}

// Succeeded reports whether a prior attempt for the key already succeeded.
func (d DuplicateCheck) Succeeded() bool {
	return d.IsDuplicate && d.Existing != nil && d.Existing.Status == model.AttemptSuccess
}

// LockResult is the result of AcquirePublishLock.
type LockResult struct {
	Acquired bool
	Lock     *model.PublishLock
	// HeldBy is the holder of the blocking lock, when known.
	HeldBy string
	// Err is set when acquisition failed on a backend error.
	Err error
}

// LockID returns the ID of the acquired lock.
func (r LockResult) LockID() string {
	if r.Lock == nil {
		return ""
	}
	return r.Lock.LockID
}

// AlreadyPosted is the result of CheckAlreadyPosted.
type AlreadyPosted struct {
	AlreadyPosted  bool
	PlatformPostID string
}

// Guard bundles the duplicate protection operations.
type Guard struct {
	ledger     Ledger
	content    ContentReader
	locker     Locker
	log        *slog.Logger
	ttlMinutes int
	now        func() time.Time
}

// New creates a Guard. ttlMinutes <= 0 selects DefaultLockTTLMinutes.
func New(ledger Ledger, content ContentReader, locker Locker, ttlMinutes int, log *slog.Logger) *Guard {
	if ttlMinutes <= 0 {
		ttlMinutes = DefaultLockTTLMinutes
	}
	return &Guard{
		ledger:     ledger,
		content:    content,
		locker:     locker,
		log:        log,
		ttlMinutes: ttlMinutes,
		now:        time.Now,
	}
}

// CheckDuplicateAttempt looks key up in the ledger. A ledger error is logged
// and reported as not duplicate.
func (g *Guard) CheckDuplicateAttempt(ctx context.Context, key string) DuplicateCheck {
	a, err := g.ledger.GetAttempt(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return DuplicateCheck{}
	case err != nil:
		g.log.Warn("duplicate check failed, allowing attempt", "idempotency_key", key, "error", err)
		return DuplicateCheck{}
	}
	return DuplicateCheck{IsDuplicate: true, Existing: a}
}

// RecordPublishAttempt upserts the ledger row for key.
func (g *Guard) RecordPublishAttempt(ctx context.Context, a model.PublishAttempt) error {
	if err := g.ledger.UpsertAttempt(ctx, &a); err != nil {
		return fmt.Errorf("record attempt %s: %w", a.Status, err)
	}
	return nil
}

// AcquirePublishLock takes the (content, platform) lock for holder. Backend
// errors leave the lock not acquired.
func (g *Guard) AcquirePublishLock(ctx context.Context, contentID string, platform model.Platform, holder string) LockResult {
	lock := model.PublishLock{
		LockID:     uuid.NewString(),
		ContentID:  contentID,
		Platform:   platform,
		Holder:     holder,
		LockedAt:   g.now().UTC(),
		TTLMinutes: g.ttlMinutes,
	}
	ok, existing, err := g.locker.TryLock(ctx, lock)
	if err != nil {
		g.log.Error("acquire publish lock failed", "content_id", contentID, "platform", platform, "error", err)
		return LockResult{Err: err}
	}
	if !ok {
		res := LockResult{}
		if existing != nil {
			res.HeldBy = existing.Holder
		}
		return res
	}
	return LockResult{Acquired: true, Lock: &lock}
}

// ReleasePublishLock releases lock. Failures are logged only.
func (g *Guard) ReleasePublishLock(ctx context.Context, lock *model.PublishLock) {
	if lock == nil {
		return
	}
	if err := g.locker.Unlock(ctx, *lock); err != nil {
		g.log.Warn("release publish lock", "lock_id", lock.LockID, "content_id", lock.ContentID, "error", err)
	}
}

// CheckAlreadyPosted re-reads the content item and reports whether it was
// already published.
func (g *Guard) CheckAlreadyPosted(ctx context.Context, contentID string) (AlreadyPosted, error) {
	item, err := g.content.GetContent(ctx, contentID)
	if err != nil {
		return AlreadyPosted{}, fmt.Errorf("load content %s: %w", contentID, err)
	}
	if item.PlatformPostID != "" || item.Status == model.StatusPosted {
		return AlreadyPosted{AlreadyPosted: true, PlatformPostID: item.PlatformPostID}, nil
	}
	return AlreadyPosted{}, nil
}
