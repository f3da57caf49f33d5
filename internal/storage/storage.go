// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"postgate/internal/model"
)

// ErrNotFound is returned when a requested row or document does not exist.
var ErrNotFound = errors.New("not found")

// Setting document identifiers under system_settings.
const (
	SettingPosting   = "posting"
	SettingRateCaps  = "rate_caps"
	SettingPlatforms = "platforms"
)

// AuditQuery selects audit entries. Zero-valued fields do not filter.
type AuditQuery struct {
	Platform     model.Platform
	ContentID    string
	Action       model.AuditAction
	ReasonPrefix string
	Since        time.Time
	Limit        int
}

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateContent(ctx context.Context, item *model.ContentItem) error
	GetContent(ctx context.Context, id string) (*model.ContentItem, error)
	UpdateContent(ctx context.Context, item *model.ContentItem) error
	ListContent(ctx context.Context, st model.Status, limit int) ([]model.ContentItem, error)
	ListDueContent(ctx context.Context, now time.Time, limit int) ([]model.ContentItem, error)

	InsertAudit(ctx context.Context, e *model.AuditEntry) error
	CountAudit(ctx context.Context, platform model.Platform, action model.AuditAction, since time.Time) (int, error)
	LastAudit(ctx context.Context, platform model.Platform, action model.AuditAction) (*model.AuditEntry, error)
	ListAudit(ctx context.Context, q AuditQuery) ([]model.AuditEntry, error)

	GetAttempt(ctx context.Context, key string) (*model.PublishAttempt, error)
	UpsertAttempt(ctx context.Context, a *model.PublishAttempt) error

	AcquireLock(ctx context.Context, lock model.PublishLock) (bool, *model.PublishLock, error)
	ReleaseLock(ctx context.Context, lockID string) error

	GetSetting(ctx context.Context, id string, v any) error
	PutSetting(ctx context.Context, id string, v any) error
	MutateSetting(ctx context.Context, id string, v any, mutate func(found bool) error) error

	CreateSource(ctx context.Context, src *model.IntakeSource) error
	GetSource(ctx context.Context, id int64) (*model.IntakeSource, error)
	ListSources(ctx context.Context) ([]model.IntakeSource, error)
	ListDueSources(ctx context.Context, now time.Time) ([]model.IntakeSource, error)
	UpdateSource(ctx context.Context, src *model.IntakeSource) error
	DeleteSource(ctx context.Context, id int64) error

	CreateRule(ctx context.Context, r *model.IntakeRule) error
	ListRules(ctx context.Context, sourceID int64) ([]model.IntakeRule, error)
	DeleteRule(ctx context.Context, id int64) error

	MarkSeen(ctx context.Context, sourceID int64, guid string) error
	IsSeen(ctx context.Context, sourceID int64, guid string) (bool, error)

	Close() error
}
