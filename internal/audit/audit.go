// Package audit is the single write path into the append-only audit trail.
//
// Logging an entry never fails the caller: storage errors are reported in
// the returned Result and on the operational log, and callers are free to
// ignore them.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"postgate/internal/model"
	"postgate/internal/storage"
)

// Store is the persistence the audit log needs.
type Store interface {
	InsertAudit(ctx context.Context, e *model.AuditEntry) error
	ListAudit(ctx context.Context, q storage.AuditQuery) ([]model.AuditEntry, error)
}

// Observer is notified of every entry that was written.
type Observer interface {
	ObserveDecision(e model.AuditEntry)
}

// ErrInvalidEntry is reported for entries missing required fields.
var ErrInvalidEntry = errors.New("invalid audit entry")

// Result reports the outcome of a write. A zero Err means the entry was stored.
type Result struct {
	ID  int64
	Err error
}

// OK reports whether the entry was stored.
func (r Result) OK() bool { return r.Err == nil }

// Logger writes audit entries.
type Logger struct {
	store    Store
	log      *slog.Logger
	observer Observer
	now      func() time.Time
}

// New creates a Logger over store.
func New(store Store, log *slog.Logger) *Logger {
	return &Logger{store: store, log: log, now: time.Now}
}

// SetObserver registers o to be told about every stored entry.
func (l *Logger) SetObserver(o Observer) {
	l.observer = o
}

// Log validates and appends e. TimestampUTC defaults to now; LoggedAt is
// always the receipt time.
func (l *Logger) Log(ctx context.Context, e model.AuditEntry) Result {
	if err := validate(e); err != nil {
		l.log.Error("audit entry rejected", "action", e.Action, "content_id", e.ContentID, "error", err)
		return Result{Err: err}
	}

	now := l.now().UTC()
	if e.TimestampUTC.IsZero() {
		e.TimestampUTC = now
	}
	e.TimestampUTC = e.TimestampUTC.UTC()
	e.LoggedAt = now

	if err := l.store.InsertAudit(ctx, &e); err != nil {
		l.log.Error("write audit entry",
			"action", e.Action, "platform", e.Platform, "content_id", e.ContentID, "error", err)
		return Result{Err: err}
	}

	if l.observer != nil {
		l.observer.ObserveDecision(e)
	}
	return Result{ID: e.ID}
}

// Attempt describes one publish attempt or its outcome.
type Attempt struct {
	Actor            string
	Platform         model.Platform
	ContentID        string
	Reason           string
	PlatformResponse string
	RequestID        string
}

// LogPublishAttempt records the start (attempt_publish) or the outcome
// (posted, failed) of a publish attempt.
func (l *Logger) LogPublishAttempt(ctx context.Context, action model.AuditAction, a Attempt) Result {
	switch action {
	case model.ActionAttemptPublish, model.ActionPosted, model.ActionFailed:
	default:
		err := fmt.Errorf("%w: %q is not a publish attempt action", ErrInvalidEntry, action)
		l.log.Error("audit entry rejected", "action", action, "content_id", a.ContentID, "error", err)
		return Result{Err: err}
	}
	return l.Log(ctx, model.AuditEntry{
		Actor:            a.Actor,
		Platform:         a.Platform,
		ContentID:        a.ContentID,
		Action:           action,
		Reason:           a.Reason,
		PlatformResponse: a.PlatformResponse,
		RequestID:        a.RequestID,
	})
}

// LogBlockedPublish records a kill switch block.
func (l *Logger) LogBlockedPublish(ctx context.Context, platform model.Platform, reason, actor, contentID string) Result {
	return l.Log(ctx, model.AuditEntry{
		Actor:     actor,
		Platform:  platform,
		ContentID: contentID,
		Action:    model.ActionKillSwitchBlocked,
		Reason:    reason,
	})
}

// Recent returns the newest entries matching q.
func (l *Logger) Recent(ctx context.Context, q storage.AuditQuery) ([]model.AuditEntry, error) {
	entries, err := l.store.ListAudit(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return entries, nil
}

var knownActions = map[model.AuditAction]bool{
	model.ActionAttemptPublish:    true,
	model.ActionBlocked:           true,
	model.ActionPosted:            true,
	model.ActionFailed:            true,
	model.ActionKillSwitchBlocked: true,
	model.ActionDuplicateBlocked:  true,
	model.ActionAlreadyPosted:     true,
	model.ActionNotApproved:       true,
	model.ActionApproved:          true,
	model.ActionRejected:          true,
	model.ActionScheduled:         true,
	model.ActionStatusChanged:     true,
}

func validate(e model.AuditEntry) error {
	if e.Actor == "" {
		return fmt.Errorf("%w: actor is required", ErrInvalidEntry)
	}
	if !knownActions[e.Action] {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidEntry, e.Action)
	}
	return nil
}
