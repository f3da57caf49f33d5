// Package publish runs content items through the governance gates and
// calls the platform publisher only when every gate passes.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"postgate/internal/adapter"
	"postgate/internal/audit"
	"postgate/internal/control"
	"postgate/internal/dedupe"
	"postgate/internal/model"
	"postgate/internal/ratelimit"
	"postgate/internal/status"
)

// Controls provides the settings snapshot for a run.
type Controls interface {
	Snapshot(ctx context.Context) control.Snapshot
}

// Guard is the duplicate protection used by the orchestrator.
type Guard interface {
	AcquirePublishLock(ctx context.Context, contentID string, platform model.Platform, holder string) dedupe.LockResult
	ReleasePublishLock(ctx context.Context, lock *model.PublishLock)
	CheckAlreadyPosted(ctx context.Context, contentID string) (dedupe.AlreadyPosted, error)
	CheckDuplicateAttempt(ctx context.Context, key string) dedupe.DuplicateCheck
	RecordPublishAttempt(ctx context.Context, a model.PublishAttempt) error
}

// Limiter is the throttle used by the orchestrator.
type Limiter interface {
	CheckRateCaps(ctx context.Context, platform model.Platform, cfg *model.CapConfig) ratelimit.Decision
	RecordCapViolation(ctx context.Context, platform model.Platform, cfg *model.CapConfig, d ratelimit.Decision)
	RecordPublishError(ctx context.Context, platform model.Platform, errMsg, contentID string)
}

// Auditor writes audit entries.
type Auditor interface {
	Log(ctx context.Context, e model.AuditEntry) audit.Result
	LogPublishAttempt(ctx context.Context, action model.AuditAction, a audit.Attempt) audit.Result
	LogBlockedPublish(ctx context.Context, platform model.Platform, reason, actor, contentID string) audit.Result
}

// ContentStore reads and advances content items.
type ContentStore interface {
	GetContent(ctx context.Context, id string) (*model.ContentItem, error)
	UpdateContent(ctx context.Context, item *model.ContentItem) error
	ListDueContent(ctx context.Context, now time.Time, limit int) ([]model.ContentItem, error)
}

// Publisher is the external publish adapter.
type Publisher interface {
	Publish(ctx context.Context, req adapter.Request) (adapter.Result, error)
}

// AdapterMetrics counts adapter calls.
type AdapterMetrics interface {
	AdapterCall(platform model.Platform, result string)
}

// Decision is the final disposition of one item.
type Decision string

// Decisions.
const (
	DecisionPosted        Decision = "POSTED"
	DecisionAlreadyPosted Decision = "ALREADY_POSTED"
	DecisionBlocked       Decision = "BLOCKED"
	DecisionSkipped       Decision = "SKIPPED"
	DecisionFailed        Decision = "FAILED"
)

// Signal codes.
const (
	CodePostingPaused    = "POSTING_PAUSED_SYSTEM_LOCK"
	CodePlatformDisabled = "PLATFORM_DISABLED"
	CodeNotApproved      = "NOT_APPROVED"
	CodeLockContended    = "LOCK_CONTENDED"
	CodeAlreadyPosted    = "ALREADY_POSTED"
	CodeDuplicateBlocked = "DUPLICATE_BLOCKED"
	CodeAdapterFailed    = "ADAPTER_FAILED"
	CodeInternalError    = "INTERNAL_ERROR"
)

// Outcome reports what happened to one item.
type Outcome struct {
	ContentID      string         `json:"content_id"`
	Platform       model.Platform `json:"platform"`
	Decision       Decision       `json:"decision"`
	Code           string         `json:"code,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	PlatformPostID string         `json:"platform_post_id,omitempty"`
	NextAllowedAt  *time.Time     `json:"next_allowed_at,omitempty"`
}

// DefaultAdapterTimeout bounds one adapter call.
const DefaultAdapterTimeout = time.Minute

// Orchestrator composes the gates.
type Orchestrator struct {
	controls  Controls
	guard     Guard
	limiter   Limiter
	auditor   Auditor
	content   ContentStore
	publisher Publisher
	metrics   AdapterMetrics
	log       *slog.Logger
	now       func() time.Time

	adapterTimeout time.Duration
}

// New creates an Orchestrator.
func New(controls Controls, guard Guard, limiter Limiter, auditor Auditor, content ContentStore, publisher Publisher, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		controls:  controls,
		guard:     guard,
		limiter:   limiter,
		auditor:   auditor,
		content:   content,
		publisher: publisher,
		log:       log,
		now:       time.Now,

		adapterTimeout: DefaultAdapterTimeout,
	}
}

// SetMetrics registers adapter call counters.
func (o *Orchestrator) SetMetrics(m AdapterMetrics) {
	o.metrics = m
}

// SetAdapterTimeout bounds each adapter call by d. Non-positive values are ignored.
func (o *Orchestrator) SetAdapterTimeout(d time.Duration) {
	if d > 0 {
		o.adapterTimeout = d
	}
}

// NextDue returns the earliest scheduled item that is due, or nil.
func (o *Orchestrator) NextDue(ctx context.Context) (*model.ContentItem, error) {
	items, err := o.content.ListDueContent(ctx, o.now().UTC(), 1)
	if err != nil {
		return nil, fmt.Errorf("list due content: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// ProcessDue runs up to limit due items, one at a time. A failing item does
// not stop the others.
func (o *Orchestrator) ProcessDue(ctx context.Context, actor string, limit int) ([]Outcome, error) {
	items, err := o.content.ListDueContent(ctx, o.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due content: %w", err)
	}
	outcomes := make([]Outcome, 0, len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		outcomes = append(outcomes, o.Process(ctx, item, actor))
	}
	return outcomes, nil
}

// ProcessID loads item id and runs it through Process.
func (o *Orchestrator) ProcessID(ctx context.Context, id, actor string) (Outcome, error) {
	item, err := o.content.GetContent(ctx, id)
	if err != nil {
		return Outcome{}, fmt.Errorf("load content %s: %w", id, err)
	}
	return o.Process(ctx, *item, actor), nil
}

// Process runs item through the gates in order and publishes it if all pass.
// Every path ends with an audit entry.
func (o *Orchestrator) Process(ctx context.Context, item model.ContentItem, actor string) Outcome {
	base := Outcome{ContentID: item.ID, Platform: item.Platform}
	snap := o.controls.Snapshot(ctx)

	if snap.IsPostingPaused() {
		reason := CodePostingPaused
		if snap.Posting.PauseReason != "" {
			reason += ": " + snap.Posting.PauseReason
		}
		o.auditor.LogBlockedPublish(ctx, item.Platform, reason, actor, item.ID)
		return base.blocked(CodePostingPaused, reason)
	}

	if !snap.IsPlatformEnabled(item.Platform) {
		reason := CodePlatformDisabled
		if st, ok := snap.Platforms[item.Platform]; ok && st.AutoPausedReason != "" {
			reason += ": " + st.AutoPausedReason
		}
		o.auditor.LogBlockedPublish(ctx, item.Platform, reason, actor, item.ID)
		return base.blocked(CodePlatformDisabled, reason)
	}

	if st := status.MapLegacyStatus(string(item.Status)); !status.CanPublish(st) {
		return o.notApproved(ctx, base, actor, st)
	}

	holder := actor + "#" + uuid.NewString()
	lock := o.guard.AcquirePublishLock(ctx, item.ID, item.Platform, holder)
	if !lock.Acquired {
		reason := CodeLockContended + ": another run is publishing this item"
		if lock.Err != nil {
			reason = CodeLockContended + ": lock unavailable"
		} else if lock.HeldBy != "" {
			reason = CodeLockContended + ": held by " + lock.HeldBy
		}
		o.auditor.Log(ctx, model.AuditEntry{
			Actor:     actor,
			Platform:  item.Platform,
			ContentID: item.ID,
			Action:    model.ActionBlocked,
			Reason:    reason,
		})
		out := base
		out.Decision = DecisionSkipped
		out.Code = CodeLockContended
		out.Reason = reason
		return out
	}

	// With the lock held the run is no longer tied to the caller: a cancelled
	// request or shutdown must not leave a live post unrecorded or the lock held.
	runCtx := context.WithoutCancel(ctx)
	defer o.guard.ReleasePublishLock(runCtx, lock.Lock)

	out, err := o.processLocked(runCtx, base, actor, snap)
	if err != nil {
		o.log.Error("publish run failed", "content_id", item.ID, "platform", item.Platform, "error", err)
		reason := CodeInternalError + ": " + err.Error()
		o.auditor.LogPublishAttempt(runCtx, model.ActionFailed, audit.Attempt{
			Actor:     actor,
			Platform:  item.Platform,
			ContentID: item.ID,
			Reason:    reason,
		})
		out = base
		out.Decision = DecisionFailed
		out.Code = CodeInternalError
		out.Reason = reason
	}
	return out
}

// processLocked runs the gates that need the lock, then the publish itself.
// Errors are unexpected storage faults.
func (o *Orchestrator) processLocked(ctx context.Context, base Outcome, actor string, snap control.Snapshot) (Outcome, error) {
	posted, err := o.guard.CheckAlreadyPosted(ctx, base.ContentID)
	if err != nil {
		return Outcome{}, err
	}
	item, err := o.content.GetContent(ctx, base.ContentID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reload content: %w", err)
	}
	key := dedupe.KeyFor(*item)

	if posted.AlreadyPosted {
		return o.reconcilePosted(ctx, base, actor, item, key, posted.PlatformPostID), nil
	}

	// Re-check against the locked copy; an operator may have moved it.
	if !status.CanPublish(item.Status) {
		return o.notApproved(ctx, base, actor, item.Status), nil
	}

	if dup := o.guard.CheckDuplicateAttempt(ctx, key); dup.Succeeded() {
		reason := fmt.Sprintf("%s: attempt %s already succeeded", CodeDuplicateBlocked, shortKey(key))
		o.auditor.Log(ctx, model.AuditEntry{
			Actor:     actor,
			Platform:  item.Platform,
			ContentID: item.ID,
			Action:    model.ActionDuplicateBlocked,
			Reason:    reason,
		})
		return base.blocked(CodeDuplicateBlocked, reason), nil
	}

	if snap.CapsErr != nil {
		o.log.Warn("rate caps unavailable, not throttling", "platform", item.Platform, "error", snap.CapsErr)
	}
	if d := o.limiter.CheckRateCaps(ctx, item.Platform, snap.Caps); !d.Allowed {
		reason := d.Code + ": " + d.Reason
		o.auditor.Log(ctx, model.AuditEntry{
			Actor:     actor,
			Platform:  item.Platform,
			ContentID: item.ID,
			Action:    model.ActionBlocked,
			Reason:    reason,
		})
		o.limiter.RecordCapViolation(ctx, item.Platform, snap.Caps, d)
		out := base.blocked(d.Code, reason)
		out.NextAllowedAt = d.NextAllowedAt
		return out, nil
	}

	if item.Status == model.StatusApproved {
		if err := o.advance(ctx, item, model.StatusScheduled); err != nil {
			return Outcome{}, err
		}
	}

	attempt := model.PublishAttempt{
		IdempotencyKey: key,
		ContentID:      item.ID,
		Platform:       item.Platform,
		Status:         model.AttemptAttempting,
		Actor:          actor,
	}
	if err := o.guard.RecordPublishAttempt(ctx, attempt); err != nil {
		return Outcome{}, err
	}
	o.auditor.LogPublishAttempt(ctx, model.ActionAttemptPublish, audit.Attempt{
		Actor:     actor,
		Platform:  item.Platform,
		ContentID: item.ID,
		RequestID: key,
	})

	pubCtx, cancel := context.WithTimeout(ctx, o.adapterTimeout)
	res, pubErr := o.publisher.Publish(pubCtx, adapter.Request{
		ContentID:      item.ID,
		Platform:       item.Platform,
		Title:          item.Title,
		PayloadRef:     item.PayloadRef,
		MediaSignature: item.MediaSignature,
		IdempotencyKey: key,
	})
	cancel()
	if pubErr != nil {
		return o.recordFailure(ctx, base, actor, item, attempt, pubErr), nil
	}
	return o.recordSuccess(ctx, base, actor, item, attempt, res), nil
}

func (o *Orchestrator) recordSuccess(ctx context.Context, base Outcome, actor string, item *model.ContentItem, attempt model.PublishAttempt, res adapter.Result) Outcome {
	o.countAdapterCall(item.Platform, "success")

	item.PlatformPostID = res.PlatformPostID
	item.LastError = ""
	// The post is live; a failed status write must not turn it into a failure.
	if err := o.advance(ctx, item, model.StatusPosted); err != nil {
		o.log.Error("mark content posted", "content_id", item.ID, "platform", item.Platform, "error", err)
	}

	attempt.Status = model.AttemptSuccess
	attempt.PlatformPostID = res.PlatformPostID
	if err := o.guard.RecordPublishAttempt(ctx, attempt); err != nil {
		o.log.Error("record successful attempt", "content_id", item.ID, "platform", item.Platform, "error", err)
	}

	o.auditor.LogPublishAttempt(ctx, model.ActionPosted, audit.Attempt{
		Actor:            actor,
		Platform:         item.Platform,
		ContentID:        item.ID,
		Reason:           "published as " + res.PlatformPostID,
		PlatformResponse: res.Response,
		RequestID:        attempt.IdempotencyKey,
	})
	o.log.Info("content published", "content_id", item.ID, "platform", item.Platform, "post_id", res.PlatformPostID)

	out := base
	out.Decision = DecisionPosted
	out.PlatformPostID = res.PlatformPostID
	return out
}

func (o *Orchestrator) recordFailure(ctx context.Context, base Outcome, actor string, item *model.ContentItem, attempt model.PublishAttempt, pubErr error) Outcome {
	o.countAdapterCall(item.Platform, "failure")

	msg := pubErr.Error()
	var response string
	var f *adapter.Failure
	if errors.As(pubErr, &f) {
		response = f.Response
	}

	item.LastError = msg
	if err := o.advance(ctx, item, model.StatusFailed); err != nil {
		o.log.Error("mark content failed", "content_id", item.ID, "platform", item.Platform, "error", err)
	}

	attempt.Status = model.AttemptFailed
	attempt.Error = msg
	if err := o.guard.RecordPublishAttempt(ctx, attempt); err != nil {
		o.log.Error("record failed attempt", "content_id", item.ID, "platform", item.Platform, "error", err)
	}

	o.auditor.LogPublishAttempt(ctx, model.ActionFailed, audit.Attempt{
		Actor:            actor,
		Platform:         item.Platform,
		ContentID:        item.ID,
		Reason:           msg,
		PlatformResponse: response,
		RequestID:        attempt.IdempotencyKey,
	})
	o.limiter.RecordPublishError(ctx, item.Platform, msg, item.ID)
	o.log.Warn("publish failed", "content_id", item.ID, "platform", item.Platform, "error", msg)

	out := base
	out.Decision = DecisionFailed
	out.Code = CodeAdapterFailed
	out.Reason = msg
	return out
}

// reconcilePosted handles an item that an earlier run already published:
// the ledger and status are brought up to date and nothing is sent. This is
// a successful no-op, logged as already_posted rather than as a block.
func (o *Orchestrator) reconcilePosted(ctx context.Context, base Outcome, actor string, item *model.ContentItem, key, postID string) Outcome {
	if postID != "" {
		err := o.guard.RecordPublishAttempt(ctx, model.PublishAttempt{
			IdempotencyKey: key,
			ContentID:      item.ID,
			Platform:       item.Platform,
			Status:         model.AttemptSuccess,
			PlatformPostID: postID,
			Actor:          actor,
		})
		if err != nil {
			o.log.Warn("reconcile ledger", "content_id", item.ID, "error", err)
		}
	}
	if item.Status != model.StatusPosted && status.IsValidTransition(item.Status, model.StatusPosted) {
		if err := o.advance(ctx, item, model.StatusPosted); err != nil {
			o.log.Warn("reconcile status", "content_id", item.ID, "error", err)
		}
	}

	reason := CodeAlreadyPosted + ": no-op"
	if postID != "" {
		reason = CodeAlreadyPosted + ": published as " + postID
	}
	o.auditor.Log(ctx, model.AuditEntry{
		Actor:     actor,
		Platform:  item.Platform,
		ContentID: item.ID,
		Action:    model.ActionAlreadyPosted,
		Reason:    reason,
	})

	out := base
	out.Decision = DecisionAlreadyPosted
	out.Code = CodeAlreadyPosted
	out.Reason = reason
	out.PlatformPostID = postID
	return out
}

func (o *Orchestrator) notApproved(ctx context.Context, base Outcome, actor string, st model.Status) Outcome {
	reason := fmt.Sprintf("%s: status is %s", CodeNotApproved, st)
	o.auditor.Log(ctx, model.AuditEntry{
		Actor:     actor,
		Platform:  base.Platform,
		ContentID: base.ContentID,
		Action:    model.ActionNotApproved,
		Reason:    reason,
	})
	return base.blocked(CodeNotApproved, reason)
}

// advance moves item to next if the transition is legal and persists it.
func (o *Orchestrator) advance(ctx context.Context, item *model.ContentItem, next model.Status) error {
	if err := status.Transition(item.Status, next); err != nil {
		return err
	}
	prev := item.Status
	item.Status = next
	if err := o.content.UpdateContent(ctx, item); err != nil {
		item.Status = prev
		return fmt.Errorf("update content %s to %s: %w", item.ID, next, err)
	}
	return nil
}

func (o *Orchestrator) countAdapterCall(p model.Platform, result string) {
	if o.metrics != nil {
		o.metrics.AdapterCall(p, result)
	}
}

func (out Outcome) blocked(code, reason string) Outcome {
	out.Decision = DecisionBlocked
	out.Code = code
	out.Reason = reason
	return out
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
