// Package ratelimit throttles publishing per platform using counts derived
// from the audit trail, and auto-pauses platforms that keep failing or
// keep hitting their caps.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"postgate/internal/audit"
	"postgate/internal/model"
	"postgate/internal/storage"
)

// Decision codes.
const (
	CodeRateCapExceeded = "RATE_CAP_EXCEEDED"
	CodeCooldownActive  = "COOLDOWN_ACTIVE"
)

// Actors used for automatic pauses.
const (
	ActorRateCaps        = "system:rate-caps"
	ActorErrorMonitoring = "system:error-monitoring"
)

// AuditStore is the audit trail read access the limiter needs.
type AuditStore interface {
	CountAudit(ctx context.Context, platform model.Platform, action model.AuditAction, since time.Time) (int, error)
	LastAudit(ctx context.Context, platform model.Platform, action model.AuditAction) (*model.AuditEntry, error)
	ListAudit(ctx context.Context, q storage.AuditQuery) ([]model.AuditEntry, error)
}

// Controls is the posting control write path used by auto-pause.
type Controls interface {
	GetCaps(ctx context.Context) (*model.CapConfig, error)
	PlatformState(ctx context.Context, p model.Platform) (model.PlatformState, error)
	AutoPausePlatform(ctx context.Context, p model.Platform, reason string) (bool, error)
	ResetPlatform(ctx context.Context, p model.Platform) (model.PlatformState, error)
}

// Auditor writes audit entries.
type Auditor interface {
	Log(ctx context.Context, e model.AuditEntry) audit.Result
}

// Alerter forwards operator alerts.
type Alerter interface {
	Alert(ctx context.Context, text string)
}

// Decision is the result of CheckRateCaps.
type Decision struct {
	Allowed       bool
	Code          string
	Reason        string
	NextAllowedAt *time.Time
}

// AuthCheck is the result of CheckAuthFailures.
type AuthCheck struct {
	Count       int
	ShouldPause bool
}

// Options tune the circuit breaker.
type Options struct {
	ErrorRateThreshold    int
	ErrorWindow           time.Duration
	CapViolationThreshold int
	CapViolationWindow    time.Duration
	AuthFailureThreshold  int
}

// DefaultOptions returns the production thresholds.
func DefaultOptions() Options {
	return Options{
		ErrorRateThreshold:    5,
		ErrorWindow:           time.Hour,
		CapViolationThreshold: 3,
		CapViolationWindow:    time.Hour,
		AuthFailureThreshold:  3,
	}
}

// Limiter enforces caps and cooldowns.
type Limiter struct {
	audits   AuditStore
	controls Controls
	auditor  Auditor
	alerter  Alerter
	opts     Options
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Limiter. alerter may be nil.
func New(audits AuditStore, controls Controls, auditor Auditor, alerter Alerter, opts Options, log *slog.Logger) *Limiter {
	def := DefaultOptions()
	if opts.ErrorRateThreshold <= 0 {
		opts.ErrorRateThreshold = def.ErrorRateThreshold
	}
	if opts.ErrorWindow <= 0 {
		opts.ErrorWindow = def.ErrorWindow
	}
	if opts.CapViolationThreshold <= 0 {
		opts.CapViolationThreshold = def.CapViolationThreshold
	}
	if opts.CapViolationWindow <= 0 {
		opts.CapViolationWindow = def.CapViolationWindow
	}
	if opts.AuthFailureThreshold <= 0 {
		opts.AuthFailureThreshold = def.AuthFailureThreshold
	}
	return &Limiter{
		audits:   audits,
		controls: controls,
		auditor:  auditor,
		alerter:  alerter,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// SetAlerter replaces the alert sink. Call it before the limiter is shared.
func (l *Limiter) SetAlerter(a Alerter) {
	l.alerter = a
}

// CheckRateCaps decides whether platform may publish now under cfg. The
// hourly cap is checked first, then the daily cap, then the cooldown. Read
// errors allow the post.
func (l *Limiter) CheckRateCaps(ctx context.Context, platform model.Platform, cfg *model.CapConfig) Decision {
	if cfg == nil {
		return Decision{Allowed: true}
	}
	caps, ok := cfg.Platforms[platform]
	if !ok {
		return Decision{Allowed: true}
	}
	now := l.now().UTC()

	windows := []struct {
		label  string
		limit  int
		window time.Duration
	}{
		{label: "Hourly", limit: caps.MaxPerHour, window: time.Hour},
		{label: "Daily", limit: caps.MaxPerDay, window: 24 * time.Hour},
	}
	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}
		since := now.Add(-w.window)
		count, err := l.audits.CountAudit(ctx, platform, model.ActionPosted, since)
		if err != nil {
			l.log.Warn("rate cap count failed, allowing post", "platform", platform, "window", w.label, "error", err)
			return Decision{Allowed: true}
		}
		if count < w.limit {
			continue
		}
		d := Decision{
			Code:   CodeRateCapExceeded,
			Reason: fmt.Sprintf("%s cap exceeded: %d/%d", w.label, count, w.limit),
		}
		if next, ok := l.windowReopens(ctx, platform, since, count, w.limit, w.window); ok {
			d.NextAllowedAt = &next
		}
		return d
	}

	if caps.CooldownMinutes > 0 {
		last, err := l.audits.LastAudit(ctx, platform, model.ActionPosted)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			l.log.Warn("cooldown lookup failed, allowing post", "platform", platform, "error", err)
			return Decision{Allowed: true}
		default:
			next := last.TimestampUTC.Add(time.Duration(caps.CooldownMinutes) * time.Minute)
			if now.Before(next) {
				remaining := int(math.Ceil(next.Sub(now).Minutes()))
				return Decision{
					Code:          CodeCooldownActive,
					Reason:        fmt.Sprintf("Cooldown active: next post allowed in %d minutes", remaining),
					NextAllowedAt: &next,
				}
			}
		}
	}

	return Decision{Allowed: true}
}

// windowReopens returns when the window drops back below limit, which is when
// the (count-limit+1)th oldest post in the window ages out.
func (l *Limiter) windowReopens(ctx context.Context, platform model.Platform, since time.Time, count, limit int, window time.Duration) (time.Time, bool) {
	entries, err := l.audits.ListAudit(ctx, storage.AuditQuery{
		Platform: platform,
		Action:   model.ActionPosted,
		Since:    since,
		Limit:    count,
	})
	if err != nil || len(entries) == 0 {
		return time.Time{}, false
	}
	// entries are newest first.
	idx := len(entries) - 1 - (count - limit)
	if idx < 0 {
		idx = 0
	}
	return entries[idx].TimestampUTC.Add(window), true
}

// RecordCapViolation counts recent cap blocks for platform and trips the
// circuit breaker once they reach the violation threshold.
func (l *Limiter) RecordCapViolation(ctx context.Context, platform model.Platform, cfg *model.CapConfig, d Decision) {
	if cfg == nil || d.Code != CodeRateCapExceeded {
		return
	}
	if cfg.AlertOnCap {
		l.alert(ctx, fmt.Sprintf("Rate cap hit on %s: %s", platform, d.Reason))
	}
	if !cfg.AutoPauseOnCap {
		return
	}

	entries, err := l.audits.ListAudit(ctx, storage.AuditQuery{
		Platform:     platform,
		Action:       model.ActionBlocked,
		ReasonPrefix: CodeRateCapExceeded,
		Since:        l.now().UTC().Add(-l.opts.CapViolationWindow),
		Limit:        l.opts.CapViolationThreshold,
	})
	if err != nil {
		l.log.Warn("count cap violations", "platform", platform, "error", err)
		return
	}
	if len(entries) < l.opts.CapViolationThreshold {
		return
	}
	reason := fmt.Sprintf("Repeated rate cap violations: %d in %s", len(entries), l.opts.CapViolationWindow)
	l.AutoPausePlatformIfNeeded(ctx, platform, reason, ActorRateCaps)
}

// AutoPausePlatformIfNeeded disables platform when auto-pause is configured.
// It reports whether the platform is paused by this call.
func (l *Limiter) AutoPausePlatformIfNeeded(ctx context.Context, platform model.Platform, reason, actor string) bool {
	cfg, err := l.controls.GetCaps(ctx)
	if err != nil {
		l.log.Warn("read caps for auto-pause", "platform", platform, "error", err)
		return false
	}
	if cfg == nil || !cfg.AutoPauseOnCap {
		l.log.Info("auto-pause recommended but not enabled", "platform", platform, "reason", reason)
		return false
	}

	changed, err := l.controls.AutoPausePlatform(ctx, platform, reason)
	if err != nil {
		l.log.Error("auto-pause platform", "platform", platform, "error", err)
		return false
	}
	if !changed {
		return false
	}

	l.auditor.Log(ctx, model.AuditEntry{
		Actor:    actor,
		Platform: platform,
		Action:   model.ActionKillSwitchBlocked,
		Reason:   "AUTO_PAUSED: " + reason,
	})
	l.log.Warn("platform auto-paused", "platform", platform, "actor", actor, "reason", reason)
	if cfg.AlertOnCap {
		l.alert(ctx, fmt.Sprintf("%s auto-paused by %s: %s. Use /reset %s once fixed.", platform, actor, reason, platform))
	}
	return true
}

// RecordPublishError trips the circuit breaker when failures for platform in
// the error window reach the threshold, or when authentication failures pile
// up. The failure itself must already be in the audit trail.
func (l *Limiter) RecordPublishError(ctx context.Context, platform model.Platform, errMsg, contentID string) {
	l.log.Debug("publish error recorded", "platform", platform, "content_id", contentID, "error", errMsg)

	since, err := l.countingSince(ctx, platform, l.opts.ErrorWindow)
	if err != nil {
		l.log.Warn("read platform state", "platform", platform, "error", err)
		return
	}
	count, err := l.audits.CountAudit(ctx, platform, model.ActionFailed, since)
	if err != nil {
		l.log.Warn("count publish errors", "platform", platform, "error", err)
		return
	}
	if count >= l.opts.ErrorRateThreshold {
		reason := fmt.Sprintf("Error rate threshold exceeded: %d failures in %s", count, l.opts.ErrorWindow)
		l.AutoPausePlatformIfNeeded(ctx, platform, reason, ActorErrorMonitoring)
		return
	}

	if auth := l.CheckAuthFailures(ctx, platform); auth.ShouldPause {
		reason := fmt.Sprintf("Repeated authentication failures: %d in the last hour", auth.Count)
		l.AutoPausePlatformIfNeeded(ctx, platform, reason, ActorErrorMonitoring)
	}
}

// CheckAuthFailures counts authentication-flavored failures for platform in
// the last hour.
func (l *Limiter) CheckAuthFailures(ctx context.Context, platform model.Platform) AuthCheck {
	since, err := l.countingSince(ctx, platform, time.Hour)
	if err != nil {
		l.log.Warn("read platform state", "platform", platform, "error", err)
		return AuthCheck{}
	}
	entries, err := l.audits.ListAudit(ctx, storage.AuditQuery{
		Platform: platform,
		Action:   model.ActionFailed,
		Since:    since,
		Limit:    500,
	})
	if err != nil {
		l.log.Warn("list auth failures", "platform", platform, "error", err)
		return AuthCheck{}
	}
	var n int
	for _, e := range entries {
		if IsAuthFailure(e.Reason) {
			n++
		}
	}
	return AuthCheck{Count: n, ShouldPause: n >= l.opts.AuthFailureThreshold}
}

// ResetPlatformErrorCount re-enables platform and restarts failure counting.
func (l *Limiter) ResetPlatformErrorCount(ctx context.Context, platform model.Platform, actor string) (model.PlatformState, error) {
	st, err := l.controls.ResetPlatform(ctx, platform)
	if err != nil {
		return model.PlatformState{}, fmt.Errorf("reset %s: %w", platform, err)
	}
	l.log.Info("platform error count reset", "platform", platform, "actor", actor)
	return st, nil
}

// countingSince is the later of the window start and the platform's last reset.
func (l *Limiter) countingSince(ctx context.Context, platform model.Platform, window time.Duration) (time.Time, error) {
	since := l.now().UTC().Add(-window)
	st, err := l.controls.PlatformState(ctx, platform)
	if err != nil {
		return time.Time{}, err
	}
	if st.ErrorsResetAt != nil && st.ErrorsResetAt.After(since) {
		since = *st.ErrorsResetAt
	}
	return since, nil
}

func (l *Limiter) alert(ctx context.Context, text string) {
	if l.alerter == nil {
		return
	}
	l.alerter.Alert(ctx, text)
}
