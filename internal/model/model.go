// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies an external social platform content is published to.
type Platform string

// Supported platforms.
const (
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{PlatformInstagram, PlatformFacebook, PlatformTikTok, PlatformYouTube}

// ParsePlatform normalizes a platform name and rejects unknown values.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// Status is the canonical lifecycle state of a content item.
type Status string

// Content lifecycle states.
const (
	StatusDraft         Status = "DRAFT"
	StatusNeedsApproval Status = "NEEDS_APPROVAL"
	StatusApproved      Status = "APPROVED"
	StatusScheduled     Status = "SCHEDULED"
	StatusPosted        Status = "POSTED"
	StatusFailed        Status = "FAILED"
	StatusRejected      Status = "REJECTED"
)

// ContentItem is a unit of schedulable content.
type ContentItem struct {
	ID             string
	Title          string
	Status         Status
	Platform       Platform
	ScheduledAt    *time.Time
	PayloadRef     string
	MediaSignature string
	PlatformPostID string
	LastError      string
	SourceRef      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AuditAction classifies an audit log entry.
type AuditAction string

// Audit actions.
const (
	ActionAttemptPublish    AuditAction = "attempt_publish"
	ActionBlocked           AuditAction = "blocked"
	ActionPosted            AuditAction = "posted"
	ActionFailed            AuditAction = "failed"
	ActionKillSwitchBlocked AuditAction = "kill_switch_blocked"
	ActionDuplicateBlocked  AuditAction = "duplicate_blocked"
	ActionAlreadyPosted     AuditAction = "already_posted"
	ActionNotApproved       AuditAction = "not_approved"
	ActionApproved          AuditAction = "approved"
	ActionRejected          AuditAction = "rejected"
	ActionScheduled         AuditAction = "scheduled"
	ActionStatusChanged     AuditAction = "status_changed"
)

// AuditEntry is an immutable record of one governance decision.
type AuditEntry struct {
	ID               int64
	TimestampUTC     time.Time
	LoggedAt         time.Time
	Actor            string
	Platform         Platform
	ContentID        string
	Action           AuditAction
	Reason           string
	PlatformResponse string
	RequestID        string
	TraceID          string
}

// AttemptStatus is the state of an idempotency ledger row.
type AttemptStatus string

// Attempt states.
const (
	AttemptAttempting AttemptStatus = "attempting"
	AttemptSuccess    AttemptStatus = "success"
	AttemptFailed     AttemptStatus = "failed"
)

// PublishAttempt is a row of the idempotency ledger.
type PublishAttempt struct {
	IdempotencyKey string
	ContentID      string
	Platform       Platform
	Status         AttemptStatus
	PlatformPostID string
	Error          string
	Actor          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PublishLock guards a (content, platform) pair for the duration of one run.
type PublishLock struct {
	LockID     string
	ContentID  string
	Platform   Platform
	Holder     string
	LockedAt   time.Time
	TTLMinutes int
	Released   bool
}

// ExpiresAt returns the instant after which the lock no longer excludes other holders.
func (l PublishLock) ExpiresAt() time.Time {
	return l.LockedAt.Add(time.Duration(l.TTLMinutes) * time.Minute)
}

// Active reports whether the lock is still an effective barrier at now.
func (l PublishLock) Active(now time.Time) bool {
	return !l.Released && now.Before(l.ExpiresAt())
}

// PostingSettings is the global kill switch document.
type PostingSettings struct {
	Paused      bool       `json:"posting_paused"`
	PausedBy    string     `json:"paused_by,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	PauseReason string     `json:"pause_reason,omitempty"`

	// ReadError is set when the document could not be read and the
	// returned value is the fail-closed default.
	ReadError bool `json:"-"`
}

// PlatformState is one entry of the per-platform switch document.
type PlatformState struct {
	Enabled          bool       `json:"enabled"`
	AutoPausedAt     *time.Time `json:"auto_paused_at,omitempty"`
	AutoPausedReason string     `json:"auto_paused_reason,omitempty"`
	ErrorsResetAt    *time.Time `json:"errors_reset_at,omitempty"`
}

// PlatformSettings maps platforms to their switch state. Missing entries are enabled.
type PlatformSettings map[Platform]PlatformState

// PlatformCaps holds throttling limits for one platform. Zero disables a limit.
type PlatformCaps struct {
	MaxPerHour      int `json:"max_per_hour"`
	MaxPerDay       int `json:"max_per_day"`
	CooldownMinutes int `json:"cooldown_minutes"`
}

// CapConfig is the rate cap document.
type CapConfig struct {
	Platforms      map[Platform]PlatformCaps `json:"platforms"`
	AutoPauseOnCap bool                      `json:"auto_pause_on_cap"`
	AlertOnCap     bool                      `json:"alert_on_cap"`
}

// IntakeSource is an RSS feed that feeds DRAFT content for a platform.
type IntakeSource struct {
	ID              int64
	Name            string
	URL             string
	Platform        Platform
	IntervalMinutes int
	IsActive        bool
	LastCheckAt     *time.Time
	CreatedAt       time.Time
}

// RuleKind defines the type of intake rule.
type RuleKind string

// Supported rule kinds.
const (
	RuleInclude   RuleKind = "include"
	RuleExclude   RuleKind = "exclude"
	RuleIncludeRe RuleKind = "include_re"
	RuleExcludeRe RuleKind = "exclude_re"
)

// RuleScope defines which part of a feed item a rule matches against.
type RuleScope string

// Supported rule scopes.
const (
	ScopeTitle   RuleScope = "title"
	ScopeContent RuleScope = "content"
	ScopeAll     RuleScope = "all"
)

// IntakeRule is a single matching rule attached to an intake source.
type IntakeRule struct {
	ID        int64
	SourceID  int64
	Kind      RuleKind
	Scope     RuleScope
	Value     string
	CreatedAt time.Time
}
