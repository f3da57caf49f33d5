package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"postgate/internal/audit"
	"postgate/internal/control"
	"postgate/internal/model"
	"postgate/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (m *mockAlerter) Alert(_ context.Context, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, text)
}

func (m *mockAlerter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

type fixture struct {
	store    *storage.SQLite
	controls *control.Service
	alerter  *mockAlerter
	limiter  *Limiter
	now      time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := testLogger()
	f := &fixture{
		store:    store,
		controls: control.New(store, log),
		alerter:  &mockAlerter{},
		now:      time.Now().UTC().Truncate(time.Millisecond),
	}
	f.limiter = New(store, f.controls, audit.New(store, log), f.alerter, opts, log)
	f.limiter.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addAudit(t *testing.T, p model.Platform, action model.AuditAction, ago time.Duration, reason string) time.Time {
	t.Helper()
	at := f.now.Add(-ago)
	e := model.AuditEntry{TimestampUTC: at, LoggedAt: at, Actor: "cron", Platform: p, Action: action, Reason: reason}
	if err := f.store.InsertAudit(context.Background(), &e); err != nil {
		t.Fatalf("insert audit: %v", err)
	}
	return at
}

func capsFor(p model.Platform, c model.PlatformCaps) *model.CapConfig {
	return &model.CapConfig{Platforms: map[model.Platform]model.PlatformCaps{p: c}}
}

func TestHourlyCapBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	cfg := capsFor(model.PlatformInstagram, model.PlatformCaps{MaxPerHour: 5})

	oldest := f.addAudit(t, model.PlatformInstagram, model.ActionPosted, 50*time.Minute, "")
	for _, ago := range []time.Duration{40, 30, 20} {
		f.addAudit(t, model.PlatformInstagram, model.ActionPosted, ago*time.Minute, "")
	}
	// Outside the window.
	f.addAudit(t, model.PlatformInstagram, model.ActionPosted, 61*time.Minute, "")

	if d := f.limiter.CheckRateCaps(ctx, model.PlatformInstagram, cfg); !d.Allowed {
		t.Fatalf("4/5 should be allowed, got %+v", d)
	}

	f.addAudit(t, model.PlatformInstagram, model.ActionPosted, 10*time.Minute, "")
	d := f.limiter.CheckRateCaps(ctx, model.PlatformInstagram, cfg)
	if d.Allowed {
		t.Fatal("5/5 should block")
	}
	if !strings.Contains(d.Reason, "Hourly cap exceeded: 5/5") {
		t.Errorf("reason = %q", d.Reason)
	}
	if diff := cmp.Diff(CodeRateCapExceeded, d.Code); diff != "" {
		t.Errorf("code mismatch (-want +got):\n%s", diff)
	}
	if d.NextAllowedAt == nil || !d.NextAllowedAt.Equal(oldest.Add(time.Hour)) {
		t.Errorf("NextAllowedAt = %v, want %v", d.NextAllowedAt, oldest.Add(time.Hour))
	}
}

func TestDailyCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	cfg := capsFor(model.PlatformFacebook, model.PlatformCaps{MaxPerDay: 3})

	first := f.addAudit(t, model.PlatformFacebook, model.ActionPosted, 20*time.Hour, "")
	f.addAudit(t, model.PlatformFacebook, model.ActionPosted, 10*time.Hour, "")
	f.addAudit(t, model.PlatformFacebook, model.ActionPosted, 2*time.Hour, "")

	d := f.limiter.CheckRateCaps(ctx, model.PlatformFacebook, cfg)
	if d.Allowed {
		t.Fatal("daily cap should block")
	}
	if diff := cmp.Diff("Daily cap exceeded: 3/3", d.Reason); diff != "" {
		t.Errorf("reason mismatch (-want +got):\n%s", diff)
	}
	if d.NextAllowedAt == nil || !d.NextAllowedAt.Equal(first.Add(24*time.Hour)) {
		t.Errorf("NextAllowedAt = %v, want %v", d.NextAllowedAt, first.Add(24*time.Hour))
	}
}

func TestCooldown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	cfg := capsFor(model.PlatformTikTok, model.PlatformCaps{CooldownMinutes: 10})

	last := f.addAudit(t, model.PlatformTikTok, model.ActionPosted, 3*time.Minute, "")

	d := f.limiter.CheckRateCaps(ctx, model.PlatformTikTok, cfg)
	if d.Allowed {
		t.Fatal("cooldown should block")
	}
	if diff := cmp.Diff(CodeCooldownActive, d.Code); diff != "" {
		t.Errorf("code mismatch (-want +got):\n%s", diff)
	}
	if d.NextAllowedAt == nil || !d.NextAllowedAt.Equal(last.Add(10*time.Minute)) {
		t.Errorf("NextAllowedAt = %v, want %v", d.NextAllowedAt, last.Add(10*time.Minute))
	}

	f.now = f.now.Add(7 * time.Minute)
	if d := f.limiter.CheckRateCaps(ctx, model.PlatformTikTok, cfg); !d.Allowed {
		t.Errorf("cooldown elapsed, got %+v", d)
	}
}

func TestCapPrecedence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	cfg := capsFor(model.PlatformYouTube, model.PlatformCaps{MaxPerHour: 1, MaxPerDay: 1, CooldownMinutes: 30})
	f.addAudit(t, model.PlatformYouTube, model.ActionPosted, time.Minute, "")

	d := f.limiter.CheckRateCaps(ctx, model.PlatformYouTube, cfg)
	if !strings.HasPrefix(d.Reason, "Hourly") {
		t.Errorf("expected hourly cap to win, got %q", d.Reason)
	}
}

func TestUnconfiguredPlatformsAllowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.addAudit(t, model.PlatformYouTube, model.ActionPosted, time.Minute, "")

	tests := []struct {
		name string
		cfg  *model.CapConfig
	}{
		{name: "no document", cfg: nil},
		{name: "platform missing", cfg: capsFor(model.PlatformTikTok, model.PlatformCaps{MaxPerHour: 1})},
		{name: "zero caps", cfg: capsFor(model.PlatformYouTube, model.PlatformCaps{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d := f.limiter.CheckRateCaps(ctx, model.PlatformYouTube, tt.cfg); !d.Allowed {
				t.Errorf("expected allowed, got %+v", d)
			}
		})
	}
}

type brokenAudits struct{}

func (brokenAudits) CountAudit(context.Context, model.Platform, model.AuditAction, time.Time) (int, error) {
	return 0, errors.New("missing index")
}
func (brokenAudits) LastAudit(context.Context, model.Platform, model.AuditAction) (*model.AuditEntry, error) {
	return nil, errors.New("missing index")
}
func (brokenAudits) ListAudit(context.Context, storage.AuditQuery) ([]model.AuditEntry, error) {
	return nil, errors.New("missing index")
}

func TestReadErrorsFailOpen(t *testing.T) {
	l := New(brokenAudits{}, nil, nil, nil, Options{}, testLogger())
	cfg := capsFor(model.PlatformInstagram, model.PlatformCaps{MaxPerHour: 1, CooldownMinutes: 10})
	if d := l.CheckRateCaps(context.Background(), model.PlatformInstagram, cfg); !d.Allowed {
		t.Errorf("expected fail open, got %+v", d)
	}
	cfg = capsFor(model.PlatformInstagram, model.PlatformCaps{CooldownMinutes: 10})
	if d := l.CheckRateCaps(context.Background(), model.PlatformInstagram, cfg); !d.Allowed {
		t.Errorf("expected cooldown to fail open, got %+v", d)
	}
}

func TestRecordPublishErrorTripsBreaker(t *testing.T) {
	tests := []struct {
		name       string
		autoPause  bool
		failures   int
		wantPaused bool
	}{
		{name: "below threshold", autoPause: true, failures: 2},
		{name: "at threshold", autoPause: true, failures: 3, wantPaused: true},
		{name: "auto-pause disabled", autoPause: false, failures: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, Options{ErrorRateThreshold: 3})
			if err := f.controls.PutCaps(ctx, model.CapConfig{AutoPauseOnCap: tt.autoPause, AlertOnCap: true}); err != nil {
				t.Fatalf("put caps: %v", err)
			}
			for i := 0; i < tt.failures; i++ {
				f.addAudit(t, model.PlatformFacebook, model.ActionFailed, time.Duration(i+1)*time.Minute, "HTTP 502 bad gateway")
			}

			f.limiter.RecordPublishError(ctx, model.PlatformFacebook, "HTTP 502 bad gateway", "c1")

			st, err := f.controls.PlatformState(ctx, model.PlatformFacebook)
			if err != nil {
				t.Fatalf("state: %v", err)
			}
			if got := !st.Enabled; got != tt.wantPaused {
				t.Fatalf("paused = %v, want %v", got, tt.wantPaused)
			}
			if !tt.wantPaused {
				return
			}
			if !strings.HasPrefix(st.AutoPausedReason, "Error rate threshold exceeded: 3 failures") {
				t.Errorf("AutoPausedReason = %q", st.AutoPausedReason)
			}

			entries, err := f.store.ListAudit(ctx, storage.AuditQuery{Action: model.ActionKillSwitchBlocked})
			if err != nil {
				t.Fatalf("list audit: %v", err)
			}
			if len(entries) != 1 || entries[0].Actor != ActorErrorMonitoring {
				t.Errorf("expected one auto-pause entry by %s, got %+v", ActorErrorMonitoring, entries)
			}
			if f.alerter.count() != 1 {
				t.Errorf("expected one alert, got %d", f.alerter.count())
			}

			// A second trip is a no-op.
			f.limiter.RecordPublishError(ctx, model.PlatformFacebook, "HTTP 502 bad gateway", "c1")
			entries, _ = f.store.ListAudit(ctx, storage.AuditQuery{Action: model.ActionKillSwitchBlocked})
			if len(entries) != 1 {
				t.Errorf("expected no further auto-pause entries, got %d", len(entries))
			}
		})
	}
}

func TestResetRestartsErrorCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{ErrorRateThreshold: 3})
	if err := f.controls.PutCaps(ctx, model.CapConfig{AutoPauseOnCap: true}); err != nil {
		t.Fatalf("put caps: %v", err)
	}
	for i := 0; i < 3; i++ {
		f.addAudit(t, model.PlatformTikTok, model.ActionFailed, time.Duration(i+1)*time.Minute, "timeout")
	}
	f.limiter.RecordPublishError(ctx, model.PlatformTikTok, "timeout", "")

	st, err := f.limiter.ResetPlatformErrorCount(ctx, model.PlatformTikTok, "ops")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !st.Enabled || st.ErrorsResetAt == nil || st.AutoPausedAt != nil {
		t.Fatalf("unexpected state after reset: %+v", st)
	}

	// Failures before the reset no longer count.
	f.limiter.RecordPublishError(ctx, model.PlatformTikTok, "timeout", "")
	st, _ = f.controls.PlatformState(ctx, model.PlatformTikTok)
	if !st.Enabled {
		t.Error("platform re-paused from failures logged before the reset")
	}
}

func TestAuthFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{ErrorRateThreshold: 10})
	if err := f.controls.PutCaps(ctx, model.CapConfig{AutoPauseOnCap: true}); err != nil {
		t.Fatalf("put caps: %v", err)
	}

	f.addAudit(t, model.PlatformInstagram, model.ActionFailed, 5*time.Minute, "401 Unauthorized")
	f.addAudit(t, model.PlatformInstagram, model.ActionFailed, 4*time.Minute, "Error validating access token: session has expired")
	f.addAudit(t, model.PlatformInstagram, model.ActionFailed, 3*time.Minute, "media processing failed")
	f.addAudit(t, model.PlatformInstagram, model.ActionFailed, 2*time.Hour, "403 Forbidden")

	if got := f.limiter.CheckAuthFailures(ctx, model.PlatformInstagram); got.ShouldPause || got.Count != 2 {
		t.Fatalf("CheckAuthFailures = %+v, want 2 without pause", got)
	}

	f.addAudit(t, model.PlatformInstagram, model.ActionFailed, time.Minute, "OAuth permission revoked")
	if got := f.limiter.CheckAuthFailures(ctx, model.PlatformInstagram); !got.ShouldPause || got.Count != 3 {
		t.Fatalf("CheckAuthFailures = %+v, want 3 with pause", got)
	}

	f.limiter.RecordPublishError(ctx, model.PlatformInstagram, "OAuth permission revoked", "c1")
	st, _ := f.controls.PlatformState(ctx, model.PlatformInstagram)
	if st.Enabled {
		t.Error("expected auth failures to pause the platform")
	}
}

func TestRecordCapViolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{CapViolationThreshold: 3})
	cfg := model.CapConfig{
		Platforms:      map[model.Platform]model.PlatformCaps{model.PlatformYouTube: {MaxPerHour: 1}},
		AutoPauseOnCap: true,
	}
	if err := f.controls.PutCaps(ctx, cfg); err != nil {
		t.Fatalf("put caps: %v", err)
	}
	d := Decision{Code: CodeRateCapExceeded, Reason: "Hourly cap exceeded: 1/1"}

	for i := 0; i < 2; i++ {
		f.addAudit(t, model.PlatformYouTube, model.ActionBlocked, time.Duration(i+1)*time.Minute, "RATE_CAP_EXCEEDED: Hourly cap exceeded: 1/1")
	}
	f.addAudit(t, model.PlatformYouTube, model.ActionBlocked, 30*time.Second, "COOLDOWN_ACTIVE: Cooldown active")
	f.limiter.RecordCapViolation(ctx, model.PlatformYouTube, &cfg, d)
	if st, _ := f.controls.PlatformState(ctx, model.PlatformYouTube); !st.Enabled {
		t.Fatal("paused below the violation threshold")
	}

	f.addAudit(t, model.PlatformYouTube, model.ActionBlocked, 0, "RATE_CAP_EXCEEDED: Hourly cap exceeded: 1/1")
	f.limiter.RecordCapViolation(ctx, model.PlatformYouTube, &cfg, d)
	st, _ := f.controls.PlatformState(ctx, model.PlatformYouTube)
	if st.Enabled {
		t.Fatal("expected auto-pause at the violation threshold")
	}

	entries, err := f.store.ListAudit(ctx, storage.AuditQuery{Action: model.ActionKillSwitchBlocked})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Actor != ActorRateCaps {
		t.Errorf("expected one entry by %s, got %+v", ActorRateCaps, entries)
	}
}

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		reason string
		want   bool
	}{
		{reason: "401 Unauthorized", want: true},
		{reason: "Invalid OAuth access token", want: true},
		{reason: "permission denied for page", want: true},
		{reason: "HTTP 500 internal error", want: false},
		{reason: "relay returned HTTP 403", want: true},
		{reason: "AUTH_FAILED: page token revoked", want: true},
		{reason: "Authentication required", want: true},
		{reason: "author field missing", want: false},
		{reason: "timeout after 4015ms", want: false},
		{reason: "rate limit: 50 tokens per minute", want: false},
		{reason: "upload id 14031 rejected", want: false},
		{reason: "video too long", want: false},
		{reason: "", want: false},
	}
	for _, tt := range tests {
		if got := IsAuthFailure(tt.reason); got != tt.want {
			t.Errorf("IsAuthFailure(%q) = %v, want %v", tt.reason, got, tt.want)
		}
	}
}
