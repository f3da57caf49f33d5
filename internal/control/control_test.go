package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"postgate/internal/model"
	"postgate/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	svc := New(store, testLogger())
	fixed := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	return svc, store
}

type brokenStore struct{}

func (brokenStore) GetSetting(context.Context, string, any) error { return errors.New("connection reset") }
func (brokenStore) PutSetting(context.Context, string, any) error { return errors.New("connection reset") }
func (brokenStore) MutateSetting(context.Context, string, any, func(bool) error) error {
	return errors.New("connection reset")
}

func TestDefaultsWhenUnconfigured(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if svc.IsPostingPaused(ctx) {
		t.Error("posting should be live without a settings document")
	}
	for _, p := range model.Platforms {
		if !svc.IsPlatformEnabled(ctx, p) {
			t.Errorf("platform %s should default to enabled", p)
		}
	}
	caps, err := svc.GetCaps(ctx)
	if err != nil {
		t.Fatalf("get caps: %v", err)
	}
	if caps != nil {
		t.Errorf("expected nil caps, got %+v", caps)
	}
}

func TestReadErrorFailsClosed(t *testing.T) {
	ctx := context.Background()
	svc := New(brokenStore{}, testLogger())

	got := svc.GetSettings(ctx)
	if !got.Paused || !got.ReadError {
		t.Errorf("GetSettings = %+v, want paused with ReadError", got)
	}
	if !svc.IsPostingPaused(ctx) {
		t.Error("IsPostingPaused should fail closed")
	}
	if svc.IsPlatformEnabled(ctx, model.PlatformFacebook) {
		t.Error("IsPlatformEnabled should fail closed")
	}

	snap := svc.Snapshot(ctx)
	if snap.CapsErr == nil {
		t.Error("expected CapsErr to be reported")
	}
}

func TestSnapshotPlatformEnabled(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		p    model.Platform
		want bool
	}{
		{name: "no entry", snap: Snapshot{}, p: model.PlatformTikTok, want: true},
		{
			name: "explicitly enabled",
			snap: Snapshot{Platforms: model.PlatformSettings{model.PlatformTikTok: {Enabled: true}}},
			p:    model.PlatformTikTok,
			want: true,
		},
		{
			name: "disabled",
			snap: Snapshot{Platforms: model.PlatformSettings{model.PlatformTikTok: {Enabled: false}}},
			p:    model.PlatformTikTok,
			want: false,
		},
		{
			name: "global pause short-circuits",
			snap: Snapshot{
				Posting:   model.PostingSettings{Paused: true},
				Platforms: model.PlatformSettings{model.PlatformTikTok: {Enabled: true}},
			},
			p:    model.PlatformTikTok,
			want: false,
		},
		{
			name: "platform document unreadable",
			snap: Snapshot{PlatformsErr: errors.New("boom")},
			p:    model.PlatformTikTok,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snap.IsPlatformEnabled(tt.p); got != tt.want {
				t.Errorf("IsPlatformEnabled(%s) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestPauseAndResume(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.SetPaused(ctx, true, "ops@example.com", "bad caption went out"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got := svc.GetSettings(ctx)
	at := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	want := model.PostingSettings{Paused: true, PausedBy: "ops@example.com", PausedAt: &at, PauseReason: "bad caption went out"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}

	if _, err := svc.SetPaused(ctx, false, "ops@example.com", ""); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if svc.IsPostingPaused(ctx) {
		t.Error("expected posting to be resumed")
	}
}

func TestAutoPauseAndReset(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	at := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

	changed, err := svc.AutoPausePlatform(ctx, model.PlatformInstagram, "Error rate threshold exceeded")
	if err != nil {
		t.Fatalf("auto pause: %v", err)
	}
	if !changed {
		t.Error("first auto pause should report a change")
	}
	changed, err = svc.AutoPausePlatform(ctx, model.PlatformInstagram, "again")
	if err != nil {
		t.Fatalf("auto pause again: %v", err)
	}
	if changed {
		t.Error("second auto pause should be a no-op")
	}

	st, err := svc.PlatformState(ctx, model.PlatformInstagram)
	if err != nil {
		t.Fatalf("platform state: %v", err)
	}
	want := model.PlatformState{Enabled: false, AutoPausedAt: &at, AutoPausedReason: "Error rate threshold exceeded"}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	if svc.IsPlatformEnabled(ctx, model.PlatformInstagram) {
		t.Error("auto-paused platform should be disabled")
	}
	if !svc.IsPlatformEnabled(ctx, model.PlatformFacebook) {
		t.Error("other platforms should stay enabled")
	}

	st, err = svc.ResetPlatform(ctx, model.PlatformInstagram)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	want = model.PlatformState{Enabled: true, ErrorsResetAt: &at}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("reset state mismatch (-want +got):\n%s", diff)
	}
}

func TestSetPlatformEnabled(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if err := svc.SetPlatformEnabled(ctx, model.PlatformYouTube, false, "ops"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if svc.IsPlatformEnabled(ctx, model.PlatformYouTube) {
		t.Error("expected youtube disabled")
	}
	if err := svc.SetPlatformEnabled(ctx, model.PlatformYouTube, true, "ops"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !svc.IsPlatformEnabled(ctx, model.PlatformYouTube) {
		t.Error("expected youtube enabled")
	}
}

func TestCaps(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if err := svc.SetPlatformCaps(ctx, model.PlatformTikTok, model.PlatformCaps{MaxPerHour: 2, MaxPerDay: 10, CooldownMinutes: 15}); err != nil {
		t.Fatalf("set caps: %v", err)
	}
	if err := svc.SetPlatformCaps(ctx, model.PlatformTikTok, model.PlatformCaps{MaxPerHour: -1}); err == nil {
		t.Error("expected negative caps to be rejected")
	}

	got, err := svc.GetCaps(ctx)
	if err != nil {
		t.Fatalf("get caps: %v", err)
	}
	want := &model.CapConfig{Platforms: map[model.Platform]model.PlatformCaps{
		model.PlatformTikTok: {MaxPerHour: 2, MaxPerDay: 10, CooldownMinutes: 15},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("caps mismatch (-want +got):\n%s", diff)
	}

	want.AutoPauseOnCap = true
	if err := svc.PutCaps(ctx, *want); err != nil {
		t.Fatalf("put caps: %v", err)
	}
	snap := svc.Snapshot(ctx)
	if diff := cmp.Diff(want, snap.Caps); diff != "" {
		t.Errorf("snapshot caps mismatch (-want +got):\n%s", diff)
	}
}
