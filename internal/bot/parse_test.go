package bot

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"postgate/internal/model"
	"postgate/internal/publish"
)

func TestParseRuleCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    RuleArgs
		wantErr bool
	}{
		{
			name: "simple word",
			args: "1 launch",
			want: RuleArgs{SourceID: 1, Scope: model.ScopeAll, Value: "launch"},
		},
		{
			name: "multi-word value",
			args: "3 behind the scenes",
			want: RuleArgs{SourceID: 3, Scope: model.ScopeAll, Value: "behind the scenes"},
		},
		{
			name: "with scope title",
			args: "1 -s title teaser",
			want: RuleArgs{SourceID: 1, Scope: model.ScopeTitle, Value: "teaser"},
		},
		{
			name: "with scope content",
			args: "2 -s content promo material",
			want: RuleArgs{SourceID: 2, Scope: model.ScopeContent, Value: "promo material"},
		},
		{name: "missing value", args: "1", wantErr: true},
		{name: "invalid id", args: "abc launch", wantErr: true},
		{name: "empty args", args: "", wantErr: true},
		{name: "invalid scope", args: "1 -s body word", wantErr: true},
		{name: "scope flag without value", args: "1 -s title", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRuleCommand(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseIDArg(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    int64
		wantErr bool
	}{
		{name: "valid", args: "42", want: 42},
		{name: "with whitespace", args: "  7  ", want: 7},
		{name: "empty", args: "", wantErr: true},
		{name: "not a number", args: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIDArg(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSetCapArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     string
		wantP    model.Platform
		wantCaps model.PlatformCaps
		wantErr  bool
	}{
		{
			name:     "all limits",
			args:     "TikTok 5 20 15",
			wantP:    model.PlatformTikTok,
			wantCaps: model.PlatformCaps{MaxPerHour: 5, MaxPerDay: 20, CooldownMinutes: 15},
		},
		{
			name:     "zero disables",
			args:     "youtube 0 0 0",
			wantP:    model.PlatformYouTube,
			wantCaps: model.PlatformCaps{},
		},
		{name: "unknown platform", args: "myspace 1 1 1", wantErr: true},
		{name: "negative", args: "facebook -1 1 1", wantErr: true},
		{name: "missing values", args: "facebook 1 1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, caps, err := ParseSetCapArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantP, p); diff != "" {
				t.Errorf("platform mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantCaps, caps); diff != "" {
				t.Errorf("caps mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseScheduleArgs(t *testing.T) {
	id, at, err := ParseScheduleArgs("abc-123 2026-03-01T10:00:00+02:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "abc-123" || !at.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)) || at.Location() != time.UTC {
		t.Errorf("got %s %v", id, at)
	}

	for _, bad := range []string{"", "abc-123", "abc-123 tomorrow", "a b c"} {
		if _, _, err := ParseScheduleArgs(bad); err == nil {
			t.Errorf("ParseScheduleArgs(%q) expected error", bad)
		}
	}
}

func TestParseContentID(t *testing.T) {
	tests := []struct {
		args     string
		wantID   string
		wantRest string
		wantErr  bool
	}{
		{args: "abc", wantID: "abc"},
		{args: " abc  off brand tone ", wantID: "abc", wantRest: "off brand tone"},
		{args: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			id, rest, err := ParseContentID(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if id != tt.wantID || rest != tt.wantRest {
				t.Errorf("got (%q, %q), want (%q, %q)", id, rest, tt.wantID, tt.wantRest)
			}
		})
	}
}

func TestParseIntervalArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     string
		wantID   int64
		wantMins int
		wantErr  bool
	}{
		{name: "valid", args: "1 30", wantID: 1, wantMins: 30},
		{name: "min boundary", args: "2 1", wantID: 2, wantMins: 1},
		{name: "max boundary", args: "3 1440", wantID: 3, wantMins: 1440},
		{name: "too low", args: "1 0", wantErr: true},
		{name: "too high", args: "1 1441", wantErr: true},
		{name: "missing minutes", args: "1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, mins, err := ParseIntervalArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != tt.wantID || mins != tt.wantMins {
				t.Errorf("got (%d, %d), want (%d, %d)", id, mins, tt.wantID, tt.wantMins)
			}
		})
	}
}

func TestFormatStatus(t *testing.T) {
	pausedAt := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name         string
		posting      model.PostingSettings
		platforms    model.PlatformSettings
		platformsErr error
		wantContains []string
	}{
		{
			name:         "active with defaults",
			wantContains: []string{"Posting: ACTIVE", "instagram: enabled", "youtube: enabled"},
		},
		{
			name:    "paused with auto-paused platform",
			posting: model.PostingSettings{Paused: true, PausedBy: "telegram:@ops", PausedAt: &pausedAt, PauseReason: "incident"},
			platforms: model.PlatformSettings{
				model.PlatformTikTok: {Enabled: false, AutoPausedAt: &pausedAt, AutoPausedReason: "error rate"},
			},
			wantContains: []string{
				"Posting: PAUSED by telegram:@ops at 2026-02-01 09:30 UTC",
				"Reason: incident",
				"tiktok: disabled (auto-paused 2026-02-01 09:30 UTC: error rate)",
				"facebook: enabled",
			},
		},
		{
			name:         "unreadable documents",
			posting:      model.PostingSettings{Paused: true, ReadError: true},
			platformsErr: errors.New("disk I/O error"),
			wantContains: []string{"failing closed", "all treated as disabled"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatStatus(tt.posting, tt.platforms, tt.platformsErr)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("output missing %q:\n%s", want, got)
				}
			}
		})
	}
}

func TestFormatCaps(t *testing.T) {
	if got := FormatCaps(nil); !strings.Contains(got, "No rate caps configured") {
		t.Errorf("nil caps rendered as %q", got)
	}

	got := FormatCaps(&model.CapConfig{
		Platforms: map[model.Platform]model.PlatformCaps{
			model.PlatformTikTok: {MaxPerHour: 5, CooldownMinutes: 10},
		},
		AutoPauseOnCap: true,
	})
	for _, want := range []string{
		"Auto-pause on cap: on",
		"Alerts on cap: off",
		"tiktok: 5/hour, unlimited/day, cooldown 10 min",
		"instagram: no limits",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestFormatOutcome(t *testing.T) {
	next := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		out  publish.Outcome
		want string
	}{
		{
			name: "posted",
			out:  publish.Outcome{ContentID: "c1", Platform: model.PlatformYouTube, Decision: publish.DecisionPosted, PlatformPostID: "yt_9"},
			want: "c1 on youtube: POSTED (post yt_9)",
		},
		{
			name: "blocked with reopen time",
			out: publish.Outcome{
				ContentID: "c2", Platform: model.PlatformTikTok, Decision: publish.DecisionBlocked,
				Reason: "RATE_CAP_EXCEEDED: Hourly cap exceeded: 5/5", NextAllowedAt: &next,
			},
			want: "c2 on tiktok: BLOCKED\nRATE_CAP_EXCEEDED: Hourly cap exceeded: 5/5\nNext allowed at 2026-02-01 10:00 UTC",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatOutcome(tt.out)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatSourceList(t *testing.T) {
	if got := FormatSourceList(nil, nil); !strings.Contains(got, "No intake sources yet") {
		t.Errorf("empty list rendered as %q", got)
	}

	got := FormatSourceList([]model.IntakeSource{
		{ID: 1, Name: "Blog", Platform: model.PlatformFacebook, IntervalMinutes: 15, IsActive: true},
		{ID: 2, Name: "Podcast", Platform: model.PlatformYouTube, IntervalMinutes: 60, IsActive: false},
	}, map[int64][2]int{1: {2, 1}})
	for _, want := range []string{
		"#1 Blog -> facebook (every 15 min) [active]",
		"2 include, 1 exclude rules",
		"#2 Podcast -> youtube (every 60 min) [paused]",
		"no rules",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestFormatRuleList(t *testing.T) {
	src := &model.IntakeSource{ID: 1, Name: "Blog"}

	got := FormatRuleList(src, []model.IntakeRule{
		{ID: 1, Kind: model.RuleInclude, Scope: model.ScopeAll, Value: "launch"},
		{ID: 2, Kind: model.RuleIncludeRe, Scope: model.ScopeTitle, Value: `ep\d+`},
		{ID: 3, Kind: model.RuleExclude, Scope: model.ScopeContent, Value: "internal"},
		{ID: 4, Kind: model.RuleExcludeRe, Scope: model.ScopeAll, Value: "^hiring"},
	})
	for _, want := range []string{
		"Include (word):",
		"R1: launch (title+content)",
		`R2: ep\d+ (title only)`,
		"R3: internal (content only)",
		"Exclude (regex):",
		"R4: ^hiring (title+content)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	if got := FormatRuleList(src, nil); !strings.Contains(got, "No rules for #1") {
		t.Errorf("empty rules rendered as %q", got)
	}
}
