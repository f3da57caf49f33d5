package bot

import (
	"fmt"
	"strings"

	"postgate/internal/model"
	"postgate/internal/publish"
)

const (
	statusActive = "active"
	statusPaused = "paused"

	timeLayout = "2006-01-02 15:04 UTC"
)

// FormatStatus renders the kill switch state.
func FormatStatus(posting model.PostingSettings, platforms model.PlatformSettings, platformsErr error) string {
	var b strings.Builder
	switch {
	case posting.ReadError:
		b.WriteString("Posting: PAUSED (settings unreadable, failing closed)\n")
	case posting.Paused:
		b.WriteString("Posting: PAUSED")
		if posting.PausedBy != "" {
			fmt.Fprintf(&b, " by %s", posting.PausedBy)
		}
		if posting.PausedAt != nil {
			fmt.Fprintf(&b, " at %s", posting.PausedAt.UTC().Format(timeLayout))
		}
		if posting.PauseReason != "" {
			fmt.Fprintf(&b, "\nReason: %s", posting.PauseReason)
		}
		b.WriteString("\n")
	default:
		b.WriteString("Posting: ACTIVE\n")
	}

	b.WriteString("\nPlatforms:\n")
	if platformsErr != nil {
		b.WriteString("  unreadable, all treated as disabled\n")
		return b.String()
	}
	for _, p := range model.Platforms {
		st, ok := platforms[p]
		if !ok || st.Enabled {
			fmt.Fprintf(&b, "  %s: enabled\n", p)
			continue
		}
		fmt.Fprintf(&b, "  %s: disabled", p)
		if st.AutoPausedAt != nil {
			fmt.Fprintf(&b, " (auto-paused %s: %s)", st.AutoPausedAt.UTC().Format(timeLayout), st.AutoPausedReason)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatCaps renders the rate cap document.
func FormatCaps(cfg *model.CapConfig) string {
	if cfg == nil {
		return "No rate caps configured. Use /setcap <platform> <per_hour> <per_day> <cooldown_min>."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Auto-pause on cap: %s\nAlerts on cap: %s\n\n", onOff(cfg.AutoPauseOnCap), onOff(cfg.AlertOnCap))
	for _, p := range model.Platforms {
		c, ok := cfg.Platforms[p]
		if !ok {
			fmt.Fprintf(&b, "%s: no limits\n", p)
			continue
		}
		fmt.Fprintf(&b, "%s: %s/hour, %s/day, cooldown %s\n",
			p, limitLabel(c.MaxPerHour), limitLabel(c.MaxPerDay), cooldownLabel(c.CooldownMinutes))
	}
	return b.String()
}

// FormatAudit renders audit entries, newest first.
func FormatAudit(entries []model.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries."
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s %s", e.TimestampUTC.UTC().Format(timeLayout), e.Action, e.Platform)
		if e.ContentID != "" {
			fmt.Fprintf(&b, " %s", shortID(e.ContentID))
		}
		fmt.Fprintf(&b, " by %s", e.Actor)
		if e.Reason != "" {
			fmt.Fprintf(&b, "\n   %s", e.Reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatContent renders one content item.
func FormatContent(item *model.ContentItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s\n", item.ID, item.Status, item.Platform)
	fmt.Fprintf(&b, "Title: %s\n", item.Title)
	if item.ScheduledAt != nil {
		fmt.Fprintf(&b, "Scheduled: %s\n", item.ScheduledAt.UTC().Format(timeLayout))
	}
	if item.PlatformPostID != "" {
		fmt.Fprintf(&b, "Post: %s\n", item.PlatformPostID)
	}
	if item.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", item.LastError)
	}
	return b.String()
}

// FormatOutcome renders the result of a manual publish.
func FormatOutcome(o publish.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s: %s", o.ContentID, o.Platform, o.Decision)
	if o.PlatformPostID != "" {
		fmt.Fprintf(&b, " (post %s)", o.PlatformPostID)
	}
	if o.Reason != "" {
		fmt.Fprintf(&b, "\n%s", o.Reason)
	}
	if o.NextAllowedAt != nil {
		fmt.Fprintf(&b, "\nNext allowed at %s", o.NextAllowedAt.UTC().Format(timeLayout))
	}
	return b.String()
}

// FormatSourceList formats a list of intake sources for display.
func FormatSourceList(sources []model.IntakeSource, ruleCounts map[int64][2]int) string {
	if len(sources) == 0 {
		return "No intake sources yet. Use /addsource <platform> <url> to add one."
	}
	var b strings.Builder
	b.WriteString("Intake sources:\n")
	for _, s := range sources {
		fmt.Fprintf(&b, "\n#%d %s -> %s (every %d min) [%s]\n", s.ID, s.Name, s.Platform, s.IntervalMinutes, activeLabel(s.IsActive))
		inc, exc := ruleCounts[s.ID][0], ruleCounts[s.ID][1]
		if inc == 0 && exc == 0 {
			b.WriteString("   no rules\n")
		} else {
			fmt.Fprintf(&b, "   %d include, %d exclude rules\n", inc, exc)
		}
	}
	return b.String()
}

// FormatSourceInfo formats detailed information about a single source.
func FormatSourceInfo(src *model.IntakeSource, rules []model.IntakeRule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s [%s]\n", src.ID, src.Name, activeLabel(src.IsActive))
	fmt.Fprintf(&b, "URL: %s\n", src.URL)
	fmt.Fprintf(&b, "Platform: %s\n", src.Platform)
	fmt.Fprintf(&b, "Interval: every %d min\n", src.IntervalMinutes)
	if src.LastCheckAt != nil {
		fmt.Fprintf(&b, "Last check: %s\n", src.LastCheckAt.UTC().Format(timeLayout))
	}
	b.WriteString("\n")
	b.WriteString(FormatRuleList(src, rules))
	return b.String()
}

// FormatRuleList formats the rules of a source grouped by kind.
func FormatRuleList(src *model.IntakeSource, rules []model.IntakeRule) string {
	if len(rules) == 0 {
		return fmt.Sprintf("No rules for #%d \"%s\".\nUse /include, /exclude, /include_re, /exclude_re to add rules.", src.ID, src.Name)
	}

	order := []struct {
		kind  model.RuleKind
		label string
	}{
		{model.RuleInclude, "Include (word)"},
		{model.RuleIncludeRe, "Include (regex)"},
		{model.RuleExclude, "Exclude (word)"},
		{model.RuleExcludeRe, "Exclude (regex)"},
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rules for #%d \"%s\":\n", src.ID, src.Name)
	for _, g := range order {
		var group []model.IntakeRule
		for _, r := range rules {
			if r.Kind == g.kind {
				group = append(group, r)
			}
		}
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", g.label)
		for _, r := range group {
			fmt.Fprintf(&b, "  R%d: %s (%s)\n", r.ID, r.Value, scopeLabel(r.Scope))
		}
	}
	return b.String()
}

func scopeLabel(s model.RuleScope) string {
	switch s {
	case model.ScopeTitle:
		return "title only"
	case model.ScopeContent:
		return "content only"
	default:
		return "title+content"
	}
}

func activeLabel(active bool) string {
	if active {
		return statusActive
	}
	return statusPaused
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func limitLabel(n int) string {
	if n == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}

func cooldownLabel(mins int) string {
	if mins == 0 {
		return "none"
	}
	return fmt.Sprintf("%d min", mins)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
