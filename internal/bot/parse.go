package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"postgate/internal/model"
)

// RuleArgs holds the parsed arguments of a rule command.
type RuleArgs struct {
	SourceID int64
	Scope    model.RuleScope
	Value    string
}

// ParseRuleCommand parses arguments for /include, /exclude, etc.
// Format: <source_id> [-s title|content|all] <value...>
func ParseRuleCommand(args string) (RuleArgs, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return RuleArgs{}, fmt.Errorf("usage: <source_id> [-s title|content|all] <value>")
	}

	sourceID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return RuleArgs{}, fmt.Errorf("invalid source ID %q", parts[0])
	}

	scope := model.ScopeAll
	rest := parts[1:]

	if len(rest) >= 2 && rest[0] == "-s" {
		switch rest[1] {
		case "title":
			scope = model.ScopeTitle
		case "content":
			scope = model.ScopeContent
		case "all":
			scope = model.ScopeAll
		default:
			return RuleArgs{}, fmt.Errorf("invalid scope %q, use: title, content, all", rest[1])
		}
		rest = rest[2:]
	}

	if len(rest) == 0 {
		return RuleArgs{}, fmt.Errorf("rule value is required")
	}

	return RuleArgs{
		SourceID: sourceID,
		Scope:    scope,
		Value:    strings.Join(rest, " "),
	}, nil
}

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}

// ParseContentID extracts a content ID and the remaining text.
func ParseContentID(args string) (string, string, error) {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("content ID is required")
	}
	rest := ""
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}
	return parts[0], rest, nil
}

// ParseScheduleArgs extracts a content ID and an RFC 3339 publish time.
func ParseScheduleArgs(args string) (string, time.Time, error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return "", time.Time{}, fmt.Errorf("usage: /schedule <content_id> <RFC3339 time>")
	}
	at, err := time.Parse(time.RFC3339, parts[1])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid time %q, use RFC3339 like 2026-01-02T15:04:05Z", parts[1])
	}
	return parts[0], at.UTC(), nil
}

// ParseSetCapArgs extracts a platform and its three limits. Zero disables a limit.
func ParseSetCapArgs(args string) (model.Platform, model.PlatformCaps, error) {
	parts := strings.Fields(args)
	if len(parts) != 4 {
		return "", model.PlatformCaps{}, fmt.Errorf("usage: /setcap <platform> <per_hour> <per_day> <cooldown_min>")
	}
	p, err := model.ParsePlatform(parts[0])
	if err != nil {
		return "", model.PlatformCaps{}, err
	}
	var vals [3]int
	for i, raw := range parts[1:] {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return "", model.PlatformCaps{}, fmt.Errorf("limits must be non-negative integers, got %q", raw)
		}
		vals[i] = n
	}
	return p, model.PlatformCaps{MaxPerHour: vals[0], MaxPerDay: vals[1], CooldownMinutes: vals[2]}, nil
}

// ParseAddSourceArgs extracts a target platform and a feed URL.
func ParseAddSourceArgs(args string) (model.Platform, string, error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("usage: /addsource <platform> <url>")
	}
	p, err := model.ParsePlatform(parts[0])
	if err != nil {
		return "", "", err
	}
	return p, parts[1], nil
}

// ParseIntervalArgs extracts a source ID and interval in minutes.
func ParseIntervalArgs(args string) (int64, int, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("usage: /interval <id> <minutes>")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid source ID %q", parts[0])
	}
	mins, err := strconv.Atoi(parts[1])
	if err != nil || mins < 1 || mins > 1440 {
		return 0, 0, fmt.Errorf("interval must be between 1 and 1440 minutes")
	}
	return id, mins, nil
}

// ParseSwitch reads on/off.
func ParseSwitch(args string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	default:
		return false, fmt.Errorf("use on or off")
	}
}
