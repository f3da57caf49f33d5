package intake

import (
	"fmt"
	"regexp"
	"strings"

	"postgate/internal/model"
)

// Entry is the part of a feed item that rules look at.
type Entry struct {
	Title   string
	Summary string
}

// Accept reports whether e passes rules. With no include rules every entry
// is a candidate; otherwise at least one include must hit. Any exclude hit
// drops the entry.
func Accept(e Entry, rules []model.IntakeRule) bool {
	var includes, included bool
	for _, r := range rules {
		hit := ruleHits(e, r)
		switch r.Kind {
		case model.RuleExclude, model.RuleExcludeRe:
			if hit {
				return false
			}
		case model.RuleInclude, model.RuleIncludeRe:
			includes = true
			included = included || hit
		}
	}
	return !includes || included
}

func ruleHits(e Entry, r model.IntakeRule) bool {
	haystack := scopeText(e, r.Scope)
	if r.Kind == model.RuleIncludeRe || r.Kind == model.RuleExcludeRe {
		re, err := compileRule(r.Value)
		if err != nil {
			return false
		}
		return re.MatchString(haystack)
	}
	return strings.Contains(haystack, strings.ToLower(r.Value))
}

func scopeText(e Entry, scope model.RuleScope) string {
	switch scope {
	case model.ScopeTitle:
		return strings.ToLower(e.Title)
	case model.ScopeContent:
		return strings.ToLower(e.Summary)
	}
	return strings.ToLower(e.Title + " " + e.Summary)
}

func compileRule(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

// ValidateRule checks a rule before it is stored.
func ValidateRule(r model.IntakeRule) error {
	switch r.Kind {
	case model.RuleInclude, model.RuleExclude:
	case model.RuleIncludeRe, model.RuleExcludeRe:
		if _, err := compileRule(r.Value); err != nil {
			return fmt.Errorf("invalid regex: %w", err)
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	switch r.Scope {
	case model.ScopeTitle, model.ScopeContent, model.ScopeAll:
	default:
		return fmt.Errorf("unknown rule scope %q", r.Scope)
	}
	if strings.TrimSpace(r.Value) == "" {
		return fmt.Errorf("rule value is empty")
	}
	return nil
}
