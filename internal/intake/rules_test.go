package intake

import (
	"testing"

	"postgate/internal/model"
)

func rule(kind model.RuleKind, scope model.RuleScope, value string) model.IntakeRule {
	return model.IntakeRule{Kind: kind, Scope: scope, Value: value}
}

func TestAccept(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		rules []model.IntakeRule
		want  bool
	}{
		{
			name:  "no rules accepts everything",
			entry: Entry{Title: "anything"},
			want:  true,
		},
		{
			name:  "include hit",
			entry: Entry{Title: "Spring LAUNCH event", Summary: "details"},
			rules: []model.IntakeRule{rule(model.RuleInclude, model.ScopeAll, "launch")},
			want:  true,
		},
		{
			name:  "include miss",
			entry: Entry{Title: "Quarterly report"},
			rules: []model.IntakeRule{rule(model.RuleInclude, model.ScopeAll, "launch")},
			want:  false,
		},
		{
			name:  "any include is enough",
			entry: Entry{Title: "New promo video"},
			rules: []model.IntakeRule{
				rule(model.RuleInclude, model.ScopeAll, "launch"),
				rule(model.RuleInclude, model.ScopeTitle, "promo"),
			},
			want: true,
		},
		{
			name:  "exclude wins over include",
			entry: Entry{Title: "Launch recap", Summary: "internal only"},
			rules: []model.IntakeRule{
				rule(model.RuleInclude, model.ScopeAll, "launch"),
				rule(model.RuleExclude, model.ScopeContent, "internal"),
			},
			want: false,
		},
		{
			name:  "scope title ignores summary",
			entry: Entry{Title: "Weekly digest", Summary: "launch inside"},
			rules: []model.IntakeRule{rule(model.RuleInclude, model.ScopeTitle, "launch")},
			want:  false,
		},
		{
			name:  "regex include",
			entry: Entry{Title: "Episode 42 is out"},
			rules: []model.IntakeRule{rule(model.RuleIncludeRe, model.ScopeTitle, `episode \d+`)},
			want:  true,
		},
		{
			name:  "regex exclude",
			entry: Entry{Title: "Hiring: senior editor"},
			rules: []model.IntakeRule{rule(model.RuleExcludeRe, model.ScopeAll, `^hiring`)},
			want:  false,
		},
		{
			name:  "broken regex never hits",
			entry: Entry{Title: "anything"},
			rules: []model.IntakeRule{rule(model.RuleExcludeRe, model.ScopeAll, `(`)},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Accept(tt.entry, tt.rules); got != tt.want {
				t.Errorf("Accept() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name    string
		rule    model.IntakeRule
		wantErr bool
	}{
		{name: "keyword", rule: rule(model.RuleInclude, model.ScopeAll, "launch")},
		{name: "regex", rule: rule(model.RuleExcludeRe, model.ScopeTitle, `^re:`)},
		{name: "bad regex", rule: rule(model.RuleIncludeRe, model.ScopeAll, `[`), wantErr: true},
		{name: "bad kind", rule: rule("maybe", model.ScopeAll, "x"), wantErr: true},
		{name: "bad scope", rule: rule(model.RuleInclude, "body", "x"), wantErr: true},
		{name: "empty value", rule: rule(model.RuleInclude, model.ScopeAll, "  "), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateRule(tt.rule); (err != nil) != tt.wantErr {
				t.Errorf("ValidateRule() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
