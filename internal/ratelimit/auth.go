package ratelimit

import (
	"regexp"
	"strings"
)

// authPattern matches whole words and phrases only, so "author" or
// "after 4015ms" do not count.
var authPattern = regexp.MustCompile(`(?i)\b(` + strings.Join([]string{
	`401`,
	`403`,
	`unauthori[sz]ed`,
	`forbidden`,
	`o?auth(entication|orization|_failed|_error)?`,
	`(invalid|expired|revoked|bad) (oauth )?(access )?token`,
	`access token`,
	`token (has )?(expired|invalid|revoked)`,
	`invalid_token`,
	`token_expired`,
	`credentials?`,
	`permissions?`,
	`access denied`,
	`invalid_grant`,
	`session has expired`,
}, "|") + `)\b`)

// IsAuthFailure reports whether a failure reason points at credentials
// rather than a transient fault.
func IsAuthFailure(reason string) bool {
	return authPattern.MatchString(reason)
}
