// Package detect implements receipt detection as a pipeline of pluggable
// strategies evaluated in fixed priority order.
package detect

import (
	"context"
	"fmt"
	"strings"

	"relay_server/core/domain"
)

// Result is the outcome of one strategy evaluation.
type Result struct {
	Matched    bool
	Confidence int // 0-100
	Reason     string
	MatchedBy  string
	// Decisive marks a non-match that must stop the pipeline: a blocked
	// preference or a reply/forward. Later strategies are not consulted.
	Decisive bool
}

// Strategy analyzes one email. Strategies never return errors; a lookup
// failure inside a strategy degrades to a non-match.
type Strategy interface {
	Name() string
	Detect(ctx context.Context, email *domain.Email) Result
}

// RuleSource provides the user-declared rules and preferences consulted
// during detection. Implemented by the persistence layer (optionally
// behind a cache).
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]*domain.ManualRule, error)
	Preferences(ctx context.Context, types ...domain.PreferenceType) ([]*domain.Preference, error)
	CategoryRules(ctx context.Context) ([]*domain.CategoryRule, error)
}

// emailFields returns subject, body and sender lowercased for matching.
func emailFields(email *domain.Email) (subject, body, sender string) {
	return strings.ToLower(email.Subject),
		strings.ToLower(email.Body),
		strings.ToLower(email.Sender)
}

// maskText hides matched rule/preference content in log-visible reasons.
// Only the length of the original text is exposed.
func maskText(text string) string {
	if text == "" {
		return ""
	}
	return fmt.Sprintf("*** (masked, %d chars)", len(text))
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
