package detect

import (
	"context"

	"relay_server/core/domain"
	"relay_server/pkg/logger"
)

// Categorizer labels receipts with a spending category using stored
// category rules, falling back to hardcoded sender patterns.
type Categorizer struct {
	rules RuleSource
}

func NewCategorizer(rules RuleSource) *Categorizer {
	return &Categorizer{rules: rules}
}

// Predict returns the category of the first matching stored rule
// (priority descending), or the fallback category when none match.
func (c *Categorizer) Predict(ctx context.Context, email *domain.Email) string {
	subject, _, sender := emailFields(email)

	if c.rules != nil {
		rules, err := c.rules.CategoryRules(ctx)
		if err != nil {
			logger.WithError(err).Warn("Category rule lookup failed, using fallback")
		} else {
			for _, rule := range rules {
				switch rule.MatchType {
				case domain.CategoryMatchSender:
					if MatchPattern(rule.Pattern, sender) {
						return rule.AssignedCategory
					}
				case domain.CategoryMatchSubject:
					if MatchPattern(rule.Pattern, subject) {
						return rule.AssignedCategory
					}
				}
			}
		}
	}

	return FallbackCategory(email)
}
