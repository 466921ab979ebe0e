package detect

import (
	"context"
	"fmt"
	"strings"

	"relay_server/core/domain"
	"relay_server/pkg/logger"
)

// RuleStrategy checks stored manual rules and preferences. It runs first
// and its verdicts are absolute: a rule or Always Forward preference hit
// forwards regardless of content, a Blocked preference hit vetoes every
// later strategy.
type RuleStrategy struct {
	rules RuleSource
}

func NewRuleStrategy(rules RuleSource) *RuleStrategy {
	return &RuleStrategy{rules: rules}
}

func (s *RuleStrategy) Name() string { return "Manual Rule" }

func (s *RuleStrategy) Detect(ctx context.Context, email *domain.Email) Result {
	if s.rules == nil {
		return Result{}
	}

	subject, _, sender := emailFields(email)

	// 1. Manual rules, priority descending. All declared patterns on a
	// rule must match.
	rules, err := s.rules.ActiveRules(ctx)
	if err != nil {
		logger.WithError(err).Warn("Rule lookup failed, skipping rule strategy")
		return Result{}
	}
	if rule := firstMatchingRule(rules, sender, subject); rule != nil {
		purpose := rule.Purpose
		if purpose == "" {
			purpose = "No purpose"
		}
		return Result{
			Matched:    true,
			Confidence: 100,
			Reason:     fmt.Sprintf("Manual rule match: %s", purpose),
			MatchedBy:  "Manual Rule",
		}
	}

	prefs, err := s.rules.Preferences(ctx,
		domain.PrefAlwaysForward, domain.PrefBlockedSender, domain.PrefBlockedCategory)
	if err != nil {
		logger.WithError(err).Warn("Preference lookup failed, skipping rule strategy")
		return Result{}
	}

	// 2. Always Forward preferences (substring on sender or subject).
	for _, pref := range prefs {
		if pref.Type != domain.PrefAlwaysForward {
			continue
		}
		item := strings.ToLower(pref.Item)
		if item != "" && (strings.Contains(sender, item) || strings.Contains(subject, item)) {
			return Result{
				Matched:    true,
				Confidence: 100,
				Reason:     fmt.Sprintf("Preference match (Always Forward): %s", maskText(pref.Item)),
				MatchedBy:  "Always Forward Preference",
			}
		}
	}

	// 3. Blocked preferences veto the whole pipeline.
	for _, pref := range prefs {
		if pref.Type != domain.PrefBlockedSender && pref.Type != domain.PrefBlockedCategory {
			continue
		}
		item := strings.ToLower(pref.Item)
		if item != "" && (strings.Contains(sender, item) || strings.Contains(subject, item)) {
			return Result{
				Matched:    false,
				Confidence: 100,
				Reason:     fmt.Sprintf("Preference match (Blocked): %s", maskText(pref.Item)),
				MatchedBy:  "Blocked Preference",
				Decisive:   true,
			}
		}
	}

	return Result{}
}

// firstMatchingRule returns the highest-priority rule whose declared
// patterns all match. Rules must already be ordered by priority descending.
func firstMatchingRule(rules []*domain.ManualRule, sender, subject string) *domain.ManualRule {
	for _, rule := range rules {
		if rule.EmailPattern != "" && !MatchPattern(rule.EmailPattern, sender) {
			continue
		}
		if rule.SubjectPattern != "" && !MatchPattern(rule.SubjectPattern, subject) {
			continue
		}
		if rule.EmailPattern == "" && rule.SubjectPattern == "" {
			continue
		}
		return rule
	}
	return nil
}
