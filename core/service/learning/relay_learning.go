// Package learning grows the manual rule set from observed receipts:
// candidate generation, shadow-mode evaluation and auto-promotion.
package learning

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"relay_server/core/domain"
	"relay_server/core/port/out"
	"relay_server/core/service/detect"
	"relay_server/pkg/logger"
)

const (
	// CandidateType marks candidates produced by receipt scanning.
	CandidateType = "Receipt"

	// Promotion thresholds: a shadow rule graduates once it has proven
	// itself this often with this much confidence.
	promoteMinConfidence = 0.9
	promoteMinMatches    = 5

	// shadowConfidenceStep controls the exponential approach toward 1.0
	// on each shadow match: c' = c + (1-c)*step.
	shadowConfidenceStep = 0.1

	// baseRuleConfidence is the floor for generated rule suggestions.
	baseRuleConfidence = 0.7

	// autoPromotedMarker is appended to the purpose of rules promoted
	// without user review.
	autoPromotedMarker = "(AUTO)"
)

// Detector is the subset of the detection pipeline the learner consults.
type Detector interface {
	IsReceipt(ctx context.Context, email *domain.Email) bool
	Confidence(ctx context.Context, email *domain.Email) int
}

// RuleSuggestion is a generated rule proposal, not yet persisted.
type RuleSuggestion struct {
	EmailPattern   string  `json:"email_pattern"`
	SubjectPattern string  `json:"subject_pattern"`
	Purpose        string  `json:"purpose"`
	Confidence     float64 `json:"confidence"`
}

// Service implements the learning workflows.
type Service struct {
	rules      out.ManualRuleRepository
	candidates out.LearningCandidateRepository
	emails     out.EmailRecordRepository
	source     out.MailSource
	detector   Detector
	accounts   []domain.Account
	log        *logger.Logger
}

func NewService(
	rules out.ManualRuleRepository,
	candidates out.LearningCandidateRepository,
	emails out.EmailRecordRepository,
	source out.MailSource,
	detector Detector,
	accounts []domain.Account,
) *Service {
	return &Service{
		rules:      rules,
		candidates: candidates,
		emails:     emails,
		source:     source,
		detector:   detector,
		accounts:   accounts,
		log:        logger.WithField("component", "learning"),
	}
}

// =============================================================================
// Rule generation
// =============================================================================

// GenerateRuleFromEmail proposes a rule from one confirmed receipt: the
// sender generalizes to its whole domain, the subject to its leading
// significant word.
func (s *Service) GenerateRuleFromEmail(ctx context.Context, email *domain.Email) RuleSuggestion {
	domainPart := email.SenderDomain()

	emailPattern := ""
	purpose := "Learned from receipt"
	if domainPart != "" {
		emailPattern = "*@" + domainPart
		name := strings.TrimSuffix(domainPart, domainSuffix(domainPart))
		purpose = fmt.Sprintf("Learned from receipt: %s", name)
	}

	confidence := baseRuleConfidence
	if s.detector != nil && s.detector.Confidence(ctx, email) >= 80 {
		confidence = 0.8
	}

	return RuleSuggestion{
		EmailPattern:   emailPattern,
		SubjectPattern: subjectKeyPattern(email.Subject),
		Purpose:        purpose,
		Confidence:     confidence,
	}
}

// CreateShadowRule persists a generated suggestion as a shadow-mode rule.
func (s *Service) CreateShadowRule(ctx context.Context, email *domain.Email) (*domain.ManualRule, error) {
	suggestion := s.GenerateRuleFromEmail(ctx, email)
	if suggestion.EmailPattern == "" {
		return nil, fmt.Errorf("cannot build rule: sender %q has no domain", email.Sender)
	}

	rule := &domain.ManualRule{
		EmailPattern:   suggestion.EmailPattern,
		SubjectPattern: suggestion.SubjectPattern,
		Purpose:        suggestion.Purpose,
		Priority:       domain.DefaultManualRulePriority,
		Confidence:     suggestion.Confidence,
		IsShadowMode:   true,
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create shadow rule: %w", err)
	}

	s.log.WithField("pattern", suggestion.EmailPattern).Info("Shadow rule created")
	return rule, nil
}

// =============================================================================
// Shadow mode
// =============================================================================

// RunShadowMode evaluates all shadow rules against one live email. A rule
// whose declared patterns all match gets its match count bumped and its
// confidence nudged toward 1.0. The forwarding decision is never touched.
func (s *Service) RunShadowMode(ctx context.Context, email *domain.Email) error {
	rules, err := s.rules.ListShadow(ctx)
	if err != nil {
		return fmt.Errorf("failed to list shadow rules: %w", err)
	}

	sender := strings.ToLower(email.Sender)
	subject := strings.ToLower(email.Subject)

	for _, rule := range rules {
		if rule.EmailPattern == "" && rule.SubjectPattern == "" {
			continue
		}
		if rule.EmailPattern != "" && !detect.MatchPattern(rule.EmailPattern, sender) {
			continue
		}
		if rule.SubjectPattern != "" && !detect.MatchPattern(rule.SubjectPattern, subject) {
			continue
		}

		rule.MatchCount++
		rule.Confidence += (1 - rule.Confidence) * shadowConfidenceStep
		if rule.Confidence > 1 {
			rule.Confidence = 1
		}
		if err := s.rules.Update(ctx, rule); err != nil {
			return fmt.Errorf("failed to update shadow rule %d: %w", rule.ID, err)
		}
		s.log.WithFields(map[string]any{
			"rule_id":     rule.ID,
			"match_count": rule.MatchCount,
		}).Debug("Shadow rule matched")
	}
	return nil
}

// AutoPromoteRules flips proven shadow rules into live rules and tags
// their purpose with the automatic-promotion marker. Returns how many
// rules were promoted.
func (s *Service) AutoPromoteRules(ctx context.Context) (int, error) {
	rules, err := s.rules.ListShadow(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list shadow rules: %w", err)
	}

	promoted := 0
	for _, rule := range rules {
		if rule.Confidence < promoteMinConfidence || rule.MatchCount < promoteMinMatches {
			continue
		}
		rule.IsShadowMode = false
		if !strings.Contains(rule.Purpose, autoPromotedMarker) {
			rule.Purpose = strings.TrimSpace(rule.Purpose + " " + autoPromotedMarker)
		}
		if err := s.rules.Update(ctx, rule); err != nil {
			return promoted, fmt.Errorf("failed to promote rule %d: %w", rule.ID, err)
		}
		promoted++
		s.log.WithField("rule_id", rule.ID).Info("Shadow rule promoted to live")
	}
	return promoted, nil
}

// =============================================================================
// Historical scan
// =============================================================================

// ScanHistory fetches recent mail from every account, detects receipts
// that were never processed, and records them as learning candidates
// deduplicated by (sender, inferred subject pattern). Returns the number
// of new candidates. Account failures are logged and skipped.
func (s *Service) ScanHistory(ctx context.Context, days int) (int, error) {
	if len(s.accounts) == 0 {
		s.log.Warn("No accounts configured, skipping history scan")
		return 0, nil
	}
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)

	created := 0
	for _, account := range s.accounts {
		emails, err := s.source.FetchRecent(ctx, account, since)
		if err != nil {
			s.log.WithError(err).WithField("account", logger.Mask(account.Email)).
				Warn("History fetch failed, skipping account")
			continue
		}

		for _, email := range emails {
			isNew, err := s.recordCandidate(ctx, email)
			if err != nil {
				s.log.WithError(err).Warn("Failed to record candidate")
				continue
			}
			if isNew {
				created++
			}
		}
	}
	return created, nil
}

func (s *Service) recordCandidate(ctx context.Context, email *domain.Email) (bool, error) {
	// The content-hash half of the check still applies to messages that
	// lack a Message-ID header.
	exists, err := s.emails.Exists(ctx, email.MessageID, email.ContentHash())
	if err != nil {
		return false, fmt.Errorf("failed dedup check: %w", err)
	}
	if exists {
		return false, nil
	}

	if !s.detector.IsReceipt(ctx, email) {
		return false, nil
	}

	sender := strings.ToLower(email.Sender)
	pattern := subjectKeyPattern(email.Subject)

	existing, err := s.candidates.FindBySenderAndPattern(ctx, sender, pattern)
	if err != nil {
		return false, fmt.Errorf("failed candidate lookup: %w", err)
	}
	if existing != nil {
		if err := s.candidates.IncrementMatches(ctx, existing.ID); err != nil {
			return false, fmt.Errorf("failed to increment candidate %d: %w", existing.ID, err)
		}
		return false, nil
	}

	confidence := float64(s.detector.Confidence(ctx, email)) / 100
	if confidence < 0.5 {
		confidence = 0.5
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	cand := &domain.LearningCandidate{
		Type:           CandidateType,
		Sender:         sender,
		SubjectPattern: pattern,
		ExampleSubject: email.Subject,
		Confidence:     confidence,
		Matches:        1,
	}
	if err := s.candidates.Create(ctx, cand); err != nil {
		return false, fmt.Errorf("failed to create candidate: %w", err)
	}
	return true, nil
}

// =============================================================================
// Candidate review
// =============================================================================

// ApproveCandidate turns a candidate into a live manual rule matching
// the exact sender anywhere in the address, then removes the candidate.
func (s *Service) ApproveCandidate(ctx context.Context, id int64) (*domain.ManualRule, error) {
	cand, err := s.candidates.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate %d: %w", id, err)
	}
	if cand == nil {
		return nil, fmt.Errorf("candidate %d not found", id)
	}

	rule := &domain.ManualRule{
		EmailPattern: "*" + cand.Sender + "*",
		Purpose:      fmt.Sprintf("Approved learning candidate: %s", cand.Sender),
		Priority:     domain.DefaultManualRulePriority,
		Confidence:   cand.Confidence,
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule from candidate %d: %w", id, err)
	}
	if err := s.candidates.Delete(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to delete candidate %d: %w", id, err)
	}

	s.log.WithField("sender", logger.Mask(cand.Sender)).Info("Learning candidate approved")
	return rule, nil
}

// IgnoreCandidate discards a candidate without creating a rule.
func (s *Service) IgnoreCandidate(ctx context.Context, id int64) error {
	if err := s.candidates.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete candidate %d: %w", id, err)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// subjectKeyPattern generalizes a subject to its first significant word,
// wrapped in wildcards: "Amazon Order Confirmation" -> "*amazon*".
// Subjects without a significant word generalize to "*".
func subjectKeyPattern(subject string) string {
	for _, field := range strings.Fields(strings.ToLower(subject)) {
		word := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		if len(word) > 3 && isAlpha(word) {
			return "*" + word + "*"
		}
	}
	return "*"
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// domainSuffix returns the trailing ".tld" of a domain, for building a
// human-readable purpose ("amazon.com" -> "amazon").
func domainSuffix(domainName string) string {
	if i := strings.LastIndex(domainName, "."); i >= 0 {
		return domainName[i:]
	}
	return ""
}
