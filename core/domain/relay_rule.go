package domain

import "time"

// DefaultManualRulePriority is used when a rule is created without an
// explicit priority (workflow toggles, approved learning candidates).
const DefaultManualRulePriority = 50

// ManualRule is a user- or learner-declared forwarding rule. A rule in
// shadow mode is evaluated against live traffic for bookkeeping only and
// never influences the forwarding decision.
type ManualRule struct {
	ID             int64     `json:"id" db:"id"`
	EmailPattern   string    `json:"email_pattern" db:"email_pattern"`
	SubjectPattern string    `json:"subject_pattern" db:"subject_pattern"`
	Purpose        string    `json:"purpose" db:"purpose"`
	Priority       int       `json:"priority" db:"priority"`
	Confidence     float64   `json:"confidence" db:"confidence"`
	MatchCount     int       `json:"match_count" db:"match_count"`
	IsShadowMode   bool      `json:"is_shadow_mode" db:"is_shadow_mode"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// CategoryMatchType selects which header a category rule matches on.
type CategoryMatchType string

const (
	CategoryMatchSender  CategoryMatchType = "sender"
	CategoryMatchSubject CategoryMatchType = "subject"
)

// CategoryRule assigns a spending category to matching receipts.
type CategoryRule struct {
	ID               int64             `json:"id" db:"id"`
	MatchType        CategoryMatchType `json:"match_type" db:"match_type"`
	Pattern          string            `json:"pattern" db:"pattern"`
	AssignedCategory string            `json:"assigned_category" db:"assigned_category"`
	Priority         int               `json:"priority" db:"priority"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
}

// PreferenceType partitions preferences by how they affect detection.
type PreferenceType string

const (
	PrefBlockedSender   PreferenceType = "Blocked Sender"
	PrefBlockedCategory PreferenceType = "Blocked Category"
	PrefAlwaysForward   PreferenceType = "Always Forward"
)

// Preference is a single user preference entry. Blocked entries veto
// forwarding; Always Forward entries force it.
type Preference struct {
	ID        int64          `json:"id" db:"id"`
	Type      PreferenceType `json:"type" db:"type"`
	Item      string         `json:"item" db:"item"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// LearningCandidate is an observed sender/subject pair proposed for
// promotion into a manual rule, pending user review or shadow promotion.
type LearningCandidate struct {
	ID             int64     `json:"id" db:"id"`
	Type           string    `json:"type" db:"type"`
	Sender         string    `json:"sender" db:"sender"`
	SubjectPattern string    `json:"subject_pattern" db:"subject_pattern"`
	ExampleSubject string    `json:"example_subject" db:"example_subject"`
	Confidence     float64   `json:"confidence" db:"confidence"`
	Matches        int       `json:"matches" db:"matches"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
