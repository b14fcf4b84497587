package domain

import "time"

// PatternStatus tracks a learned pattern through its lifecycle.
type PatternStatus string

const (
	PatternCandidate PatternStatus = "candidate"
	PatternValidated PatternStatus = "validated"
	PatternActive    PatternStatus = "active"
	PatternRetired   PatternStatus = "retired"
)

// LearnedPattern is an element-type combination whose observed engagement
// lift over the tenant baseline is significant enough to influence prompts.
type LearnedPattern struct {
	ID           string        `json:"id" db:"id"`
	TenantID     string        `json:"tenant_id" db:"tenant_id"`
	Name         string        `json:"name" db:"name"`
	ElementTypes []string      `json:"element_types" db:"element_types"`
	Scope        string        `json:"scope" db:"scope"`
	Status       PatternStatus `json:"status" db:"status"`
	SampleSize   int           `json:"sample_size" db:"sample_size"`
	ReplyRate    float64       `json:"reply_rate" db:"reply_rate"`
	Lift         float64       `json:"lift" db:"lift"`
	Confidence   float64       `json:"confidence" db:"confidence"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// RAGDocument is a retrieval document injected into generation prompts.
// Type "learned" rows are keyed by pattern id and marked deprecated, never
// deleted, when the pattern retires.
type RAGDocument struct {
	ID         string    `json:"id" db:"id"`
	TenantID   *string   `json:"tenant_id" db:"tenant_id"` // nil for global fundamentals
	BrandID    *string   `json:"brand_id" db:"brand_id"`
	Type       string    `json:"type" db:"type"` // fundamentals, icp, brand, learned
	Title      string    `json:"title" db:"title"`
	Content    string    `json:"content" db:"content"`
	PatternID  *string   `json:"pattern_id" db:"pattern_id"`
	Deprecated bool      `json:"deprecated" db:"deprecated"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// PromptDefinition names an evolvable prompt (sequence-writer, reviewer,
// qualification). Exactly one version is active per tenant+name at a time.
type PromptDefinition struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Name      string    `json:"name" db:"name"`
	Evolvable bool      `json:"evolvable" db:"evolvable"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PromptVersionStatus tracks a version through testing to active.
type PromptVersionStatus string

const (
	PromptVersionTesting    PromptVersionStatus = "testing"
	PromptVersionActive     PromptVersionStatus = "active"
	PromptVersionDeprecated PromptVersionStatus = "deprecated"
)

// PromptVersion stores the full prompt text plus the learned-pattern ids
// injected into it. Unique per (prompt_id, version).
type PromptVersion struct {
	ID               string              `json:"id" db:"id"`
	PromptID         string              `json:"prompt_id" db:"prompt_id"`
	Version          int                 `json:"version" db:"version"`
	Body             string              `json:"body" db:"body"`
	InjectedPatterns []string            `json:"injected_patterns" db:"injected_patterns"`
	Status           PromptVersionStatus `json:"status" db:"status"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
}

// ABTestStatus tracks a prompt A/B test.
type ABTestStatus string

const (
	ABTestRunning      ABTestStatus = "running"
	ABTestConcluded    ABTestStatus = "concluded"
	ABTestInconclusive ABTestStatus = "inconclusive"
)

// PromptABTest compares the current active version against one candidate,
// arbitrated by positive-reply-rate lift.
type PromptABTest struct {
	ID                  string       `json:"id" db:"id"`
	TenantID            string       `json:"tenant_id" db:"tenant_id"`
	PromptID            string       `json:"prompt_id" db:"prompt_id"`
	ControlVersionID    string       `json:"control_version_id" db:"control_version_id"`
	VariantVersionID    string       `json:"variant_version_id" db:"variant_version_id"`
	SplitPercent        int          `json:"split_percent" db:"split_percent"`
	MinSamplePerVariant int          `json:"min_sample_per_variant" db:"min_sample_per_variant"`
	MaxRuntimeDays      int          `json:"max_runtime_days" db:"max_runtime_days"`
	Status              ABTestStatus `json:"status" db:"status"`
	WinnerVersionID     *string      `json:"winner_version_id" db:"winner_version_id"`
	StartedAt           time.Time    `json:"started_at" db:"started_at"`
	ConcludedAt         *time.Time   `json:"concluded_at" db:"concluded_at"`
}
