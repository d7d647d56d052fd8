package core

import (
	"context"
	"time"

	"gopkg.in/guregu/null.v4"
)

// PolicySourceKind tells where a resolved policy came from.
type PolicySourceKind string

// PolicySourceKind values.
const (
	PolicyFromRepository PolicySourceKind = "repository"
	PolicyFromDefaults   PolicySourceKind = "default"
)

// ScoringWeights are the weights of the four score factors.
type ScoringWeights struct {
	FailureRate     float64 `json:"failure_rate"`
	Inconsistency   float64 `json:"inconsistency"`
	Recency         float64 `json:"recency"`
	BranchDiversity float64 `json:"branch_diversity"`
}

// TeamOverride overrides thresholds for tests owned by a team.
type TeamOverride struct {
	FlakyThreshold null.Float `json:"flaky_threshold"`
	WarnThreshold  null.Float `json:"warn_threshold"`
}

// Policy is the resolved, immutable policy of a (repository, ref). A reload builds a new value.
type Policy struct {
	FlakyThreshold         float64                 `json:"flaky_threshold"`
	WarnThreshold          float64                 `json:"warn_threshold"`
	MinOccurrences         int                     `json:"min_occurrences"`
	MinRecentFailures      int                     `json:"min_recent_failures"`
	MinConfidence          float64                 `json:"min_confidence"`
	LookbackDays           int                     `json:"lookback_days"`
	RollingWindowSize      int                     `json:"rolling_window_size"`
	ExcludePaths           []string                `json:"exclude_paths"`
	LabelsRequired         []string                `json:"labels_required"`
	AutoQuarantineEnabled  bool                    `json:"auto_quarantine_enabled"`
	QuarantineDurationDays int                     `json:"quarantine_duration_days"`
	ExemptedTests          []string                `json:"exempted_tests"`
	TeamOverrides          map[string]TeamOverride `json:"team_overrides"`
	Weights                ScoringWeights          `json:"scoring_weights"`
	Source                 PolicySourceKind        `json:"source"`
	LoadedAt               time.Time               `json:"loaded_at"`
	// Problems lists why the repository policy was rejected when Source is default.
	Problems []string `json:"problems,omitempty"`
}

// Lookback returns the lookback period as a duration.
func (p *Policy) Lookback() time.Duration {
	return time.Duration(p.LookbackDays) * 24 * time.Hour
}

// QuarantineDuration returns how long an automatic quarantine lasts, zero means no expiry.
func (p *Policy) QuarantineDuration() time.Duration {
	return time.Duration(p.QuarantineDurationDays) * 24 * time.Hour
}

// PolicyFileSource fetches the raw repository hosted policy document.
type PolicyFileSource interface {
	// Fetch returns the policy file content at ref, errs.ErrNotFound when absent.
	Fetch(ctx context.Context, repo Repository, ref string) ([]byte, error)
}

// PolicyResolver resolves the effective policy of a repository.
type PolicyResolver interface {
	// Resolve returns the cached or freshly loaded policy, never failing on a bad document.
	Resolve(ctx context.Context, repo Repository, ref string) (*Policy, error)
	// Invalidate drops every cached ref of the repository.
	Invalidate(repo Repository)
	// Sweep evicts expired entries and returns how many were removed.
	Sweep() int
}
