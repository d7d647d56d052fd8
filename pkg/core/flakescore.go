package core

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"gopkg.in/guregu/null.v4"
)

// ScoreStatus tells whether a score was computed or withheld for lack of history.
type ScoreStatus string

// ScoreStatus values.
const (
	ScoreScored           ScoreStatus = "scored"
	ScoreInsufficientData ScoreStatus = "insufficient_data"
)

// FailurePattern is the coarse keyword based classification of recent failures.
type FailurePattern string

// FailurePattern values.
const (
	PatternTiming        FailurePattern = "timing"
	PatternEnvironmental FailurePattern = "environmental"
	PatternIntermittent  FailurePattern = "intermittent"
	PatternUnknown       FailurePattern = "unknown"
)

// Severity of a flaky test.
type Severity string

// Severity values.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ScoreFactors are the individually inspectable inputs of the flakiness score.
type ScoreFactors struct {
	FailureRate     float64 `db:"failure_rate" json:"failure_rate"`
	Inconsistency   float64 `db:"inconsistency" json:"inconsistency"`
	Recency         float64 `db:"recency" json:"recency"`
	BranchDiversity float64 `db:"branch_diversity" json:"branch_diversity"`
}

// FlakeScore is the latest computed score of a TestCase, overwritten on every recomputation.
type FlakeScore struct {
	TestCaseID        string         `db:"test_case_id" json:"test_case_id"`
	OrgID             string         `db:"org_id" json:"org_id"`
	Repo              string         `db:"repo" json:"repo"`
	Status            ScoreStatus    `db:"status" json:"status"`
	Score             null.Float     `db:"score" json:"score"`
	Confidence        float64        `db:"confidence" json:"confidence"`
	Pattern           FailurePattern `db:"pattern" json:"pattern"`
	Severity          Severity       `db:"severity" json:"severity"`
	Recommendation    string         `db:"recommendation" json:"recommendation"`
	RecommendedAction Action         `db:"recommended_action" json:"recommended_action"`
	TotalRuns         int            `db:"total_runs" json:"total_runs"`
	Failures          int            `db:"failures" json:"failures"`
	RecentFailures    int            `db:"recent_failures" json:"recent_failures"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
	ScoreFactors
}

// FlakeScoreStore defines datastore operations for the flake_score table.
type FlakeScoreStore interface {
	// UpsertInTx overwrites the current score of every given test case.
	UpsertInTx(ctx context.Context, tx *sqlx.Tx, scores []*FlakeScore) error
	// FindByTestCaseIDs returns the current scores keyed by test case id.
	FindByTestCaseIDs(ctx context.Context, orgID string, ids []string) (map[string]*FlakeScore, error)
}
