package core

import (
	"context"
	"time"

	"gopkg.in/guregu/null.v4"
	"gopkg.in/guregu/null.v4/zero"
)

// Action recommended or enacted for a test.
type Action string

// Action values.
const (
	ActionNone       Action = "none"
	ActionWarn       Action = "warn"
	ActionQuarantine Action = "quarantine"
)

// Priority used for downstream routing of decisions.
type Priority string

// Priority values.
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Decision is the outcome of evaluating one test against its policy.
type Decision struct {
	TestCaseID          string     `json:"test_case_id"`
	TestName            string     `json:"test_name"`
	Action              Action     `json:"action"`
	Reason              string     `json:"reason"`
	Confidence          float64    `json:"confidence"`
	Priority            Priority   `json:"priority"`
	Score               null.Float `json:"score"`
	EvaluatedAt         time.Time  `json:"evaluated_at"`
	TeamOverrideApplied bool       `json:"team_override_applied"`
	Exempted            bool       `json:"exempted"`
	// AutoQuarantine is true when a quarantine action is to be enacted, not only recommended.
	AutoQuarantine bool `json:"auto_quarantine"`
}

// DecisionEvent is published to the external reporting surface.
type DecisionEvent struct {
	OrgID         string      `json:"org_id"`
	Repo          string      `json:"repo"`
	RunID         string      `json:"run_id"`
	JobID         string      `json:"job_id"`
	CorrelationID string      `json:"correlation_id"`
	Decision      *Decision   `json:"decision"`
	QuarantineID  zero.String `json:"quarantine_id,omitempty"`
}

// DecisionPublisher emits decisions to the external reporting surface.
type DecisionPublisher interface {
	Publish(ctx context.Context, events []*DecisionEvent) error
	Close() error
}
