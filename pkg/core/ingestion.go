package core

import (
	"context"

	"github.com/LambdaTest/flakewatch/pkg/utils"
)

// IngestionStore writes the parsed results of one run in a single transaction.
type IngestionStore interface {
	// Write upserts the test identities and appends their occurrences, returning the rows inserted.
	Write(ctx context.Context, orgID string, testCases []*TestCase, occurrences []*Occurrence) (int64, error)
}

// AnalysisStore persists the outcome of an analysis in a single transaction.
type AnalysisStore interface {
	// Persist overwrites the scores and applies the quarantine plan, enforcing at most one ACTIVE
	// decision per test. It returns the decisions that were actually created and reverted.
	Persist(ctx context.Context, orgID string, scores []*FlakeScore, plan *QuarantinePlan) (*QuarantineOutcome, error)
}

// QuarantinePlan lists the quarantine transitions requested by the decision engine.
type QuarantinePlan struct {
	Create []*QuarantineDecision
	// Revert lists test case ids whose ACTIVE quarantine should be reverted.
	Revert map[string]string
}

// QuarantineOutcome reports what Persist actually changed.
type QuarantineOutcome struct {
	Created  []*QuarantineDecision
	Reverted []string
}

// TestCaseIDs returns the distinct test cases touched by the plan.
func (p *QuarantinePlan) TestCaseIDs() []string {
	ids := make([]string, 0, len(p.Create)+len(p.Revert))
	for _, d := range p.Create {
		ids = append(ids, d.TestCaseID)
	}
	for id := range p.Revert {
		ids = append(ids, id)
	}
	return utils.Unique(ids)
}
