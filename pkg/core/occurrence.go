package core

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"gopkg.in/guregu/null.v4/zero"
)

// OccurrenceStatus is the outcome of one test execution.
type OccurrenceStatus string

// OccurrenceStatus values.
const (
	OccurrencePassed  OccurrenceStatus = "passed"
	OccurrenceFailed  OccurrenceStatus = "failed"
	OccurrenceError   OccurrenceStatus = "error"
	OccurrenceSkipped OccurrenceStatus = "skipped"
)

// IsFailure reports whether the status counts as a failure for scoring.
func (s OccurrenceStatus) IsFailure() bool {
	return s == OccurrenceFailed || s == OccurrenceError
}

// Occurrence is one immutable execution record of a TestCase within a run.
type Occurrence struct {
	ID               string           `db:"id" json:"id"`
	TestCaseID       string           `db:"test_case_id" json:"test_case_id"`
	OrgID            string           `db:"org_id" json:"org_id"`
	Repo             string           `db:"repo" json:"repo"`
	RunID            string           `db:"run_id" json:"run_id"`
	Attempt          int              `db:"attempt" json:"attempt"`
	JobID            string           `db:"job_id" json:"job_id"`
	Branch           string           `db:"branch" json:"branch"`
	Status           OccurrenceStatus `db:"status" json:"status"`
	DurationMS       int64            `db:"duration_ms" json:"duration_ms"`
	ExecutedAt       time.Time        `db:"executed_at" json:"executed_at"`
	FailureMessage   zero.String      `db:"failure_message" json:"failure_message,omitempty"`
	FailureSignature zero.String      `db:"failure_signature" json:"failure_signature,omitempty"`
	Created          time.Time        `db:"created_at" json:"-"`
}

// SignatureCluster groups distinct tests failing with the same normalized failure signature.
type SignatureCluster struct {
	Signature   string `db:"failure_signature" json:"signature"`
	TestCount   int    `db:"test_count" json:"test_count"`
	Occurrences int    `db:"occurrences" json:"occurrences"`
	Sample      string `db:"sample" json:"sample"`
}

// OccurrenceStore defines datastore operations for the append-only occurrence table.
type OccurrenceStore interface {
	// CreateInTx inserts occurrences, rows already recorded for (test, run, attempt) are ignored.
	CreateInTx(ctx context.Context, tx *sqlx.Tx, orgID string, occurrences []*Occurrence) (int64, error)
	// FindHistory returns, per test case, the most-recent-first executions since the given time,
	// bounded to window rows per test.
	FindHistory(ctx context.Context, orgID string, testCaseIDs []string,
		since time.Time, window int) (map[string][]*Occurrence, error)
	// FindTestCaseIDsByRun returns the distinct test cases observed in a run.
	FindTestCaseIDsByRun(ctx context.Context, orgID, repo, runID string) ([]string, error)
	// FindSignatureClusters returns failure signatures shared by at least minTests distinct tests.
	FindSignatureClusters(ctx context.Context, orgID, repo string, since time.Time, minTests int) ([]*SignatureCluster, error)
}
