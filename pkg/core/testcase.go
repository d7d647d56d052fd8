package core

import (
	"context"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/utils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"gopkg.in/guregu/null.v4/zero"
)

// testCaseNamespace seeds deterministic test case ids derived from the natural key.
var testCaseNamespace = uuid.MustParse("6f0b7c1e-58a4-4d59-9a43-6c3f35d3a1b2")

// TestCase is the stable identity of a test, keyed by (org, repo, suite, class, name).
type TestCase struct {
	ID        string      `db:"id" json:"id"`
	OrgID     string      `db:"org_id" json:"org_id"`
	Repo      string      `db:"repo" json:"repo"`
	SuiteName string      `db:"suite_name" json:"suite_name"`
	ClassName string      `db:"class_name" json:"class_name"`
	Name      string      `db:"name" json:"name"`
	Team      zero.String `db:"team" json:"team,omitempty"`
	FilePath  zero.String `db:"file_path" json:"file_path,omitempty"`
	Created   time.Time   `db:"created_at" json:"created_at"`
	Updated   time.Time   `db:"updated_at" json:"updated_at"`
}

// TestCaseID returns the deterministic id of the test identified by the natural key.
func TestCaseID(orgID, repo, suite, class, name string) string {
	return utils.DeterministicID(testCaseNamespace, orgID, repo, suite, class, name)
}

// FullName returns the human readable identifier used for exemption matching.
func (t *TestCase) FullName() string {
	if t.ClassName == "" {
		return t.Name
	}
	return t.ClassName + "." + t.Name
}

// TestCaseStore defines datastore operations for the test_case identity table.
type TestCaseStore interface {
	// UpsertInTx creates test cases by natural key and refreshes their metadata.
	UpsertInTx(ctx context.Context, tx *sqlx.Tx, orgID string, testCases []*TestCase) error
	// FindByIDs returns the test cases of an org with the given ids.
	FindByIDs(ctx context.Context, orgID string, ids []string) ([]*TestCase, error)
}
