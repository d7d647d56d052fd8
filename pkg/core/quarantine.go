package core

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"gopkg.in/guregu/null.v4/zero"
)

// QuarantineState is the state of a quarantine decision record.
type QuarantineState string

// QuarantineState values.
const (
	QuarantineActive   QuarantineState = "ACTIVE"
	QuarantineExpired  QuarantineState = "EXPIRED"
	QuarantineReverted QuarantineState = "REVERTED"
)

// Actors recorded on quarantine transitions made by the service itself.
const (
	ActorPolicyEngine = "policy-engine"
	ActorScheduler    = "scheduler"
)

// QuarantineDecision is an explicit quarantine state record. At most one record per test case
// is ACTIVE at a time.
type QuarantineDecision struct {
	ID         string          `db:"id" json:"id"`
	TestCaseID string          `db:"test_case_id" json:"test_case_id"`
	OrgID      string          `db:"org_id" json:"org_id"`
	Repo       string          `db:"repo" json:"repo"`
	State      QuarantineState `db:"state" json:"state"`
	Rationale  string          `db:"rationale" json:"rationale"`
	Actor      string          `db:"actor" json:"actor"`
	Score      float64         `db:"score" json:"score"`
	ExpiresAt  zero.Time       `db:"expires_at" json:"expires_at"`
	Created    time.Time       `db:"created_at" json:"created_at"`
	Updated    time.Time       `db:"updated_at" json:"updated_at"`
}

// QuarantineStore defines datastore operations for the quarantine_decision table.
type QuarantineStore interface {
	// FindActiveInTx returns the ACTIVE decisions of the given tests, locking the rows.
	FindActiveInTx(ctx context.Context, tx *sqlx.Tx, orgID string, testCaseIDs []string) (map[string]*QuarantineDecision, error)
	// CreateInTx inserts new decision records.
	CreateInTx(ctx context.Context, tx *sqlx.Tx, decisions []*QuarantineDecision) error
	// TransitionInTx moves an ACTIVE decision to a terminal state.
	TransitionInTx(ctx context.Context, tx *sqlx.Tx, orgID, id string, state QuarantineState, rationale, actor string) error
	// ExpireDue marks every ACTIVE decision whose expiry has passed as EXPIRED.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}
