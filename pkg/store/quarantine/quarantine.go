package quarantine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/LambdaTest/flakewatch/pkg/utils"
	"github.com/gocraft/dbr"
	"github.com/gocraft/dbr/dialect"
	"github.com/jmoiron/sqlx"
)

const insertQueryChunkSize = 1000

type quarantineStore struct {
	db     core.DB
	logger lumber.Logger
}

// New returns a new QuarantineStore.
func New(db core.DB, logger lumber.Logger) core.QuarantineStore {
	return &quarantineStore{db: db, logger: logger}
}

func (q *quarantineStore) FindActiveInTx(ctx context.Context, tx *sqlx.Tx, orgID string,
	testCaseIDs []string) (map[string]*core.QuarantineDecision, error) {
	active := make(map[string]*core.QuarantineDecision, len(testCaseIDs))
	if len(testCaseIDs) == 0 {
		return active, nil
	}
	query, args, err := sqlx.In(findActiveQuery, orgID, core.QuarantineActive, testCaseIDs)
	if err != nil {
		return nil, errs.SQLError(err)
	}
	rows, err := tx.QueryxContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return nil, errs.SQLError(err)
	}
	defer rows.Close()
	for rows.Next() {
		d := new(core.QuarantineDecision)
		if err := rows.StructScan(d); err != nil {
			return nil, errs.SQLError(err)
		}
		active[d.TestCaseID] = d
	}
	return active, rows.Err()
}

func (q *quarantineStore) CreateInTx(ctx context.Context, tx *sqlx.Tx, decisions []*core.QuarantineDecision) error {
	return utils.Chunk(insertQueryChunkSize, len(decisions), func(start int, end int) error {
		args := []interface{}{}
		placeholderGrps := []string{}
		for _, d := range decisions[start:end] {
			placeholderGrps = append(placeholderGrps, "(?,?,?,?,?,?,?,?,?)")
			args = append(args, d.ID, d.TestCaseID, d.OrgID, d.Repo, d.State, d.Rationale, d.Actor, d.Score, d.ExpiresAt)
		}
		interpolatedQuery, errI := dbr.InterpolateForDialect(fmt.Sprintf(insertQuery, strings.Join(placeholderGrps, ",")),
			args, dialect.MySQL)
		if errI != nil {
			return errs.SQLError(errI)
		}
		if _, err := tx.ExecContext(ctx, interpolatedQuery); err != nil {
			return errs.SQLError(err)
		}
		return nil
	})
}

func (q *quarantineStore) TransitionInTx(ctx context.Context, tx *sqlx.Tx, orgID, id string,
	state core.QuarantineState, rationale, actor string) error {
	res, err := tx.ExecContext(ctx, transitionQuery, state, rationale, actor, orgID, id, core.QuarantineActive)
	if err != nil {
		return errs.SQLError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.SQLError(err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (q *quarantineStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	var expired int64
	return expired, q.db.Execute(func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, expireQuery, core.QuarantineExpired, core.ActorScheduler, core.QuarantineActive, now)
		if err != nil {
			q.logger.Errorf("failed to expire quarantine decisions, error %v", err)
			return errs.SQLError(err)
		}
		expired, err = res.RowsAffected()
		return err
	})
}

const findActiveQuery = `
SELECT
	id,
	test_case_id,
	org_id,
	repo,
	state,
	rationale,
	actor,
	score,
	expires_at,
	created_at,
	updated_at
FROM
	quarantine_decision
WHERE
	org_id = ?
	AND state = ?
	AND test_case_id IN (?)
FOR UPDATE`

const insertQuery = `
INSERT
	INTO
	quarantine_decision(
		id,
		test_case_id,
		org_id,
		repo,
		state,
		rationale,
		actor,
		score,
		expires_at
	)
VALUES %s`

const transitionQuery = `
UPDATE
	quarantine_decision
SET
	state = ?,
	rationale = ?,
	actor = ?,
	updated_at = CURRENT_TIMESTAMP(3)
WHERE
	org_id = ?
	AND id = ?
	AND state = ?`

const expireQuery = `
UPDATE
	quarantine_decision
SET
	state = ?,
	actor = ?,
	updated_at = CURRENT_TIMESTAMP(3)
WHERE
	state = ?
	AND expires_at IS NOT NULL
	AND expires_at <= ?`
