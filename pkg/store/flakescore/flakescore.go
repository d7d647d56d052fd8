package flakescore

import (
	"context"
	"fmt"
	"strings"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/LambdaTest/flakewatch/pkg/utils"
	"github.com/gocraft/dbr"
	"github.com/gocraft/dbr/dialect"
	"github.com/jmoiron/sqlx"
)

const insertQueryChunkSize = 1000

type flakeScoreStore struct {
	db     core.DB
	logger lumber.Logger
}

// New returns a new FlakeScoreStore.
func New(db core.DB, logger lumber.Logger) core.FlakeScoreStore {
	return &flakeScoreStore{db: db, logger: logger}
}

func (f *flakeScoreStore) UpsertInTx(ctx context.Context, tx *sqlx.Tx, scores []*core.FlakeScore) error {
	return utils.Chunk(insertQueryChunkSize, len(scores), func(start int, end int) error {
		args := []interface{}{}
		placeholderGrps := []string{}
		for _, s := range scores[start:end] {
			placeholderGrps = append(placeholderGrps, "(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)")
			args = append(args, s.TestCaseID, s.OrgID, s.Repo, s.Status, s.Score, s.Confidence,
				s.FailureRate, s.Inconsistency, s.Recency, s.BranchDiversity,
				s.Pattern, s.Severity, s.Recommendation, s.RecommendedAction,
				s.TotalRuns, s.Failures, s.RecentFailures, s.UpdatedAt)
		}
		interpolatedQuery, errI := dbr.InterpolateForDialect(fmt.Sprintf(upsertQuery, strings.Join(placeholderGrps, ",")),
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

func (f *flakeScoreStore) FindByTestCaseIDs(ctx context.Context, orgID string, ids []string) (map[string]*core.FlakeScore, error) {
	scores := make(map[string]*core.FlakeScore, len(ids))
	if len(ids) == 0 {
		return scores, nil
	}
	return scores, f.db.Execute(func(db *sqlx.DB) error {
		query, args, err := sqlx.In(findByIDsQuery, orgID, ids)
		if err != nil {
			return errs.SQLError(err)
		}
		rows, err := db.QueryxContext(ctx, db.Rebind(query), args...)
		if err != nil {
			return errs.SQLError(err)
		}
		defer rows.Close()
		for rows.Next() {
			s := new(core.FlakeScore)
			if err := rows.StructScan(s); err != nil {
				return errs.SQLError(err)
			}
			scores[s.TestCaseID] = s
		}
		return rows.Err()
	})
}

const upsertQuery = `
INSERT
	INTO
	flake_score(
		test_case_id,
		org_id,
		repo,
		status,
		score,
		confidence,
		failure_rate,
		inconsistency,
		recency,
		branch_diversity,
		pattern,
		severity,
		recommendation,
		recommended_action,
		total_runs,
		failures,
		recent_failures,
		updated_at
	)
VALUES %s
ON DUPLICATE KEY UPDATE
	status = VALUES(status),
	score = VALUES(score),
	confidence = VALUES(confidence),
	failure_rate = VALUES(failure_rate),
	inconsistency = VALUES(inconsistency),
	recency = VALUES(recency),
	branch_diversity = VALUES(branch_diversity),
	pattern = VALUES(pattern),
	severity = VALUES(severity),
	recommendation = VALUES(recommendation),
	recommended_action = VALUES(recommended_action),
	total_runs = VALUES(total_runs),
	failures = VALUES(failures),
	recent_failures = VALUES(recent_failures),
	updated_at = VALUES(updated_at)`

const findByIDsQuery = `
SELECT
	test_case_id,
	org_id,
	repo,
	status,
	score,
	confidence,
	failure_rate,
	inconsistency,
	recency,
	branch_diversity,
	pattern,
	severity,
	recommendation,
	recommended_action,
	total_runs,
	failures,
	recent_failures,
	updated_at
FROM
	flake_score
WHERE
	org_id = ?
	AND test_case_id IN (?)`
