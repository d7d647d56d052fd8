package occurrence

import (
	"context"
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

const (
	insertQueryChunkSize = 1000
	// findQueryChunkSize bounds the test ids of one history query.
	findQueryChunkSize = 500
	maxClusters        = 100
)

type occurrenceStore struct {
	db     core.DB
	logger lumber.Logger
}

// New returns a new OccurrenceStore.
func New(db core.DB, logger lumber.Logger) core.OccurrenceStore {
	return &occurrenceStore{db: db, logger: logger}
}

func (o *occurrenceStore) CreateInTx(ctx context.Context, tx *sqlx.Tx, orgID string,
	occurrences []*core.Occurrence) (int64, error) {
	var inserted int64
	err := utils.Chunk(insertQueryChunkSize, len(occurrences), func(start int, end int) error {
		args := []interface{}{}
		placeholderGrps := []string{}
		for _, occ := range occurrences[start:end] {
			if occ.OrgID != orgID {
				return errs.ErrMissingTenant
			}
			placeholderGrps = append(placeholderGrps, "(?,?,?,?,?,?,?,?,?,?,?,?,?)")
			args = append(args, occ.ID, occ.TestCaseID, occ.OrgID, occ.Repo, occ.RunID, occ.Attempt, occ.JobID,
				occ.Branch, occ.Status, occ.DurationMS, occ.ExecutedAt, occ.FailureMessage, occ.FailureSignature)
		}
		interpolatedQuery, errI := dbr.InterpolateForDialect(fmt.Sprintf(insertQuery, strings.Join(placeholderGrps, ",")),
			args, dialect.MySQL)
		if errI != nil {
			return errs.SQLError(errI)
		}
		res, err := tx.ExecContext(ctx, interpolatedQuery)
		if err != nil {
			return errs.SQLError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errs.SQLError(err)
		}
		inserted += n
		return nil
	})
	return inserted, err
}

func (o *occurrenceStore) FindHistory(ctx context.Context, orgID string, testCaseIDs []string,
	since time.Time, window int) (map[string][]*core.Occurrence, error) {
	history := make(map[string][]*core.Occurrence, len(testCaseIDs))
	return history, o.db.Execute(func(db *sqlx.DB) error {
		return utils.Chunk(findQueryChunkSize, len(testCaseIDs), func(start int, end int) error {
			query, args, err := sqlx.In(findHistoryQuery, orgID, testCaseIDs[start:end], since, window)
			if err != nil {
				return errs.SQLError(err)
			}
			rows, err := db.QueryxContext(ctx, db.Rebind(query), args...)
			if err != nil {
				o.logger.Errorf("failed to find history for org %s, error %v", orgID, err)
				return errs.SQLError(err)
			}
			defer rows.Close()
			for rows.Next() {
				occ := new(core.Occurrence)
				if err := rows.StructScan(occ); err != nil {
					return errs.SQLError(err)
				}
				history[occ.TestCaseID] = append(history[occ.TestCaseID], occ)
			}
			return rows.Err()
		})
	})
}

func (o *occurrenceStore) FindTestCaseIDsByRun(ctx context.Context, orgID, repo, runID string) ([]string, error) {
	ids := make([]string, 0)
	return ids, o.db.Execute(func(db *sqlx.DB) error {
		if err := db.SelectContext(ctx, &ids, findByRunQuery, orgID, repo, runID); err != nil {
			return errs.SQLError(err)
		}
		return nil
	})
}

func (o *occurrenceStore) FindSignatureClusters(ctx context.Context, orgID, repo string, since time.Time,
	minTests int) ([]*core.SignatureCluster, error) {
	clusters := make([]*core.SignatureCluster, 0)
	return clusters, o.db.Execute(func(db *sqlx.DB) error {
		if err := db.SelectContext(ctx, &clusters, signatureClustersQuery, orgID, repo, since, minTests, maxClusters); err != nil {
			o.logger.Errorf("failed to find signature clusters for %s, error %v", repo, err)
			return errs.SQLError(err)
		}
		return nil
	})
}

// rows already recorded for (test_case_id, run_id, attempt) are ignored.
const insertQuery = `
INSERT IGNORE
	INTO
	occurrence(
		id,
		test_case_id,
		org_id,
		repo,
		run_id,
		attempt,
		job_id,
		branch,
		status,
		duration_ms,
		executed_at,
		failure_message,
		failure_signature
	)
VALUES %s`

const findHistoryQuery = `
WITH ranked AS (
	SELECT
		o.*,
		ROW_NUMBER() OVER (PARTITION BY o.test_case_id ORDER BY o.executed_at DESC, o.attempt DESC) rn
	FROM
		occurrence o
	WHERE
		o.org_id = ?
		AND o.test_case_id IN (?)
		AND o.executed_at >= ?
)
SELECT
	id,
	test_case_id,
	org_id,
	repo,
	run_id,
	attempt,
	job_id,
	branch,
	status,
	duration_ms,
	executed_at,
	failure_message,
	failure_signature,
	created_at
FROM
	ranked
WHERE
	rn <= ?
ORDER BY
	test_case_id,
	rn`

const findByRunQuery = `
SELECT
	DISTINCT test_case_id
FROM
	occurrence
WHERE
	org_id = ?
	AND repo = ?
	AND run_id = ?`

const signatureClustersQuery = `
SELECT
	failure_signature,
	COUNT(DISTINCT test_case_id) test_count,
	COUNT(*) occurrences,
	COALESCE(LEFT(MAX(failure_message), 512), '') sample
FROM
	occurrence
WHERE
	org_id = ?
	AND repo = ?
	AND executed_at >= ?
	AND failure_signature IS NOT NULL
GROUP BY
	failure_signature
HAVING
	test_count >= ?
ORDER BY
	test_count DESC,
	occurrences DESC
LIMIT ?`
