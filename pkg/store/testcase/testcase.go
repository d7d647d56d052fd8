package testcase

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

type testCaseStore struct {
	db     core.DB
	logger lumber.Logger
}

// New returns a new TestCaseStore.
func New(db core.DB, logger lumber.Logger) core.TestCaseStore {
	return &testCaseStore{db: db, logger: logger}
}

func (t *testCaseStore) UpsertInTx(ctx context.Context, tx *sqlx.Tx, orgID string, testCases []*core.TestCase) error {
	return utils.Chunk(insertQueryChunkSize, len(testCases), func(start int, end int) error {
		args := []interface{}{}
		placeholderGrps := []string{}
		for _, tc := range testCases[start:end] {
			if tc.OrgID != orgID {
				return errs.ErrMissingTenant
			}
			placeholderGrps = append(placeholderGrps, "(?,?,?,?,?,?,?,?)")
			args = append(args, tc.ID, tc.OrgID, tc.Repo, tc.SuiteName, tc.ClassName, tc.Name, tc.Team, tc.FilePath)
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

func (t *testCaseStore) FindByIDs(ctx context.Context, orgID string, ids []string) ([]*core.TestCase, error) {
	testCases := make([]*core.TestCase, 0, len(ids))
	if len(ids) == 0 {
		return testCases, nil
	}
	return testCases, t.db.Execute(func(db *sqlx.DB) error {
		query, args, err := sqlx.In(findByIDsQuery, orgID, ids)
		if err != nil {
			return errs.SQLError(err)
		}
		if err := db.SelectContext(ctx, &testCases, db.Rebind(query), args...); err != nil {
			t.logger.Errorf("failed to find test cases for org %s, error %v", orgID, err)
			return errs.SQLError(err)
		}
		return nil
	})
}

// metadata is only overwritten when the new observation carries it.
const upsertQuery = `
INSERT
	INTO
	test_case(
		id,
		org_id,
		repo,
		suite_name,
		class_name,
		name,
		team,
		file_path
	)
VALUES %s
ON DUPLICATE KEY UPDATE
	team = COALESCE(VALUES(team), team),
	file_path = COALESCE(VALUES(file_path), file_path),
	updated_at = CURRENT_TIMESTAMP(3)`

const findByIDsQuery = `
SELECT
	id,
	org_id,
	repo,
	suite_name,
	class_name,
	name,
	team,
	file_path,
	created_at,
	updated_at
FROM
	test_case
WHERE
	org_id = ?
	AND id IN (?)`
