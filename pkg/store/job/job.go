package job

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/jmoiron/sqlx"
)

const (
	maxRetries = 3
	delay      = 200 * time.Millisecond
	maxJitter  = 100 * time.Millisecond
	errMsg     = "failed to perform job transaction"
)

type jobStore struct {
	db     core.DB
	logger lumber.Logger
}

// New returns a new JobStore.
func New(db core.DB, logger lumber.Logger) core.JobStore {
	return &jobStore{db: db, logger: logger}
}

func (j *jobStore) CreateIfNotActive(ctx context.Context, job *core.Job) (stored *core.Job, created bool, err error) {
	err = j.db.ExecuteTransactionWithRetry(ctx, maxRetries, delay, maxJitter, errMsg, func(tx *sqlx.Tx) error {
		existing := new(core.Job)
		err := tx.GetContext(ctx, existing, findByActiveKeyQuery+" FOR UPDATE", job.ActiveKey)
		if err == nil {
			stored, created = existing, false
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return errs.SQLError(err)
		}
		if _, err := tx.NamedExecContext(ctx, insertQuery, job); err != nil {
			return errs.SQLError(err)
		}
		stored, created = job, true
		return nil
	})
	if errors.Is(err, errs.ErrDupeKey) {
		// either a concurrent submission won the active key or the same job id already finished
		existing := new(core.Job)
		if ferr := j.db.Execute(func(db *sqlx.DB) error {
			ferr := db.GetContext(ctx, existing, findByActiveKeyQuery, job.ActiveKey)
			if errors.Is(ferr, sql.ErrNoRows) {
				ferr = db.GetContext(ctx, existing, findQuery, job.OrgID, job.ID)
			}
			return ferr
		}); ferr != nil {
			if errors.Is(ferr, sql.ErrNoRows) {
				return nil, false, errs.ErrJobNotFound
			}
			return nil, false, errs.SQLError(ferr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (j *jobStore) Find(ctx context.Context, orgID, jobID string) (*core.Job, error) {
	job := new(core.Job)
	return job, j.db.Execute(func(db *sqlx.DB) error {
		if err := db.GetContext(ctx, job, findQuery, orgID, jobID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errs.ErrJobNotFound
			}
			return errs.SQLError(err)
		}
		return nil
	})
}

func (j *jobStore) Claim(ctx context.Context, orgID, jobID string) (bool, error) {
	var claimed bool
	return claimed, j.db.Execute(func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, claimQuery, core.JobProcessing, orgID, jobID, core.JobQueued)
		if err != nil {
			return errs.SQLError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errs.SQLError(err)
		}
		claimed = n == 1
		return nil
	})
}

func (j *jobStore) IncrementAttempts(ctx context.Context, orgID, jobID string) error {
	return j.exec(ctx, incrementAttemptsQuery, orgID, jobID)
}

func (j *jobStore) UpdateProgress(ctx context.Context, orgID, jobID string, progress *core.JobProgress) error {
	return j.exec(ctx, updateProgressQuery, progress.Phase, progress.Processed, progress.Total, orgID, jobID)
}

func (j *jobStore) Finish(ctx context.Context, orgID, jobID string, status core.JobStatus,
	summary *core.JobSummary, jobErrors core.JobErrors) error {
	return j.db.Execute(func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, finishQuery, status, core.PhaseDone, summary, jobErrors, orgID, jobID,
			core.JobQueued, core.JobProcessing)
		if err != nil {
			return errs.SQLError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errs.SQLError(err)
		}
		if n == 0 {
			return errs.ErrJobFinished
		}
		return nil
	})
}

func (j *jobStore) CountQueued(ctx context.Context) (int, error) {
	var count int
	return count, j.db.Execute(func(db *sqlx.DB) error {
		return errs.SQLError(db.GetContext(ctx, &count, countQueuedQuery, core.JobQueued))
	})
}

func (j *jobStore) FailStale(ctx context.Context, updatedBefore time.Time) (int64, error) {
	var failed int64
	staleErrors := core.JobErrors{{Code: errs.CodeTimeout, Message: "job was not processed before its deadline"}}
	return failed, j.db.Execute(func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, failStaleQuery, core.JobFailed, core.PhaseDone, staleErrors,
			core.JobQueued, core.JobProcessing, updatedBefore)
		if err != nil {
			j.logger.Errorf("failed to fail stale jobs, error %v", err)
			return errs.SQLError(err)
		}
		failed, err = res.RowsAffected()
		return err
	})
}

func (j *jobStore) exec(ctx context.Context, query string, args ...interface{}) error {
	return j.db.Execute(func(db *sqlx.DB) error {
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return errs.SQLError(err)
		}
		return nil
	})
}

const columns = `
	id,
	org_id,
	repo_owner,
	repo_name,
	run_id,
	branch,
	ref,
	kind,
	status,
	priority,
	correlation_id,
	dedupe_key,
	active_key,
	artifact_filter,
	labels,
	team,
	attempts,
	phase,
	processed,
	total,
	summary,
	errors,
	created_at,
	updated_at,
	started_at,
	finished_at`

const insertQuery = `
INSERT
	INTO
	job(
		id,
		org_id,
		repo_owner,
		repo_name,
		run_id,
		branch,
		ref,
		kind,
		status,
		priority,
		correlation_id,
		dedupe_key,
		active_key,
		artifact_filter,
		labels,
		team,
		phase,
		errors,
		created_at,
		updated_at
	)
VALUES (
	:id,
	:org_id,
	:repo_owner,
	:repo_name,
	:run_id,
	:branch,
	:ref,
	:kind,
	:status,
	:priority,
	:correlation_id,
	:dedupe_key,
	:active_key,
	:artifact_filter,
	:labels,
	:team,
	:phase,
	:errors,
	:created_at,
	:updated_at
)`

const findByActiveKeyQuery = `SELECT` + columns + `
FROM
	job
WHERE
	active_key = ?`

const findQuery = `SELECT` + columns + `
FROM
	job
WHERE
	org_id = ?
	AND id = ?`

const claimQuery = `
UPDATE
	job
SET
	status = ?,
	started_at = COALESCE(started_at, CURRENT_TIMESTAMP(3)),
	updated_at = CURRENT_TIMESTAMP(3)
WHERE
	org_id = ?
	AND id = ?
	AND status = ?`

const incrementAttemptsQuery = `
UPDATE
	job
SET
	attempts = attempts + 1,
	updated_at = CURRENT_TIMESTAMP(3)
WHERE
	org_id = ?
	AND id = ?`

const updateProgressQuery = `
UPDATE
	job
SET
	phase = ?,
	processed = ?,
	total = ?,
	updated_at = CURRENT_TIMESTAMP(3)
WHERE
	org_id = ?
	AND id = ?`

// releasing active_key lets the run be submitted again.
const finishQuery = `
UPDATE
	job
SET
	status = ?,
	phase = ?,
	summary = ?,
	errors = ?,
	active_key = NULL,
	finished_at = CURRENT_TIMESTAMP(3),
	updated_at = CURRENT_TIMESTAMP(3)
WHERE
	org_id = ?
	AND id = ?
	AND status IN (?, ?)`

const countQueuedQuery = `
SELECT
	COUNT(*)
FROM
	job
WHERE
	status = ?`

const failStaleQuery = `
UPDATE
	job
SET
	status = ?,
	phase = ?,
	errors = ?,
	active_key = NULL,
	finished_at = CURRENT_TIMESTAMP(3),
	updated_at = CURRENT_TIMESTAMP(3)
WHERE
	status IN (?, ?)
	AND updated_at < ?`
