package core

import (
	"context"
	"database/sql/driver"
	"time"

	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/guregu/null.v4/zero"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JobKind distinguishes ingestion and analysis work.
type JobKind string

// JobKind values.
const (
	JobIngestion JobKind = "ingestion"
	JobAnalysis  JobKind = "analysis"
)

// Valid reports whether the kind is known.
func (k JobKind) Valid() bool {
	return k == JobIngestion || k == JobAnalysis
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

// JobStatus values.
const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobPhase names the stage a job is currently in.
type JobPhase string

// JobPhase values.
const (
	PhaseQueued     JobPhase = "queued"
	PhaseListing    JobPhase = "listing_artifacts"
	PhaseDownload   JobPhase = "downloading"
	PhaseParsing    JobPhase = "parsing"
	PhaseWriting    JobPhase = "writing_occurrences"
	PhaseScoring    JobPhase = "scoring"
	PhaseDeciding   JobPhase = "deciding"
	PhasePublishing JobPhase = "publishing"
	PhaseDone       JobPhase = "done"
)

// JobError is a machine readable error entry accumulated on a job.
type JobError struct {
	Code     errs.Code `json:"code"`
	Message  string    `json:"message"`
	Artifact string    `json:"artifact,omitempty"`
	Stage    string    `json:"stage,omitempty"`
	Attempt  int       `json:"attempt,omitempty"`
}

// JobErrors is stored as a json column.
type JobErrors []JobError

// Value implements driver.Valuer.
func (e JobErrors) Value() (driver.Value, error) {
	if e == nil {
		return "[]", nil
	}
	return json.MarshalToString(e)
}

// Scan implements sql.Scanner.
func (e *JobErrors) Scan(src interface{}) error {
	return scanJSON(src, e)
}

// StringList is stored as a json column.
type StringList []string

// Value implements driver.Valuer.
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.MarshalToString(s)
}

// Scan implements sql.Scanner.
func (s *StringList) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// JobSummary is the result summary of a terminal job.
type JobSummary struct {
	ArtifactsTotal     int            `json:"artifacts_total"`
	ArtifactsProcessed int            `json:"artifacts_processed"`
	ArtifactsFailed    int            `json:"artifacts_failed"`
	ReportsParsed      int            `json:"reports_parsed"`
	TotalTests         int            `json:"total_tests"`
	Passed             int            `json:"passed"`
	Failed             int            `json:"failed"`
	Errored            int            `json:"errored"`
	Skipped            int            `json:"skipped"`
	OccurrencesWritten int64          `json:"occurrences_written"`
	TestsScored        int            `json:"tests_scored"`
	InsufficientData   int            `json:"insufficient_data"`
	Actions            map[Action]int `json:"actions,omitempty"`
	QuarantinesCreated int            `json:"quarantines_created"`
	QuarantinesRevoked int            `json:"quarantines_reverted"`
	SignatureClusters  int            `json:"signature_clusters"`
	Warnings           []ReportIssue  `json:"warnings,omitempty"`
}

// Value implements driver.Valuer.
func (s *JobSummary) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.MarshalToString(s)
}

// Scan implements sql.Scanner.
func (s *JobSummary) Scan(src interface{}) error {
	return scanJSON(src, s)
}

func scanJSON(src, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.UnmarshalFromString(v, dst)
	default:
		return errs.ErrTypeAssertionFailed
	}
}

// Job is the durable unit of work binding a CI run to a processing lifecycle.
type Job struct {
	ID             string      `db:"id" json:"id"`
	OrgID          string      `db:"org_id" json:"org_id"`
	Owner          string      `db:"repo_owner" json:"repo_owner"`
	RepoName       string      `db:"repo_name" json:"repo_name"`
	RunID          string      `db:"run_id" json:"run_id"`
	Branch         string      `db:"branch" json:"branch"`
	Ref            string      `db:"ref" json:"ref"`
	Kind           JobKind     `db:"kind" json:"kind"`
	Status         JobStatus   `db:"status" json:"status"`
	Priority       int         `db:"priority" json:"priority"`
	CorrelationID  string      `db:"correlation_id" json:"correlation_id"`
	DedupeKey      string      `db:"dedupe_key" json:"-"`
	ActiveKey      zero.String `db:"active_key" json:"-"`
	ArtifactFilter StringList  `db:"artifact_filter" json:"artifact_filter"`
	Labels         StringList  `db:"labels" json:"labels"`
	Team           zero.String `db:"team" json:"team,omitempty"`
	Attempts       int         `db:"attempts" json:"attempts"`
	Phase          JobPhase    `db:"phase" json:"phase"`
	Processed      int         `db:"processed" json:"processed"`
	Total          int         `db:"total" json:"total"`
	Summary        *JobSummary `db:"summary" json:"summary,omitempty"`
	Errors         JobErrors   `db:"errors" json:"errors"`
	Created        time.Time   `db:"created_at" json:"created_at"`
	Updated        time.Time   `db:"updated_at" json:"updated_at"`
	StartedAt      zero.Time   `db:"started_at" json:"started_at"`
	FinishedAt     zero.Time   `db:"finished_at" json:"finished_at"`
}

// Repository returns the tenant scoped repository of the job.
func (j *Job) Repository() Repository {
	return Repository{OrgID: j.OrgID, Owner: j.Owner, Name: j.RepoName}
}

// JobProgress is the observable progress of a running job.
type JobProgress struct {
	Phase     JobPhase  `json:"phase"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Percentage returns processed/total in [0,100].
func (p *JobProgress) Percentage() float64 {
	if p == nil || p.Total <= 0 {
		return 0
	}
	pct := float64(p.Processed) / float64(p.Total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// JobPayload is the message put on the durable queue.
type JobPayload struct {
	JobID         string  `json:"job_id"`
	OrgID         string  `json:"org_id"`
	Kind          JobKind `json:"kind"`
	CorrelationID string  `json:"correlation_id"`
}

// SubmitRequest is the job submission contract.
type SubmitRequest struct {
	Repo           Repository `json:"repo"`
	RunID          string     `json:"run_id"`
	Branch         string     `json:"branch"`
	Ref            string     `json:"ref"`
	Kind           JobKind    `json:"kind"`
	ArtifactFilter []string   `json:"artifact_filter,omitempty"`
	Labels         []string   `json:"labels,omitempty"`
	Team           string     `json:"team,omitempty"`
	Priority       int        `json:"priority"`
	CorrelationID  string     `json:"correlation_id,omitempty"`
}

// SubmitResponse is returned by job submission.
type SubmitResponse struct {
	JobID               string    `json:"job_id"`
	Status              JobStatus `json:"status"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
	// Deduplicated is true when an active job for the same run was returned.
	Deduplicated bool `json:"deduplicated"`
}

// JobStatusResponse is returned by status polling.
type JobStatusResponse struct {
	JobID         string      `json:"job_id"`
	Kind          JobKind     `json:"kind"`
	Status        JobStatus   `json:"status"`
	Phase         JobPhase    `json:"phase"`
	Processed     int         `json:"processed"`
	Total         int         `json:"total"`
	Percentage    float64     `json:"percentage"`
	Attempts      int         `json:"attempts"`
	CorrelationID string      `json:"correlation_id"`
	Summary       *JobSummary `json:"summary,omitempty"`
	Errors        JobErrors   `json:"errors,omitempty"`
}

// JobStore defines datastore operations for the job table.
type JobStore interface {
	// CreateIfNotActive inserts the job unless an active job with the same dedupe key exists,
	// in which case the existing job is returned with created=false.
	CreateIfNotActive(ctx context.Context, job *Job) (stored *Job, created bool, err error)
	// Find returns the job of an org.
	Find(ctx context.Context, orgID, jobID string) (*Job, error)
	// Claim moves a queued job to processing, returns false if another worker owns it.
	Claim(ctx context.Context, orgID, jobID string) (bool, error)
	// IncrementAttempts records a new processing attempt.
	IncrementAttempts(ctx context.Context, orgID, jobID string) error
	// UpdateProgress persists the current phase and counters.
	UpdateProgress(ctx context.Context, orgID, jobID string, progress *JobProgress) error
	// Finish moves a job to a terminal status and releases its active key.
	Finish(ctx context.Context, orgID, jobID string, status JobStatus, summary *JobSummary, jobErrors JobErrors) error
	// CountQueued returns the number of queued jobs ahead in the queue.
	CountQueued(ctx context.Context) (int, error)
	// FailStale marks queued or processing jobs not updated since the given time as failed.
	FailStale(ctx context.Context, updatedBefore time.Time) (int64, error)
}

// JobHandler executes one attempt of a job.
type JobHandler interface {
	// Handle runs the job, returns the summary and the non fatal errors accumulated.
	Handle(ctx context.Context, job *Job, reporter ProgressReporter) (*JobSummary, JobErrors, error)
}

// ProgressReporter receives progress updates from a running handler.
type ProgressReporter interface {
	Report(ctx context.Context, phase JobPhase, processed, total int)
}

// ProgressTracker stores live progress of running jobs.
type ProgressTracker interface {
	Set(ctx context.Context, jobID string, progress *JobProgress) error
	Get(ctx context.Context, jobID string) (*JobProgress, error)
	Delete(ctx context.Context, jobID string) error
}

// JobSubmitter submits jobs, implemented by the job manager.
type JobSubmitter interface {
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error)
}

// JobDispatcher hands a dequeued payload to the worker pool, blocking while the pool is full.
type JobDispatcher interface {
	Dispatch(ctx context.Context, payload *JobPayload)
}

// JobService is the job submission and status contract exposed to callers.
type JobService interface {
	JobSubmitter
	Status(ctx context.Context, orgID, jobID string) (*JobStatusResponse, error)
	Cancel(ctx context.Context, orgID, jobID string) error
}
