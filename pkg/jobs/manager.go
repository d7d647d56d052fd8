// Package jobs submits, executes and reports idempotent ingestion and analysis jobs.
package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/LambdaTest/flakewatch/config"
	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/LambdaTest/flakewatch/pkg/utils"
	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4/zero"
)

var jobNamespace = uuid.MustParse("0d3c2b10-8c55-4a8e-9d67-2f5e8a4b7c91")

// DedupeKey is the deterministic identity of the work for one run.
func DedupeKey(kind core.JobKind, repo core.Repository, runID string) string {
	return utils.DeterministicID(jobNamespace, string(kind), repo.OrgID, repo.Owner, repo.Name, runID)
}

// JobID derives the job id from the dedupe key and the submission's correlation id, so retried
// submissions of one trigger map to one job.
func JobID(dedupeKey, correlationID string) string {
	return utils.DeterministicID(jobNamespace, dedupeKey, correlationID)
}

// Manager implements the submission and status contract.
type Manager struct {
	store     core.JobStore
	producers map[core.JobKind]core.QueueProducer
	tracker   core.ProgressTracker
	estimate  time.Duration
	logger    lumber.Logger
	now       func() time.Time
}

// NewManager returns a Manager enqueueing payloads on the producer of their kind.
func NewManager(cfg *config.JobsConfig,
	store core.JobStore,
	producers map[core.JobKind]core.QueueProducer,
	tracker core.ProgressTracker,
	logger lumber.Logger) *Manager {
	return &Manager{
		store:     store,
		producers: producers,
		tracker:   tracker,
		estimate:  cfg.EstimatedDuration,
		logger:    logger,
		now:       time.Now,
	}
}

func validate(req *core.SubmitRequest) error {
	if err := req.Repo.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(req.RunID) == "" {
		return errs.MissingInReqErr("run_id")
	}
	if !req.Kind.Valid() {
		return errs.ErrInvalidJobKind
	}
	return nil
}

// Submit creates and enqueues a job unless one is already active for the same run.
func (m *Manager) Submit(ctx context.Context, req *core.SubmitRequest) (*core.SubmitResponse, error) {
	if req.Kind == "" {
		req.Kind = core.JobIngestion
	}
	if err := validate(req); err != nil {
		return nil, err
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = utils.GenerateUUID()
	}
	dedupeKey := DedupeKey(req.Kind, req.Repo, req.RunID)
	now := m.now()
	job := &core.Job{
		ID:             JobID(dedupeKey, correlationID),
		OrgID:          req.Repo.OrgID,
		Owner:          req.Repo.Owner,
		RepoName:       req.Repo.Name,
		RunID:          req.RunID,
		Branch:         req.Branch,
		Ref:            req.Ref,
		Kind:           req.Kind,
		Status:         core.JobQueued,
		Priority:       req.Priority,
		CorrelationID:  correlationID,
		DedupeKey:      dedupeKey,
		ActiveKey:      zero.StringFrom(dedupeKey),
		ArtifactFilter: req.ArtifactFilter,
		Labels:         req.Labels,
		Team:           zero.StringFrom(req.Team),
		Phase:          core.PhaseQueued,
		Errors:         core.JobErrors{},
		Created:        now,
		Updated:        now,
	}
	logger := m.logger.WithFields(lumber.Fields{
		"correlation_id": correlationID, "org_id": job.OrgID, "repo": req.Repo.FullName(), "run_id": req.RunID,
	})
	stored, created, err := m.store.CreateIfNotActive(ctx, job)
	if err != nil {
		logger.Errorf("failed to create %s job, error: %v", req.Kind, err)
		return nil, err
	}
	if !created {
		logger.Infof("run already has active job %s, returning it", stored.ID)
		return m.response(ctx, stored, true), nil
	}

	producer, ok := m.producers[job.Kind]
	if !ok {
		return nil, errs.ErrInvalidJobKind
	}
	payload := &core.JobPayload{JobID: job.ID, OrgID: job.OrgID, Kind: job.Kind, CorrelationID: correlationID}
	if err := producer.Enqueue(payload); err != nil {
		logger.Errorf("failed to enqueue job %s, error: %v", job.ID, err)
		jobErrs := core.JobErrors{{Code: errs.CodeOf(err), Message: "failed to enqueue job: " + err.Error()}}
		// free the run for the next submission
		if ferr := m.store.Finish(ctx, job.OrgID, job.ID, core.JobFailed, nil, jobErrs); ferr != nil {
			logger.Errorf("failed to release job %s, error: %v", job.ID, ferr)
		}
		return nil, err
	}
	logger.Infof("%s job %s queued", job.Kind, job.ID)
	return m.response(ctx, stored, false), nil
}

func (m *Manager) response(ctx context.Context, job *core.Job, deduplicated bool) *core.SubmitResponse {
	return &core.SubmitResponse{
		JobID:               job.ID,
		Status:              job.Status,
		EstimatedCompletion: m.estimateCompletion(ctx, job),
		Deduplicated:        deduplicated,
	}
}

// estimateCompletion assumes queued jobs drain one estimated duration each.
func (m *Manager) estimateCompletion(ctx context.Context, job *core.Job) time.Time {
	now := m.now()
	if job.Status.Terminal() {
		return job.FinishedAt.Time
	}
	ahead := 1
	if job.Status == core.JobQueued {
		queued, err := m.store.CountQueued(ctx)
		if err != nil {
			m.logger.Warnf("failed to count queued jobs, error: %v", err)
		}
		ahead = utils.Max(queued, 1)
	}
	return now.Add(time.Duration(ahead) * m.estimate)
}

// Status returns the job status, overlaying live progress of running jobs.
func (m *Manager) Status(ctx context.Context, orgID, jobID string) (*core.JobStatusResponse, error) {
	job, err := m.store.Find(ctx, orgID, jobID)
	if err != nil {
		return nil, err
	}
	progress := &core.JobProgress{Phase: job.Phase, Processed: job.Processed, Total: job.Total}
	if !job.Status.Terminal() {
		live, err := m.tracker.Get(ctx, job.ID)
		switch {
		case err == nil:
			progress = live
		case !errors.Is(err, errs.ErrRedisKeyNotFound):
			m.logger.Warnf("failed to read live progress of job %s, error: %v", job.ID, err)
		}
	}
	return &core.JobStatusResponse{
		JobID:         job.ID,
		Kind:          job.Kind,
		Status:        job.Status,
		Phase:         progress.Phase,
		Processed:     progress.Processed,
		Total:         progress.Total,
		Percentage:    percentage(job, progress),
		Attempts:      job.Attempts,
		CorrelationID: job.CorrelationID,
		Summary:       job.Summary,
		Errors:        job.Errors,
	}, nil
}

func percentage(job *core.Job, progress *core.JobProgress) float64 {
	if job.Status == core.JobCompleted {
		return 100
	}
	return progress.Percentage()
}

// Cancel moves a queued or processing job to cancelled.
func (m *Manager) Cancel(ctx context.Context, orgID, jobID string) error {
	job, err := m.store.Find(ctx, orgID, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return errs.ErrJobFinished
	}
	jobErrs := append(job.Errors, core.JobError{Code: errs.CodeCancelled, Message: "job cancelled"})
	if err := m.store.Finish(ctx, orgID, jobID, core.JobCancelled, job.Summary, jobErrs); err != nil {
		return err
	}
	if err := m.tracker.Delete(ctx, jobID); err != nil {
		m.logger.Warnf("failed to drop live progress of job %s, error: %v", jobID, err)
	}
	m.logger.Infof("job %s cancelled", jobID)
	return nil
}
