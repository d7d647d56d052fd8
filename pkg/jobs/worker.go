package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LambdaTest/flakewatch/config"
	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/semaphore"
)

const finishTimeout = 30 * time.Second

// Worker executes dequeued jobs on a bounded pool.
type Worker struct {
	cfg       *config.JobsConfig
	store     core.JobStore
	tracker   core.ProgressTracker
	submitter core.JobSubmitter
	handlers  map[core.JobKind]core.JobHandler
	logger    lumber.Logger
	sem       *semaphore.Weighted
	wg        sync.WaitGroup
	jobCtx    context.Context
	now       func() time.Time
}

// NewWorker returns a Worker running at most cfg.Workers jobs at a time. Completed ingestion
// jobs submit the analysis of their run through submitter when it is not nil.
func NewWorker(cfg *config.JobsConfig,
	store core.JobStore,
	tracker core.ProgressTracker,
	submitter core.JobSubmitter,
	handlers map[core.JobKind]core.JobHandler,
	logger lumber.Logger) *Worker {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Worker{
		cfg:       cfg,
		store:     store,
		tracker:   tracker,
		submitter: submitter,
		handlers:  handlers,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(workers)),
		jobCtx:    context.Background(),
		now:       time.Now,
	}
}

// SetJobContext sets the context jobs run under, so they outlive the consumer that dequeued them.
// It must be called before the first Dispatch.
func (w *Worker) SetJobContext(ctx context.Context) {
	w.jobCtx = ctx
}

// Dispatch runs the job in the background, blocking while the pool is full. ctx only bounds
// the wait for a free worker.
func (w *Worker) Dispatch(ctx context.Context, payload *core.JobPayload) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		w.logger.Errorf("failed to acquire worker for job %s, error: %v", payload.JobID, err)
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		w.process(w.jobCtx, payload)
	}()
}

// Wait blocks until in-flight jobs are done or the timeout elapses.
func (w *Worker) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errs.ErrTimeoutExceeded
	}
}

func (w *Worker) process(ctx context.Context, payload *core.JobPayload) {
	logger := w.logger.WithFields(lumber.Fields{
		"job_id": payload.JobID, "org_id": payload.OrgID, "kind": payload.Kind, "correlation_id": payload.CorrelationID,
	})
	var job *core.Job
	err := w.retryStore(ctx, logger, func() (err error) {
		job, err = w.store.Find(ctx, payload.OrgID, payload.JobID)
		return err
	})
	if err != nil {
		if errors.Is(err, errs.ErrJobNotFound) {
			logger.Errorf("job not found, skipping")
			return
		}
		logger.Errorf("failed to find job, error: %v", err)
		w.abandon(logger, payload.OrgID, payload.JobID, err)
		return
	}
	if job.Status.Terminal() {
		logger.Infof("job already %s, skipping", job.Status)
		return
	}
	var claimed bool
	err = w.retryStore(ctx, logger, func() (err error) {
		claimed, err = w.store.Claim(ctx, job.OrgID, job.ID)
		return err
	})
	if err != nil {
		logger.Errorf("failed to claim job, error: %v", err)
		w.abandon(logger, job.OrgID, job.ID, err)
		return
	}
	if !claimed {
		logger.Infof("job owned by another worker, skipping")
		return
	}
	job.Status = core.JobProcessing

	handler, ok := w.handlers[job.Kind]
	if !ok {
		w.finish(ctx, logger, job, core.JobFailed, nil,
			core.JobErrors{{Code: errs.CodeInvariant, Message: errs.ErrInvalidJobKind.Error()}})
		return
	}

	rep := &reporter{job: job, store: w.store, tracker: w.tracker, log: logger.Warnf, now: w.now}
	summary, jobErrs, err := w.run(ctx, logger, job, handler, rep)
	rep.flush(context.Background())

	status := core.JobCompleted
	if err != nil {
		status = core.JobFailed
		if errors.Is(err, errs.ErrJobFinished) {
			logger.Infof("job finished elsewhere during processing")
			w.dropProgress(logger, job)
			return
		}
		logger.Errorf("job failed after %d attempts, error: %v", job.Attempts, err)
	}
	if !w.finish(ctx, logger, job, status, summary, jobErrs) {
		return
	}
	if status == core.JobCompleted {
		logger.Infof("job completed after %d attempts", job.Attempts)
		if job.Kind == core.JobIngestion {
			w.chainAnalysis(ctx, logger, job)
		}
	}
}

func (w *Worker) attempts() uint {
	if w.cfg.MaxAttempts == 0 {
		return 1
	}
	return w.cfg.MaxAttempts
}

// retryStore retries a job lookup with the job backoff. A missing job is final.
func (w *Worker) retryStore(ctx context.Context, logger lumber.Logger, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(w.attempts()),
		retry.Delay(w.cfg.InitialBackoff),
		retry.MaxDelay(w.cfg.MaxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && !errors.Is(err, errs.ErrJobNotFound)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Warnf("job store lookup %d failed, retrying, error: %v", n+1, err)
		}))
}

// abandon fails a job the worker could not load or claim, releasing its active key. When the
// store is still unreachable the stale job reaper fails it later.
func (w *Worker) abandon(logger lumber.Logger, orgID, jobID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	err := w.store.Finish(ctx, orgID, jobID, core.JobFailed, nil,
		core.JobErrors{{Code: errs.CodeOf(cause), Message: cause.Error()}})
	switch {
	case err == nil:
		logger.Warnf("job failed before it could run")
	case errors.Is(err, errs.ErrJobFinished):
		logger.Infof("job already finished")
	default:
		logger.Errorf("failed to fail job, leaving it to the stale job reaper, error: %v", err)
	}
	w.dropProgress(logger, &core.Job{ID: jobID})
}

// run executes the handler, retrying transient failures with exponential backoff.
func (w *Worker) run(ctx context.Context,
	logger lumber.Logger,
	job *core.Job,
	handler core.JobHandler,
	rep *reporter) (*core.JobSummary, core.JobErrors, error) {
	var (
		summary  *core.JobSummary
		warnings core.JobErrors
		failures core.JobErrors
	)
	err := retry.Do(func() error {
		if job.Attempts > 0 {
			if current, err := w.store.Find(ctx, job.OrgID, job.ID); err == nil && current.Status.Terminal() {
				return errs.Permanent(errs.ErrJobFinished)
			}
		}
		job.Attempts++
		if err := w.store.IncrementAttempts(ctx, job.OrgID, job.ID); err != nil {
			logger.Warnf("failed to record attempt %d, error: %v", job.Attempts, err)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()

		s, nonFatal, err := handler.Handle(attemptCtx, job, rep)
		summary = s
		warnings = nonFatal
		if err != nil {
			failures = append(failures, core.JobError{Code: errs.CodeOf(err), Message: err.Error(), Attempt: job.Attempts})
		}
		return err
	},
		retry.Context(ctx),
		retry.Attempts(w.attempts()),
		retry.Delay(w.cfg.InitialBackoff),
		retry.MaxDelay(w.cfg.MaxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && errs.IsTransient(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Warnf("attempt %d failed, retrying, error: %v", n+1, err)
		}))
	if err != nil && ctx.Err() != nil && !hasCode(failures, errs.CodeCancelled) {
		failures = append(failures, core.JobError{Code: errs.CodeCancelled, Message: ctx.Err().Error(), Attempt: job.Attempts})
	}
	jobErrs := make(core.JobErrors, 0, len(warnings)+len(failures))
	jobErrs = append(jobErrs, warnings...)
	jobErrs = append(jobErrs, failures...)
	return summary, jobErrs, err
}

func hasCode(jobErrs core.JobErrors, code errs.Code) bool {
	for i := range jobErrs {
		if jobErrs[i].Code == code {
			return true
		}
	}
	return false
}

// finish records the terminal status, surviving cancellation of the dispatch context.
func (w *Worker) finish(ctx context.Context,
	logger lumber.Logger,
	job *core.Job,
	status core.JobStatus,
	summary *core.JobSummary,
	jobErrs core.JobErrors) bool {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), finishTimeout)
		defer cancel()
	}
	defer w.dropProgress(logger, job)
	if err := w.store.Finish(ctx, job.OrgID, job.ID, status, summary, jobErrs); err != nil {
		if errors.Is(err, errs.ErrJobFinished) {
			logger.Infof("job already finished, dropping %s result", status)
		} else {
			logger.Errorf("failed to finish job as %s, error: %v", status, err)
		}
		return false
	}
	job.Status = status
	return true
}

func (w *Worker) dropProgress(logger lumber.Logger, job *core.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	if err := w.tracker.Delete(ctx, job.ID); err != nil {
		logger.Warnf("failed to drop live progress, error: %v", err)
	}
}

func (w *Worker) chainAnalysis(ctx context.Context, logger lumber.Logger, job *core.Job) {
	if w.submitter == nil || ctx.Err() != nil {
		return
	}
	resp, err := w.submitter.Submit(ctx, &core.SubmitRequest{
		Repo:          job.Repository(),
		RunID:         job.RunID,
		Branch:        job.Branch,
		Ref:           job.Ref,
		Kind:          core.JobAnalysis,
		Labels:        job.Labels,
		Team:          job.Team.String,
		Priority:      job.Priority,
		CorrelationID: job.CorrelationID,
	})
	if err != nil {
		logger.Errorf("failed to submit analysis of run %s, error: %v", job.RunID, err)
		return
	}
	logger.Infof("analysis job %s submitted", resp.JobID)
}
