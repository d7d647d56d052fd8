// Package ingestion turns the artifacts of a CI run into recorded test occurrences.
package ingestion

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/artifact"
	"github.com/LambdaTest/flakewatch/pkg/constants"
	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/extractor"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/LambdaTest/flakewatch/pkg/signature"
	"github.com/LambdaTest/flakewatch/pkg/utils"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/guregu/null.v4/zero"
)

var occurrenceNamespace = uuid.MustParse("a4e1f0d2-3b7c-4c8e-8f51-9d2b6e0c7a13")

// Pipeline is the core.JobHandler of ingestion jobs.
type Pipeline struct {
	fetcher   *artifact.Fetcher
	filter    *artifact.Filter
	extractor *extractor.Extractor
	store     core.IngestionStore
	logger    lumber.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New returns an ingestion Pipeline.
func New(fetcher *artifact.Fetcher,
	filter *artifact.Filter,
	ext *extractor.Extractor,
	store core.IngestionStore,
	logger lumber.Logger) *Pipeline {
	return &Pipeline{
		fetcher:   fetcher,
		filter:    filter,
		extractor: ext,
		store:     store,
		logger:    logger,
		tracer:    otel.Tracer(constants.ServiceName),
		now:       time.Now,
	}
}

// collector aggregates the suites of fully extracted artifacts.
type collector struct {
	mu       sync.Mutex
	suites   []*core.TestSuiteResult
	warnings []core.ReportIssue
	reports  int
	done     int
	total    int
	rep      core.ProgressReporter
}

func (c *collector) add(ctx context.Context, suites []*core.TestSuiteResult, res *extractor.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suites = append(c.suites, suites...)
	if res != nil {
		c.warnings = append(c.warnings, res.Warnings...)
		c.reports += res.Reports
	}
	c.done++
	c.rep.Report(ctx, core.PhaseParsing, c.done, c.total)
}

// Handle retrieves, extracts and records the test results of the job's run.
func (p *Pipeline) Handle(ctx context.Context, job *core.Job, rep core.ProgressReporter) (*core.JobSummary, core.JobErrors, error) {
	ctx, span := p.tracer.Start(ctx, "ingestion.Handle", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("org.id", job.OrgID),
		attribute.String("run.id", job.RunID),
		attribute.String("correlation.id", job.CorrelationID),
	))
	defer span.End()

	summary, jobErrs, err := p.handle(ctx, job, rep)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return summary, jobErrs, err
}

func (p *Pipeline) handle(ctx context.Context, job *core.Job, rep core.ProgressReporter) (*core.JobSummary, core.JobErrors, error) {
	repo := job.Repository()
	if err := repo.Validate(); err != nil {
		return nil, nil, err
	}
	logger := p.logger.WithFields(lumber.Fields{
		"job_id": job.ID, "org_id": job.OrgID, "repo": repo.FullName(),
		"run_id": job.RunID, "correlation_id": job.CorrelationID,
	})

	rep.Report(ctx, core.PhaseListing, 0, 0)
	listed, err := p.fetcher.List(ctx, repo, job.RunID)
	if err != nil {
		logger.Errorf("failed to list artifacts, error: %v", err)
		return nil, nil, listError(err)
	}
	selected := p.filter.Select(listed, job.ArtifactFilter)
	summary := &core.JobSummary{ArtifactsTotal: len(selected)}
	logger.Infof("%d of %d artifacts selected", len(selected), len(listed))
	if len(selected) == 0 {
		rep.Report(ctx, core.PhaseDone, 0, 0)
		return summary, nil, nil
	}

	rep.Report(ctx, core.PhaseDownload, 0, len(selected))
	c := &collector{total: len(selected), rep: rep}
	processed, failures, err := p.fetcher.ForEach(ctx, repo, selected,
		func(ctx context.Context, downloaded *core.DownloadedArtifact) error {
			var suites []*core.TestSuiteResult
			res, err := p.extractor.Extract(ctx, downloaded.Artifact.Name, downloaded.Path,
				func(suite *core.TestSuiteResult) error {
					suites = append(suites, suite)
					return nil
				})
			if err != nil {
				return err
			}
			c.add(ctx, suites, res)
			return nil
		})
	if err != nil {
		return summary, nil, err
	}
	summary.ArtifactsProcessed = processed
	summary.ArtifactsFailed = len(failures)
	summary.ReportsParsed = c.reports
	summary.Warnings = c.warnings
	jobErrs := failureErrors(failures)
	if processed == 0 && len(failures) > 0 {
		logger.Errorf("none of %d artifacts could be processed", len(selected))
		if anyTransient(failures) {
			return summary, jobErrs, errs.Transient(errs.ErrNoArtifactsProcessed)
		}
		return summary, jobErrs, errs.ErrNoArtifactsProcessed
	}

	testCases, occurrences := p.build(job, c.suites, summary)
	rep.Report(ctx, core.PhaseWriting, 0, len(occurrences))
	written, err := p.store.Write(ctx, job.OrgID, testCases, occurrences)
	if err != nil {
		logger.Errorf("failed to write occurrences, error: %v", err)
		return summary, jobErrs, err
	}
	summary.OccurrencesWritten = written
	rep.Report(ctx, core.PhaseDone, len(occurrences), len(occurrences))
	logger.Infof("recorded %d occurrences of %d tests from %d reports, %d warnings",
		written, len(testCases), summary.ReportsParsed, len(summary.Warnings))
	return summary, jobErrs, nil
}

// build maps parsed suites to test identities and occurrence rows, sorted for stable lock order.
func (p *Pipeline) build(job *core.Job, suites []*core.TestSuiteResult,
	summary *core.JobSummary) ([]*core.TestCase, []*core.Occurrence) {
	repoName := job.Repository().FullName()
	now := p.now()
	testCases := make(map[string]*core.TestCase)
	occurrences := make(map[string]*core.Occurrence)
	for _, suite := range suites {
		executedAt := suite.Timestamp
		if executedAt.IsZero() {
			executedAt = now
		}
		for _, tc := range suite.Cases {
			countStatus(summary, tc.Status)
			id := core.TestCaseID(job.OrgID, repoName, tc.SuiteName, tc.ClassName, tc.Name)
			if _, ok := testCases[id]; !ok {
				testCases[id] = &core.TestCase{
					ID:        id,
					OrgID:     job.OrgID,
					Repo:      repoName,
					SuiteName: tc.SuiteName,
					ClassName: tc.ClassName,
					Name:      tc.Name,
					Team:      job.Team,
					FilePath:  zero.StringFrom(tc.File),
					Created:   now,
					Updated:   now,
				}
			}
			occID := utils.DeterministicID(occurrenceNamespace, id, job.RunID, strconv.Itoa(tc.Attempt))
			if _, ok := occurrences[occID]; ok {
				continue
			}
			message := tc.Message
			if message == "" {
				message = tc.Stack
			}
			occ := &core.Occurrence{
				ID:         occID,
				TestCaseID: id,
				OrgID:      job.OrgID,
				Repo:       repoName,
				RunID:      job.RunID,
				Attempt:    tc.Attempt,
				JobID:      job.ID,
				Branch:     job.Branch,
				Status:     tc.Status,
				DurationMS: tc.DurationMS,
				ExecutedAt: executedAt,
				Created:    now,
			}
			if tc.Status.IsFailure() {
				occ.FailureMessage = zero.StringFrom(message)
				occ.FailureSignature = zero.StringFrom(signature.Compute(message))
			}
			occurrences[occID] = occ
		}
	}

	cases := make([]*core.TestCase, 0, len(testCases))
	for _, tc := range testCases {
		cases = append(cases, tc)
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].ID < cases[j].ID })
	occs := make([]*core.Occurrence, 0, len(occurrences))
	for _, o := range occurrences {
		occs = append(occs, o)
	}
	sort.Slice(occs, func(i, j int) bool {
		if occs[i].TestCaseID != occs[j].TestCaseID {
			return occs[i].TestCaseID < occs[j].TestCaseID
		}
		return occs[i].Attempt < occs[j].Attempt
	})
	return cases, occs
}

func countStatus(summary *core.JobSummary, status core.OccurrenceStatus) {
	summary.TotalTests++
	switch status {
	case core.OccurrencePassed:
		summary.Passed++
	case core.OccurrenceFailed:
		summary.Failed++
	case core.OccurrenceError:
		summary.Errored++
	case core.OccurrenceSkipped:
		summary.Skipped++
	}
}

func listError(err error) error {
	if errs.CodeOf(err) != errs.CodeInternal {
		return err
	}
	return errs.Wrap(err, errs.CodeListFailed, "failed to list artifacts")
}

func failureErrors(failures []core.ArtifactFailure) core.JobErrors {
	jobErrs := make(core.JobErrors, 0, len(failures))
	for _, f := range failures {
		code := errs.CodeOf(f.Err)
		if code == errs.CodeInternal || code == errs.CodeTransient {
			code = stageCode(f.Stage)
		}
		jobErrs = append(jobErrs, core.JobError{Code: code, Message: f.Err.Error(), Artifact: f.Artifact, Stage: f.Stage})
	}
	return jobErrs
}

func stageCode(stage string) errs.Code {
	if stage == artifact.StageDownload {
		return errs.CodeDownloadFailed
	}
	return errs.CodeArtifactMalformed
}

func anyTransient(failures []core.ArtifactFailure) bool {
	for _, f := range failures {
		if errs.IsTransient(f.Err) {
			return true
		}
	}
	return false
}
