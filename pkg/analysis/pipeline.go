// Package analysis scores the tests of a run and applies the resulting policy decisions.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/constants"
	"github.com/LambdaTest/flakewatch/pkg/core"
	"github.com/LambdaTest/flakewatch/pkg/decision"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/LambdaTest/flakewatch/pkg/scorer"
	"github.com/LambdaTest/flakewatch/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/guregu/null.v4/zero"
)

const (
	// minClusterTests is the number of distinct tests that must share a failure signature.
	minClusterTests = 2
	reportEvery     = 100
	stageClusters   = "signature_clusters"
	stagePublish    = "publish"
)

// Pipeline is the core.JobHandler of analysis jobs.
type Pipeline struct {
	resolver    core.PolicyResolver
	testCases   core.TestCaseStore
	occurrences core.OccurrenceStore
	store       core.AnalysisStore
	publisher   core.DecisionPublisher
	scorer      *scorer.Scorer
	engine      *decision.Engine
	logger      lumber.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// New returns an analysis Pipeline. publisher may be nil.
func New(resolver core.PolicyResolver,
	testCases core.TestCaseStore,
	occurrences core.OccurrenceStore,
	store core.AnalysisStore,
	publisher core.DecisionPublisher,
	logger lumber.Logger) *Pipeline {
	return &Pipeline{
		resolver:    resolver,
		testCases:   testCases,
		occurrences: occurrences,
		store:       store,
		publisher:   publisher,
		scorer:      scorer.New(),
		engine:      decision.New(logger),
		logger:      logger,
		tracer:      otel.Tracer(constants.ServiceName),
		now:         time.Now,
	}
}

// Handle scores every test observed in the job's run and persists the decisions.
func (p *Pipeline) Handle(ctx context.Context, job *core.Job, rep core.ProgressReporter) (*core.JobSummary, core.JobErrors, error) {
	ctx, span := p.tracer.Start(ctx, "analysis.Handle", trace.WithAttributes(
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
	} else if summary != nil {
		span.SetAttributes(
			attribute.Int("tests.scored", summary.TestsScored),
			attribute.Int("quarantines.created", summary.QuarantinesCreated),
		)
	}
	return summary, jobErrs, err
}

type evaluated struct {
	testCase *core.TestCase
	score    *core.FlakeScore
	decision *core.Decision
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
	policy, err := p.resolver.Resolve(ctx, repo, job.Ref)
	if err != nil {
		return nil, nil, err
	}
	if policy.Source == core.PolicyFromDefaults && len(policy.Problems) > 0 {
		logger.Warnf("repository policy rejected, using defaults: %v", policy.Problems)
	}

	summary := &core.JobSummary{Actions: map[core.Action]int{}}
	ids, err := p.occurrences.FindTestCaseIDsByRun(ctx, job.OrgID, repo.FullName(), job.RunID)
	if err != nil {
		return nil, nil, err
	}
	if len(ids) == 0 {
		logger.Infof("no occurrences recorded for run, nothing to analyse")
		rep.Report(ctx, core.PhaseDone, 0, 0)
		return summary, nil, nil
	}
	testCases, err := p.testCases.FindByIDs(ctx, job.OrgID, ids)
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(testCases, func(i, j int) bool { return testCases[i].ID < testCases[j].ID })
	since := p.now().Add(-policy.Lookback())
	history, err := p.occurrences.FindHistory(ctx, job.OrgID, ids, since, policy.RollingWindowSize)
	if err != nil {
		return nil, nil, err
	}

	results, err := p.evaluate(ctx, job, repo, policy, testCases, history, summary, rep)
	if err != nil {
		return nil, nil, err
	}

	rep.Report(ctx, core.PhaseDeciding, 0, len(results))
	scores := make([]*core.FlakeScore, 0, len(results))
	for _, r := range results {
		scores = append(scores, r.score)
	}
	plan := p.plan(job, policy, results)
	outcome, err := p.store.Persist(ctx, job.OrgID, scores, plan)
	if err != nil {
		logger.Errorf("failed to persist analysis, error: %v", err)
		return summary, nil, err
	}
	summary.QuarantinesCreated = len(outcome.Created)
	summary.QuarantinesRevoked = len(outcome.Reverted)
	rep.Report(ctx, core.PhaseDeciding, len(results), len(results))

	var jobErrs core.JobErrors
	clusters, err := p.occurrences.FindSignatureClusters(ctx, job.OrgID, repo.FullName(), since, minClusterTests)
	if err != nil {
		logger.Warnf("failed to compute signature clusters, error: %v", err)
		jobErrs = append(jobErrs, core.JobError{Code: errs.CodeOf(err), Message: err.Error(), Stage: stageClusters})
	}
	summary.SignatureClusters = len(clusters)
	for _, c := range clusters {
		logger.Debugf("signature %s shared by %d tests: %s", c.Signature, c.TestCount, c.Sample)
	}

	if err := p.publish(ctx, job, repo, results, outcome, rep); err != nil {
		logger.Warnf("failed to publish decisions, error: %v", err)
		jobErrs = append(jobErrs, core.JobError{Code: errs.CodeOf(err), Message: err.Error(), Stage: stagePublish})
	}
	rep.Report(ctx, core.PhaseDone, len(results), len(results))
	logger.Infof("scored %d tests, %d quarantined, %d reverted, %d signature clusters",
		summary.TestsScored, summary.QuarantinesCreated, summary.QuarantinesRevoked, summary.SignatureClusters)
	return summary, jobErrs, nil
}

func (p *Pipeline) evaluate(ctx context.Context,
	job *core.Job,
	repo core.Repository,
	policy *core.Policy,
	testCases []*core.TestCase,
	history map[string][]*core.Occurrence,
	summary *core.JobSummary,
	rep core.ProgressReporter) ([]*evaluated, error) {
	results := make([]*evaluated, 0, len(testCases))
	rep.Report(ctx, core.PhaseScoring, 0, len(testCases))
	for i, tc := range testCases {
		score := p.scorer.Score(tc, history[tc.ID], policy)
		d, err := p.engine.Evaluate(&decision.Input{
			Repo:     repo,
			TestCase: tc,
			Score:    score,
			Policy:   policy,
			Team:     job.Team.String,
			Labels:   job.Labels,
		})
		if err != nil {
			return nil, err
		}
		score.RecommendedAction = d.Action
		summary.TestsScored++
		if score.Status == core.ScoreInsufficientData {
			summary.InsufficientData++
		}
		summary.Actions[d.Action]++
		results = append(results, &evaluated{testCase: tc, score: score, decision: d})
		if (i+1)%reportEvery == 0 {
			rep.Report(ctx, core.PhaseScoring, i+1, len(testCases))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	rep.Report(ctx, core.PhaseScoring, len(testCases), len(testCases))
	return results, nil
}

// plan turns enacted quarantine decisions into new ACTIVE records and requests the revert of tests
// that scored below their warn threshold.
func (p *Pipeline) plan(job *core.Job, policy *core.Policy, results []*evaluated) *core.QuarantinePlan {
	now := p.now()
	plan := &core.QuarantinePlan{Revert: map[string]string{}}
	for _, r := range results {
		d := r.decision
		switch {
		case d.Action == core.ActionQuarantine && d.AutoQuarantine:
			q := &core.QuarantineDecision{
				ID:         utils.GenerateUUID(),
				TestCaseID: r.testCase.ID,
				OrgID:      job.OrgID,
				Repo:       r.testCase.Repo,
				State:      core.QuarantineActive,
				Rationale:  d.Reason,
				Actor:      core.ActorPolicyEngine,
				Score:      d.Score.Float64,
				Created:    now,
				Updated:    now,
			}
			if ttl := policy.QuarantineDuration(); ttl > 0 {
				q.ExpiresAt = zero.TimeFrom(now.Add(ttl))
			}
			plan.Create = append(plan.Create, q)
		case d.Action == core.ActionNone && !d.Exempted && r.score.Score.Valid:
			in := &decision.Input{TestCase: r.testCase, Policy: policy, Team: job.Team.String}
			if warn := decision.WarnThreshold(in); r.score.Score.Float64 < warn {
				plan.Revert[r.testCase.ID] = fmt.Sprintf("score %.2f fell below warn threshold %.2f", r.score.Score.Float64, warn)
			}
		}
	}
	return plan
}

func (p *Pipeline) publish(ctx context.Context,
	job *core.Job,
	repo core.Repository,
	results []*evaluated,
	outcome *core.QuarantineOutcome,
	rep core.ProgressReporter) error {
	if p.publisher == nil {
		return nil
	}
	created := make(map[string]string, len(outcome.Created))
	for _, q := range outcome.Created {
		created[q.TestCaseID] = q.ID
	}
	reverted := make(map[string]bool, len(outcome.Reverted))
	for _, id := range outcome.Reverted {
		reverted[id] = true
	}
	var events []*core.DecisionEvent
	for _, r := range results {
		id := r.testCase.ID
		if r.decision.Action == core.ActionNone && !reverted[id] {
			continue
		}
		events = append(events, &core.DecisionEvent{
			OrgID:         job.OrgID,
			Repo:          repo.FullName(),
			RunID:         job.RunID,
			JobID:         job.ID,
			CorrelationID: job.CorrelationID,
			Decision:      r.decision,
			QuarantineID:  zero.StringFrom(created[id]),
		})
	}
	rep.Report(ctx, core.PhasePublishing, 0, len(events))
	return p.publisher.Publish(ctx, events)
}
