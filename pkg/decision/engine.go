// Package decision converts flakiness scores into policy decisions.
package decision

import (
	"fmt"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/LambdaTest/flakewatch/pkg/utils"
	"github.com/bmatcuk/doublestar/v4"
)

// ErrMissingPolicy is returned when a decision is requested without a resolved policy.
var ErrMissingPolicy = errs.NewWithCode(errs.CodeInvariant, "missing policy for decision evaluation")

// Input is everything a decision depends on.
type Input struct {
	Repo     core.Repository
	TestCase *core.TestCase
	// Score is nil when the test has no flakiness data yet.
	Score  *core.FlakeScore
	Policy *core.Policy
	// Team overrides the owning team of the test case when set.
	Team string
	// Labels of the triggering context, checked against labels_required.
	Labels []string
}

// Engine evaluates decisions.
type Engine struct {
	logger lumber.Logger
	now    func() time.Time
}

// New returns an Engine.
func New(logger lumber.Logger) *Engine {
	return &Engine{logger: logger, now: time.Now}
}

// Evaluate applies the policy rules in order and returns the first matching decision.
func (e *Engine) Evaluate(in *Input) (*core.Decision, error) {
	if err := in.Repo.Validate(); err != nil {
		return nil, err
	}
	if in.TestCase == nil || in.TestCase.OrgID != in.Repo.OrgID {
		return nil, errs.ErrMissingTenant
	}
	if in.Policy == nil {
		return nil, ErrMissingPolicy
	}
	p := in.Policy
	d := &core.Decision{
		TestCaseID:  in.TestCase.ID,
		TestName:    in.TestCase.FullName(),
		Action:      core.ActionNone,
		EvaluatedAt: e.now(),
		Priority:    core.PriorityLow,
	}
	if in.Score != nil {
		d.Score = in.Score.Score
		d.Confidence = in.Score.Confidence
		d.Priority = Priority(in.Score.Score, in.Score.Confidence)
	}

	if pattern, ok := matchExemption(in.TestCase, p.ExemptedTests); ok {
		d.Exempted = true
		d.Confidence = 1
		d.Reason = fmt.Sprintf("test is exempted by pattern %q", pattern)
		return d, nil
	}
	if pattern, ok := matchPath(in.TestCase, p.ExcludePaths); ok {
		d.Reason = fmt.Sprintf("test file %s is excluded by pattern %q", in.TestCase.FilePath.String, pattern)
		return d, nil
	}
	if in.Score == nil {
		d.Confidence = 0
		d.Reason = "no flakiness data available"
		return d, nil
	}
	s := in.Score
	switch {
	case !s.Score.Valid || s.TotalRuns < p.MinOccurrences:
		d.Reason = fmt.Sprintf("insufficient data: %d of %d required runs", s.TotalRuns, p.MinOccurrences)
		return d, nil
	case s.RecentFailures < p.MinRecentFailures:
		d.Reason = fmt.Sprintf("%d recent failures, %d required before acting", s.RecentFailures, p.MinRecentFailures)
		return d, nil
	case s.Confidence < p.MinConfidence:
		d.Reason = fmt.Sprintf("confidence %.2f below required %.2f", s.Confidence, p.MinConfidence)
		return d, nil
	}

	flaky, warn, applied := thresholds(p, team(in))
	d.TeamOverrideApplied = applied
	score := s.Score.Float64
	switch {
	case score >= flaky:
		d.Action = core.ActionQuarantine
		d.AutoQuarantine = p.AutoQuarantineEnabled && utils.ContainsAll(in.Labels, p.LabelsRequired)
		d.Reason = fmt.Sprintf("score %.2f at or above quarantine threshold %.2f", score, flaky)
		switch {
		case !p.AutoQuarantineEnabled:
			d.Reason += ", auto-quarantine disabled"
		case !d.AutoQuarantine:
			d.Reason += ", required labels missing"
		}
	case score >= warn:
		d.Action = core.ActionWarn
		d.Reason = fmt.Sprintf("score %.2f at or above warn threshold %.2f", score, warn)
	default:
		d.Reason = fmt.Sprintf("score %.2f below warn threshold %.2f", score, warn)
	}
	return d, nil
}

// WarnThreshold returns the warn threshold in effect for the input's team.
func WarnThreshold(in *Input) float64 {
	_, warn, _ := thresholds(in.Policy, team(in))
	return warn
}

func team(in *Input) string {
	if in.Team != "" {
		return in.Team
	}
	return in.TestCase.Team.String
}

// thresholds returns the effective quarantine and warn thresholds for a team. A team override
// without its own warn threshold has no warn band below the overridden quarantine threshold.
func thresholds(p *core.Policy, team string) (flaky, warn float64, applied bool) {
	flaky, warn = p.FlakyThreshold, p.WarnThreshold
	o, ok := p.TeamOverrides[team]
	if team == "" || !ok {
		return flaky, warn, false
	}
	if o.FlakyThreshold.Valid {
		flaky = o.FlakyThreshold.Float64
		warn = flaky
		applied = true
	}
	if o.WarnThreshold.Valid {
		warn = o.WarnThreshold.Float64
		applied = true
	}
	if warn > flaky {
		warn = flaky
	}
	return flaky, warn, applied
}

func matchExemption(tc *core.TestCase, patterns []string) (string, bool) {
	for _, pattern := range patterns {
		for _, name := range []string{tc.Name, tc.FullName()} {
			if ok, _ := doublestar.Match(pattern, name); ok {
				return pattern, true
			}
		}
	}
	return "", false
}

func matchPath(tc *core.TestCase, patterns []string) (string, bool) {
	if !tc.FilePath.Valid || tc.FilePath.String == "" {
		return "", false
	}
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, tc.FilePath.String); ok {
			return pattern, true
		}
	}
	return "", false
}
