// Package scorer computes flakiness scores from test execution histories.
package scorer

import (
	"fmt"
	"strings"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/constants"
	"github.com/LambdaTest/flakewatch/pkg/core"
	"github.com/LambdaTest/flakewatch/pkg/utils"
	"gopkg.in/guregu/null.v4"
)

// Scorer scores test histories against a policy.
type Scorer struct {
	now func() time.Time
}

// New returns a Scorer.
func New() *Scorer {
	return &Scorer{now: time.Now}
}

// window holds the history trimmed to the lookback period and rolling window with skipped runs dropped.
type window struct {
	runs           []*core.Occurrence
	failures       int
	recentFailures int
}

func (s *Scorer) trim(history []*core.Occurrence, policy *core.Policy) *window {
	w := &window{}
	var since time.Time
	if lookback := policy.Lookback(); lookback > 0 {
		since = s.now().Add(-lookback)
	}
	for i, o := range history {
		if policy.RollingWindowSize > 0 && i >= policy.RollingWindowSize {
			break
		}
		if !since.IsZero() && o.ExecutedAt.Before(since) {
			continue
		}
		if o.Status == core.OccurrenceSkipped {
			continue
		}
		if o.Status.IsFailure() {
			w.failures++
			if len(w.runs) < constants.RecencyWindow {
				w.recentFailures++
			}
		}
		w.runs = append(w.runs, o)
	}
	return w
}

// Score computes the FlakeScore of one test case. history must be ordered most recent first.
func (s *Scorer) Score(tc *core.TestCase, history []*core.Occurrence, policy *core.Policy) *core.FlakeScore {
	w := s.trim(history, policy)
	n := len(w.runs)
	result := &core.FlakeScore{
		TestCaseID:        tc.ID,
		OrgID:             tc.OrgID,
		Repo:              tc.Repo,
		Confidence:        Confidence(n, policy.MinOccurrences),
		TotalRuns:         n,
		Failures:          w.failures,
		RecentFailures:    w.recentFailures,
		RecommendedAction: core.ActionNone,
		UpdatedAt:         s.now(),
	}
	if n == 0 || n < policy.MinOccurrences {
		result.Status = core.ScoreInsufficientData
		result.Pattern = core.PatternUnknown
		result.Severity = core.SeverityLow
		result.Recommendation = fmt.Sprintf("insufficient data: %d of %d required runs", n, policy.MinOccurrences)
		return result
	}

	result.Status = core.ScoreScored
	result.ScoreFactors = core.ScoreFactors{
		FailureRate:     float64(w.failures) / float64(n),
		Inconsistency:   inconsistency(w.runs),
		Recency:         recency(w.runs),
		BranchDiversity: branchDiversity(w.runs),
	}
	score := Combine(result.ScoreFactors, policy.Weights)
	result.Score = null.FloatFrom(score)
	result.Pattern = classify(w.runs, result.Inconsistency)
	result.Severity = severity(score, w.recentFailures)
	result.Recommendation = recommend(result.Severity, result.Pattern)
	return result
}

// Combine returns the weighted sum of the factors clamped to [0,1].
func Combine(f core.ScoreFactors, w core.ScoringWeights) float64 {
	sum := f.FailureRate*w.FailureRate +
		f.Inconsistency*w.Inconsistency +
		f.Recency*w.Recency +
		f.BranchDiversity*w.BranchDiversity
	return utils.Clamp(sum, 0, 1)
}

// Confidence grows with the number of runs, reaching 0.5 at minOccurrences.
func Confidence(runs, minOccurrences int) float64 {
	if runs <= 0 {
		return 0
	}
	if minOccurrences <= 0 {
		return 1
	}
	return float64(runs) / float64(runs+minOccurrences)
}

// inconsistency is the fraction of adjacent pass/fail flips within the window.
func inconsistency(runs []*core.Occurrence) float64 {
	if len(runs) < 2 {
		return 0
	}
	flips := 0
	for i := 1; i < len(runs); i++ {
		if runs[i].Status.IsFailure() != runs[i-1].Status.IsFailure() {
			flips++
		}
	}
	return float64(flips) / float64(len(runs)-1)
}

// recency is the failure rate over the most recent runs, linearly decayed so the latest run weighs most.
func recency(runs []*core.Occurrence) float64 {
	k := utils.Min(len(runs), constants.RecencyWindow)
	var weighted, total float64
	for i := 0; i < k; i++ {
		weight := float64(k - i)
		total += weight
		if runs[i].Status.IsFailure() {
			weighted += weight
		}
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

func branchDiversity(runs []*core.Occurrence) float64 {
	branches := make(map[string]bool)
	for _, o := range runs {
		branches[o.Branch] = branches[o.Branch] || o.Status.IsFailure()
	}
	if len(branches) < 2 {
		return 0
	}
	failing := 0
	for _, failed := range branches {
		if failed {
			failing++
		}
	}
	return float64(failing) / float64(len(branches))
}

var (
	timingKeywords = []string{
		"timeout", "timed out", "deadline exceeded", "took too long", "race", "still waiting",
		"stale element", "not ready",
	}
	environmentalKeywords = []string{
		"connection refused", "connection reset", "network", "dns", "econnrefused", "no such host",
		"no space left", "out of memory", "permission denied", "service unavailable", "503",
		"socket hang up", "broken pipe",
	}
)

func classify(runs []*core.Occurrence, inconsistency float64) core.FailurePattern {
	var timing, environmental, seen int
	for _, o := range runs {
		if !o.Status.IsFailure() || !o.FailureMessage.Valid {
			continue
		}
		if seen == constants.RecencyWindow {
			break
		}
		seen++
		msg := strings.ToLower(o.FailureMessage.String)
		if containsAny(msg, timingKeywords) {
			timing++
		}
		if containsAny(msg, environmentalKeywords) {
			environmental++
		}
	}
	switch {
	case timing > 0 && timing >= environmental:
		return core.PatternTiming
	case environmental > 0:
		return core.PatternEnvironmental
	case inconsistency >= 0.5:
		return core.PatternIntermittent
	default:
		return core.PatternUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

//nolint:gomnd
func severity(score float64, recentFailures int) core.Severity {
	switch {
	case score >= 0.8 && recentFailures >= 3:
		return core.SeverityCritical
	case score >= 0.6 && recentFailures >= 2:
		return core.SeverityHigh
	case score >= 0.3:
		return core.SeverityMedium
	default:
		return core.SeverityLow
	}
}

var hints = map[core.FailurePattern]string{
	core.PatternTiming:        "review timeouts, waits and ordering assumptions",
	core.PatternEnvironmental: "check external dependencies and environment isolation",
	core.PatternIntermittent:  "look for state shared between tests",
	core.PatternUnknown:       "inspect the recent failure output",
}

func recommend(sev core.Severity, pattern core.FailurePattern) string {
	switch sev {
	case core.SeverityCritical:
		return "quarantine and fix now: " + hints[pattern]
	case core.SeverityHigh:
		return "schedule a fix: " + hints[pattern]
	case core.SeverityMedium:
		return "monitor: " + hints[pattern]
	default:
		return "test looks stable"
	}
}
