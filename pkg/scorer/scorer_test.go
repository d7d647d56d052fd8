package scorer

import (
	"testing"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4/zero"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testPolicy() *core.Policy {
	return &core.Policy{
		MinOccurrences:    3,
		LookbackDays:      14,
		RollingWindowSize: 50,
		Weights: core.ScoringWeights{
			FailureRate:     0.4,
			Inconsistency:   0.3,
			Recency:         0.2,
			BranchDiversity: 0.1,
		},
	}
}

// history builds a most recent first history from status letters: P passed, F failed, E error, S skipped.
func history(statuses string, branch string) []*core.Occurrence {
	out := make([]*core.Occurrence, 0, len(statuses))
	for i, c := range statuses {
		o := &core.Occurrence{Branch: branch, ExecutedAt: now.Add(-time.Duration(i) * time.Hour)}
		switch c {
		case 'P':
			o.Status = core.OccurrencePassed
		case 'F':
			o.Status = core.OccurrenceFailed
		case 'E':
			o.Status = core.OccurrenceError
		case 'S':
			o.Status = core.OccurrenceSkipped
		}
		out = append(out, o)
	}
	return out
}

func newTestScorer() *Scorer {
	s := New()
	s.now = func() time.Time { return now }
	return s
}

var tc = &core.TestCase{ID: "tc", OrgID: "org", Repo: "acme/api"}

func TestInsufficientData(t *testing.T) {
	tests := []struct {
		name    string
		history []*core.Occurrence
	}{
		{"empty", nil},
		{"below minimum", history("FF", "main")},
		{"skipped runs do not count", history("FSSSF", "main")},
		{"outside lookback", func() []*core.Occurrence {
			h := history("FFFF", "main")
			for _, o := range h[1:] {
				o.ExecutedAt = now.AddDate(0, 0, -30)
			}
			return h
		}()},
	}
	s := newTestScorer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Score(tc, tt.history, testPolicy())
			assert.Equal(t, core.ScoreInsufficientData, res.Status)
			assert.False(t, res.Score.Valid)
			assert.Equal(t, core.SeverityLow, res.Severity)
			assert.Equal(t, core.PatternUnknown, res.Pattern)
			assert.Less(t, res.TotalRuns, 3)
		})
	}
}

func TestAlternatingHistory(t *testing.T) {
	p := testPolicy()
	p.RollingWindowSize = 5
	res := newTestScorer().Score(tc, history("FPFPF", "main"), p)

	require.Equal(t, core.ScoreScored, res.Status)
	assert.InDelta(t, 0.6, res.FailureRate, 1e-9)
	assert.InDelta(t, 1.0, res.Inconsistency, 1e-9)
	assert.InDelta(t, 0.6, res.Recency, 1e-9)
	assert.Zero(t, res.BranchDiversity)
	assert.InDelta(t, 0.66, res.Score.Float64, 1e-9)
	assert.Greater(t, res.Score.Float64, 0.3)
	assert.Equal(t, core.PatternIntermittent, res.Pattern)
	assert.Equal(t, core.SeverityHigh, res.Severity)
	assert.InDelta(t, 5.0/8.0, res.Confidence, 1e-9)
	assert.Equal(t, 3, res.RecentFailures)
}

func TestRollingWindow(t *testing.T) {
	p := testPolicy()
	p.RollingWindowSize = 4
	res := newTestScorer().Score(tc, history("PPPPFFFF", "main"), p)
	assert.Equal(t, 4, res.TotalRuns)
	assert.Zero(t, res.Failures)
	assert.Zero(t, res.Score.Float64)
}

func TestFactors(t *testing.T) {
	tests := []struct {
		name    string
		history []*core.Occurrence
		want    core.ScoreFactors
	}{
		{"always passing", history("PPPP", "main"), core.ScoreFactors{}},
		{"always failing", history("FFFF", "main"), core.ScoreFactors{FailureRate: 1, Recency: 1}},
		{"single failure", history("PPPF", "main"), core.ScoreFactors{FailureRate: 0.25, Inconsistency: 1.0 / 3, Recency: 0.1}},
		{"errors count as failures", history("EPPP", "main"), core.ScoreFactors{FailureRate: 0.25, Inconsistency: 1.0 / 3, Recency: 0.4}},
		{"branch diversity", append(history("FP", "main"), history("PP", "feature")...),
			core.ScoreFactors{FailureRate: 0.25, Inconsistency: 1.0 / 3, Recency: 0.4, BranchDiversity: 0.5}},
	}
	s := newTestScorer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Score(tc, tt.history, testPolicy())
			require.Equal(t, core.ScoreScored, res.Status)
			assert.InDelta(t, tt.want.FailureRate, res.FailureRate, 1e-9)
			assert.InDelta(t, tt.want.Inconsistency, res.Inconsistency, 1e-9)
			assert.InDelta(t, tt.want.Recency, res.Recency, 1e-9)
			assert.InDelta(t, tt.want.BranchDiversity, res.BranchDiversity, 1e-9)
		})
	}
}

func TestCombineClampedAndMonotonic(t *testing.T) {
	heavy := core.ScoringWeights{FailureRate: 1, Inconsistency: 1, Recency: 1, BranchDiversity: 1}
	assert.Equal(t, 1.0, Combine(core.ScoreFactors{FailureRate: 1, Inconsistency: 1, Recency: 1, BranchDiversity: 1}, heavy))
	assert.Equal(t, 0.0, Combine(core.ScoreFactors{}, heavy))

	w := testPolicy().Weights
	prev := -1.0
	for i := 0; i <= 20; i++ {
		f := core.ScoreFactors{FailureRate: float64(i) / 20, Inconsistency: 0.5, Recency: 0.3, BranchDiversity: 0.2}
		score := Combine(f, w)
		assert.GreaterOrEqual(t, score, prev)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
		prev = score
	}
}

func TestConfidence(t *testing.T) {
	assert.Zero(t, Confidence(0, 5))
	assert.Equal(t, 0.5, Confidence(5, 5))
	assert.Equal(t, 1.0, Confidence(3, 0))
	assert.Less(t, Confidence(5, 5), Confidence(50, 5))
}

func TestPattern(t *testing.T) {
	tests := []struct {
		name     string
		messages []string
		want     core.FailurePattern
	}{
		{"timing", []string{"context deadline exceeded", "assertion failed"}, core.PatternTiming},
		{"environmental", []string{"dial tcp: connection refused", "dial tcp: connection refused"}, core.PatternEnvironmental},
		{"timing wins ties", []string{"request timed out", "connection reset by peer"}, core.PatternTiming},
		{"no keyword", []string{"expected 1 got 2", "expected 1 got 3"}, core.PatternUnknown},
	}
	s := newTestScorer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := history("FFPP", "main")
			for i, msg := range tt.messages {
				h[i].FailureMessage = zero.StringFrom(msg)
			}
			res := s.Score(tc, h, testPolicy())
			assert.Equal(t, tt.want, res.Pattern)
		})
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		score  float64
		recent int
		want   core.Severity
	}{
		{0.9, 5, core.SeverityCritical},
		{0.9, 2, core.SeverityHigh},
		{0.65, 1, core.SeverityMedium},
		{0.3, 0, core.SeverityMedium},
		{0.29, 9, core.SeverityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, severity(tt.score, tt.recent))
	}
	assert.Equal(t, "test looks stable", recommend(core.SeverityLow, core.PatternTiming))
	assert.Contains(t, recommend(core.SeverityHigh, core.PatternTiming), hints[core.PatternTiming])
}
