package decision

import (
	"testing"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"
	"gopkg.in/guregu/null.v4/zero"
)

var repo = core.Repository{OrgID: "org", Owner: "acme", Name: "api"}

func basePolicy() *core.Policy {
	return &core.Policy{
		FlakyThreshold:        0.6,
		WarnThreshold:         0.3,
		MinOccurrences:        5,
		MinRecentFailures:     2,
		MinConfidence:         0.5,
		AutoQuarantineEnabled: true,
		TeamOverrides: map[string]core.TeamOverride{
			"payments": {FlakyThreshold: null.FloatFrom(0.8)},
			"search":   {FlakyThreshold: null.FloatFrom(0.9), WarnThreshold: null.FloatFrom(0.5)},
		},
	}
}

func testCase() *core.TestCase {
	return &core.TestCase{
		ID:        "tc",
		OrgID:     "org",
		ClassName: "pkg.server",
		Name:      "TestHandshake",
		FilePath:  zero.StringFrom("pkg/server/server_test.go"),
	}
}

func score(v float64) *core.FlakeScore {
	return &core.FlakeScore{
		Status:         core.ScoreScored,
		Score:          null.FloatFrom(v),
		Confidence:     0.8,
		TotalRuns:      20,
		RecentFailures: 4,
	}
}

func newTestEngine() *Engine {
	e := New(lumber.NewNoop())
	e.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return e
}

func TestEvaluateRules(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(in *Input)
		action    core.Action
		auto      bool
		exempted  bool
		override  bool
		reason    string
		confident float64
	}{
		{name: "quarantine above threshold", mutate: func(in *Input) {}, action: core.ActionQuarantine, auto: true,
			reason: "quarantine threshold", confident: 0.8},
		{name: "exempted by name", mutate: func(in *Input) {
			in.Policy.ExemptedTests = []string{"TestHand*"}
		}, action: core.ActionNone, exempted: true, reason: "exempted", confident: 1},
		{name: "exempted by full name", mutate: func(in *Input) {
			in.Policy.ExemptedTests = []string{"pkg.server.*"}
		}, action: core.ActionNone, exempted: true, reason: "exempted", confident: 1},
		{name: "exemption wins over path exclusion", mutate: func(in *Input) {
			in.Policy.ExemptedTests = []string{"TestHandshake"}
			in.Policy.ExcludePaths = []string{"pkg/**"}
		}, action: core.ActionNone, exempted: true, reason: "exempted", confident: 1},
		{name: "path excluded", mutate: func(in *Input) {
			in.Policy.ExcludePaths = []string{"pkg/server/**"}
		}, action: core.ActionNone, reason: "excluded", confident: 0.8},
		{name: "no data", mutate: func(in *Input) { in.Score = nil }, action: core.ActionNone, reason: "no flakiness data"},
		{name: "insufficient data", mutate: func(in *Input) {
			in.Score = &core.FlakeScore{Status: core.ScoreInsufficientData, TotalRuns: 2, Confidence: 0.3}
		}, action: core.ActionNone, reason: "insufficient data: 2 of 5", confident: 0.3},
		{name: "too few recent failures", mutate: func(in *Input) { in.Score.RecentFailures = 1 },
			action: core.ActionNone, reason: "recent failures", confident: 0.8},
		{name: "low confidence", mutate: func(in *Input) { in.Score.Confidence = 0.4 },
			action: core.ActionNone, reason: "confidence 0.40", confident: 0.4},
		{name: "auto quarantine disabled", mutate: func(in *Input) { in.Policy.AutoQuarantineEnabled = false },
			action: core.ActionQuarantine, reason: "auto-quarantine disabled", confident: 0.8},
		{name: "required labels missing", mutate: func(in *Input) {
			in.Policy.LabelsRequired = []string{"ci", "flaky-ok"}
			in.Labels = []string{"ci"}
		}, action: core.ActionQuarantine, reason: "required labels missing", confident: 0.8},
		{name: "required labels present", mutate: func(in *Input) {
			in.Policy.LabelsRequired = []string{"ci", "flaky-ok"}
			in.Labels = []string{"flaky-ok", "ci", "nightly"}
		}, action: core.ActionQuarantine, auto: true, reason: "quarantine threshold", confident: 0.8},
		{name: "warn", mutate: func(in *Input) { in.Score.Score = null.FloatFrom(0.45) },
			action: core.ActionWarn, reason: "warn threshold", confident: 0.8},
		{name: "none below warn", mutate: func(in *Input) { in.Score.Score = null.FloatFrom(0.1) },
			action: core.ActionNone, reason: "below warn threshold", confident: 0.8},
		{name: "team warn override", mutate: func(in *Input) {
			in.Team = "search"
			in.Score.Score = null.FloatFrom(0.7)
		}, action: core.ActionWarn, override: true, reason: "warn threshold 0.50", confident: 0.8},
		{name: "team from test case", mutate: func(in *Input) {
			in.TestCase.Team = zero.StringFrom("payments")
			in.Score.Score = null.FloatFrom(0.85)
		}, action: core.ActionQuarantine, auto: true, override: true, reason: "threshold 0.80", confident: 0.8},
		{name: "unknown team uses defaults", mutate: func(in *Input) { in.Team = "growth" },
			action: core.ActionQuarantine, auto: true, reason: "threshold 0.60", confident: 0.8},
	}
	e := newTestEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &Input{Repo: repo, TestCase: testCase(), Score: score(0.7), Policy: basePolicy()}
			tt.mutate(in)
			d, err := e.Evaluate(in)
			require.NoError(t, err)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.auto, d.AutoQuarantine)
			assert.Equal(t, tt.exempted, d.Exempted)
			assert.Equal(t, tt.override, d.TeamOverrideApplied)
			assert.Contains(t, d.Reason, tt.reason)
			assert.InDelta(t, tt.confident, d.Confidence, 1e-9)
			assert.Equal(t, "pkg.server.TestHandshake", d.TestName)
			assert.False(t, d.EvaluatedAt.IsZero())
		})
	}
}

func TestTeamOverrideExample(t *testing.T) {
	e := newTestEngine()
	for _, tt := range []struct {
		team string
		want core.Action
	}{
		{"payments", core.ActionNone},
		{"", core.ActionQuarantine},
	} {
		d, err := e.Evaluate(&Input{Repo: repo, TestCase: testCase(), Score: score(0.7), Policy: basePolicy(), Team: tt.team})
		require.NoError(t, err)
		assert.Equal(t, tt.want, d.Action, "team %q", tt.team)
	}
}

func TestExemptedNeverActs(t *testing.T) {
	e := newTestEngine()
	p := basePolicy()
	p.ExemptedTests = []string{"**"}
	for _, v := range []float64{0, 0.3, 0.6, 0.99, 1} {
		d, err := e.Evaluate(&Input{Repo: repo, TestCase: testCase(), Score: score(v), Policy: p})
		require.NoError(t, err)
		assert.Equal(t, core.ActionNone, d.Action)
		assert.True(t, d.Exempted)
	}
}

func TestEvaluateInvariants(t *testing.T) {
	e := newTestEngine()
	tests := []struct {
		name string
		in   *Input
		err  error
	}{
		{"missing org", &Input{Repo: core.Repository{Owner: "acme", Name: "api"}, TestCase: testCase(), Policy: basePolicy()},
			errs.ErrMissingTenant},
		{"foreign test case", &Input{Repo: core.Repository{OrgID: "other", Owner: "acme", Name: "api"}, TestCase: testCase(),
			Policy: basePolicy()}, errs.ErrMissingTenant},
		{"missing test case", &Input{Repo: repo, Policy: basePolicy()}, errs.ErrMissingTenant},
		{"missing policy", &Input{Repo: repo, TestCase: testCase()}, ErrMissingPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Evaluate(tt.in)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, errs.CodeInvariant, errs.CodeOf(err))
		})
	}
}

func TestPriority(t *testing.T) {
	tests := []struct {
		score      null.Float
		confidence float64
		want       core.Priority
	}{
		{null.Float{}, 1, core.PriorityLow},
		{null.FloatFrom(0.9), 0.9, core.PriorityCritical},
		{null.FloatFrom(0.9), 0.7, core.PriorityHigh},
		{null.FloatFrom(0.9), 0.3, core.PriorityMedium},
		{null.FloatFrom(0.3), 1, core.PriorityMedium},
		{null.FloatFrom(0.2), 1, core.PriorityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Priority(tt.score, tt.confidence))
	}
}

func TestWarnThreshold(t *testing.T) {
	tests := []struct {
		team string
		want float64
	}{
		{"", 0.3},
		{"payments", 0.8},
		{"search", 0.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WarnThreshold(&Input{Repo: repo, TestCase: testCase(), Policy: basePolicy(), Team: tt.team}))
	}
}
