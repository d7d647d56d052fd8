package policy

import (
	"math"
	"time"

	"github.com/LambdaTest/flakewatch/config"
	"github.com/LambdaTest/flakewatch/pkg/constants"
	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"gopkg.in/guregu/null.v4"
)

// DefaultWeights returns the default score factor weights.
func DefaultWeights() core.ScoringWeights {
	return core.ScoringWeights{
		FailureRate:     constants.DefaultFailureRateWeight,
		Inconsistency:   constants.DefaultInconsistencyWeight,
		Recency:         constants.DefaultRecencyWeight,
		BranchDiversity: constants.DefaultBranchDiversityWeight,
	}
}

// Defaults builds the environment derived default policy.
func Defaults(cfg *config.PolicyConfig) core.Policy {
	return core.Policy{
		FlakyThreshold:         cfg.FlakyThreshold,
		WarnThreshold:          cfg.WarnThreshold,
		MinOccurrences:         cfg.MinOccurrences,
		MinRecentFailures:      cfg.MinRecentFailures,
		MinConfidence:          cfg.MinConfidence,
		LookbackDays:           cfg.LookbackDays,
		RollingWindowSize:      cfg.RollingWindowSize,
		ExcludePaths:           cfg.ExcludePaths,
		LabelsRequired:         cfg.LabelsRequired,
		AutoQuarantineEnabled:  cfg.AutoQuarantineEnabled,
		QuarantineDurationDays: cfg.QuarantineDurationDays,
		ExemptedTests:          cfg.ExemptedTests,
		TeamOverrides:          map[string]core.TeamOverride{},
		Weights:                DefaultWeights(),
		Source:                 core.PolicyFromDefaults,
	}
}

// Merge applies the set fields of doc over base and returns a new policy. The result is checked
// for constraints spanning several fields.
func Merge(base core.Policy, doc *Document, loadedAt time.Time) (*core.Policy, error) {
	p := base
	p.Source = core.PolicyFromRepository
	p.LoadedAt = loadedAt
	p.Problems = nil
	setFloat(&p.FlakyThreshold, doc.FlakyThreshold)
	setFloat(&p.WarnThreshold, doc.WarnThreshold)
	// an inherited warn threshold follows a lowered flaky threshold
	if doc.FlakyThreshold != nil && doc.WarnThreshold == nil && p.WarnThreshold > p.FlakyThreshold {
		p.WarnThreshold = p.FlakyThreshold
	}
	setInt(&p.MinOccurrences, doc.MinOccurrences)
	setInt(&p.MinRecentFailures, doc.MinRecentFailures)
	setFloat(&p.MinConfidence, doc.MinConfidence)
	setInt(&p.LookbackDays, doc.LookbackDays)
	setInt(&p.RollingWindowSize, doc.RollingWindowSize)
	setInt(&p.QuarantineDurationDays, doc.QuarantineDurationDays)
	if doc.AutoQuarantineEnabled != nil {
		p.AutoQuarantineEnabled = *doc.AutoQuarantineEnabled
	}
	if doc.ExcludePaths != nil {
		p.ExcludePaths = append([]string(nil), doc.ExcludePaths...)
	}
	if doc.LabelsRequired != nil {
		p.LabelsRequired = append([]string(nil), doc.LabelsRequired...)
	}
	if doc.ExemptedTests != nil {
		p.ExemptedTests = append([]string(nil), doc.ExemptedTests...)
	}
	p.TeamOverrides = make(map[string]core.TeamOverride, len(base.TeamOverrides)+len(doc.TeamOverrides))
	for team, o := range base.TeamOverrides {
		p.TeamOverrides[team] = o
	}
	for team, o := range doc.TeamOverrides {
		p.TeamOverrides[team] = core.TeamOverride{
			FlakyThreshold: null.FloatFromPtr(o.FlakyThreshold),
			WarnThreshold:  null.FloatFromPtr(o.WarnThreshold),
		}
	}
	if w := doc.ScoringWeights; w != nil {
		setFloat(&p.Weights.FailureRate, w.FailureRate)
		setFloat(&p.Weights.Inconsistency, w.Inconsistency)
		setFloat(&p.Weights.Recency, w.Recency)
		setFloat(&p.Weights.BranchDiversity, w.BranchDiversity)
	}
	if err := checkMerged(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func checkMerged(p *core.Policy) error {
	var verrs errs.ValidationErrors
	if p.WarnThreshold > p.FlakyThreshold {
		verrs = append(verrs, errs.ValidationError{Field: "warn_threshold", Reason: "warn_threshold must not exceed flaky_threshold"})
	}
	for team, o := range p.TeamOverrides {
		flaky := p.FlakyThreshold
		if o.FlakyThreshold.Valid {
			flaky = o.FlakyThreshold.Float64
		}
		if o.WarnThreshold.Valid && o.WarnThreshold.Float64 > flaky {
			verrs = append(verrs, errs.ValidationError{Field: "team_overrides[" + team + "].warn_threshold",
				Reason: "warn_threshold must not exceed flaky_threshold"})
		}
	}
	w := p.Weights
	if sum := w.FailureRate + w.Inconsistency + w.Recency + w.BranchDiversity; sum <= 0 || math.IsNaN(sum) {
		verrs = append(verrs, errs.ValidationError{Field: "scoring_weights", Reason: "at least one weight must be positive"})
	}
	if len(verrs) > 0 {
		return verrs
	}
	return nil
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
