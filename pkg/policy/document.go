// Package policy loads, validates and caches repository flakiness policies.
package policy

import (
	"bytes"
	"errors"
	"io"
	"regexp"

	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"gopkg.in/yaml.v3"
)

var unknownFieldRe = regexp.MustCompile(`field (\S+) not found`)

// Document is the repository hosted policy file. Every field is optional, unset fields keep the
// environment defaults.
type Document struct {
	FlakyThreshold         *float64                        `yaml:"flaky_threshold" validate:"omitempty,gte=0,lte=1"`
	WarnThreshold          *float64                        `yaml:"warn_threshold" validate:"omitempty,gte=0,lte=1"`
	MinOccurrences         *int                            `yaml:"min_occurrences" validate:"omitempty,gte=1,lte=10000"`
	MinRecentFailures      *int                            `yaml:"min_recent_failures" validate:"omitempty,gte=0,lte=10000"`
	MinConfidence          *float64                        `yaml:"min_confidence" validate:"omitempty,gte=0,lte=1"`
	LookbackDays           *int                            `yaml:"lookback_days" validate:"omitempty,gte=1,lte=365"`
	RollingWindowSize      *int                            `yaml:"rolling_window_size" validate:"omitempty,gte=1,lte=1000"`
	ExcludePaths           []string                        `yaml:"exclude_paths" validate:"omitempty,dive,required,glob"`
	LabelsRequired         []string                        `yaml:"labels_required" validate:"omitempty,dive,required"`
	AutoQuarantineEnabled  *bool                           `yaml:"auto_quarantine_enabled"`
	QuarantineDurationDays *int                            `yaml:"quarantine_duration_days" validate:"omitempty,gte=0,lte=365"`
	ExemptedTests          []string                        `yaml:"exempted_tests" validate:"omitempty,dive,required,glob"`
	TeamOverrides          map[string]TeamOverrideDocument `yaml:"team_overrides" validate:"omitempty,dive"`
	ScoringWeights         *WeightsDocument                `yaml:"scoring_weights"`
}

// TeamOverrideDocument overrides thresholds for one team.
type TeamOverrideDocument struct {
	FlakyThreshold *float64 `yaml:"flaky_threshold" validate:"omitempty,gte=0,lte=1"`
	WarnThreshold  *float64 `yaml:"warn_threshold" validate:"omitempty,gte=0,lte=1"`
}

// WeightsDocument overrides the score factor weights.
type WeightsDocument struct {
	FailureRate     *float64 `yaml:"failure_rate" validate:"omitempty,gte=0,lte=1"`
	Inconsistency   *float64 `yaml:"inconsistency" validate:"omitempty,gte=0,lte=1"`
	Recency         *float64 `yaml:"recency" validate:"omitempty,gte=0,lte=1"`
	BranchDiversity *float64 `yaml:"branch_diversity" validate:"omitempty,gte=0,lte=1"`
}

// Decode strictly decodes a policy document, unknown fields are rejected. An empty document is valid.
func Decode(data []byte) (*Document, error) {
	doc := new(Document)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(doc); err != nil {
		if errors.Is(err, io.EOF) {
			return doc, nil
		}
		return nil, decodeErr(err)
	}
	return doc, nil
}

// Encode renders the document as yaml.
func Encode(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeErr(err error) error {
	var typeErr *yaml.TypeError
	if !errors.As(err, &typeErr) {
		return errs.ValidationErrors{{Field: "document", Reason: err.Error()}}
	}
	verrs := make(errs.ValidationErrors, 0, len(typeErr.Errors))
	for _, msg := range typeErr.Errors {
		field := "document"
		if m := unknownFieldRe.FindStringSubmatch(msg); m != nil {
			field = m[1]
		}
		verrs = append(verrs, errs.ValidationError{Field: field, Reason: msg})
	}
	return verrs
}
