package decision

import (
	"github.com/LambdaTest/flakewatch/pkg/core"
	"gopkg.in/guregu/null.v4"
)

// Priority derives the routing priority from score and confidence.
//
//nolint:gomnd
func Priority(score null.Float, confidence float64) core.Priority {
	if !score.Valid {
		return core.PriorityLow
	}
	s := score.Float64
	switch {
	case s >= 0.8 && confidence >= 0.8:
		return core.PriorityCritical
	case s >= 0.6 && confidence >= 0.6:
		return core.PriorityHigh
	case s >= 0.3:
		return core.PriorityMedium
	default:
		return core.PriorityLow
	}
}
