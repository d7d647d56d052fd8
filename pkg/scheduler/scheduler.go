// Package scheduler runs the periodic maintenance of the service.
package scheduler

import (
	"context"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/core"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
)

type scheduler struct {
	name   string
	period time.Duration
	tick   func(ctx context.Context) error
	logger lumber.Logger
}

// Run executes tick every period until ctx is done.
func (s *scheduler) Run(ctx context.Context) {
	if s.period <= 0 {
		s.logger.Warnf("scheduler to %s disabled, non positive period %s", s.name, s.period)
		return
	}
	s.logger.Infof("Starting scheduler to %s every %s.", s.name, s.period)
	timer := time.NewTicker(s.period)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debugf("Closed scheduler to %s", s.name)
			return
		case <-timer.C:
			if err := s.tick(ctx); err != nil {
				s.logger.Errorf("scheduler failed to %s, error %v", s.name, err)
			}
		}
	}
}

// NewPolicySweeper returns a scheduler evicting expired policy cache entries.
func NewPolicySweeper(resolver core.PolicyResolver, period time.Duration, logger lumber.Logger) core.Scheduler {
	return &scheduler{
		name:   "sweep policy cache",
		period: period,
		logger: logger,
		tick: func(context.Context) error {
			if n := resolver.Sweep(); n > 0 {
				logger.Debugf("evicted %d expired policies", n)
			}
			return nil
		},
	}
}

// NewQuarantineExpirer returns a scheduler moving ACTIVE quarantines past their expiry to EXPIRED.
func NewQuarantineExpirer(store core.QuarantineStore, period time.Duration, logger lumber.Logger) core.Scheduler {
	return &scheduler{
		name:   "expire quarantines",
		period: period,
		logger: logger,
		tick: func(ctx context.Context) error {
			n, err := store.ExpireDue(ctx, time.Now())
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Infof("expired %d quarantine decisions", n)
			}
			return nil
		},
	}
}

// NewStaleJobReaper returns a scheduler failing queued or processing jobs not updated for staleAfter.
func NewStaleJobReaper(store core.JobStore, period, staleAfter time.Duration, logger lumber.Logger) core.Scheduler {
	return &scheduler{
		name:   "fail stale jobs",
		period: period,
		logger: logger,
		tick: func(ctx context.Context) error {
			n, err := store.FailStale(ctx, time.Now().Add(-staleAfter))
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Warnf("failed %d stale jobs", n)
			}
			return nil
		},
	}
}
