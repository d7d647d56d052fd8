package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
)

const progressTTL = 24 * time.Hour

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type progressTracker struct {
	redisDB core.RedisDB
}

// NewProgressTracker returns a ProgressTracker keeping live progress in redis.
func NewProgressTracker(redisDB core.RedisDB) core.ProgressTracker {
	return &progressTracker{redisDB: redisDB}
}

func progressKey(jobID string) string {
	return core.JobProgressPrefix + jobID
}

func (p *progressTracker) Set(ctx context.Context, jobID string, progress *core.JobProgress) error {
	raw, err := json.Marshal(progress)
	if err != nil {
		return errs.ErrMarshalJSON
	}
	return p.redisDB.Client().Set(ctx, progressKey(jobID), raw, progressTTL).Err()
}

func (p *progressTracker) Get(ctx context.Context, jobID string) (*core.JobProgress, error) {
	raw, err := p.redisDB.Client().Get(ctx, progressKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errs.ErrRedisKeyNotFound
		}
		return nil, err
	}
	progress := new(core.JobProgress)
	if err := json.Unmarshal(raw, progress); err != nil {
		return nil, errs.ErrUnMarshalJSON
	}
	return progress, nil
}

func (p *progressTracker) Delete(ctx context.Context, jobID string) error {
	return p.redisDB.Client().Del(ctx, progressKey(jobID)).Err()
}

// reporter publishes progress of one job. Only phase changes are flushed to the job row;
// counters go to the tracker.
type reporter struct {
	job     *core.Job
	store   core.JobStore
	tracker core.ProgressTracker
	log     func(format string, args ...interface{})
	now     func() time.Time
	last    *core.JobProgress
}

func (r *reporter) Report(ctx context.Context, phase core.JobPhase, processed, total int) {
	progress := &core.JobProgress{Phase: phase, Processed: processed, Total: total, UpdatedAt: r.now()}
	phaseChanged := r.last == nil || r.last.Phase != phase
	r.last = progress
	if err := r.tracker.Set(ctx, r.job.ID, progress); err != nil {
		r.log("failed to publish progress of job %s, error: %v", r.job.ID, err)
	}
	if phaseChanged {
		if err := r.store.UpdateProgress(ctx, r.job.OrgID, r.job.ID, progress); err != nil {
			r.log("failed to persist progress of job %s, error: %v", r.job.ID, err)
		}
	}
}

// flush persists the latest counters to the job row.
func (r *reporter) flush(ctx context.Context) {
	if r.last == nil {
		return
	}
	if err := r.store.UpdateProgress(ctx, r.job.OrgID, r.job.ID, r.last); err != nil {
		r.log("failed to persist progress of job %s, error: %v", r.job.ID, err)
	}
}
