package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/core"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
)

type countingResolver struct {
	sweeps int32
}

func (c *countingResolver) Resolve(context.Context, core.Repository, string) (*core.Policy, error) {
	return nil, nil
}

func (c *countingResolver) Invalidate(core.Repository) {}

func (c *countingResolver) Sweep() int {
	atomic.AddInt32(&c.sweeps, 1)
	return 1
}

type expiringStore struct {
	calls int32
	err   error
}

func (e *expiringStore) FindActiveInTx(context.Context, *sqlx.Tx, string, []string) (map[string]*core.QuarantineDecision, error) {
	return nil, nil
}

func (e *expiringStore) CreateInTx(context.Context, *sqlx.Tx, []*core.QuarantineDecision) error {
	return nil
}

func (e *expiringStore) TransitionInTx(context.Context, *sqlx.Tx, string, string, core.QuarantineState, string, string) error {
	return nil
}

func (e *expiringStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	atomic.AddInt32(&e.calls, 1)
	return 2, e.err
}

func runFor(s core.Scheduler, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	<-done
}

func TestPolicySweeperTicks(t *testing.T) {
	r := &countingResolver{}
	runFor(NewPolicySweeper(r, 5*time.Millisecond, lumber.NewNoop()), 60*time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&r.sweeps), int32(2))
}

func TestQuarantineExpirerKeepsRunningOnError(t *testing.T) {
	store := &expiringStore{err: errors.New("db down")}
	runFor(NewQuarantineExpirer(store, 5*time.Millisecond, lumber.NewNoop()), 60*time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&store.calls), int32(2))
}

func TestDisabledScheduler(t *testing.T) {
	r := &countingResolver{}
	runFor(NewPolicySweeper(r, 0, lumber.NewNoop()), 20*time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&r.sweeps))
}
