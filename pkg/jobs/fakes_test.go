package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"gopkg.in/guregu/null.v4/zero"
)

type memStore struct {
	mu       sync.Mutex
	jobs     map[string]*core.Job
	active   map[string]string
	progress []*core.JobProgress
	// findErrs are returned by successive Find calls before the store answers
	findErrs []error
	claimErr error
}

func newMemStore() *memStore {
	return &memStore{jobs: map[string]*core.Job{}, active: map[string]string{}}
}

func (m *memStore) copyOf(j *core.Job) *core.Job {
	c := *j
	c.Errors = append(core.JobErrors{}, j.Errors...)
	return &c
}

func (m *memStore) CreateIfNotActive(_ context.Context, job *core.Job) (*core.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.active[job.ActiveKey.String]; ok {
		return m.copyOf(m.jobs[id]), false, nil
	}
	// a finished job keeps its id, resubmitting it returns the stored job
	if existing, ok := m.jobs[job.ID]; ok {
		return m.copyOf(existing), false, nil
	}
	m.jobs[job.ID] = m.copyOf(job)
	m.active[job.ActiveKey.String] = job.ID
	return m.copyOf(job), true, nil
}

func (m *memStore) Find(_ context.Context, orgID, jobID string) (*core.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.findErrs) > 0 {
		err := m.findErrs[0]
		m.findErrs = m.findErrs[1:]
		return nil, err
	}
	j, ok := m.jobs[jobID]
	if !ok || j.OrgID != orgID {
		return nil, errs.ErrJobNotFound
	}
	return m.copyOf(j), nil
}

func (m *memStore) Claim(_ context.Context, orgID, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	j, ok := m.jobs[jobID]
	if !ok || j.OrgID != orgID || j.Status != core.JobQueued {
		return false, nil
	}
	j.Status = core.JobProcessing
	return true, nil
}

func (m *memStore) IncrementAttempts(_ context.Context, _, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID].Attempts++
	return nil
}

func (m *memStore) UpdateProgress(_ context.Context, _, jobID string, p *core.JobProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[jobID]
	j.Phase, j.Processed, j.Total = p.Phase, p.Processed, p.Total
	m.progress = append(m.progress, p)
	return nil
}

func (m *memStore) Finish(_ context.Context, orgID, jobID string, status core.JobStatus,
	summary *core.JobSummary, jobErrors core.JobErrors) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.OrgID != orgID || j.Status.Terminal() {
		return errs.ErrJobFinished
	}
	j.Status, j.Summary, j.Errors = status, summary, jobErrors
	j.FinishedAt = zero.TimeFrom(time.Now())
	delete(m.active, j.ActiveKey.String)
	j.ActiveKey = zero.String{}
	return nil
}

func (m *memStore) CountQueued(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Status == core.JobQueued {
			n++
		}
	}
	return n, nil
}

func (m *memStore) FailStale(_ context.Context, updatedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if j.Status.Terminal() || !j.Updated.Before(updatedBefore) {
			continue
		}
		j.Status = core.JobFailed
		j.Errors = core.JobErrors{{Code: errs.CodeTimeout, Message: "job was not processed before its deadline"}}
		delete(m.active, j.ActiveKey.String)
		j.ActiveKey = zero.String{}
		n++
	}
	return n, nil
}

func (m *memStore) status(jobID string) core.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[jobID].Status
}

type fakeProducer struct {
	mu       sync.Mutex
	payloads []*core.JobPayload
	err      error
}

func (f *fakeProducer) Enqueue(payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload.(*core.JobPayload))
	return nil
}

func (f *fakeProducer) Close() error { return nil }

type memTracker struct {
	mu   sync.Mutex
	data map[string]*core.JobProgress
}

func newMemTracker() *memTracker {
	return &memTracker{data: map[string]*core.JobProgress{}}
}

func (t *memTracker) Set(_ context.Context, jobID string, p *core.JobProgress) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[jobID] = p
	return nil
}

func (t *memTracker) Get(_ context.Context, jobID string) (*core.JobProgress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.data[jobID]
	if !ok {
		return nil, errs.ErrRedisKeyNotFound
	}
	return p, nil
}

func (t *memTracker) Delete(_ context.Context, jobID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.data, jobID)
	return nil
}

type handlerFunc func(ctx context.Context, job *core.Job, rep core.ProgressReporter) (*core.JobSummary, core.JobErrors, error)

func (f handlerFunc) Handle(ctx context.Context, job *core.Job,
	rep core.ProgressReporter) (*core.JobSummary, core.JobErrors, error) {
	return f(ctx, job, rep)
}

type recordingSubmitter struct {
	mu   sync.Mutex
	reqs []*core.SubmitRequest
}

func (r *recordingSubmitter) Submit(_ context.Context, req *core.SubmitRequest) (*core.SubmitResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return &core.SubmitResponse{JobID: "analysis", Status: core.JobQueued}, nil
}
