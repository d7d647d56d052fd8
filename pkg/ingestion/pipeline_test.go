package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/artifact"
	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/extractor"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/jstemmer/go-junit-report/v2/junit"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4/zero"
)

type fakeSource struct {
	artifacts []*core.Artifact
	content   map[string][]byte
	errs      map[string]error
}

func (f *fakeSource) List(context.Context, core.Repository, string) ([]*core.Artifact, error) {
	return f.artifacts, nil
}

func (f *fakeSource) Download(_ context.Context, _ core.Repository, a *core.Artifact) (io.ReadCloser, error) {
	if err, ok := f.errs[a.ID]; ok {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(f.content[a.ID])), nil
}

type fakeStore struct {
	testCases   []*core.TestCase
	occurrences []*core.Occurrence
	err         error
}

func (f *fakeStore) Write(_ context.Context, _ string, testCases []*core.TestCase, occurrences []*core.Occurrence) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.testCases, f.occurrences = testCases, occurrences
	return int64(len(occurrences)), nil
}

type phaseRecorder struct {
	mu     sync.Mutex
	phases []core.JobPhase
}

func (r *phaseRecorder) Report(_ context.Context, phase core.JobPhase, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.phases); n == 0 || r.phases[n-1] != phase {
		r.phases = append(r.phases, phase)
	}
}

func report(t *testing.T, cases ...junit.Testcase) []byte {
	t.Helper()
	suite := junit.Testsuite{Name: "pkg/api", Timestamp: "2026-03-01T10:00:00"}
	for _, c := range cases {
		suite.AddTestcase(c)
	}
	var doc junit.Testsuites
	doc.AddSuite(suite)
	var buf bytes.Buffer
	require.NoError(t, doc.WriteXML(&buf))
	return buf.Bytes()
}

func zipOf(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, src *fakeSource, store *fakeStore) *Pipeline {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/tmp", 0o755))
	fetcher := artifact.NewFetcher(src, fs, artifact.FetcherOptions{
		TempDir:         "/tmp",
		Concurrency:     2,
		MaxSizeBytes:    1 << 20,
		ListTimeout:     time.Second,
		DownloadTimeout: time.Second,
	}, lumber.NewNoop())
	ext := extractor.New(fs, "/tmp", extractor.Limits{MaxEntries: 100, MaxEntryBytes: 1 << 20, MaxTotalBytes: 4 << 20, MaxDepth: 2},
		lumber.NewNoop())
	p := New(fetcher, artifact.NewFilter(1<<20, []string{"results"}), ext, store, lumber.NewNoop())
	p.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func testJob() *core.Job {
	return &core.Job{
		ID: "job-1", OrgID: "org-1", Owner: "acme", RepoName: "api", RunID: "run-42", Branch: "main",
		Kind: core.JobIngestion, CorrelationID: "corr-1", Team: zero.StringFrom("payments"),
	}
}

func artifactOf(id string, data []byte) *core.Artifact {
	return &core.Artifact{ID: id, Name: id, SizeBytes: int64(len(data))}
}

func TestHandleMalformedAndValidReport(t *testing.T) {
	valid := report(t,
		junit.Testcase{Name: "TestA", Classname: "api.Handler", Time: "0.25"},
		junit.Testcase{Name: "TestB", Classname: "api.Handler"},
		junit.Testcase{Name: "TestC", Classname: "api.Handler"},
		junit.Testcase{Name: "TestD", Classname: "api.Handler", Failure: &junit.Result{Message: "timeout after 30s"}},
	)
	archive := zipOf(t, map[string][]byte{
		"reports/broken.xml": []byte(`<testsuites><testsuite name="x"><testcase name="y">`),
		"reports/unit.xml":   valid,
	})
	src := &fakeSource{
		artifacts: []*core.Artifact{artifactOf("results.zip", archive), artifactOf("coverage.zip", []byte("ignored"))},
		content:   map[string][]byte{"results.zip": archive},
	}
	store := &fakeStore{}
	rep := &phaseRecorder{}

	summary, jobErrs, err := newTestPipeline(t, src, store).Handle(context.Background(), testJob(), rep)
	require.NoError(t, err)
	assert.Empty(t, jobErrs)
	assert.Equal(t, 1, summary.ArtifactsTotal)
	assert.Equal(t, 1, summary.ArtifactsProcessed)
	assert.Equal(t, 1, summary.ReportsParsed)
	assert.Equal(t, 4, summary.TotalTests)
	assert.Equal(t, 3, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
	assert.EqualValues(t, 4, summary.OccurrencesWritten)
	require.Len(t, summary.Warnings, 1)
	assert.Equal(t, "results.zip", summary.Warnings[0].Artifact)
	assert.Equal(t, "reports/broken.xml", summary.Warnings[0].Entry)

	require.Len(t, store.testCases, 4)
	for _, tc := range store.testCases {
		assert.Equal(t, "acme/api", tc.Repo)
		assert.Equal(t, "payments", tc.Team.String)
	}
	require.Len(t, store.occurrences, 4)
	var failed *core.Occurrence
	for _, o := range store.occurrences {
		assert.Equal(t, "run-42", o.RunID)
		assert.Equal(t, "main", o.Branch)
		assert.Equal(t, "job-1", o.JobID)
		if o.Status == core.OccurrenceFailed {
			failed = o
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, "timeout after 30s", failed.FailureMessage.String)
	assert.NotEmpty(t, failed.FailureSignature.String)

	assert.Equal(t, []core.JobPhase{core.PhaseListing, core.PhaseDownload, core.PhaseParsing, core.PhaseWriting, core.PhaseDone},
		rep.phases)
}

func TestHandleIsDeterministic(t *testing.T) {
	data := report(t,
		junit.Testcase{Name: "TestX", Classname: "api"},
		junit.Testcase{Name: "TestX (retry 1)", Classname: "api", Failure: &junit.Result{Message: "flaky"}},
	)
	src := &fakeSource{
		artifacts: []*core.Artifact{artifactOf("test-results.xml", data)},
		content:   map[string][]byte{"test-results.xml": data},
	}
	first, second := &fakeStore{}, &fakeStore{}
	_, _, err := newTestPipeline(t, src, first).Handle(context.Background(), testJob(), &phaseRecorder{})
	require.NoError(t, err)
	_, _, err = newTestPipeline(t, src, second).Handle(context.Background(), testJob(), &phaseRecorder{})
	require.NoError(t, err)

	require.Len(t, first.testCases, 1)
	assert.Equal(t, "TestX", first.testCases[0].Name)
	require.Len(t, first.occurrences, 2)
	assert.Equal(t, 0, first.occurrences[0].Attempt)
	assert.Equal(t, 1, first.occurrences[1].Attempt)
	for i := range first.occurrences {
		assert.Equal(t, first.occurrences[i].ID, second.occurrences[i].ID)
	}
	assert.Equal(t, first.testCases[0].ID, second.testCases[0].ID)
}

func TestHandleNoArtifactsProcessed(t *testing.T) {
	tests := []struct {
		name      string
		errs      map[string]error
		transient bool
	}{
		{
			name: "permanent",
			errs: map[string]error{"results-a.zip": errors.New("corrupt"), "results-b.zip": errs.Permanent(errs.ErrArtifactTooLarge)},
		},
		{
			name:      "transient",
			errs:      map[string]error{"results-a.zip": errors.New("corrupt"), "results-b.zip": errs.Transient(&errs.StatusError{StatusCode: 502})},
			transient: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{
				artifacts: []*core.Artifact{artifactOf("results-a.zip", []byte("aaaa")), artifactOf("results-b.zip", []byte("bbbb"))},
				errs:      tt.errs,
			}
			store := &fakeStore{}
			summary, jobErrs, err := newTestPipeline(t, src, store).Handle(context.Background(), testJob(), &phaseRecorder{})
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrNoArtifactsProcessed)
			assert.Equal(t, errs.CodeNoArtifacts, errs.CodeOf(err))
			assert.Equal(t, tt.transient, errs.IsTransient(err))
			assert.Equal(t, 2, summary.ArtifactsFailed)
			assert.Len(t, jobErrs, 2)
			assert.Nil(t, store.occurrences)
		})
	}
}

func TestHandleGoneArtifactsAreSkipped(t *testing.T) {
	data := report(t, junit.Testcase{Name: "TestA", Classname: "api"})
	src := &fakeSource{
		artifacts: []*core.Artifact{artifactOf("results-a.xml", data), artifactOf("results-b.xml", data)},
		content:   map[string][]byte{"results-a.xml": data},
		errs:      map[string]error{"results-b.xml": errs.ErrArtifactGone},
	}
	summary, jobErrs, err := newTestPipeline(t, src, &fakeStore{}).Handle(context.Background(), testJob(), &phaseRecorder{})
	require.NoError(t, err)
	assert.Empty(t, jobErrs)
	assert.Equal(t, 1, summary.ArtifactsProcessed)
	assert.Zero(t, summary.ArtifactsFailed)
}

func TestHandleNothingSelected(t *testing.T) {
	src := &fakeSource{artifacts: []*core.Artifact{{ID: "results.zip", Name: "results.zip", SizeBytes: 10, Expired: true}}}
	summary, jobErrs, err := newTestPipeline(t, src, &fakeStore{}).Handle(context.Background(), testJob(), &phaseRecorder{})
	require.NoError(t, err)
	assert.Empty(t, jobErrs)
	assert.Zero(t, summary.ArtifactsTotal)
}

func TestHandleStoreErrorPropagates(t *testing.T) {
	data := report(t, junit.Testcase{Name: "TestA", Classname: "api"})
	src := &fakeSource{artifacts: []*core.Artifact{artifactOf("results.xml", data)}, content: map[string][]byte{"results.xml": data}}
	_, _, err := newTestPipeline(t, src, &fakeStore{err: errs.ErrDeadlock}).Handle(context.Background(), testJob(), &phaseRecorder{})
	assert.ErrorIs(t, err, errs.ErrDeadlock)
	assert.True(t, errs.IsTransient(err))
}

func TestHandleMissingTenant(t *testing.T) {
	job := testJob()
	job.OrgID = ""
	_, _, err := newTestPipeline(t, &fakeSource{}, &fakeStore{}).Handle(context.Background(), job, &phaseRecorder{})
	assert.ErrorIs(t, err, errs.ErrMissingTenant)
}
