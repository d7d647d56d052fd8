package job

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	submitted *core.SubmitRequest
	resp      *core.SubmitResponse
	status    *core.JobStatusResponse
	err       error
	cancelled []string
}

func (f *fakeService) Submit(_ context.Context, req *core.SubmitRequest) (*core.SubmitResponse, error) {
	f.submitted = req
	return f.resp, f.err
}

func (f *fakeService) Status(_ context.Context, orgID, jobID string) (*core.JobStatusResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func (f *fakeService) Cancel(_ context.Context, orgID, jobID string) error {
	f.cancelled = append(f.cancelled, orgID+"/"+jobID)
	return f.err
}

func newEngine(service core.JobService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	logger := lumber.NewNoop()
	r.POST("/jobs", HandleSubmit(service, nil, logger))
	r.GET("/jobs/:org/:id", HandleStatus(service, logger))
	r.DELETE("/jobs/:org/:id", HandleCancel(service, logger))
	return r
}

func serve(r *gin.Engine, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleSubmit(t *testing.T) {
	tests := []struct {
		name       string
		resp       *core.SubmitResponse
		err        error
		body       string
		wantStatus int
	}{
		{
			name:       "accepted",
			resp:       &core.SubmitResponse{JobID: "job-1", Status: core.JobQueued},
			body:       `{"org_id":"org-1","repo":"acme/api","run_id":"42","labels":["ci"]}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "deduplicated",
			resp:       &core.SubmitResponse{JobID: "job-1", Status: core.JobProcessing, Deduplicated: true},
			body:       `{"org_id":"org-1","repo":"acme/api","run_id":"42"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing run id",
			body:       `{"org_id":"org-1","repo":"acme/api"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown kind",
			body:       `{"org_id":"org-1","repo":"acme/api","run_id":"42","kind":"rebuild"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "repository without owner",
			body:       `{"org_id":"org-1","repo":"api","run_id":"42"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{"org_id":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "queue unavailable",
			err:        errs.Transient(errors.New("broker down")),
			body:       `{"org_id":"org-1","repo":"acme/api","run_id":"42"}`,
			wantStatus: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &fakeService{resp: tt.resp, err: tt.err}
			w := serve(newEngine(service), http.MethodPost, "/jobs", tt.body, nil)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestHandleSubmitCorrelationHeader(t *testing.T) {
	service := &fakeService{resp: &core.SubmitResponse{JobID: "job-1"}}
	w := serve(newEngine(service), http.MethodPost, "/jobs",
		`{"org_id":"org-1","repo":"acme/api","run_id":"42","kind":"analysis","priority":3}`,
		map[string]string{CorrelationHeader: "corr-9"})

	require.Equal(t, http.StatusAccepted, w.Code)
	require.NotNil(t, service.submitted)
	assert.Equal(t, "corr-9", service.submitted.CorrelationID)
	assert.Equal(t, core.JobAnalysis, service.submitted.Kind)
	assert.Equal(t, core.Repository{OrgID: "org-1", Owner: "acme", Name: "api"}, service.submitted.Repo)
	assert.Equal(t, 3, service.submitted.Priority)
}

func TestHandleSubmitValidationBody(t *testing.T) {
	w := serve(newEngine(&fakeService{}), http.MethodPost, "/jobs", `{"org_id":"org-1","repo":"acme/api"}`, nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Code   string                `json:"code"`
		Errors errs.ValidationErrors `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(errs.CodeInvalidInput), body.Code)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "RunID", body.Errors[0].Field)
	assert.Equal(t, "required", body.Errors[0].Reason)
}

func TestHandleStatus(t *testing.T) {
	service := &fakeService{status: &core.JobStatusResponse{JobID: "job-1", Status: core.JobProcessing, Percentage: 50}}
	w := serve(newEngine(service), http.MethodGet, "/jobs/org-1/job-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status core.JobStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "job-1", status.JobID)
	assert.Equal(t, 50.0, status.Percentage)

	w = serve(newEngine(&fakeService{err: errs.ErrNotFound}), http.MethodGet, "/jobs/org-2/job-1", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleCancel(t *testing.T) {
	service := &fakeService{}
	w := serve(newEngine(service), http.MethodDelete, "/jobs/org-1/job-1", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"org-1/job-1"}, service.cancelled)

	w = serve(newEngine(&fakeService{err: errs.ErrJobFinished}), http.MethodDelete, "/jobs/org-1/job-1", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}
