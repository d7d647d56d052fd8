// Package github lists and downloads GitHub Actions workflow run artifacts.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	jsoniter "github.com/json-iterator/go"
)

const (
	perPage  = 100
	maxPages = 10
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type workflowArtifact struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	SizeInBytes int64     `json:"size_in_bytes"`
	Expired     bool      `json:"expired"`
	CreatedAt   time.Time `json:"created_at"`
}

type artifactsResponse struct {
	TotalCount int                `json:"total_count"`
	Artifacts  []workflowArtifact `json:"artifacts"`
}

type source struct {
	baseURL  string
	token    string
	requests core.Requests
	logger   lumber.Logger
}

// New returns a core.ArtifactSource backed by the GitHub Actions REST api.
func New(baseURL, token string, requests core.Requests, logger lumber.Logger) core.ArtifactSource {
	return &source{baseURL: strings.TrimSuffix(baseURL, "/"), token: token, requests: requests, logger: logger}
}

func (s *source) headers() map[string]string {
	h := map[string]string{"Accept": "application/vnd.github+json"}
	if s.token != "" {
		h["Authorization"] = fmt.Sprintf("Bearer %s", s.token)
	}
	return h
}

func (s *source) List(ctx context.Context, repo core.Repository, runID string) ([]*core.Artifact, error) {
	var artifacts []*core.Artifact
	total := 0
	for page := 1; page <= maxPages; page++ {
		endpoint := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%s/artifacts?per_page=%d&page=%d",
			s.baseURL, url.PathEscape(repo.Owner), url.PathEscape(repo.Name), url.PathEscape(runID), perPage, page)
		body, err := s.requests.MakeAPIRequest(ctx, http.MethodGet, endpoint, nil, s.headers())
		if err != nil {
			return nil, mapStatus(err)
		}
		var resp artifactsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			s.logger.Errorf("failed to decode artifacts response for run %s, error: %v", runID, err)
			return nil, errs.Wrap(err, errs.CodeListFailed, "invalid artifacts response")
		}
		for i := range resp.Artifacts {
			a := resp.Artifacts[i]
			artifacts = append(artifacts, &core.Artifact{
				ID:        strconv.FormatInt(a.ID, 10),
				Name:      a.Name,
				SizeBytes: a.SizeInBytes,
				Expired:   a.Expired,
				CreatedAt: a.CreatedAt,
			})
		}
		total = resp.TotalCount
		if len(resp.Artifacts) < perPage || len(artifacts) >= resp.TotalCount {
			break
		}
	}
	if len(artifacts) < total {
		s.logger.Warnf("run %s of %s lists %d artifacts, only the first %d were read",
			runID, repo.FullName(), total, len(artifacts))
	}
	return artifacts, nil
}

func (s *source) Download(ctx context.Context, repo core.Repository, artifact *core.Artifact) (io.ReadCloser, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/actions/artifacts/%s/zip",
		s.baseURL, url.PathEscape(repo.Owner), url.PathEscape(repo.Name), url.PathEscape(artifact.ID))
	rc, err := s.requests.OpenStream(ctx, endpoint, s.headers())
	if err != nil {
		return nil, mapStatus(err)
	}
	return rc, nil
}

// mapStatus turns 404 and 410 into errs.ErrArtifactGone and marks retryable statuses transient.
func mapStatus(err error) error {
	var statusErr *errs.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	switch {
	case statusErr.StatusCode == http.StatusNotFound, statusErr.StatusCode == http.StatusGone:
		return errs.ErrArtifactGone
	case statusErr.Retryable():
		return errs.Transient(err)
	default:
		return errs.Permanent(err)
	}
}
