package core

import (
	"context"
	"io"
	"time"
)

// Artifact is a downloadable CI artifact as listed by the artifact source.
type Artifact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	Expired   bool      `json:"expired"`
	CreatedAt time.Time `json:"created_at"`
}

// ArtifactSource is the external CI provider holding the artifacts of a run.
// Missing or expired runs and artifacts are reported as empty results or errs.ErrArtifactGone.
type ArtifactSource interface {
	// List returns the candidate artifacts of a run.
	List(ctx context.Context, repo Repository, runID string) ([]*Artifact, error)
	// Download opens a stream over the artifact content.
	Download(ctx context.Context, repo Repository, artifact *Artifact) (io.ReadCloser, error)
}

// DownloadedArtifact is an artifact spilled to scoped transient storage.
type DownloadedArtifact struct {
	Artifact *Artifact
	Path     string
	Size     int64
}

// ArtifactFailure records why a single artifact could not be processed.
type ArtifactFailure struct {
	Artifact string `json:"artifact"`
	Stage    string `json:"stage"`
	Err      error  `json:"-"`
}
