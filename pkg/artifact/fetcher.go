package artifact

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Failure stages.
const (
	StageList     = "list"
	StageDownload = "download"
	StageExtract  = "extract"
)

// Handler consumes one downloaded artifact. The backing file is removed once it returns.
type Handler func(ctx context.Context, downloaded *core.DownloadedArtifact) error

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	TempDir         string
	Concurrency     int
	MaxSizeBytes    int64
	ListTimeout     time.Duration
	DownloadTimeout time.Duration
}

// Fetcher lists and downloads artifacts into scoped transient storage.
type Fetcher struct {
	source core.ArtifactSource
	fs     afero.Fs
	opts   FetcherOptions
	logger lumber.Logger
}

// NewFetcher returns a Fetcher downloading from source onto fs.
func NewFetcher(source core.ArtifactSource, fs afero.Fs, opts FetcherOptions, logger lumber.Logger) *Fetcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Fetcher{source: source, fs: fs, opts: opts, logger: logger}
}

// List returns the artifacts of a run. A missing or expired run yields an empty list.
func (f *Fetcher) List(ctx context.Context, repo core.Repository, runID string) ([]*core.Artifact, error) {
	listCtx, cancel := context.WithTimeout(ctx, f.opts.ListTimeout)
	defer cancel()
	artifacts, err := f.source.List(listCtx, repo, runID)
	if err != nil {
		if errors.Is(err, errs.ErrArtifactGone) {
			f.logger.Infof("no artifacts available for run %s of %s", runID, repo.FullName())
			return nil, nil
		}
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, errs.Transient(errs.Wrap(err, errs.CodeTimeout, "listing artifacts timed out"))
		}
		return nil, err
	}
	return artifacts, nil
}

// ForEach downloads every artifact with bounded concurrency and hands it to handler. Per artifact
// failures are collected and never abort the others, only cancellation of ctx does.
func (f *Fetcher) ForEach(ctx context.Context, repo core.Repository, artifacts []*core.Artifact,
	handler Handler) (processed int, failures []core.ArtifactFailure, err error) {
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(f.opts.Concurrency)
	for _, a := range artifacts {
		a := a
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			stage, herr := f.process(ctx, repo, a, handler)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case herr == nil:
				processed++
			case errors.Is(herr, errs.ErrArtifactGone):
				f.logger.Infof("artifact %s is gone, skipping", a.Name)
			default:
				f.logger.Warnf("failed to process artifact %s at stage %s, error: %v", a.Name, stage, herr)
				failures = append(failures, core.ArtifactFailure{Artifact: a.Name, Stage: stage, Err: herr})
			}
			return nil
		})
	}
	_ = g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return processed, failures, ctxErr
	}
	return processed, failures, nil
}

func (f *Fetcher) process(ctx context.Context, repo core.Repository, a *core.Artifact, handler Handler) (string, error) {
	tmp, err := afero.TempFile(f.fs, f.opts.TempDir, "fw-artifact-*")
	if err != nil {
		return StageDownload, err
	}
	defer func() {
		tmp.Close()
		if rerr := f.fs.Remove(tmp.Name()); rerr != nil {
			f.logger.Errorf("failed to remove temp file %s, error: %v", tmp.Name(), rerr)
		}
	}()

	size, err := f.download(ctx, repo, a, tmp)
	if err != nil {
		return StageDownload, err
	}
	if err := tmp.Close(); err != nil {
		return StageDownload, err
	}
	downloaded := &core.DownloadedArtifact{Artifact: a, Path: tmp.Name(), Size: size}
	if err := handler(ctx, downloaded); err != nil {
		return StageExtract, err
	}
	return "", nil
}

func (f *Fetcher) download(ctx context.Context, repo core.Repository, a *core.Artifact, w io.Writer) (int64, error) {
	dlCtx, cancel := context.WithTimeout(ctx, f.opts.DownloadTimeout)
	defer cancel()
	rc, err := f.source.Download(dlCtx, repo, a)
	if err != nil {
		return 0, f.classify(ctx, err)
	}
	defer rc.Close()
	n, err := io.Copy(w, io.LimitReader(rc, f.opts.MaxSizeBytes+1))
	if err != nil {
		return n, f.classify(ctx, err)
	}
	if n > f.opts.MaxSizeBytes {
		return n, errs.Permanent(errs.ErrArtifactTooLarge)
	}
	return n, nil
}

func (f *Fetcher) classify(ctx context.Context, err error) error {
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return errs.Transient(errs.Wrap(err, errs.CodeTimeout, "artifact download timed out"))
	}
	return err
}
