// Package azure serves CI artifacts uploaded to Azure Blob Storage.
package azure

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/LambdaTest/flakewatch/config"
	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
)

const (
	maxRetryRequests = 5
	// expiresAtKey is the blob metadata key holding the artifact retention deadline.
	expiresAtKey = "expires_at"
)

// store represents the azure storage
type store struct {
	container azblob.ContainerURL
	logger    lumber.Logger
	now       func() time.Time
}

// NewArtifactSource returns a core.ArtifactSource reading blobs laid out as <org>/<owner>/<repo>/<run>/<name>.
func NewArtifactSource(cfg *config.Config, logger lumber.Logger) (core.ArtifactSource, error) {
	if cfg.Azure.StorageAccountName == "" ||
		cfg.Azure.StorageAccessKey == "" ||
		cfg.Azure.ArtifactContainerName == "" {
		return nil, errs.ErrAzureConfig
	}
	credential, err := azblob.NewSharedKeyCredential(cfg.Azure.StorageAccountName, cfg.Azure.StorageAccessKey)
	if err != nil {
		logger.Errorf("Invalid azure credentials, error: %v", err)
		return nil, err
	}
	u, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Azure.StorageAccountName))
	if err != nil {
		return nil, err
	}
	pipe := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	service := azblob.NewServiceURL(*u, pipe)
	return &store{
		container: service.NewContainerURL(cfg.Azure.ArtifactContainerName),
		logger:    logger,
		now:       time.Now,
	}, nil
}

func runPrefix(repo core.Repository, runID string) string {
	return path.Join(repo.OrgID, repo.Owner, repo.Name, runID) + "/"
}

func (s *store) List(ctx context.Context, repo core.Repository, runID string) ([]*core.Artifact, error) {
	prefix := runPrefix(repo, runID)
	var artifacts []*core.Artifact
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := s.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix:  prefix,
			Details: azblob.BlobListingDetails{Metadata: true},
		})
		if err != nil {
			return nil, errs.AzureError(err)
		}
		marker = resp.NextMarker
		for i := range resp.Segment.BlobItems {
			item := &resp.Segment.BlobItems[i]
			if item.Deleted {
				continue
			}
			artifacts = append(artifacts, s.toArtifact(prefix, item))
		}
	}
	return artifacts, nil
}

func (s *store) toArtifact(prefix string, item *azblob.BlobItemInternal) *core.Artifact {
	a := &core.Artifact{
		ID:        item.Name,
		Name:      strings.TrimPrefix(item.Name, prefix),
		CreatedAt: item.Properties.LastModified,
	}
	if item.Properties.ContentLength != nil {
		a.SizeBytes = *item.Properties.ContentLength
	}
	if item.Properties.CreationTime != nil {
		a.CreatedAt = *item.Properties.CreationTime
	}
	if raw, ok := item.Metadata[expiresAtKey]; ok {
		if expiresAt, err := time.Parse(time.RFC3339, raw); err == nil {
			a.Expired = s.now().After(expiresAt)
		}
	}
	return a
}

func (s *store) Download(ctx context.Context, repo core.Repository, artifact *core.Artifact) (io.ReadCloser, error) {
	if !strings.HasPrefix(artifact.ID, repo.OrgID+"/") {
		return nil, errs.ErrMissingTenant
	}
	blobURL := s.container.NewBlockBlobURL(artifact.ID)
	out, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, errs.AzureError(err)
	}
	return out.Body(azblob.RetryReaderOptions{MaxRetryRequests: maxRetryRequests}), nil
}
