package azure

import (
	"context"
	"testing"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/LambdaTest/flakewatch/config"
	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/stretchr/testify/assert"
)

func TestNewArtifactSourceRequiresConfig(t *testing.T) {
	_, err := NewArtifactSource(&config.Config{}, lumber.NewNoop())
	assert.ErrorIs(t, err, errs.ErrAzureConfig)
}

func TestToArtifact(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s := &store{logger: lumber.NewNoop(), now: func() time.Time { return now }}
	size := int64(2048)
	created := now.Add(-time.Hour)
	repo := core.Repository{OrgID: "org", Owner: "acme", Name: "api"}
	prefix := runPrefix(repo, "7")
	assert.Equal(t, "org/acme/api/7/", prefix)

	tests := []struct {
		name    string
		meta    azblob.Metadata
		expired bool
	}{
		{"no retention", nil, false},
		{"retained", azblob.Metadata{expiresAtKey: now.Add(time.Hour).Format(time.RFC3339)}, false},
		{"expired", azblob.Metadata{expiresAtKey: now.Add(-time.Minute).Format(time.RFC3339)}, true},
		{"invalid retention", azblob.Metadata{expiresAtKey: "soon"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &azblob.BlobItemInternal{
				Name:       prefix + "junit.zip",
				Properties: azblob.BlobProperties{ContentLength: &size, CreationTime: &created},
				Metadata:   tt.meta,
			}
			a := s.toArtifact(prefix, item)
			assert.Equal(t, "junit.zip", a.Name)
			assert.Equal(t, prefix+"junit.zip", a.ID)
			assert.Equal(t, size, a.SizeBytes)
			assert.Equal(t, created, a.CreatedAt)
			assert.Equal(t, tt.expired, a.Expired)
		})
	}
}

func TestDownloadRejectsForeignTenant(t *testing.T) {
	s := &store{logger: lumber.NewNoop(), now: time.Now}
	_, err := s.Download(context.Background(), core.Repository{OrgID: "org"}, &core.Artifact{ID: "other/acme/api/1/a.zip"})
	assert.ErrorIs(t, err, errs.ErrMissingTenant)
}
