package gitscm

import (
	"context"
	"errors"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/drone/go-scm/scm"
)

type fileSource struct {
	provider core.SCMProvider
	driver   core.SCMDriver
	token    string
	path     string
}

// NewFileSource returns a core.PolicyFileSource reading path from repositories hosted on driver.
func NewFileSource(provider core.SCMProvider, driver core.SCMDriver, token, path string) (core.PolicyFileSource, error) {
	if err := driver.VerifyDriver(); err != nil {
		return nil, err
	}
	return &fileSource{provider: provider, driver: driver, token: token, path: path}, nil
}

func (f *fileSource) Fetch(ctx context.Context, repo core.Repository, ref string) ([]byte, error) {
	client, err := f.provider.GetClient(f.driver)
	if err != nil {
		return nil, err
	}
	if f.token != "" {
		ctx = context.WithValue(ctx, scm.TokenKey{}, &scm.Token{Token: f.token})
	}
	content, _, err := client.Client.Contents.Find(ctx, repo.FullName(), f.path, ref)
	if err != nil {
		if errors.Is(err, scm.ErrNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return content.Data, nil
}
