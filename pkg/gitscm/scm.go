// Package gitscm provides git scm clients used to read repository hosted files.
package gitscm

import (
	"net/http"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/drone/go-scm/scm"
	"github.com/drone/go-scm/scm/driver/bitbucket"
	"github.com/drone/go-scm/scm/driver/github"
	"github.com/drone/go-scm/scm/driver/gitlab"
	"github.com/drone/go-scm/scm/transport/oauth2"
	"github.com/hashicorp/go-cleanhttp"
)

// gitClientProvider provides the git scm client
type gitClientProvider struct {
	logger  lumber.Logger
	clients map[core.SCMDriver]*core.SCM
}

// New initializes GitClientProvider
func New(logger lumber.Logger) core.SCMProvider {
	return &gitClientProvider{
		logger: logger,
		clients: map[core.SCMDriver]*core.SCM{
			core.DriverGithub:    {Client: withTokenTransport(github.NewDefault()), Name: core.DriverGithub.String()},
			core.DriverGitlab:    {Client: withTokenTransport(gitlab.NewDefault()), Name: core.DriverGitlab.String()},
			core.DriverBitbucket: {Client: withTokenTransport(bitbucket.NewDefault()), Name: core.DriverBitbucket.String()},
		},
	}
}

func (g *gitClientProvider) GetClient(driver core.SCMDriver) (*core.SCM, error) {
	client, ok := g.clients[driver]
	if !ok {
		return nil, errs.ErrInvalidDriver
	}
	return client, nil
}

// withTokenTransport authenticates every request with the token carried by the request context.
func withTokenTransport(client *scm.Client) *scm.Client {
	client.Client = &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.ContextTokenSource(),
			Base:   cleanhttp.DefaultPooledTransport(),
		},
	}
	return client
}
