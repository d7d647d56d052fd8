package core

import (
	errs "github.com/LambdaTest/flakewatch/pkg/errors"

	"github.com/drone/go-scm/scm"
)

// SCMProvider represents new git scm provider
type SCMProvider interface {
	GetClient(driver SCMDriver) (*SCM, error)
}

// SCM is wrapper around scm.Client
type SCM struct {
	Client *scm.Client
	Name   string
}

// SCMDriver identifies source code management driver.
type SCMDriver string

// SCMDriver values.
const (
	DriverGithub    SCMDriver = "github"
	DriverGitlab    SCMDriver = "gitlab"
	DriverBitbucket SCMDriver = "bitbucket"
)

// VerifyDriver verifies if the SCMDriver is valid.
func (d SCMDriver) VerifyDriver() error {
	switch d {
	case DriverGithub:
	case DriverGitlab:
	case DriverBitbucket:
	default:
		return errs.ErrInvalidDriver
	}
	return nil
}

func (d SCMDriver) String() string {
	return string(d)
}
