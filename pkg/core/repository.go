package core

import (
	"fmt"
	"strings"

	errs "github.com/LambdaTest/flakewatch/pkg/errors"
)

// Repository identifies a tenant scoped repository. Every store operation is parameterized by it
// (or by its OrgID) rather than relying on an ambient tenant filter.
type Repository struct {
	OrgID string `json:"org_id"`
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// FullName returns owner/name.
func (r Repository) FullName() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// Validate returns errs.ErrMissingTenant unless org, owner and name are all present.
func (r Repository) Validate() error {
	if strings.TrimSpace(r.OrgID) == "" || strings.TrimSpace(r.Owner) == "" || strings.TrimSpace(r.Name) == "" {
		return errs.ErrMissingTenant
	}
	return nil
}

// ParseRepository builds a Repository from an org id and an owner/name string.
func ParseRepository(orgID, fullName string) (Repository, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 {
		return Repository{}, errs.ErrMissingTenant
	}
	repo := Repository{OrgID: orgID, Owner: parts[0], Name: parts[1]}
	return repo, repo.Validate()
}
