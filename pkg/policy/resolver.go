package policy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"golang.org/x/sync/singleflight"
)

type entry struct {
	policy    *core.Policy
	expiresAt time.Time
}

type cache map[string]*entry

// Resolver resolves the effective policy of a repository ref. Resolved policies are cached with a
// TTL, readers never lock and writers replace the whole map.
type Resolver struct {
	source       core.PolicyFileSource
	validator    *Validator
	defaults     core.Policy
	ttl          time.Duration
	fetchTimeout time.Duration
	logger       lumber.Logger
	now          func() time.Time

	mu      sync.Mutex
	entries atomic.Value
	group   singleflight.Group
}

// NewResolver returns a Resolver loading policy files from source and falling back to defaults.
func NewResolver(source core.PolicyFileSource, defaults core.Policy, ttl, fetchTimeout time.Duration,
	logger lumber.Logger) (*Resolver, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	r := &Resolver{
		source:       source,
		validator:    v,
		defaults:     defaults,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		logger:       logger,
		now:          time.Now,
	}
	r.entries.Store(cache{})
	return r, nil
}

func cacheKey(repo core.Repository, ref string) string {
	return strings.Join([]string{repo.OrgID, repo.Owner, repo.Name, ref}, "\x00")
}

func repoPrefix(repo core.Repository) string {
	return strings.Join([]string{repo.OrgID, repo.Owner, repo.Name}, "\x00") + "\x00"
}

func (r *Resolver) load() cache {
	return r.entries.Load().(cache)
}

func (r *Resolver) lookup(key string) (*core.Policy, bool) {
	e, ok := r.load()[key]
	if !ok || !r.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.policy, true
}

// Resolve returns the cached policy or loads it. Load and validation failures fall back to the
// defaults, which are cached as well. Only a missing tenant or a cancelled context is an error.
func (r *Resolver) Resolve(ctx context.Context, repo core.Repository, ref string) (*core.Policy, error) {
	if err := repo.Validate(); err != nil {
		return nil, err
	}
	key := cacheKey(repo, ref)
	if p, ok := r.lookup(key); ok {
		return p, nil
	}
	ch := r.group.DoChan(key, func() (interface{}, error) {
		if p, ok := r.lookup(key); ok {
			return p, nil
		}
		// the flight is shared, it must not inherit the cancellation of whichever caller started it
		p, err := r.fetch(context.Background(), repo, ref)
		if err != nil {
			return nil, err
		}
		r.put(key, p)
		return p, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*core.Policy), nil
	}
}

func (r *Resolver) fetch(ctx context.Context, repo core.Repository, ref string) (*core.Policy, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()
	data, err := r.source.Fetch(fetchCtx, repo, ref)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, errs.ErrNotFound) {
			r.logger.Debugf("no policy file in %s@%s, using defaults", repo.FullName(), ref)
			return r.fallback(nil), nil
		}
		r.logger.Warnf("failed to fetch policy file of %s@%s, using defaults, error: %v", repo.FullName(), ref, err)
		return r.fallback([]string{err.Error()}), nil
	}
	p, err := r.Parse(data)
	if err != nil {
		r.logger.Warnf("invalid policy file in %s@%s, using defaults, error: %v", repo.FullName(), ref, err)
		return r.fallback(problems(err)), nil
	}
	return p, nil
}

// Parse decodes, validates and merges a policy document over the defaults.
func (r *Resolver) Parse(data []byte) (*core.Policy, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := r.validator.Validate(doc); err != nil {
		return nil, err
	}
	return Merge(r.defaults, doc, r.now())
}

func (r *Resolver) fallback(reasons []string) *core.Policy {
	p := r.defaults
	p.Source = core.PolicyFromDefaults
	p.LoadedAt = r.now()
	p.Problems = reasons
	return &p
}

func problems(err error) []string {
	var verrs errs.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, v := range verrs {
		out = append(out, v.Field+": "+v.Reason)
	}
	return out
}

func (r *Resolver) put(key string, p *core.Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.load()
	next := make(cache, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[key] = &entry{policy: p, expiresAt: r.now().Add(r.ttl)}
	r.entries.Store(next)
}

// Invalidate drops every cached ref of the repository.
func (r *Resolver) Invalidate(repo core.Repository) {
	prefix := repoPrefix(repo)
	r.replace(func(key string, _ *entry) bool {
		return !strings.HasPrefix(key, prefix)
	})
}

// Sweep evicts expired entries and returns how many were removed.
func (r *Resolver) Sweep() int {
	now := r.now()
	return r.replace(func(_ string, e *entry) bool {
		return now.Before(e.expiresAt)
	})
}

// Len returns the number of cached entries, expired ones included.
func (r *Resolver) Len() int {
	return len(r.load())
}

func (r *Resolver) replace(keep func(key string, e *entry) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.load()
	next := make(cache, len(old))
	for k, v := range old {
		if keep(k, v) {
			next[k] = v
		}
	}
	r.entries.Store(next)
	return len(old) - len(next)
}
