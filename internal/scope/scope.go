// Package scope maps a caller-supplied project identifier to the predicate
// applied to every aggregation.
package scope

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/arkilian/eventlens/internal/errors"
	"github.com/arkilian/eventlens/internal/store"
	"github.com/arkilian/eventlens/pkg/types"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// ValidSlug reports whether s is a well-formed project slug.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// Scope is a resolved project filter. The zero value matches all events.
type Scope struct {
	Project *types.Project
}

// All reports whether the scope is unrestricted.
func (s Scope) All() bool { return s.Project == nil }

// Slug returns the project slug, or "" for the unrestricted scope.
func (s Scope) Slug() string {
	if s.Project == nil {
		return ""
	}
	return s.Project.Slug
}

// Predicate returns the store filter for this scope.
func (s Scope) Predicate() store.Predicate {
	return store.Predicate{Project: s.Slug()}
}

// ProjectGetter looks projects up by slug.
type ProjectGetter interface {
	GetProject(ctx context.Context, slug string) (*types.Project, error)
}

// Resolver resolves project identifiers.
type Resolver struct {
	projects ProjectGetter
	tenancy  bool
}

// NewResolver creates a resolver. With tenancy enabled every call must name a project.
func NewResolver(projects ProjectGetter, tenancyEnabled bool) *Resolver {
	return &Resolver{projects: projects, tenancy: tenancyEnabled}
}

// TenancyEnabled reports whether a project identifier is mandatory.
func (r *Resolver) TenancyEnabled() bool { return r.tenancy }

// Resolve returns the scope for identifier. Unknown and inactive projects are
// both NotFound so that a retired project never yields zeroed aggregates.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (Scope, error) {
	slug := strings.TrimSpace(identifier)
	if slug == "" {
		if r.tenancy {
			return Scope{}, errors.NewValidationError(errors.CodeProjectRequired, "a project is required when multi-tenancy is enabled")
		}
		return Scope{}, nil
	}
	if !ValidSlug(slug) {
		return Scope{}, notFound(slug)
	}

	p, err := r.projects.GetProject(ctx, slug)
	if err != nil {
		if errors.IsNotFound(err) {
			return Scope{}, notFound(slug)
		}
		return Scope{}, errors.FromStore("resolve project", err)
	}
	if !p.IsActive {
		return Scope{}, notFound(slug)
	}
	return Scope{Project: p}, nil
}

func notFound(slug string) error {
	return errors.NewNotFoundError(errors.CodeProjectNotFound, fmt.Sprintf("project %q not found or inactive", slug))
}
