package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arkilian/eventlens/internal/errors"
	"github.com/arkilian/eventlens/internal/scope"
	"github.com/arkilian/eventlens/pkg/types"
)

// CreateProjectRequest carries the settings of a new project. Nil settings
// take the project defaults.
type CreateProjectRequest struct {
	Name               string `json:"name"`
	Slug               string `json:"slug"`
	Description        string `json:"description"`
	EventRetentionDays *int   `json:"event_retention_days,omitempty"`
	MonthlyEventLimit  *int   `json:"monthly_event_limit,omitempty"`
}

// CreateProject registers an active project.
func (s *Service) CreateProject(ctx context.Context, req CreateProjectRequest) (p *types.Project, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer s.observe(OpProjectMut, time.Now(), &err)

	p = &types.Project{
		Name:               strings.TrimSpace(req.Name),
		Slug:               strings.TrimSpace(req.Slug),
		Description:        req.Description,
		EventRetentionDays: types.DefaultRetentionDays,
		MonthlyEventLimit:  types.DefaultMonthlyEventLimit,
		IsActive:           true,
	}
	if req.EventRetentionDays != nil {
		p.EventRetentionDays = *req.EventRetentionDays
	}
	if req.MonthlyEventLimit != nil {
		p.MonthlyEventLimit = *req.MonthlyEventLimit
	}

	if p.Name == "" {
		return nil, errors.NewValidationError(errors.CodeEmptyField, "name is required").
			WithDetails(map[string]interface{}{"field": "name"})
	}
	if !scope.ValidSlug(p.Slug) {
		return nil, errors.NewValidationError(errors.CodeInvalidSlug,
			fmt.Sprintf("slug %q must match [a-z0-9][a-z0-9-]{0,62}", p.Slug))
	}
	if err := checkSettings(p.EventRetentionDays, p.MonthlyEventLimit); err != nil {
		return nil, err
	}

	created, err := s.store.CreateProject(ctx, p)
	if err != nil {
		return nil, errors.Classify(ctx, "create project", err)
	}
	s.logger.Info("project created", "project", created.Slug, "id", created.ID)
	return created, nil
}

// GetProject returns a project by slug, including inactive ones.
func (s *Service) GetProject(ctx context.Context, slug string) (p *types.Project, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer s.observe(OpProjectRead, time.Now(), &err)

	p, err = s.store.GetProject(ctx, slug)
	if err != nil {
		return nil, errors.Classify(ctx, "get project", err)
	}
	return p, nil
}

// ListProjects returns projects ordered by id.
func (s *Service) ListProjects(ctx context.Context, includeInactive bool) (ps []*types.Project, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer s.observe(OpProjectRead, time.Now(), &err)

	ps, err = s.store.ListProjects(ctx, includeInactive)
	if err != nil {
		return nil, errors.Classify(ctx, "list projects", err)
	}
	if ps == nil {
		ps = []*types.Project{}
	}
	return ps, nil
}

// UpdateProject changes project settings. The slug is immutable.
func (s *Service) UpdateProject(ctx context.Context, slug string, u types.ProjectUpdate) (p *types.Project, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer s.observe(OpProjectMut, time.Now(), &err)

	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, errors.NewValidationError(errors.CodeEmptyField, "name must not be empty")
		}
		u.Name = &name
	}
	retention, limit := 0, 0
	if u.EventRetentionDays != nil {
		retention = *u.EventRetentionDays
	}
	if u.MonthlyEventLimit != nil {
		limit = *u.MonthlyEventLimit
	}
	if err := checkSettings(retention, limit); err != nil {
		return nil, err
	}

	p, err = s.store.UpdateProject(ctx, slug, u)
	if err != nil {
		return nil, errors.Classify(ctx, "update project", err)
	}
	s.logger.Info("project updated", "project", slug, "active", p.IsActive)
	return p, nil
}

// SetProjectActive activates or deactivates a project. Projects are never
// deleted; a deactivated project keeps its events but resolves as not found.
func (s *Service) SetProjectActive(ctx context.Context, slug string, active bool) (*types.Project, error) {
	return s.UpdateProject(ctx, slug, types.ProjectUpdate{IsActive: &active})
}

func checkSettings(retentionDays, monthlyLimit int) error {
	if retentionDays < 0 {
		return errors.NewValidationError(errors.CodeInvalidArgument, "event_retention_days must not be negative")
	}
	if monthlyLimit < 0 {
		return errors.NewValidationError(errors.CodeInvalidArgument, "monthly_event_limit must not be negative")
	}
	return nil
}
