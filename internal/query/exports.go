package query

import (
	"context"
	"time"

	"github.com/arkilian/eventlens/internal/errors"
	"github.com/arkilian/eventlens/internal/export"
	"github.com/arkilian/eventlens/internal/storage"
)

// ExportRequest selects the events to archive. Nil bounds are open.
type ExportRequest struct {
	ProjectID string     `json:"project_id,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
}

// Export archives the scoped events in id order and returns where the
// archive was written. Exports are not bounded by the query timeout.
func (s *Service) Export(ctx context.Context, req ExportRequest) (res *export.Result, err error) {
	defer s.observe(OpExport, time.Now(), &err)

	if err := s.requireExporter(); err != nil {
		return nil, err
	}
	if err := checkRange(req.Since, req.Until); err != nil {
		return nil, err
	}

	sc, err := s.resolver.Resolve(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	pred := sc.Predicate()
	pred.Since, pred.Until = req.Since, req.Until
	return s.exporter.Export(ctx, sc.Slug(), pred)
}

// ListExports returns the archives of a scope, oldest first.
func (s *Service) ListExports(ctx context.Context, projectID string) (objects []storage.ObjectInfo, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer s.observe(OpExport, time.Now(), &err)

	if err := s.requireExporter(); err != nil {
		return nil, err
	}
	sc, err := s.resolver.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.exporter.List(ctx, sc.Slug())
}

func (s *Service) requireExporter() error {
	if s.exporter == nil {
		return errors.NewPersistenceError(errors.CodeExportFailed, "export storage is not configured", nil)
	}
	return nil
}
