package query

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/arkilian/eventlens/internal/config"
	"github.com/arkilian/eventlens/internal/errors"
	"github.com/arkilian/eventlens/internal/export"
	"github.com/arkilian/eventlens/internal/query/aggregator"
	"github.com/arkilian/eventlens/internal/scope"
	"github.com/arkilian/eventlens/internal/storage"
	"github.com/arkilian/eventlens/internal/store/memory"
	"github.com/arkilian/eventlens/pkg/types"
)

func newExportService(t *testing.T) (*Service, storage.ObjectStorage) {
	t.Helper()
	st := memory.New()
	objects, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	exp := export.New(st, objects, "exports", export.WithTempDir(t.TempDir()))
	svc := NewService(st, scope.NewResolver(st, false), aggregator.NewEngine(nil),
		config.DefaultConfig().Query, WithExporter(exp))
	return svc, objects
}

func TestExport_ScopedWindow(t *testing.T) {
	svc, objects := newExportService(t)
	ctx := context.Background()
	if _, err := svc.CreateProject(ctx, CreateProjectRequest{Name: "Shop", Slug: "shop"}); err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		ingest(t, svc, IngestRequest{EventName: "view", ProjectID: "shop", Timestamp: &ts})
	}
	ingest(t, svc, IngestRequest{EventName: "other"})

	since := base.Add(time.Hour)
	res, err := svc.Export(ctx, ExportRequest{ProjectID: "shop", Since: &since})
	if err != nil {
		t.Fatal(err)
	}
	if res.Events != 3 || !strings.HasPrefix(res.ObjectPath, "exports/shop/") {
		t.Errorf("unexpected result %+v", res)
	}

	var names []string
	err = export.Read(ctx, objects, res.ObjectPath, func(ev *types.Event) error {
		names = append(names, ev.EventName)
		return nil
	})
	if err != nil || strings.Join(names, ",") != "view,view,view" {
		t.Errorf("archive = %v, %v", names, err)
	}

	listed, err := svc.ListExports(ctx, "shop")
	if err != nil || len(listed) != 1 || listed[0].Path != res.ObjectPath {
		t.Errorf("ListExports = %+v, %v", listed, err)
	}
}

func TestExport_Validation(t *testing.T) {
	svc, _ := newExportService(t)
	ctx := context.Background()

	start, end := time.Now(), time.Now().Add(-time.Hour)
	_, err := svc.Export(ctx, ExportRequest{Since: &start, Until: &end})
	if errors.GetCode(err) != errors.CodeInvalidDateRange {
		t.Errorf("expected INVALID_DATE_RANGE, got %v", err)
	}
	_, err = svc.Export(ctx, ExportRequest{ProjectID: "ghost"})
	if !errors.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestExport_NotConfigured(t *testing.T) {
	svc, _ := newTestService(t, false)
	_, err := svc.Export(context.Background(), ExportRequest{})
	if errors.GetCode(err) != errors.CodeExportFailed {
		t.Errorf("expected EXPORT_FAILED, got %v", err)
	}
}
