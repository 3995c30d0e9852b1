package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/arkilian/eventlens/internal/errors"
	"github.com/arkilian/eventlens/internal/storage"
	"github.com/arkilian/eventlens/internal/store"
	"github.com/arkilian/eventlens/internal/store/memory"
	"github.com/arkilian/eventlens/pkg/types"
)

func seed(t *testing.T, st store.EventStore, project string, names ...string) {
	t.Helper()
	for i, name := range names {
		ev := &types.Event{
			EventName:  name,
			UserID:     types.StringPtr(fmt.Sprintf("u%d", i)),
			Properties: types.MustProperties(map[string]interface{}{"n": float64(i)}),
			Timestamp:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(-time.Duration(i) * time.Hour),
			ProjectID:  types.StringPtr(project),
		}
		if _, err := st.Insert(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}
}

func newExporter(t *testing.T) (*Exporter, *memory.Store, *storage.LocalStorage) {
	t.Helper()
	st := memory.New()
	objects, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fixed := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	e := New(st, objects, "exports", WithTempDir(t.TempDir()), WithClock(func() time.Time { return fixed }))
	return e, st, objects
}

func readAll(t *testing.T, objects storage.ObjectStorage, objectPath string) []*types.Event {
	t.Helper()
	var out []*types.Event
	if err := Read(context.Background(), objects, objectPath, func(ev *types.Event) error {
		out = append(out, ev)
		return nil
	}); err != nil {
		t.Fatalf("read %s: %v", objectPath, err)
	}
	return out
}

func TestExport_RoundTrip(t *testing.T) {
	e, st, objects := newExporter(t)
	seed(t, st, "shop", "view", "cart", "buy")
	seed(t, st, "blog", "read")

	res, err := e.Export(context.Background(), "shop", store.Predicate{Project: "shop"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Events != 3 || res.Bytes <= 0 || res.ETag == "" {
		t.Errorf("unexpected result %+v", res)
	}
	if !strings.HasPrefix(res.ObjectPath, "exports/shop/2026/04/02/") || !strings.HasSuffix(res.ObjectPath, Extension) {
		t.Errorf("unexpected object path %s", res.ObjectPath)
	}

	events := readAll(t, objects, res.ObjectPath)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, name := range []string{"view", "cart", "buy"} {
		ev := events[i]
		if ev.EventName != name {
			t.Errorf("event %d: expected %s in id order, got %s", i, name, ev.EventName)
		}
		if i > 0 && ev.ID <= events[i-1].ID {
			t.Errorf("ids not ascending: %d after %d", ev.ID, events[i-1].ID)
		}
		if v, ok := ev.Properties.Get("n"); !ok || v.GetNumberValue() != float64(i) {
			t.Errorf("event %d: properties lost: %v", i, ev.Properties.AsMap())
		}
		if types.StringValue(ev.ProjectID) != "shop" {
			t.Errorf("event %d: project %v", i, ev.ProjectID)
		}
	}
}

func TestExport_WindowAndEmpty(t *testing.T) {
	e, st, objects := newExporter(t)
	seed(t, st, "shop", "a", "b", "c")
	ctx := context.Background()

	since := time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC)
	res, err := e.Export(ctx, "shop", store.Predicate{Project: "shop", Since: &since})
	if err != nil {
		t.Fatal(err)
	}
	if res.Events != 2 {
		t.Errorf("expected 2 events in window, got %d", res.Events)
	}

	res, err = e.Export(ctx, "ghost", store.Predicate{Project: "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Events != 0 || len(readAll(t, objects, res.ObjectPath)) != 0 {
		t.Errorf("empty export should produce an empty archive: %+v", res)
	}
}

func TestExport_ListOrdersByCreation(t *testing.T) {
	e, st, _ := newExporter(t)
	seed(t, st, "", "a")
	ctx := context.Background()

	var paths []string
	for i := 0; i < 3; i++ {
		res, err := e.Export(ctx, "", store.Predicate{})
		if err != nil {
			t.Fatal(err)
		}
		paths = append(paths, res.ObjectPath)
	}

	listed, err := e.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 archives, got %d", len(listed))
	}
	for i, obj := range listed {
		if obj.Path != paths[i] {
			t.Errorf("position %d: expected %s, got %s", i, paths[i], obj.Path)
		}
		if !strings.HasPrefix(obj.Path, "exports/_all/") {
			t.Errorf("unscoped archive under %s", obj.Path)
		}
	}

	other, err := e.List(ctx, "shop")
	if err != nil || len(other) != 0 {
		t.Errorf("shop exports = %v, %v", other, err)
	}
}

// failingObjects rejects every upload and records cleanup deletes.
type failingObjects struct {
	storage.ObjectStorage
	putErr  error
	deleted []string
}

func (f *failingObjects) Put(context.Context, string, storage.Body, int64) (string, error) {
	return "", f.putErr
}

func (f *failingObjects) Delete(_ context.Context, objectPath string) error {
	f.deleted = append(f.deleted, objectPath)
	return nil
}

func TestExport_UploadFailure(t *testing.T) {
	st := memory.New()
	seed(t, st, "", "a")
	objects := &failingObjects{putErr: fmt.Errorf("%w: disk full", storage.ErrUploadFailed)}
	e := New(st, objects, "exports", WithTempDir(t.TempDir()))

	_, err := e.Export(context.Background(), "", store.Predicate{})
	if errors.GetCode(err) != errors.CodeExportFailed {
		t.Errorf("expected EXPORT_FAILED, got %v", err)
	}
	if len(objects.deleted) != 1 || !strings.HasPrefix(objects.deleted[0], "exports/_all/") {
		t.Errorf("expected the partial archive to be removed, deleted %v", objects.deleted)
	}

	objects.putErr, objects.deleted = storage.ErrInvalidPath, nil
	if _, err := e.Export(context.Background(), "", store.Predicate{}); err == nil {
		t.Fatal("expected upload error")
	}
	if len(objects.deleted) != 0 {
		t.Errorf("nothing was written, yet deleted %v", objects.deleted)
	}
}

func TestExport_ListSkipsForeignObjects(t *testing.T) {
	e, st, objects := newExporter(t)
	seed(t, st, "", "a")
	ctx := context.Background()

	res, err := e.Export(ctx, "", store.Predicate{})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"exports/_all/README.txt", "exports/_all/2026/04/02/not-a-ulid" + Extension} {
		if _, err := objects.Put(ctx, p, bytes.NewReader([]byte("x")), 1); err != nil {
			t.Fatal(err)
		}
	}

	listed, err := e.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].Path != res.ObjectPath {
		t.Errorf("expected only %s, got %v", res.ObjectPath, listed)
	}
}

func TestExport_Cancelled(t *testing.T) {
	e, st, _ := newExporter(t)
	seed(t, st, "", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Export(ctx, "", store.Predicate{})
	if errors.GetCode(err) != errors.CodeCancelled {
		t.Errorf("expected CANCELLED, got %v", err)
	}
}

func TestRead_Corrupt(t *testing.T) {
	objects, _ := storage.NewLocalStorage(t.TempDir())
	garbage := []byte("not a snappy stream")
	if _, err := objects.Put(context.Background(), "bad"+Extension, bytes.NewReader(garbage), int64(len(garbage))); err != nil {
		t.Fatal(err)
	}
	err := Read(context.Background(), objects, "bad"+Extension, func(*types.Event) error { return nil })
	if err == nil {
		t.Error("expected decode error")
	}

	err = Read(context.Background(), objects, "missing"+Extension, func(*types.Event) error { return nil })
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestRead_StopsOnCallbackError(t *testing.T) {
	e, st, objects := newExporter(t)
	seed(t, st, "", "a", "b")
	res, err := e.Export(context.Background(), "", store.Predicate{})
	if err != nil {
		t.Fatal(err)
	}

	stop := fmt.Errorf("stop")
	calls := 0
	err = Read(context.Background(), objects, res.ObjectPath, func(*types.Event) error {
		calls++
		return stop
	})
	if err != stop || calls != 1 {
		t.Errorf("expected to stop after first event, got calls=%d err=%v", calls, err)
	}
}
