// Package export archives scoped events to object storage.
//
// An archive is newline-delimited JSON, one event per line in id order,
// compressed with the snappy framing format. Archives are named by ULID
// under <prefix>/<scope>/<yyyy>/<mm>/<dd>/ so listings sort by creation time.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/arkilian/eventlens/internal/errors"
	"github.com/arkilian/eventlens/internal/logging"
	"github.com/arkilian/eventlens/internal/storage"
	"github.com/arkilian/eventlens/internal/store"
	"github.com/arkilian/eventlens/pkg/types"
)

// Extension is the file extension of export archives.
const Extension = ".ndjson.sz"

const discardTimeout = 10 * time.Second

// Result describes a written archive.
type Result struct {
	ObjectPath string `json:"object_path"`
	Events     int64  `json:"events"`
	Bytes      int64  `json:"bytes"`
	ETag       string `json:"etag,omitempty"`
}

// Exporter writes archives of store events to object storage.
type Exporter struct {
	store   store.EventStore
	objects storage.ObjectStorage
	prefix  string
	tmpDir  string
	ids     *types.ULIDGenerator
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithTempDir sets where archives are staged before upload.
func WithTempDir(dir string) Option { return func(e *Exporter) { e.tmpDir = dir } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Exporter) { e.logger = l } }

// WithClock overrides the clock used to name archives.
func WithClock(now func() time.Time) Option { return func(e *Exporter) { e.now = now } }

// New creates an Exporter writing under prefix.
func New(st store.EventStore, objects storage.ObjectStorage, prefix string, opts ...Option) *Exporter {
	e := &Exporter{
		store:   st,
		objects: objects,
		prefix:  prefix,
		ids:     types.NewULIDGenerator(),
		now:     time.Now,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "export")
	return e
}

// Export writes every event matching pred to a new archive for scope.
// An empty scope is the unscoped view.
func (e *Exporter) Export(ctx context.Context, scope string, pred store.Predicate) (*Result, error) {
	start := time.Now()
	id, err := e.ids.GenerateWithTime(e.now())
	if err != nil {
		return nil, errors.NewInternalError("generate export id", err)
	}
	objectPath := e.objectPath(scope, id)

	tmp, err := os.CreateTemp(e.tmpDir, "export-*"+Extension)
	if err != nil {
		return nil, errors.NewPersistenceError(errors.CodeExportFailed, "create export staging file", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	count, err := e.write(ctx, tmp, pred)
	if err != nil {
		return nil, err
	}
	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.NewPersistenceError(errors.CodeExportFailed, "stat export staging file", err)
	}

	etag, err := e.objects.Put(ctx, objectPath, tmp, size)
	if err != nil {
		if errors.Is(err, storage.ErrUploadFailed) {
			e.discard(ctx, objectPath)
		}
		if ctx.Err() != nil {
			return nil, errors.Classify(ctx, "upload export", err)
		}
		return nil, errors.NewPersistenceError(errors.CodeExportFailed, "upload export", err).
			WithDetails(map[string]interface{}{"object_path": objectPath})
	}

	e.logger.Info("export written",
		"project", scope,
		"object_path", objectPath,
		"events", count,
		"bytes", size,
		"duration", time.Since(start))
	return &Result{ObjectPath: objectPath, Events: count, Bytes: size, ETag: etag}, nil
}

// discard removes a partially written archive. It runs even when ctx has
// been cancelled.
func (e *Exporter) discard(ctx context.Context, objectPath string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()
	if err := e.objects.Delete(ctx, objectPath); err != nil {
		e.logger.Warn("failed to remove partial export", "object_path", objectPath, "error", err)
	}
}

// write streams the matching events into w and returns how many were written.
func (e *Exporter) write(ctx context.Context, w io.Writer, pred store.Predicate) (int64, error) {
	cur, err := e.store.Scan(ctx, pred, store.OrderInsertion, -1, 0)
	if err != nil {
		return 0, errors.Classify(ctx, "export scan", err)
	}
	defer cur.Close()

	sw := snappy.NewBufferedWriter(w)
	enc := json.NewEncoder(sw)
	var n int64
	for cur.Next() {
		if err := enc.Encode(cur.Event()); err != nil {
			return n, errors.NewPersistenceError(errors.CodeExportFailed, "encode event", err)
		}
		n++
	}
	if err := cur.Err(); err != nil {
		return n, errors.Classify(ctx, "export scan", err)
	}
	if err := sw.Close(); err != nil {
		return n, errors.NewPersistenceError(errors.CodeExportFailed, "flush export", err)
	}
	return n, nil
}

// List returns the archives of scope, oldest first. Objects under the scope
// prefix that are not named like archives are skipped.
func (e *Exporter) List(ctx context.Context, scope string) ([]storage.ObjectInfo, error) {
	objects, err := e.objects.List(ctx, e.scopePrefix(scope))
	if err != nil {
		return nil, errors.Classify(ctx, "list exports", err)
	}

	type archive struct {
		id   types.ULID
		info storage.ObjectInfo
	}
	archives := make([]archive, 0, len(objects))
	for _, obj := range objects {
		id, ok := archiveID(obj.Path)
		if !ok {
			continue
		}
		archives = append(archives, archive{id: id, info: obj})
	}
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].id.Compare(archives[j].id) < 0
	})

	out := make([]storage.ObjectInfo, len(archives))
	for i, a := range archives {
		out[i] = a.info
	}
	return out, nil
}

// archiveID extracts the ULID an archive is named by.
func archiveID(objectPath string) (types.ULID, bool) {
	name := path.Base(objectPath)
	if !strings.HasSuffix(name, Extension) {
		return types.ULID{}, false
	}
	id, err := types.ParseULID(strings.TrimSuffix(name, Extension))
	if err != nil {
		return types.ULID{}, false
	}
	return id, true
}

// Read decodes the archive at objectPath and calls fn for every event in
// order. It stops at the first error fn returns.
func Read(ctx context.Context, objects storage.ObjectStorage, objectPath string, fn func(*types.Event) error) error {
	rc, err := objects.Get(ctx, objectPath)
	if err != nil {
		return fmt.Errorf("open export %s: %w", objectPath, err)
	}
	defer rc.Close()

	dec := json.NewDecoder(snappy.NewReader(rc))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var ev types.Event
		if err := dec.Decode(&ev); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("decode export %s: %w", objectPath, err)
		}
		if err := fn(&ev); err != nil {
			return err
		}
	}
}

func (e *Exporter) scopePrefix(scope string) string {
	if scope == "" {
		scope = "_all"
	}
	return path.Join(e.prefix, scope) + "/"
}

func (e *Exporter) objectPath(scope string, id types.ULID) string {
	day := id.Time().UTC()
	return e.scopePrefix(scope) + fmt.Sprintf("%04d/%02d/%02d/%s%s",
		day.Year(), day.Month(), day.Day(), id.String(), Extension)
}
