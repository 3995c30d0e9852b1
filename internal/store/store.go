// Package store defines the event store contract consumed by the aggregation
// core. Implementations live in the sqlite and memory subpackages.
//
// Stores never compute scope: every read takes a Predicate built by the caller.
// Errors are returned raw or as classified eventlens errors (not found,
// duplicate slug, constraint violation); the query layer classifies the rest.
package store

import (
	"context"
	"time"

	"github.com/arkilian/eventlens/pkg/types"
)

// Column names a groupable or countable event attribute.
type Column string

const (
	ColumnEventName Column = "event_name"
	ColumnUserID    Column = "user_id"
	ColumnSessionID Column = "session_id"
	ColumnProjectID Column = "project_id"
	ColumnTimestamp Column = "timestamp"
)

// Valid reports whether c is a known column.
func (c Column) Valid() bool {
	switch c {
	case ColumnEventName, ColumnUserID, ColumnSessionID, ColumnProjectID, ColumnTimestamp:
		return true
	}
	return false
}

// Value extracts the string value of c from ev. ok is false when the value is absent.
// Timestamp is not a string column and always reports absent.
func (c Column) Value(ev *types.Event) (string, bool) {
	var p *string
	switch c {
	case ColumnEventName:
		return ev.EventName, true
	case ColumnUserID:
		p = ev.UserID
	case ColumnSessionID:
		p = ev.SessionID
	case ColumnProjectID:
		p = ev.ProjectID
	}
	if p == nil {
		return "", false
	}
	return *p, true
}

// Predicate filters events. The zero value matches every event.
type Predicate struct {
	// Project restricts to events whose project_id equals this slug.
	Project string

	// Since and Until bound timestamp inclusively.
	Since *time.Time
	Until *time.Time

	// EventName restricts to a single event name.
	EventName string
}

// Matches evaluates the predicate in process.
func (p Predicate) Matches(ev *types.Event) bool {
	if p.Project != "" && types.StringValue(ev.ProjectID) != p.Project {
		return false
	}
	if p.Since != nil && ev.Timestamp.Before(*p.Since) {
		return false
	}
	if p.Until != nil && ev.Timestamp.After(*p.Until) {
		return false
	}
	if p.EventName != "" && ev.EventName != p.EventName {
		return false
	}
	return true
}

// Order selects the scan ordering.
type Order int

const (
	// OrderRecency sorts by timestamp descending, then id descending.
	OrderRecency Order = iota
	// OrderInsertion sorts by id ascending.
	OrderInsertion
)

// Cursor is a lazy, finite, non-restartable sequence of events.
type Cursor interface {
	Next() bool
	Event() *types.Event
	Err() error
	Close() error
}

// GroupStat is the row count and distinct count of one group.
type GroupStat struct {
	Key      string
	Count    int64
	Distinct int64
}

// EventStore is the append-only event log.
type EventStore interface {
	// Insert persists ev and returns the stored copy with ID and CreatedAt set.
	// A zero Timestamp is replaced with the insertion time.
	Insert(ctx context.Context, ev *types.Event) (*types.Event, error)

	// Scan returns matching events in order. A negative limit means unbounded.
	Scan(ctx context.Context, pred Predicate, order Order, limit, offset int) (Cursor, error)

	Count(ctx context.Context, pred Predicate) (int64, error)

	// CountDistinct counts distinct non-null values of col.
	CountDistinct(ctx context.Context, pred Predicate, col Column) (int64, error)

	// GroupCount maps every observed value of col to its row count. Null values are skipped.
	GroupCount(ctx context.Context, pred Predicate, col Column) (map[string]int64, error)

	// MinMax returns the timestamp bounds, both nil when nothing matches.
	MinMax(ctx context.Context, pred Predicate, col Column) (types.DateRange, error)

	// GroupStats groups by group and counts rows plus distinct non-null values
	// of distinct, in one read.
	GroupStats(ctx context.Context, pred Predicate, group, distinct Column) ([]GroupStat, error)

	// BucketCount counts events per UTC bucket of the given width, ascending,
	// omitting empty buckets.
	BucketCount(ctx context.Context, pred Predicate, width time.Duration) ([]types.TimeBucket, error)
}

// ProjectStore persists projects. Projects are never deleted.
type ProjectStore interface {
	CreateProject(ctx context.Context, p *types.Project) (*types.Project, error)
	GetProject(ctx context.Context, slug string) (*types.Project, error)
	ListProjects(ctx context.Context, includeInactive bool) ([]*types.Project, error)
	UpdateProject(ctx context.Context, slug string, u types.ProjectUpdate) (*types.Project, error)
	SetProjectActive(ctx context.Context, slug string, active bool) (*types.Project, error)
}

// Store combines both stores with lifecycle methods.
type Store interface {
	EventStore
	ProjectStore
	Ping(ctx context.Context) error
	Close() error
}

// Collect drains a cursor into a slice and closes it.
func Collect(c Cursor) ([]*types.Event, error) {
	defer c.Close()
	var out []*types.Event
	for c.Next() {
		out = append(out, c.Event())
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// BucketStart floors t to the UTC bucket of the given width.
func BucketStart(t time.Time, width time.Duration) time.Time {
	return time.Unix(0, FloorNanos(t.UnixNano(), int64(width))).UTC()
}

// FloorNanos floors ns to a multiple of width, rounding toward negative infinity.
func FloorNanos(ns, width int64) int64 {
	return ns - ((ns%width)+width)%width
}
