// Package memory implements the event and project stores in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arkilian/eventlens/internal/errors"
	"github.com/arkilian/eventlens/internal/store"
	"github.com/arkilian/eventlens/pkg/types"
)

// Store keeps events in an append-only slice guarded by an RW lock.
// Readers copy what they need under the read lock, so scans never block
// later inserts.
type Store struct {
	mu            sync.RWMutex
	events        []*types.Event
	nextID        int64
	lastCreatedAt time.Time

	projects      map[string]*types.Project
	nextProjectID int64

	now    func() time.Time
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for created_at and default timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		nextID:        1,
		nextProjectID: 1,
		projects:      make(map[string]*types.Project),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var errClosed = errors.NewPersistenceError(errors.CodeStoreUnavailable, "memory store is closed", nil)

// Insert appends a copy of ev.
func (s *Store) Insert(ctx context.Context, ev *types.Event) (*types.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ev == nil || ev.EventName == "" {
		return nil, errors.NewPersistenceError(errors.CodeConstraintViolation, "event_name must not be empty", nil)
	}
	if !ev.Timestamp.IsZero() && !types.TimestampInRange(ev.Timestamp) {
		return nil, errors.NewPersistenceError(errors.CodeConstraintViolation,
			fmt.Sprintf("timestamp %s is outside the storable range", ev.Timestamp.Format(time.RFC3339)), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}

	now := s.now().UTC()
	if now.Before(s.lastCreatedAt) {
		now = s.lastCreatedAt
	}
	s.lastCreatedAt = now

	stored := ev.Clone()
	stored.ID = s.nextID
	s.nextID++
	stored.CreatedAt = now
	if stored.Timestamp.IsZero() {
		stored.Timestamp = now
	} else {
		stored.Timestamp = stored.Timestamp.UTC()
	}
	s.events = append(s.events, stored)
	return stored.Clone(), nil
}

// snapshot returns the matching events as of now. Stored events are immutable,
// so the pointers can be shared outside the lock.
func (s *Store) snapshot(ctx context.Context, pred store.Predicate) ([]*types.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	var out []*types.Event
	for _, ev := range s.events {
		if pred.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Scan returns a cursor over a snapshot of the matching events.
func (s *Store) Scan(ctx context.Context, pred store.Predicate, order store.Order, limit, offset int) (store.Cursor, error) {
	if limit == 0 {
		return &cursor{ctx: ctx}, nil
	}
	matched, err := s.snapshot(ctx, pred)
	if err != nil {
		return nil, err
	}

	switch order {
	case store.OrderRecency:
		sort.Slice(matched, func(i, j int) bool {
			a, b := matched[i], matched[j]
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.After(b.Timestamp)
			}
			return a.ID > b.ID
		})
	case store.OrderInsertion:
	default:
		return nil, fmt.Errorf("memory: unknown order %d", order)
	}

	if offset >= len(matched) {
		return &cursor{ctx: ctx}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return &cursor{ctx: ctx, events: matched}, nil
}

// Count counts matching events.
func (s *Store) Count(ctx context.Context, pred store.Predicate) (int64, error) {
	matched, err := s.snapshot(ctx, pred)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// CountDistinct counts distinct non-null values of col.
func (s *Store) CountDistinct(ctx context.Context, pred store.Predicate, col store.Column) (int64, error) {
	if err := checkStringColumn(col); err != nil {
		return 0, err
	}
	matched, err := s.snapshot(ctx, pred)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{})
	for _, ev := range matched {
		if v, ok := col.Value(ev); ok {
			seen[v] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

// GroupCount counts rows per non-null value of col.
func (s *Store) GroupCount(ctx context.Context, pred store.Predicate, col store.Column) (map[string]int64, error) {
	if err := checkStringColumn(col); err != nil {
		return nil, err
	}
	matched, err := s.snapshot(ctx, pred)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, ev := range matched {
		if v, ok := col.Value(ev); ok {
			out[v]++
		}
	}
	return out, nil
}

// MinMax returns the timestamp bounds of matching events.
func (s *Store) MinMax(ctx context.Context, pred store.Predicate, col store.Column) (types.DateRange, error) {
	if col != store.ColumnTimestamp {
		return types.DateRange{}, fmt.Errorf("memory: min/max unsupported on column %q", col)
	}
	matched, err := s.snapshot(ctx, pred)
	if err != nil {
		return types.DateRange{}, err
	}
	if len(matched) == 0 {
		return types.DateRange{}, nil
	}
	lo, hi := matched[0].Timestamp, matched[0].Timestamp
	for _, ev := range matched[1:] {
		if ev.Timestamp.Before(lo) {
			lo = ev.Timestamp
		}
		if ev.Timestamp.After(hi) {
			hi = ev.Timestamp
		}
	}
	return types.DateRange{Start: &lo, End: &hi}, nil
}

// GroupStats counts rows and distinct values of distinct per group.
func (s *Store) GroupStats(ctx context.Context, pred store.Predicate, group, distinct store.Column) ([]store.GroupStat, error) {
	if err := checkStringColumn(group); err != nil {
		return nil, err
	}
	if err := checkStringColumn(distinct); err != nil {
		return nil, err
	}
	matched, err := s.snapshot(ctx, pred)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	values := make(map[string]map[string]struct{})
	for _, ev := range matched {
		key, ok := group.Value(ev)
		if !ok {
			continue
		}
		counts[key]++
		if values[key] == nil {
			values[key] = make(map[string]struct{})
		}
		if v, ok := distinct.Value(ev); ok {
			values[key][v] = struct{}{}
		}
	}

	out := make([]store.GroupStat, 0, len(counts))
	for key, n := range counts {
		out = append(out, store.GroupStat{Key: key, Count: n, Distinct: int64(len(values[key]))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// BucketCount counts events per UTC bucket.
func (s *Store) BucketCount(ctx context.Context, pred store.Predicate, width time.Duration) ([]types.TimeBucket, error) {
	if width <= 0 {
		return nil, fmt.Errorf("memory: bucket width must be positive")
	}
	matched, err := s.snapshot(ctx, pred)
	if err != nil {
		return nil, err
	}

	counts := make(map[int64]int64)
	for _, ev := range matched {
		counts[store.FloorNanos(ev.Timestamp.UnixNano(), int64(width))]++
	}
	out := make([]types.TimeBucket, 0, len(counts))
	for start, n := range counts {
		out = append(out, types.TimeBucket{Start: time.Unix(0, start).UTC(), Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// CreateProject stores a new project. The slug must be unused.
func (s *Store) CreateProject(ctx context.Context, p *types.Project) (*types.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	if _, exists := s.projects[p.Slug]; exists {
		return nil, errors.NewPersistenceError(errors.CodeDuplicateSlug,
			fmt.Sprintf("project slug %q already exists", p.Slug), nil)
	}

	now := s.now().UTC()
	cp := *p
	cp.ID = s.nextProjectID
	s.nextProjectID++
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.projects[cp.Slug] = &cp

	out := cp
	return &out, nil
}

// GetProject returns the project with the given slug, active or not.
func (s *Store) GetProject(ctx context.Context, slug string) (*types.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	p, ok := s.projects[slug]
	if !ok {
		return nil, projectNotFound(slug)
	}
	out := *p
	return &out, nil
}

// ListProjects returns projects ordered by id.
func (s *Store) ListProjects(ctx context.Context, includeInactive bool) ([]*types.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	out := make([]*types.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if !includeInactive && !p.IsActive {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateProject applies u to the project.
func (s *Store) UpdateProject(ctx context.Context, slug string, u types.ProjectUpdate) (*types.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	p, ok := s.projects[slug]
	if !ok {
		return nil, projectNotFound(slug)
	}
	u.Apply(p)
	p.UpdatedAt = s.now().UTC()
	out := *p
	return &out, nil
}

// SetProjectActive toggles the activity flag.
func (s *Store) SetProjectActive(ctx context.Context, slug string, active bool) (*types.Project, error) {
	return s.UpdateProject(ctx, slug, types.ProjectUpdate{IsActive: &active})
}

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return ctx.Err()
}

// Close marks the store closed. Data is discarded.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.events = nil
	return nil
}

func projectNotFound(slug string) error {
	return errors.NewNotFoundError(errors.CodeProjectNotFound, fmt.Sprintf("project %q not found", slug))
}

func checkStringColumn(col store.Column) error {
	if !col.Valid() || col == store.ColumnTimestamp {
		return fmt.Errorf("memory: unsupported column %q", col)
	}
	return nil
}

type cursor struct {
	ctx     context.Context
	events  []*types.Event
	pos     int
	current *types.Event
	err     error
}

func (c *cursor) Next() bool {
	if c.err != nil || c.pos >= len(c.events) {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}
	c.current = c.events[c.pos].Clone()
	c.pos++
	return true
}

func (c *cursor) Event() *types.Event { return c.current }
func (c *cursor) Err() error          { return c.err }

func (c *cursor) Close() error {
	c.events = nil
	c.pos = 0
	return nil
}

var _ store.Store = (*Store)(nil)
