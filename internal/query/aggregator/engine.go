// Package aggregator computes read-only aggregates over an event store.
//
// Every computation takes the store handle and the scope predicate explicitly
// and holds no state between calls. Each method issues at most the store reads
// it documents, so a single aggregate reflects the snapshot(s) of those reads.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arkilian/eventlens/internal/errors"
	"github.com/arkilian/eventlens/internal/logging"
	"github.com/arkilian/eventlens/internal/store"
	"github.com/arkilian/eventlens/pkg/types"
)

// Engine runs aggregations. It is safe for concurrent use.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an engine. A nil logger discards output.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{logger: logger.With("component", "aggregator")}
}

// TotalCount counts events in scope. An empty scope yields 0.
func (e *Engine) TotalCount(ctx context.Context, es store.EventStore, pred store.Predicate) (int64, error) {
	defer e.trace(ctx, "total_count", pred, time.Now())
	n, err := es.Count(ctx, pred)
	if err != nil {
		return 0, errors.Classify(ctx, "count events", err)
	}
	return n, nil
}

// UniqueUsers counts distinct non-null user ids.
func (e *Engine) UniqueUsers(ctx context.Context, es store.EventStore, pred store.Predicate) (int64, error) {
	return e.countDistinct(ctx, es, pred, store.ColumnUserID)
}

// UniqueSessions counts distinct non-null session ids. An event without a
// session never counts as one.
func (e *Engine) UniqueSessions(ctx context.Context, es store.EventStore, pred store.Predicate) (int64, error) {
	return e.countDistinct(ctx, es, pred, store.ColumnSessionID)
}

func (e *Engine) countDistinct(ctx context.Context, es store.EventStore, pred store.Predicate, col store.Column) (int64, error) {
	defer e.trace(ctx, "count_distinct_"+string(col), pred, time.Now())
	n, err := es.CountDistinct(ctx, pred, col)
	if err != nil {
		return 0, errors.Classify(ctx, "count distinct "+string(col), err)
	}
	return n, nil
}

// EventsByType maps every observed event name to its count. Names that do
// not occur are absent; the map is never nil.
func (e *Engine) EventsByType(ctx context.Context, es store.EventStore, pred store.Predicate) (map[string]int64, error) {
	defer e.trace(ctx, "events_by_type", pred, time.Now())
	groups, err := es.GroupCount(ctx, pred, store.ColumnEventName)
	if err != nil {
		return nil, errors.Classify(ctx, "group events by name", err)
	}
	if groups == nil {
		groups = map[string]int64{}
	}
	return groups, nil
}

// DateRange returns the earliest and latest timestamps. Both bounds are nil
// when the scope is empty.
func (e *Engine) DateRange(ctx context.Context, es store.EventStore, pred store.Predicate) (types.DateRange, error) {
	defer e.trace(ctx, "date_range", pred, time.Now())
	r, err := es.MinMax(ctx, pred, store.ColumnTimestamp)
	if err != nil {
		return types.DateRange{}, errors.Classify(ctx, "read timestamp bounds", err)
	}
	return r, nil
}

// TopEvents returns the n most frequent event names with their distinct user
// counts and share of all events in scope. Counts, users and the total come
// from one store read.
func (e *Engine) TopEvents(ctx context.Context, es store.EventStore, pred store.Predicate, n int) ([]types.TopEvent, error) {
	if n < 0 {
		return nil, errors.NewValidationError(errors.CodeNegativeLimit, "limit must not be negative")
	}
	defer e.trace(ctx, "top_events", pred, time.Now())

	stats, err := es.GroupStats(ctx, pred, store.ColumnEventName, store.ColumnUserID)
	if err != nil {
		return nil, errors.Classify(ctx, "compute event stats", err)
	}

	var total int64
	for _, s := range stats {
		total += s.Count
	}

	ranked := RankGroups(stats, n, 0)
	out := make([]types.TopEvent, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, types.TopEvent{
			EventName:   s.Key,
			Count:       s.Count,
			UniqueUsers: s.Distinct,
			Percentage:  Percentage(s.Count, total),
		})
	}
	return out, nil
}

// Page returns one window of events by recency together with the scope total.
// The total and the window are separate reads.
func (e *Engine) Page(ctx context.Context, es store.EventStore, pred store.Predicate, limit, offset int) (*types.EventPage, error) {
	if limit < 0 {
		return nil, errors.NewValidationError(errors.CodeNegativeLimit, "limit must not be negative")
	}
	if offset < 0 {
		return nil, errors.NewValidationError(errors.CodeNegativeOffset, "offset must not be negative")
	}
	defer e.trace(ctx, "page", pred, time.Now())

	total, err := es.Count(ctx, pred)
	if err != nil {
		return nil, errors.Classify(ctx, "count events", err)
	}

	page := &types.EventPage{TotalCount: total, Limit: limit, Offset: offset, Events: []*types.Event{}}
	if limit == 0 {
		return page, nil
	}

	events, err := e.collect(ctx, es, pred, limit, offset)
	if err != nil {
		return nil, err
	}
	page.Events = events
	return page, nil
}

// Range returns up to limit events whose timestamp lies within pred's
// Since/Until bounds, by recency.
func (e *Engine) Range(ctx context.Context, es store.EventStore, pred store.Predicate, limit int) ([]*types.Event, error) {
	if limit < 0 {
		return nil, errors.NewValidationError(errors.CodeNegativeLimit, "limit must not be negative")
	}
	if pred.Since != nil && pred.Until != nil && pred.Since.After(*pred.Until) {
		return nil, errors.NewValidationError(errors.CodeInvalidDateRange, "start must not be after end")
	}
	defer e.trace(ctx, "range", pred, time.Now())

	if limit == 0 {
		return []*types.Event{}, nil
	}
	return e.collect(ctx, es, pred, limit, 0)
}

// TimeSeries counts events per period bucket, omitting empty buckets.
func (e *Engine) TimeSeries(ctx context.Context, es store.EventStore, pred store.Predicate, period types.Period) (*types.TimeSeries, error) {
	width := period.Duration()
	if width == 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidPeriod, fmt.Sprintf("unsupported period %q (must be hour or day)", period))
	}
	defer e.trace(ctx, "time_series", pred, time.Now())

	buckets, err := es.BucketCount(ctx, pred, width)
	if err != nil {
		return nil, errors.Classify(ctx, "bucket events", err)
	}

	ts := &types.TimeSeries{Period: period, Data: buckets}
	if ts.Data == nil {
		ts.Data = []types.TimeBucket{}
	}
	for _, b := range buckets {
		ts.TotalEvents += b.Count
	}
	return ts, nil
}

func (e *Engine) collect(ctx context.Context, es store.EventStore, pred store.Predicate, limit, offset int) ([]*types.Event, error) {
	cur, err := es.Scan(ctx, pred, store.OrderRecency, limit, offset)
	if err != nil {
		return nil, errors.Classify(ctx, "scan events", err)
	}
	events, err := store.Collect(cur)
	if err != nil {
		return nil, errors.Classify(ctx, "scan events", err)
	}
	if events == nil {
		events = []*types.Event{}
	}
	return events, nil
}

func (e *Engine) trace(ctx context.Context, op string, pred store.Predicate, start time.Time) {
	e.logger.DebugContext(ctx, "aggregate computed",
		"operation", op,
		"project", pred.Project,
		"duration", time.Since(start),
	)
}
