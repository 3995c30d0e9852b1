// Package query is the façade in front of the aggregation engine. It
// validates and normalizes caller parameters, resolves the project scope,
// delegates to the engine and assembles composite responses.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arkilian/eventlens/internal/config"
	"github.com/arkilian/eventlens/internal/errors"
	"github.com/arkilian/eventlens/internal/export"
	"github.com/arkilian/eventlens/internal/logging"
	"github.com/arkilian/eventlens/internal/query/aggregator"
	"github.com/arkilian/eventlens/internal/scope"
	"github.com/arkilian/eventlens/internal/storage"
	"github.com/arkilian/eventlens/internal/store"
	"github.com/arkilian/eventlens/pkg/types"
)

// Operation names used for metrics and cache keys.
const (
	OpIngest      = "ingest"
	OpListEvents  = "list_events"
	OpSummary     = "summary"
	OpTopEvents   = "top_events"
	OpRange       = "events_in_range"
	OpTimeSeries  = "time_series"
	OpProjectRead = "project_read"
	OpProjectMut  = "project_write"
	OpExport      = "export"
)

// Cache stores aggregate responses. Key embeds a per-scope generation so
// that Invalidate makes every earlier key unreachable.
type Cache interface {
	Key(ctx context.Context, op, scope, params string) (string, error)
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Invalidate(ctx context.Context, scopes ...string) error
}

// Metrics receives operational measurements.
type Metrics interface {
	ObserveQuery(op string, d time.Duration, err error)
	EventIngested(project string)
	CacheResult(result string)
}

// Exporter archives scoped events to object storage.
type Exporter interface {
	Export(ctx context.Context, scope string, pred store.Predicate) (*export.Result, error)
	List(ctx context.Context, scope string) ([]storage.ObjectInfo, error)
}

// Service implements the typed query operations.
type Service struct {
	store    store.Store
	resolver *scope.Resolver
	engine   *aggregator.Engine
	limits   config.QueryConfig

	cache    Cache
	metrics  Metrics
	exporter Exporter
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the aggregate cache.
func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }

// WithMetrics enables metric reporting.
func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithExporter enables event exports.
func WithExporter(e Exporter) Option { return func(s *Service) { s.exporter = e } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService wires the façade.
func NewService(st store.Store, resolver *scope.Resolver, engine *aggregator.Engine, limits config.QueryConfig, opts ...Option) *Service {
	s := &Service{
		store:    st,
		resolver: resolver,
		engine:   engine,
		limits:   limits,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "query")
	return s
}

// Limits returns the configured defaults and ceilings.
func (s *Service) Limits() config.QueryConfig { return s.limits }

// IngestRequest is the caller-supplied part of an event.
type IngestRequest struct {
	EventName      string           `json:"event_name"`
	UserID         *string          `json:"user_id,omitempty"`
	SessionID      *string          `json:"session_id,omitempty"`
	Properties     types.Properties `json:"properties"`
	UserProperties types.Properties `json:"user_properties"`
	Timestamp      *time.Time       `json:"timestamp,omitempty"`
	ProjectID      string           `json:"project_id,omitempty"`

	// Provenance is captured by the transport, never from the body.
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// Ingest validates and stores one event and returns its id.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (id int64, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer s.observe(OpIngest, time.Now(), &err)

	ev, err := buildEvent(req)
	if err != nil {
		return 0, err
	}

	sc, err := s.resolver.Resolve(ctx, req.ProjectID)
	if err != nil {
		return 0, err
	}
	if !sc.All() {
		slug := sc.Slug()
		ev.ProjectID = &slug
	}

	stored, err := s.store.Insert(ctx, ev)
	if err != nil {
		return 0, errors.Classify(ctx, "insert event", err)
	}

	if s.metrics != nil {
		s.metrics.EventIngested(sc.Slug())
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, sc.Slug()); err != nil {
			s.logger.Warn("cache invalidation failed", "project", sc.Slug(), "error", err)
		}
	}
	s.logger.Debug("event ingested", "id", stored.ID, "event_name", stored.EventName, "project", sc.Slug())
	return stored.ID, nil
}

func buildEvent(req IngestRequest) (*types.Event, error) {
	name := strings.TrimSpace(req.EventName)
	if name == "" {
		return nil, errors.NewValidationError(errors.CodeEmptyField, "event_name is required").
			WithDetails(map[string]interface{}{"field": "event_name"})
	}

	ev := &types.Event{
		EventName:      name,
		UserID:         nonEmpty(req.UserID),
		SessionID:      nonEmpty(req.SessionID),
		Properties:     req.Properties,
		UserProperties: req.UserProperties,
		IPAddress:      types.StringPtr(req.IPAddress),
		UserAgent:      types.StringPtr(req.UserAgent),
	}
	if req.Timestamp != nil {
		// Rejects an explicit zero time too; only an omitted timestamp defaults.
		if !types.TimestampInRange(*req.Timestamp) {
			return nil, errors.NewValidationError(errors.CodeInvalidArgument,
				fmt.Sprintf("timestamp must be between %s and %s",
					types.MinTimestamp.Format(time.RFC3339), types.MaxTimestamp.Format(time.RFC3339))).
				WithDetails(map[string]interface{}{"field": "timestamp"})
		}
		ev.Timestamp = req.Timestamp.UTC()
	}

	checks := []struct {
		field string
		value string
		max   int
	}{
		{"event_name", ev.EventName, types.MaxEventNameLen},
		{"user_id", types.StringValue(ev.UserID), types.MaxUserIDLen},
		{"session_id", types.StringValue(ev.SessionID), types.MaxSessionIDLen},
		{"ip_address", types.StringValue(ev.IPAddress), types.MaxIPAddressLen},
		{"user_agent", types.StringValue(ev.UserAgent), types.MaxUserAgentLen},
	}
	for _, c := range checks {
		if len(c.value) > c.max {
			return nil, errors.NewValidationError(errors.CodeFieldTooLong,
				fmt.Sprintf("%s exceeds %d bytes", c.field, c.max)).
				WithDetails(map[string]interface{}{"field": c.field, "max": c.max})
		}
	}
	return ev, nil
}

// ListEvents returns one page of events by recency. Limits above the
// configured ceiling are clamped.
func (s *Service) ListEvents(ctx context.Context, limit, offset int, projectID string) (page *types.EventPage, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer s.observe(OpListEvents, time.Now(), &err)

	if err := checkWindow(limit, offset); err != nil {
		return nil, err
	}
	limit = clamp(limit, s.limits.MaxPageSize)

	sc, err := s.resolver.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.engine.Page(ctx, s.store, sc.Predicate(), limit, offset)
}

// GetSummary combines the headline aggregates of a scope. The sub-aggregates
// run concurrently as independent reads; see types.Summary for the
// consistency caveat. Any failure fails the whole summary.
func (s *Service) GetSummary(ctx context.Context, projectID string) (summary *types.Summary, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer s.observe(OpSummary, time.Now(), &err)

	sc, err := s.resolver.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}

	return cached(ctx, s, OpSummary, sc, "", func() (*types.Summary, error) {
		pred := sc.Predicate()
		out := &types.Summary{}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			out.TotalEvents, err = s.engine.TotalCount(gctx, s.store, pred)
			return err
		})
		g.Go(func() (err error) {
			out.UniqueUsers, err = s.engine.UniqueUsers(gctx, s.store, pred)
			return err
		})
		g.Go(func() (err error) {
			out.UniqueSessions, err = s.engine.UniqueSessions(gctx, s.store, pred)
			return err
		})
		g.Go(func() (err error) {
			out.EventsByType, err = s.engine.EventsByType(gctx, s.store, pred)
			return err
		})
		g.Go(func() (err error) {
			out.DateRange, err = s.engine.DateRange(gctx, s.store, pred)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// GetTopEvents returns the limit most frequent event names. Limits above the
// configured ceiling are clamped.
func (s *Service) GetTopEvents(ctx context.Context, limit int, projectID string) (top []types.TopEvent, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer s.observe(OpTopEvents, time.Now(), &err)

	if limit < 0 {
		return nil, errors.NewValidationError(errors.CodeNegativeLimit, "limit must not be negative")
	}
	limit = clamp(limit, s.limits.MaxTopN)

	sc, err := s.resolver.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}

	return cached(ctx, s, OpTopEvents, sc, fmt.Sprintf("limit=%d", limit), func() ([]types.TopEvent, error) {
		return s.engine.TopEvents(ctx, s.store, sc.Predicate(), limit)
	})
}

// EventsInRange returns up to limit events with start <= timestamp <= end,
// by recency.
func (s *Service) EventsInRange(ctx context.Context, start, end time.Time, limit int, projectID string) (events []*types.Event, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer s.observe(OpRange, time.Now(), &err)

	if limit < 0 {
		return nil, errors.NewValidationError(errors.CodeNegativeLimit, "limit must not be negative")
	}
	if err := checkRange(&start, &end); err != nil {
		return nil, err
	}
	limit = clamp(limit, s.limits.MaxPageSize)

	sc, err := s.resolver.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	pred := sc.Predicate()
	pred.Since, pred.Until = &start, &end
	return s.engine.Range(ctx, s.store, pred, limit)
}

// TimeSeriesRequest selects the buckets of a time series. Nil bounds are open.
type TimeSeriesRequest struct {
	Period    types.Period
	Start     *time.Time
	End       *time.Time
	ProjectID string
}

// GetTimeSeries counts events per hour or day.
func (s *Service) GetTimeSeries(ctx context.Context, req TimeSeriesRequest) (ts *types.TimeSeries, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer s.observe(OpTimeSeries, time.Now(), &err)

	if req.Period.Duration() == 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidPeriod,
			fmt.Sprintf("unsupported period %q (must be hour or day)", req.Period))
	}
	if err := checkRange(req.Start, req.End); err != nil {
		return nil, err
	}

	sc, err := s.resolver.Resolve(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	pred := sc.Predicate()
	pred.Since, pred.Until = req.Start, req.End

	params := fmt.Sprintf("period=%s;start=%s;end=%s", req.Period, formatBound(req.Start), formatBound(req.End))
	return cached(ctx, s, OpTimeSeries, sc, params, func() (*types.TimeSeries, error) {
		return s.engine.TimeSeries(ctx, s.store, pred, req.Period)
	})
}

// cached serves compute through the aggregate cache when one is configured.
// Cache failures are logged and never fail the call.
func cached[T any](ctx context.Context, s *Service, op string, sc scope.Scope, params string, compute func() (T, error)) (T, error) {
	if s.cache == nil {
		return compute()
	}

	key, err := s.cache.Key(ctx, op, sc.Slug(), params)
	if err != nil {
		s.cacheFailure(op, err)
		return compute()
	}

	var hit T
	found, err := s.cache.Get(ctx, key, &hit)
	switch {
	case err != nil:
		s.cacheFailure(op, err)
	case found:
		s.cacheResult("hit")
		return hit, nil
	default:
		s.cacheResult("miss")
	}

	v, err := compute()
	if err != nil {
		return v, err
	}
	if err := s.cache.Set(ctx, key, v); err != nil {
		s.cacheFailure(op, err)
	}
	return v, nil
}

func (s *Service) cacheFailure(op string, err error) {
	s.cacheResult("error")
	s.logger.Warn("aggregate cache unavailable", "operation", op, "error", err)
}

func (s *Service) cacheResult(result string) {
	if s.metrics != nil {
		s.metrics.CacheResult(result)
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.limits.Timeout > 0 {
		return context.WithTimeout(ctx, s.limits.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) observe(op string, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	if s.metrics != nil {
		s.metrics.ObserveQuery(op, time.Since(start), err)
	}
	if err != nil {
		level := slog.LevelWarn
		if !errors.IsValidation(err) && !errors.IsNotFound(err) {
			level = slog.LevelError
		}
		s.logger.Log(context.Background(), level, "operation failed",
			"operation", op, "duration", time.Since(start), "error", err)
	}
}

func checkWindow(limit, offset int) error {
	if limit < 0 {
		return errors.NewValidationError(errors.CodeNegativeLimit, "limit must not be negative")
	}
	if offset < 0 {
		return errors.NewValidationError(errors.CodeNegativeOffset, "offset must not be negative")
	}
	return nil
}

func checkRange(start, end *time.Time) error {
	if start != nil && end != nil && start.After(*end) {
		return errors.NewValidationError(errors.CodeInvalidDateRange, "start must not be after end")
	}
	return nil
}

func clamp(limit, ceiling int) int {
	if ceiling > 0 && limit > ceiling {
		return ceiling
	}
	return limit
}

func nonEmpty(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	v := *p
	return &v
}

func formatBound(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
