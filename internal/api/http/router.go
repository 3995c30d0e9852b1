package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/arkilian/eventlens/internal/logging"
	"github.com/arkilian/eventlens/internal/observability"
	"github.com/arkilian/eventlens/internal/query"
)

// RouterOptions configures the API surface around the query service.
type RouterOptions struct {
	// Health reports whether the backing store is reachable.
	Health func(ctx context.Context) error

	// Metrics serves the Prometheus exposition at /metrics when set.
	Metrics http.Handler

	// Stats serves operation statistics at /v1/stats when set.
	Stats *observability.OperationStats

	// Middleware runs before the default chain, outermost first.
	Middleware []func(http.Handler) http.Handler

	Logger *slog.Logger
}

// NewRouter builds the HTTP handler for every API route.
func NewRouter(svc *query.Service, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("component", "http")

	chain := append([]func(http.Handler) http.Handler{}, opts.Middleware...)
	chain = append(chain,
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		CorrelationIDMiddleware,
		LoggingMiddleware(logger),
		ContentTypeMiddleware,
	)
	middleware := ChainMiddleware(chain...)

	events := NewEventsHandler(svc)
	analytics := NewAnalyticsHandler(svc)
	projects := NewProjectsHandler(svc)
	exports := NewExportsHandler(svc)

	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware(h))
	}

	handle("GET /health", healthHandler(opts.Health))

	handle("POST /v1/events", events.Ingest)
	handle("GET /v1/events", events.List)
	handle("GET /v1/events/range", events.Range)

	handle("GET /v1/analytics/summary", analytics.Summary)
	handle("GET /v1/analytics/top-events", analytics.TopEvents)
	handle("GET /v1/analytics/timeseries", analytics.TimeSeries)

	handle("POST /v1/projects", projects.Create)
	handle("GET /v1/projects", projects.List)
	handle("GET /v1/projects/{slug}", projects.Get)
	handle("PATCH /v1/projects/{slug}", projects.Update)

	handle("POST /v1/exports", exports.Create)
	handle("GET /v1/exports", exports.List)

	if opts.Stats != nil {
		handle("GET /v1/stats", statsHandler(opts.Stats))
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	mux.Handle("/", middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "ROUTE_NOT_FOUND", "no route for "+r.Method+" "+r.URL.Path, GetRequestID(r.Context()))
	})))
	return mux
}

// healthHandler reports liveness and store reachability.
func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "eventlens"})
	}
}

// statsHandler serves the most frequent operations and scopes.
func statsHandler(stats *observability.OperationStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := 10
		if raw := r.URL.Query().Get("n"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil && v > 0 {
				n = v
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"operations": stats.TopOperations(n),
			"scopes":     stats.TopScopes(n),
		})
	}
}
