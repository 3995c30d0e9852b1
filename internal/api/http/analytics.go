package http

import (
	"net/http"

	"github.com/arkilian/eventlens/internal/query"
	"github.com/arkilian/eventlens/pkg/types"
)

// TopEventsResponse wraps the ranked report.
type TopEventsResponse struct {
	Events []types.TopEvent `json:"events"`
}

// AnalyticsHandler serves the aggregate reports.
type AnalyticsHandler struct {
	svc *query.Service
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(svc *query.Service) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc}
}

// Summary handles GET /v1/analytics/summary?project.
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.GetSummary(r.Context(), projectParam(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// TopEvents handles GET /v1/analytics/top-events?limit&project.
func (h *AnalyticsHandler) TopEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", h.svc.Limits().DefaultTopN)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	top, err := h.svc.GetTopEvents(r.Context(), limit, projectParam(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if top == nil {
		top = []types.TopEvent{}
	}
	writeJSON(w, http.StatusOK, TopEventsResponse{Events: top})
}

// TimeSeries handles GET /v1/analytics/timeseries?period&start&end&project.
// The period defaults to day.
func (h *AnalyticsHandler) TimeSeries(w http.ResponseWriter, r *http.Request) {
	req := query.TimeSeriesRequest{
		Period:    types.Period(r.URL.Query().Get("period")),
		ProjectID: projectParam(r),
	}
	if req.Period == "" {
		req.Period = types.PeriodDay
	}
	var err error
	if req.Start, err = timeParam(r, "start"); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.End, err = timeParam(r, "end"); err != nil {
		writeServiceError(w, r, err)
		return
	}

	ts, err := h.svc.GetTimeSeries(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if ts.Data == nil {
		ts.Data = []types.TimeBucket{}
	}
	writeJSON(w, http.StatusOK, ts)
}
