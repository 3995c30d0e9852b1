package http

import (
	"net/http"

	"github.com/arkilian/eventlens/internal/query"
	"github.com/arkilian/eventlens/pkg/types"
)

// IngestResponse represents the ingest response.
type IngestResponse struct {
	ID        int64  `json:"id"`
	RequestID string `json:"request_id"`
}

// EventsHandler serves event ingestion and listing.
type EventsHandler struct {
	svc *query.Service
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(svc *query.Service) *EventsHandler {
	return &EventsHandler{svc: svc}
}

// Ingest handles POST /v1/events. Client address and user agent come from
// the connection, never from the body.
func (h *EventsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req query.IngestRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	req.IPAddress = clientIP(r)
	req.UserAgent = r.UserAgent()

	id, err := h.svc.Ingest(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, IngestResponse{ID: id, RequestID: GetRequestID(r.Context())})
}

// List handles GET /v1/events?limit&offset&project.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", h.svc.Limits().DefaultPageSize)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	page, err := h.svc.ListEvents(r.Context(), limit, offset, projectParam(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Range handles GET /v1/events/range?start&end&limit&project.
func (h *EventsHandler) Range(w http.ResponseWriter, r *http.Request) {
	start, err := requiredTime(r, "start")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	end, err := requiredTime(r, "end")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", h.svc.Limits().DefaultRangeLimit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	events, err := h.svc.EventsInRange(r.Context(), start, end, limit, projectParam(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}
