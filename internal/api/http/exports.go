package http

import (
	"net/http"

	"github.com/arkilian/eventlens/internal/query"
)

// ExportsHandler serves event exports.
type ExportsHandler struct {
	svc *query.Service
}

// NewExportsHandler creates a new exports handler.
func NewExportsHandler(svc *query.Service) *ExportsHandler {
	return &ExportsHandler{svc: svc}
}

// Create handles POST /v1/exports. An empty body exports the unscoped view.
func (h *ExportsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req query.ExportRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	res, err := h.svc.Export(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// List handles GET /v1/exports?project.
func (h *ExportsHandler) List(w http.ResponseWriter, r *http.Request) {
	objects, err := h.svc.ListExports(r.Context(), projectParam(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"exports": objects})
}
