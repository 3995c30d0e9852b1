package http

import (
	"net/http"
	"strconv"

	"github.com/arkilian/eventlens/internal/errors"
	"github.com/arkilian/eventlens/internal/query"
	"github.com/arkilian/eventlens/pkg/types"
)

// ProjectsHandler serves project administration.
type ProjectsHandler struct {
	svc *query.Service
}

// NewProjectsHandler creates a new projects handler.
func NewProjectsHandler(svc *query.Service) *ProjectsHandler {
	return &ProjectsHandler{svc: svc}
}

// Create handles POST /v1/projects.
func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req query.CreateProjectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	p, err := h.svc.CreateProject(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// List handles GET /v1/projects?include_inactive.
func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	includeInactive := false
	if raw := r.URL.Query().Get("include_inactive"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeServiceError(w, r, errors.NewValidationError(errors.CodeInvalidArgument, "include_inactive must be a boolean"))
			return
		}
		includeInactive = v
	}

	projects, err := h.svc.ListProjects(r.Context(), includeInactive)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

// Get handles GET /v1/projects/{slug}.
func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProject(r.Context(), r.PathValue("slug"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Update handles PATCH /v1/projects/{slug}. Setting is_active false
// deactivates the project.
func (h *ProjectsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var u types.ProjectUpdate
	if err := decodeBody(w, r, &u); err != nil {
		writeServiceError(w, r, err)
		return
	}
	p, err := h.svc.UpdateProject(r.Context(), r.PathValue("slug"), u)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
