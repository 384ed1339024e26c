package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/lcca/internal/projectservice"
	"github.com/starford/lcca/internal/registry"
	"github.com/starford/lcca/internal/session"
)

// Handler holds API route handlers.
type Handler struct {
	svc *projectservice.Service
	reg *registry.Registry
}

// NewHandler creates a new Handler.
func NewHandler(svc *projectservice.Service, reg *registry.Registry) *Handler {
	return &Handler{svc: svc, reg: reg}
}

// ListProjects handles GET /api/projects.
//
//	@Summary		List projects with optional pagination and sorting
//	@Tags			projects
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			sort	query		string	false	"Sort field"	Enums(id, name, updated)
//	@Success		200		{object}	ProjectListResponse
//	@Security		BearerAuth
//	@Router			/projects [get]
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListProjects(r.Context(), limit, offset, q.Get("sort"))
	if err != nil {
		writeError(w, "list projects", err)
		return
	}
	writeJSON(w, http.StatusOK, ProjectListResponse{Projects: items, Total: total})
}

// SearchProjects handles GET /api/projects/search.
//
//	@Summary		Search project names and metadata
//	@Tags			projects
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/search [get]
func (h *Handler) SearchProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// CreateProject handles POST /api/projects.
//
//	@Summary		Create a project and open it in a session
//	@Tags			projects
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateProjectRequest	true	"Project to create"
//	@Success		201		{object}	CreateProjectResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects [post]
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var caller *session.Session
	if req.SessionID != "" {
		s, err := h.reg.Session(req.SessionID)
		if err != nil {
			writeError(w, "create project", err)
			return
		}
		caller = s
	}

	_, s, err := h.svc.NewProject(r.Context(), caller, req.Name, nil)
	if err != nil {
		writeError(w, "create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateProjectResponse{ID: s.ProjectID(), Session: viewOf(s)})
}

// DeleteProject handles DELETE /api/projects/{id}.
//
//	@Summary		Delete a project, unbinding every session that holds it
//	@Tags			projects
//	@Param			id	path	string	true	"Project id"
//	@Success		204	"Project deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{id} [delete]
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteProject(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProjectHealth handles GET /api/projects/{id}/health.
//
//	@Summary		Inspect a project's canonical and backup files
//	@Tags			projects
//	@Produce		json
//	@Param			id	path		string	true	"Project id"
//	@Success		200	{object}	HealthResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{id}/health [get]
func (h *Handler) ProjectHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Health(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "project health", err)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{HealthReport: report, Recoverable: report.Recoverable()})
}

// RepairProject handles POST /api/projects/{id}/repair.
//
//	@Summary		Restore the canonical file from its backup
//	@Tags			projects
//	@Produce		json
//	@Param			id	path		string	true	"Project id"
//	@Success		200	{object}	RepairResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{id}/repair [post]
func (h *Handler) RepairProject(w http.ResponseWriter, r *http.Request) {
	repaired, err := h.svc.Repair(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "repair project", err)
		return
	}
	writeJSON(w, http.StatusOK, RepairResponse{Repaired: repaired})
}
