package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/lcca/internal/apperr"
	"github.com/starford/lcca/internal/document"
	"github.com/starford/lcca/internal/recovery"
	"github.com/starford/lcca/internal/session"
)

// sessionFromURL resolves {sid}, writing a 404 when it is unknown.
func (h *Handler) sessionFromURL(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.reg.Session(chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, "lookup session", err)
		return nil, false
	}
	return s, true
}

// ListSessions handles GET /api/sessions.
//
//	@Summary		List editor sessions in creation order
//	@Tags			sessions
//	@Produce		json
//	@Success		200	{object}	SessionListResponse
//	@Security		BearerAuth
//	@Router			/sessions [get]
func (h *Handler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	all := h.reg.Sessions()
	views := make([]SessionView, len(all))
	for i, s := range all {
		views[i] = viewOf(s)
	}
	writeJSON(w, http.StatusOK, SessionListResponse{Sessions: views})
}

// SpawnSession handles POST /api/sessions.
//
//	@Summary		Start a new session on the home dashboard
//	@Tags			sessions
//	@Produce		json
//	@Success		201	{object}	SessionView
//	@Security		BearerAuth
//	@Router			/sessions [post]
func (h *Handler) SpawnSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, viewOf(h.reg.Spawn()))
}

// CloseSession handles DELETE /api/sessions/{sid}.
//
//	@Summary		Close a session, saving pending edits first
//	@Tags			sessions
//	@Param			sid	path	string	true	"Session id"
//	@Success		204	"Session closed"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid} [delete]
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromURL(w, r)
	if !ok {
		return
	}
	if err := h.reg.Close(r.Context(), s); err != nil {
		writeError(w, "close session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OpenProject handles POST /api/sessions/{sid}/open.
//
//	@Summary		Open a project, or focus the session already holding it
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			sid		path		string		true	"Session id"
//	@Param			body	body		OpenRequest	true	"Project to open"
//	@Success		200		{object}	SessionView
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/open [post]
func (h *Handler) OpenProject(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromURL(w, r)
	if !ok {
		return
	}
	var req OpenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProjectID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("project_id is required"))
		return
	}
	target, err := h.reg.OpenOrFocus(r.Context(), s, req.ProjectID, recovery.Answers{ForceOpen: req.ForceOpen})
	if err != nil {
		writeError(w, "open project", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(target))
}

// GoHome handles POST /api/sessions/{sid}/home.
//
//	@Summary		Save pending edits and return the session to the dashboard
//	@Tags			sessions
//	@Produce		json
//	@Param			sid	path		string	true	"Session id"
//	@Success		200	{object}	SessionView
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/home [post]
func (h *Handler) GoHome(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromURL(w, r)
	if !ok {
		return
	}
	if err := s.GoHome(r.Context()); err != nil {
		writeError(w, "go home", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

// GetDocument handles GET /api/sessions/{sid}/document.
//
//	@Summary		Read the session's in-memory document
//	@Tags			sessions
//	@Produce		json
//	@Param			sid	path	string	true	"Session id"
//	@Success		200	"Document JSON"
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/document [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromURL(w, r)
	if !ok {
		return
	}
	doc, err := s.Document()
	if err != nil {
		writeError(w, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// PatchDocument handles PATCH /api/sessions/{sid}/document.
//
//	@Summary		Edit metadata and sections; the change is autosaved
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			sid		path	string			true	"Session id"
//	@Param			body	body	DocumentPatch	true	"Changes"
//	@Success		200		"Document JSON"
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/document [patch]
func (h *Handler) PatchDocument(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromURL(w, r)
	if !ok {
		return
	}
	var patch DocumentPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	err := s.Update(func(d *document.Document) error {
		for k, v := range patch.Metadata {
			if err := d.Metadata.Set(k, v); err != nil {
				return err
			}
		}
		for name, raw := range patch.Sections {
			if raw == nil || string(raw) == "null" {
				d.DeleteSection(name)
				continue
			}
			if err := d.SetSection(name, raw); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, apperr.ErrNoProject) {
		writeError(w, "patch document", err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	h.GetDocument(w, r)
}

// SaveDocument handles POST /api/sessions/{sid}/save.
//
//	@Summary		Save the session's document now
//	@Tags			sessions
//	@Produce		json
//	@Param			sid	path		string	true	"Session id"
//	@Success		200	{object}	SessionView
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/save [post]
func (h *Handler) SaveDocument(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromURL(w, r)
	if !ok {
		return
	}
	if err := s.Save(r.Context()); err != nil {
		writeError(w, "save document", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

// ListCheckpoints handles GET /api/sessions/{sid}/checkpoints.
//
//	@Summary		List the bound project's checkpoints, newest first
//	@Tags			checkpoints
//	@Produce		json
//	@Param			sid	path		string	true	"Session id"
//	@Success		200	{object}	CheckpointListResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/checkpoints [get]
func (h *Handler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromURL(w, r)
	if !ok {
		return
	}
	cps, err := s.Checkpoints()
	if err != nil {
		writeError(w, "list checkpoints", err)
		return
	}
	writeJSON(w, http.StatusOK, CheckpointListResponse{Checkpoints: checkpointItems(cps)})
}

// CreateCheckpoint handles POST /api/sessions/{sid}/checkpoints.
//
//	@Summary		Write a named checkpoint of the in-memory document
//	@Tags			checkpoints
//	@Accept			json
//	@Produce		json
//	@Param			sid		path		string				true	"Session id"
//	@Param			body	body		CheckpointRequest	false	"Checkpoint name"
//	@Success		201		{object}	CheckpointResponse
//	@Failure		409		{object}	errResponse
//	@Failure		500		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/checkpoints [post]
func (h *Handler) CreateCheckpoint(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromURL(w, r)
	if !ok {
		return
	}
	var req CheckpointRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	file, err := s.Checkpoint(req.Name)
	if err != nil {
		writeError(w, "create checkpoint", err)
		return
	}
	writeJSON(w, http.StatusCreated, CheckpointResponse{Filename: file})
}

// RestoreCheckpoint handles POST /api/sessions/{sid}/restore.
//
//	@Summary		Restore a checkpoint behind the safety gate
//	@Tags			checkpoints
//	@Accept			json
//	@Produce		json
//	@Param			sid		path		string			true	"Session id"
//	@Param			body	body		RestoreRequest	true	"Restore dialog answers"
//	@Success		200		{object}	RestoreResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{sid}/restore [post]
func (h *Handler) RestoreCheckpoint(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromURL(w, r)
	if !ok {
		return
	}
	var req RestoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	answers, err := req.answers()
	if err != nil {
		writeError(w, "restore", err)
		return
	}
	res, err := s.Restore(r.Context(), answers)
	if err != nil {
		writeError(w, "restore", err)
		return
	}
	writeJSON(w, http.StatusOK, RestoreResponse{
		Checkpoint: CheckpointItem{Checkpoint: res.Checkpoint, Label: res.Checkpoint.Label()},
		Snapshot:   res.Snapshot,
		Session:    viewOf(s),
	})
}
