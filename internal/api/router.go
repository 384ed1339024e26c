package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Projects.
	r.Get("/projects", h.ListProjects)
	r.Post("/projects", h.CreateProject)
	r.Get("/projects/search", h.SearchProjects)
	r.Delete("/projects/{id}", h.DeleteProject)
	r.Get("/projects/{id}/health", h.ProjectHealth)
	r.Post("/projects/{id}/repair", h.RepairProject)

	// Sessions.
	r.Get("/sessions", h.ListSessions)
	r.Post("/sessions", h.SpawnSession)
	r.Route("/sessions/{sid}", func(r chi.Router) {
		r.Delete("/", h.CloseSession)
		r.Post("/open", h.OpenProject)
		r.Post("/home", h.GoHome)
		r.Get("/document", h.GetDocument)
		r.Patch("/document", h.PatchDocument)
		r.Post("/save", h.SaveDocument)
		r.Get("/checkpoints", h.ListCheckpoints)
		r.Post("/checkpoints", h.CreateCheckpoint)
		r.Post("/restore", h.RestoreCheckpoint)
	})

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
