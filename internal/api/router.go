package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(sess Session, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(sess)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// View state.
	r.Get("/view", h.GetView)
	r.Post("/view/retry", h.Retry)
	r.Put("/search", h.SetSearch)
	r.Put("/page", h.SetPage)

	// Mutations.
	r.Post("/notes", h.CreateNote)
	r.Delete("/notes/{id}", h.DeleteNote)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
