package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter mounts the API routes. The search and CDC endpoints are always
// open (the changefeed sender does not authenticate); the record admin
// routes sit behind the optional Bearer auth. events, if non-nil, is
// mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, events http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/search/{query}/{limit:[0-9]+}", h.Search)

	// The changefeed may probe with GET before delivering with POST.
	r.Post("/cdc", h.CDC)
	r.Get("/cdc", h.CDC)

	r.Group(func(pr chi.Router) {
		pr.Use(AuthMiddleware(authEnabled, token))
		pr.Post("/records", h.CreateRecord)
		pr.Get("/records/{id}", h.GetRecord)
		if events != nil {
			pr.Get("/events", events.ServeHTTP)
		}
	})

	return r
}
