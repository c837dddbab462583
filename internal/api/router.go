package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/studiopack/internal/packservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// outputDir is where downloaded packages are served from.
func NewRouter(svc *packservice.Service, authEnabled bool, token string, sseHandler http.Handler, outputDir string) chi.Router {
	h := NewHandler(svc)
	fh := NewFilesHandler(svc, outputDir)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/tasks", h.Tasks)

	r.Post("/downloads", h.Download)
	r.Get("/packages/{folder}", fh.ListFiles)
	r.Get("/packages/{folder}/{name}", fh.ServeFile)

	r.Route("/uploads", func(r chi.Router) {
		r.Post("/", h.BeginUpload)
		r.Post("/files", fh.Upload)
		r.Get("/{id}", h.GetUpload)
		r.Delete("/{id}", h.CancelUpload)
		r.Post("/{id}/smart-crops-connector", h.SelectSmartCropsConnector)
		r.Post("/{id}/replacements", h.ReplaceConnectors)
		r.Post("/{id}/start", h.StartUpload)
	})

	r.Get("/connectors", h.Connectors)
	r.Get("/connectors/{id}/items", h.Items)

	r.Get("/runs", h.Runs)
	r.Get("/runs/{id}", h.Run)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
