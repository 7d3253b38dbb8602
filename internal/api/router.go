package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/muninn/internal/audit"
	"github.com/starford/muninn/internal/export"
	"github.com/starford/muninn/internal/memoryservice"
)

// NewRouter mounts every API route. authEnabled controls Bearer token
// enforcement; sseHandler, when non-nil, serves GET /events inside the
// auth group.
func NewRouter(svc *memoryservice.Service, auditor *audit.Auditor,
	exporter *export.Exporter, importer *export.Importer,
	authEnabled bool, token string, sseHandler http.Handler) chi.Router {

	h := NewHandler(svc, auditor)
	p := NewPackageHandler(exporter, importer)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Memory CRUD.
	r.Get("/memories", h.ListMemories)
	r.Post("/memories", h.CreateMemory)
	r.Get("/memories/{id}", h.GetMemory)
	r.Patch("/memories/{id}", h.UpdateMemory)
	r.Delete("/memories/{id}", h.DeleteMemory)
	r.Post("/memories/{id}/rename", h.RenameMemory)

	// Search and similarity.
	r.Get("/search", h.Search)
	r.Get("/similar", h.Similar)
	r.Get("/memories/{id}/similar", h.SimilarToMemory)

	// Relationship graph.
	r.Get("/graph", h.Graph)
	r.Post("/links", h.Link)
	r.Delete("/links", h.Unlink)
	r.Get("/memories/{id}/related", h.Related)
	r.Get("/memories/{id}/impact", h.Impact)
	r.Get("/graph/path", h.Path)
	r.Get("/graph/components", h.Components)

	// Store health and repair.
	r.Get("/health/store", h.CheckHealth)
	r.Post("/sync", h.Sync)
	r.Post("/rebuild", h.Rebuild)

	// Portable packages.
	r.Get("/export", p.Export)
	r.Post("/import", p.Import)

	// SSE endpoint (same auth group).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
