package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/audit"
	"github.com/starford/muninn/internal/index"
	"github.com/starford/muninn/internal/memoryservice"
)

const maxBodyBytes = 10 << 20

// Handler holds the memory and health route handlers.
type Handler struct {
	svc     *memoryservice.Service
	auditor *audit.Auditor
}

// NewHandler creates a Handler.
func NewHandler(svc *memoryservice.Service, auditor *audit.Auditor) *Handler {
	return &Handler{svc: svc, auditor: auditor}
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error, context string) {
	switch {
	case errors.Is(err, apperr.ErrAlreadyExists) || errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case apperr.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case apperr.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case apperr.Is(err, apperr.KindFormat):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	case apperr.Is(err, apperr.KindSecurity):
		slog.Warn(context, slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorBody("invalid path"))
	case apperr.Is(err, apperr.KindProvider):
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
	default:
		slog.Error(context, slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListMemories handles GET /api/memories.
func (h *Handler) ListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	opts := memoryservice.ListOptions{
		Type:  q.Get("type"),
		Limit: limit,
	}
	if tags := q.Get("tags"); tags != "" {
		opts.Tags = strings.Split(tags, ",")
	}
	entries, err := h.svc.List(r.Context(), opts)
	if err != nil {
		writeError(w, err, "list memories failed")
		return
	}
	if entries == nil {
		entries = []index.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"memories": entries,
		"total":    len(entries),
	})
}

// GetMemory handles GET /api/memories/{id}.
func (h *Handler) GetMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err, "get memory failed")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CreateMemory handles POST /api/memories.
func (h *Handler) CreateMemory(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req memoryservice.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	res, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeError(w, err, "create memory failed")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// UpdateMemory handles PATCH /api/memories/{id}.
func (h *Handler) UpdateMemory(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	id := chi.URLParam(r, "id")
	var req memoryservice.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	m, err := h.svc.Update(r.Context(), id, req)
	if err != nil {
		writeError(w, err, "update memory failed")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DeleteMemory handles DELETE /api/memories/{id}.
func (h *Handler) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.svc.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err, "delete memory failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RenameMemory handles POST /api/memories/{id}/rename.
func (h *Handler) RenameMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	m, err := h.svc.Rename(r.Context(), id, req.Title)
	if err != nil {
		writeError(w, err, "rename memory failed")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Search handles GET /api/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	opts := index.SearchOptions{
		Type:  q.Get("type"),
		Scope: q.Get("scope"),
		Limit: limit,
	}
	if tags := q.Get("tags"); tags != "" {
		opts.Tags = strings.Split(tags, ",")
	}
	hits, err := h.svc.Search(r.Context(), query, opts)
	if err != nil {
		writeError(w, err, "search failed")
		return
	}
	if hits == nil {
		hits = []index.Hit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

// Similar handles GET /api/similar?q=...
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	threshold, _ := strconv.ParseFloat(q.Get("threshold"), 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	matches, err := h.svc.Similar(r.Context(), query, threshold, limit)
	if err != nil {
		writeError(w, err, "similarity search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// SimilarToMemory handles GET /api/memories/{id}/similar.
func (h *Handler) SimilarToMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	threshold, _ := strconv.ParseFloat(q.Get("threshold"), 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	matches, err := h.svc.SimilarToMemory(r.Context(), id, threshold, limit)
	if err != nil {
		writeError(w, err, "similarity search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// Graph handles GET /api/graph.
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.GraphDocument(r.Context())
	if err != nil {
		writeError(w, err, "graph failed")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Link handles POST /api/links.
func (h *Handler) Link(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
		Target string `json:"target"`
		Label  string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	res, err := h.svc.Link(r.Context(), req.Source, req.Target, req.Label)
	if err != nil {
		writeError(w, err, "link failed")
		return
	}
	status := http.StatusCreated
	if res.AlreadyExists {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// Unlink handles DELETE /api/links.
func (h *Handler) Unlink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	removed, err := h.svc.Unlink(r.Context(), q.Get("source"), q.Get("target"), q.Get("label"))
	if err != nil {
		writeError(w, err, "unlink failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// Related handles GET /api/memories/{id}/related.
func (h *Handler) Related(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rel, err := h.svc.GetRelated(r.Context(), id)
	if err != nil {
		writeError(w, err, "related failed")
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// Impact handles GET /api/memories/{id}/impact.
func (h *Handler) Impact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))
	impacted, err := h.svc.Impact(r.Context(), id, depth)
	if err != nil {
		writeError(w, err, "impact failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"impacted": impacted})
}

// Path handles GET /api/graph/path?from=&to=.
func (h *Handler) Path(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("'from' and 'to' are required"))
		return
	}
	path, err := h.svc.ShortestPath(r.Context(), from, to)
	if err != nil {
		writeError(w, err, "shortest path failed")
		return
	}
	if path == nil {
		path = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path})
}

// Components handles GET /api/graph/components.
func (h *Handler) Components(w http.ResponseWriter, r *http.Request) {
	comps, err := h.svc.Components(r.Context())
	if err != nil {
		writeError(w, err, "components failed")
		return
	}
	if comps == nil {
		comps = [][]string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"components": comps})
}

// CheckHealth handles GET /api/health/store.
func (h *Handler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.auditor.Validate()
	if err != nil {
		writeError(w, err, "health check failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Sync handles POST /api/sync.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.auditor.Sync()
	if err != nil {
		writeError(w, err, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Rebuild handles POST /api/rebuild. Destructive; only ever explicit.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		writeJSON(w, http.StatusBadRequest, errorBody("rebuild is destructive; pass confirm=true"))
		return
	}
	res, err := h.auditor.Rebuild()
	if err != nil {
		writeError(w, err, "rebuild failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
