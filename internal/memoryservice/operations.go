package memoryservice

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/checksum"
	"github.com/starford/muninn/internal/embedding"
	"github.com/starford/muninn/internal/graph"
	"github.com/starford/muninn/internal/ident"
	"github.com/starford/muninn/internal/index"
	"github.com/starford/muninn/internal/record"
)

// Detail is the full representation of one memory, including its
// current graph neighbourhood.
type Detail struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Tags     []string       `json:"tags"`
	Scope    string         `json:"scope,omitempty"`
	Severity string         `json:"severity,omitempty"`
	Source   string         `json:"source,omitempty"`
	Links    []string       `json:"links,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	Created  time.Time      `json:"created"`
	Updated  time.Time      `json:"updated"`
	Path     string         `json:"path"`
	Checksum string         `json:"checksum"`
	Inbound  []graph.Edge   `json:"inbound"`
	Outbound []graph.Edge   `json:"outbound"`
}

func (s *Service) detail(rec *record.Record, data []byte) (*Detail, error) {
	doc, err := s.graph.Load()
	if err != nil {
		return nil, err
	}
	d := &Detail{
		ID:       rec.ID,
		Type:     rec.Type,
		Title:    rec.Title,
		Content:  rec.Content,
		Tags:     rec.Tags,
		Scope:    rec.Scope,
		Severity: rec.Severity,
		Source:   rec.Source,
		Links:    rec.Links,
		Meta:     rec.Meta,
		Created:  rec.Created,
		Updated:  rec.Updated,
		Path:     rec.StoragePath(),
		Checksum: checksum.Sum(data),
		Inbound:  doc.Inbound(rec.ID),
		Outbound: doc.Outbound(rec.ID),
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	if d.Inbound == nil {
		d.Inbound = []graph.Edge{}
	}
	if d.Outbound == nil {
		d.Outbound = []graph.Edge{}
	}
	return d, nil
}

// load resolves id to its record, trying the index fast path first and
// falling back to the derived file location for records the index has
// not caught up with yet.
func (s *Service) load(id string) (*record.Record, []byte, error) {
	path := ""
	if e, ok, err := s.idx.Get(id); err == nil && ok {
		path = e.Path
	} else if typ := typeOf(id); typ != "" {
		path = record.PathFor(typ, id)
	}
	if path == "" {
		return nil, nil, apperr.NotFound(id)
	}
	data, err := s.store.Read(path)
	if err != nil {
		return nil, nil, err
	}
	rec, err := record.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return rec, data, nil
}

// Get returns the full memory for id.
func (s *Service) Get(_ context.Context, id string) (*Detail, error) {
	rec, data, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return s.detail(rec, data)
}

// UpdateRequest describes an in-place mutation. Nil pointer fields are
// left untouched; tag changes apply after field changes.
type UpdateRequest struct {
	Title      *string         `json:"title,omitempty"`
	Content    *string         `json:"content,omitempty"`
	Severity   *string         `json:"severity,omitempty"`
	Source     *string         `json:"source,omitempty"`
	Meta       *map[string]any `json:"meta,omitempty"`
	AddTags    []string        `json:"addTags,omitempty"`
	RemoveTags []string        `json:"removeTags,omitempty"`
}

func (r UpdateRequest) empty() bool {
	return r.Title == nil && r.Content == nil && r.Severity == nil &&
		r.Source == nil && r.Meta == nil && len(r.AddTags) == 0 && len(r.RemoveTags) == 0
}

// Update rewrites the record file with the requested changes and
// refreshes the caches. The id and created timestamp never change here;
// Rename is the explicit path for id changes.
func (s *Service) Update(_ context.Context, id string, req UpdateRequest) (*Detail, error) {
	if req.empty() {
		return nil, apperr.Validation("update request changes nothing")
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return nil, apperr.Validation("title must not be empty")
	}
	if req.Severity != nil && !record.ValidSeverity(*req.Severity) {
		return nil, apperr.Validation("unknown severity: %s", *req.Severity)
	}

	rec, _, err := s.load(id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		rec.Title = strings.TrimSpace(*req.Title)
	}
	if req.Content != nil {
		rec.Content = *req.Content
	}
	if req.Severity != nil {
		rec.Severity = *req.Severity
	}
	if req.Source != nil {
		rec.Source = *req.Source
	}
	if req.Meta != nil {
		rec.Meta = *req.Meta
	}
	for _, t := range dedup(req.AddTags) {
		rec.AddTag(t)
	}
	for _, t := range req.RemoveTags {
		// The scope tag is structural, not caller-owned.
		if t == s.scope.Tag() {
			continue
		}
		rec.RemoveTag(t)
	}
	rec.AddTag(s.scope.Tag())
	rec.Updated = time.Now().UTC().Truncate(time.Second)

	data, err := record.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := s.store.Write(rec.StoragePath(), data); err != nil {
		return nil, err
	}
	if err := s.idx.Add(index.FromRecord(rec, checksum.Sum(data))); err != nil {
		return nil, err
	}
	if s.text != nil {
		s.attempt("search upsert", id, func() error {
			return s.text.Upsert(id, rec.Title, rec.Content, rec.Tags)
		})
	}
	return s.detail(rec, data)
}

// DeleteResult reports which cleanup steps succeeded. The file removal
// is the primary operation; everything else is best-effort.
type DeleteResult struct {
	ID             string `json:"id"`
	IndexRemoved   bool   `json:"indexRemoved"`
	NodeRemoved    bool   `json:"nodeRemoved"`
	VectorRemoved  bool   `json:"vectorRemoved"`
	SidecarRemoved bool   `json:"sidecarRemoved"`
}

// Delete removes the record file, then clears the index entry, the
// graph node with its incident edges, the cached embedding and the
// sidecar row. Cleanup failures are logged and reflected in the result
// but never fail the delete.
func (s *Service) Delete(_ context.Context, id string) (*DeleteResult, error) {
	// Resolve the path without a strict parse: a corrupt record must
	// still be deletable.
	path := ""
	if e, ok, err := s.idx.Get(id); err == nil && ok {
		path = e.Path
	} else if typ := typeOf(id); typ != "" {
		path = record.PathFor(typ, id)
	}
	if path == "" {
		return nil, apperr.NotFound(id)
	}
	if ok, err := s.store.Exists(path); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperr.NotFound(id)
	}
	if err := s.store.Delete(path); err != nil {
		return nil, err
	}

	res := &DeleteResult{ID: id}
	res.IndexRemoved = s.attempt("index remove", id, func() error {
		return s.idx.Remove(id)
	})
	res.NodeRemoved = s.attempt("graph node remove", id, func() error {
		return s.graph.RemoveNode(id)
	})
	if s.engine != nil {
		res.VectorRemoved = s.attempt("embedding remove", id, func() error {
			return s.engine.Cache().Remove(id)
		})
	}
	if s.text != nil {
		res.SidecarRemoved = s.attempt("search remove", id, func() error {
			return s.text.Delete(id)
		})
	}
	return res, nil
}

// ListOptions filters a listing.
type ListOptions struct {
	Type  string
	Tags  []string
	Limit int
}

// List returns index entries filtered by type and tags, newest first.
func (s *Service) List(_ context.Context, opts ListOptions) ([]index.Entry, error) {
	if opts.Type != "" && !record.ValidType(opts.Type) {
		return nil, apperr.Validation("unknown type: %s", opts.Type)
	}
	entries, err := s.idx.All()
	if err != nil {
		return nil, err
	}
	out := make([]index.Entry, 0, len(entries))
	for _, e := range entries {
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if !hasAllTags(e.Tags, opts.Tags) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Updated.Equal(out[j].Updated) {
			return out[i].Updated.After(out[j].Updated)
		}
		return out[i].ID < out[j].ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if strings.EqualFold(h, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Search scores the index by weighted substring match, then merges in
// full-text body hits from the sidecar when one is attached. Sidecar
// failures degrade to index-only results.
func (s *Service) Search(_ context.Context, query string, opts index.SearchOptions) ([]index.Hit, error) {
	hits, err := s.idx.Search(query, opts)
	if err != nil {
		return nil, err
	}
	if s.text == nil {
		return hits, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	bodyHits, err := s.text.Search(query, limit)
	if err != nil {
		s.logger.Warn("search sidecar failed", slog.String("error", err.Error()))
		return hits, nil
	}
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		seen[h.Entry.ID] = struct{}{}
	}
	for _, bh := range bodyHits {
		if _, ok := seen[bh.ID]; ok {
			continue
		}
		e, ok, err := s.idx.Get(bh.ID)
		if err != nil || !ok {
			continue
		}
		if !matchesSearchFilters(e, opts) {
			continue
		}
		hits = append(hits, index.Hit{Entry: e, Score: bodyMatchScore})
	}
	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	return hits, nil
}

// bodyMatchScore ranks body-only hits below any header match.
const bodyMatchScore = 2

func matchesSearchFilters(e index.Entry, opts index.SearchOptions) bool {
	if opts.Type != "" && e.Type != opts.Type {
		return false
	}
	if opts.Scope != "" && e.Scope != opts.Scope {
		return false
	}
	return hasAllTags(e.Tags, opts.Tags)
}

// Rename gives a memory a new title and, with it, a new id derived the
// same way Create derives one. The file moves, every cache re-keys and
// the graph keeps its edges under the new id.
func (s *Service) Rename(_ context.Context, id, newTitle string) (*Detail, error) {
	if strings.TrimSpace(newTitle) == "" {
		return nil, apperr.Validation("title must not be empty")
	}
	rec, _, err := s.load(id)
	if err != nil {
		return nil, err
	}
	newID, err := ident.GenerateUniqueID(rec.Type, newTitle, s.exists)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	if err := s.checkSiblings(newID, rec.Type); err != nil {
		return nil, err
	}

	oldPath := rec.StoragePath()
	rec.ID = newID
	rec.Title = strings.TrimSpace(newTitle)
	rec.Updated = time.Now().UTC().Truncate(time.Second)

	data, err := record.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := s.store.Write(rec.StoragePath(), data); err != nil {
		return nil, err
	}
	if err := s.store.Delete(oldPath); err != nil {
		return nil, err
	}
	if err := s.idx.Remove(id); err != nil {
		return nil, err
	}
	if err := s.idx.Add(index.FromRecord(rec, checksum.Sum(data))); err != nil {
		return nil, err
	}

	s.attempt("graph rename", id, func() error {
		return s.renameNode(id, newID, rec.Type)
	})
	if s.engine != nil {
		s.attempt("embedding re-key", id, func() error {
			return s.rekeyEmbedding(id, newID)
		})
	}
	if s.text != nil {
		s.attempt("search re-key", id, func() error {
			if err := s.text.Delete(id); err != nil {
				return err
			}
			return s.text.Upsert(newID, rec.Title, rec.Content, rec.Tags)
		})
	}
	return s.detail(rec, data)
}

// renameNode rewrites the node id and every edge endpoint in one save.
func (s *Service) renameNode(oldID, newID, typ string) error {
	doc, err := s.graph.Load()
	if err != nil {
		return err
	}
	found := false
	nodes := make([]graph.Node, 0, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n.ID == oldID {
			found = true
			n = graph.Node{ID: newID, Type: typ}
		}
		nodes = append(nodes, n)
	}
	if !found {
		nodes = append(nodes, graph.Node{ID: newID, Type: typ})
	}
	edges := make([]graph.Edge, 0, len(doc.Edges))
	for _, e := range doc.Edges {
		if e.Source == oldID {
			e.Source = newID
		}
		if e.Target == oldID {
			e.Target = newID
		}
		edges = append(edges, e)
	}
	return s.graph.Replace(nodes, edges)
}

func (s *Service) rekeyEmbedding(oldID, newID string) error {
	cache := s.engine.Cache()
	entry, ok, err := cache.Get(oldID)
	if err != nil || !ok {
		return err
	}
	if err := cache.PutBatch(map[string]embedding.CacheEntry{newID: entry}); err != nil {
		return err
	}
	return cache.Remove(oldID)
}
