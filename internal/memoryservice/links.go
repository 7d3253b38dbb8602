package memoryservice

import (
	"context"
	"log/slog"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/embedding"
	"github.com/starford/muninn/internal/graph"
)

// LinkResult reports an explicit link operation.
type LinkResult struct {
	Source        string `json:"source"`
	Target        string `json:"target"`
	Label         string `json:"label"`
	AlreadyExists bool   `json:"alreadyExists"`
}

// Link creates a directed labelled edge between two existing memories.
// An empty label defaults to relates-to. Re-linking an existing tuple
// reports alreadyExists instead of duplicating.
func (s *Service) Link(_ context.Context, source, target, label string) (*LinkResult, error) {
	if label == "" {
		label = graph.LabelRelatesTo
	}
	if source == target {
		return nil, apperr.Validation("cannot link a memory to itself")
	}
	for _, id := range []string{source, target} {
		if !s.exists(id) {
			return nil, apperr.NotFound(id)
		}
	}
	// Both endpoints get a node so the edge is never dangling.
	if err := s.graph.AddNode(source, typeOf(source)); err != nil {
		return nil, err
	}
	if err := s.graph.AddNode(target, typeOf(target)); err != nil {
		return nil, err
	}
	already, err := s.graph.AddEdge(source, target, label)
	if err != nil {
		return nil, err
	}
	return &LinkResult{Source: source, Target: target, Label: label, AlreadyExists: already}, nil
}

// Unlink removes edges from source to target. An empty label removes
// every label on the pair. It reports whether anything was removed.
func (s *Service) Unlink(_ context.Context, source, target, label string) (bool, error) {
	return s.graph.RemoveEdge(source, target, label)
}

// Related describes a memory's immediate graph neighbourhood.
type Related struct {
	ID        string       `json:"id"`
	Neighbors []string     `json:"neighbors"`
	Inbound   []graph.Edge `json:"inbound"`
	Outbound  []graph.Edge `json:"outbound"`
}

// GetRelated returns the direct neighbourhood of id.
func (s *Service) GetRelated(_ context.Context, id string) (*Related, error) {
	doc, err := s.graph.Load()
	if err != nil {
		return nil, err
	}
	if _, ok := doc.NodeSet()[id]; !ok {
		if !s.exists(id) {
			return nil, apperr.NotFound(id)
		}
		// Known memory, no node yet: an empty neighbourhood, not an error.
		return &Related{ID: id, Neighbors: []string{}, Inbound: []graph.Edge{}, Outbound: []graph.Edge{}}, nil
	}
	rel := &Related{
		ID:        id,
		Neighbors: doc.Neighbors(id),
		Inbound:   doc.Inbound(id),
		Outbound:  doc.Outbound(id),
	}
	if rel.Neighbors == nil {
		rel.Neighbors = []string{}
	}
	if rel.Inbound == nil {
		rel.Inbound = []graph.Edge{}
	}
	if rel.Outbound == nil {
		rel.Outbound = []graph.Edge{}
	}
	return rel, nil
}

// ShortestPath returns an unweighted shortest path between two
// memories, or NotFound when either endpoint has no node.
func (s *Service) ShortestPath(_ context.Context, from, to string) ([]string, error) {
	doc, err := s.graph.Load()
	if err != nil {
		return nil, err
	}
	nodes := doc.NodeSet()
	for _, id := range []string{from, to} {
		if _, ok := nodes[id]; !ok {
			return nil, apperr.NotFound(id)
		}
	}
	return doc.FindShortestPath(from, to), nil
}

// Impact returns the blast radius of a change to id, bounded by depth.
func (s *Service) Impact(_ context.Context, id string, depth int) ([]graph.Impacted, error) {
	doc, err := s.graph.Load()
	if err != nil {
		return nil, err
	}
	if _, ok := doc.NodeSet()[id]; !ok {
		if !s.exists(id) {
			return nil, apperr.NotFound(id)
		}
		return []graph.Impacted{}, nil
	}
	out := doc.CalculateImpact(id, depth)
	if out == nil {
		out = []graph.Impacted{}
	}
	return out, nil
}

// Components returns every connected component, undirected view.
func (s *Service) Components(_ context.Context) ([][]string, error) {
	doc, err := s.graph.Load()
	if err != nil {
		return nil, err
	}
	return doc.ConnectedComponents(), nil
}

// GraphDocument exposes the raw graph for API consumers.
func (s *Service) GraphDocument(_ context.Context) (*graph.Document, error) {
	return s.graph.Load()
}

// Similar runs embedding similarity search over free text. A missing
// provider or provider failure is fatal here: the caller asked for
// similarity directly.
func (s *Service) Similar(ctx context.Context, text string, threshold float64, limit int) ([]embedding.Match, error) {
	if s.engine == nil {
		return nil, apperr.Provider("no embedding provider configured", nil)
	}
	if threshold <= 0 {
		threshold = embedding.DefaultThreshold
	}
	return s.engine.FindSimilar(ctx, text, threshold, limit)
}

// SimilarToMemory ranks existing memories against the memory id.
func (s *Service) SimilarToMemory(ctx context.Context, id string, threshold float64, limit int) ([]embedding.Match, error) {
	if s.engine == nil {
		return nil, apperr.Provider("no embedding provider configured", nil)
	}
	if threshold <= 0 {
		threshold = embedding.DefaultThreshold
	}
	rec, _, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return s.engine.FindSimilarToMemory(ctx, id, rec.Title+"\n\n"+rec.Content, threshold, limit)
}

// Backfill embeds every memory whose cached vector is missing or
// stale. It returns the number of vectors generated.
func (s *Service) Backfill(ctx context.Context) (int, error) {
	if s.engine == nil {
		return 0, apperr.Provider("no embedding provider configured", nil)
	}
	entries, err := s.idx.All()
	if err != nil {
		return 0, err
	}
	items := make([]embedding.Item, 0, len(entries))
	for _, e := range entries {
		rec, _, err := s.load(e.ID)
		if err != nil {
			s.logger.Warn("backfill: load failed", slog.String("id", e.ID), slog.String("error", err.Error()))
			continue
		}
		items = append(items, embedding.Item{ID: rec.ID, Text: rec.Title + "\n\n" + rec.Content})
	}
	return s.engine.Backfill(ctx, items)
}
