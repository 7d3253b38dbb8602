// Package graph maintains the directed labelled relationship graph
// between records, persisted as a rebuildable JSON document.
package graph

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/storage"
)

// FileName is the graph document location relative to the store root.
const FileName = "graph.json"

// Version identifies the current graph document layout.
const Version = 1

// Edge labels written by the service layer.
const (
	LabelRelatesTo  = "relates-to"
	LabelSupersedes = "supersedes"
	LabelSimilarity = "auto-linked-by-similarity"
)

// Node is one graph participant.
type Node struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Edge is a directed labelled relation. The (source, target, label)
// tuple is the identity; insertion is idempotent.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

// Document is the on-disk shape of the graph.
type Document struct {
	Version int    `json:"version"`
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`
}

// NodeSet returns the ids present in the document.
func (d *Document) NodeSet() map[string]struct{} {
	set := make(map[string]struct{}, len(d.Nodes))
	for _, n := range d.Nodes {
		set[n.ID] = struct{}{}
	}
	return set
}

// HasEdge reports whether the exact (source, target, label) tuple exists.
func (d *Document) HasEdge(source, target, label string) bool {
	for _, e := range d.Edges {
		if e.Source == source && e.Target == target && e.Label == label {
			return true
		}
	}
	return false
}

// Outbound returns the edges leaving id.
func (d *Document) Outbound(id string) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// Inbound returns the edges arriving at id.
func (d *Document) Inbound(id string) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.Target == id {
			out = append(out, e)
		}
	}
	return out
}

// Neighbors returns the distinct ids adjacent to id in either direction.
func (d *Document) Neighbors(id string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(n string) {
		if n == id {
			return
		}
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	for _, e := range d.Edges {
		if e.Source == id {
			add(e.Target)
		}
		if e.Target == id {
			add(e.Source)
		}
	}
	sort.Strings(out)
	return out
}

// Store reads and writes the graph document through the store provider.
type Store struct {
	store  storage.Provider
	logger *slog.Logger

	mu sync.Mutex // serialises load-mutate-save cycles in this process
}

// New creates a Store over the given file store.
func New(store storage.Provider, logger *slog.Logger) *Store {
	return &Store{store: store, logger: logger}
}

// Load reads the graph document. A missing or unparsable file yields an
// empty document.
func (s *Store) Load() (*Document, error) {
	data, err := s.store.Read(FileName)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return &Document{Version: Version}, nil
		}
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("graph: unreadable document, starting empty", slog.String("error", err.Error()))
		return &Document{Version: Version}, nil
	}
	return &doc, nil
}

// save persists the document with nodes and edges in a stable order.
func (s *Store) save(doc *Document) error {
	doc.Version = Version
	sort.Slice(doc.Nodes, func(i, j int) bool { return doc.Nodes[i].ID < doc.Nodes[j].ID })
	sort.Slice(doc.Edges, func(i, j int) bool {
		a, b := doc.Edges[i], doc.Edges[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Label < b.Label
	})
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperr.IO("encode graph", err)
	}
	return s.store.Write(FileName, append(data, '\n'))
}

// AddNode inserts a node, updating the type if the id already exists.
func (s *Store) AddNode(id, typ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Load()
	if err != nil {
		return err
	}
	for i := range doc.Nodes {
		if doc.Nodes[i].ID == id {
			if doc.Nodes[i].Type == typ {
				return nil
			}
			doc.Nodes[i].Type = typ
			return s.save(doc)
		}
	}
	doc.Nodes = append(doc.Nodes, Node{ID: id, Type: typ})
	return s.save(doc)
}

// RemoveNode deletes a node and every edge where it is source or target.
func (s *Store) RemoveNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Load()
	if err != nil {
		return err
	}
	changed := false
	nodes := doc.Nodes[:0]
	for _, n := range doc.Nodes {
		if n.ID == id {
			changed = true
			continue
		}
		nodes = append(nodes, n)
	}
	doc.Nodes = nodes
	edges := doc.Edges[:0]
	for _, e := range doc.Edges {
		if e.Source == id || e.Target == id {
			changed = true
			continue
		}
		edges = append(edges, e)
	}
	doc.Edges = edges
	if !changed {
		return nil
	}
	return s.save(doc)
}

// AddEdge inserts a directed labelled edge. It reports whether the edge
// already existed; duplicate insertion is a no-op.
func (s *Store) AddEdge(source, target, label string) (alreadyExists bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Load()
	if err != nil {
		return false, err
	}
	if doc.HasEdge(source, target, label) {
		return true, nil
	}
	doc.Edges = append(doc.Edges, Edge{Source: source, Target: target, Label: label})
	return false, s.save(doc)
}

// RemoveEdge deletes edges from source to target. An empty label removes
// every label on that pair; otherwise only the exact tuple. It reports
// whether anything was removed.
func (s *Store) RemoveEdge(source, target, label string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Load()
	if err != nil {
		return false, err
	}
	kept := doc.Edges[:0]
	removed := false
	for _, e := range doc.Edges {
		if e.Source == source && e.Target == target && (label == "" || e.Label == label) {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return false, nil
	}
	doc.Edges = kept
	return true, s.save(doc)
}

// Replace swaps the whole document in one save. Used by rebuild and the
// reconciliation pass.
func (s *Store) Replace(nodes []Node, edges []Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(&Document{Version: Version, Nodes: nodes, Edges: edges})
}
