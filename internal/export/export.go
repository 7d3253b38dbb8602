// Package export serialises filtered sets of memories to a portable
// package and re-ingests them with a configurable conflict policy.
package export

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/graph"
	"github.com/starford/muninn/internal/index"
	"github.com/starford/muninn/internal/record"
	"github.com/starford/muninn/internal/storage"
)

// Version stamps every package this build writes.
const Version = "1.0"

// Package formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Frontmatter carries a packed memory's header fields.
type Frontmatter struct {
	Type     string         `json:"type" yaml:"type"`
	Title    string         `json:"title" yaml:"title"`
	Created  time.Time      `json:"created" yaml:"created"`
	Updated  time.Time      `json:"updated" yaml:"updated"`
	Scope    string         `json:"scope,omitempty" yaml:"scope,omitempty"`
	Severity string         `json:"severity,omitempty" yaml:"severity,omitempty"`
	Source   string         `json:"source,omitempty" yaml:"source,omitempty"`
	Tags     []string       `json:"tags" yaml:"tags"`
	Links    []string       `json:"links,omitempty" yaml:"links,omitempty"`
	Meta     map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// Memory is one packed record.
type Memory struct {
	ID          string      `json:"id" yaml:"id"`
	Frontmatter Frontmatter `json:"frontmatter" yaml:"frontmatter"`
	Content     string      `json:"content" yaml:"content"`
}

// Graph is the induced subgraph over the packed ids.
type Graph struct {
	Nodes []graph.Node `json:"nodes" yaml:"nodes"`
	Edges []graph.Edge `json:"edges" yaml:"edges"`
}

// Package is the portable export document.
type Package struct {
	Version     string    `json:"version" yaml:"version"`
	ExportedAt  time.Time `json:"exportedAt" yaml:"exportedAt"`
	SourceScope string    `json:"sourceScope,omitempty" yaml:"sourceScope,omitempty"`
	Memories    []Memory  `json:"memories" yaml:"memories"`
	Graph       *Graph    `json:"graph,omitempty" yaml:"graph,omitempty"`
}

// Options filters an export.
type Options struct {
	Types        []string
	Tags         []string
	IncludeGraph bool
}

// Exporter reads the stores behind one scope.
type Exporter struct {
	store  storage.Provider
	idx    *index.Cache
	graph  *graph.Store
	scope  string
	logger *slog.Logger
}

// NewExporter creates an Exporter. scopeName stamps the package source.
func NewExporter(store storage.Provider, idx *index.Cache, gr *graph.Store, scopeName string, logger *slog.Logger) *Exporter {
	return &Exporter{store: store, idx: idx, graph: gr, scope: scopeName, logger: logger}
}

// Export filters the index, re-reads every matching record in full and
// builds the package. Records that fail to read or parse are logged and
// skipped, never fatal to the export.
func (e *Exporter) Export(opts Options) (*Package, error) {
	entries, err := e.idx.All()
	if err != nil {
		return nil, err
	}

	pkg := &Package{
		Version:     Version,
		ExportedAt:  time.Now().UTC(),
		SourceScope: e.scope,
		Memories:    []Memory{},
	}
	exported := make(map[string]struct{})
	for _, entry := range entries {
		if !matches(entry, opts) {
			continue
		}
		data, err := e.store.Read(entry.Path)
		if err != nil {
			e.logger.Warn("export: read failed", slog.String("id", entry.ID), slog.String("error", err.Error()))
			continue
		}
		rec, err := record.Parse(data)
		if err != nil {
			e.logger.Warn("export: parse failed", slog.String("id", entry.ID), slog.String("error", err.Error()))
			continue
		}
		if rec.ID == "" {
			rec.ID = entry.ID
		}
		pkg.Memories = append(pkg.Memories, pack(rec))
		exported[rec.ID] = struct{}{}
	}

	if opts.IncludeGraph {
		sub, err := e.subgraph(exported)
		if err != nil {
			return nil, err
		}
		pkg.Graph = sub
	}
	return pkg, nil
}

func pack(rec *record.Record) Memory {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	return Memory{
		ID: rec.ID,
		Frontmatter: Frontmatter{
			Type:     rec.Type,
			Title:    rec.Title,
			Created:  rec.Created,
			Updated:  rec.Updated,
			Scope:    rec.Scope,
			Severity: rec.Severity,
			Source:   rec.Source,
			Tags:     tags,
			Links:    rec.Links,
			Meta:     rec.Meta,
		},
		Content: rec.Content,
	}
}

func matches(e index.Entry, opts Options) bool {
	if len(opts.Types) > 0 {
		found := false
		for _, t := range opts.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, want := range opts.Tags {
		found := false
		for _, tag := range e.Tags {
			if strings.EqualFold(tag, want) {
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

// subgraph trims the graph to nodes and edges fully inside ids.
func (e *Exporter) subgraph(ids map[string]struct{}) (*Graph, error) {
	doc, err := e.graph.Load()
	if err != nil {
		return nil, err
	}
	sub := &Graph{Nodes: []graph.Node{}, Edges: []graph.Edge{}}
	for _, n := range doc.Nodes {
		if _, ok := ids[n.ID]; ok {
			sub.Nodes = append(sub.Nodes, n)
		}
	}
	for _, edge := range doc.Edges {
		if _, ok := ids[edge.Source]; !ok {
			continue
		}
		if _, ok := ids[edge.Target]; !ok {
			continue
		}
		sub.Edges = append(sub.Edges, edge)
	}
	return sub, nil
}

// Encode serialises a package as JSON or YAML.
func Encode(pkg *Package, format string) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(pkg, "", "  ")
		if err != nil {
			return nil, apperr.IO("encode package", err)
		}
		return append(data, '\n'), nil
	case FormatYAML:
		data, err := yaml.Marshal(pkg)
		if err != nil {
			return nil, apperr.IO("encode package", err)
		}
		return data, nil
	default:
		return nil, apperr.Validation("unknown export format: %s", format)
	}
}

// Decode parses a package from JSON or YAML and validates its shape
// strictly: a record missing any required field rejects the whole
// package before anything touches storage.
func Decode(data []byte) (*Package, error) {
	var pkg Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		if yerr := yaml.Unmarshal(data, &pkg); yerr != nil {
			return nil, apperr.Format("package is neither valid JSON nor YAML: %v", err)
		}
	}
	if pkg.Version == "" {
		return nil, apperr.Validation("package missing version")
	}
	for i, m := range pkg.Memories {
		fm := m.Frontmatter
		switch {
		case m.ID == "":
			return nil, apperr.Validation("memory %d missing id", i)
		case fm.Type == "":
			return nil, apperr.Validation("memory %q missing type", m.ID)
		case !record.ValidType(fm.Type):
			return nil, apperr.Validation("memory %q has unknown type %q", m.ID, fm.Type)
		case fm.Title == "":
			return nil, apperr.Validation("memory %q missing title", m.ID)
		case fm.Tags == nil:
			return nil, apperr.Validation("memory %q missing tags list", m.ID)
		case fm.Created.IsZero():
			return nil, apperr.Validation("memory %q missing created", m.ID)
		case fm.Updated.IsZero():
			return nil, apperr.Validation("memory %q missing updated", m.ID)
		}
	}
	return &pkg, nil
}
