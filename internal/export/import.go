package export

import (
	"log/slog"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/checksum"
	"github.com/starford/muninn/internal/graph"
	"github.com/starford/muninn/internal/index"
	"github.com/starford/muninn/internal/record"
	"github.com/starford/muninn/internal/storage"
)

// Conflict policies for records that already exist in the target scope.
const (
	// PolicySkip never overwrites an existing record.
	PolicySkip = "skip"
	// PolicyMerge overwrites only when the incoming updated timestamp
	// is strictly newer than the existing one.
	PolicyMerge = "merge"
	// PolicyReplace always overwrites.
	PolicyReplace = "replace"
)

// ValidPolicy reports whether p is a known conflict policy.
func ValidPolicy(p string) bool {
	return p == PolicySkip || p == PolicyMerge || p == PolicyReplace
}

// ImportResult counts what an import pass did (or, under dryRun, would
// have done).
type ImportResult struct {
	Imported     int           `json:"imported"`
	Skipped      int           `json:"skipped"`
	Replaced     int           `json:"replaced"`
	EdgesCreated int           `json:"edgesCreated"`
	DryRun       bool          `json:"dryRun"`
	Failed       []ImportError `json:"failed,omitempty"`
}

// ImportError is one per-item failure; the batch continues past it.
type ImportError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Importer writes a package into one scope.
type Importer struct {
	store  storage.Provider
	idx    *index.Cache
	graph  *graph.Store
	scope  string
	logger *slog.Logger
}

// NewImporter creates an Importer targeting the given scope.
func NewImporter(store storage.Provider, idx *index.Cache, gr *graph.Store, scopeName string, logger *slog.Logger) *Importer {
	return &Importer{store: store, idx: idx, graph: gr, scope: scopeName, logger: logger}
}

// Import ingests a decoded package under the given conflict policy.
// dryRun computes identical counts without mutating anything. Graph
// edges from the package are (re-)created after the records, restricted
// to endpoints that exist in the target scope afterwards.
func (im *Importer) Import(pkg *Package, policy string, dryRun bool) (*ImportResult, error) {
	if policy == "" {
		policy = PolicySkip
	}
	if !ValidPolicy(policy) {
		return nil, apperr.Validation("unknown conflict policy: %s", policy)
	}

	res := &ImportResult{DryRun: dryRun}
	present := make(map[string]struct{})

	for _, m := range pkg.Memories {
		rec := unpack(m, im.scope)
		existing, exists := im.existing(rec)
		write := false
		switch {
		case !exists:
			write = true
			res.Imported++
		case policy == PolicySkip:
			res.Skipped++
		case policy == PolicyMerge:
			if existing != nil && rec.Updated.After(existing.Updated) {
				write = true
				res.Replaced++
			} else {
				res.Skipped++
			}
		case policy == PolicyReplace:
			write = true
			res.Replaced++
		}

		if exists || write {
			present[rec.ID] = struct{}{}
		}
		if !write || dryRun {
			continue
		}
		if err := im.write(rec); err != nil {
			im.logger.Warn("import: write failed", slog.String("id", rec.ID), slog.String("error", err.Error()))
			res.Failed = append(res.Failed, ImportError{ID: rec.ID, Error: err.Error()})
			delete(present, rec.ID)
			if !exists {
				res.Imported--
			} else {
				res.Replaced--
			}
			res.Skipped++
		}
	}

	if pkg.Graph != nil {
		// Loading once up front keeps the dry-run counts identical to
		// a real run's, including edges that already exist.
		doc, err := im.graph.Load()
		if err != nil {
			return nil, err
		}
		seen := make(map[[3]string]struct{}, len(pkg.Graph.Edges))
		for _, edge := range pkg.Graph.Edges {
			if _, ok := present[edge.Source]; !ok {
				continue
			}
			if _, ok := present[edge.Target]; !ok {
				continue
			}
			// A tuple repeated inside the package counts once, so the
			// dry-run arithmetic stays identical to a real run's.
			key := [3]string{edge.Source, edge.Target, edge.Label}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if doc.HasEdge(edge.Source, edge.Target, edge.Label) {
				continue
			}
			if dryRun {
				res.EdgesCreated++
				continue
			}
			already, err := im.graph.AddEdge(edge.Source, edge.Target, edge.Label)
			if err != nil {
				im.logger.Warn("import: edge failed",
					slog.String("source", edge.Source), slog.String("error", err.Error()))
				continue
			}
			if !already {
				res.EdgesCreated++
			}
		}
	}
	return res, nil
}

func unpack(m Memory, scopeName string) *record.Record {
	fm := m.Frontmatter
	rec := &record.Record{
		ID:       m.ID,
		Type:     fm.Type,
		Title:    fm.Title,
		Created:  fm.Created,
		Updated:  fm.Updated,
		Scope:    scopeName,
		Severity: fm.Severity,
		Source:   fm.Source,
		Tags:     fm.Tags,
		Links:    fm.Links,
		Meta:     fm.Meta,
		Content:  m.Content,
	}
	// Retag for the target scope: the source scope tag does not travel.
	tags := make([]string, 0, len(rec.Tags)+1)
	for _, t := range rec.Tags {
		if len(t) > 6 && t[:6] == "scope:" {
			continue
		}
		tags = append(tags, t)
	}
	rec.Tags = append(tags, "scope:"+scopeName)
	return rec
}

// existing returns the current record for rec's id, when one exists.
// An unparsable existing file still counts as existing so a skip
// policy cannot clobber it.
func (im *Importer) existing(rec *record.Record) (*record.Record, bool) {
	path := rec.StoragePath()
	if e, ok, err := im.idx.Get(rec.ID); err == nil && ok {
		path = e.Path
	}
	data, err := im.store.Read(path)
	if err != nil {
		return nil, false
	}
	cur, err := record.Parse(data)
	if err != nil {
		return nil, true
	}
	return cur, true
}

func (im *Importer) write(rec *record.Record) error {
	data, err := record.Marshal(rec)
	if err != nil {
		return err
	}
	if err := im.store.Write(rec.StoragePath(), data); err != nil {
		return err
	}
	if err := im.idx.Add(index.FromRecord(rec, checksum.Sum(data))); err != nil {
		return err
	}
	if err := im.graph.AddNode(rec.ID, rec.Type); err != nil {
		im.logger.Warn("import: node upsert failed", slog.String("id", rec.ID), slog.String("error", err.Error()))
	}
	return nil
}
