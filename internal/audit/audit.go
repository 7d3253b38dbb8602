// Package audit detects and repairs drift between the record files,
// the index document and the graph document. Files are the source of
// truth; everything else is a rebuildable projection.
package audit

import (
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/starford/muninn/internal/embedding"
	"github.com/starford/muninn/internal/fts"
	"github.com/starford/muninn/internal/graph"
	"github.com/starford/muninn/internal/index"
	"github.com/starford/muninn/internal/record"
	"github.com/starford/muninn/internal/storage"
)

// IssueKind classifies one detected inconsistency.
type IssueKind string

const (
	// IssueOrphanEntry: index entry whose path has no file on disk.
	IssueOrphanEntry IssueKind = "orphan-index-entry"
	// IssueOrphanFile: record file with no index entry.
	IssueOrphanFile IssueKind = "orphan-file"
	// IssueMissingNode: record or edge endpoint without a graph node.
	IssueMissingNode IssueKind = "missing-node"
	// IssueGhostNode: graph node with no backing record file.
	IssueGhostNode IssueKind = "ghost-node"
	// IssueTagMismatch: index entry tags differ from the file's tags.
	IssueTagMismatch IssueKind = "tag-mismatch"
	// IssueIsolatedHub: hub record with no edges at all.
	IssueIsolatedHub IssueKind = "isolated-hub"
)

// Fix verbs are machine-actionable repair hints.
const (
	FixSync    = "sync"
	FixRebuild = "rebuild"
)

// Issue is one detected inconsistency with its repair hint.
type Issue struct {
	Kind   IssueKind `json:"kind"`
	ID     string    `json:"id,omitempty"`
	Path   string    `json:"path,omitempty"`
	Detail string    `json:"detail"`
	Fix    string    `json:"fix"`
}

// Rating buckets the health score.
type Rating string

const (
	RatingExcellent      Rating = "excellent"
	RatingGood           Rating = "good"
	RatingNeedsAttention Rating = "needs-attention"
	RatingCritical       Rating = "critical"
)

// Report is the result of a validation pass.
type Report struct {
	CheckedFiles   int      `json:"checkedFiles"`
	IndexedEntries int      `json:"indexedEntries"`
	GraphNodes     int      `json:"graphNodes"`
	GraphEdges     int      `json:"graphEdges"`
	Issues         []Issue  `json:"issues,omitempty"`
	Score          int      `json:"score"`
	Rating         Rating   `json:"rating"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

// Healthy reports whether no issues were found.
func (r *Report) Healthy() bool { return len(r.Issues) == 0 }

// Auditor cross-references the three stores and repairs drift. The
// search sidecar and embedding cache are optional; a nil value skips
// their upkeep.
type Auditor struct {
	store  storage.Provider
	idx    *index.Cache
	graph  *graph.Store
	text   *fts.DB
	emb    *embedding.Cache
	logger *slog.Logger
}

// New creates an Auditor over the required stores.
func New(store storage.Provider, idx *index.Cache, gr *graph.Store, logger *slog.Logger) *Auditor {
	return &Auditor{store: store, idx: idx, graph: gr, logger: logger}
}

// WithSearch attaches the full-text sidecar for upkeep during sync and
// rebuild.
func (a *Auditor) WithSearch(db *fts.DB) *Auditor {
	a.text = db
	return a
}

// WithEmbeddings attaches the vector cache so rebuild can prune entries
// without a backing record.
func (a *Auditor) WithEmbeddings(c *embedding.Cache) *Auditor {
	a.emb = c
	return a
}

// diskState is one parsed on-disk record file.
type diskState struct {
	meta storage.FileInfo
	rec  *record.Record
}

// scan reads and parses every record file under both subtrees, keyed by
// id. Files that fail even lenient id recovery are returned separately.
func (a *Auditor) scan() (map[string]diskState, []string, error) {
	byID := make(map[string]diskState)
	var unreadable []string
	for _, subtree := range []string{record.SubtreePermanent, record.SubtreeTemporary} {
		metas, err := a.store.List(subtree)
		if err != nil {
			return nil, nil, err
		}
		for _, m := range metas {
			data, err := a.store.Read(m.Path)
			if err != nil {
				a.logger.Warn("audit: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
				unreadable = append(unreadable, m.Path)
				continue
			}
			r, err := record.Parse(data)
			if err != nil {
				r = record.ParseLenient(data)
			}
			if r.ID == "" {
				r.ID = idFromPath(m.Path)
			}
			if r.ID == "" {
				unreadable = append(unreadable, m.Path)
				continue
			}
			byID[r.ID] = diskState{meta: m, rec: r}
		}
	}
	return byID, unreadable, nil
}

// idFromPath recovers the id from a storage path like
// permanent/decision/decision-x.md.
func idFromPath(p string) string {
	return strings.TrimSuffix(path.Base(p), ".md")
}

func sameTagSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
