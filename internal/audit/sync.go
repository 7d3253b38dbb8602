package audit

import (
	"log/slog"

	"github.com/starford/muninn/internal/graph"
	"github.com/starford/muninn/internal/index"
	"github.com/starford/muninn/internal/record"
)

// SyncResult reports what a reconciliation pass changed.
type SyncResult struct {
	EntriesAdded   int      `json:"entriesAdded"`
	EntriesUpdated int      `json:"entriesUpdated"`
	EntriesRemoved int      `json:"entriesRemoved"`
	NodesAdded     int      `json:"nodesAdded"`
	NodesRemoved   int      `json:"nodesRemoved"`
	Failed         []string `json:"failed,omitempty"`

	AddedIDs   []string `json:"-"`
	UpdatedIDs []string `json:"-"`
	RemovedIDs []string `json:"-"`
}

// Changed reports whether the pass mutated anything.
func (r *SyncResult) Changed() bool {
	return r.EntriesAdded+r.EntriesUpdated+r.EntriesRemoved+r.NodesAdded+r.NodesRemoved > 0
}

// Sync brings the index and graph up to date with the files on disk
// without discarding graph edges between surviving records:
//   - new or changed files are parsed and (re-)indexed
//   - index entries and graph nodes with no backing file are removed
//   - records without a graph node get one
//
// Unchanged files are skipped by checksum. Parse failures are logged
// and reported, never fatal to the pass.
func (a *Auditor) Sync() (*SyncResult, error) {
	entries, err := a.idx.All()
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]index.Entry, len(entries))
	for _, e := range entries {
		byPath[e.Path] = e
	}

	res := &SyncResult{}
	var next []index.Entry
	parsed := make(map[string]*record.Record)
	onDisk := make(map[string]struct{})

	for _, subtree := range []string{record.SubtreePermanent, record.SubtreeTemporary} {
		metas, err := a.store.List(subtree)
		if err != nil {
			return nil, err
		}
		for _, m := range metas {
			onDisk[m.Path] = struct{}{}

			if prev, ok := byPath[m.Path]; ok && prev.Checksum == m.Checksum {
				next = append(next, prev)
				continue
			}

			data, err := a.store.Read(m.Path)
			if err != nil {
				a.logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
				res.Failed = append(res.Failed, m.Path)
				continue
			}
			r, err := record.Parse(data)
			if err != nil {
				a.logger.Warn("sync: parse failed", slog.String("path", m.Path), slog.String("error", err.Error()))
				res.Failed = append(res.Failed, m.Path)
				continue
			}
			if r.ID == "" {
				// The id header is optional; the filename carries it.
				r.ID = idFromPath(m.Path)
			}
			e := index.FromRecord(r, m.Checksum)
			e.Path = m.Path
			next = append(next, e)
			parsed[r.ID] = r

			if _, existed := byPath[m.Path]; existed {
				res.EntriesUpdated++
				res.UpdatedIDs = append(res.UpdatedIDs, r.ID)
			} else {
				res.EntriesAdded++
				res.AddedIDs = append(res.AddedIDs, r.ID)
			}
			a.logger.Debug("sync: indexed", slog.String("path", m.Path))
		}
	}

	for p, e := range byPath {
		if _, ok := onDisk[p]; !ok {
			res.EntriesRemoved++
			res.RemovedIDs = append(res.RemovedIDs, e.ID)
			a.logger.Debug("sync: removed stale entry", slog.String("path", p))
		}
	}

	if err := a.idx.Replace(next); err != nil {
		return nil, err
	}

	if err := a.syncGraph(next, res); err != nil {
		return nil, err
	}
	a.syncSearch(parsed, res)

	return res, nil
}

// syncGraph adds nodes for records that lack one and drops nodes (with
// their incident edges) that lost their backing file. Edges between
// surviving nodes are preserved untouched.
func (a *Auditor) syncGraph(entries []index.Entry, res *SyncResult) error {
	doc, err := a.graph.Load()
	if err != nil {
		return err
	}

	want := make(map[string]string, len(entries))
	for _, e := range entries {
		want[e.ID] = e.Type
	}

	var nodes []graph.Node
	have := make(map[string]struct{}, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if _, ok := want[n.ID]; !ok {
			res.NodesRemoved++
			a.logger.Debug("sync: removed ghost node", slog.String("id", n.ID))
			continue
		}
		have[n.ID] = struct{}{}
		nodes = append(nodes, n)
	}
	for id, typ := range want {
		if _, ok := have[id]; !ok {
			nodes = append(nodes, graph.Node{ID: id, Type: typ})
			res.NodesAdded++
			a.logger.Debug("sync: added node", slog.String("id", id))
		}
	}

	survivors := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		survivors[n.ID] = struct{}{}
	}
	var edges []graph.Edge
	for _, e := range doc.Edges {
		if _, ok := survivors[e.Source]; !ok {
			continue
		}
		if _, ok := survivors[e.Target]; !ok {
			continue
		}
		edges = append(edges, e)
	}

	if res.NodesAdded == 0 && res.NodesRemoved == 0 && len(edges) == len(doc.Edges) {
		return nil
	}
	return a.graph.Replace(nodes, edges)
}

// syncSearch keeps the optional sidecar in step, best-effort.
func (a *Auditor) syncSearch(parsed map[string]*record.Record, res *SyncResult) {
	if a.text == nil {
		return
	}
	for id, r := range parsed {
		if err := a.text.Upsert(id, r.Title, r.Content, r.Tags); err != nil {
			a.logger.Warn("sync: search upsert failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
	for _, id := range res.RemovedIDs {
		if err := a.text.Delete(id); err != nil {
			a.logger.Warn("sync: search delete failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
}
