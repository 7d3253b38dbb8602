package audit

import (
	"log/slog"

	"github.com/starford/muninn/internal/graph"
	"github.com/starford/muninn/internal/record"
)

// RebuildResult reports what a full reconstruction changed.
type RebuildResult struct {
	Indexed          int      `json:"indexed"`
	OrphansRemoved   int      `json:"orphansRemoved"`
	NewEntriesAdded  int      `json:"newEntriesAdded"`
	NodesRebuilt     int      `json:"nodesRebuilt"`
	EdgesRebuilt     int      `json:"edgesRebuilt"`
	EmbeddingsPruned int      `json:"embeddingsPruned"`
	Failed           []string `json:"failed,omitempty"`
}

// Rebuild destructively reconstructs the index and graph purely from
// the files on disk. Only edges recoverable from record link lists
// survive; auto-linked and manually added edges without a frontmatter
// link are lost. Never run implicitly.
func (a *Auditor) Rebuild() (*RebuildResult, error) {
	idxRes, err := a.idx.Rebuild()
	if err != nil {
		return nil, err
	}
	res := &RebuildResult{
		Indexed:         idxRes.Indexed,
		OrphansRemoved:  idxRes.OrphansRemoved,
		NewEntriesAdded: idxRes.NewEntriesAdded,
		Failed:          idxRes.Failed,
	}

	entries, err := a.idx.All()
	if err != nil {
		return nil, err
	}

	if a.text != nil {
		if err := a.text.Reset(); err != nil {
			a.logger.Warn("rebuild: search reset failed", slog.String("error", err.Error()))
		}
	}

	ids := make(map[string]struct{}, len(entries))
	nodes := make([]graph.Node, 0, len(entries))
	for _, e := range entries {
		ids[e.ID] = struct{}{}
		nodes = append(nodes, graph.Node{ID: e.ID, Type: e.Type})
	}

	// Edges come back from the link lists in the files themselves.
	var edges []graph.Edge
	for _, e := range entries {
		data, err := a.store.Read(e.Path)
		if err != nil {
			a.logger.Warn("rebuild: read failed", slog.String("path", e.Path), slog.String("error", err.Error()))
			continue
		}
		r, err := record.Parse(data)
		if err != nil {
			continue
		}
		if r.ID == "" {
			r.ID = e.ID
		}
		for _, target := range r.Links {
			if _, ok := ids[target]; !ok {
				a.logger.Debug("rebuild: dropping dangling link",
					slog.String("source", r.ID), slog.String("target", target))
				continue
			}
			edges = append(edges, graph.Edge{Source: r.ID, Target: target, Label: graph.LabelRelatesTo})
		}
		if a.text != nil {
			if err := a.text.Upsert(r.ID, r.Title, r.Content, r.Tags); err != nil {
				a.logger.Warn("rebuild: search upsert failed", slog.String("id", r.ID), slog.String("error", err.Error()))
			}
		}
	}

	if err := a.graph.Replace(nodes, edges); err != nil {
		return nil, err
	}
	res.NodesRebuilt = len(nodes)
	res.EdgesRebuilt = len(edges)

	if a.emb != nil {
		pruned, err := a.emb.Prune(ids)
		if err != nil {
			a.logger.Warn("rebuild: embedding prune failed", slog.String("error", err.Error()))
		} else {
			res.EmbeddingsPruned = pruned
		}
	}

	return res, nil
}
