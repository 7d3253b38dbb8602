package audit

import (
	"fmt"
	"sort"

	"github.com/starford/muninn/internal/record"
)

// Score penalties per issue kind. An orphaned index entry is the worst
// drift a read path can hit, so it costs the most.
var penalties = map[IssueKind]int{
	IssueOrphanEntry: 10,
	IssueOrphanFile:  8,
	IssueMissingNode: 5,
	IssueGhostNode:   5,
	IssueTagMismatch: 3,
	IssueIsolatedHub: 2,
}

// Validate cross-references the file store, index and graph, classifies
// every inconsistency and computes a 0-100 health score. It never
// mutates anything.
func (a *Auditor) Validate() (*Report, error) {
	disk, unreadable, err := a.scan()
	if err != nil {
		return nil, err
	}
	entries, err := a.idx.All()
	if err != nil {
		return nil, err
	}
	graphDoc, err := a.graph.Load()
	if err != nil {
		return nil, err
	}

	report := &Report{
		CheckedFiles:   len(disk) + len(unreadable),
		IndexedEntries: len(entries),
		GraphNodes:     len(graphDoc.Nodes),
		GraphEdges:     len(graphDoc.Edges),
	}

	indexed := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		indexed[e.ID] = struct{}{}
	}
	nodes := graphDoc.NodeSet()

	// Index entries must resolve to a file.
	for _, e := range entries {
		state, onDisk := disk[e.ID]
		if !onDisk {
			report.add(Issue{
				Kind:   IssueOrphanEntry,
				ID:     e.ID,
				Path:   e.Path,
				Detail: "index entry has no backing file",
				Fix:    FixSync,
			})
			continue
		}
		if !sameTagSet(e.Tags, state.rec.Tags) {
			report.add(Issue{
				Kind:   IssueTagMismatch,
				ID:     e.ID,
				Path:   e.Path,
				Detail: fmt.Sprintf("index tags %v differ from file tags %v", e.Tags, state.rec.Tags),
				Fix:    FixSync,
			})
		}
	}

	// Files must be indexed and have a graph node.
	for id, state := range disk {
		if _, ok := indexed[id]; !ok {
			report.add(Issue{
				Kind:   IssueOrphanFile,
				ID:     id,
				Path:   state.meta.Path,
				Detail: "file is not indexed",
				Fix:    FixSync,
			})
		}
		if _, ok := nodes[id]; !ok {
			report.add(Issue{
				Kind:   IssueMissingNode,
				ID:     id,
				Path:   state.meta.Path,
				Detail: "record has no graph node",
				Fix:    FixSync,
			})
		}
	}
	for _, p := range unreadable {
		report.add(Issue{
			Kind:   IssueOrphanFile,
			Path:   p,
			Detail: "file is unreadable",
			Fix:    FixRebuild,
		})
	}

	// Graph nodes must be backed by a file; edge endpoints by a node.
	for _, n := range graphDoc.Nodes {
		if _, ok := disk[n.ID]; !ok {
			report.add(Issue{
				Kind:   IssueGhostNode,
				ID:     n.ID,
				Detail: "graph node has no backing file",
				Fix:    FixSync,
			})
		}
	}
	missingEndpoints := make(map[string]struct{})
	for _, e := range graphDoc.Edges {
		for _, end := range []string{e.Source, e.Target} {
			if _, ok := nodes[end]; !ok {
				missingEndpoints[end] = struct{}{}
			}
		}
	}
	for id := range missingEndpoints {
		report.add(Issue{
			Kind:   IssueMissingNode,
			ID:     id,
			Detail: "edge endpoint has no graph node",
			Fix:    FixSync,
		})
	}

	// Hubs exist to tie records together; a disconnected one is
	// doing nothing.
	degree := make(map[string]int)
	for _, e := range graphDoc.Edges {
		degree[e.Source]++
		degree[e.Target]++
	}
	for id, state := range disk {
		if state.rec.Type != record.TypeHub {
			continue
		}
		if degree[id] == 0 {
			report.add(Issue{
				Kind:   IssueIsolatedHub,
				ID:     id,
				Path:   state.meta.Path,
				Detail: "hub has no edges",
				Fix:    FixSync,
			})
		}
	}

	report.finish()
	return report, nil
}

func (r *Report) add(issue Issue) {
	r.Issues = append(r.Issues, issue)
}

// finish orders issues deterministically, scores them and derives the
// rating and suggestions.
func (r *Report) finish() {
	sort.SliceStable(r.Issues, func(i, j int) bool {
		a, b := r.Issues[i], r.Issues[j]
		if a.Kind != b.Kind {
			return penalties[a.Kind] > penalties[b.Kind]
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Path < b.Path
	})

	score := 100
	needRebuild := false
	for _, issue := range r.Issues {
		score -= penalties[issue.Kind]
		if issue.Fix == FixRebuild {
			needRebuild = true
		}
	}
	if score < 0 {
		score = 0
	}
	r.Score = score
	r.Rating = ratingFor(score)

	if len(r.Issues) > 0 {
		r.Suggestions = append(r.Suggestions, "run sync to reconcile the index and graph with the files on disk")
	}
	if needRebuild {
		r.Suggestions = append(r.Suggestions, "run rebuild to reconstruct the caches from scratch (graph edges not stored in files are lost)")
	}
}

func ratingFor(score int) Rating {
	switch {
	case score >= 90:
		return RatingExcellent
	case score >= 70:
		return RatingGood
	case score >= 40:
		return RatingNeedsAttention
	default:
		return RatingCritical
	}
}
