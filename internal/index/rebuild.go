package index

import (
	"log/slog"
	"path"
	"strings"

	"github.com/starford/muninn/internal/record"
)

// RebuildResult reports what a full index rebuild changed.
type RebuildResult struct {
	Indexed         int      `json:"indexed"`
	OrphansRemoved  int      `json:"orphansRemoved"`
	NewEntriesAdded int      `json:"newEntriesAdded"`
	Failed          []string `json:"failed,omitempty"`
}

// Rebuild walks the permanent and temporary subtrees, re-derives an
// entry for every parseable record file, and replaces the index
// wholesale. Files that fail to parse are logged and skipped.
func (c *Cache) Rebuild() (*RebuildResult, error) {
	before, err := c.Load()
	if err != nil {
		return nil, err
	}
	old := make(map[string]struct{}, len(before.Entries))
	for _, e := range before.Entries {
		old[e.ID] = struct{}{}
	}

	res := &RebuildResult{}
	var entries []Entry
	for _, subtree := range []string{record.SubtreePermanent, record.SubtreeTemporary} {
		metas, err := c.store.List(subtree)
		if err != nil {
			return nil, err
		}
		for _, m := range metas {
			data, err := c.store.Read(m.Path)
			if err != nil {
				c.logger.Warn("rebuild: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
				res.Failed = append(res.Failed, m.Path)
				continue
			}
			r, err := record.Parse(data)
			if err != nil {
				c.logger.Warn("rebuild: parse failed", slog.String("path", m.Path), slog.String("error", err.Error()))
				res.Failed = append(res.Failed, m.Path)
				continue
			}
			if r.ID == "" {
				// The id header is optional; the filename carries it.
				r.ID = strings.TrimSuffix(path.Base(m.Path), ".md")
			}
			e := FromRecord(r, m.Checksum)
			// Trust the on-disk location over the derived one, so a
			// file moved by hand still indexes where it lives.
			e.Path = m.Path
			entries = append(entries, e)
		}
	}

	res.Indexed = len(entries)
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.ID] = struct{}{}
		if _, ok := old[e.ID]; !ok {
			res.NewEntriesAdded++
		}
	}
	for id := range old {
		if _, ok := seen[id]; !ok {
			res.OrphansRemoved++
		}
	}

	if err := c.Replace(entries); err != nil {
		return nil, err
	}
	return res, nil
}
