// Package index maintains the JSON lookup index derived from record files.
//
// The index is a rebuildable projection: the record files stay the source
// of truth, and a missing or corrupt index document degrades to an empty
// one instead of failing the caller.
package index

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/record"
	"github.com/starford/muninn/internal/storage"
)

// FileName is the index document location relative to the store root.
const FileName = "index.json"

// Version identifies the current index document layout.
const Version = "1.0"

// Entry is the denormalised projection of one record.
type Entry struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Title    string    `json:"title"`
	Path     string    `json:"path"`
	Tags     []string  `json:"tags"`
	Scope    string    `json:"scope,omitempty"`
	Severity string    `json:"severity,omitempty"`
	Checksum string    `json:"checksum,omitempty"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`

	// AbsolutePath appears in documents written by older versions. It
	// is migrated to the relative Path on load and never written back.
	AbsolutePath string `json:"absolutePath,omitempty"`
}

// Document is the on-disk shape of the index.
type Document struct {
	Version     string    `json:"version"`
	LastUpdated time.Time `json:"lastUpdated"`
	Entries     []Entry   `json:"entries"`
}

// FromRecord derives the index projection of a record.
func FromRecord(r *record.Record, sum string) Entry {
	return Entry{
		ID:       r.ID,
		Type:     r.Type,
		Title:    r.Title,
		Path:     r.StoragePath(),
		Tags:     append([]string(nil), r.Tags...),
		Scope:    r.Scope,
		Severity: r.Severity,
		Checksum: sum,
		Created:  r.Created,
		Updated:  r.Updated,
	}
}

// Cache reads and writes the index document through the store provider,
// so index writes get the same atomic rename as record files.
type Cache struct {
	store  storage.Provider
	logger *slog.Logger

	mu sync.Mutex // serialises load-mutate-save cycles in this process
}

// New creates a Cache over the given store.
func New(store storage.Provider, logger *slog.Logger) *Cache {
	return &Cache{store: store, logger: logger}
}

// Load reads the index document. A missing or unparsable file yields an
// empty document.
func (c *Cache) Load() (*Document, error) {
	data, err := c.store.Read(FileName)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return &Document{Version: Version}, nil
		}
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		c.logger.Warn("index: unreadable document, starting empty", slog.String("error", err.Error()))
		return &Document{Version: Version}, nil
	}
	c.migrate(&doc)
	return &doc, nil
}

// migrate rewrites legacy absolute paths as root-relative ones. Entries
// whose absolute path lies outside the store root are dropped.
func (c *Cache) migrate(doc *Document) {
	root := c.store.Root()
	kept := doc.Entries[:0]
	for _, e := range doc.Entries {
		if e.Path == "" && e.AbsolutePath != "" {
			rel, err := filepath.Rel(root, filepath.Clean(e.AbsolutePath))
			if err != nil || strings.HasPrefix(rel, "..") {
				c.logger.Warn("index: dropping entry outside store root",
					slog.String("id", e.ID),
					slog.String("absolutePath", e.AbsolutePath))
				continue
			}
			e.Path = filepath.ToSlash(rel)
		}
		e.AbsolutePath = ""
		kept = append(kept, e)
	}
	doc.Entries = kept
	doc.Version = Version
}

// save stamps and persists the document, entries sorted by id so the
// file diffs cleanly.
func (c *Cache) save(doc *Document) error {
	doc.Version = Version
	doc.LastUpdated = time.Now().UTC()
	sort.Slice(doc.Entries, func(i, j int) bool { return doc.Entries[i].ID < doc.Entries[j].ID })
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperr.IO("encode index", err)
	}
	return c.store.Write(FileName, append(data, '\n'))
}

// Add inserts an entry, replacing any existing entry with the same id.
func (c *Cache) Add(e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.Load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range doc.Entries {
		if doc.Entries[i].ID == e.ID {
			doc.Entries[i] = e
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Entries = append(doc.Entries, e)
	}
	return c.save(doc)
}

// Remove deletes the entry with the given id, if present.
func (c *Cache) Remove(id string) error {
	return c.BatchRemove([]string{id})
}

// BatchRemove deletes all entries whose id appears in ids, in one
// load/save cycle.
func (c *Cache) BatchRemove(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.Load()
	if err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := doc.Entries[:0]
	for _, e := range doc.Entries {
		if _, gone := drop[e.ID]; !gone {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(doc.Entries) {
		return nil
	}
	doc.Entries = kept
	return c.save(doc)
}

// Get returns the entry for id, or false when it is not indexed.
func (c *Cache) Get(id string) (Entry, bool, error) {
	doc, err := c.Load()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range doc.Entries {
		if e.ID == id {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// All returns every indexed entry.
func (c *Cache) All() ([]Entry, error) {
	doc, err := c.Load()
	if err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

// Replace swaps the whole entry set in one save. Used by rebuild and
// the reconciliation pass.
func (c *Cache) Replace(entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save(&Document{Version: Version, Entries: entries})
}
