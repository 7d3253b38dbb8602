package embedding

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/storage"
)

// FileName is the embedding cache location relative to the store root.
const FileName = "embeddings.json"

// Version identifies the current cache document layout.
const Version = "1.0"

// CacheEntry is one cached vector. It is valid only while Hash matches
// the record's current content hash.
type CacheEntry struct {
	Embedding []float32 `json:"embedding"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// Document is the on-disk shape of the embedding cache.
type Document struct {
	Version  string                `json:"version"`
	Memories map[string]CacheEntry `json:"memories"`
}

// Cache persists embedding vectors keyed by record id.
type Cache struct {
	store  storage.Provider
	logger *slog.Logger

	mu sync.Mutex // serialises load-mutate-save cycles in this process
}

// NewCache creates a Cache over the given store.
func NewCache(store storage.Provider, logger *slog.Logger) *Cache {
	return &Cache{store: store, logger: logger}
}

// Load reads the cache document. A missing or unparsable file yields an
// empty document; the cache is lazily rebuilt, never a fatal error.
func (c *Cache) Load() (*Document, error) {
	data, err := c.store.Read(FileName)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return emptyDocument(), nil
		}
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		c.logger.Warn("embedding: unreadable cache, starting empty", slog.String("error", err.Error()))
		return emptyDocument(), nil
	}
	if doc.Memories == nil {
		doc.Memories = make(map[string]CacheEntry)
	}
	return &doc, nil
}

func emptyDocument() *Document {
	return &Document{Version: Version, Memories: make(map[string]CacheEntry)}
}

func (c *Cache) save(doc *Document) error {
	doc.Version = Version
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperr.IO("encode embedding cache", err)
	}
	return c.store.Write(FileName, append(data, '\n'))
}

// Put stores a vector for id, stamped with the content hash it was
// generated from.
func (c *Cache) Put(id string, vec []float32, hash string) error {
	return c.PutBatch(map[string]CacheEntry{id: {Embedding: vec, Hash: hash, Timestamp: time.Now().UTC()}})
}

// PutBatch stores several entries in one load/save cycle.
func (c *Cache) PutBatch(entries map[string]CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.Load()
	if err != nil {
		return err
	}
	for id, e := range entries {
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		doc.Memories[id] = e
	}
	return c.save(doc)
}

// Get returns the entry for id, or false when nothing is cached.
func (c *Cache) Get(id string) (CacheEntry, bool, error) {
	doc, err := c.Load()
	if err != nil {
		return CacheEntry{}, false, err
	}
	e, ok := doc.Memories[id]
	return e, ok, nil
}

// Remove drops the entry for id, if present.
func (c *Cache) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.Load()
	if err != nil {
		return err
	}
	if _, ok := doc.Memories[id]; !ok {
		return nil
	}
	delete(doc.Memories, id)
	return c.save(doc)
}

// Prune drops every entry whose id is not in keep. It returns the
// number of entries removed.
func (c *Cache) Prune(keep map[string]struct{}) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.Load()
	if err != nil {
		return 0, err
	}
	removed := 0
	for id := range doc.Memories {
		if _, ok := keep[id]; !ok {
			delete(doc.Memories, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, c.save(doc)
}
