package embedding

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/checksum"
)

// AutoLinkThreshold is the similarity floor for automatic graph links.
// Caller-supplied thresholds below it are raised, never lowered, so a
// permissive search setting cannot pollute the graph.
const AutoLinkThreshold = 0.8

// DefaultThreshold is the similarity floor for plain similarity search.
const DefaultThreshold = 0.7

const backfillWorkers = 4

// Match is one similarity hit, score descending.
type Match struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Engine combines a provider with the vector cache. A nil provider
// disables generation; cached vectors remain usable for comparison.
type Engine struct {
	provider Provider
	cache    *Cache
	logger   *slog.Logger
}

// NewEngine creates an Engine. provider may be nil.
func NewEngine(provider Provider, cache *Cache, logger *slog.Logger) *Engine {
	return &Engine{provider: provider, cache: cache, logger: logger}
}

// Enabled reports whether a provider is configured.
func (e *Engine) Enabled() bool { return e.provider != nil }

// Cache exposes the underlying vector cache.
func (e *Engine) Cache() *Cache { return e.cache }

// Embed returns the vector for (id, text). The cached vector is reused
// while its content hash still matches; otherwise the provider runs and
// the result is cached. Cache write failures are logged, not fatal.
func (e *Engine) Embed(ctx context.Context, id, text string) ([]float32, error) {
	hash := checksum.SumString(text)
	if entry, ok, err := e.cache.Get(id); err == nil && ok && entry.Hash == hash && len(entry.Embedding) > 0 {
		return entry.Embedding, nil
	}
	if e.provider == nil {
		return nil, apperr.Provider("no embedding provider configured", nil)
	}
	vec, err := e.provider.Generate(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Put(id, vec, hash); err != nil {
		e.logger.Warn("embedding: cache write failed", slog.String("id", id), slog.String("error", err.Error()))
	}
	return vec, nil
}

// FindSimilar ranks every cached vector against the query text and
// returns matches at or above threshold, best first.
func (e *Engine) FindSimilar(ctx context.Context, text string, threshold float64, limit int) ([]Match, error) {
	if e.provider == nil {
		return nil, apperr.Provider("no embedding provider configured", nil)
	}
	query, err := e.provider.Generate(ctx, text)
	if err != nil {
		return nil, err
	}
	return e.rank(query, "", threshold, limit)
}

// FindSimilarToMemory ranks cached vectors against the vector of the
// record identified by id, excluding the record itself.
func (e *Engine) FindSimilarToMemory(ctx context.Context, id, text string, threshold float64, limit int) ([]Match, error) {
	query, err := e.Embed(ctx, id, text)
	if err != nil {
		return nil, err
	}
	return e.rank(query, id, threshold, limit)
}

// AutoLinkCandidates returns the records a new write should link to.
// The threshold is raised to at least AutoLinkThreshold.
func (e *Engine) AutoLinkCandidates(ctx context.Context, id, text string, threshold float64) ([]Match, error) {
	if threshold < AutoLinkThreshold {
		threshold = AutoLinkThreshold
	}
	return e.FindSimilarToMemory(ctx, id, text, threshold, 0)
}

func (e *Engine) rank(query []float32, exclude string, threshold float64, limit int) ([]Match, error) {
	doc, err := e.cache.Load()
	if err != nil {
		return nil, err
	}
	var matches []Match
	for id, entry := range doc.Memories {
		if id == exclude {
			continue
		}
		score := CosineSimilarity(query, entry.Embedding)
		if score >= threshold {
			matches = append(matches, Match{ID: id, Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Item is one record to backfill.
type Item struct {
	ID   string
	Text string
}

// Backfill generates vectors for every item whose cache entry is
// missing or stale, a few at a time, and stores the batch in one save.
// Per-item provider failures are logged and skipped; the count of
// freshly embedded items is returned.
func (e *Engine) Backfill(ctx context.Context, items []Item) (int, error) {
	if e.provider == nil {
		return 0, apperr.Provider("no embedding provider configured", nil)
	}
	doc, err := e.cache.Load()
	if err != nil {
		return 0, err
	}

	var stale []Item
	hashes := make(map[string]string, len(items))
	for _, it := range items {
		hash := checksum.SumString(it.Text)
		hashes[it.ID] = hash
		if entry, ok := doc.Memories[it.ID]; ok && entry.Hash == hash && len(entry.Embedding) > 0 {
			continue
		}
		stale = append(stale, it)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	var mu sync.Mutex
	fresh := make(map[string]CacheEntry, len(stale))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(backfillWorkers)
	for _, it := range stale {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			vec, err := e.provider.Generate(gctx, it.Text)
			if err != nil {
				e.logger.Warn("embedding: backfill item failed",
					slog.String("id", it.ID), slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			fresh[it.ID] = CacheEntry{Embedding: vec, Hash: hashes[it.ID]}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := e.cache.PutBatch(fresh); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return len(fresh), apperr.Provider("embedding backfill interrupted", err)
	}
	return len(fresh), nil
}
