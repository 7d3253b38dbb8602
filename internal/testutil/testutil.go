// Package testutil provides shared test helpers for setting up scoped
// stores and caches.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/starford/muninn/internal/embedding"
	"github.com/starford/muninn/internal/fts"
	"github.com/starford/muninn/internal/graph"
	"github.com/starford/muninn/internal/index"
	"github.com/starford/muninn/internal/scope"
	"github.com/starford/muninn/internal/storage"
)

// Logger returns a discard logger for library components under test.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestScope creates a temporary storage root resolved as a project
// scope.
func TestScope(t *testing.T) (scope.Scope, *storage.FS) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return scope.Scope{Name: scope.Project, Root: store.Root()}, store
}

// TestCaches creates an index cache, graph store and embedding cache
// over the given store.
func TestCaches(t *testing.T, store storage.Provider) (*index.Cache, *graph.Store, *embedding.Cache) {
	t.Helper()
	logger := Logger()
	return index.New(store, logger), graph.New(store, logger), embedding.NewCache(store, logger)
}

// TestSearchDB creates a temporary search sidecar that is closed on
// cleanup.
func TestSearchDB(t *testing.T) *fts.DB {
	t.Helper()
	db, err := fts.Open(filepath.Join(t.TempDir(), fts.FileName))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
