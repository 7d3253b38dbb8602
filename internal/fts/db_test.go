package fts

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM memories`).Scan(&count); err != nil {
		t.Fatalf("memories table missing: %v", err)
	}
}

func TestUpsertAndSearch(t *testing.T) {
	db := testDB(t)
	if err := db.Upsert("learning-fts", "Search Me", "a uniqueword appears here", []string{"search"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "learning-fts" {
		t.Errorf("results = %+v, want 1 hit for learning-fts", results)
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestUpsertReplacesContent(t *testing.T) {
	db := testDB(t)
	_ = db.Upsert("evo", "Old", "original text", nil)
	_ = db.Upsert("evo", "New", "replacement text", nil)

	results, _ := db.Search("original", 10)
	if len(results) != 0 {
		t.Error("old content should be gone")
	}
	results, _ = db.Search("replacement", 10)
	if len(results) != 1 || results[0].Title != "New" {
		t.Errorf("content not replaced: %+v", results)
	}
}

func TestDelete(t *testing.T) {
	db := testDB(t)
	_ = db.Upsert("gone", "Gone", "vanishing content", nil)
	if err := db.Delete("gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	results, _ := db.Search("vanishing", 10)
	if len(results) != 0 {
		t.Errorf("deleted record still searchable: %+v", results)
	}
}

func TestReset(t *testing.T) {
	db := testDB(t)
	_ = db.Upsert("a", "A", "alpha body", nil)
	_ = db.Upsert("b", "B", "beta body", nil)
	if err := db.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	results, _ := db.Search("body", 10)
	if len(results) != 0 {
		t.Errorf("rows survived reset: %+v", results)
	}
}

func TestSearchTags(t *testing.T) {
	db := testDB(t)
	_ = db.Upsert("tagged", "Tagged", "plain body", []string{"kubernetes", "infra"})
	results, _ := db.Search("kubernetes", 10)
	if len(results) != 1 || results[0].ID != "tagged" {
		t.Errorf("tag search results = %+v", results)
	}
}
