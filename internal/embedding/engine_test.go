package embedding

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/checksum"
	"github.com/starford/muninn/internal/storage"
)

type fakeProvider struct {
	vectors map[string][]float32
	calls   int
	fail    map[string]bool
}

func (f *fakeProvider) Generate(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.fail[text] {
		return nil, apperr.Provider("model offline", nil)
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, apperr.Provider("no vector for "+text, nil)
	}
	return v, nil
}

func (f *fakeProvider) Model() string { return "fake-model" }

func testEngine(t *testing.T, p Provider) *Engine {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(p, NewCache(fs, logger), logger)
}

func TestEmbed_CachesByContentHash(t *testing.T) {
	p := &fakeProvider{vectors: map[string][]float32{"body": {1, 0}, "changed": {0, 1}}}
	e := testEngine(t, p)
	ctx := context.Background()

	if _, err := e.Embed(ctx, "learning-a", "body"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if _, err := e.Embed(ctx, "learning-a", "body"); err != nil {
		t.Fatalf("Embed cached: %v", err)
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, want 1 (second hit cached)", p.calls)
	}

	// Changed content invalidates the cached vector.
	if _, err := e.Embed(ctx, "learning-a", "changed"); err != nil {
		t.Fatalf("Embed changed: %v", err)
	}
	if p.calls != 2 {
		t.Errorf("provider called %d times, want 2 after content change", p.calls)
	}
}

func TestEmbed_NoProvider(t *testing.T) {
	e := testEngine(t, nil)
	_, err := e.Embed(context.Background(), "id", "text")
	if !apperr.Is(err, apperr.KindProvider) {
		t.Errorf("error = %v, want provider error", err)
	}
}

func seedVectors(t *testing.T, e *Engine) {
	t.Helper()
	// Query vector is [1,0]; similarities: near 0.995, mid 0.6, far 0.
	entries := map[string]CacheEntry{
		"learning-near": {Embedding: []float32{0.995, 0.0998}, Hash: "h1"},
		"learning-mid":  {Embedding: []float32{0.6, 0.8}, Hash: "h2"},
		"learning-far":  {Embedding: []float32{0, 1}, Hash: "h3"},
	}
	if err := e.cache.PutBatch(entries); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
}

func TestFindSimilar_ThresholdAndOrder(t *testing.T) {
	p := &fakeProvider{vectors: map[string][]float32{"query": {1, 0}}}
	e := testEngine(t, p)
	seedVectors(t, e)

	matches, err := e.FindSimilar(context.Background(), "query", 0.5, 0)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %+v, want 2", matches)
	}
	if matches[0].ID != "learning-near" || matches[1].ID != "learning-mid" {
		t.Errorf("order = %+v", matches)
	}
	if matches[0].Score <= matches[1].Score {
		t.Errorf("scores not descending: %+v", matches)
	}
}

func TestFindSimilarToMemory_ExcludesSelf(t *testing.T) {
	p := &fakeProvider{vectors: map[string][]float32{"its body": {1, 0}}}
	e := testEngine(t, p)
	seedVectors(t, e)
	_ = e.cache.Put("learning-self", []float32{1, 0}, "hs")

	matches, err := e.FindSimilarToMemory(context.Background(), "learning-self", "its body", 0.5, 0)
	if err != nil {
		t.Fatalf("FindSimilarToMemory: %v", err)
	}
	for _, m := range matches {
		if m.ID == "learning-self" {
			t.Errorf("self id in matches: %+v", matches)
		}
	}
}

func TestAutoLinkCandidates_RaisesThreshold(t *testing.T) {
	p := &fakeProvider{vectors: map[string][]float32{"body": {1, 0}}}
	e := testEngine(t, p)
	seedVectors(t, e)

	// Caller asks for 0.1, the floor must still exclude the 0.6 match.
	matches, err := e.AutoLinkCandidates(context.Background(), "learning-x", "body", 0.1)
	if err != nil {
		t.Fatalf("AutoLinkCandidates: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "learning-near" {
		t.Errorf("matches = %+v, want only the near vector", matches)
	}
	if matches[0].Score < AutoLinkThreshold {
		t.Errorf("score %v below floor", matches[0].Score)
	}
}

func TestBackfill(t *testing.T) {
	p := &fakeProvider{
		vectors: map[string][]float32{"text-a": {1, 0}, "text-b": {0, 1}},
		fail:    map[string]bool{"text-c": true},
	}
	e := testEngine(t, p)
	// a is already cached and fresh; b is missing; c fails at the provider.
	_ = e.cache.Put("a", []float32{1, 0}, checksum.SumString("text-a"))

	n, err := e.Backfill(context.Background(), []Item{
		{ID: "a", Text: "text-a"},
		{ID: "b", Text: "text-b"},
		{ID: "c", Text: "text-c"},
	})
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if n != 1 {
		t.Errorf("backfilled = %d, want 1", n)
	}
	if _, ok, _ := e.cache.Get("b"); !ok {
		t.Error("missing vector not backfilled")
	}
	if _, ok, _ := e.cache.Get("c"); ok {
		t.Error("failed item should not be cached")
	}
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		// Out-of-order indices must be reassembled.
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[9]},{"index":0,"embedding":[0.25,0.5]}]}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "test-model")
	vec, err := p.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.25 {
		t.Errorf("vec = %v", vec)
	}
}

func TestHTTPProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "")
	_, err := p.Generate(context.Background(), "hello")
	if !apperr.Is(err, apperr.KindProvider) {
		t.Errorf("error = %v, want provider error", err)
	}
}

func TestHTTPProvider_EmptyInput(t *testing.T) {
	p := NewHTTPProvider("http://unused", "")
	_, err := p.Generate(context.Background(), "")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("error = %v, want validation error", err)
	}
}
