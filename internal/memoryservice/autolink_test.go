package memoryservice

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/starford/muninn/internal/embedding"
	"github.com/starford/muninn/internal/graph"
	"github.com/starford/muninn/internal/record"
	"github.com/starford/muninn/internal/testutil"
)

// stubProvider returns a fixed vector per known substring, so tests
// control similarity exactly.
type stubProvider struct {
	vectors map[string][]float32
	err     error
}

func (p *stubProvider) Generate(_ context.Context, text string) ([]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	for key, vec := range p.vectors {
		if strings.Contains(strings.ToLower(text), key) {
			return vec, nil
		}
	}
	return []float32{0, 0, 1}, nil
}

func (p *stubProvider) Model() string { return "stub" }

func embeddingService(t *testing.T, provider embedding.Provider) *Service {
	t.Helper()
	sc, store := testutil.TestScope(t)
	idx, gr, cache := testutil.TestCaches(t, store)
	engine := embedding.NewEngine(provider, cache, testutil.Logger())
	return New(sc, store, idx, gr, testutil.Logger()).WithEmbedding(engine)
}

func TestCreate_AutoLink(t *testing.T) {
	provider := &stubProvider{vectors: map[string][]float32{
		"goroutine": {1, 0, 0},
	}}
	svc := embeddingService(t, provider)
	ctx := context.Background()

	// First write seeds its vector into the cache.
	first, err := svc.Create(ctx, CreateRequest{
		Type: record.TypeLearning, Title: "Goroutine Leaks", Content: "watch the goroutine count",
		AutoLink: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.AutoLinked != 0 {
		t.Errorf("first autoLinked = %d, want 0 (nothing to match)", first.AutoLinked)
	}

	// Identical vector scores 1.0, above the enforced threshold.
	second, err := svc.Create(ctx, CreateRequest{
		Type: record.TypeGotcha, Title: "Goroutine Starvation", Content: "a goroutine story",
		AutoLink: true, AutoLinkThreshold: 0.1, // raised to the floor, not honoured
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.AutoLinked != 1 {
		t.Fatalf("autoLinked = %d, want 1", second.AutoLinked)
	}

	doc, _ := svc.graph.Load()
	a, b := second.Memory.ID, first.Memory.ID
	if !doc.HasEdge(a, b, graph.LabelSimilarity) || !doc.HasEdge(b, a, graph.LabelSimilarity) {
		t.Errorf("similarity edges missing: %v", doc.Edges)
	}
}

func TestCreate_AutoLinkThresholdFloor(t *testing.T) {
	// Orthogonal vectors: similarity 0, below any sane threshold.
	provider := &stubProvider{vectors: map[string][]float32{
		"alpha": {1, 0, 0},
		"beta":  {0, 1, 0},
	}}
	svc := embeddingService(t, provider)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateRequest{
		Type: record.TypeLearning, Title: "Alpha", Content: "alpha", AutoLink: true,
	}); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Create(ctx, CreateRequest{
		Type: record.TypeLearning, Title: "Beta", Content: "beta",
		AutoLink: true, AutoLinkThreshold: 0.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.AutoLinked != 0 {
		t.Errorf("autoLinked = %d, want 0 below the similarity floor", res.AutoLinked)
	}
}

func TestCreate_AutoLinkProviderFailureIsNonFatal(t *testing.T) {
	provider := &stubProvider{err: errors.New("model offline")}
	svc := embeddingService(t, provider)

	res, err := svc.Create(context.Background(), CreateRequest{
		Type: record.TypeLearning, Title: "Still Works", Content: "c", AutoLink: true,
	})
	if err != nil {
		t.Fatalf("write must survive provider failure, got %v", err)
	}
	if res.AutoLinked != 0 {
		t.Errorf("autoLinked = %d", res.AutoLinked)
	}
	if _, ok, _ := svc.idx.Get(res.Memory.ID); !ok {
		t.Error("record not indexed despite provider failure")
	}
}

func TestSimilar_DirectRequestSurfacesProviderError(t *testing.T) {
	provider := &stubProvider{err: errors.New("model offline")}
	svc := embeddingService(t, provider)

	if _, err := svc.Similar(context.Background(), "query", 0, 5); err == nil {
		t.Fatal("direct similarity request must surface provider errors")
	}
}

func TestBackfill(t *testing.T) {
	provider := &stubProvider{vectors: map[string][]float32{"x": {1, 0, 0}}}
	svc := embeddingService(t, provider)
	ctx := context.Background()

	mustCreate(t, svc, CreateRequest{Type: record.TypeLearning, Title: "X One", Content: "x"})
	mustCreate(t, svc, CreateRequest{Type: record.TypeLearning, Title: "X Two", Content: "x"})

	n, err := svc.Backfill(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("backfilled = %d, want 2", n)
	}

	// Unchanged content is a no-op on the second pass.
	n, err = svc.Backfill(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second backfill = %d, want 0", n)
	}
}
