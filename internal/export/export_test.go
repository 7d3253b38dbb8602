package export

import (
	"context"
	"testing"
	"time"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/graph"
	"github.com/starford/muninn/internal/index"
	"github.com/starford/muninn/internal/memoryservice"
	"github.com/starford/muninn/internal/record"
	"github.com/starford/muninn/internal/scope"
	"github.com/starford/muninn/internal/storage"
	"github.com/starford/muninn/internal/testutil"
)

type env struct {
	store *storage.FS
	idx   *index.Cache
	graph *graph.Store
	svc   *memoryservice.Service
}

func testEnv(t *testing.T) *env {
	t.Helper()
	sc, store := testutil.TestScope(t)
	idx, gr, _ := testutil.TestCaches(t, store)
	svc := memoryservice.New(sc, store, idx, gr, testutil.Logger())
	return &env{store: store, idx: idx, graph: gr, svc: svc}
}

func (e *env) create(t *testing.T, typ, title string, tags ...string) string {
	t.Helper()
	res, err := e.svc.Create(context.Background(), memoryservice.CreateRequest{
		Type: typ, Title: title, Content: "body of " + title, Tags: tags,
	})
	if err != nil {
		t.Fatal(err)
	}
	return res.Memory.ID
}

func TestExport_FiltersAndSubgraph(t *testing.T) {
	e := testEnv(t)
	ctx := context.Background()
	a := e.create(t, record.TypeDecision, "Alpha", "keep")
	b := e.create(t, record.TypeDecision, "Beta", "keep")
	c := e.create(t, record.TypeLearning, "Gamma", "keep")
	if _, err := e.svc.Link(ctx, a, b, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Link(ctx, a, c, ""); err != nil {
		t.Fatal(err)
	}

	ex := NewExporter(e.store, e.idx, e.graph, scope.Project, testutil.Logger())
	pkg, err := ex.Export(Options{Types: []string{record.TypeDecision}, IncludeGraph: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(pkg.Memories) != 2 {
		t.Fatalf("memories = %d, want 2", len(pkg.Memories))
	}
	if pkg.Version != Version || pkg.SourceScope != scope.Project {
		t.Errorf("package header = %+v", pkg)
	}
	// The learning record is outside the filter, so the edge to it is
	// trimmed from the induced subgraph.
	if len(pkg.Graph.Nodes) != 2 || len(pkg.Graph.Edges) != 1 {
		t.Errorf("subgraph = %+v", pkg.Graph)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	e := testEnv(t)
	e.create(t, record.TypeGotcha, "Round Trip", "x")

	ex := NewExporter(e.store, e.idx, e.graph, scope.Project, testutil.Logger())
	pkg, err := ex.Export(Options{})
	if err != nil {
		t.Fatal(err)
	}

	for _, format := range []string{FormatJSON, FormatYAML} {
		data, err := Encode(pkg, format)
		if err != nil {
			t.Fatalf("Encode %s: %v", format, err)
		}
		back, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode %s: %v", format, err)
		}
		if len(back.Memories) != 1 || back.Memories[0].ID != pkg.Memories[0].ID {
			t.Errorf("%s round trip lost memories: %+v", format, back.Memories)
		}
		if back.Memories[0].Content != pkg.Memories[0].Content {
			t.Errorf("%s content mismatch", format)
		}
	}

	if _, err := Encode(pkg, "xml"); !apperr.IsValidation(err) {
		t.Errorf("bad format: err = %v", err)
	}
}

func TestDecode_RejectsIncompleteRecords(t *testing.T) {
	missing := []byte(`{"version":"1.0","memories":[{"id":"decision-x","frontmatter":{"type":"decision","tags":[]},"content":"c"}]}`)
	if _, err := Decode(missing); !apperr.IsValidation(err) {
		t.Errorf("missing title: err = %v", err)
	}
	if _, err := Decode([]byte("{{{")); !apperr.Is(err, apperr.KindFormat) {
		t.Errorf("garbage: err = %v", err)
	}
}

func packageWith(updated time.Time) *Package {
	return &Package{
		Version: Version,
		Memories: []Memory{{
			ID: "decision-pick",
			Frontmatter: Frontmatter{
				Type:    record.TypeDecision,
				Title:   "Pick",
				Created: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				Updated: updated,
				Tags:    []string{"imported"},
			},
			Content: "incoming content",
		}},
	}
}

func TestImport_ConflictPolicies(t *testing.T) {
	e := testEnv(t)
	im := NewImporter(e.store, e.idx, e.graph, scope.Project, testutil.Logger())

	// Fresh import.
	res, err := im.Import(packageWith(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)), PolicySkip, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 1 || res.Skipped != 0 {
		t.Fatalf("fresh import = %+v", res)
	}

	readContent := func() string {
		data, err := e.store.Read(record.PathFor(record.TypeDecision, "decision-pick"))
		if err != nil {
			t.Fatal(err)
		}
		rec, err := record.Parse(data)
		if err != nil {
			t.Fatal(err)
		}
		return rec.Content
	}

	// skip never overwrites.
	pkg := packageWith(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	pkg.Memories[0].Content = "newer content"
	res, _ = im.Import(pkg, PolicySkip, false)
	if res.Skipped != 1 || res.Imported != 0 {
		t.Errorf("skip = %+v", res)
	}
	if readContent() != "incoming content" {
		t.Error("skip overwrote the existing record")
	}

	// merge with an older incoming timestamp leaves the record alone.
	older := packageWith(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	older.Memories[0].Content = "stale content"
	res, _ = im.Import(older, PolicyMerge, false)
	if res.Skipped != 1 || res.Replaced != 0 {
		t.Errorf("merge-older = %+v", res)
	}
	if readContent() != "incoming content" {
		t.Error("merge applied an older record")
	}

	// merge with a strictly newer timestamp overwrites.
	res, _ = im.Import(pkg, PolicyMerge, false)
	if res.Replaced != 1 {
		t.Errorf("merge-newer = %+v", res)
	}
	if readContent() != "newer content" {
		t.Error("merge did not apply the newer record")
	}

	// replace overwrites regardless of timestamp.
	res, _ = im.Import(older, PolicyReplace, false)
	if res.Replaced != 1 {
		t.Errorf("replace = %+v", res)
	}
	if readContent() != "stale content" {
		t.Error("replace did not overwrite")
	}

	if _, err := im.Import(pkg, "clobber", false); !apperr.IsValidation(err) {
		t.Errorf("bad policy: err = %v", err)
	}
}

func TestImport_DryRunMatchesRealRun(t *testing.T) {
	pkg := packageWith(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	pkg.Memories = append(pkg.Memories, Memory{
		ID: "learning-other",
		Frontmatter: Frontmatter{
			Type: record.TypeLearning, Title: "Other",
			Created: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Updated: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
			Tags:    []string{},
		},
		Content: "c",
	})
	pkg.Graph = &Graph{
		Nodes: []graph.Node{{ID: "decision-pick", Type: record.TypeDecision}, {ID: "learning-other", Type: record.TypeLearning}},
		Edges: []graph.Edge{{Source: "decision-pick", Target: "learning-other", Label: graph.LabelRelatesTo}},
	}

	e := testEnv(t)
	im := NewImporter(e.store, e.idx, e.graph, scope.Project, testutil.Logger())

	dry, err := im.Import(pkg, PolicySkip, true)
	if err != nil {
		t.Fatal(err)
	}
	if !dry.DryRun {
		t.Error("dryRun flag not set")
	}
	// Nothing was written.
	entries, _ := e.idx.All()
	if len(entries) != 0 {
		t.Fatalf("dry run mutated the index: %v", entries)
	}

	real, err := im.Import(pkg, PolicySkip, false)
	if err != nil {
		t.Fatal(err)
	}
	if dry.Imported != real.Imported || dry.Skipped != real.Skipped ||
		dry.Replaced != real.Replaced || dry.EdgesCreated != real.EdgesCreated {
		t.Errorf("dry = %+v, real = %+v", dry, real)
	}
	doc, _ := e.graph.Load()
	if len(doc.Edges) != 1 {
		t.Errorf("edges after import = %v", doc.Edges)
	}
}

func TestImport_CountsRepeatedEdgesOnce(t *testing.T) {
	pkg := packageWith(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	pkg.Memories = append(pkg.Memories, Memory{
		ID: "learning-other",
		Frontmatter: Frontmatter{
			Type: record.TypeLearning, Title: "Other",
			Created: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Updated: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
			Tags:    []string{},
		},
		Content: "c",
	})
	dup := graph.Edge{Source: "decision-pick", Target: "learning-other", Label: graph.LabelRelatesTo}
	pkg.Graph = &Graph{
		Nodes: []graph.Node{{ID: "decision-pick", Type: record.TypeDecision}, {ID: "learning-other", Type: record.TypeLearning}},
		Edges: []graph.Edge{dup, dup},
	}

	e := testEnv(t)
	im := NewImporter(e.store, e.idx, e.graph, scope.Project, testutil.Logger())

	dry, err := im.Import(pkg, PolicySkip, true)
	if err != nil {
		t.Fatal(err)
	}
	real, err := im.Import(pkg, PolicySkip, false)
	if err != nil {
		t.Fatal(err)
	}
	if dry.EdgesCreated != 1 || real.EdgesCreated != 1 {
		t.Errorf("EdgesCreated dry = %d, real = %d, want 1 and 1", dry.EdgesCreated, real.EdgesCreated)
	}
	doc, _ := e.graph.Load()
	if len(doc.Edges) != 1 {
		t.Errorf("edges after import = %v", doc.Edges)
	}
}

func TestImport_RetagsForTargetScope(t *testing.T) {
	pkg := packageWith(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	pkg.Memories[0].Frontmatter.Tags = []string{"scope:user", "imported"}

	e := testEnv(t)
	im := NewImporter(e.store, e.idx, e.graph, scope.Project, testutil.Logger())
	if _, err := im.Import(pkg, PolicySkip, false); err != nil {
		t.Fatal(err)
	}
	entry, ok, _ := e.idx.Get("decision-pick")
	if !ok {
		t.Fatal("not indexed")
	}
	want := []string{"imported", "scope:project"}
	if len(entry.Tags) != len(want) {
		t.Fatalf("tags = %v", entry.Tags)
	}
	for i, tag := range want {
		if entry.Tags[i] != tag {
			t.Errorf("tags[%d] = %q, want %q", i, entry.Tags[i], tag)
		}
	}
}
