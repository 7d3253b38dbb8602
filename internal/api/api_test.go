package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/starford/muninn/internal/audit"
	"github.com/starford/muninn/internal/export"
	"github.com/starford/muninn/internal/memoryservice"
	"github.com/starford/muninn/internal/testutil"
)

// testEnv sets up a temp scope, service, auditor and router.
// authToken="" means auth disabled.
func testEnv(t *testing.T, authToken string) (*memoryservice.Service, http.Handler) {
	t.Helper()

	sc, store := testutil.TestScope(t)
	idx, gr, _ := testutil.TestCaches(t, store)
	logger := testutil.Logger()

	svc := memoryservice.New(sc, store, idx, gr, logger)
	auditor := audit.New(store, idx, gr, logger)
	exporter := export.NewExporter(store, idx, gr, sc.Name, logger)
	importer := export.NewImporter(store, idx, gr, sc.Name, logger)

	router := NewRouter(svc, auditor, exporter, importer, authToken != "", authToken, nil)
	return svc, router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createMemory(t *testing.T, router http.Handler, typ, title, content string) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/memories", map[string]any{
		"type":    typ,
		"title":   title,
		"content": content,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var res struct {
		Memory struct {
			ID string `json:"id"`
		} `json:"memory"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	return res.Memory.ID
}

func TestCreateAndGetMemory(t *testing.T) {
	_, router := testEnv(t, "")

	id := createMemory(t, router, "decision", "Use Postgres", "We picked Postgres for relational data.")
	if id != "decision-use-postgres" {
		t.Fatalf("id = %q", id)
	}

	w := doJSON(t, router, http.MethodGet, "/memories/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, body = %s", w.Code, w.Body.String())
	}
	var detail struct {
		ID    string   `json:"id"`
		Type  string   `json:"type"`
		Title string   `json:"title"`
		Tags  []string `json:"tags"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatal(err)
	}
	if detail.Type != "decision" || detail.Title != "Use Postgres" {
		t.Fatalf("detail = %+v", detail)
	}
	hasScopeTag := false
	for _, tag := range detail.Tags {
		if strings.HasPrefix(tag, "scope:") {
			hasScopeTag = true
		}
	}
	if !hasScopeTag {
		t.Fatalf("missing scope tag, tags = %v", detail.Tags)
	}
}

func TestCreateMemory_Invalid(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/memories", map[string]any{
		"type":    "note",
		"title":   "Bad type",
		"content": "x",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/memories", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec.Code)
	}
}

func TestCreateMemory_DuplicateExplicitID(t *testing.T) {
	_, router := testEnv(t, "")

	body := map[string]any{
		"id":      "decision-pick",
		"type":    "decision",
		"title":   "Pick",
		"content": "x",
	}
	if w := doJSON(t, router, http.MethodPost, "/memories", body); w.Code != http.StatusCreated {
		t.Fatalf("first create status = %d", w.Code)
	}
	w := doJSON(t, router, http.MethodPost, "/memories", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestUpdateAndDeleteMemory(t *testing.T) {
	_, router := testEnv(t, "")
	id := createMemory(t, router, "learning", "Retry budgets", "Retries need budgets.")

	w := doJSON(t, router, http.MethodPatch, "/memories/"+id, map[string]any{
		"content": "Retries need budgets and jitter.",
		"addTags": []string{"resilience"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "resilience") {
		t.Fatalf("updated body = %s", w.Body.String())
	}

	w = doJSON(t, router, http.MethodDelete, "/memories/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/memories/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", w.Code)
	}
}

func TestGetMemory_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	w := doJSON(t, router, http.MethodGet, "/memories/decision-nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListAndSearchEndpoints(t *testing.T) {
	_, router := testEnv(t, "")
	createMemory(t, router, "decision", "Use Postgres", "Relational store.")
	createMemory(t, router, "gotcha", "Postgres vacuum stalls", "Autovacuum needs tuning.")
	createMemory(t, router, "learning", "Go contexts", "Pass context first.")

	w := doJSON(t, router, http.MethodGet, "/memories?type=decision", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Total != 1 {
		t.Fatalf("total = %d", list.Total)
	}

	w = doJSON(t, router, http.MethodGet, "/search?q=postgres", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	var hits struct {
		Results []struct {
			Entry struct {
				ID string `json:"id"`
			} `json:"entry"`
		} `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &hits); err != nil {
		t.Fatal(err)
	}
	if len(hits.Results) != 2 {
		t.Fatalf("results = %d, body = %s", len(hits.Results), w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing q status = %d", w.Code)
	}
}

func TestLinkEndpoints(t *testing.T) {
	_, router := testEnv(t, "")
	a := createMemory(t, router, "decision", "First", "a")
	b := createMemory(t, router, "decision", "Second", "b")

	w := doJSON(t, router, http.MethodPost, "/links", map[string]string{
		"source": a, "target": b, "label": "supersedes",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("link status = %d, body = %s", w.Code, w.Body.String())
	}

	// Same edge again is idempotent, reported with 200.
	w = doJSON(t, router, http.MethodPost, "/links", map[string]string{
		"source": a, "target": b, "label": "supersedes",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("repeat link status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/memories/"+a+"/related", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), b) {
		t.Fatalf("related status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/graph/path?from="+a+"&to="+b, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("path status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodDelete, "/links?source="+a+"&target="+b+"&label=supersedes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unlink status = %d", w.Code)
	}
}

func TestHealthAndSyncEndpoints(t *testing.T) {
	_, router := testEnv(t, "")
	createMemory(t, router, "decision", "Healthy", "content")

	w := doJSON(t, router, http.MethodGet, "/health/store", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	var report struct {
		Score int `json:"score"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Score != 100 {
		t.Fatalf("score = %d", report.Score)
	}

	w = doJSON(t, router, http.MethodPost, "/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync status = %d", w.Code)
	}

	// Rebuild refuses without explicit confirmation.
	w = doJSON(t, router, http.MethodPost, "/rebuild", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("rebuild without confirm status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/rebuild?confirm=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild status = %d", w.Code)
	}
}

func TestExportImportEndpoints(t *testing.T) {
	_, exportRouter := testEnv(t, "")
	createMemory(t, exportRouter, "decision", "Ship it", "content")

	w := doJSON(t, exportRouter, http.MethodGet, "/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	pkg := w.Body.Bytes()

	_, importRouter := testEnv(t, "")
	req := httptest.NewRequest(http.MethodPost, "/import", bytes.NewReader(pkg))
	rec := httptest.NewRecorder()
	importRouter.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Imported int `json:"imported"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Imported != 1 {
		t.Fatalf("imported = %d", res.Imported)
	}

	if w := doJSON(t, importRouter, http.MethodGet, "/memories/decision-ship-it", nil); w.Code != http.StatusOK {
		t.Fatalf("imported memory missing, status = %d", w.Code)
	}
}

func TestImport_BadPolicy(t *testing.T) {
	_, router := testEnv(t, "")
	body := []byte(`{"version":"1.0","memories":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/import?policy=clobber", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestSimilar_NoProvider(t *testing.T) {
	_, router := testEnv(t, "")
	w := doJSON(t, router, http.MethodGet, "/similar?q=anything", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/memories", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret")
	w := doJSON(t, router, http.MethodGet, "/memories", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/memories", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")
	if w := doJSON(t, router, http.MethodGet, "/memories", nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
