// Package memoryservice coordinates the record files, the index, the
// graph and the embedding engine behind one write/read surface.
package memoryservice

import (
	"context"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/checksum"
	"github.com/starford/muninn/internal/embedding"
	"github.com/starford/muninn/internal/fts"
	"github.com/starford/muninn/internal/graph"
	"github.com/starford/muninn/internal/ident"
	"github.com/starford/muninn/internal/index"
	"github.com/starford/muninn/internal/record"
	"github.com/starford/muninn/internal/scope"
	"github.com/starford/muninn/internal/storage"
)

// Sibling is another resolved scope checked for duplicate ids at write
// time. A memory id is meant to be unique across every scope the
// caller can see, not just the target one.
type Sibling struct {
	Name  string
	Store storage.Provider
}

// Service is the write orchestrator and query surface over one scope.
type Service struct {
	scope    scope.Scope
	store    storage.Provider
	idx      *index.Cache
	graph    *graph.Store
	engine   *embedding.Engine
	text     *fts.DB
	siblings []Sibling
	logger   *slog.Logger
}

// New creates a Service over the given stores. The embedding engine and
// search sidecar are attached separately; both are optional.
func New(sc scope.Scope, store storage.Provider, idx *index.Cache, gr *graph.Store, logger *slog.Logger) *Service {
	return &Service{scope: sc, store: store, idx: idx, graph: gr, logger: logger}
}

// WithEmbedding attaches the embedding engine used for similarity
// search and auto-linking.
func (s *Service) WithEmbedding(e *embedding.Engine) *Service {
	s.engine = e
	return s
}

// WithSearch attaches the full-text sidecar.
func (s *Service) WithSearch(db *fts.DB) *Service {
	s.text = db
	return s
}

// WithSiblings registers sibling scopes for cross-scope duplicate
// detection.
func (s *Service) WithSiblings(sibs ...Sibling) *Service {
	s.siblings = append(s.siblings, sibs...)
	return s
}

// Scope returns the scope this service writes to.
func (s *Service) Scope() scope.Scope { return s.scope }

// attempt runs a best-effort side effect and records its outcome. A
// failure is logged against the primary operation, never propagated.
func (s *Service) attempt(what, id string, fn func() error) bool {
	if err := fn(); err != nil {
		s.logger.Warn("best-effort step failed",
			slog.String("step", what),
			slog.String("id", id),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// CreateRequest describes one memory to write.
type CreateRequest struct {
	// ID, when set, is used verbatim; its type prefix must match Type.
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Tags     []string       `json:"tags,omitempty"`
	Severity string         `json:"severity,omitempty"`
	Source   string         `json:"source,omitempty"`
	Links    []string       `json:"links,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`

	// AutoLink asks for similarity-based edges to existing memories.
	// It needs an embedding provider and is always best-effort.
	AutoLink bool `json:"autoLink,omitempty"`
	// AutoLinkThreshold below the enforced minimum is raised, never
	// lowered.
	AutoLinkThreshold float64 `json:"autoLinkThreshold,omitempty"`
}

// Validate checks the request fields against the record contract.
func (r CreateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Type, validation.Required, validation.In(anySlice(record.Types())...)),
		validation.Field(&r.Title, validation.Required, validation.Length(1, 500)),
		validation.Field(&r.Content, validation.Required),
		validation.Field(&r.Severity, validation.In(
			record.SeverityLow, record.SeverityMedium, record.SeverityHigh, record.SeverityCritical)),
		validation.Field(&r.Tags, validation.Each(validation.Required)),
		validation.Field(&r.Links, validation.Each(validation.Required)),
	)
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// CreateResult is the write outcome plus the best-effort counters.
type CreateResult struct {
	Memory *Detail `json:"memory"`
	// AutoLinked counts similarity edges created; 0 when auto-link was
	// off, unavailable or failed.
	AutoLinked int `json:"autoLinked"`
	// SimilarTitles lists existing memories whose titles overlap the
	// new one. Informational only.
	SimilarTitles []string `json:"similarTitles,omitempty"`
	// Warnings collects non-fatal problems surfaced to the caller.
	Warnings []string `json:"warnings,omitempty"`
}

// Create validates the request, allocates an id, writes the file and
// brings the caches up to date. Index write failure fails the create;
// graph, auto-link and sidecar upkeep are best-effort.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, apperr.Validation("invalid create request: %v", err)
	}

	id, err := s.allocateID(req)
	if err != nil {
		return nil, err
	}
	if err := s.checkSiblings(id, req.Type); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	rec := &record.Record{
		ID:       id,
		Type:     req.Type,
		Title:    strings.TrimSpace(req.Title),
		Created:  now,
		Updated:  now,
		Scope:    s.scope.Name,
		Severity: req.Severity,
		Source:   req.Source,
		Tags:     mergeTags(req.Tags, s.scope.Tag()),
		Links:    dedup(req.Links),
		Meta:     req.Meta,
		Content:  req.Content,
	}

	data, err := record.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := s.store.Write(rec.StoragePath(), data); err != nil {
		return nil, err
	}
	if err := s.idx.Add(index.FromRecord(rec, checksum.Sum(data))); err != nil {
		return nil, err
	}

	res := &CreateResult{}

	s.attempt("graph node upsert", id, func() error {
		return s.graph.AddNode(id, rec.Type)
	})
	for _, target := range rec.Links {
		s.linkExisting(id, target, graph.LabelRelatesTo, res)
	}
	if s.text != nil {
		s.attempt("search upsert", id, func() error {
			return s.text.Upsert(id, rec.Title, rec.Content, rec.Tags)
		})
	}

	if req.AutoLink {
		res.AutoLinked = s.autoLink(ctx, rec, req.AutoLinkThreshold)
	}
	res.SimilarTitles = s.similarTitles(rec.ID, rec.Title)

	detail, err := s.detail(rec, data)
	if err != nil {
		return nil, err
	}
	res.Memory = detail
	return res, nil
}

// allocateID validates a caller-supplied id or derives a unique one
// from the title.
func (s *Service) allocateID(req CreateRequest) (string, error) {
	if req.ID != "" {
		if !strings.HasPrefix(req.ID, req.Type+"-") {
			return "", apperr.Validation("id %q does not match type %q", req.ID, req.Type)
		}
		if ident.Slug(req.ID) != req.ID {
			return "", apperr.Validation("id %q is not a valid slug", req.ID)
		}
		if s.exists(req.ID) {
			return "", &apperr.Error{Kind: apperr.KindValidation,
				Message: "memory already exists: " + req.ID, Cause: apperr.ErrAlreadyExists}
		}
		return req.ID, nil
	}
	id, err := ident.GenerateUniqueID(req.Type, req.Title, s.exists)
	if err != nil {
		return "", apperr.Validation("%v", err)
	}
	return id, nil
}

// exists reports whether id is taken in this scope, consulting the
// index first and the file store second so a momentarily stale index
// cannot hand out a taken id.
func (s *Service) exists(id string) bool {
	if _, ok, err := s.idx.Get(id); err == nil && ok {
		return true
	}
	typ := typeOf(id)
	if typ == "" {
		return false
	}
	ok, err := s.store.Exists(record.PathFor(typ, id))
	return err == nil && ok
}

// checkSiblings fails the write when the same id already lives in a
// sibling scope. Sibling store errors are logged and treated as
// absence; the local scope stays writable when a sibling root is
// unreachable.
func (s *Service) checkSiblings(id, typ string) error {
	rel := record.PathFor(typ, id)
	for _, sib := range s.siblings {
		ok, err := sib.Store.Exists(rel)
		if err != nil {
			s.logger.Warn("cross-scope check failed",
				slog.String("scope", sib.Name), slog.String("error", err.Error()))
			continue
		}
		if ok {
			return apperr.Validation("id %q already exists in scope %q", id, sib.Name)
		}
	}
	return nil
}

// linkExisting adds an explicit edge when the target is a known
// memory; unknown targets become a warning instead of a dangling edge.
func (s *Service) linkExisting(source, target, label string, res *CreateResult) {
	if _, ok, err := s.idx.Get(target); err != nil || !ok {
		res.Warnings = append(res.Warnings, "link target not found: "+target)
		return
	}
	s.attempt("link edge", source, func() error {
		if err := s.graph.AddNode(target, typeOf(target)); err != nil {
			return err
		}
		_, err := s.graph.AddEdge(source, target, label)
		return err
	})
}

// autoLink embeds the new record and creates similarity edges in both
// directions for every match above the enforced threshold. Every
// failure is logged and swallowed; the returned count may be zero.
func (s *Service) autoLink(ctx context.Context, rec *record.Record, threshold float64) int {
	if s.engine == nil || !s.engine.Enabled() {
		s.logger.Debug("auto-link skipped: no embedding provider", slog.String("id", rec.ID))
		return 0
	}
	matches, err := s.engine.AutoLinkCandidates(ctx, rec.ID, rec.Title+"\n\n"+rec.Content, threshold)
	if err != nil {
		s.logger.Warn("auto-link failed", slog.String("id", rec.ID), slog.String("error", err.Error()))
		return 0
	}
	linked := 0
	for _, m := range matches {
		ok := s.attempt("auto-link edge", rec.ID, func() error {
			if _, err := s.graph.AddEdge(rec.ID, m.ID, graph.LabelSimilarity); err != nil {
				return err
			}
			_, err := s.graph.AddEdge(m.ID, rec.ID, graph.LabelSimilarity)
			return err
		})
		if ok {
			linked++
		}
	}
	return linked
}

// similarTitles is a cheap token-overlap pass over the index, run
// regardless of embedding availability. Errors just yield no warnings.
func (s *Service) similarTitles(id, title string) []string {
	entries, err := s.idx.All()
	if err != nil {
		return nil
	}
	want := titleTokens(title)
	if len(want) == 0 {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.ID == id {
			continue
		}
		got := titleTokens(e.Title)
		if len(got) == 0 {
			continue
		}
		shared := 0
		for tok := range want {
			if _, ok := got[tok]; ok {
				shared++
			}
		}
		smaller := len(want)
		if len(got) < smaller {
			smaller = len(got)
		}
		if float64(shared)/float64(smaller) >= 0.6 {
			out = append(out, e.ID)
		}
	}
	return out
}

func titleTokens(title string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(title)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if len(tok) > 2 {
			out[tok] = struct{}{}
		}
	}
	return out
}

// typeOf extracts the type segment of an id, or "" when the prefix is
// not a known type.
func typeOf(id string) string {
	for _, t := range record.Types() {
		if strings.HasPrefix(id, t+"-") {
			return t
		}
	}
	return ""
}

// mergeTags deduplicates caller tags and guarantees the scope tag.
func mergeTags(tags []string, scopeTag string) []string {
	out := dedup(tags)
	for _, t := range out {
		if t == scopeTag {
			return out
		}
	}
	return append(out, scopeTag)
}

func dedup(ss []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
