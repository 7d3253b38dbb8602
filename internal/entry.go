// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/muninn/internal/api"
	"github.com/starford/muninn/internal/audit"
	"github.com/starford/muninn/internal/embedding"
	"github.com/starford/muninn/internal/export"
	"github.com/starford/muninn/internal/fts"
	"github.com/starford/muninn/internal/graph"
	"github.com/starford/muninn/internal/index"
	"github.com/starford/muninn/internal/mcpserver"
	"github.com/starford/muninn/internal/memoryservice"
	"github.com/starford/muninn/internal/scope"
	"github.com/starford/muninn/internal/sse"
	"github.com/starford/muninn/internal/storage"
)

// components holds everything wired over one configured scope. Each
// command builds it once and tears it down via close.
type components struct {
	cfg      *Config
	logger   *slog.Logger
	scope    scope.Scope
	store    *storage.FS
	idx      *index.Cache
	graph    *graph.Store
	engine   *embedding.Engine
	searchDB *fts.DB
	svc      *memoryservice.Service
	auditor  *audit.Auditor
	exporter *export.Exporter
	importer *export.Importer
}

func (c *components) close() {
	if c.searchDB != nil {
		if err := c.searchDB.Close(); err != nil {
			c.logger.Warn("search sidecar close failed", slog.String("error", err.Error()))
		}
	}
}

func setup(opts []Option) (*components, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Store.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	c := &components{
		cfg:    cfg,
		logger: logger,
		scope:  scope.Scope{Name: cfg.Store.Scope, Root: store.Root()},
		store:  store,
		idx:    index.New(store, logger),
		graph:  graph.New(store, logger),
	}

	c.svc = memoryservice.New(c.scope, store, c.idx, c.graph, logger)
	c.auditor = audit.New(store, c.idx, c.graph, logger)
	c.exporter = export.NewExporter(store, c.idx, c.graph, c.scope.Name, logger)
	c.importer = export.NewImporter(store, c.idx, c.graph, c.scope.Name, logger)

	if cfg.Search.Enabled {
		path := cfg.Search.Path
		if path == "" {
			path = filepath.Join(store.Root(), fts.FileName)
		}
		db, err := fts.Open(path)
		if err != nil {
			logger.Warn("search sidecar unavailable", slog.String("error", err.Error()))
		} else {
			c.searchDB = db
			c.svc = c.svc.WithSearch(db)
			c.auditor = c.auditor.WithSearch(db)
		}
	}

	if cfg.Embedding.Enabled {
		provider := embedding.NewHTTPProvider(cfg.Embedding.BaseURL, cfg.Embedding.Model)
		cache := embedding.NewCache(store, logger)
		c.engine = embedding.NewEngine(provider, cache, logger)
		c.svc = c.svc.WithEmbedding(c.engine)
		c.auditor = c.auditor.WithEmbeddings(cache)
	}

	var sibs []memoryservice.Sibling
	for _, s := range cfg.Siblings {
		sibStore, err := storage.NewFS(s.Path)
		if err != nil {
			logger.Warn("sibling scope unavailable",
				slog.String("scope", s.Scope),
				slog.String("error", err.Error()))
			continue
		}
		sibs = append(sibs, memoryservice.Sibling{Name: s.Scope, Store: sibStore})
	}
	if len(sibs) > 0 {
		c.svc = c.svc.WithSiblings(sibs...)
	}

	logger.Info("Configuration loaded",
		slog.String("store_path", cfg.Store.Path),
		slog.String("scope", cfg.Store.Scope),
		slog.Bool("search", c.searchDB != nil),
		slog.Bool("embeddings", c.engine != nil),
		slog.String("log_level", cfg.App.LogLevel.String()))

	return c, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	c, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.close()
	cfg, logger := c.cfg, c.logger

	// Reconcile caches with whatever is on disk before serving.
	if _, err := c.auditor.Sync(); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)

	apiRouter := api.NewRouter(c.svc, c.auditor, c.exporter, c.importer,
		cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	g.Go(func() error {
		if err := c.auditor.Watch(gCtx, broker.PublishMemoryEvent); err != nil {
			logger.Warn("watcher failed", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools over stdio.
func RunMCP(_ context.Context, opts ...Option) error {
	c, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.close()

	if _, err := c.auditor.Sync(); err != nil {
		c.logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}
	return mcpserver.New(c.svc, c.auditor).ServeStdio()
}

// printJSON writes one result document to stdout for the one-shot
// commands.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RunCheck audits the store and prints the report. A non-zero issue
// count is reported through the exit error so scripts can gate on it.
func RunCheck(_ context.Context, opts ...Option) error {
	c, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.close()

	report, err := c.auditor.Validate()
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if len(report.Issues) > 0 {
		return fmt.Errorf("store has %d issues (score %d)", len(report.Issues), report.Score)
	}
	return nil
}

// RunSync reconciles the caches with the files and prints the result.
func RunSync(_ context.Context, opts ...Option) error {
	c, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.close()

	res, err := c.auditor.Sync()
	if err != nil {
		return err
	}
	return printJSON(res)
}

// RunRebuild discards the caches and rebuilds them from files.
func RunRebuild(_ context.Context, opts ...Option) error {
	c, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.close()

	res, err := c.auditor.Rebuild()
	if err != nil {
		return err
	}
	return printJSON(res)
}

// RunBackfill generates embeddings for every record missing one.
func RunBackfill(ctx context.Context, opts ...Option) error {
	c, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.close()

	n, err := c.svc.Backfill(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("backfill complete", slog.Int("embedded", n))
	return nil
}

// RunExport writes a package of the whole scope to path ("-" for
// stdout).
func RunExport(_ context.Context, path, format string, opts ...Option) error {
	c, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.close()

	pkg, err := c.exporter.Export(export.Options{IncludeGraph: true})
	if err != nil {
		return err
	}
	data, err := export.Encode(pkg, format)
	if err != nil {
		return err
	}
	if path == "" || path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write package: %w", err)
	}
	c.logger.Info("exported", slog.String("path", path), slog.Int("memories", len(pkg.Memories)))
	return nil
}

// RunImport reads a package file into the configured scope.
func RunImport(_ context.Context, path, policy string, dryRun bool, opts ...Option) error {
	c, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.close()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read package: %w", err)
	}
	pkg, err := export.Decode(data)
	if err != nil {
		return err
	}
	res, err := c.importer.Import(pkg, policy, dryRun)
	if err != nil {
		return err
	}
	return printJSON(res)
}
