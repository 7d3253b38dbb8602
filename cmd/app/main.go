package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/muninn/internal"
	pkgconfig "github.com/starford/muninn/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		// No config file; defaults plus env expansion are enough for
		// local use.
		return cfg, nil
	}
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func withConfig(run func(ctx context.Context, opts ...internal.Option) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return run(ctx, internal.WithConfig(cfg))
	}
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:  "muninn",
		Usage: "Persistent memory store with file-backed records, knowledge graph, and semantic search",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API server",
				Action: withConfig(internal.Run),
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: withConfig(internal.RunMCP),
			},
			{
				Name:   "check",
				Usage:  "Audit the store for drift between files and caches",
				Action: withConfig(internal.RunCheck),
			},
			{
				Name:   "sync",
				Usage:  "Reconcile the caches with the files on disk",
				Action: withConfig(internal.RunSync),
			},
			{
				Name:   "rebuild",
				Usage:  "Discard the caches and rebuild them from files",
				Action: withConfig(internal.RunRebuild),
			},
			{
				Name:   "backfill",
				Usage:  "Generate embeddings for records that have none",
				Action: withConfig(internal.RunBackfill),
			},
			{
				Name:  "export",
				Usage: "Write the scope as a portable package",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (- for stdout)", Value: "-"},
					&cli.StringFlag{Name: "format", Usage: "json or yaml", Value: "json"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return internal.RunExport(ctx, cmd.String("out"), cmd.String("format"),
						internal.WithConfig(cfg))
				},
			},
			{
				Name:  "import",
				Usage: "Read a package file into the scope",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Usage: "Package file", Required: true},
					&cli.StringFlag{Name: "policy", Usage: "Conflict policy: skip, merge or replace", Value: "skip"},
					&cli.BoolFlag{Name: "dry-run", Usage: "Report what would change without writing"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return internal.RunImport(ctx, cmd.String("in"), cmd.String("policy"),
						cmd.Bool("dry-run"), internal.WithConfig(cfg))
				},
			},
		},
		// Bare invocation serves, matching the container entrypoint.
		Action: withConfig(internal.Run),
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
