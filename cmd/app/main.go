package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/tariffsync/internal"
	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/pipeline"
	"github.com/starford/tariffsync/internal/runservice"
	pkgconfig "github.com/starford/tariffsync/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	path := cmd.String("config")
	if cmd.IsSet("config") {
		if err := pkgconfig.Load(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if loaded, err := pkgconfig.LoadOrDefault(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	} else if !loaded {
		slog.Warn("config file not found, using defaults", slog.String("path", path))
	}
	if p := cmd.String("codes"); p != "" {
		cfg.Codes.Path = p
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runOnce(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	p := pipeline.Params{
		BatchSize:   int(cmd.Int("batch-size")),
		Workers:     int(cmd.Int("workers")),
		ResumeRunID: cmd.String("resume"),
	}
	for _, raw := range cmd.StringSlice("code") {
		c, err := hscode.Parse(raw)
		if err != nil {
			return err
		}
		p.Codes = append(p.Codes, c)
	}
	if cmd.IsSet("window") {
		p.Window = cmd.Duration("window")
	}
	if cmd.Bool("full") || (cmd.IsSet("window") && p.Window == 0) {
		p.Window = runservice.FullRefresh
	}

	sum, err := internal.Sync(ctx, p, internal.WithConfig(cfg))
	fmt.Println(sum.String())
	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(sum)
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", sum.RunID, err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, internal.WithConfig(cfg))
}

func exportRecords(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := internal.Export(ctx, cmd.String("dir"), internal.WithConfig(cfg))
	if err != nil {
		return err
	}
	fmt.Printf("exported: written=%d unchanged=%d\n", st.Written, st.Unchanged)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "tariffsync",
		Usage:  "Incremental sync of customs tariff records into a versioned store",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "codes",
				Usage: "Codes file (CSV with an hs_code column, or one code per line); overrides codes.path",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the status API, live events and metrics",
				Action: serve,
			},
			{
				Name:   "run",
				Usage:  "Run one sync and print its summary",
				Action: runOnce,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "code", Usage: "Sync only these codes (repeatable)"},
					&cli.DurationFlag{Name: "window", Usage: "Freshness window; records checked more recently are skipped"},
					&cli.BoolFlag{Name: "full", Usage: "Ignore the freshness window"},
					&cli.IntFlag{Name: "batch-size", Usage: "Records per transaction"},
					&cli.IntFlag{Name: "workers", Usage: "Concurrent fetches"},
					&cli.StringFlag{Name: "resume", Usage: "Skip codes already committed by this run ID"},
					&cli.BoolFlag{Name: "json", Usage: "Also print the summary as JSON"},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: serveMCP,
			},
			{
				Name:   "export",
				Usage:  "Write current records as JSON files",
				Action: exportRecords,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Usage: "Output directory; overrides export.dir"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
