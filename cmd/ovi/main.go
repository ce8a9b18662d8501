package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/standardbeagle/ovi/internal/analyzer"
	"github.com/standardbeagle/ovi/internal/config"
	"github.com/standardbeagle/ovi/internal/debug"
	"github.com/standardbeagle/ovi/internal/index"
	"github.com/standardbeagle/ovi/internal/indexing"
	"github.com/standardbeagle/ovi/internal/mcp"

	"github.com/urfave/cli/v2"
)

var Version = "0.1.0"

// loadConfigWithOverrides loads configuration and applies CLI flag overrides
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	root := c.String("root")
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path %q: %w", root, err)
	}

	cfg, err := config.Load(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to load config for %s: %w", absRoot, err)
	}

	if excludeFlags := c.StringSlice("exclude"); len(excludeFlags) > 0 {
		cfg.Exclude = append(cfg.Exclude, excludeFlags...)
	}
	if c.IsSet("debounce-ms") {
		cfg.Performance.DebounceMs = c.Int("debounce-ms")
	}
	if c.IsSet("batch-size") {
		cfg.Performance.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("max-concurrent") {
		cfg.Performance.MaxConcurrent = c.Int("max-concurrent")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newManager(cfg *config.Config, progress indexing.Reporter) *indexing.Manager {
	a := analyzer.New(cfg.Project.Root, cfg.Index.MaxFileSize)
	return indexing.NewManager(cfg, a, progress)
}

func main() {
	app := &cli.App{
		Name:                   "ovi",
		Usage:                  "Live inheritance index for Python codebases",
		Version:                Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Workspace root directory (overrides config)",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Exclude files matching glob patterns (e.g., --exclude 'migrations/**')",
			},
			&cli.IntFlag{
				Name:  "debounce-ms",
				Usage: "Change coalescing delay in milliseconds",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Files per analysis batch",
			},
			&cli.IntFlag{
				Name:  "max-concurrent",
				Usage: "Maximum concurrent analysis batches",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "index",
				Usage:     "Scan the workspace and build the inheritance index; with paths, re-index just those files",
				ArgsUsage: "[paths...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Re-analyze files even when unchanged",
					},
				},
				Action: indexCommand,
			},
			{
				Name:   "watch",
				Usage:  "Index the workspace and keep the index live as files change",
				Action: watchCommand,
			},
			{
				Name:   "mcp",
				Usage:  "Start MCP (Model Context Protocol) server with stdio transport",
				Action: mcpCommand,
			},
			{
				Name:      "query",
				Usage:     "Query the index: method <file> <class> <method> <line> | class <name> | find <name>",
				ArgsUsage: "<kind> <args...>",
				Action:    queryCommand,
			},
			{
				Name:    "status",
				Aliases: []string{"st"},
				Usage:   "Show index snapshot status",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: statusCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func indexCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	cfg.Index.WatchMode = false

	manager := newManager(cfg, nil)
	defer manager.Dispose()

	if c.Args().Len() > 0 {
		paths := make([]string, 0, c.Args().Len())
		for _, p := range c.Args().Slice() {
			if !filepath.IsAbs(p) {
				p = filepath.Join(cfg.Project.Root, p)
			}
			paths = append(paths, p)
		}
		// Merge scoped results into the existing snapshot when one exists.
		if err := manager.Index().Load(cfg.Index.SnapshotPath); err != nil {
			debug.LogIndexing("no usable snapshot (%v), scoped index starts empty\n", err)
		}
		if err := manager.IndexFiles(context.Background(), paths); err != nil {
			return cli.Exit(fmt.Sprintf("indexing failed: %v", err), 1)
		}
		fmt.Printf("indexed %d requested files, snapshot at %s\n",
			len(paths), cfg.Index.SnapshotPath)
		return nil
	}

	if err := manager.IndexWorkspace(context.Background(), c.Bool("force")); err != nil {
		return cli.Exit(fmt.Sprintf("indexing failed: %v", err), 1)
	}
	fmt.Printf("indexed %d files with inheritance, snapshot at %s\n",
		manager.Index().Len(), cfg.Index.SnapshotPath)
	return nil
}

func watchCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	cfg.Index.WatchMode = true

	progress := indexing.ReporterFunc(func(pending, queued, active int) {
		debug.LogIndexing("pending=%d queued=%d active=%d\n", pending, queued, active)
	})
	manager := newManager(cfg, progress)
	defer manager.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("failed to start watcher: %v", err), 1)
	}
	fmt.Printf("watching %s (%d files indexed)\n", cfg.Project.Root, manager.Index().Len())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	fmt.Printf("received %v, shutting down\n", sig)
	return nil
}

func mcpCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	cfg.Index.WatchMode = true
	debug.SetMCPMode(true)

	manager := newManager(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("failed to start indexing: %v", err), 1)
	}

	mcpServer := mcp.NewServer(manager, cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- mcpServer.Start(ctx)
	}()

	select {
	case err := <-errChan:
		mcpServer.Shutdown()
		if err != nil {
			return cli.Exit(fmt.Sprintf("MCP server error: %v", err), 1)
		}
		return nil
	case sig := <-sigChan:
		debug.LogMCP("received signal %v, shutting down\n", sig)
		cancel()
		shutdownTimer := time.NewTimer(2 * time.Second)
		defer shutdownTimer.Stop()
		select {
		case <-errChan:
		case <-shutdownTimer.C:
		}
		mcpServer.Shutdown()
		return nil
	}
}

func queryCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	cfg.Index.WatchMode = false

	manager := newManager(cfg, nil)
	defer manager.Dispose()
	if err := manager.Start(context.Background()); err != nil {
		return cli.Exit(fmt.Sprintf("failed to load index: %v", err), 1)
	}

	args := c.Args().Slice()
	if len(args) == 0 {
		return cli.Exit("usage: ovi query method <file> <class> <method> <line> | class <name> | find <name>", 1)
	}

	var result interface{}
	switch args[0] {
	case "method":
		if len(args) != 5 {
			return cli.Exit("usage: ovi query method <file> <class> <method> <line>", 1)
		}
		var line int
		if _, err := fmt.Sscanf(args[4], "%d", &line); err != nil {
			return cli.Exit(fmt.Sprintf("invalid line %q", args[4]), 1)
		}
		path := args[1]
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Project.Root, path)
		}
		if rel := manager.GetRelationshipsForMethod(path, args[2], args[3], line); rel != nil {
			result = rel
		}
	case "class":
		if len(args) != 2 {
			return cli.Exit("usage: ovi query class <name>", 1)
		}
		if info := manager.GetClassInheritance("", args[1], 0); info != nil {
			result = info
		}
	case "find":
		if len(args) != 2 {
			return cli.Exit("usage: ovi query find <name>", 1)
		}
		path, line, found := manager.FindClassDefinition(args[1])
		if found {
			result = map[string]interface{}{
				"file_path": index.WorkspaceRelative(cfg.Project.Root, path),
				"line":      line,
			}
		}
	default:
		return cli.Exit(fmt.Sprintf("unknown query kind %q", args[0]), 1)
	}

	if result == nil {
		fmt.Println("not found")
		suggestions := manager.Index().SuggestClasses(args[len(args)-1], 5)
		if args[0] != "method" && len(suggestions) > 0 {
			fmt.Printf("did you mean: %v\n", suggestions)
		}
		return nil
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Println(string(out))
	return nil
}

func statusCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ix := index.New()
	loadErr := ix.Load(cfg.Index.SnapshotPath)

	status := map[string]interface{}{
		"workspace_root": cfg.Project.Root,
		"snapshot_path":  cfg.Index.SnapshotPath,
		"indexed_files":  ix.Len(),
		"snapshot_ok":    loadErr == nil,
	}
	if info, err := os.Stat(cfg.Index.SnapshotPath); err == nil {
		status["snapshot_updated"] = info.ModTime().Format(time.RFC3339)
	}

	if c.Bool("json") {
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("workspace:  %s\n", cfg.Project.Root)
	fmt.Printf("snapshot:   %s\n", cfg.Index.SnapshotPath)
	if loadErr != nil {
		fmt.Printf("status:     no usable snapshot (%v)\n", loadErr)
		return nil
	}
	fmt.Printf("files:      %d with inheritance data\n", ix.Len())
	if updated, ok := status["snapshot_updated"]; ok {
		fmt.Printf("updated:    %s\n", updated)
	}
	return nil
}
