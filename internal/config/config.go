package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/standardbeagle/ovi/internal/types"
)

// Config holds all runtime configuration for the indexer.
type Config struct {
	Version     int
	Project     Project
	Index       Index
	Performance Performance
	Exclude     []string
}

type Project struct {
	Root string
	Name string
}

type Index struct {
	MaxFileSize      int64
	RespectGitignore bool // Process .gitignore for additional exclusions
	WatchMode        bool // Enable file system watching for automatic reindexing
	SnapshotPath     string
}

type Performance struct {
	DebounceMs    int // Quiet period before the change coalescer flushes
	BatchSize     int // Max files per analyzer invocation
	MaxConcurrent int // Max analyzer batches in flight
}

// defaultExcludes mirrors the directories the workspace scanner always
// skips. Kept in config so user excludes extend rather than replace them.
var defaultExcludes = []string{
	"**/.git/**",
	"**/__pycache__/**",
	"**/.venv/**",
	"**/venv/**",
	"**/node_modules/**",
}

// Default returns a Config with all defaults applied, rooted at root.
func Default(root string) *Config {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = root
	}
	return &Config{
		Version: 1,
		Project: Project{
			Root: absRoot,
			Name: filepath.Base(absRoot),
		},
		Index: Index{
			MaxFileSize:      types.DefaultMaxFileSize,
			RespectGitignore: true,
			WatchMode:        true,
			SnapshotPath:     filepath.Join(absRoot, ".ovi", "inheritance-index.json"),
		},
		Performance: Performance{
			DebounceMs:    types.DefaultDebounceMs,
			BatchSize:     types.DefaultBatchSize,
			MaxConcurrent: types.DefaultMaxConcurrent,
		},
		Exclude: append([]string(nil), defaultExcludes...),
	}
}

// Load builds the configuration for a workspace root. Precedence, lowest
// first: built-in defaults, a [tool.ovi] table in pyproject.toml, then
// .ovi.kdl at the root. CLI flags are applied by the caller on top.
func Load(root string) (*Config, error) {
	cfg := Default(root)

	if err := loadPyproject(cfg, filepath.Join(cfg.Project.Root, "pyproject.toml")); err != nil {
		return nil, err
	}
	if err := loadKDL(cfg, filepath.Join(cfg.Project.Root, ".ovi.kdl")); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate clamps tuning values into sane ranges and checks the root.
func (c *Config) Validate() error {
	if c.Project.Root == "" {
		return fmt.Errorf("project root is empty")
	}
	if info, err := os.Stat(c.Project.Root); err != nil || !info.IsDir() {
		return fmt.Errorf("project root %q is not a directory", c.Project.Root)
	}
	if c.Performance.DebounceMs < 10 {
		c.Performance.DebounceMs = 10
	}
	if c.Performance.BatchSize < 1 {
		c.Performance.BatchSize = types.DefaultBatchSize
	}
	if c.Performance.MaxConcurrent < 1 {
		c.Performance.MaxConcurrent = types.DefaultMaxConcurrent
	}
	if c.Index.MaxFileSize <= 0 {
		c.Index.MaxFileSize = types.DefaultMaxFileSize
	}
	if c.Index.SnapshotPath == "" {
		c.Index.SnapshotPath = filepath.Join(c.Project.Root, ".ovi", "inheritance-index.json")
	}
	return nil
}
