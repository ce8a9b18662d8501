package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// pyprojectFile models the subset of pyproject.toml we care about:
// a [tool.ovi] table carrying the same knobs as .ovi.kdl, so Python
// projects can configure the indexer without an extra file.
type pyprojectFile struct {
	Tool struct {
		Ovi struct {
			MaxFileSize      int64    `toml:"max_file_size"`
			RespectGitignore *bool    `toml:"respect_gitignore"`
			WatchMode        *bool    `toml:"watch_mode"`
			SnapshotPath     string   `toml:"snapshot_path"`
			DebounceMs       int      `toml:"debounce_ms"`
			BatchSize        int      `toml:"batch_size"`
			MaxConcurrent    int      `toml:"max_concurrent"`
			Exclude          []string `toml:"exclude"`
		} `toml:"ovi"`
	} `toml:"tool"`
}

// loadPyproject overlays settings from pyproject.toml's [tool.ovi] table
// onto cfg. A missing file is not an error; a malformed one is.
func loadPyproject(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var pp pyprojectFile
	if err := toml.Unmarshal(data, &pp); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	ovi := pp.Tool.Ovi
	if ovi.MaxFileSize > 0 {
		cfg.Index.MaxFileSize = ovi.MaxFileSize
	}
	if ovi.RespectGitignore != nil {
		cfg.Index.RespectGitignore = *ovi.RespectGitignore
	}
	if ovi.WatchMode != nil {
		cfg.Index.WatchMode = *ovi.WatchMode
	}
	if ovi.SnapshotPath != "" {
		cfg.Index.SnapshotPath = ovi.SnapshotPath
	}
	if ovi.DebounceMs > 0 {
		cfg.Performance.DebounceMs = ovi.DebounceMs
	}
	if ovi.BatchSize > 0 {
		cfg.Performance.BatchSize = ovi.BatchSize
	}
	if ovi.MaxConcurrent > 0 {
		cfg.Performance.MaxConcurrent = ovi.MaxConcurrent
	}
	cfg.Exclude = append(cfg.Exclude, ovi.Exclude...)

	return nil
}
