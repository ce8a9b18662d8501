package indexing

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/standardbeagle/ovi/internal/config"
	"github.com/standardbeagle/ovi/internal/debug"
)

// skipDirs are never descended into regardless of configuration.
var skipDirs = map[string]bool{
	".git":         true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"node_modules": true,
	".ovi":         true,
}

// Scanner walks the workspace for Python files, applying exclude globs
// and .gitignore rules, and hashes file contents so unchanged files can
// be skipped between full reindexes.
type Scanner struct {
	config    *config.Config
	gitignore *ignore.GitIgnore
}

// NewScanner creates a Scanner for the configured workspace.
func NewScanner(cfg *config.Config) *Scanner {
	s := &Scanner{config: cfg}
	if cfg.Index.RespectGitignore {
		gi, err := ignore.CompileIgnoreFile(filepath.Join(cfg.Project.Root, ".gitignore"))
		if err == nil {
			s.gitignore = gi
		}
	}
	return s
}

// Scan walks the workspace root and returns the absolute paths of every
// Python file that passes the filters. Symlink cycles are detected via
// resolved real paths.
func (s *Scanner) Scan(ctx context.Context) ([]string, error) {
	var files []string
	visitedDirs := make(map[string]bool)

	err := filepath.Walk(s.config.Project.Root, func(path string, info os.FileInfo, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if walkErr != nil {
			return nil // continue despite errors
		}

		if info.IsDir() {
			realPath, err := filepath.EvalSymlinks(path)
			if err != nil {
				return nil
			}
			if visitedDirs[realPath] {
				return filepath.SkipDir
			}
			visitedDirs[realPath] = true

			if path != s.config.Project.Root && s.shouldSkipDir(path) {
				return filepath.SkipDir
			}
			return nil
		}

		if s.ShouldProcess(path, info) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	debug.LogIndexing("scan found %d python files under %s\n", len(files), s.config.Project.Root)
	return files, nil
}

func (s *Scanner) shouldSkipDir(path string) bool {
	if skipDirs[filepath.Base(path)] {
		return true
	}
	rel := s.relPath(path)
	if s.gitignore != nil && s.gitignore.MatchesPath(rel) {
		return true
	}
	for _, pattern := range s.config.Exclude {
		if matched, _ := doublestar.Match(pattern, rel+"/"); matched {
			return true
		}
		if matched, _ := doublestar.Match(strings.TrimSuffix(pattern, "/**"), rel); matched {
			return true
		}
	}
	return false
}

// ShouldProcess reports whether one file is eligible for analysis:
// a .py file within size limits that no filter excludes.
func (s *Scanner) ShouldProcess(path string, info os.FileInfo) bool {
	if !strings.HasSuffix(path, ".py") {
		return false
	}
	if info != nil && info.Size() > s.config.Index.MaxFileSize {
		debug.LogIndexing("skipping oversized file %s (%d bytes)\n", path, info.Size())
		return false
	}
	rel := s.relPath(path)
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if skipDirs[part] {
			return false
		}
	}
	if s.gitignore != nil && s.gitignore.MatchesPath(rel) {
		return false
	}
	for _, pattern := range s.config.Exclude {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return false
		}
	}
	return true
}

func (s *Scanner) relPath(path string) string {
	rel, err := filepath.Rel(s.config.Project.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// HashFile returns a content hash for change detection, or 0 when the
// file cannot be read (callers then treat the file as changed).
func HashFile(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}
