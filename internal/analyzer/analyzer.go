// Package analyzer implements the batch analyzer contract for Python
// sources: given file paths, it returns per-file method override and
// class inheritance facts. Parsing is tree-sitter based; cross-file
// resolution comes from a cumulative class registry that lives as long
// as the analyzer.
package analyzer

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/ovi/internal/debug"
	"github.com/standardbeagle/ovi/internal/errors"
	"github.com/standardbeagle/ovi/internal/types"
)

// Analyzer turns batches of Python files into relationship facts.
// Safe for use from multiple completion handlers; the registry is
// guarded by a mutex.
type Analyzer struct {
	workspaceRoot string
	maxFileSize   int64

	mu       sync.Mutex
	registry *classRegistry
}

// New creates an Analyzer rooted at workspaceRoot. maxFileSize <= 0
// falls back to the default limit.
func New(workspaceRoot string, maxFileSize int64) *Analyzer {
	if maxFileSize <= 0 {
		maxFileSize = types.DefaultMaxFileSize
	}
	return &Analyzer{
		workspaceRoot: workspaceRoot,
		maxFileSize:   maxFileSize,
		registry:      newClassRegistry(),
	}
}

// Analyze parses every path and returns facts for each file that has
// object-oriented relationships; files with none are absent from the
// result. Files that are gone from disk or fail to parse drop out of
// the registry so the caller's delete-when-absent semantics apply.
func (a *Analyzer) Analyze(ctx context.Context, paths []string) (map[string]*types.FileInheritanceData, error) {
	parsed := make([]*fileFacts, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			facts, err := a.parsePath(path)
			if err != nil {
				debug.LogAnalyzer("skipping %s: %v\n", path, err)
				return nil
			}
			parsed[i] = facts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.NewIndexError(errors.ErrorTypeAnalysis, "batch", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, path := range paths {
		if parsed[i] != nil {
			a.registry.replaceFile(path, parsed[i].Classes)
		} else {
			// Unreadable or unparsable: the registry forgets the file,
			// so the batch result omits it and its entry is deleted.
			a.registry.replaceFile(path, nil)
		}
	}

	result := make(map[string]*types.FileInheritanceData)
	for _, path := range paths {
		if data := a.registry.fileData(path); data != nil {
			result[path] = data
		}
	}
	debug.LogAnalyzer("batch of %d files produced facts for %d\n", len(paths), len(result))
	return result, nil
}

// AnalyzeFile analyzes a single path for on-demand indexing. Unlike
// Analyze, a parse failure surfaces as an error (syntax-classified when
// applicable) and leaves the registry untouched, so the caller can
// apply its sticky-failure policy without losing prior facts.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (map[string]*types.FileInheritanceData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	facts, err := a.parsePath(path)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.registry.replaceFile(path, facts.Classes)

	result := make(map[string]*types.FileInheritanceData)
	if data := a.registry.fileData(path); data != nil {
		result[path] = data
	}
	return result, nil
}

// Forget drops a file from the registry, for explicit removals.
func (a *Analyzer) Forget(path string) {
	a.mu.Lock()
	a.registry.replaceFile(path, nil)
	a.mu.Unlock()
}

func (a *Analyzer) parsePath(path string) (*fileFacts, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewIndexError(errors.ErrorTypeFileNotFound, "stat", err).WithFile(path)
	}
	if info.Size() > a.maxFileSize {
		return nil, errors.NewIndexError(errors.ErrorTypeFileTooLarge, "read",
			fmt.Errorf("%d bytes exceeds limit %d", info.Size(), a.maxFileSize)).WithFile(path)
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIndexError(errors.ErrorTypeFileNotFound, "read", err).WithFile(path)
	}
	return extractFile(a.workspaceRoot, path, source)
}
