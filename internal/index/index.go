// Package index holds the authoritative mapping from file path to
// inheritance relationship facts, with the query surface that resolves
// "what does this method override / what overrides it" requests.
package index

import (
	"sync"

	"github.com/standardbeagle/ovi/internal/debug"
	"github.com/standardbeagle/ovi/internal/types"
)

// Index maps absolute file paths to their relationship facts. A path
// appears at most once; a file whose analysis yields no facts is removed
// rather than stored empty.
//
// Mutations happen only from analysis-completion handlers, but queries
// can arrive from any goroutine, so the map is guarded by a RWMutex. The
// lock is never held across an analyzer invocation.
type Index struct {
	mu    sync.RWMutex
	files map[string]*types.FileInheritanceData

	// onMiss, when set, is invoked (outside the lock) with a file path
	// that a query asked about but the index does not contain. The
	// manager uses it to schedule fire-and-forget on-demand analysis.
	onMiss func(path string)
}

// New creates an empty index.
func New() *Index {
	return &Index{files: make(map[string]*types.FileInheritanceData)}
}

// SetOnMiss registers the callback fired when a query references an
// unindexed file. Informational: the query never blocks on it.
func (ix *Index) SetOnMiss(fn func(path string)) {
	ix.mu.Lock()
	ix.onMiss = fn
	ix.mu.Unlock()
}

// Replace installs data as the complete ground truth for path. Empty
// data removes the entry: analyzed-and-found-nothing and never-analyzed
// are the same state.
func (ix *Index) Replace(path string, data *types.FileInheritanceData) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if data.Empty() {
		delete(ix.files, path)
		return
	}
	ix.files[path] = data
}

// Merge folds partial new information about path into an existing entry:
// method relationships concatenate, incoming class entries win on key
// collision. Used only when indexing a restricted scope where the same
// file may be revisited; batch processing uses Replace semantics.
func (ix *Index) Merge(path string, data *types.FileInheritanceData) {
	if data.Empty() {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	existing, ok := ix.files[path]
	if !ok {
		ix.files[path] = data
		return
	}

	merged := &types.FileInheritanceData{
		Methods: append(append([]types.MethodRelationship(nil), existing.Methods...), data.Methods...),
		Classes: make(map[string]types.ClassInheritance, len(existing.Classes)+len(data.Classes)),
	}
	for name, ci := range existing.Classes {
		merged.Classes[name] = ci
	}
	for name, ci := range data.Classes {
		merged.Classes[name] = ci
	}
	ix.files[path] = merged
}

// Remove deletes the entry for path, if any.
func (ix *Index) Remove(path string) {
	ix.mu.Lock()
	delete(ix.files, path)
	ix.mu.Unlock()
}

// ApplyBatch applies an analyzer result for the requested paths with
// whole-file-replace semantics: each path present in result is replaced,
// each requested path absent from result was analyzed and found empty,
// so its entry is deleted.
func (ix *Index) ApplyBatch(requested []string, result map[string]*types.FileInheritanceData) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for path, data := range result {
		if data.Empty() {
			delete(ix.files, path)
			continue
		}
		ix.files[path] = data
	}
	for _, path := range requested {
		if _, ok := result[path]; !ok {
			delete(ix.files, path)
		}
	}
	debug.LogIndexing("applied batch of %d files, index now has %d entries\n", len(requested), len(ix.files))
}

// Get returns the record for path, or nil.
func (ix *Index) Get(path string) *types.FileInheritanceData {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.files[path]
}

// Contains reports whether path has an entry.
func (ix *Index) Contains(path string) bool {
	ix.mu.RLock()
	_, ok := ix.files[path]
	ix.mu.RUnlock()
	return ok
}

// Len returns the number of indexed files.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.files)
}

// Files returns a copy of the indexed file paths.
func (ix *Index) Files() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	paths := make([]string, 0, len(ix.files))
	for p := range ix.files {
		paths = append(paths, p)
	}
	return paths
}

// Clear drops every entry.
func (ix *Index) Clear() {
	ix.mu.Lock()
	ix.files = make(map[string]*types.FileInheritanceData)
	ix.mu.Unlock()
}

// Export returns a deep-enough copy of the mapping for serialization.
// Entries are never mutated in place after insertion, so sharing the
// FileInheritanceData values is safe.
func (ix *Index) Export() map[string]*types.FileInheritanceData {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]*types.FileInheritanceData, len(ix.files))
	for p, d := range ix.files {
		out[p] = d
	}
	return out
}

// Import replaces the whole mapping, dropping empty records.
func (ix *Index) Import(files map[string]*types.FileInheritanceData) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.files = make(map[string]*types.FileInheritanceData, len(files))
	for p, d := range files {
		if !d.Empty() {
			ix.files[p] = d
		}
	}
}
