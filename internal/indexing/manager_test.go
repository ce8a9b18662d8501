package indexing

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/ovi/internal/config"
	ovierrors "github.com/standardbeagle/ovi/internal/errors"
	"github.com/standardbeagle/ovi/internal/types"
)

// fakeAnalyzer returns canned per-file results and records calls.
type fakeAnalyzer struct {
	mu        sync.Mutex
	results   map[string]*types.FileInheritanceData
	errs      map[string]error
	calls     [][]string
	forgotten []string
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		results: make(map[string]*types.FileInheritanceData),
		errs:    make(map[string]error),
	}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, paths []string) (map[string]*types.FileInheritanceData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]string, len(paths))
	copy(batch, paths)
	f.calls = append(f.calls, batch)

	out := make(map[string]*types.FileInheritanceData)
	for _, p := range paths {
		if err, bad := f.errs[p]; bad {
			return nil, err
		}
		if data, ok := f.results[p]; ok {
			out[p] = data
		}
	}
	return out, nil
}

func (f *fakeAnalyzer) AnalyzeFile(ctx context.Context, path string) (map[string]*types.FileInheritanceData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, []string{path})
	if err, bad := f.errs[path]; bad {
		return nil, err
	}
	out := make(map[string]*types.FileInheritanceData)
	if data, ok := f.results[path]; ok {
		out[path] = data
	}
	return out, nil
}

func (f *fakeAnalyzer) Forget(path string) {
	f.mu.Lock()
	f.forgotten = append(f.forgotten, path)
	f.mu.Unlock()
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAnalyzer) forgottenPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.forgotten...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.Index.WatchMode = false
	cfg.Performance.DebounceMs = 20
	return cfg
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func sampleData(class string) *types.FileInheritanceData {
	return &types.FileInheritanceData{
		Classes: map[string]types.ClassInheritance{
			class: {FullName: class, BaseClasses: []string{"Base"}, Line: 1},
		},
	}
}

func TestManagerIndexWorkspace(t *testing.T) {
	cfg := testConfig(t)
	a := writeFile(t, cfg.Project.Root, "a.py", "class A(Base): pass\n")
	writeFile(t, cfg.Project.Root, "b.py", "x = 1\n")

	fa := newFakeAnalyzer()
	fa.results[a] = sampleData("A")

	m := NewManager(cfg, fa, nil)
	defer m.Dispose()

	require.NoError(t, m.IndexWorkspace(context.Background(), false))

	assert.True(t, m.Index().Contains(a))
	assert.Equal(t, 1, m.Index().Len())

	// Snapshot was written.
	_, err := os.Stat(cfg.Index.SnapshotPath)
	assert.NoError(t, err)
}

func TestManagerSkipsUnchangedFiles(t *testing.T) {
	cfg := testConfig(t)
	a := writeFile(t, cfg.Project.Root, "a.py", "class A(Base): pass\n")

	fa := newFakeAnalyzer()
	fa.results[a] = sampleData("A")

	m := NewManager(cfg, fa, nil)
	defer m.Dispose()

	require.NoError(t, m.IndexWorkspace(context.Background(), false))
	first := fa.callCount()
	require.Positive(t, first)

	// Unchanged content is skipped on the next pass.
	require.NoError(t, m.IndexWorkspace(context.Background(), false))
	assert.Equal(t, first, fa.callCount())

	// force re-analyzes everything.
	require.NoError(t, m.IndexWorkspace(context.Background(), true))
	assert.Greater(t, fa.callCount(), first)
}

func TestManagerBatchFailureDropsRequestedFiles(t *testing.T) {
	cfg := testConfig(t)
	a := writeFile(t, cfg.Project.Root, "a.py", "class A(Base): pass\n")

	fa := newFakeAnalyzer()
	fa.results[a] = sampleData("A")

	m := NewManager(cfg, fa, nil)
	defer m.Dispose()

	require.NoError(t, m.IndexWorkspace(context.Background(), false))
	require.True(t, m.Index().Contains(a))

	// A failing batch is equivalent to zero facts: entries for its
	// files are removed.
	fa.mu.Lock()
	fa.errs[a] = ovierrors.NewIndexError(ovierrors.ErrorTypeAnalysis, "parse", assert.AnError)
	fa.mu.Unlock()

	require.NoError(t, m.IndexWorkspace(context.Background(), true))
	assert.False(t, m.Index().Contains(a))
}

func TestManagerDeletedFileLeavesIndexOnNextScan(t *testing.T) {
	cfg := testConfig(t)
	a := writeFile(t, cfg.Project.Root, "a.py", "class A(Base): pass\n")

	fa := newFakeAnalyzer()
	fa.results[a] = sampleData("A")

	m := NewManager(cfg, fa, nil)
	defer m.Dispose()

	require.NoError(t, m.IndexWorkspace(context.Background(), false))
	require.True(t, m.Index().Contains(a))

	require.NoError(t, os.Remove(a))
	require.NoError(t, m.IndexWorkspace(context.Background(), false))
	assert.False(t, m.Index().Contains(a))

	// The analyzer is told to drop its cross-file state for the deleted
	// file so later analyses of other files stop reporting its classes.
	assert.Contains(t, fa.forgottenPaths(), a)
}

func TestManagerSkipsUnchangedNoFactFiles(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, cfg.Project.Root, "plain.py", "x = 1\n")

	fa := newFakeAnalyzer()
	m := NewManager(cfg, fa, nil)
	defer m.Dispose()

	require.NoError(t, m.IndexWorkspace(context.Background(), false))
	first := fa.callCount()
	require.Positive(t, first)

	// A file that analyzed clean but produced no facts is still skipped
	// while its content is unchanged.
	require.NoError(t, m.IndexWorkspace(context.Background(), false))
	assert.Equal(t, first, fa.callCount())
}

func TestManagerRetriesFailedBatchOnNextScan(t *testing.T) {
	cfg := testConfig(t)
	a := writeFile(t, cfg.Project.Root, "a.py", "class A(Base): pass\n")

	fa := newFakeAnalyzer()
	fa.errs[a] = ovierrors.NewIndexError(ovierrors.ErrorTypeAnalysis, "parse", assert.AnError)

	m := NewManager(cfg, fa, nil)
	defer m.Dispose()

	require.NoError(t, m.IndexWorkspace(context.Background(), false))
	require.False(t, m.Index().Contains(a))
	first := fa.callCount()

	// Files caught in a failed batch are not treated as analyzed: the
	// next scan retries them even though their content is unchanged.
	fa.mu.Lock()
	delete(fa.errs, a)
	fa.results[a] = sampleData("A")
	fa.mu.Unlock()

	require.NoError(t, m.IndexWorkspace(context.Background(), false))
	assert.Greater(t, fa.callCount(), first)
	assert.True(t, m.Index().Contains(a))
}

func TestManagerIndexFilesMergesScopedResults(t *testing.T) {
	cfg := testConfig(t)
	a := writeFile(t, cfg.Project.Root, "a.py", "class A(Base): pass\n")
	b := writeFile(t, cfg.Project.Root, "b.py", "class B(Base): pass\n")

	fa := newFakeAnalyzer()
	fa.results[a] = sampleData("A")
	fa.results[b] = sampleData("B")

	m := NewManager(cfg, fa, nil)
	defer m.Dispose()

	require.NoError(t, m.IndexWorkspace(context.Background(), false))
	require.True(t, m.Index().Contains(b))

	// Scoped indexing touches only the requested paths; other entries
	// survive even though they are absent from the result.
	require.NoError(t, m.IndexFiles(context.Background(), []string{a}))
	assert.True(t, m.Index().Contains(a))
	assert.True(t, m.Index().Contains(b))

	fa.mu.Lock()
	last := fa.calls[len(fa.calls)-1]
	fa.mu.Unlock()
	assert.Equal(t, []string{a}, last)
}

func TestManagerOnDemandIndexing(t *testing.T) {
	cfg := testConfig(t)
	a := writeFile(t, cfg.Project.Root, "a.py", "class A(Base): pass\n")

	fa := newFakeAnalyzer()
	fa.results[a] = sampleData("A")

	m := NewManager(cfg, fa, nil)
	defer m.Dispose()

	m.IndexFileOnDemand(a)
	waitFor(t, func() bool { return m.Index().Contains(a) })

	// Already-indexed files are not re-analyzed.
	before := fa.callCount()
	m.IndexFileOnDemand(a)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, fa.callCount())
}

func TestManagerOnDemandStickySyntaxFailure(t *testing.T) {
	cfg := testConfig(t)
	a := writeFile(t, cfg.Project.Root, "a.py", "class A(\n")

	fa := newFakeAnalyzer()
	fa.errs[a] = ovierrors.NewIndexError(ovierrors.ErrorTypeSyntax, "parse", assert.AnError).WithFile(a)

	m := NewManager(cfg, fa, nil)
	defer m.Dispose()

	m.IndexFileOnDemand(a)
	waitFor(t, func() bool { return fa.callCount() == 1 })

	// The syntax failure is sticky: further requests never reach the
	// analyzer.
	m.IndexFileOnDemand(a)
	m.IndexFileOnDemand(a)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fa.callCount())

	// A successful batch analysis of the same path clears the latch.
	fa.mu.Lock()
	delete(fa.errs, a)
	fa.results[a] = sampleData("A")
	fa.mu.Unlock()
	require.NoError(t, m.IndexWorkspace(context.Background(), true))
	require.True(t, m.Index().Contains(a))
}

func TestManagerOnDemandIgnoresOutsidePaths(t *testing.T) {
	cfg := testConfig(t)
	outside := writeFile(t, t.TempDir(), "elsewhere.py", "class X: pass\n")

	fa := newFakeAnalyzer()
	m := NewManager(cfg, fa, nil)
	defer m.Dispose()

	m.IndexFileOnDemand(outside)
	m.IndexFileOnDemand(filepath.Join(cfg.Project.Root, "missing.py"))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fa.callCount())
}

func TestManagerNotifiesOnIndexUpdate(t *testing.T) {
	cfg := testConfig(t)
	a := writeFile(t, cfg.Project.Root, "a.py", "class A(Base): pass\n")

	fa := newFakeAnalyzer()
	fa.results[a] = sampleData("A")

	m := NewManager(cfg, fa, nil)
	defer m.Dispose()

	var mu sync.Mutex
	updates := 0
	m.OnIndexUpdated(func() {
		mu.Lock()
		updates++
		mu.Unlock()
	})

	require.NoError(t, m.IndexWorkspace(context.Background(), false))

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, updates)
}

func TestManagerStartLoadsSnapshot(t *testing.T) {
	cfg := testConfig(t)
	a := writeFile(t, cfg.Project.Root, "a.py", "class A(Base): pass\n")

	fa := newFakeAnalyzer()
	fa.results[a] = sampleData("A")

	m := NewManager(cfg, fa, nil)
	require.NoError(t, m.IndexWorkspace(context.Background(), false))
	m.Dispose()

	// A fresh manager picks up the snapshot without re-analyzing.
	fa2 := newFakeAnalyzer()
	m2 := NewManager(cfg, fa2, nil)
	defer m2.Dispose()
	require.NoError(t, m2.Start(context.Background()))

	assert.True(t, m2.Index().Contains(a))
	assert.Zero(t, fa2.callCount())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
