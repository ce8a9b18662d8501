package indexing

import (
	"context"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/standardbeagle/ovi/internal/config"
	"github.com/standardbeagle/ovi/internal/debug"
	ovierrors "github.com/standardbeagle/ovi/internal/errors"
	"github.com/standardbeagle/ovi/internal/index"
	"github.com/standardbeagle/ovi/internal/types"
)

// BatchAnalyzer is the external analysis collaborator: paths in, facts
// out. A batch-level error is equivalent to zero facts for every path
// in the batch. AnalyzeFile serves the on-demand path and surfaces
// per-file errors so failures can be classified.
type BatchAnalyzer interface {
	Analyze(ctx context.Context, paths []string) (map[string]*types.FileInheritanceData, error)
	AnalyzeFile(ctx context.Context, path string) (map[string]*types.FileInheritanceData, error)
}

// fileForgetter is an optional BatchAnalyzer capability: analyzers that
// keep cumulative cross-file state implement it so deleted files stop
// contributing to later results.
type fileForgetter interface {
	Forget(path string)
}

// Manager orchestrates full-workspace indexing, on-demand single-file
// indexing, snapshot persistence, and wiring of file-change events into
// the change coalescer.
type Manager struct {
	cfg      *config.Config
	analyzer BatchAnalyzer
	index    *index.Index
	scanner  *Scanner

	coalescer *Coalescer
	scheduler *Scheduler
	watcher   *FileWatcher

	// hashes holds the last seen content hash per scanned file, and
	// analyzed records which paths completed analysis, successful or
	// empty. A file is skipped between full reindexes only when its hash
	// is unchanged and a prior analysis actually finished; files caught
	// in a failed batch stay unmarked so the next scan retries them.
	hashMu   sync.Mutex
	hashes   map[string]uint64
	analyzed map[string]struct{}

	// inFlight guards against duplicate concurrent on-demand work; it
	// is the only explicit mutual exclusion in the on-demand path.
	inFlightMu sync.Mutex
	inFlight   map[string]struct{}

	// failedSyntax is the sticky syntax-failure set: paths here are
	// never retried automatically, cleared only by a later successful
	// analysis of the same path.
	failedSyntax map[string]struct{}

	subMu       sync.Mutex
	subscribers []func()

	saveMu   sync.Mutex
	disposed bool
}

// NewManager wires the pipeline together. progress may be nil.
func NewManager(cfg *config.Config, batchAnalyzer BatchAnalyzer, progress Reporter) *Manager {
	m := &Manager{
		cfg:          cfg,
		analyzer:     batchAnalyzer,
		index:        index.New(),
		scanner:      NewScanner(cfg),
		hashes:       make(map[string]uint64),
		analyzed:     make(map[string]struct{}),
		inFlight:     make(map[string]struct{}),
		failedSyntax: make(map[string]struct{}),
	}
	m.scheduler = NewScheduler(cfg.Performance.MaxConcurrent, m.processBatch)
	m.coalescer = NewCoalescer(m.scheduler,
		time.Duration(cfg.Performance.DebounceMs)*time.Millisecond,
		cfg.Performance.BatchSize, progress)
	m.index.SetOnMiss(m.IndexFileOnDemand)
	return m
}

// Index exposes the underlying relationship index for the query surface.
func (m *Manager) Index() *index.Index {
	return m.index
}

// Start loads the snapshot if one exists (any load failure falls back
// to a full re-index) and begins watching the workspace when enabled.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.index.Load(m.cfg.Index.SnapshotPath); err != nil {
		debug.LogIndexing("no usable snapshot (%v), indexing workspace\n", err)
		if err := m.IndexWorkspace(ctx, false); err != nil {
			return err
		}
	} else if m.index.Len() == 0 {
		if err := m.IndexWorkspace(ctx, false); err != nil {
			return err
		}
	}

	if m.cfg.Index.WatchMode {
		watcher, err := NewFileWatcher(m.scanner)
		if err != nil {
			return err
		}
		watcher.SetCallbacks(m.OnFileChanged, m.OnFileCreated)
		if err := watcher.Start(m.cfg.Project.Root); err != nil {
			return err
		}
		m.watcher = watcher
	}
	return nil
}

// OnFileChanged routes a change event into the coalescer.
func (m *Manager) OnFileChanged(path string) {
	m.coalescer.AddFile(path)
}

// OnFileCreated routes a creation event into the coalescer.
func (m *Manager) OnFileCreated(path string) {
	m.coalescer.AddFile(path)
}

// IndexWorkspace scans the workspace and (re)indexes every Python file
// through the batch pipeline, waiting for completion. With force false,
// files whose content hash is unchanged since the last scan keep their
// existing entries. Entries for files that vanished from the workspace
// are dropped.
func (m *Manager) IndexWorkspace(ctx context.Context, force bool) error {
	start := time.Now()
	files, err := m.scanner.Scan(ctx)
	if err != nil {
		return ovierrors.NewIndexError(ovierrors.ErrorTypeAnalysis, "scan", err)
	}

	scanned := make(map[string]struct{}, len(files))
	var toAnalyze []string
	m.hashMu.Lock()
	for _, path := range files {
		scanned[path] = struct{}{}
		hash := HashFile(path)
		if !force && hash != 0 && m.hashes[path] == hash {
			if _, done := m.analyzed[path]; done {
				continue
			}
		}
		m.hashes[path] = hash
		toAnalyze = append(toAnalyze, path)
	}
	// Forget change-tracking state for files that no longer exist.
	for path := range m.hashes {
		if _, ok := scanned[path]; !ok {
			delete(m.hashes, path)
			delete(m.analyzed, path)
			m.forgetFile(path)
		}
	}
	m.hashMu.Unlock()

	// Drop entries for files that vanished while we were not watching.
	for _, path := range m.index.Files() {
		if _, ok := scanned[path]; !ok && strings.HasPrefix(path, m.cfg.Project.Root) {
			m.index.Remove(path)
			m.forgetFile(path)
		}
	}

	batchSize := m.cfg.Performance.BatchSize
	for i := 0; i < len(toAnalyze); i += batchSize {
		end := i + batchSize
		if end > len(toAnalyze) {
			end = len(toAnalyze)
		}
		m.scheduler.Enqueue(toAnalyze[i:end])
	}
	m.scheduler.Wait()

	if err := m.saveSnapshot(); err != nil {
		log.Printf("failed to save snapshot: %v", err)
	}
	m.notifyUpdated()

	log.Printf("scanned %d python files, found inheritance in %d files (%.1fs)",
		len(files), m.index.Len(), time.Since(start).Seconds())
	return nil
}

// IndexFiles analyzes only the given paths and merges the results into
// the index, leaving every other entry alone. This is the restricted
// scope path (a host editor's open files, explicit paths on the command
// line): results may be partial, so merge semantics apply instead of
// the batch pipeline's replace-and-delete.
func (m *Manager) IndexFiles(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	result, err := m.analyzer.Analyze(ctx, paths)
	if err != nil {
		return ovierrors.NewIndexError(ovierrors.ErrorTypeAnalysis, "scoped index", err)
	}
	m.clearStickyFailures(paths)

	for path, data := range result {
		m.index.Merge(path, data)
	}

	if err := m.saveSnapshot(); err != nil {
		log.Printf("failed to save snapshot: %v", err)
	}
	m.notifyUpdated()
	return nil
}

// Refresh clears change-tracking state and forces a full re-index.
func (m *Manager) Refresh(ctx context.Context) error {
	m.hashMu.Lock()
	m.hashes = make(map[string]uint64)
	m.analyzed = make(map[string]struct{})
	m.hashMu.Unlock()
	return m.IndexWorkspace(ctx, true)
}

// forgetFile clears analyzer-side state for a deleted path, when the
// analyzer keeps any.
func (m *Manager) forgetFile(path string) {
	if f, ok := m.analyzer.(fileForgetter); ok {
		f.Forget(path)
	}
}

func (m *Manager) markAnalyzed(paths []string, done bool) {
	m.hashMu.Lock()
	for _, path := range paths {
		if done {
			m.analyzed[path] = struct{}{}
		} else {
			delete(m.analyzed, path)
		}
	}
	m.hashMu.Unlock()
}

// processBatch is the scheduler's batch processor. Analyzer failure is
// equivalent to zero facts for every path in the batch; it is reported
// here and never propagates further.
func (m *Manager) processBatch(paths []string) error {
	result, err := m.analyzer.Analyze(context.Background(), paths)
	if err != nil {
		log.Printf("batch analysis failed for %d files: %v", len(paths), err)
		result = map[string]*types.FileInheritanceData{}
		m.markAnalyzed(paths, false)
	} else {
		m.clearStickyFailures(paths)
		m.markAnalyzed(paths, true)
	}

	m.index.ApplyBatch(paths, result)

	if err := m.saveSnapshot(); err != nil {
		log.Printf("failed to save snapshot: %v", err)
	}
	m.notifyUpdated()
	return nil
}

// IndexFileOnDemand schedules best-effort analysis of a single file,
// fire-and-forget: the result is observed only by later queries. Guarded
// by three short-circuits (already indexed, already in flight, sticky
// syntax failure) and silently ignores paths outside the workspace or
// missing from disk.
func (m *Manager) IndexFileOnDemand(path string) {
	if m.index.Contains(path) {
		return
	}

	m.inFlightMu.Lock()
	if m.disposed {
		m.inFlightMu.Unlock()
		return
	}
	if _, sticky := m.failedSyntax[path]; sticky {
		m.inFlightMu.Unlock()
		debug.LogIndexing("skipping on-demand index of %s: previous syntax failure\n", path)
		return
	}
	if _, busy := m.inFlight[path]; busy {
		m.inFlightMu.Unlock()
		return
	}
	m.inFlight[path] = struct{}{}
	m.inFlightMu.Unlock()

	go m.indexFile(path)
}

func (m *Manager) indexFile(path string) {
	defer func() {
		m.inFlightMu.Lock()
		delete(m.inFlight, path)
		m.inFlightMu.Unlock()
	}()

	if !strings.HasPrefix(path, m.cfg.Project.Root) {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}

	result, err := m.analyzer.AnalyzeFile(context.Background(), path)
	if err != nil {
		if ovierrors.IsSyntaxError(err) {
			m.inFlightMu.Lock()
			m.failedSyntax[path] = struct{}{}
			m.inFlightMu.Unlock()
		}
		debug.LogIndexing("on-demand index of %s failed: %v\n", path, err)
		return
	}

	// Whole-file replace: present in the result means replace, absent
	// means the file was analyzed and found empty.
	if data, ok := result[path]; ok {
		m.index.Replace(path, data)
	} else {
		m.index.Remove(path)
	}
	m.clearStickyFailures([]string{path})
	m.markAnalyzed([]string{path}, true)

	if err := m.saveSnapshot(); err != nil {
		log.Printf("failed to save snapshot: %v", err)
	}
	m.notifyUpdated()
}

func (m *Manager) clearStickyFailures(paths []string) {
	m.inFlightMu.Lock()
	for _, path := range paths {
		delete(m.failedSyntax, path)
	}
	m.inFlightMu.Unlock()
}

// GetRelationshipsForMethod answers what a method overrides and what
// overrides it; see the index package for the resolution strategies.
func (m *Manager) GetRelationshipsForMethod(filePath, className, methodName string, line int) *types.MethodRelationship {
	return m.index.RelationshipsForMethod(filePath, className, methodName, line)
}

// GetClassInheritance answers a class's base/sub classes. A positive
// line disambiguates same-named classes within filePath.
func (m *Manager) GetClassInheritance(filePath, className string, line int) *types.ClassInheritance {
	return m.index.ClassInheritanceFor(filePath, className, line)
}

// FindClassDefinitionSync locates a class definition without I/O.
func (m *Manager) FindClassDefinitionSync(className string) (string, int, bool) {
	return m.index.FindClassDefinitionSync(className)
}

// FindClassDefinition locates a class definition, reading source files
// as a last resort.
func (m *Manager) FindClassDefinition(className string) (string, int, bool) {
	return m.index.FindClassDefinition(className)
}

// OnIndexUpdated subscribes to the no-payload signal fired after every
// successful index mutation.
func (m *Manager) OnIndexUpdated(fn func()) {
	m.subMu.Lock()
	m.subscribers = append(m.subscribers, fn)
	m.subMu.Unlock()
}

func (m *Manager) notifyUpdated() {
	m.subMu.Lock()
	subs := make([]func(), len(m.subscribers))
	copy(subs, m.subscribers)
	m.subMu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (m *Manager) saveSnapshot() error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	return m.index.Save(m.cfg.Index.SnapshotPath, m.cfg.Project.Root)
}

// PendingCount exposes the coalescer's pending file count.
func (m *Manager) PendingCount() int {
	return m.coalescer.PendingCount()
}

// QueueState exposes the scheduler's queued and active batch counts.
func (m *Manager) QueueState() (queued, active int) {
	return m.scheduler.QueueState()
}

// FlushPending forces an immediate coalescer flush, for manual refresh
// commands and tests.
func (m *Manager) FlushPending() {
	m.coalescer.Flush()
}

// WaitIdle blocks until no batches are queued or in flight.
func (m *Manager) WaitIdle() {
	m.scheduler.Wait()
}

// Dispose stops accepting new work and clears pending state. In-flight
// analyzer invocations are not aborted; their results still apply when
// they arrive.
func (m *Manager) Dispose() {
	m.inFlightMu.Lock()
	m.disposed = true
	m.inFlightMu.Unlock()

	if m.watcher != nil {
		m.watcher.Stop()
	}
	m.coalescer.Dispose()
	m.scheduler.Dispose()
}
