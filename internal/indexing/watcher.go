package indexing

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/ovi/internal/debug"
)

// FileWatcher monitors the workspace for changes and forwards relevant
// file events into the change coalescer via the manager's callbacks.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	scanner *Scanner
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	onFileChanged func(path string)
	onFileCreated func(path string)
}

// NewFileWatcher creates a watcher filtered by scanner's rules.
func NewFileWatcher(scanner *Scanner) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &FileWatcher{
		watcher: watcher,
		scanner: scanner,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// SetCallbacks sets the handlers for file events. Deletions are routed
// through onFileChanged: re-analysis of a missing file yields no facts,
// which removes it from the index.
func (fw *FileWatcher) SetCallbacks(onFileChanged, onFileCreated func(path string)) {
	fw.onFileChanged = onFileChanged
	fw.onFileCreated = onFileCreated
}

// Start begins watching root and all eligible subdirectories.
func (fw *FileWatcher) Start(root string) error {
	if err := fw.addWatches(root); err != nil {
		return fmt.Errorf("failed to add watches starting from %s: %w", root, err)
	}

	fw.wg.Add(1)
	go fw.processEvents()

	debug.LogIndexing("file watcher started for %s\n", root)
	return nil
}

// Stop shuts the watcher down and waits for the event goroutine.
func (fw *FileWatcher) Stop() error {
	fw.cancel()
	if err := fw.watcher.Close(); err != nil {
		log.Printf("error closing fsnotify watcher: %v", err)
	}
	fw.wg.Wait()
	return nil
}

// addWatches recursively adds watches to all relevant directories,
// guarding against symlink cycles.
func (fw *FileWatcher) addWatches(root string) error {
	visitedDirs := make(map[string]bool)

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}

		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if visitedDirs[realPath] {
			return filepath.SkipDir
		}
		visitedDirs[realPath] = true

		if path != root && fw.scanner.shouldSkipDir(path) {
			return filepath.SkipDir
		}

		if err := fw.watcher.Add(path); err != nil {
			log.Printf("warning: failed to add watch for %s: %v", path, err)
		}
		return nil
	})
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("file watcher error: %v", err)
		}
	}
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	debug.LogIndexing("watcher event %v for %s\n", event.Op, path)

	info, err := os.Stat(path)
	if err != nil {
		// File gone. Route removals through the change path so the
		// batch result's delete-when-absent semantics clean it up.
		if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			if fw.onFileChanged != nil && fw.scanner.ShouldProcess(path, nil) {
				fw.onFileChanged(path)
			}
		}
		return
	}

	if info.IsDir() {
		// New directories need their own watch.
		if event.Op&fsnotify.Create != 0 && !fw.scanner.shouldSkipDir(path) {
			if err := fw.watcher.Add(path); err != nil {
				log.Printf("warning: failed to add watch for new directory %s: %v", path, err)
			}
		}
		return
	}

	if !fw.scanner.ShouldProcess(path, info) {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		if fw.onFileCreated != nil {
			fw.onFileCreated(path)
		}
	case event.Op&(fsnotify.Write|fsnotify.Rename) != 0:
		if fw.onFileChanged != nil {
			fw.onFileChanged(path)
		}
	}
}
