package indexing

import (
	"sync"
	"time"

	"github.com/standardbeagle/ovi/internal/debug"
)

// Coalescer accepts arbitrary-rate file-change notifications,
// deduplicates them by path, and after a quiet period cuts the
// accumulated set into fixed-size batches handed to the scheduler.
//
// Every AddFile call restarts the single debounce timer, so only the
// most recent call's timer fires; a burst of editor events collapses
// into one flush.
type Coalescer struct {
	mu        sync.Mutex
	pending   []string
	member    map[string]struct{}
	timer     *time.Timer
	disposed  bool
	debounce  time.Duration
	batchSize int

	scheduler *Scheduler
	progress  Reporter
}

// NewCoalescer creates a Coalescer that flushes into scheduler.
// progress may be nil.
func NewCoalescer(scheduler *Scheduler, debounce time.Duration, batchSize int, progress Reporter) *Coalescer {
	if debounce <= 0 {
		debounce = 3000 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if progress == nil {
		progress = nopReporter{}
	}
	c := &Coalescer{
		member:    make(map[string]struct{}),
		debounce:  debounce,
		batchSize: batchSize,
		scheduler: scheduler,
		progress:  progress,
	}
	// Batch completions also change observable state, so the scheduler
	// routes its notifications through the same report path.
	scheduler.setOnChange(c.report)
	return c
}

// AddFile marks path dirty. Repeated calls for the same path before a
// flush are idempotent. Calls after Dispose are no-ops.
func (c *Coalescer) AddFile(path string) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		debug.LogIndexing("coalescer disposed, dropping %s\n", path)
		return
	}
	if _, dup := c.member[path]; !dup {
		c.member[path] = struct{}{}
		c.pending = append(c.pending, path)
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, c.flush)
	pending := len(c.pending)
	c.mu.Unlock()

	debug.LogIndexing("file %s marked dirty (pending: %d)\n", path, pending)
	c.report()
}

// flush takes the entire pending set, partitions it into consecutive
// chunks of at most batchSize paths preserving accumulation order, and
// enqueues each chunk as one batch.
func (c *Coalescer) flush() {
	c.mu.Lock()
	files := c.pending
	c.pending = nil
	c.member = make(map[string]struct{})
	c.mu.Unlock()

	if len(files) == 0 {
		return
	}

	debug.LogIndexing("flushing %d files into batches of %d\n", len(files), c.batchSize)
	for start := 0; start < len(files); start += c.batchSize {
		end := start + c.batchSize
		if end > len(files) {
			end = len(files)
		}
		c.scheduler.Enqueue(files[start:end])
	}
	c.report()
}

// Flush triggers an immediate flush without waiting for the debounce.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
	c.flush()
}

// PendingCount returns the number of files awaiting a flush.
func (c *Coalescer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Dispose stops accepting files and clears pending state. Batches
// already handed to the scheduler are unaffected.
func (c *Coalescer) Dispose() {
	c.mu.Lock()
	c.disposed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.pending = nil
	c.member = make(map[string]struct{})
	c.mu.Unlock()
	c.report()
}

// report publishes the current pending/queued/active counts to the
// progress observer.
func (c *Coalescer) report() {
	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()
	queued, active := c.scheduler.QueueState()
	c.progress.Report(pending, queued, active)
}
