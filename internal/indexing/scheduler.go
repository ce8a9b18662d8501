package indexing

import (
	"log"
	"sync"
	"time"

	"github.com/standardbeagle/ovi/internal/debug"
)

// BatchFunc processes one batch of file paths. Errors are reported but
// never propagate: a failing batch must not stall the queue.
type BatchFunc func(paths []string) error

// Scheduler drains a FIFO queue of batches into the batch processor
// with a bounded number of batches in flight. Completion order is not
// guaranteed; a later small batch may finish before an earlier large
// one. This is safe because a file is only ever a member of one
// in-flight batch at a time: the coalescer deduplicates adds and each
// batch owns its file list exclusively.
type Scheduler struct {
	mu            sync.Mutex
	queue         [][]string
	active        int
	maxConcurrent int
	disposed      bool

	process  BatchFunc
	onChange func()

	// wg tracks in-flight batches so tests and shutdown can wait for
	// stragglers. Dispose does not cancel them; late results still apply.
	wg sync.WaitGroup
}

// NewScheduler creates a Scheduler dispatching to process.
func NewScheduler(maxConcurrent int, process BatchFunc) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Scheduler{
		maxConcurrent: maxConcurrent,
		process:       process,
	}
}

// setOnChange registers a hook invoked after every queue/active state
// change. Used for progress reporting only.
func (s *Scheduler) setOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Enqueue appends one batch and attempts to drain.
func (s *Scheduler) Enqueue(batch []string) {
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		debug.LogIndexing("scheduler disposed, dropping batch of %d files\n", len(batch))
		return
	}
	s.queue = append(s.queue, batch)
	s.mu.Unlock()

	s.notifyChange()
	s.drain()
}

// drain starts queued batches while capacity allows. It is called on
// enqueue and, unconditionally, after every batch completion; that
// re-entry is the sole mechanism that keeps the pipeline moving.
func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if s.active >= s.maxConcurrent || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		batch := s.queue[0]
		s.queue = s.queue[1:]
		s.active++
		s.wg.Add(1)
		s.mu.Unlock()

		debug.LogIndexing("dispatching batch of %d files\n", len(batch))
		go s.runBatch(batch)
	}
}

func (s *Scheduler) runBatch(batch []string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
		s.notifyChange()
		s.drain()
	}()

	if err := s.process(batch); err != nil {
		log.Printf("batch of %d files failed: %v", len(batch), err)
	}
}

// QueueState returns the queued batch count and in-flight batch count.
func (s *Scheduler) QueueState() (queued, active int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), s.active
}

// ActiveCount returns the number of batches in flight.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// QueueLen returns the number of batches waiting.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Dispose clears the queue and stops accepting batches. In-flight
// batches are not aborted; their results are still applied when they
// arrive.
func (s *Scheduler) Dispose() {
	s.mu.Lock()
	s.disposed = true
	s.queue = nil
	s.mu.Unlock()
	s.notifyChange()
}

// Wait blocks until all in-flight batches have completed. Queued
// batches continue to be dispatched as capacity frees, so after Wait
// returns with an empty queue the pipeline is idle.
func (s *Scheduler) Wait() {
	for {
		s.wg.Wait()
		s.mu.Lock()
		idle := len(s.queue) == 0 && s.active == 0
		s.mu.Unlock()
		if idle {
			return
		}
		// A completion has decremented active but not yet re-drained.
		time.Sleep(time.Millisecond)
	}
}

func (s *Scheduler) notifyChange() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
