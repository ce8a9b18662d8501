package indexing

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRespectsConcurrencyLimit(t *testing.T) {
	const maxConcurrent = 3

	var active, peak int32
	process := func(paths []string) error {
		cur := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	}

	s := NewScheduler(maxConcurrent, process)
	for i := 0; i < 12; i++ {
		s.Enqueue([]string{fmt.Sprintf("/ws/f%d.py", i)})
	}
	s.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(maxConcurrent))
	queued, inFlight := s.QueueState()
	assert.Zero(t, queued)
	assert.Zero(t, inFlight)
}

func TestSchedulerFailingBatchDoesNotStallQueue(t *testing.T) {
	var mu sync.Mutex
	var processed []string
	process := func(paths []string) error {
		mu.Lock()
		processed = append(processed, paths...)
		mu.Unlock()
		if paths[0] == "/ws/bad.py" {
			return errors.New("boom")
		}
		return nil
	}

	s := NewScheduler(1, process)
	s.Enqueue([]string{"/ws/bad.py"})
	s.Enqueue([]string{"/ws/good.py"})
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/ws/bad.py", "/ws/good.py"}, processed)
}

func TestSchedulerDispatchesFIFO(t *testing.T) {
	var mu sync.Mutex
	var order []string
	process := func(paths []string) error {
		mu.Lock()
		order = append(order, paths[0])
		mu.Unlock()
		return nil
	}

	// With one slot, dispatch order is completion order.
	s := NewScheduler(1, process)
	for i := 0; i < 5; i++ {
		s.Enqueue([]string{fmt.Sprintf("/ws/f%d.py", i)})
	}
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/ws/f0.py", "/ws/f1.py", "/ws/f2.py", "/ws/f3.py", "/ws/f4.py"}, order)
}

func TestSchedulerDisposeDropsQueueKeepsInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var completed int32
	process := func(paths []string) error {
		close(started)
		<-release
		atomic.AddInt32(&completed, 1)
		return nil
	}

	s := NewScheduler(1, process)
	s.Enqueue([]string{"/ws/a.py"})
	<-started
	s.Enqueue([]string{"/ws/b.py"})

	s.Dispose()
	assert.Equal(t, 0, s.QueueLen())

	// Nothing new is accepted after Dispose.
	s.Enqueue([]string{"/ws/c.py"})
	assert.Equal(t, 0, s.QueueLen())

	// The in-flight batch still runs to completion.
	close(release)
	s.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&completed))
}

func TestSchedulerEmptyBatchIgnored(t *testing.T) {
	var calls int32
	s := NewScheduler(2, func(paths []string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	s.Enqueue(nil)
	s.Enqueue([]string{})
	s.Wait()

	assert.Zero(t, atomic.LoadInt32(&calls))
}
