package indexing

// Reporter receives pipeline state after every change: files pending in
// the coalescer, batches waiting in the queue, batches in flight.
// Informational only: reports must never influence scheduling.
type Reporter interface {
	Report(pending, queued, active int)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(pending, queued, active int)

func (f ReporterFunc) Report(pending, queued, active int) {
	f(pending, queued, active)
}

// nopReporter is used when no observer is wired.
type nopReporter struct{}

func (nopReporter) Report(pending, queued, active int) {}
