package render

import (
	"sync"
)

// Writer pushes composed key content to a Sink.
//
// Each physical key has its own single-slot mailbox drained by its own
// goroutine, so at most one write per key is in flight at a time while
// different keys proceed in parallel. A newer write for a key replaces
// an undelivered older one: only the latest state matters.
type Writer struct {
	sink     Sink
	geometry Geometry

	mu      sync.Mutex
	workers map[int]*keyWorker
	closed  bool

	// onError, if set, receives write failures. Failures never corrupt
	// graph state; the next reconciliation re-attempts the write.
	onError func(row, col int, err error)

	wg sync.WaitGroup
}

// keyWorker serializes writes for one physical key.
type keyWorker struct {
	mu         sync.Mutex
	cond       *sync.Cond
	pending    *keyWrite
	delivering bool
	stopped    bool
}

// keyWrite is one desired key state. A nil image means clear.
type keyWrite struct {
	img *KeyImage
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithErrorHandler sets the handler invoked on write failures.
func WithErrorHandler(fn func(row, col int, err error)) WriterOption {
	return func(w *Writer) {
		w.onError = fn
	}
}

// NewWriter creates a writer over the given sink.
func NewWriter(sink Sink, opts ...WriterOption) *Writer {
	w := &Writer{
		sink:     sink,
		geometry: sink.Geometry(),
		workers:  make(map[int]*keyWorker),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetKey queues img for the given key, replacing any undelivered write.
func (w *Writer) SetKey(row, col int, img KeyImage) {
	w.enqueue(row, col, &keyWrite{img: &img})
}

// ClearKey queues a blank for the given key.
func (w *Writer) ClearKey(row, col int) {
	w.enqueue(row, col, &keyWrite{})
}

// SetBrightness forwards a brightness change immediately; brightness is
// panel-wide and has no per-key ordering concern.
func (w *Writer) SetBrightness(level int) error {
	return w.sink.SetBrightness(level)
}

// Flush blocks until every write queued so far has been delivered to
// the sink.
func (w *Writer) Flush() {
	w.mu.Lock()
	workers := make([]*keyWorker, 0, len(w.workers))
	for _, worker := range w.workers {
		workers = append(workers, worker)
	}
	w.mu.Unlock()

	for _, worker := range workers {
		worker.wait()
	}
}

// Close stops all key workers after their pending writes drain.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	workers := make([]*keyWorker, 0, len(w.workers))
	for _, worker := range w.workers {
		workers = append(workers, worker)
	}
	w.mu.Unlock()

	for _, worker := range workers {
		worker.stop()
	}
	w.wg.Wait()
}

func (w *Writer) enqueue(row, col int, write *keyWrite) {
	if !w.geometry.Contains(row, col) {
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	index := w.geometry.Index(row, col)
	worker, ok := w.workers[index]
	if !ok {
		worker = newKeyWorker()
		w.workers[index] = worker
		w.wg.Add(1)
		go w.runWorker(worker, row, col)
	}
	w.mu.Unlock()

	worker.put(write)
}

// runWorker drains one key's mailbox until stopped.
func (w *Writer) runWorker(worker *keyWorker, row, col int) {
	defer w.wg.Done()
	for {
		write, ok := worker.take()
		if !ok {
			return
		}
		var err error
		if write.img == nil {
			err = w.sink.ClearKey(row, col)
		} else {
			err = w.sink.SetKey(row, col, *write.img)
		}
		if err != nil && w.onError != nil {
			w.onError(row, col, err)
		}
		worker.delivered()
	}
}

func newKeyWorker() *keyWorker {
	worker := &keyWorker{}
	worker.cond = sync.NewCond(&worker.mu)
	return worker
}

// put replaces the pending write with a newer one.
func (kw *keyWorker) put(write *keyWrite) {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	if kw.stopped {
		return
	}
	kw.pending = write
	kw.cond.Signal()
}

// take blocks until a write is pending or the worker is stopped.
// Returns false when stopped with nothing left to deliver.
func (kw *keyWorker) take() (*keyWrite, bool) {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	for kw.pending == nil && !kw.stopped {
		kw.cond.Wait()
	}
	if kw.pending != nil {
		write := kw.pending
		kw.pending = nil
		kw.delivering = true
		return write, true
	}
	return nil, false
}

// delivered marks the in-flight write complete and wakes waiters.
func (kw *keyWorker) delivered() {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	kw.delivering = false
	kw.cond.Broadcast()
}

// wait blocks until the mailbox is empty and nothing is in flight.
func (kw *keyWorker) wait() {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	for (kw.pending != nil || kw.delivering) && !kw.stopped {
		kw.cond.Wait()
	}
}

func (kw *keyWorker) stop() {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	kw.stopped = true
	kw.cond.Broadcast()
}
