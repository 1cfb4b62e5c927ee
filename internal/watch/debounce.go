package watch

import (
	"sync"
	"time"
)

// debouncer coalesces rapid events for the same path before delivery.
//
// Coalescing rules:
//   - created + modified => created
//   - modified + modified => modified (latest time)
//   - anything + deleted => deleted
//   - deleted + created => created (replaced in place)
//
// Flushes happen in first-arrival order so that events affecting
// different names in the same directory keep their relative order.
type debouncer struct {
	mu sync.Mutex

	delay   time.Duration
	emit    func(Event)
	pending map[string]*pendingEvent
	order   []string

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// pendingEvent tracks a coalesced event awaiting stability.
type pendingEvent struct {
	event   Event
	lastSet time.Time
}

func newDebouncer(delay time.Duration, emit func(Event)) *debouncer {
	d := &debouncer{
		delay:   delay,
		emit:    emit,
		pending: make(map[string]*pendingEvent),
		ticker:  time.NewTicker(delay),
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.flushLoop()
	return d
}

// add queues an event, coalescing with any pending event for the path.
func (d *debouncer) add(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := event.Path()
	existing, ok := d.pending[path]
	if !ok {
		d.pending[path] = &pendingEvent{event: event, lastSet: time.Now()}
		d.order = append(d.order, path)
		return
	}

	merged := coalesce(existing.event, event)
	existing.event = merged
	existing.lastSet = time.Now()
}

// coalesce merges a new event into a pending one for the same path.
func coalesce(pending, next Event) Event {
	switch {
	case next.Op.Has(OpDeleted):
		return next
	case next.Op.Has(OpCreated):
		return next
	case next.Op.Has(OpModified):
		if pending.Op.Has(OpCreated) {
			// A write right after creation is still a creation.
			pending.Time = next.Time
			return pending
		}
		return next
	default:
		return next
	}
}

// stop flushes everything still pending and halts the loop.
func (d *debouncer) stop() {
	close(d.done)
	d.wg.Wait()
	d.ticker.Stop()
	d.flush(true)
}

func (d *debouncer) flushLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case <-d.ticker.C:
			d.flush(false)
		}
	}
}

// flush emits pending events that have been stable for the delay window,
// in first-arrival order. force emits everything regardless of age.
func (d *debouncer) flush(force bool) {
	d.mu.Lock()
	threshold := time.Now().Add(-d.delay)

	var toEmit []Event
	remaining := d.order[:0]
	for _, path := range d.order {
		entry, ok := d.pending[path]
		if !ok {
			continue
		}
		if force || entry.lastSet.Before(threshold) {
			toEmit = append(toEmit, entry.event)
			delete(d.pending, path)
		} else {
			remaining = append(remaining, path)
		}
	}
	d.order = remaining
	d.mu.Unlock()

	for _, event := range toEmit {
		d.emit(event)
	}
}
