package app

import (
	"fmt"

	"github.com/dshills/keydeck/internal/watch"
)

// Run starts the deck and consumes watch events and submitted requests
// on a single goroutine that exclusively owns the entity graph. Events
// for one directory apply in arrival order, and each event's side
// effects complete before the next one is taken. Run blocks until
// Shutdown or an unrecoverable watch failure.
func (a *Application) Run() error {
	if !a.running.CompareAndSwap(false, true) {
		return fmt.Errorf("app: already running")
	}
	defer a.teardown()

	if err := a.deck.Start(); err != nil {
		return err
	}
	a.log.Info("watching %s", a.deck.Dir())

	for {
		select {
		case <-a.done:
			return ErrStopped

		case fn := <-a.requests:
			a.apply(fn)

		case ev, ok := <-a.source.Events():
			if !ok {
				return fmt.Errorf("app: watch source closed")
			}
			a.apply(func() { a.dispatch(ev) })

		case err, ok := <-a.source.Errors():
			if !ok {
				return fmt.Errorf("app: watch source closed")
			}
			a.log.Warn("watch: %v", err)
		}
	}
}

// dispatch routes a watch event to the entity owning its directory.
func (a *Application) dispatch(ev watch.Event) {
	handler, ok := a.rt.Route(ev.Dir)
	if !ok {
		return
	}
	a.log.Debug("event %s %s/%s", ev.Op, ev.Dir, ev.Name)
	handler.HandleFileEvent(ev)
}

// apply runs one unit of graph work, containing handler panics so a
// bad entity cannot take the loop down.
func (a *Application) apply(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("reconciliation panic: %v", r)
		}
	}()
	fn()
}

// teardown stops watch delivery first so no further renders flush,
// then releases the sink and script runner.
func (a *Application) teardown() {
	a.Shutdown()
	a.running.Store(false)
	a.deck.Stop()
	if err := a.source.Close(); err != nil {
		a.log.Warn("close watch source: %v", err)
	}
	a.writer.Close()
	if err := a.sink.Close(); err != nil {
		a.log.Warn("close sink: %v", err)
	}
	a.runner.Close()
}
