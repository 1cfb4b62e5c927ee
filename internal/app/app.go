// Package app wires the deck directory, the watch source, the render
// sink and the reconciliation loop into a runnable application.
package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dshills/keydeck/internal/config"
	"github.com/dshills/keydeck/internal/entity"
	"github.com/dshills/keydeck/internal/logging"
	"github.com/dshills/keydeck/internal/render"
	"github.com/dshills/keydeck/internal/script"
	"github.com/dshills/keydeck/internal/watch"
)

// ErrStopped is returned by Run when Shutdown ended the loop.
var ErrStopped = errors.New("app: stopped")

// Application owns every long-lived collaborator: the watch source,
// the render writer, the script runner, the deck graph and the
// reconciliation loop that ties them together.
type Application struct {
	cfg    config.Config
	log    *logging.Logger
	sink   render.Sink
	writer *render.Writer
	source watch.Source
	table  *watch.Table
	runner *script.Runner
	deck   *entity.Deck
	rt     *entity.Runtime

	requests chan func()
	done     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// Option configures the application.
type Option func(*Application)

// WithLogger replaces the logger built from the config.
func WithLogger(log *logging.Logger) Option {
	return func(a *Application) {
		a.log = log
	}
}

// WithSink replaces the render sink. The default is a NullSink of the
// configured geometry.
func WithSink(sink render.Sink) Option {
	return func(a *Application) {
		a.sink = sink
	}
}

// WithWatchSource replaces the filesystem watch source.
func WithWatchSource(source watch.Source) Option {
	return func(a *Application) {
		a.source = source
	}
}

// WithFilters limits which entity kinds are materialized.
func WithFilters(filters entity.Filters) Option {
	return func(a *Application) {
		a.rt.Filters = filters
	}
}

// New assembles an application for the deck directory.
func New(deckDir string, cfg config.Config, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Application{
		cfg:      cfg,
		rt:       &entity.Runtime{},
		requests: make(chan func(), 64),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.log == nil {
		log, err := newLogger(cfg)
		if err != nil {
			return nil, err
		}
		a.log = log
	}
	geometry := render.Geometry{Rows: cfg.Deck.Rows, Cols: cfg.Deck.Cols}
	if a.sink == nil {
		a.sink = render.NewNullSink(geometry)
	}
	if a.source == nil {
		source, err := watch.NewFSSource(
			watch.WithDebounceDelay(cfg.Watch.DebounceDelay()),
			watch.WithBufferSize(cfg.Watch.BufferSize),
		)
		if err != nil {
			return nil, fmt.Errorf("watch source: %w", err)
		}
		a.source = source
	}

	a.writer = render.NewWriter(a.sink, render.WithErrorHandler(func(row, col int, err error) {
		a.log.Warn("key (%d,%d) write: %v", row, col, err)
	}))
	a.table = watch.NewTable(a.source)
	a.runner = script.NewRunner(
		script.WithTimeout(cfg.Scripts.Timeout()),
		script.WithLua(cfg.Scripts.LuaEnabled),
	)

	a.rt.Log = a.log
	a.rt.Watches = a.table
	a.rt.Writer = a.writer
	a.rt.Geometry = a.sink.Geometry()
	a.rt.Scripts = a.runner
	a.rt.WrapNavigation = cfg.Navigation.Wrap
	a.rt.InitialBrightness = cfg.Deck.Brightness
	a.rt.Submit = a.Submit

	a.deck = entity.NewDeck(deckDir, a.rt)
	return a, nil
}

func newLogger(cfg config.Config) (*logging.Logger, error) {
	out := io.Writer(os.Stderr)
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}
	return logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Output: out,
		Prefix: "keydeck",
	}), nil
}

// Deck returns the deck graph root. Callers outside the loop must go
// through Submit to touch it.
func (a *Application) Deck() *entity.Deck { return a.deck }

// Logger returns the application logger.
func (a *Application) Logger() *logging.Logger { return a.log }

// Submit schedules fn onto the reconciliation loop. After shutdown the
// function is dropped.
func (a *Application) Submit(fn func()) {
	select {
	case a.requests <- fn:
	case <-a.done:
	}
}

// Navigate submits a navigation request to the loop.
func (a *Application) Navigate(ref string) {
	a.Submit(func() { a.deck.Navigate(ref) })
}

// Press submits a physical key press to the loop.
func (a *Application) Press(row, col int) {
	a.Submit(func() { a.deck.Press(row, col) })
}

// Release submits a physical key release to the loop.
func (a *Application) Release(row, col int) {
	a.Submit(func() { a.deck.Release(row, col) })
}

// Shutdown ends the reconciliation loop. Safe to call more than once
// and from any goroutine.
func (a *Application) Shutdown() {
	a.stopOnce.Do(func() { close(a.done) })
}
