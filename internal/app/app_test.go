package app

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dshills/keydeck/internal/config"
	"github.com/dshills/keydeck/internal/logging"
	"github.com/dshills/keydeck/internal/render"
	"github.com/dshills/keydeck/internal/watch"
)

// fakeSource is a channel-backed watch source tests feed by hand.
type fakeSource struct {
	mu      sync.Mutex
	watched map[string]bool
	events  chan watch.Event
	errs    chan error
	closed  bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		watched: make(map[string]bool),
		events:  make(chan watch.Event, 16),
		errs:    make(chan error, 16),
	}
}

func (s *fakeSource) Watch(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watched[dir] {
		return watch.ErrAlreadyWatching
	}
	s.watched[dir] = true
	return nil
}

func (s *fakeSource) Unwatch(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.watched[dir] {
		return watch.ErrNotWatching
	}
	delete(s.watched, dir)
	return nil
}

func (s *fakeSource) Events() <-chan watch.Event { return s.events }

func (s *fakeSource) Errors() <-chan error { return s.errs }

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
		close(s.errs)
	}
	return nil
}

func (s *fakeSource) watching(dir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watched[dir]
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Deck.Rows = 2
	cfg.Deck.Cols = 2
	cfg.Scripts.LuaEnabled = false
	return cfg
}

func scaffoldDeck(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	key := filepath.Join(dir, "PAGE_1", "KEY_ROW_1_COL_1")
	if err := os.MkdirAll(key, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(key, "TEXT;line=1;text=hi"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestApp(t *testing.T, dir string) (*Application, *fakeSource, *render.MemorySink) {
	t.Helper()
	source := newFakeSource()
	sink := render.NewMemorySink(render.Geometry{Rows: 2, Cols: 2})
	a, err := New(dir, testConfig(),
		WithLogger(logging.Discard()),
		WithSink(sink),
		WithWatchSource(source),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, source, sink
}

// startApp runs the loop in the background and returns a channel that
// yields Run's result.
func startApp(t *testing.T, a *Application) <-chan error {
	t.Helper()
	result := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		result <- a.Run()
		close(finished)
	}()
	t.Cleanup(func() {
		a.Shutdown()
		select {
		case <-finished:
		case <-time.After(3 * time.Second):
			t.Error("Run did not return after Shutdown")
		}
	})
	return result
}

// sync round-trips a no-op request through the loop so everything
// submitted before it has been applied.
func (a *Application) sync(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	a.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not drain")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Deck.Rows = 0
	if _, err := New(t.TempDir(), cfg); err == nil {
		t.Fatal("expected config validation error")
	}
}

func TestRunStopsOnShutdown(t *testing.T) {
	a, _, _ := newTestApp(t, scaffoldDeck(t))
	result := startApp(t, a)

	a.sync(t)
	a.Shutdown()

	select {
	case err := <-result:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("Run returned %v, want ErrStopped", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunRefusesDoubleStart(t *testing.T) {
	a, _, _ := newTestApp(t, scaffoldDeck(t))
	startApp(t, a)
	a.sync(t)

	if err := a.Run(); err == nil || errors.Is(err, ErrStopped) {
		t.Fatalf("second Run returned %v, want already-running error", err)
	}
}

func TestStartupRendersDeck(t *testing.T) {
	dir := scaffoldDeck(t)
	a, source, sink := newTestApp(t, dir)
	startApp(t, a)
	a.sync(t)
	a.rt.Writer.Flush()

	img, ok := sink.Key(1, 1)
	if !ok {
		t.Fatal("key (1,1) not rendered at startup")
	}
	if len(img.Texts) == 0 || img.Texts[0].Text != "hi" {
		t.Errorf("key (1,1) = %+v, want text hi", img)
	}
	if !source.watching(dir) {
		t.Error("deck directory not watched")
	}
	if sink.Brightness() != testConfig().Deck.Brightness {
		t.Errorf("brightness = %d, want configured %d", sink.Brightness(), testConfig().Deck.Brightness)
	}
}

func TestWatchEventReachesDeck(t *testing.T) {
	dir := scaffoldDeck(t)
	a, source, sink := newTestApp(t, dir)
	startApp(t, a)
	a.sync(t)

	// A second page appears on disk and its event arrives.
	key := filepath.Join(dir, "PAGE_2", "KEY_ROW_1_COL_1")
	if err := os.MkdirAll(key, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(key, "TEXT;line=1;text=two"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	source.events <- watch.Event{Dir: dir, Name: "PAGE_2", Op: watch.OpCreated | watch.OpDir, Time: time.Now()}
	a.sync(t)

	a.Navigate("2")
	a.sync(t)
	a.rt.Writer.Flush()

	if img, ok := sink.Key(1, 1); !ok || len(img.Texts) == 0 || img.Texts[0].Text != "two" {
		t.Errorf("key (1,1) = %+v, want new page content", img)
	}
}

func TestPressReleaseRouting(t *testing.T) {
	dir := scaffoldDeck(t)
	// Commands run from the deck directory, so a bare file name
	// lands the marker there.
	marker := filepath.Join(dir, "press.marker")
	key := filepath.Join(dir, "PAGE_1", "KEY_ROW_1_COL_1")
	if err := os.WriteFile(filepath.Join(key, "ON_PRESS;run=touch press.marker"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	a, _, _ := newTestApp(t, dir)
	startApp(t, a)
	a.sync(t)

	a.Press(1, 1)
	a.Release(1, 1)
	a.sync(t)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(marker); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("press action never ran")
}

func TestHandlerPanicDoesNotKillLoop(t *testing.T) {
	a, _, _ := newTestApp(t, scaffoldDeck(t))
	startApp(t, a)
	a.sync(t)

	a.Submit(func() { panic("bad entity") })
	a.sync(t)

	// The loop survived: it still answers navigation requests.
	a.Navigate("1")
	a.sync(t)
}

func TestWatchErrorIsNonFatal(t *testing.T) {
	a, source, _ := newTestApp(t, scaffoldDeck(t))
	startApp(t, a)
	a.sync(t)

	source.errs <- errors.New("transient watch failure")
	a.sync(t)

	a.Navigate("1")
	a.sync(t)
}

func TestRunFailsOnMissingDeckDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "absent")
	source := newFakeSource()
	a, err := New(dir, testConfig(),
		WithLogger(logging.Discard()),
		WithWatchSource(source),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(); err == nil || errors.Is(err, ErrStopped) {
		t.Fatalf("Run returned %v, want startup error", err)
	}
}
