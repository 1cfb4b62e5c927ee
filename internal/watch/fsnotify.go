package watch

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSSource implements Source using fsnotify.
//
// Each registered directory maps to one fsnotify watch. Removal events
// carry no type information from the OS, so the source keeps a set of
// paths it has seen as directories to set OpDir on deletion.
type FSSource struct {
	mu sync.RWMutex

	watcher *fsnotify.Watcher
	config  Config

	// Registered directories.
	dirs map[string]bool

	// Paths observed to be directories, for OpDir on removal.
	knownDirs map[string]bool

	events chan Event
	errors chan error

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// NewFSSource creates an fsnotify-backed event source.
func NewFSSource(opts ...Option) (*FSSource, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &FSSource{
		watcher:   fsw,
		config:    config,
		dirs:      make(map[string]bool),
		knownDirs: make(map[string]bool),
		events:    make(chan Event, config.BufferSize),
		errors:    make(chan error, config.BufferSize),
		closeCh:   make(chan struct{}),
	}

	s.closedWg.Add(1)
	go s.processLoop()

	return s, nil
}

// Watch starts watching a directory.
func (s *FSSource) Watch(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	info, err := os.Stat(absDir)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExist
		}
		return err
	}
	if !info.IsDir() {
		return ErrNotExist
	}

	if s.dirs[absDir] {
		return ErrAlreadyWatching
	}

	if err := s.watcher.Add(absDir); err != nil {
		return err
	}

	s.dirs[absDir] = true
	s.knownDirs[absDir] = true
	return nil
}

// Unwatch stops watching a directory.
func (s *FSSource) Unwatch(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	if !s.dirs[absDir] {
		return ErrNotWatching
	}

	// The kernel watch may already be gone if the directory was removed.
	_ = s.watcher.Remove(absDir)

	delete(s.dirs, absDir)
	return nil
}

// Events returns the event channel.
func (s *FSSource) Events() <-chan Event {
	return s.events
}

// Errors returns the error channel.
func (s *FSSource) Errors() <-chan error {
	return s.errors
}

// Close stops the source.
func (s *FSSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	s.mu.Unlock()

	s.closedWg.Wait()

	close(s.events)
	close(s.errors)

	return s.watcher.Close()
}

// Watching returns true if the directory is registered.
func (s *FSSource) Watching(dir string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	return s.dirs[absDir]
}

// processLoop converts raw fsnotify events into normalized events.
func (s *FSSource) processLoop() {
	defer s.closedWg.Done()

	var debouncer *debouncer
	if s.config.DebounceDelay > 0 {
		debouncer = newDebouncer(s.config.DebounceDelay, s.deliver)
		defer debouncer.stop()
	}

	for {
		select {
		case <-s.closeCh:
			return

		case fsEvent, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			event, ok := s.normalize(fsEvent)
			if !ok {
				continue
			}
			if debouncer != nil {
				debouncer.add(event)
			} else {
				s.deliver(event)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.sendError(err)
		}
	}
}

// normalize converts an fsnotify event into the normalized form.
// Events for unregistered directories and pure chmod events are dropped.
func (s *FSSource) normalize(fsEvent fsnotify.Event) (Event, bool) {
	dir := filepath.Dir(fsEvent.Name)
	name := filepath.Base(fsEvent.Name)

	s.mu.RLock()
	registered := s.dirs[dir]
	s.mu.RUnlock()
	if !registered {
		return Event{}, false
	}

	var op Op
	switch {
	case fsEvent.Has(fsnotify.Create):
		op = OpCreated
		if info, err := os.Lstat(fsEvent.Name); err == nil && info.IsDir() {
			op |= OpDir
			s.mu.Lock()
			s.knownDirs[fsEvent.Name] = true
			s.mu.Unlock()
		}
	case fsEvent.Has(fsnotify.Write):
		op = OpModified
	case fsEvent.Has(fsnotify.Remove), fsEvent.Has(fsnotify.Rename):
		op = OpDeleted
		s.mu.Lock()
		if s.knownDirs[fsEvent.Name] {
			op |= OpDir
			delete(s.knownDirs, fsEvent.Name)
		}
		s.mu.Unlock()
	default:
		// Chmod and unknown ops carry no content change.
		return Event{}, false
	}

	return Event{
		Dir:  dir,
		Name: name,
		Op:   op,
		Time: time.Now(),
	}, true
}

// deliver sends an event, blocking until the consumer takes it or the
// source is closed. Per-path ordering depends on this staying FIFO.
func (s *FSSource) deliver(event Event) {
	select {
	case s.events <- event:
	case <-s.closeCh:
	}
}

func (s *FSSource) sendError(err error) {
	select {
	case s.errors <- err:
	default:
	}
}
