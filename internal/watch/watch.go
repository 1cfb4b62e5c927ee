// Package watch provides the normalized filesystem event source feeding
// the reconciliation loop.
//
// A Source watches individual directories (one registration per entity
// directory) and delivers events as (directory, name, flags, timestamp)
// tuples. Raw OS notifications are normalized and optionally debounced
// before delivery; consumers never see the underlying mechanism.
package watch

import (
	"errors"
	"time"
)

// Common errors returned by watch operations.
var (
	ErrClosed          = errors.New("watch source is closed")
	ErrAlreadyWatching = errors.New("directory is already being watched")
	ErrNotWatching     = errors.New("directory is not being watched")
	ErrNotExist        = errors.New("directory does not exist")
)

// Op is a bitmask describing a normalized filesystem event.
type Op uint32

const (
	// OpCreated indicates a file or directory appeared.
	OpCreated Op = 1 << iota
	// OpModified indicates a file was written to.
	OpModified
	// OpDeleted indicates a file or directory was removed or renamed away.
	OpDeleted
	// OpDir marks the affected path as a directory.
	OpDir
)

// Has returns true if the op includes the given flag.
func (op Op) Has(flag Op) bool {
	return op&flag == flag
}

// String returns a human-readable representation of the op.
func (op Op) String() string {
	var s string
	switch {
	case op.Has(OpCreated):
		s = "CREATED"
	case op.Has(OpModified):
		s = "MODIFIED"
	case op.Has(OpDeleted):
		s = "DELETED"
	default:
		s = "UNKNOWN"
	}
	if op.Has(OpDir) {
		s += "|DIR"
	}
	return s
}

// Event is a normalized filesystem event scoped to a watched directory.
type Event struct {
	// Dir is the absolute path of the watched directory.
	Dir string

	// Name is the base name of the affected entry inside Dir.
	Name string

	// Op describes what happened.
	Op Op

	// Time is when the event was observed.
	Time time.Time
}

// Path returns the full path of the affected entry.
func (e Event) Path() string {
	return e.Dir + "/" + e.Name
}

// Source delivers normalized filesystem events for registered directories.
type Source interface {
	// Watch starts watching a directory.
	// Returns ErrAlreadyWatching if the directory is already registered.
	Watch(dir string) error

	// Unwatch stops watching a directory.
	// Returns ErrNotWatching if the directory isn't registered.
	Unwatch(dir string) error

	// Events returns the channel of normalized events.
	// The channel is closed when the source is closed.
	Events() <-chan Event

	// Errors returns the channel of watch errors.
	// The channel is closed when the source is closed.
	Errors() <-chan error

	// Close stops delivery and releases resources.
	Close() error
}

// Config holds source configuration options.
type Config struct {
	// DebounceDelay is the window within which events for the same path
	// are coalesced. Zero disables debouncing.
	DebounceDelay time.Duration

	// BufferSize is the size of the event and error channels.
	BufferSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 50 * time.Millisecond,
		BufferSize:    256,
	}
}

// Option configures a Source.
type Option func(*Config)

// WithDebounceDelay sets the debounce window.
func WithDebounceDelay(d time.Duration) Option {
	return func(c *Config) {
		c.DebounceDelay = d
	}
}

// WithBufferSize sets the channel buffer size.
func WithBufferSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.BufferSize = size
		}
	}
}
