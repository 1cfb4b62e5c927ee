// Package entity implements the configuration graph at the heart of
// keydeck: typed entities parsed from filesystem names, competing
// on-disk versions per identity, reference resolution, rendering and
// navigation.
//
// The graph is exclusively owned by the reconciliation loop; nothing in
// this package is safe for concurrent mutation. The loop feeds
// normalized filesystem events in arrival order and every activation
// side effect completes before the next event is taken.
package entity

import (
	"fmt"
	"time"

	"github.com/dshills/keydeck/internal/logging"
	"github.com/dshills/keydeck/internal/render"
	"github.com/dshills/keydeck/internal/script"
	"github.com/dshills/keydeck/internal/watch"
)

// Kind identifies one entity kind. The set is closed; dispatch over
// kinds is exhaustive.
type Kind string

const (
	KindDeck       Kind = "deck"
	KindPage       Kind = "page"
	KindKey        Kind = "key"
	KindImageLayer Kind = "image"
	KindTextLine   Kind = "text"
	KindEvent      Kind = "event"
)

// Deny is the filter value that suppresses a kind for the whole tree.
const Deny = "__deny__"

// Filters restricts which entities are materialized, by kind. A kind
// mapped to Deny is never dispatched; any other value narrows the kind
// to entities matching that value (identifier or name).
type Filters map[Kind]string

// Denied reports whether the kind is suppressed entirely.
func (f Filters) Denied(kind Kind) bool {
	return f[kind] == Deny
}

// Value returns the narrowing filter for a kind, if any.
func (f Filters) Value(kind Kind) (string, bool) {
	v, ok := f[kind]
	if !ok || v == Deny {
		return "", false
	}
	return v, true
}

// FileHandler receives normalized filesystem events for one directory.
type FileHandler interface {
	HandleFileEvent(ev watch.Event)
}

// Runtime bundles the collaborators shared by every entity in a deck
// tree. It is assembled by the application and owned by the Deck.
type Runtime struct {
	Log      *logging.Logger
	Watches  *watch.Table
	Writer   *render.Writer
	Geometry render.Geometry
	Scripts  *script.Runner

	// Filters limits which entity kinds/values are materialized.
	Filters Filters

	// WrapNavigation makes PREVIOUS/NEXT wrap around the page range.
	WrapNavigation bool

	// InitialBrightness overrides DefaultBrightness when nonzero.
	InitialBrightness int

	// Submit schedules fn onto the reconciliation loop. Timer-driven
	// side effects (longpress, repeats) must go through here; they may
	// never touch the graph from their own goroutine.
	Submit func(fn func())

	// routes maps watched directories to their handling entity.
	routes map[string]FileHandler
}

// Route returns the handler responsible for a watched directory.
func (rt *Runtime) Route(dir string) (FileHandler, bool) {
	h, ok := rt.routes[dir]
	return h, ok
}

// watchDir registers a directory watch and routes its events to h.
// Returns the registration token for release.
func (rt *Runtime) watchDir(dir string, h FileHandler) string {
	if rt.routes == nil {
		rt.routes = make(map[string]FileHandler)
	}
	token := ""
	if rt.Watches != nil {
		t, err := rt.Watches.Register(dir)
		if err != nil {
			rt.Log.Warn("cannot watch %s: %v", dir, err)
		} else {
			token = t
		}
	}
	rt.routes[dir] = h
	return token
}

// unwatchDir releases a watch registration and its route.
func (rt *Runtime) unwatchDir(token, dir string) {
	if rt.Watches != nil && token != "" {
		rt.Watches.Release(token)
	}
	delete(rt.routes, dir)
}

// submit runs fn through the loop, or inline when no loop is attached
// (tests drive the graph directly).
func (rt *Runtime) submit(fn func()) {
	if rt.Submit != nil {
		rt.Submit(fn)
		return
	}
	fn()
}

// KeyID identifies a key inside a page.
type KeyID struct {
	Row int
	Col int
}

func (id KeyID) String() string {
	return fmt.Sprintf("%d,%d", id.Row, id.Col)
}

// Version is one on-disk definition of an entity identity. Versions of
// the same identity compete inside a Group; at most one is active.
type Version interface {
	// SourcePath is the backing file or directory.
	SourcePath() string

	// IsDisabled reports the disabled argument.
	IsDisabled() bool

	// Eligible reports whether the version's condition currently holds.
	Eligible(vars map[string]string) bool

	// Specificity ranks competing eligible versions; higher wins.
	Specificity() int

	// ModTime is the backing path's last modification time.
	ModTime() time.Time

	// Created runs once when the version is added to its group.
	Created()

	// Touched runs when the backing path is modified in place.
	Touched(mtime time.Time)

	// Deleted runs when the version is removed; it must release
	// watches, children and pending references.
	Deleted()

	// Activated runs when the version becomes the active one.
	Activated()

	// Deactivated runs when the version stops being the active one.
	Deactivated()
}

// base carries the attributes every versioned entity shares.
type base struct {
	path     string
	name     string
	named    bool
	disabled bool
	args     map[string]string
	cond     *Condition
	ref      *RefSpec
	mtime    time.Time
}

// newBase builds the shared attributes from a parsed name.
func newBase(path string, parsed *ParsedName, mtime time.Time) base {
	return base{
		path:     path,
		name:     parsed.Name,
		named:    parsed.Named,
		disabled: parsed.Disabled,
		args:     parsed.Args,
		cond:     parsed.Condition,
		ref:      parsed.Ref,
		mtime:    mtime,
	}
}

func (b *base) SourcePath() string { return b.path }
func (b *base) IsDisabled() bool   { return b.disabled }
func (b *base) ModTime() time.Time { return b.mtime }

// DisplayName returns the name argument, or "" when unnamed.
func (b *base) DisplayName() string {
	if b.named {
		return b.name
	}
	return ""
}

// Ref returns the filename-derived pointer to another entity, or nil.
func (b *base) Ref() *RefSpec { return b.ref }

// Arg returns a configuration argument by key.
func (b *base) Arg(key string) (string, bool) {
	v, ok := b.args[key]
	return v, ok
}

func (b *base) Eligible(vars map[string]string) bool {
	return b.cond.Eval(vars)
}

// Specificity ranks a conditioned version above the unconditioned
// default. Finer ordering among equals falls to ModTime then path
// (see Group selection).
func (b *base) Specificity() int {
	if b.cond != nil {
		return 1
	}
	return 0
}

func (b *base) Touched(mtime time.Time) {
	b.mtime = mtime
}

// refTable holds waiting references by target kind, keyed by the
// observing file's path. The deck owns one table for the whole tree.
type refTable struct {
	waiting map[Kind]map[string]WaitingRef
}

// WaitingRef is a reference-bearing name seen before its target
// existed. It is redispatched once a matching target entity appears.
type WaitingRef struct {
	// Parent is the entity that observed the file.
	Parent FileHandler

	// Dir and Name locate the observed file.
	Dir  string
	Name string

	// Op is the original event op, replayed on promotion.
	Op watch.Op

	// Ref is the parsed pointer.
	Ref RefSpec
}

func (t *refTable) add(kind Kind, path string, ref WaitingRef) {
	if t.waiting == nil {
		t.waiting = make(map[Kind]map[string]WaitingRef)
	}
	if t.waiting[kind] == nil {
		t.waiting[kind] = make(map[string]WaitingRef)
	}
	t.waiting[kind][path] = ref
}

func (t *refTable) remove(kind Kind, path string) {
	if t.waiting == nil {
		return
	}
	delete(t.waiting[kind], path)
}

// byKind returns the waiting references for one target kind.
func (t *refTable) byKind(kind Kind) map[string]WaitingRef {
	if t.waiting == nil {
		return nil
	}
	return t.waiting[kind]
}
