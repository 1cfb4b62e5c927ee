package entity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/keydeck/internal/watch"
)

// DefaultBrightness applies until a brightness request or control file
// says otherwise.
const DefaultBrightness = 30

// Control files living directly in the deck directory.
const (
	// CurrentPageFile is written by the deck on every page change.
	CurrentPageFile = ".current_page"

	// SetCurrentPageFile is read and unlinked; its content is a page
	// ref or virtual navigation code.
	SetCurrentPageFile = ".set_current_page"

	// BrightnessFile carries the brightness level, both written by the
	// deck and accepted as an external request.
	BrightnessFile = ".current_brightness"

	// VarsFile carries KEY=VALUE condition variables fed to when=
	// filters.
	VarsFile = ".vars"
)

// Deck is the root of the entity graph: the deck directory itself. It
// owns the page version groups, the navigation state, the waiting
// reference queues and the condition variables. All methods must be
// called from the reconciliation loop.
type Deck struct {
	rt  *Runtime
	dir string

	token  string
	pages  map[int]*Group[*Page]
	events map[string]*Group[*Event]
	refs   refTable
	vars   map[string]string

	current int
	stack   []int
	visible []int

	slotOwner  map[KeyID]*Key
	renderedPg map[int]*Page
	brightness int
	running    bool
}

// NewDeck builds the deck entity for a directory. Nothing is watched
// or rendered until Start.
func NewDeck(dir string, rt *Runtime) *Deck {
	brightness := DefaultBrightness
	if rt.InitialBrightness > 0 {
		brightness = rt.InitialBrightness
	}
	return &Deck{
		rt:         rt,
		dir:        dir,
		pages:      make(map[int]*Group[*Page]),
		events:     make(map[string]*Group[*Event]),
		vars:       make(map[string]string),
		slotOwner:  make(map[KeyID]*Key),
		renderedPg: make(map[int]*Page),
		brightness: brightness,
	}
}

// Dir returns the deck directory.
func (d *Deck) Dir() string { return d.dir }

// CurrentPage returns the current page number, 0 when none is shown.
func (d *Deck) CurrentPage() int { return d.current }

// Brightness returns the current brightness level.
func (d *Deck) Brightness() int { return d.brightness }

// ConditionVars returns the condition variables currently in effect.
func (d *Deck) ConditionVars() map[string]string { return d.vars }

func (d *Deck) Vars() map[string]string {
	return map[string]string{
		"deck_directory": d.dir,
		"deck_rows":      itoa(d.rt.Geometry.Rows),
		"deck_cols":      itoa(d.rt.Geometry.Cols),
		"brightness":     itoa(d.brightness),
		"current_page":   itoa(d.current),
	}
}

// Load watches the deck directory and materializes the tree from its
// current contents without claiming the surface or firing triggers.
// Inspection uses this; a running deck goes through Start.
func (d *Deck) Load() error {
	if _, err := os.Stat(d.dir); err != nil {
		return fmt.Errorf("deck directory: %w", err)
	}
	d.token = d.rt.watchDir(d.dir, d)
	scanDir(d.dir, d, d.rt)
	return nil
}

// Start materializes the tree and brings the surface up: the first
// page that activates during the scan becomes the shown page, and the
// deck start trigger fires.
func (d *Deck) Start() error {
	d.running = true
	if err := d.Load(); err != nil {
		d.running = false
		return err
	}
	if err := d.rt.Writer.SetBrightness(d.brightness); err != nil {
		d.rt.Log.Warn("set brightness: %v", err)
	}
	d.fireDeckEvent(EventStart)
	return nil
}

// Stop fires the deck end trigger and tears the graph down. The render
// writer is left to the caller; in-flight key writes are best-effort.
func (d *Deck) Stop() {
	wasRunning := d.running
	d.fireDeckEvent(EventEnd)
	d.running = false
	for _, g := range d.pages {
		g.Each(func(p *Page) {
			if g.ActivePath() == p.SourcePath() {
				p.Deactivated()
			}
			p.Deleted()
		})
	}
	d.pages = make(map[int]*Group[*Page])
	for _, g := range d.events {
		g.Each(func(e *Event) { e.Deleted() })
	}
	d.events = make(map[string]*Group[*Event])
	d.rt.unwatchDir(d.token, d.dir)
	d.token = ""
	if wasRunning {
		os.Remove(filepath.Join(d.dir, CurrentPageFile))
	}
}

// HandleFileEvent dispatches a change inside the deck directory:
// control files first, then page and event children.
func (d *Deck) HandleFileEvent(ev watch.Event) {
	if ev.Dir != d.dir {
		return
	}
	if strings.HasPrefix(ev.Name, ".") {
		d.handleControlFile(ev)
		return
	}
	for _, kind := range []Kind{KindPage, KindEvent} {
		if d.rt.Filters.Denied(kind) {
			continue
		}
		parsed, err := ParseName(kind, ev.Name)
		if err != nil {
			d.rt.Log.Warn("discarding %s/%s: %v", ev.Dir, ev.Name, err)
			return
		}
		if parsed == nil {
			continue
		}
		d.applyChild(kind, parsed, ev)
		return
	}
}

func (d *Deck) handleControlFile(ev watch.Event) {
	if ev.Op.Has(watch.OpDeleted) {
		return
	}
	switch ev.Name {
	case SetCurrentPageFile:
		data, err := os.ReadFile(ev.Path())
		if err != nil {
			return
		}
		os.Remove(ev.Path())
		if ref := strings.TrimSpace(string(data)); ref != "" {
			d.Navigate(ref)
		}

	case BrightnessFile:
		data, err := os.ReadFile(ev.Path())
		if err != nil {
			return
		}
		if level, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			d.SetBrightness(level)
		}

	case VarsFile:
		d.vars = readVarsFile(ev.Path())
		d.reselectAll()
	}
}

// readVarsFile parses KEY=VALUE lines; blank lines and # comments are
// skipped. A missing file yields an empty map.
func readVarsFile(path string) map[string]string {
	vars := make(map[string]string)
	data, err := os.ReadFile(path)
	if err != nil {
		return vars
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if key, value, ok := strings.Cut(line, "="); ok {
			vars[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return vars
}

func (d *Deck) applyChild(kind Kind, parsed *ParsedName, ev watch.Event) {
	switch kind {
	case KindPage:
		if val, ok := d.rt.Filters.Value(KindPage); ok {
			if val != itoa(parsed.Page) && (!parsed.Named || val != parsed.Name) {
				return
			}
		}
		applyVersion(d, d.pages, parsed.Page, ev, func() *Page {
			return newPage(d, ev.Path(), parsed, ev.Time)
		})

		// Losing the shown page forces one step back.
		if parsed.Page == d.current {
			if _, ok := d.activePage(d.current); !ok {
				d.forceBack()
				return
			}
		}
		if d.pageVisible(parsed.Page) {
			d.renderVisible()
		}

	case KindEvent:
		// Decks only host start and end events. Press-style tags
		// belong to keys and can never fire here.
		if parsed.Event != EventStart && parsed.Event != EventEnd {
			d.rt.Log.Warn("discarding %s/%s: event not valid on a deck", ev.Dir, ev.Name)
			return
		}
		applyVersion(d, d.events, parsed.Event, ev, func() *Event {
			return newEvent(d, d, ev.Path(), parsed, ev.Time)
		})
	}
}

// pageCreated runs when a page version activates: waiting references
// to the page are promoted, and an unclaimed surface is claimed.
func (d *Deck) pageCreated(p *Page) {
	d.resolveWaiting(KindPage, func(wr WaitingRef) bool {
		return pageRefMatches(wr.Ref.Page, p)
	})
	if d.running && d.current == 0 {
		d.goTo(p.number, false)
	}
}

// keyCreated runs when a key version activates: waiting content
// references to the key are promoted.
func (d *Deck) keyCreated(k *Key) {
	d.resolveWaiting(KindKey, func(wr WaitingRef) bool {
		target, ok := d.resolveKeyRefFrom(wr, &wr.Ref)
		return ok && target == k
	})
}

// resolveKeyRefFrom resolves a waiting content ref relative to its
// observing key.
func (d *Deck) resolveKeyRefFrom(wr WaitingRef, ref *RefSpec) (*Key, bool) {
	owner, ok := wr.Parent.(*Key)
	if !ok {
		return nil, false
	}
	return d.resolveKeyRef(owner.page, owner.id, ref)
}

// resolveWaiting promotes every queued reference accepted by match
// back through its observing entity's dispatch path.
func (d *Deck) resolveWaiting(kind Kind, match func(WaitingRef) bool) {
	pending := d.refs.byKind(kind)
	if len(pending) == 0 {
		return
	}
	var promote []WaitingRef
	for path, wr := range pending {
		if match(wr) {
			promote = append(promote, wr)
			d.refs.remove(kind, path)
		}
	}
	for _, wr := range promote {
		wr.Parent.HandleFileEvent(watch.Event{
			Dir:  wr.Dir,
			Name: wr.Name,
			Op:   wr.Op,
			Time: time.Now(),
		})
	}
}

// dropRefsFrom discards every waiting reference observed by a deleted
// entity.
func (d *Deck) dropRefsFrom(parent FileHandler) {
	for kind, byPath := range d.refs.waiting {
		for path, wr := range byPath {
			if wr.Parent == parent {
				d.refs.remove(kind, path)
			}
		}
	}
}

// activePage returns the active version of a page number.
func (d *Deck) activePage(number int) (*Page, bool) {
	g, ok := d.pages[number]
	if !ok {
		return nil, false
	}
	return g.Active()
}

// lookupPage resolves a page ref, by number or by name.
func (d *Deck) lookupPage(ref string) (*Page, bool) {
	if number, err := strconv.Atoi(ref); err == nil {
		return d.activePage(number)
	}
	for _, g := range d.pages {
		if p, ok := g.Active(); ok && p.named && p.name == ref {
			return p, true
		}
	}
	return nil, false
}

func pageRefMatches(ref string, p *Page) bool {
	if number, err := strconv.Atoi(ref); err == nil {
		return number == p.number
	}
	return p.named && p.name == ref
}

// resolveKeyRef resolves a ref pointer relative to an owning page and
// key position. An empty ref page means the owner's page; an empty ref
// key means the owner's coordinates.
func (d *Deck) resolveKeyRef(ownerPage *Page, ownerID KeyID, ref *RefSpec) (*Key, bool) {
	page := ownerPage
	if ref.Page != "" {
		p, ok := d.lookupPage(ref.Page)
		if !ok {
			return nil, false
		}
		page = p
	}
	if ref.Key == "" {
		return page.activeKey(ownerID)
	}
	if row, col, ok := parseKeyCoords(ref.Key); ok {
		return page.activeKey(KeyID{Row: row, Col: col})
	}
	return page.keyByName(ref.Key)
}

// parseKeyCoords parses a "row,col" key ref.
func parseKeyCoords(s string) (row, col int, ok bool) {
	r, c, found := strings.Cut(s, ",")
	if !found {
		return 0, 0, false
	}
	row, errRow := strconv.Atoi(r)
	col, errCol := strconv.Atoi(c)
	if errRow != nil || errCol != nil || row < 1 || col < 1 {
		return 0, 0, false
	}
	return row, col, true
}

func (d *Deck) pageVisible(number int) bool {
	for _, n := range d.visible {
		if n == number {
			return true
		}
	}
	return false
}

// renderVisible recomputes the whole surface from the overlay chain
// and writes it: every grid slot ends either claimed by a key or
// explicitly cleared. Safe to call repeatedly; the final assignment is
// a pure function of the chain.
func (d *Deck) renderVisible() {
	geometry := d.rt.Geometry
	resolved := make(map[KeyID]*Key)
	d.renderChain(0, resolved)

	// Slots that changed owner unrender first so end triggers precede
	// the new owner's start triggers.
	for id, key := range d.slotOwner {
		if resolved[id] != key {
			key.setRendered(false)
		}
	}
	for number, p := range d.renderedPg {
		if !d.pageVisible(number) || d.currentVersion(number) != p {
			p.setRendered(false)
			delete(d.renderedPg, number)
		}
	}

	for _, number := range d.visible {
		if p, ok := d.activePage(number); ok {
			d.renderedPg[number] = p
			p.setRendered(true)
		}
	}
	for id, key := range resolved {
		key.setRendered(true)
		d.rt.Writer.SetKey(id.Row, id.Col, key.Compose())
	}
	for row := 1; row <= geometry.Rows; row++ {
		for col := 1; col <= geometry.Cols; col++ {
			id := KeyID{Row: row, Col: col}
			if _, claimed := resolved[id]; !claimed {
				d.rt.Writer.ClearKey(row, col)
			}
		}
	}
	d.slotOwner = resolved
}

func (d *Deck) currentVersion(number int) *Page {
	p, ok := d.activePage(number)
	if !ok {
		return nil
	}
	return p
}

// renderChain walks the overlay chain top-down: each page claims the
// slots still unresolved, an opaque page ends the chain, and the walk
// stops early once the grid is full.
func (d *Deck) renderChain(idx int, resolved map[KeyID]*Key) {
	if idx >= len(d.visible) || len(resolved) >= d.rt.Geometry.Keys() {
		return
	}
	p, ok := d.activePage(d.visible[idx])
	if !ok {
		d.renderChain(idx+1, resolved)
		return
	}
	p.renderInto(resolved, d.rt.Geometry)
	if !p.Transparent() {
		return
	}
	d.renderChain(idx+1, resolved)
}

// Press routes a physical key press to the key owning the slot.
func (d *Deck) Press(row, col int) {
	if key, ok := d.slotOwner[KeyID{Row: row, Col: col}]; ok {
		key.Press()
	}
}

// Release routes a physical key release to the key owning the slot.
func (d *Deck) Release(row, col int) {
	if key, ok := d.slotOwner[KeyID{Row: row, Col: col}]; ok {
		key.Release()
	}
}

// reselectAll re-evaluates every version group under the current
// condition variables and re-renders.
func (d *Deck) reselectAll() {
	for _, g := range d.pages {
		g.Reselect(d.vars)
	}
	for _, g := range d.events {
		g.Reselect(d.vars)
	}
	for _, g := range d.pages {
		if p, ok := g.Active(); ok {
			p.reselectChildren(d.vars)
		}
	}
	if d.current != 0 {
		if _, ok := d.activePage(d.current); !ok {
			d.forceBack()
			return
		}
	}
	d.renderVisible()
}

// SetBrightness applies a brightness level, clamped to 0..100, to the
// device and the brightness control file.
func (d *Deck) SetBrightness(level int) {
	if level < 0 {
		level = 0
	} else if level > 100 {
		level = 100
	}
	if level == d.brightness {
		return
	}
	d.brightness = level
	if err := d.rt.Writer.SetBrightness(level); err != nil {
		d.rt.Log.Warn("set brightness: %v", err)
	}
	path := filepath.Join(d.dir, BrightnessFile)
	if err := os.WriteFile(path, []byte(itoa(level)+"\n"), 0o644); err != nil {
		d.rt.Log.Warn("write %s: %v", path, err)
	}
}

// AdjustBrightness applies an absolute level or a +n/-n delta.
func (d *Deck) AdjustBrightness(value string) {
	delta := strings.HasPrefix(value, "+") || strings.HasPrefix(value, "-")
	n, err := strconv.Atoi(strings.TrimPrefix(value, "+"))
	if err != nil {
		d.rt.Log.Warn("bad brightness value %q", value)
		return
	}
	if delta {
		n += d.brightness
	}
	d.SetBrightness(n)
}

// currentPageState is the schema of the current-page control file.
type currentPageState struct {
	Number  int    `json:"number"`
	Name    string `json:"name,omitempty"`
	Overlay bool   `json:"overlay,omitempty"`
}

func (d *Deck) writeCurrentPage() {
	state := currentPageState{Number: d.current}
	if p, ok := d.activePage(d.current); ok {
		state.Name = p.DisplayName()
		state.Overlay = p.Transparent()
	}
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	path := filepath.Join(d.dir, CurrentPageFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		d.rt.Log.Warn("write %s: %v", path, err)
	}
}

func (d *Deck) fireDeckEvent(kind string) {
	g, ok := d.events[kind]
	if !ok {
		return
	}
	if ev, okActive := g.Active(); okActive {
		ev.Fire()
	}
}
