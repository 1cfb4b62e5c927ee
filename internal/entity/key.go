package entity

import (
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/dshills/keydeck/internal/render"
	"github.com/dshills/keydeck/internal/watch"
)

// maxBorrowDepth bounds ref-chain resolution during composition so a
// cycle of key refs cannot recurse forever.
const maxBorrowDepth = 4

// Key is one version of a key at (row, col) inside a page. The backing
// directory holds the key's image layers, text lines and event
// triggers; the active version's directory is watched and its children
// materialized.
type Key struct {
	base
	page *Page
	id   KeyID

	token  string
	layers map[int]*Group[*ImageLayer]
	lines  map[int]*Group[*TextLine]
	events map[string]*Group[*Event]

	rendered       bool
	pressed        bool
	pressSeq       int
	longpressFired bool
}

func newKey(page *Page, path string, parsed *ParsedName, mtime time.Time) *Key {
	return &Key{
		base:   newBase(path, parsed, mtime),
		page:   page,
		id:     KeyID{Row: parsed.Row, Col: parsed.Col},
		layers: make(map[int]*Group[*ImageLayer]),
		lines:  make(map[int]*Group[*TextLine]),
		events: make(map[string]*Group[*Event]),
	}
}

// ID returns the key's (row, col) identifier.
func (k *Key) ID() KeyID { return k.id }

func (k *Key) deck() *Deck { return k.page.deck }

func (k *Key) Vars() map[string]string {
	return mergeVars(k.page.Vars(), map[string]string{
		"key":           k.id.String(),
		"key_row":       itoa(k.id.Row),
		"key_col":       itoa(k.id.Col),
		"key_name":      k.DisplayName(),
		"key_directory": k.path,
	})
}

func (k *Key) Created() {}

// Activated watches the key directory and materializes its children.
func (k *Key) Activated() {
	rt := k.deck().rt
	k.token = rt.watchDir(k.path, k)
	scanDir(k.path, k, rt)
}

// Deactivated tears the version's subtree down. A later reactivation
// rescans the directory from scratch.
func (k *Key) Deactivated() {
	k.setRendered(false)
	k.deck().rt.unwatchDir(k.token, k.path)
	k.token = ""
	k.dropChildren()
	k.deck().dropRefsFrom(k)
}

func (k *Key) Deleted() {
	k.dropChildren()
	k.deck().dropRefsFrom(k)
}

func (k *Key) dropChildren() {
	for rank, g := range k.layers {
		g.Each(func(v *ImageLayer) { v.Deleted() })
		delete(k.layers, rank)
	}
	for rank, g := range k.lines {
		g.Each(func(v *TextLine) { v.Deleted() })
		delete(k.lines, rank)
	}
	for kind, g := range k.events {
		g.Each(func(v *Event) { v.Deleted() })
		delete(k.events, kind)
	}
}

// HandleFileEvent dispatches a change inside the key directory to the
// addressed content or event group.
func (k *Key) HandleFileEvent(ev watch.Event) {
	if ev.Dir != k.path {
		return
	}
	rt := k.deck().rt
	for _, kind := range []Kind{KindImageLayer, KindTextLine, KindEvent} {
		if rt.Filters.Denied(kind) {
			continue
		}
		parsed, err := ParseName(kind, ev.Name)
		if err != nil {
			rt.Log.Warn("discarding %s/%s: %v", ev.Dir, ev.Name, err)
			return
		}
		if parsed == nil {
			continue
		}
		k.applyChild(kind, parsed, ev)
		return
	}
}

func (k *Key) applyChild(kind Kind, parsed *ParsedName, ev watch.Event) {
	d := k.deck()

	// A content ref whose target key does not exist yet is queued on
	// the deck, not materialized. Deleting the referencing file
	// discards its queue entry so a later target cannot promote it.
	if parsed.Ref != nil {
		if ev.Op.Has(watch.OpDeleted) {
			d.refs.remove(KindKey, ev.Path())
		} else if _, ok := d.resolveKeyRef(k.page, k.id, parsed.Ref); !ok {
			d.refs.add(KindKey, ev.Path(), WaitingRef{
				Parent: k, Dir: ev.Dir, Name: ev.Name, Op: ev.Op, Ref: *parsed.Ref,
			})
			return
		} else {
			d.refs.remove(KindKey, ev.Path())
		}
	}

	switch kind {
	case KindImageLayer:
		applyVersion(d, k.layers, parsed.Rank, ev, func() *ImageLayer {
			return newImageLayer(k, ev.Path(), parsed, ev.Time)
		})
	case KindTextLine:
		applyVersion(d, k.lines, parsed.Rank, ev, func() *TextLine {
			return newTextLine(k, ev.Path(), parsed, ev.Time)
		})
	case KindEvent:
		applyVersion(d, k.events, parsed.Event, ev, func() *Event {
			return newEvent(d, k, ev.Path(), parsed, ev.Time)
		})
	}

	if k.rendered {
		d.renderVisible()
	}
}

// Compose builds the key's display content: image layers in ascending
// rank order, then text lines. A key version carrying a ref and no
// content of its own borrows the referenced key's composition.
func (k *Key) Compose() render.KeyImage {
	return k.compose(0)
}

func (k *Key) compose(depth int) render.KeyImage {
	if depth > maxBorrowDepth {
		return render.KeyImage{}
	}

	img := render.KeyImage{}
	for _, rank := range activeRanks(k.layers) {
		layer, _ := k.layers[rank].Active()
		source := layer.SourcePath()
		if layer.Ref() != nil {
			if target, ok := k.deck().resolveKeyRef(k.page, k.id, layer.Ref()); ok {
				if borrowed := target.layerSource(rank, depth+1); borrowed != "" {
					source = borrowed
				}
			}
		}
		img.Layers = append(img.Layers, render.Layer{Number: rank, Source: source})
	}
	for _, rank := range activeRanks(k.lines) {
		line, _ := k.lines[rank].Active()
		img.Texts = append(img.Texts, render.TextLine{Number: rank, Text: line.Text()})
	}
	if v, ok := k.args["dim"]; ok {
		if dim, err := strconv.Atoi(v); err == nil {
			img.Dim = dim
		}
	}

	if img.Empty() && k.ref != nil {
		if target, ok := k.deck().resolveKeyRef(k.page, k.id, k.ref); ok {
			return target.compose(depth + 1)
		}
	}
	return img
}

// layerSource returns the active source path at rank. Borrowed layers
// resolve to the target's own file; chained borrows stop here.
func (k *Key) layerSource(rank, depth int) string {
	if depth > maxBorrowDepth {
		return ""
	}
	g, ok := k.layers[rank]
	if !ok {
		return ""
	}
	layer, ok := g.Active()
	if !ok {
		return ""
	}
	return layer.SourcePath()
}

// activeRanks returns the sorted ranks that currently have an active
// version. The unranked default entry is dropped when ranked siblings
// exist alongside it.
func activeRanks[V Version](groups map[int]*Group[V]) []int {
	ranks := make([]int, 0, len(groups))
	for rank, g := range groups {
		if _, ok := g.Active(); ok {
			ranks = append(ranks, rank)
		}
	}
	sort.Ints(ranks)
	if len(ranks) > 1 && ranks[0] == DefaultRank {
		ranks = ranks[1:]
	}
	return ranks
}

// setRendered flips the key's on-surface state, firing start and end
// triggers on the transitions.
func (k *Key) setRendered(rendered bool) {
	if rendered == k.rendered {
		return
	}
	k.rendered = rendered
	if rendered {
		k.fireEvent(EventStart)
		return
	}
	k.stopEvents()
	k.pressed = false
	k.fireEvent(EventEnd)
}

// Press fires the press trigger and arms the longpress timer when an
// ON_LONGPRESS version is active.
func (k *Key) Press() {
	if !k.rendered || k.pressed {
		return
	}
	k.pressed = true
	k.longpressFired = false
	k.pressSeq++
	seq := k.pressSeq

	k.fireEvent(EventPress)

	lp := k.activeEvent(EventLongpress)
	if lp == nil {
		return
	}
	rt := k.deck().rt
	time.AfterFunc(lp.LongpressDelay(), func() {
		rt.submit(func() {
			if k.pressed && k.pressSeq == seq && !k.longpressFired {
				k.longpressFired = true
				lp.Fire()
			}
		})
	})
}

// Release fires the release trigger and stops press-driven repeats.
func (k *Key) Release() {
	if !k.pressed {
		return
	}
	k.pressed = false
	if press := k.activeEvent(EventPress); press != nil {
		press.Stop()
	}
	if lp := k.activeEvent(EventLongpress); lp != nil {
		lp.Stop()
	}
	k.fireEvent(EventRelease)
}

func (k *Key) activeEvent(kind string) *Event {
	g, ok := k.events[kind]
	if !ok {
		return nil
	}
	ev, ok := g.Active()
	if !ok {
		return nil
	}
	return ev
}

func (k *Key) fireEvent(kind string) {
	if ev := k.activeEvent(kind); ev != nil {
		ev.Fire()
	}
}

func (k *Key) stopEvents() {
	for _, g := range k.events {
		if ev, ok := g.Active(); ok {
			ev.Stop()
		}
	}
}

// reselectChildren re-evaluates every content and event group under
// new condition variables.
func (k *Key) reselectChildren(vars map[string]string) {
	for _, g := range k.layers {
		g.Reselect(vars)
	}
	for _, g := range k.lines {
		g.Reselect(vars)
	}
	for _, g := range k.events {
		g.Reselect(vars)
	}
}

// applyVersion performs the create/update/delete on the version group
// at key id inside groups, creating and pruning the group as needed.
func applyVersion[K comparable, V Version](d *Deck, groups map[K]*Group[V], id K, ev watch.Event, create func() V) {
	g, ok := groups[id]
	if ev.Op.Has(watch.OpDeleted) {
		if !ok {
			return
		}
		g.Remove(ev.Path())
		if g.Len() == 0 {
			delete(groups, id)
			return
		}
		g.Reselect(d.vars)
		return
	}

	if !ok {
		g = NewGroup[V]()
		groups[id] = g
	}
	if existing, found := g.Get(ev.Path()); found && ev.Op.Has(watch.OpModified) {
		existing.Touched(ev.Time)
	} else {
		g.Add(create())
	}
	g.Reselect(d.vars)
}

// scanDir synthesizes create events for a directory's current entries,
// routed through the owning entity's normal dispatch path.
func scanDir(dir string, h FileHandler, rt *Runtime) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		rt.Log.Warn("cannot scan %s: %v", dir, err)
		return
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		op := watch.OpCreated
		if entry.IsDir() {
			op |= watch.OpDir
		}
		h.HandleFileEvent(watch.Event{
			Dir:  dir,
			Name: entry.Name(),
			Op:   op,
			Time: info.ModTime(),
		})
	}
}
