package entity

import (
	"time"

	"github.com/dshills/keydeck/internal/render"
	"github.com/dshills/keydeck/internal/watch"
)

// Page is one version of a numbered page. The backing directory holds
// the page's key directories and page-level event triggers; the active
// version's directory is watched and its children materialized.
type Page struct {
	base
	deck   *Deck
	number int

	token  string
	keys   map[KeyID]*Group[*Key]
	events map[string]*Group[*Event]

	rendered bool
}

func newPage(deck *Deck, path string, parsed *ParsedName, mtime time.Time) *Page {
	return &Page{
		base:   newBase(path, parsed, mtime),
		deck:   deck,
		number: parsed.Page,
		keys:   make(map[KeyID]*Group[*Key]),
		events: make(map[string]*Group[*Event]),
	}
}

// Number returns the page number.
func (p *Page) Number() int { return p.number }

// Transparent reports whether the page lets the chain below it show
// through (the overlay argument).
func (p *Page) Transparent() bool {
	return p.args["overlay"] == "true"
}

func (p *Page) Vars() map[string]string {
	return mergeVars(p.deck.Vars(), map[string]string{
		"page":           itoa(p.number),
		"page_name":      p.DisplayName(),
		"page_directory": p.path,
	})
}

func (p *Page) Created() {}

// Activated watches the page directory, materializes its children,
// satisfies waiting references to this page, and claims the surface
// when no page is shown yet.
func (p *Page) Activated() {
	rt := p.deck.rt
	p.token = rt.watchDir(p.path, p)
	scanDir(p.path, p, rt)

	p.deck.pageCreated(p)
}

func (p *Page) Deactivated() {
	p.setRendered(false)
	p.deck.rt.unwatchDir(p.token, p.path)
	p.token = ""
	p.dropChildren()
	p.deck.dropRefsFrom(p)
}

func (p *Page) Deleted() {
	p.dropChildren()
	p.deck.dropRefsFrom(p)
}

func (p *Page) dropChildren() {
	for id, g := range p.keys {
		g.Each(func(v *Key) { v.Deleted() })
		delete(p.keys, id)
	}
	for kind, g := range p.events {
		g.Each(func(v *Event) { v.Deleted() })
		delete(p.events, kind)
	}
}

// HandleFileEvent dispatches a change inside the page directory to the
// addressed key or event group.
func (p *Page) HandleFileEvent(ev watch.Event) {
	if ev.Dir != p.path {
		return
	}
	rt := p.deck.rt
	for _, kind := range []Kind{KindKey, KindEvent} {
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
		p.applyChild(kind, parsed, ev)
		return
	}
}

func (p *Page) applyChild(kind Kind, parsed *ParsedName, ev watch.Event) {
	d := p.deck

	switch kind {
	case KindKey:
		id := KeyID{Row: parsed.Row, Col: parsed.Col}
		if val, ok := d.rt.Filters.Value(KindKey); ok {
			if val != id.String() && (!parsed.Named || val != parsed.Name) {
				return
			}
		}

		// A key ref whose target page does not exist yet is queued on
		// the deck, not materialized. Deleting the referencing file
		// discards its queue entry so a later target cannot promote it.
		if parsed.Ref != nil && parsed.Ref.Page != "" {
			if ev.Op.Has(watch.OpDeleted) {
				d.refs.remove(KindPage, ev.Path())
			} else if _, ok := d.lookupPage(parsed.Ref.Page); !ok {
				d.refs.add(KindPage, ev.Path(), WaitingRef{
					Parent: p, Dir: ev.Dir, Name: ev.Name, Op: ev.Op, Ref: *parsed.Ref,
				})
				return
			} else {
				d.refs.remove(KindPage, ev.Path())
			}
		}

		applyVersion(d, p.keys, id, ev, func() *Key {
			return newKey(p, ev.Path(), parsed, ev.Time)
		})
		if key, ok := p.activeKey(id); ok {
			d.keyCreated(key)
		}

	case KindEvent:
		// Pages only host start and end events. Press-style tags
		// belong to keys and can never fire here.
		if parsed.Event != EventStart && parsed.Event != EventEnd {
			d.rt.Log.Warn("discarding %s/%s: event not valid on a page", ev.Dir, ev.Name)
			return
		}
		applyVersion(d, p.events, parsed.Event, ev, func() *Event {
			return newEvent(d, p, ev.Path(), parsed, ev.Time)
		})
	}

	if p.visible() {
		d.renderVisible()
	}
}

// activeKey returns the active key version at id, if any.
func (p *Page) activeKey(id KeyID) (*Key, bool) {
	g, ok := p.keys[id]
	if !ok {
		return nil, false
	}
	return g.Active()
}

// keyByName returns the active key version carrying the name argument.
func (p *Page) keyByName(name string) (*Key, bool) {
	for _, g := range p.keys {
		if k, ok := g.Active(); ok && k.named && k.name == name {
			return k, true
		}
	}
	return nil, false
}

// visible reports whether the page is part of the current overlay
// chain.
func (p *Page) visible() bool {
	for _, number := range p.deck.visible {
		if number == p.number {
			return true
		}
	}
	return false
}

// renderInto contributes the page's keys to every still-unresolved
// grid slot. The accumulator maps each claimed slot to its owning key.
func (p *Page) renderInto(resolved map[KeyID]*Key, geometry render.Geometry) {
	for id, g := range p.keys {
		if !geometry.Contains(id.Row, id.Col) {
			continue
		}
		if _, taken := resolved[id]; taken {
			continue
		}
		if key, ok := g.Active(); ok {
			resolved[id] = key
		}
	}
}

// setRendered flips the page's on-surface state, firing start and end
// triggers on the transitions.
func (p *Page) setRendered(rendered bool) {
	if rendered == p.rendered {
		return
	}
	p.rendered = rendered
	kind := EventEnd
	if rendered {
		kind = EventStart
	}
	if g, ok := p.events[kind]; ok {
		if ev, okActive := g.Active(); okActive {
			ev.Fire()
		}
	}
	if !rendered {
		for _, g := range p.events {
			if ev, ok := g.Active(); ok {
				ev.Stop()
			}
		}
	}
}

// reselectChildren re-evaluates every child group under new condition
// variables.
func (p *Page) reselectChildren(vars map[string]string) {
	for _, g := range p.keys {
		g.Reselect(vars)
	}
	for _, g := range p.events {
		g.Reselect(vars)
	}
	for _, g := range p.keys {
		if key, ok := g.Active(); ok {
			key.reselectChildren(vars)
		}
	}
}
