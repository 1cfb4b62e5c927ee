package entity

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
)

// Describe writes a human-readable dump of the entity tree: every page
// group with its version count and active version, each page's keys,
// and each key's content and triggers. Honors whatever filters the
// runtime was built with, since filtered entities were never
// materialized.
func (d *Deck) Describe(w io.Writer) {
	fmt.Fprintf(w, "deck %s\n", d.dir)
	fmt.Fprintf(w, "  grid %dx%d, brightness %d, current page %d\n",
		d.rt.Geometry.Rows, d.rt.Geometry.Cols, d.brightness, d.current)
	if len(d.vars) > 0 {
		fmt.Fprintf(w, "  vars %s\n", formatVars(d.vars))
	}

	numbers := make([]int, 0, len(d.pages))
	for number := range d.pages {
		numbers = append(numbers, number)
	}
	sort.Ints(numbers)

	for _, number := range numbers {
		g := d.pages[number]
		fmt.Fprintf(w, "  page %d (%d version%s)", number, g.Len(), plural(g.Len()))
		p, ok := g.Active()
		if !ok {
			fmt.Fprintln(w, ": no active version")
			continue
		}
		fmt.Fprintf(w, ": %s", filepath.Base(p.path))
		if p.Transparent() {
			fmt.Fprint(w, " [overlay]")
		}
		fmt.Fprintln(w)
		describeKeys(w, p)
		describeEvents(w, "    ", p.events)
	}
	describeEvents(w, "  ", d.events)

	if pending := d.pendingRefs(); len(pending) > 0 {
		fmt.Fprintf(w, "  waiting refs: %s\n", strings.Join(pending, ", "))
	}
}

func describeKeys(w io.Writer, p *Page) {
	ids := make([]KeyID, 0, len(p.keys))
	for id := range p.keys {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Row != ids[j].Row {
			return ids[i].Row < ids[j].Row
		}
		return ids[i].Col < ids[j].Col
	})

	for _, id := range ids {
		g := p.keys[id]
		fmt.Fprintf(w, "    key %s (%d version%s)", id, g.Len(), plural(g.Len()))
		k, ok := g.Active()
		if !ok {
			fmt.Fprintln(w, ": no active version")
			continue
		}
		var parts []string
		if ranks := activeRanks(k.layers); len(ranks) > 0 {
			parts = append(parts, fmt.Sprintf("layers %v", ranks))
		}
		if ranks := activeRanks(k.lines); len(ranks) > 0 {
			parts = append(parts, fmt.Sprintf("texts %v", ranks))
		}
		for _, kind := range sortedEventKinds(k.events) {
			parts = append(parts, "on "+kind)
		}
		if k.ref != nil {
			parts = append(parts, "ref "+k.ref.String())
		}
		if len(parts) == 0 {
			fmt.Fprintln(w, ": empty")
			continue
		}
		fmt.Fprintf(w, ": %s\n", strings.Join(parts, ", "))
	}
}

func describeEvents(w io.Writer, indent string, events map[string]*Group[*Event]) {
	for _, kind := range sortedEventKinds(events) {
		g := events[kind]
		if ev, ok := g.Active(); ok {
			fmt.Fprintf(w, "%son %s: %s\n", indent, kind, filepath.Base(ev.path))
		}
	}
}

func sortedEventKinds(events map[string]*Group[*Event]) []string {
	kinds := make([]string, 0, len(events))
	for kind, g := range events {
		if _, ok := g.Active(); ok {
			kinds = append(kinds, kind)
		}
	}
	sort.Strings(kinds)
	return kinds
}

func (d *Deck) pendingRefs() []string {
	var out []string
	for _, byPath := range d.refs.waiting {
		for path, wr := range byPath {
			out = append(out, fmt.Sprintf("%s -> %s", filepath.Base(path), wr.Ref))
		}
	}
	sort.Strings(out)
	return out
}

func formatVars(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+vars[k])
	}
	return strings.Join(parts, " ")
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
