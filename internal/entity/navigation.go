package entity

import "sort"

// Virtual navigation codes accepted wherever a page ref is; other
// tooling writes these into the set-current-page control file.
const (
	NavFirst    = "__first__"
	NavBack     = "__back__"
	NavPrevious = "__prev__"
	NavNext     = "__next__"
)

// Navigate applies a navigation request: a virtual code, a literal
// page number, or a page name. A literal jump pushes the shown page
// onto the back stack; FIRST, PREVIOUS and NEXT leave the stack
// untouched; BACK pops it. Unresolvable requests are no-ops.
func (d *Deck) Navigate(ref string) {
	switch ref {
	case NavFirst:
		if number, ok := d.firstPage(); ok {
			d.goTo(number, false)
		}
	case NavBack:
		d.back()
	case NavPrevious:
		if number, ok := d.adjacentPage(-1); ok {
			d.goTo(number, false)
		}
	case NavNext:
		if number, ok := d.adjacentPage(1); ok {
			d.goTo(number, false)
		}
	default:
		if p, ok := d.lookupPage(ref); ok {
			d.goTo(p.number, true)
		} else {
			d.rt.Log.Debug("navigation target %q not found", ref)
		}
	}
}

// availablePages returns the sorted numbers that currently have an
// active page version.
func (d *Deck) availablePages() []int {
	numbers := make([]int, 0, len(d.pages))
	for number, g := range d.pages {
		if _, ok := g.Active(); ok {
			numbers = append(numbers, number)
		}
	}
	sort.Ints(numbers)
	return numbers
}

// firstPage returns the lowest available page number.
func (d *Deck) firstPage() (int, bool) {
	numbers := d.availablePages()
	if len(numbers) == 0 {
		return 0, false
	}
	return numbers[0], true
}

// adjacentPage returns the available page adjacent to the current one.
// With wrap navigation off the edges are no-ops; with it on the range
// wraps around.
func (d *Deck) adjacentPage(delta int) (int, bool) {
	numbers := d.availablePages()
	if len(numbers) == 0 || d.current == 0 {
		return 0, false
	}
	idx := sort.SearchInts(numbers, d.current)
	if idx == len(numbers) || numbers[idx] != d.current {
		// Current page vanished from the range; fall back to an edge.
		if delta > 0 && idx < len(numbers) {
			return numbers[idx], true
		}
		if delta < 0 && idx > 0 {
			return numbers[idx-1], true
		}
		return 0, false
	}
	next := idx + delta
	if next < 0 || next >= len(numbers) {
		if !d.rt.WrapNavigation {
			return 0, false
		}
		next = (next + len(numbers)) % len(numbers)
	}
	if numbers[next] == d.current {
		return 0, false
	}
	return numbers[next], true
}

// goTo makes number the shown page. With push set the previously shown
// page lands on the back stack, unless it already is the target.
func (d *Deck) goTo(number int, push bool) {
	if number == d.current {
		return
	}
	if push && d.current != 0 {
		d.stack = append(d.stack, d.current)
	}
	d.setCurrent(number)
}

// back pops the most recent stack entry and shows it. Entries whose
// page no longer exists are discarded. An empty stack is a no-op.
func (d *Deck) back() {
	for len(d.stack) > 0 {
		number := d.stack[len(d.stack)-1]
		d.stack = d.stack[:len(d.stack)-1]
		if _, ok := d.activePage(number); ok {
			d.setCurrent(number)
			return
		}
	}
}

// forceBack reacts to the shown page disappearing: one BACK when the
// stack has anywhere to go, otherwise the surface empties.
func (d *Deck) forceBack() {
	before := d.current
	d.back()
	if d.current == before {
		d.setCurrent(0)
	}
}

// setCurrent switches the shown page and rebuilds the overlay chain:
// returning to a page already in the chain truncates everything above
// it, a transparent page stacks on top, and anything else replaces the
// chain outright.
func (d *Deck) setCurrent(number int) {
	d.current = number

	switch {
	case number == 0:
		d.visible = nil
	case d.chainIndex(number) >= 0:
		d.visible = d.visible[d.chainIndex(number):]
	default:
		p, ok := d.activePage(number)
		if ok && p.Transparent() && len(d.visible) > 0 {
			d.visible = append([]int{number}, d.visible...)
		} else {
			d.visible = []int{number}
		}
	}

	d.rt.Log.Info("current page %d (chain %v)", d.current, d.visible)
	d.writeCurrentPage()
	d.renderVisible()
}

func (d *Deck) chainIndex(number int) int {
	for i, n := range d.visible {
		if n == number {
			return i
		}
	}
	return -1
}
