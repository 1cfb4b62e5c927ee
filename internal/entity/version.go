package entity

// Group holds the competing versions of one entity identity and tracks
// which one, if any, is active. Versions are keyed by source path.
type Group[V Version] struct {
	versions map[string]V
	active   string
}

// NewGroup returns an empty version group.
func NewGroup[V Version]() *Group[V] {
	return &Group[V]{versions: make(map[string]V)}
}

// Add inserts or replaces the version backed by its source path and
// fires its Created hook. Replacing an existing version deletes the
// old one first.
func (g *Group[V]) Add(v V) {
	path := v.SourcePath()
	if old, ok := g.versions[path]; ok {
		if g.active == path {
			old.Deactivated()
			g.active = ""
		}
		old.Deleted()
	}
	g.versions[path] = v
	v.Created()
}

// Remove deletes the version backed by path, firing Deactivated first
// when it was the active one, then Deleted. Reports whether a version
// was removed and whether it had been active.
func (g *Group[V]) Remove(path string) (removed, wasActive bool) {
	v, ok := g.versions[path]
	if !ok {
		return false, false
	}
	if g.active == path {
		v.Deactivated()
		g.active = ""
		wasActive = true
	}
	delete(g.versions, path)
	v.Deleted()
	return true, wasActive
}

// Get returns the version backed by path.
func (g *Group[V]) Get(path string) (V, bool) {
	v, ok := g.versions[path]
	return v, ok
}

// Active returns the currently active version.
func (g *Group[V]) Active() (V, bool) {
	var zero V
	if g.active == "" {
		return zero, false
	}
	v, ok := g.versions[g.active]
	if !ok {
		return zero, false
	}
	return v, true
}

// ActivePath returns the active version's source path, or "".
func (g *Group[V]) ActivePath() string { return g.active }

// Len returns the number of versions in the group.
func (g *Group[V]) Len() int { return len(g.versions) }

// Each calls fn for every version in the group, in no defined order.
func (g *Group[V]) Each(fn func(V)) {
	for _, v := range g.versions {
		fn(v)
	}
}

// pick returns the path of the version that should be active under
// vars, or "" when no version is eligible. Among eligible versions a
// higher specificity wins, then a later modification time, then the
// lexicographically greater path. The order is total, so selection is
// deterministic for any fixed set of versions.
func (g *Group[V]) pick(vars map[string]string) string {
	best := ""
	var bestV V
	for path, v := range g.versions {
		if v.IsDisabled() || !v.Eligible(vars) {
			continue
		}
		if best == "" || betterVersion(v, path, bestV, best) {
			best = path
			bestV = v
		}
	}
	return best
}

func betterVersion[V Version](a V, aPath string, b V, bPath string) bool {
	if a.Specificity() != b.Specificity() {
		return a.Specificity() > b.Specificity()
	}
	if !a.ModTime().Equal(b.ModTime()) {
		return a.ModTime().After(b.ModTime())
	}
	return aPath > bPath
}

// Reselect recomputes the active version under vars. When the winner
// changes, the old active version is deactivated before the new one is
// activated. Reports whether the active version changed.
func (g *Group[V]) Reselect(vars map[string]string) bool {
	next := g.pick(vars)
	if next == g.active {
		return false
	}
	if old, ok := g.versions[g.active]; ok {
		old.Deactivated()
	}
	g.active = next
	if nv, ok := g.versions[next]; ok {
		nv.Activated()
	}
	return true
}
