package entity

import (
	"testing"
	"time"
)

// fakeVersion records lifecycle calls for group tests. It is eligible
// when it has no condition value or the vars "mode" entry matches it.
type fakeVersion struct {
	path     string
	disabled bool
	mode     string
	mtime    time.Time
	calls    []string
}

func (v *fakeVersion) SourcePath() string { return v.path }
func (v *fakeVersion) IsDisabled() bool   { return v.disabled }

func (v *fakeVersion) Eligible(vars map[string]string) bool {
	return v.mode == "" || vars["mode"] == v.mode
}

func (v *fakeVersion) Specificity() int {
	if v.mode != "" {
		return 1
	}
	return 0
}

func (v *fakeVersion) ModTime() time.Time { return v.mtime }

func (v *fakeVersion) Created() { v.calls = append(v.calls, "created") }

func (v *fakeVersion) Touched(mtime time.Time) { v.mtime = mtime }

func (v *fakeVersion) Deleted() { v.calls = append(v.calls, "deleted") }

func (v *fakeVersion) Activated() { v.calls = append(v.calls, "activated") }

func (v *fakeVersion) Deactivated() { v.calls = append(v.calls, "deactivated") }

func (v *fakeVersion) lastCall() string {
	if len(v.calls) == 0 {
		return ""
	}
	return v.calls[len(v.calls)-1]
}

func TestGroupAddActivates(t *testing.T) {
	g := NewGroup[*fakeVersion]()
	v := &fakeVersion{path: "/deck/PAGE_1"}
	g.Add(v)

	if changed := g.Reselect(nil); !changed {
		t.Fatal("Reselect did not activate the only version")
	}
	if v.lastCall() != "activated" {
		t.Errorf("calls = %v, want activated last", v.calls)
	}
	if active, ok := g.Active(); !ok || active != v {
		t.Error("Active() does not return the added version")
	}
}

func TestGroupConditionedOutranksDefault(t *testing.T) {
	g := NewGroup[*fakeVersion]()
	plain := &fakeVersion{path: "/deck/PAGE_3", mtime: time.Unix(100, 0)}
	evening := &fakeVersion{path: "/deck/PAGE_3;when=evening", mode: "evening", mtime: time.Unix(50, 0)}
	g.Add(plain)
	g.Add(evening)

	g.Reselect(map[string]string{"mode": "evening"})
	if active, _ := g.Active(); active != evening {
		t.Fatalf("active = %v, want conditioned version", active.path)
	}

	// Dropping the matching input deactivates the conditioned version
	// and falls back to the default.
	g.Reselect(nil)
	if evening.lastCall() != "deactivated" {
		t.Errorf("evening calls = %v, want deactivated last", evening.calls)
	}
	if active, _ := g.Active(); active != plain {
		t.Fatalf("active = %v, want unconditioned fallback", active.path)
	}
}

func TestGroupSelectionDeterministic(t *testing.T) {
	g := NewGroup[*fakeVersion]()
	mtime := time.Unix(100, 0)
	a := &fakeVersion{path: "/deck/a", mtime: mtime}
	b := &fakeVersion{path: "/deck/b", mtime: mtime}
	g.Add(a)
	g.Add(b)

	g.Reselect(nil)
	first := g.ActivePath()
	if first != "/deck/b" {
		t.Errorf("tiebreak picked %q, want lexicographically greater path", first)
	}
	for i := 0; i < 10; i++ {
		if changed := g.Reselect(nil); changed {
			t.Fatal("repeated Reselect with unchanged inputs flapped")
		}
	}
}

func TestGroupNewerModTimeWins(t *testing.T) {
	g := NewGroup[*fakeVersion]()
	old := &fakeVersion{path: "/deck/z", mtime: time.Unix(100, 0)}
	newer := &fakeVersion{path: "/deck/a", mtime: time.Unix(200, 0)}
	g.Add(old)
	g.Add(newer)

	g.Reselect(nil)
	if g.ActivePath() != "/deck/a" {
		t.Errorf("active = %q, want the newer version", g.ActivePath())
	}
}

func TestGroupDisabledNeverActive(t *testing.T) {
	g := NewGroup[*fakeVersion]()
	g.Add(&fakeVersion{path: "/deck/PAGE_1;disabled", disabled: true})

	g.Reselect(nil)
	if _, ok := g.Active(); ok {
		t.Error("disabled version became active")
	}
}

func TestGroupRemoveActive(t *testing.T) {
	g := NewGroup[*fakeVersion]()
	a := &fakeVersion{path: "/deck/a"}
	b := &fakeVersion{path: "/deck/b"}
	g.Add(a)
	g.Add(b)
	g.Reselect(nil)

	removed, wasActive := g.Remove("/deck/b")
	if !removed || !wasActive {
		t.Fatalf("Remove = (%v, %v), want (true, true)", removed, wasActive)
	}
	if b.calls[len(b.calls)-1] != "deleted" || b.calls[len(b.calls)-2] != "deactivated" {
		t.Errorf("calls = %v, want deactivated then deleted", b.calls)
	}

	g.Reselect(nil)
	if active, _ := g.Active(); active != a {
		t.Error("surviving version not promoted after removal")
	}
}

func TestGroupAtomicTransition(t *testing.T) {
	g := NewGroup[*fakeVersion]()
	var order []string
	a := &fakeVersion{path: "/deck/a", mtime: time.Unix(100, 0)}
	b := &fakeVersion{path: "/deck/b", mode: "evening", mtime: time.Unix(100, 0)}
	g.Add(a)
	g.Add(b)
	g.Reselect(nil)

	// Record the interleaving across both versions for the switch.
	a.calls = nil
	b.calls = nil
	g.Reselect(map[string]string{"mode": "evening"})
	order = append(order, a.calls...)
	order = append(order, b.calls...)

	if len(order) != 2 || order[0] != "deactivated" || order[1] != "activated" {
		t.Errorf("transition order = %v, want deactivate then activate", order)
	}
}
