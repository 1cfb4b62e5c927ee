package render

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestGeometry(t *testing.T) {
	g := Geometry{Rows: 2, Cols: 4}

	if g.Keys() != 8 {
		t.Errorf("Keys() = %d, want 8", g.Keys())
	}
	if got := g.Index(1, 1); got != 0 {
		t.Errorf("Index(1,1) = %d, want 0", got)
	}
	if got := g.Index(2, 4); got != 7 {
		t.Errorf("Index(2,4) = %d, want 7", got)
	}
	row, col := g.Position(5)
	if row != 2 || col != 2 {
		t.Errorf("Position(5) = (%d,%d), want (2,2)", row, col)
	}
	if !g.Contains(2, 4) {
		t.Error("Contains(2,4) should be true")
	}
	if g.Contains(3, 1) || g.Contains(0, 1) {
		t.Error("out-of-grid positions should not be contained")
	}
}

func TestWriterDeliversLatest(t *testing.T) {
	sink := NewMemorySink(Geometry{Rows: 2, Cols: 2})
	w := NewWriter(sink)

	w.SetKey(1, 1, KeyImage{Texts: []TextLine{{Number: 1, Text: "first"}}})
	w.SetKey(1, 1, KeyImage{Texts: []TextLine{{Number: 1, Text: "second"}}})
	w.SetKey(2, 2, KeyImage{Texts: []TextLine{{Number: 1, Text: "other"}}})
	w.Close()

	img, ok := sink.Key(1, 1)
	if !ok {
		t.Fatal("key (1,1) should be set")
	}
	if img.Texts[0].Text != "second" {
		t.Errorf("key (1,1) text = %q, want the latest write", img.Texts[0].Text)
	}
	if _, ok := sink.Key(2, 2); !ok {
		t.Error("key (2,2) should be set")
	}
}

func TestWriterClear(t *testing.T) {
	sink := NewMemorySink(Geometry{Rows: 1, Cols: 2})
	w := NewWriter(sink)

	w.SetKey(1, 1, KeyImage{Layers: []Layer{{Number: 1, Source: "/img"}}})
	w.Close()
	if _, ok := sink.Key(1, 1); !ok {
		t.Fatal("key should be set before clear")
	}

	w2 := NewWriter(sink)
	w2.ClearKey(1, 1)
	w2.Close()
	if _, ok := sink.Key(1, 1); ok {
		t.Error("key should be cleared")
	}
}

func TestWriterFlushWaitsForDelivery(t *testing.T) {
	sink := NewMemorySink(Geometry{Rows: 2, Cols: 2})
	w := NewWriter(sink)
	defer w.Close()

	for col := 1; col <= 2; col++ {
		w.SetKey(1, col, KeyImage{Texts: []TextLine{{Number: 1, Text: "x"}}})
	}
	w.Flush()

	if sink.SetKeys() != 2 {
		t.Errorf("after Flush %d keys set, want 2", sink.SetKeys())
	}

	w.ClearKey(1, 1)
	w.Flush()
	if _, ok := sink.Key(1, 1); ok {
		t.Error("clear not delivered by Flush")
	}
}

func TestWriterIgnoresOutOfGrid(t *testing.T) {
	sink := NewMemorySink(Geometry{Rows: 1, Cols: 1})
	w := NewWriter(sink)

	w.SetKey(5, 5, KeyImage{})
	w.Close()

	if sink.SetCount != 0 {
		t.Errorf("SetCount = %d, want 0", sink.SetCount)
	}
}

// failingSink fails every write, for error-handler coverage.
type failingSink struct{}

func (failingSink) Geometry() Geometry { return Geometry{Rows: 1, Cols: 1} }

func (failingSink) SetKey(int, int, KeyImage) error {
	return errors.New("device gone")
}

func (failingSink) ClearKey(int, int) error { return nil }

func (failingSink) SetBrightness(int) error { return nil }

func (failingSink) Close() error { return nil }

func TestWriterReportsErrors(t *testing.T) {
	var mu sync.Mutex
	var failures int
	w := NewWriter(failingSink{}, WithErrorHandler(func(row, col int, err error) {
		mu.Lock()
		failures++
		mu.Unlock()
	}))

	w.SetKey(1, 1, KeyImage{Texts: []TextLine{{Text: "x"}}})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := failures
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("error handler was never invoked")
		}
		time.Sleep(time.Millisecond)
	}
	w.Close()
}
