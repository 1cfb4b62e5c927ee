// Package render defines the device sink contract and the serialized
// key writer that pushes composed key content to a sink.
//
// The core never encodes images: a composed key is an ordered stack of
// opaque layer sources plus text lines, and the sink decides how to
// turn that into pixels (USB upload, terminal cells, nothing).
package render

import "sync"

// Geometry describes the physical key grid of a device.
type Geometry struct {
	Rows int
	Cols int
}

// Keys returns the number of physical keys.
func (g Geometry) Keys() int {
	return g.Rows * g.Cols
}

// Index converts 1-based (row, col) to a 0-based key index.
func (g Geometry) Index(row, col int) int {
	return (row-1)*g.Cols + (col - 1)
}

// Position converts a 0-based key index to 1-based (row, col).
func (g Geometry) Position(index int) (row, col int) {
	return index/g.Cols + 1, index%g.Cols + 1
}

// Contains reports whether (row, col) is inside the grid.
func (g Geometry) Contains(row, col int) bool {
	return row >= 1 && row <= g.Rows && col >= 1 && col <= g.Cols
}

// Layer is one opaque image source contributing to a key.
type Layer struct {
	// Number is the layer rank; higher renders above lower.
	Number int

	// Source is the backing file path of the image content.
	Source string
}

// TextLine is one line of text drawn over the image layers.
type TextLine struct {
	// Number is the line rank.
	Number int

	// Text is the resolved text content.
	Text string
}

// KeyImage is the composed, opaque content of one physical key.
type KeyImage struct {
	// Layers is ordered bottom to top.
	Layers []Layer

	// Texts is ordered by line rank.
	Texts []TextLine

	// Dim is the overlay depth of the owning page; sinks may darken
	// content from deeper pages. Zero means fully visible.
	Dim int
}

// Empty reports whether the image has no content at all.
func (img KeyImage) Empty() bool {
	return len(img.Layers) == 0 && len(img.Texts) == 0
}

// Sink receives composed key content for a device.
//
// Implementations must tolerate concurrent calls for different keys;
// the Writer guarantees calls for the same key are serialized.
type Sink interface {
	// Geometry returns the device key grid.
	Geometry() Geometry

	// SetKey displays img on the given key.
	SetKey(row, col int, img KeyImage) error

	// ClearKey blanks the given key.
	ClearKey(row, col int) error

	// SetBrightness sets the panel brightness, 0-100.
	SetBrightness(level int) error

	// Close releases the device.
	Close() error
}

// NullSink discards everything. Used by inspect mode and tests that
// only exercise graph state.
type NullSink struct {
	geometry Geometry
}

// NewNullSink creates a sink with the given geometry that ignores writes.
func NewNullSink(geometry Geometry) *NullSink {
	return &NullSink{geometry: geometry}
}

func (s *NullSink) Geometry() Geometry { return s.geometry }

func (s *NullSink) SetKey(int, int, KeyImage) error { return nil }

func (s *NullSink) ClearKey(int, int) error { return nil }

func (s *NullSink) SetBrightness(int) error { return nil }

func (s *NullSink) Close() error { return nil }

// MemorySink records the last content written to each key. Test double.
type MemorySink struct {
	mu sync.Mutex

	geometry   Geometry
	keys       map[int]KeyImage
	brightness int

	// SetCount counts SetKey calls, ClearCount counts ClearKey calls.
	SetCount   int
	ClearCount int
}

// NewMemorySink creates a recording sink with the given geometry.
func NewMemorySink(geometry Geometry) *MemorySink {
	return &MemorySink{
		geometry: geometry,
		keys:     make(map[int]KeyImage),
	}
}

func (s *MemorySink) Geometry() Geometry { return s.geometry }

func (s *MemorySink) SetKey(row, col int, img KeyImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[s.geometry.Index(row, col)] = img
	s.SetCount++
	return nil
}

func (s *MemorySink) ClearKey(row, col int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, s.geometry.Index(row, col))
	s.ClearCount++
	return nil
}

func (s *MemorySink) SetBrightness(level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brightness = level
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Key returns the recorded content for (row, col) and whether it is set.
func (s *MemorySink) Key(row, col int) (KeyImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.keys[s.geometry.Index(row, col)]
	return img, ok
}

// SetKeys returns the number of keys currently holding content.
func (s *MemorySink) SetKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Brightness returns the last brightness level set.
func (s *MemorySink) Brightness() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.brightness
}
