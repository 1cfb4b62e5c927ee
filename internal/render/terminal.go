package render

import (
	"path/filepath"
	"sync"

	"github.com/gdamore/tcell/v2"
)

// TerminalSink renders the key grid into a terminal using tcell.
//
// Each key is drawn as a bordered box holding a short label: the first
// text line when present, otherwise the base name of the topmost image
// layer. Content from deeper overlay pages is drawn dimmed. This is the
// preview backend; it makes no attempt at pixel fidelity.
type TerminalSink struct {
	mu sync.Mutex

	screen   tcell.Screen
	geometry Geometry

	// keys holds the current content per key index for redraws.
	keys map[int]KeyImage

	brightness int
}

// NewTerminalSink creates a terminal preview sink for the given grid.
func NewTerminalSink(geometry Geometry) (*TerminalSink, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}
	screen.EnableMouse()
	s := &TerminalSink{
		screen:     screen,
		geometry:   geometry,
		keys:       make(map[int]KeyImage),
		brightness: 100,
	}
	s.redraw()
	return s, nil
}

func (s *TerminalSink) Geometry() Geometry {
	return s.geometry
}

func (s *TerminalSink) SetKey(row, col int, img KeyImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[s.geometry.Index(row, col)] = img
	s.redraw()
	return nil
}

func (s *TerminalSink) ClearKey(row, col int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, s.geometry.Index(row, col))
	s.redraw()
	return nil
}

func (s *TerminalSink) SetBrightness(level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	s.brightness = level
	s.redraw()
	return nil
}

func (s *TerminalSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screen.Fini()
	return nil
}

// PollEvent blocks for the next terminal event. The preview command
// uses this to detect resize and quit keys.
func (s *TerminalSink) PollEvent() tcell.Event {
	return s.screen.PollEvent()
}

// KeyAt maps screen coordinates to the grid cell drawn there. Used by
// the preview command to turn mouse clicks into key presses.
func (s *TerminalSink) KeyAt(x, y int) (row, col int, ok bool) {
	row = y/boxHeight + 1
	col = x/boxWidth + 1
	return row, col, s.geometry.Contains(row, col)
}

// Cell box dimensions, border included.
const (
	boxWidth  = 12
	boxHeight = 4
)

// redraw repaints the whole grid. Callers must hold s.mu.
func (s *TerminalSink) redraw() {
	s.screen.Clear()

	for row := 1; row <= s.geometry.Rows; row++ {
		for col := 1; col <= s.geometry.Cols; col++ {
			img, ok := s.keys[s.geometry.Index(row, col)]
			s.drawBox(row, col, img, ok)
		}
	}

	s.screen.Show()
}

func (s *TerminalSink) drawBox(row, col int, img KeyImage, set bool) {
	x := (col - 1) * boxWidth
	y := (row - 1) * boxHeight

	style := tcell.StyleDefault
	if s.brightness < 50 || img.Dim > 0 {
		style = style.Dim(true)
	}

	for dx := 0; dx < boxWidth; dx++ {
		s.screen.SetContent(x+dx, y, tcell.RuneHLine, nil, style)
		s.screen.SetContent(x+dx, y+boxHeight-1, tcell.RuneHLine, nil, style)
	}
	for dy := 0; dy < boxHeight; dy++ {
		s.screen.SetContent(x, y+dy, tcell.RuneVLine, nil, style)
		s.screen.SetContent(x+boxWidth-1, y+dy, tcell.RuneVLine, nil, style)
	}
	s.screen.SetContent(x, y, tcell.RuneULCorner, nil, style)
	s.screen.SetContent(x+boxWidth-1, y, tcell.RuneURCorner, nil, style)
	s.screen.SetContent(x, y+boxHeight-1, tcell.RuneLLCorner, nil, style)
	s.screen.SetContent(x+boxWidth-1, y+boxHeight-1, tcell.RuneLRCorner, nil, style)

	if !set {
		return
	}
	label := keyLabel(img)
	for i, r := range label {
		if i >= boxWidth-2 {
			break
		}
		s.screen.SetContent(x+1+i, y+1, r, nil, style)
	}
}

// keyLabel picks a short label for a composed key.
func keyLabel(img KeyImage) string {
	if len(img.Texts) > 0 {
		return img.Texts[0].Text
	}
	if len(img.Layers) > 0 {
		return filepath.Base(img.Layers[len(img.Layers)-1].Source)
	}
	return ""
}
