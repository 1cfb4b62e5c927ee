package entity

import "time"

// ImageLayer is one version of a key's image layer at a given rank.
// The backing file is handed to the sink as an opaque source path;
// keydeck never decodes image data itself.
type ImageLayer struct {
	base
	key  *Key
	rank int
}

func newImageLayer(key *Key, path string, parsed *ParsedName, mtime time.Time) *ImageLayer {
	return &ImageLayer{
		base: newBase(path, parsed, mtime),
		key:  key,
		rank: parsed.Rank,
	}
}

// Rank is the layer number; higher ranks draw above lower ones.
func (l *ImageLayer) Rank() int { return l.rank }

func (l *ImageLayer) Created()     {}
func (l *ImageLayer) Deleted()     {}
func (l *ImageLayer) Activated()   {}
func (l *ImageLayer) Deactivated() {}

// TextLine is one version of a key's text line at a given rank.
type TextLine struct {
	base
	key  *Key
	rank int
}

func newTextLine(key *Key, path string, parsed *ParsedName, mtime time.Time) *TextLine {
	return &TextLine{
		base: newBase(path, parsed, mtime),
		key:  key,
		rank: parsed.Rank,
	}
}

// Rank is the line number; lines render in ascending rank order.
func (t *TextLine) Rank() int { return t.rank }

// Text is the displayable content: the text= argument when present,
// otherwise the name argument.
func (t *TextLine) Text() string {
	if v, ok := t.args["text"]; ok {
		return v
	}
	return t.name
}

func (t *TextLine) Created()     {}
func (t *TextLine) Deleted()     {}
func (t *TextLine) Activated()   {}
func (t *TextLine) Deactivated() {}
