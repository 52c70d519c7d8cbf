package display

import (
	"errors"
	"fmt"
	"image"
)

// ErrInvalidLayout is wrapped by layout and slot validation errors.
var ErrInvalidLayout = errors.New("invalid display layout")

// Layout is the display surface divided into a grid of equal cells.
type Layout struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
	Rows   int `mapstructure:"rows"`
	Cols   int `mapstructure:"cols"`
}

// Validate checks that the grid fits the surface.
func (l Layout) Validate() error {
	if l.Width <= 0 || l.Height <= 0 {
		return fmt.Errorf("surface %dx%d: %w", l.Width, l.Height, ErrInvalidLayout)
	}
	if l.Rows <= 0 || l.Cols <= 0 {
		return fmt.Errorf("grid %dx%d: %w", l.Rows, l.Cols, ErrInvalidLayout)
	}
	if l.Width < l.Cols || l.Height < l.Rows {
		return fmt.Errorf("grid %dx%d larger than surface %dx%d: %w", l.Rows, l.Cols, l.Width, l.Height, ErrInvalidLayout)
	}
	return nil
}

// CellSize returns the size of one grid cell.
func (l Layout) CellSize() (w, h int) {
	return l.Width / l.Cols, l.Height / l.Rows
}

// Cell returns the rectangle of the cell at (row, col).
func (l Layout) Cell(row, col int) image.Rectangle {
	w, h := l.CellSize()
	return image.Rect(col*w, row*h, (col+1)*w, (row+1)*h)
}

// SlotKind tells grid cells from free-form overlays.
type SlotKind string

const (
	SlotGrid    SlotKind = "grid"
	SlotOverlay SlotKind = "overlay"
)

// Slot is the region of the display one feed is drawn into.
type Slot struct {
	Kind SlotKind `mapstructure:"kind"`

	// Grid cells.
	Row int `mapstructure:"row"`
	Col int `mapstructure:"col"`

	// Overlays.
	X      int `mapstructure:"x"`
	Y      int `mapstructure:"y"`
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
	// Mask is an image file whose pixels limit the visible part of the
	// overlay. Empty means rectangular.
	Mask string `mapstructure:"mask"`
}

// GridSlot is shorthand for a grid cell.
func GridSlot(row, col int) Slot {
	return Slot{Kind: SlotGrid, Row: row, Col: col}
}

// OverlaySlot is shorthand for an overlay.
func OverlaySlot(x, y, w, h int, mask string) Slot {
	return Slot{Kind: SlotOverlay, X: x, Y: y, Width: w, Height: h, Mask: mask}
}

// Rect returns the target rectangle of the slot.
func (s Slot) Rect(l Layout) image.Rectangle {
	if s.Kind == SlotOverlay {
		return image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height)
	}
	return l.Cell(s.Row, s.Col)
}

// Size returns the pixel size a feed for this slot should capture at.
func (s Slot) Size(l Layout) (w, h int) {
	r := s.Rect(l)
	return r.Dx(), r.Dy()
}

// Validate checks the slot against the layout. Overlays may extend past the
// surface edge; they are clipped when drawn.
func (s Slot) Validate(l Layout) error {
	switch s.Kind {
	case SlotGrid:
		if s.Row < 0 || s.Row >= l.Rows || s.Col < 0 || s.Col >= l.Cols {
			return fmt.Errorf("cell (%d,%d) outside %dx%d grid: %w", s.Row, s.Col, l.Rows, l.Cols, ErrInvalidLayout)
		}
	case SlotOverlay:
		if s.Width <= 0 || s.Height <= 0 {
			return fmt.Errorf("overlay size %dx%d: %w", s.Width, s.Height, ErrInvalidLayout)
		}
		if !s.Rect(l).Overlaps(image.Rect(0, 0, l.Width, l.Height)) {
			return fmt.Errorf("overlay at (%d,%d) is off the surface: %w", s.X, s.Y, ErrInvalidLayout)
		}
	default:
		return fmt.Errorf("slot kind %q: %w", s.Kind, ErrInvalidLayout)
	}
	return nil
}
