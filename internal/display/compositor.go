// Package display composes the camera feeds into one surface per tick.
package display

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"

	xdraw "golang.org/x/image/draw"

	"github.com/ImmersiveDrive/simclient/internal/framebuf"
	"github.com/ImmersiveDrive/simclient/pkg/core"
)

// Config configures a Compositor.
type Config struct {
	Layout     Layout
	Background color.RGBA
	// ReverseGlyphSize is the height of the reverse indicator in pixels.
	ReverseGlyphSize int
}

// DefaultConfig is the three screen rig: 4080x768 split into a 1x3 grid.
func DefaultConfig() Config {
	return Config{
		Layout:           Layout{Width: 4080, Height: 768, Rows: 1, Cols: 3},
		Background:       color.RGBA{A: 255},
		ReverseGlyphSize: 100,
	}
}

// FrameStats describes one Compose call.
type FrameStats struct {
	Drawn   int
	Skipped int
	Reverse bool
}

// Stats accumulates FrameStats.
type Stats struct {
	Composed uint64
	Drawn    uint64
	Skipped  uint64
}

type viewport struct {
	name    string
	slot    Slot
	rect    image.Rectangle
	buf     *framebuf.Buffer
	mask    *image.NRGBA
	scratch *image.NRGBA
	// staging holds the latest frame as RGBA whenever it has to be scaled.
	staging *image.RGBA
}

// Compositor draws every attached viewport onto a surface it owns. It is used
// from the main loop only.
type Compositor struct {
	layout    Layout
	bg        *image.Uniform
	surface   *image.RGBA
	glyph     *image.Alpha
	presenter Presenter
	logger    *slog.Logger

	viewports []*viewport
	stats     Stats
}

// New creates a compositor that hands its surface to presenter.
func New(cfg Config, presenter Presenter, logger *slog.Logger) (*Compositor, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	if presenter == nil {
		presenter = Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Background == (color.RGBA{}) {
		cfg.Background = color.RGBA{A: 255}
	}
	return &Compositor{
		layout:    cfg.Layout,
		bg:        image.NewUniform(cfg.Background),
		surface:   image.NewRGBA(image.Rect(0, 0, cfg.Layout.Width, cfg.Layout.Height)),
		glyph:     renderGlyph("R", cfg.ReverseGlyphSize),
		presenter: presenter,
		logger:    logger,
	}, nil
}

// Layout returns the grid layout.
func (c *Compositor) Layout() Layout { return c.layout }

// Attach adds a viewport drawing buf into slot. A mask that cannot be loaded
// is logged and the overlay is drawn rectangular.
func (c *Compositor) Attach(name string, slot Slot, buf *framebuf.Buffer) error {
	if buf == nil {
		return errors.New("attach viewport: nil buffer")
	}
	if err := slot.Validate(c.layout); err != nil {
		return fmt.Errorf("viewport %s: %w", name, err)
	}
	for _, v := range c.viewports {
		if v.name == name {
			return fmt.Errorf("viewport %s already attached", name)
		}
	}

	v := &viewport{name: name, slot: slot, rect: slot.Rect(c.layout), buf: buf}
	if slot.Kind == SlotOverlay {
		v.scratch = image.NewNRGBA(image.Rect(0, 0, slot.Width, slot.Height))
		if slot.Mask != "" {
			mask, err := LoadMask(slot.Mask, slot.Width, slot.Height)
			if err != nil {
				c.logger.Warn("overlay mask unavailable, drawing unmasked", "viewport", name, "error", err)
			} else {
				v.mask = mask
			}
		}
	}
	c.viewports = append(c.viewports, v)
	return nil
}

// SetMask replaces the mask of an overlay viewport. A nil mask removes it.
func (c *Compositor) SetMask(name string, mask image.Image) error {
	for _, v := range c.viewports {
		if v.name != name {
			continue
		}
		if v.slot.Kind != SlotOverlay {
			return fmt.Errorf("viewport %s is not an overlay", name)
		}
		if mask == nil {
			v.mask = nil
			return nil
		}
		v.mask = ScaleMask(mask, v.slot.Width, v.slot.Height)
		return nil
	}
	return fmt.Errorf("viewport %s not attached", name)
}

// Detach removes a viewport. It reports whether one was attached.
func (c *Compositor) Detach(name string) bool {
	for i, v := range c.viewports {
		if v.name == name {
			c.viewports = append(c.viewports[:i], c.viewports[i+1:]...)
			return true
		}
	}
	return false
}

// Viewports returns the attached viewport names in draw order.
func (c *Compositor) Viewports() []string {
	out := make([]string, len(c.viewports))
	for i, v := range c.viewports {
		out[i] = v.name
	}
	return out
}

// Compose redraws the surface from the latest frame of every viewport. Grid
// cells are drawn in attach order, then overlays, then the reverse indicator
// when gear is negative. Viewports without a frame stay blank.
func (c *Compositor) Compose(gear int) FrameStats {
	draw.Draw(c.surface, c.surface.Bounds(), c.bg, image.Point{}, draw.Src)

	var fs FrameStats
	for _, kind := range []SlotKind{SlotGrid, SlotOverlay} {
		for _, v := range c.viewports {
			if v.slot.Kind != kind {
				continue
			}
			frame, ok := v.buf.Read()
			if !ok {
				fs.Skipped++
				continue
			}
			if kind == SlotGrid {
				c.drawCell(v, frame)
			} else {
				c.drawOverlay(v, frame)
			}
			fs.Drawn++
		}
	}

	if gear < core.GearNeutral {
		drawBottomLeft(c.surface, c.glyph, ReverseColor)
		fs.Reverse = true
	}

	c.stats.Composed++
	c.stats.Drawn += uint64(fs.Drawn)
	c.stats.Skipped += uint64(fs.Skipped)
	return fs
}

// Render composes and presents one surface.
func (c *Compositor) Render(gear int) (FrameStats, error) {
	fs := c.Compose(gear)
	if err := c.presenter.Present(c.surface); err != nil {
		return fs, fmt.Errorf("present: %w", err)
	}
	return fs, nil
}

// Surface returns the composed surface. It is overwritten by the next Compose.
func (c *Compositor) Surface() *image.RGBA { return c.surface }

// Stats returns the totals since creation.
func (c *Compositor) Stats() Stats { return c.stats }

// Close detaches every viewport and closes the presenter.
func (c *Compositor) Close() error {
	c.viewports = nil
	return c.presenter.Close()
}

func (c *Compositor) drawCell(v *viewport, f *framebuf.Frame) {
	if f.Width != v.rect.Dx() || f.Height != v.rect.Dy() {
		v.staging = f.ToRGBA(v.staging)
		xdraw.NearestNeighbor.Scale(c.surface, v.rect, v.staging, v.staging.Bounds(), draw.Src, nil)
		return
	}
	// same size: straight RGB to RGBA copy
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*f.Stride : y*f.Stride+f.Width*framebuf.BytesPerPixel]
		off := c.surface.PixOffset(v.rect.Min.X, v.rect.Min.Y+y)
		dst := c.surface.Pix[off : off+f.Width*4]
		for x := 0; x < f.Width; x++ {
			dst[x*4] = src[x*3]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xff
		}
	}
}

func (c *Compositor) drawOverlay(v *viewport, f *framebuf.Frame) {
	v.staging = f.ToRGBA(v.staging)
	xdraw.ApproxBiLinear.Scale(v.scratch, v.scratch.Bounds(), v.staging, v.staging.Bounds(), draw.Src, nil)
	if v.mask != nil {
		applyMask(v.scratch, v.mask)
	}
	draw.Draw(c.surface, v.rect, v.scratch, image.Point{}, draw.Over)
}
