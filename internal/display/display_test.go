package display

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImmersiveDrive/simclient/internal/framebuf"
)

func solid(w, h int, c color.RGBA) *framebuf.Frame {
	f := framebuf.NewFrame(w, h)
	for i := 0; i < len(f.Pix); i += 3 {
		f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.R, c.G, c.B
	}
	return f
}

func newTestCompositor(t *testing.T, l Layout) *Compositor {
	t.Helper()
	c, err := New(Config{Layout: l, ReverseGlyphSize: 26}, nil, nil)
	require.NoError(t, err)
	return c
}

type recordingPresenter struct {
	presented int
	closed    bool
	err       error
}

func (p *recordingPresenter) Present(*image.RGBA) error {
	p.presented++
	return p.err
}

func (p *recordingPresenter) Close() error {
	p.closed = true
	return nil
}

func TestLayout_Cells(t *testing.T) {
	l := Layout{Width: 4080, Height: 768, Rows: 1, Cols: 3}
	require.NoError(t, l.Validate())

	w, h := l.CellSize()
	assert.Equal(t, 1360, w)
	assert.Equal(t, 768, h)
	assert.Equal(t, image.Rect(1360, 0, 2720, 768), l.Cell(0, 1))
	assert.Equal(t, image.Rect(2720, 0, 4080, 768), GridSlot(0, 2).Rect(l))
}

func TestLayout_Validate(t *testing.T) {
	tests := []struct {
		name   string
		layout Layout
	}{
		{"zero width", Layout{Width: 0, Height: 10, Rows: 1, Cols: 1}},
		{"zero rows", Layout{Width: 10, Height: 10, Rows: 0, Cols: 1}},
		{"more cols than pixels", Layout{Width: 2, Height: 10, Rows: 1, Cols: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.layout.Validate(), ErrInvalidLayout)
		})
	}
}

func TestSlot_Validate(t *testing.T) {
	l := Layout{Width: 300, Height: 100, Rows: 1, Cols: 3}

	assert.NoError(t, GridSlot(0, 2).Validate(l))
	assert.ErrorIs(t, GridSlot(0, 3).Validate(l), ErrInvalidLayout)
	assert.ErrorIs(t, GridSlot(1, 0).Validate(l), ErrInvalidLayout)

	// partially off-surface overlays are clipped, fully off ones rejected
	assert.NoError(t, OverlaySlot(290, 90, 50, 50, "").Validate(l))
	assert.ErrorIs(t, OverlaySlot(400, 0, 10, 10, "").Validate(l), ErrInvalidLayout)
	assert.ErrorIs(t, OverlaySlot(0, 0, 0, 10, "").Validate(l), ErrInvalidLayout)
	assert.ErrorIs(t, Slot{Kind: "hud"}.Validate(l), ErrInvalidLayout)
}

func TestCompositor_GridWithSilentFeed(t *testing.T) {
	l := Layout{Width: 30, Height: 10, Rows: 1, Cols: 3}
	c := newTestCompositor(t, l)

	bufs := []*framebuf.Buffer{framebuf.New(), framebuf.New(), framebuf.New()}
	for i, b := range bufs {
		require.NoError(t, c.Attach([]string{"left", "center", "right"}[i], GridSlot(0, i), b))
	}

	red := color.RGBA{R: 200, A: 255}
	blue := color.RGBA{B: 180, A: 255}
	bufs[0].Write(solid(10, 10, red))
	bufs[2].Write(solid(10, 10, blue))

	fs := c.Compose(1)
	assert.Equal(t, 2, fs.Drawn)
	assert.Equal(t, 1, fs.Skipped)
	assert.False(t, fs.Reverse)

	s := c.Surface()
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			require.Equal(t, red, s.RGBAAt(x, y))
			require.Equal(t, color.RGBA{A: 255}, s.RGBAAt(10+x, y))
			require.Equal(t, blue, s.RGBAAt(20+x, y))
		}
	}
}

func TestCompositor_ScalesMismatchedGridFrames(t *testing.T) {
	l := Layout{Width: 20, Height: 10, Rows: 1, Cols: 2}
	c := newTestCompositor(t, l)
	b := framebuf.New()
	require.NoError(t, c.Attach("cam", GridSlot(0, 1), b))

	green := color.RGBA{G: 255, A: 255}
	b.Write(solid(4, 2, green))
	c.Compose(0)

	assert.Equal(t, green, c.Surface().RGBAAt(10, 0))
	assert.Equal(t, green, c.Surface().RGBAAt(19, 9))
	assert.Equal(t, color.RGBA{A: 255}, c.Surface().RGBAAt(9, 9))
}

func TestCompositor_ScalesOverlay(t *testing.T) {
	l := Layout{Width: 20, Height: 10, Rows: 1, Cols: 1}
	c := newTestCompositor(t, l)

	grid := framebuf.New()
	mirror := framebuf.New()
	require.NoError(t, c.Attach("cam", GridSlot(0, 0), grid))
	require.NoError(t, c.Attach("mirror", OverlaySlot(2, 2, 8, 4, ""), mirror))

	blue := color.RGBA{B: 255, A: 255}
	red := color.RGBA{R: 255, A: 255}
	grid.Write(solid(20, 10, blue))
	mirror.Write(solid(4, 2, red))
	c.Compose(1)

	s := c.Surface()
	assert.Equal(t, red, s.RGBAAt(2, 2))
	assert.Equal(t, red, s.RGBAAt(9, 5))
	assert.Equal(t, blue, s.RGBAAt(1, 1))
	assert.Equal(t, blue, s.RGBAAt(10, 6))
}

func TestCompositor_ScalingDoesNotAllocatePerPixel(t *testing.T) {
	l := Layout{Width: 256, Height: 128, Rows: 1, Cols: 2}
	c := newTestCompositor(t, l)

	grid := framebuf.New()
	mirror := framebuf.New()
	require.NoError(t, c.Attach("cam", GridSlot(0, 0), grid))
	require.NoError(t, c.Attach("mirror", OverlaySlot(140, 10, 96, 48, ""), mirror))
	grid.Write(solid(64, 32, color.RGBA{G: 255, A: 255}))
	mirror.Write(solid(48, 24, color.RGBA{R: 255, A: 255}))
	c.Compose(1)

	allocs := testing.AllocsPerRun(5, func() { c.Compose(1) })
	assert.Less(t, allocs, 64.0, "scaling %d+%d pixels", 128*128, 96*48)
}

func TestCompositor_Idempotent(t *testing.T) {
	l := Layout{Width: 60, Height: 30, Rows: 1, Cols: 2}
	c := newTestCompositor(t, l)

	grid := framebuf.New()
	mirror := framebuf.New()
	require.NoError(t, c.Attach("cam", GridSlot(0, 0), grid))
	require.NoError(t, c.Attach("mirror", OverlaySlot(20, 5, 16, 8, ""), mirror))

	f := framebuf.NewFrame(30, 30)
	for i := range f.Pix {
		f.Pix[i] = byte(i * 7)
	}
	grid.Write(f)
	mirror.Write(solid(8, 4, color.RGBA{R: 10, G: 20, B: 30, A: 255}))

	c.Compose(-1)
	first := bytes.Clone(c.Surface().Pix)
	c.Compose(-1)
	assert.Equal(t, first, c.Surface().Pix)
}

func TestCompositor_ReverseIndicator(t *testing.T) {
	l := Layout{Width: 120, Height: 60, Rows: 1, Cols: 1}
	c := newTestCompositor(t, l)

	hasRed := func() bool {
		s := c.Surface()
		for y := s.Bounds().Max.Y - 26; y < s.Bounds().Max.Y; y++ {
			for x := 0; x < 40; x++ {
				if s.RGBAAt(x, y) == ReverseColor {
					return true
				}
			}
		}
		return false
	}

	for _, gear := range []int{1, -1, 0, -1, -1, 3, 1, -1, 0} {
		fs := c.Compose(gear)
		assert.Equal(t, gear < 0, fs.Reverse, "gear %d", gear)
		assert.Equal(t, gear < 0, hasRed(), "gear %d", gear)
	}
}

func TestCompositor_MaskedOverlay(t *testing.T) {
	l := Layout{Width: 20, Height: 10, Rows: 1, Cols: 1}
	c := newTestCompositor(t, l)

	grid := framebuf.New()
	mirror := framebuf.New()
	require.NoError(t, c.Attach("cam", GridSlot(0, 0), grid))
	require.NoError(t, c.Attach("mirror", OverlaySlot(0, 0, 4, 2, ""), mirror))

	// left half opaque grey, right half transparent
	mask := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			if x < 2 {
				mask.SetNRGBA(x, y, color.NRGBA{R: 100, G: 255, B: 255, A: 255})
			}
		}
	}
	require.NoError(t, c.SetMask("mirror", mask))

	grid.Write(solid(20, 10, color.RGBA{B: 50, A: 255}))
	mirror.Write(solid(4, 2, color.RGBA{R: 200, G: 150, B: 0, A: 255}))
	c.Compose(1)

	s := c.Surface()
	assert.Equal(t, color.RGBA{R: 100, G: 150, B: 0, A: 255}, s.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{B: 50, A: 255}, s.RGBAAt(3, 1))
	assert.Equal(t, color.RGBA{B: 50, A: 255}, s.RGBAAt(10, 5))
}

func TestCompositor_MaskFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mirror.png")
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	m, err := LoadMask(path, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), m.Bounds())
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, m.NRGBAAt(3, 1))

	_, err = LoadMask(filepath.Join(dir, "missing.png"), 4, 2)
	assert.Error(t, err)

	// a missing mask degrades to a rectangular overlay
	c := newTestCompositor(t, Layout{Width: 10, Height: 10, Rows: 1, Cols: 1})
	require.NoError(t, c.Attach("mirror", OverlaySlot(0, 0, 4, 4, filepath.Join(dir, "missing.png")), framebuf.New()))
}

func TestCompositor_AttachDetach(t *testing.T) {
	c := newTestCompositor(t, Layout{Width: 20, Height: 10, Rows: 1, Cols: 2})
	b := framebuf.New()

	require.NoError(t, c.Attach("a", GridSlot(0, 0), b))
	assert.Error(t, c.Attach("a", GridSlot(0, 1), b))
	assert.ErrorIs(t, c.Attach("b", GridSlot(0, 5), b), ErrInvalidLayout)
	assert.Error(t, c.Attach("c", GridSlot(0, 1), nil))
	assert.Error(t, c.SetMask("a", nil), "grid viewports take no mask")
	assert.Equal(t, []string{"a"}, c.Viewports())

	assert.True(t, c.Detach("a"))
	assert.False(t, c.Detach("a"))
	assert.Empty(t, c.Viewports())
}

func TestCompositor_RenderAndStats(t *testing.T) {
	p := &recordingPresenter{}
	c, err := New(Config{Layout: Layout{Width: 20, Height: 10, Rows: 1, Cols: 2}}, p, nil)
	require.NoError(t, err)

	b := framebuf.New()
	require.NoError(t, c.Attach("a", GridSlot(0, 0), b))
	require.NoError(t, c.Attach("b", GridSlot(0, 1), framebuf.New()))
	b.Write(solid(10, 10, color.RGBA{R: 1, A: 255}))

	_, err = c.Render(1)
	require.NoError(t, err)
	_, err = c.Render(1)
	require.NoError(t, err)

	assert.Equal(t, 2, p.presented)
	assert.Equal(t, Stats{Composed: 2, Drawn: 2, Skipped: 2}, c.Stats())

	p.err = errors.New("window gone")
	_, err = c.Render(1)
	assert.ErrorContains(t, err, "window gone")

	require.NoError(t, c.Close())
	assert.True(t, p.closed)
}

func TestPNGSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "surface.png")
	p := NewPNGSnapshot(path, 2)

	s := image.NewRGBA(image.Rect(0, 0, 3, 2))
	s.SetRGBA(1, 1, color.RGBA{R: 9, G: 8, B: 7, A: 255})

	require.NoError(t, p.Present(s))
	_, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	require.NoError(t, p.Present(s))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "second surface is skipped")

	require.NoError(t, p.Present(s))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	r, g, b, _ := img.At(1, 1).RGBA()
	assert.Equal(t, []uint32{9, 8, 7}, []uint32{r >> 8, g >> 8, b >> 8})
	assert.Equal(t, uint64(3), p.Presented())
}
