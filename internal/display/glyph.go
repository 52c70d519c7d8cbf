package display

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ReverseColor is the colour of the reverse gear indicator.
var ReverseColor = color.RGBA{R: 255, A: 255}

// renderGlyph rasterises text in the 7x13 bitmap face and scales it so the
// line height equals size pixels.
func renderGlyph(text string, size int) *image.Alpha {
	face := basicfont.Face7x13
	d := &font.Drawer{Face: face}
	width := d.MeasureString(text).Ceil()
	height := face.Height

	small := image.NewAlpha(image.Rect(0, 0, width, height))
	d.Dst = small
	d.Src = image.Opaque
	d.Dot = fixed.P(0, face.Ascent)
	d.DrawString(text)

	if size <= 0 || size == height {
		return small
	}
	scaled := image.NewAlpha(image.Rect(0, 0, width*size/height, size))
	xdraw.NearestNeighbor.Scale(scaled, scaled.Bounds(), small, small.Bounds(), draw.Src, nil)
	return scaled
}

// drawBottomLeft paints glyph in c at the bottom-left corner of dst.
func drawBottomLeft(dst *image.RGBA, glyph *image.Alpha, c color.Color) {
	b := dst.Bounds()
	g := glyph.Bounds()
	r := image.Rect(b.Min.X, b.Max.Y-g.Dy(), b.Min.X+g.Dx(), b.Max.Y)
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, glyph, g.Min, draw.Over)
}
