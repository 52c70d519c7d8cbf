package framebuf

import (
	"fmt"
	"image"
	"image/color"
	"time"
)

// BytesPerPixel is the size of one RGB24 pixel.
const BytesPerPixel = 3

// Frame is a decoded camera image in packed RGB24 layout.
// A Frame must not be modified once it has been written to a Buffer.
type Frame struct {
	Width    int
	Height   int
	Stride   int
	Pix      []byte
	SensorID string
	Tick     uint64
	Captured time.Time
}

// NewFrame allocates a zeroed frame.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Stride: width * BytesPerPixel,
		Pix:    make([]byte, width*height*BytesPerPixel),
	}
}

// Validate checks that the pixel buffer matches the declared geometry.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if f.Stride < f.Width*BytesPerPixel {
		return fmt.Errorf("stride %d too small for width %d", f.Stride, f.Width)
	}
	if need := f.Stride*(f.Height-1) + f.Width*BytesPerPixel; len(f.Pix) < need {
		return fmt.Errorf("pixel buffer holds %d bytes, need %d", len(f.Pix), need)
	}
	return nil
}

// ColorModel implements image.Image.
func (f *Frame) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (f *Frame) Bounds() image.Rectangle { return image.Rect(0, 0, f.Width, f.Height) }

// At implements image.Image.
func (f *Frame) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return color.RGBA{}
	}
	i := y*f.Stride + x*BytesPerPixel
	return color.RGBA{R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: 0xff}
}

// ToRGBA copies the frame into dst as opaque RGBA and returns it. dst is
// reallocated when it is nil or its bounds differ from the frame's, so a
// caller keeping the result across frames of one size copies without
// allocating.
func (f *Frame) ToRGBA(dst *image.RGBA) *image.RGBA {
	if dst == nil || dst.Rect != f.Bounds() {
		dst = image.NewRGBA(f.Bounds())
	}
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*f.Stride : y*f.Stride+f.Width*BytesPerPixel]
		row := dst.Pix[y*dst.Stride : y*dst.Stride+f.Width*4]
		for x := 0; x < f.Width; x++ {
			row[x*4] = src[x*3]
			row[x*4+1] = src[x*3+1]
			row[x*4+2] = src[x*3+2]
			row[x*4+3] = 0xff
		}
	}
	return dst
}

// RGBAAt returns the pixel at (x, y) as an opaque colour.
func (f *Frame) RGBAAt(x, y int) color.RGBA {
	return f.At(x, y).(color.RGBA)
}
