package sensor

import (
	"errors"
	"fmt"

	"github.com/ImmersiveDrive/simclient/internal/framebuf"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
)

// ErrMalformedPayload is returned for image payloads that do not match their
// declared size.
var ErrMalformedPayload = errors.New("malformed image payload")

const bgraBytes = 4

// DecodeBGRA converts a BGRA camera image to an RGB24 frame, dropping alpha and
// flipping the rows horizontally when mirror is set.
func DecodeBGRA(p *simhost.ImagePayload, mirror bool) (*framebuf.Frame, error) {
	if p == nil {
		return nil, fmt.Errorf("nil payload: %w", ErrMalformedPayload)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("size %dx%d: %w", p.Width, p.Height, ErrMalformedPayload)
	}
	if want := p.Width * p.Height * bgraBytes; len(p.Raw) != want {
		return nil, fmt.Errorf("%d bytes for %dx%d, want %d: %w", len(p.Raw), p.Width, p.Height, want, ErrMalformedPayload)
	}

	f := framebuf.NewFrame(p.Width, p.Height)
	for y := 0; y < p.Height; y++ {
		src := p.Raw[y*p.Width*bgraBytes : (y+1)*p.Width*bgraBytes]
		dst := f.Pix[y*f.Stride : y*f.Stride+p.Width*framebuf.BytesPerPixel]
		for x := 0; x < p.Width; x++ {
			sx := x
			if mirror {
				sx = p.Width - 1 - x
			}
			s := src[sx*bgraBytes:]
			d := dst[x*framebuf.BytesPerPixel:]
			d[0], d[1], d[2] = s[2], s[1], s[0]
		}
	}
	f.Tick = p.Tick
	f.Captured = p.Timestamp
	return f, nil
}
