package bridge

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/ImmersiveDrive/simclient/internal/display"
	"github.com/ImmersiveDrive/simclient/pkg/streaming"
)

// DefaultQuality is the JPEG quality of presented frames.
const DefaultQuality = 80

// Presenter sends composed surfaces to the bridge display as JPEG.
type Presenter struct {
	client  *Client
	quality int
	buf     bytes.Buffer
}

var _ display.Presenter = (*Presenter)(nil)

// Presenter returns a presenter drawing on the bridge display. Closing it
// leaves the connection open.
func (c *Client) Presenter(quality int) *Presenter {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Presenter{client: c, quality: quality}
}

func (p *Presenter) Present(surface *image.RGBA) error {
	p.buf.Reset()
	if err := jpeg.Encode(&p.buf, surface, &jpeg.Options{Quality: p.quality}); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	b := surface.Bounds()
	ctx, cancel := p.client.withTimeout()
	defer cancel()
	return p.client.conn.request(ctx, streaming.TypePresentFrame, streaming.FrameRequest{
		Width:  b.Dx(),
		Height: b.Dy(),
		JPEG:   p.buf.Bytes(),
	}, nil)
}

func (p *Presenter) Close() error { return nil }
