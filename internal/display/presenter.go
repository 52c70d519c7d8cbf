package display

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

// Presenter shows one composed surface per tick. The surface is reused by the
// compositor, so implementations must not keep it after Present returns.
type Presenter interface {
	Present(surface *image.RGBA) error
	Close() error
}

// Discard drops every surface.
type Discard struct{}

func (Discard) Present(*image.RGBA) error { return nil }
func (Discard) Close() error              { return nil }

// PNGSnapshot writes every Nth surface to Path, replacing the previous one.
// The file is written next to Path and renamed, so readers never see a partial
// image.
type PNGSnapshot struct {
	Path  string
	Every int

	count uint64
	enc   png.Encoder
	buf   bytes.Buffer
}

// NewPNGSnapshot creates a snapshot presenter. every below one means every
// surface.
func NewPNGSnapshot(path string, every int) *PNGSnapshot {
	if every < 1 {
		every = 1
	}
	return &PNGSnapshot{
		Path:  path,
		Every: every,
		enc:   png.Encoder{CompressionLevel: png.BestSpeed},
	}
}

func (p *PNGSnapshot) Present(surface *image.RGBA) error {
	p.count++
	if (p.count-1)%uint64(p.Every) != 0 {
		return nil
	}
	p.buf.Reset()
	if err := p.enc.Encode(&p.buf, surface); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p.Path), ".snapshot-*.png")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if _, err := tmp.Write(p.buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (p *PNGSnapshot) Close() error { return nil }

// Presented returns the number of surfaces offered so far.
func (p *PNGSnapshot) Presented() uint64 { return p.count }
