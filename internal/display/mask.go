package display

import (
	"fmt"
	"image"
	"image/draw"
	"os"

	// Mask formats.
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// LoadMask decodes a mask image and scales it to w x h.
func LoadMask(path string, w, h int) (*image.NRGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mask: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode mask %s: %w", path, err)
	}
	return ScaleMask(img, w, h), nil
}

// ScaleMask converts img to NRGBA at the given size.
func ScaleMask(img image.Image, w, h int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
	return out
}

// applyMask takes the per-channel minimum of src and mask, alpha included.
// Both images must have the same bounds.
func applyMask(src, mask *image.NRGBA) {
	for i := 0; i+3 < len(src.Pix) && i+3 < len(mask.Pix); i += 4 {
		src.Pix[i] = min(src.Pix[i], mask.Pix[i])
		src.Pix[i+1] = min(src.Pix[i+1], mask.Pix[i+1])
		src.Pix[i+2] = min(src.Pix[i+2], mask.Pix[i+2])
		src.Pix[i+3] = min(src.Pix[i+3], mask.Pix[i+3])
	}
}
