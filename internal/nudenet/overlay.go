package nudenet

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"os"
)

// defaultOverlay draws a 96×96 black tile with yellow diagonal hazard
// stripes, used by ImageOverlay when the caller sends no overlay.
func defaultOverlay() image.Image {
	const size = 96
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	black := color.NRGBA{A: 0xff}
	yellow := color.NRGBA{R: 0xff, G: 0xd4, B: 0x00, A: 0xff}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if ((x+y)/12)%2 == 0 {
				img.SetNRGBA(x, y, black)
			} else {
				img.SetNRGBA(x, y, yellow)
			}
		}
	}
	return img
}

// LoadOverlay decodes an overlay image from a file.
func LoadOverlay(path string) (image.Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nudenet: read overlay: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("nudenet: decode overlay %s: %w", path, err)
	}
	return img, nil
}
