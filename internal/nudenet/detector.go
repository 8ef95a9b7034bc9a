package nudenet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/gonkalabs/nudenet-proxy-go/internal/redact"
)

// ErrBadOverlay is returned when caller-supplied overlay bytes cannot be
// decoded.
var ErrBadOverlay = errors.New("nudenet: overlay image cannot be decoded")

// Detector is the process-wide detection handle. It is built once at
// startup, never mutated afterwards, and shared by all requests.
type Detector struct {
	model   Model
	overlay image.Image
}

// NewDetector wraps model. A nil overlay selects the built-in default.
func NewDetector(model Model, overlay image.Image) *Detector {
	if overlay == nil {
		overlay = defaultOverlay()
	}
	return &Detector{model: model, overlay: overlay}
}

// Detect returns every detection in img scoring at least threshold.
func (d *Detector) Detect(ctx context.Context, img image.Image, threshold float64) ([]Detection, error) {
	dets, err := d.model.Detect(ctx, img, threshold)
	if err != nil {
		return nil, err
	}
	return filterByScore(dets, threshold), nil
}

// Censor detects regions in img and redacts those whose label is in
// opts.Criteria. The input image is not modified. All detections above
// opts.MinScore are returned, matched or not.
func (d *Detector) Censor(ctx context.Context, img image.Image, opts CensorOptions) (*CensorResult, error) {
	var overlay image.Image
	if opts.Method == ImageOverlay {
		overlay = d.overlay
		if opts.Overlay != nil {
			ov, _, err := image.Decode(bytes.NewReader(opts.Overlay))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadOverlay, err)
			}
			overlay = ov
		}
	}

	dets, err := d.Detect(ctx, img, opts.MinScore)
	if err != nil {
		return nil, err
	}

	out := cloneNRGBA(img)
	for _, det := range dets {
		if !opts.Criteria.Has(det.Label) {
			continue
		}
		r := det.Box.Rect().Add(out.Bounds().Min)
		switch opts.Method {
		case Pixelate:
			redact.Pixelate(out, r, opts.Blocks)
		case GaussianBlur:
			redact.GaussianBlur(out, r, opts.Blocks)
		case BlackBox:
			redact.BlackBox(out, r)
		case ImageOverlay:
			redact.Overlay(out, r, overlay)
		default:
			return nil, fmt.Errorf("nudenet: unsupported censor method %q", opts.Method)
		}
	}
	return &CensorResult{Output: out, Detections: dets}, nil
}

func cloneNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}
