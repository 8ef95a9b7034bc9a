// Package redact draws over rectangular regions of an image. All functions
// modify dst in place and clip the region to dst's bounds; an empty
// intersection is a no-op.
package redact

import (
	"image"
	"image/color"

	"github.com/disintegration/gift"
	xdraw "golang.org/x/image/draw"
)

// Pixelate covers r with square cells sized so that the longer side of r
// holds blocks cells, each filled with its mean colour.
func Pixelate(dst *image.NRGBA, r image.Rectangle, blocks int) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	if blocks < 1 {
		blocks = 1
	}
	side := max(r.Dx(), r.Dy())
	cell := (side + blocks - 1) / blocks
	apply(dst, r, gift.Pixelate(cell))
}

// BlackBox fills r with opaque black.
func BlackBox(dst *image.NRGBA, r image.Rectangle) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	fill(dst, r, color.NRGBA{A: 0xff})
}

// GaussianBlur blurs r with a Gaussian whose sigma is derived from the
// kernel size ksize. Even sizes are bumped to the next odd size. Samples
// outside r are clamped to its edge so the blur does not bleed in from
// neighbouring pixels.
func GaussianBlur(dst *image.NRGBA, r image.Rectangle, ksize int) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() || ksize < 2 {
		return
	}
	if ksize%2 == 0 {
		ksize++
	}
	apply(dst, r, gift.GaussianBlur(float32(blurSigma(ksize))))
}

// Overlay scales src to r and composites it over dst.
func Overlay(dst *image.NRGBA, r image.Rectangle, src image.Image) {
	target := r.Intersect(dst.Bounds())
	if target.Empty() || src == nil || src.Bounds().Empty() {
		return
	}
	// Scale to the full box first so clipping crops the overlay instead of
	// squashing it.
	scaled := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	xdraw.Draw(dst, target, scaled, target.Min.Sub(r.Min), xdraw.Over)
}

// blurSigma follows the usual derivation from kernel size:
// 0.3*((ksize-1)*0.5-1)+0.8.
func blurSigma(ksize int) float64 {
	return 0.3*((float64(ksize)-1)*0.5-1) + 0.8
}

// apply runs f over a copy of r and writes the result back in place.
func apply(dst *image.NRGBA, r image.Rectangle, f gift.Filter) {
	src := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.Draw(src, src.Bounds(), dst, r.Min, xdraw.Src)
	gift.New(f).Draw(dst.SubImage(r).(*image.NRGBA), src)
}

func fill(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}
