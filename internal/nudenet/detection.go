package nudenet

import (
	"context"
	"image"
)

// Box is a detection bounding box in pixel coordinates.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect converts the box into an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// Detection is one labelled region found by the model.
type Detection struct {
	Label Label   `json:"label"`
	Score float64 `json:"score"`
	Box   Box     `json:"box"`
}

// Model runs inference on a single image.
// Implementations must be safe for concurrent use.
type Model interface {
	Detect(ctx context.Context, img image.Image, threshold float64) ([]Detection, error)
}

// CensorOptions describes one detect-and-redact call.
type CensorOptions struct {
	Method   CensorMethod
	MinScore float64
	Criteria LabelSet
	Blocks   int
	// Overlay holds raw image bytes for the ImageOverlay method.
	// Nil selects the default overlay.
	Overlay []byte
}

// CensorResult is the output of Censor.
type CensorResult struct {
	Output     *image.NRGBA
	Detections []Detection
}

// filterByScore drops detections scoring below threshold.
func filterByScore(dets []Detection, threshold float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Score >= threshold {
			out = append(out, d)
		}
	}
	return out
}
