// Package censor is the processing layer between the HTTP handlers and the
// detection capability. Both operations are stateless; the only shared
// value is the capability handle passed to New.
package censor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gonkalabs/nudenet-proxy-go/internal/nudenet"
	"github.com/gonkalabs/nudenet-proxy-go/internal/pngmeta"
)

var (
	// ErrDecode marks an upload (image or overlay) that cannot be decoded.
	ErrDecode = errors.New("censor: image cannot be decoded")
	// ErrInference marks a failure inside the detection capability.
	ErrInference = errors.New("censor: inference failed")
	// ErrTooLarge marks an upload whose pixel count exceeds the limit.
	ErrTooLarge = errors.New("censor: image too large")
)

// PNG text keys written when metadata embedding is requested.
const (
	MetaDetections = "NudeNet"
	MetaNSFW       = "NSFW"
)

// Capability is the detection collaborator: detect-only and
// detect-and-redact. *nudenet.Detector implements it.
type Capability interface {
	Detect(ctx context.Context, img image.Image, threshold float64) ([]nudenet.Detection, error)
	Censor(ctx context.Context, img image.Image, opts nudenet.CensorOptions) (*nudenet.CensorResult, error)
}

// Observer receives inference timings and detection counts. Optional.
type Observer interface {
	ObserveInference(op string, d time.Duration)
	AddDetection(label string)
}

// Service implements Redact and CheckNSFW.
type Service struct {
	det Capability
	obs Observer
}

// New creates a Service. obs may be nil.
func New(det Capability, obs Observer) *Service {
	return &Service{det: det, obs: obs}
}

// RedactRequest holds the inputs to Redact.
type RedactRequest struct {
	Image         image.Image
	Criteria      nudenet.LabelSet
	Method        nudenet.CensorMethod
	Threshold     float64
	Blocks        int
	EmbedMetadata bool
	// Overlay is forwarded unchanged to the capability; nil selects the
	// default overlay.
	Overlay []byte
}

// RedactResult is the output of Redact.
type RedactResult struct {
	PNG []byte
	// Matched is the sorted set of detected labels that are also in the
	// request criteria.
	Matched []nudenet.Label
	// Blocks is the block parameter actually passed to the capability.
	Blocks int
}

// Redact censors every region of req.Image whose label is in req.Criteria
// and returns the result encoded as PNG.
func (s *Service) Redact(ctx context.Context, req RedactRequest) (*RedactResult, error) {
	blocks := req.Blocks
	if req.Method == nudenet.GaussianBlur && !isPrime(blocks) {
		blocks = nextPrime(blocks)
		slog.Debug("censor: blur blocks coerced to prime", "from", req.Blocks, "to", blocks)
	}

	start := time.Now()
	res, err := s.det.Censor(ctx, req.Image, nudenet.CensorOptions{
		Method:   req.Method,
		MinScore: req.Threshold,
		Criteria: req.Criteria,
		Blocks:   blocks,
		Overlay:  req.Overlay,
	})
	s.observe("censor", start, res)
	if err != nil {
		if errors.Is(err, nudenet.ErrBadOverlay) {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	matched := matchedLabels(res.Detections, req.Criteria)

	var buf bytes.Buffer
	if err := png.Encode(&buf, res.Output); err != nil {
		return nil, fmt.Errorf("censor: encode png: %w", err)
	}
	out := buf.Bytes()

	if req.EmbedMetadata {
		out, err = pngmeta.WithText(out, []pngmeta.Entry{
			{Key: MetaDetections, Value: formatDetections(res.Detections)},
			{Key: MetaNSFW, Value: titleBool(len(matched) > 0)},
		})
		if err != nil {
			return nil, fmt.Errorf("censor: embed metadata: %w", err)
		}
	}

	return &RedactResult{PNG: out, Matched: matched, Blocks: blocks}, nil
}

// CheckNSFW reports whether any detection in img scoring at least
// threshold carries a label in criteria.
func (s *Service) CheckNSFW(ctx context.Context, img image.Image, criteria nudenet.LabelSet, threshold float64) (bool, error) {
	start := time.Now()
	dets, err := s.det.Detect(ctx, opaqueRGB(img), threshold)
	s.observe("detect", start, &nudenet.CensorResult{Detections: dets})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInference, err)
	}
	for _, d := range dets {
		if d.Score >= threshold && criteria.Has(d.Label) {
			return true, nil
		}
	}
	return false, nil
}

// Decode parses an uploaded image in any registered format. Images with
// more than maxPixels pixels are rejected from the header alone, before any
// pixel buffer is allocated. maxPixels <= 0 disables the check.
func Decode(raw []byte, maxPixels int) (image.Image, string, error) {
	if err := CheckPixels(raw, maxPixels); err != nil {
		return nil, "", err
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, format, nil
}

// CheckPixels reads only the image header and enforces maxPixels.
func CheckPixels(raw []byte, maxPixels int) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty upload", ErrDecode)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
	}
	return nil
}

func (s *Service) observe(op string, start time.Time, res *nudenet.CensorResult) {
	if s.obs == nil {
		return
	}
	s.obs.ObserveInference(op, time.Since(start))
	if res == nil {
		return
	}
	for _, d := range res.Detections {
		s.obs.AddDetection(string(d.Label))
	}
}

// matchedLabels returns detected ∩ criteria, sorted and deduplicated.
func matchedLabels(dets []nudenet.Detection, criteria nudenet.LabelSet) []nudenet.Label {
	var out []nudenet.Label
	for _, d := range dets {
		if criteria.Has(d.Label) {
			out = append(out, d.Label)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// formatDetections renders "label:score; label:score" in detection order.
func formatDetections(dets []nudenet.Detection) string {
	parts := make([]string, 0, len(dets))
	for _, d := range dets {
		parts = append(parts, string(d.Label)+":"+strconv.FormatFloat(d.Score, 'f', -1, 64))
	}
	return strings.Join(parts, "; ")
}

// titleBool renders the NSFW flag the way existing clients parse it.
func titleBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// opaqueRGB flattens img onto black, producing the 8-bit opaque RGB layout
// the detector consumes.
func opaqueRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(out, b, img, b.Min, draw.Over)
	return out
}
