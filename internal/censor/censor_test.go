package censor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/nudenet-proxy-go/internal/nudenet"
	"github.com/gonkalabs/nudenet-proxy-go/internal/pngmeta"
)

// fakeCapability records the last call and returns canned detections.
type fakeCapability struct {
	dets []nudenet.Detection
	err  error

	censorCalls int
	lastOpts    nudenet.CensorOptions
	lastDetect  image.Image
}

func (f *fakeCapability) Detect(_ context.Context, img image.Image, threshold float64) ([]nudenet.Detection, error) {
	f.lastDetect = img
	if f.err != nil {
		return nil, f.err
	}
	var out []nudenet.Detection
	for _, d := range f.dets {
		if d.Score >= threshold {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeCapability) Censor(_ context.Context, img image.Image, opts nudenet.CensorOptions) (*nudenet.CensorResult, error) {
	f.censorCalls++
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	return &nudenet.CensorResult{Output: out, Detections: f.dets}, nil
}

type countingObserver struct {
	inferences int
	labels     map[string]int
}

func (o *countingObserver) ObserveInference(string, time.Duration) { o.inferences++ }
func (o *countingObserver) AddDetection(label string) {
	if o.labels == nil {
		o.labels = map[string]int{}
	}
	o.labels[label]++
}

func testImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 6))
	img.SetNRGBA(1, 1, color.NRGBA{R: 200, A: 255})
	return img
}

func TestRedact_BlurBlocksCoercedToPrime(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{3, 3}, {4, 5}, {10, 11}, {13, 13}, {24, 29}, {100, 101},
	}
	for _, tt := range tests {
		f := &fakeCapability{}
		s := New(f, nil)
		res, err := s.Redact(context.Background(), RedactRequest{
			Image:  testImage(),
			Method: nudenet.GaussianBlur,
			Blocks: tt.in,
		})
		require.NoError(t, err)
		assert.Equal(t, tt.want, f.lastOpts.Blocks, "blocks=%d", tt.in)
		assert.Equal(t, tt.want, res.Blocks)
	}
}

func TestRedact_PixelateBlocksUnchanged(t *testing.T) {
	f := &fakeCapability{}
	_, err := New(f, nil).Redact(context.Background(), RedactRequest{
		Image:  testImage(),
		Method: nudenet.Pixelate,
		Blocks: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, f.lastOpts.Blocks)
}

func TestRedact_ForwardsOptions(t *testing.T) {
	f := &fakeCapability{}
	overlay := []byte{1, 2, 3}
	criteria := nudenet.NewLabelSet(nudenet.Belly)

	_, err := New(f, nil).Redact(context.Background(), RedactRequest{
		Image:     testImage(),
		Criteria:  criteria,
		Method:    nudenet.ImageOverlay,
		Threshold: 0.35,
		Blocks:    3,
		Overlay:   overlay,
	})
	require.NoError(t, err)
	assert.Equal(t, nudenet.ImageOverlay, f.lastOpts.Method)
	assert.Equal(t, 0.35, f.lastOpts.MinScore)
	assert.Equal(t, criteria, f.lastOpts.Criteria)
	assert.Equal(t, overlay, f.lastOpts.Overlay)
}

func TestRedact_MatchedIsSortedIntersection(t *testing.T) {
	f := &fakeCapability{dets: []nudenet.Detection{
		{Label: nudenet.MalePenis, Score: 0.9},
		{Label: nudenet.FemaleFace, Score: 0.8},
		{Label: nudenet.Belly, Score: 0.7},
		{Label: nudenet.Belly, Score: 0.6},
	}}
	res, err := New(f, nil).Redact(context.Background(), RedactRequest{
		Image:    testImage(),
		Criteria: nudenet.NewLabelSet(nudenet.MalePenis, nudenet.Belly, nudenet.Feet),
		Method:   nudenet.BlackBox,
	})
	require.NoError(t, err)
	assert.Equal(t, []nudenet.Label{nudenet.Belly, nudenet.MalePenis}, res.Matched)
}

func TestRedact_OutputIsPNGWithMetadata(t *testing.T) {
	f := &fakeCapability{dets: []nudenet.Detection{
		{Label: nudenet.FemaleFace, Score: 0.86},
		{Label: nudenet.Belly, Score: 0.54},
	}}
	s := New(f, nil)

	tests := []struct {
		name     string
		criteria nudenet.LabelSet
		wantNSFW string
	}{
		{"matched", nudenet.NewLabelSet(nudenet.Belly), "True"},
		{"unmatched", nudenet.NewLabelSet(nudenet.MalePenis), "False"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Redact(context.Background(), RedactRequest{
				Image:         testImage(),
				Criteria:      tt.criteria,
				Method:        nudenet.Pixelate,
				Blocks:        3,
				EmbedMetadata: true,
			})
			require.NoError(t, err)

			_, err = png.Decode(bytes.NewReader(res.PNG))
			require.NoError(t, err)

			kv, err := pngmeta.Text(res.PNG)
			require.NoError(t, err)
			assert.Equal(t, "female-face:0.86; belly:0.54", kv[MetaDetections])
			assert.Equal(t, tt.wantNSFW, kv[MetaNSFW])
		})
	}
}

func TestRedact_NoMetadata(t *testing.T) {
	f := &fakeCapability{dets: []nudenet.Detection{{Label: nudenet.Belly, Score: 0.5}}}
	res, err := New(f, nil).Redact(context.Background(), RedactRequest{
		Image:    testImage(),
		Criteria: nudenet.NewLabelSet(nudenet.Belly),
		Method:   nudenet.BlackBox,
	})
	require.NoError(t, err)

	kv, err := pngmeta.Text(res.PNG)
	require.NoError(t, err)
	assert.Empty(t, kv)
}

func TestRedact_JPEGInPNGOut(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(), nil))

	img, format, err := Decode(buf.Bytes(), 0)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)

	res, err := New(&fakeCapability{}, nil).Redact(context.Background(), RedactRequest{
		Image:  img,
		Method: nudenet.Pixelate,
		Blocks: 3,
	})
	require.NoError(t, err)

	_, format, err = image.Decode(bytes.NewReader(res.PNG))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

func TestRedact_Errors(t *testing.T) {
	boom := errors.New("onnx runtime crashed")
	_, err := New(&fakeCapability{err: boom}, nil).Redact(context.Background(), RedactRequest{
		Image:  testImage(),
		Method: nudenet.Pixelate,
	})
	assert.ErrorIs(t, err, ErrInference)
	assert.ErrorIs(t, err, boom)

	_, err = New(&fakeCapability{err: nudenet.ErrBadOverlay}, nil).Redact(context.Background(), RedactRequest{
		Image:  testImage(),
		Method: nudenet.ImageOverlay,
	})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestCheckNSFW(t *testing.T) {
	dets := []nudenet.Detection{
		{Label: nudenet.FemaleFace, Score: 0.9},
		{Label: nudenet.ButtocksBare, Score: 0.15},
	}
	tests := []struct {
		name      string
		dets      []nudenet.Detection
		criteria  nudenet.LabelSet
		threshold float64
		want      bool
	}{
		{"intersects", dets, nudenet.NewLabelSet(nudenet.FemaleFace), 0.2, true},
		{"disjoint", dets, nudenet.NewLabelSet(nudenet.MalePenis), 0.2, false},
		{"below threshold", dets, nudenet.NewLabelSet(nudenet.ButtocksBare), 0.2, false},
		{"threshold lowered", dets, nudenet.NewLabelSet(nudenet.ButtocksBare), 0.1, true},
		{"no detections", nil, nudenet.NewLabelSet(nudenet.AllLabels...), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(&fakeCapability{dets: tt.dets}, nil).CheckNSFW(context.Background(), testImage(), tt.criteria, tt.threshold)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckNSFW_SendsOpaqueRGB(t *testing.T) {
	f := &fakeCapability{}
	translucent := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	translucent.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 128})

	_, err := New(f, nil).CheckNSFW(context.Background(), translucent, nudenet.NewLabelSet(), 0.2)
	require.NoError(t, err)

	rgb, ok := f.lastDetect.(*image.RGBA)
	require.True(t, ok)
	for i := 3; i < len(rgb.Pix); i += 4 {
		assert.Equal(t, uint8(255), rgb.Pix[i])
	}
}

func TestCheckNSFW_Error(t *testing.T) {
	_, err := New(&fakeCapability{err: errors.New("x")}, nil).CheckNSFW(context.Background(), testImage(), nil, 0.2)
	assert.ErrorIs(t, err, ErrInference)
}

func TestObserverCounts(t *testing.T) {
	obs := &countingObserver{}
	f := &fakeCapability{dets: []nudenet.Detection{{Label: nudenet.Feet, Score: 1}}}
	s := New(f, obs)

	_, err := s.Redact(context.Background(), RedactRequest{Image: testImage(), Method: nudenet.BlackBox})
	require.NoError(t, err)
	_, err = s.CheckNSFW(context.Background(), testImage(), nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, obs.inferences)
	assert.Equal(t, 2, obs.labels["feet"])
}

func TestDecode_Garbage(t *testing.T) {
	_, _, err := Decode([]byte("definitely not an image"), 0)
	assert.ErrorIs(t, err, ErrDecode)
	_, _, err = Decode(nil, 0)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecode_PixelLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 300, 200))))

	_, _, err := Decode(buf.Bytes(), 300*200-1)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.NotErrorIs(t, err, ErrDecode)

	img, format, err := Decode(buf.Bytes(), 300*200)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, image.Rect(0, 0, 300, 200), img.Bounds())

	_, _, err = Decode(buf.Bytes(), 0)
	assert.NoError(t, err)
}

func TestPrimes(t *testing.T) {
	assert.Equal(t, 2, nextPrime(0))
	assert.Equal(t, 2, nextPrime(1))
	assert.Equal(t, 3, nextPrime(3))
	assert.Equal(t, 5, nextPrime(4))
	assert.Equal(t, 97, nextPrime(90))
	assert.False(t, isPrime(1))
	assert.False(t, isPrime(9))
	assert.True(t, isPrime(2))
	assert.True(t, isPrime(101))
}
