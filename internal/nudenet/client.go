package nudenet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gonkalabs/nudenet-proxy-go/internal/signer"
)

// Client runs inference on a NudeNet sidecar over HTTP. It is safe for
// concurrent use.
type Client struct {
	pool   *endpointPool
	signer *signer.Signer // nil when requests are unsigned
	http   *http.Client
}

// NewClient creates a Client for the given sidecar base URLs
// (e.g. "http://nudenet:8001"). A nil signer sends unsigned requests.
func NewClient(urls []string, s *signer.Signer, timeout time.Duration) (*Client, error) {
	pool, err := newEndpointPool(urls)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		pool:   pool,
		signer: s,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Replicas returns the number of configured sidecar URLs.
func (c *Client) Replicas() int {
	return c.pool.Len()
}

type detectResponse struct {
	Detections []sidecarDetection `json:"detections"`
}

type sidecarDetection struct {
	Class string    `json:"class"`
	Label string    `json:"label"`
	Score float64   `json:"score"`
	Box   []float64 `json:"box"` // x, y, w, h
}

// Detect sends img to the sidecar and returns every detection scoring at
// least threshold.
func (c *Client) Detect(ctx context.Context, img image.Image, threshold float64) ([]Detection, error) {
	body, contentType, err := encodeDetectForm(img, threshold)
	if err != nil {
		return nil, err
	}

	base := c.pool.Next()
	resp, err := c.do(ctx, http.MethodPost, base, "/detect", contentType, body)
	if err != nil {
		return nil, fmt.Errorf("nudenet: detect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("nudenet: detect: status %d: %s", resp.StatusCode, string(b))
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("nudenet: detect: decode: %w", err)
	}

	out := make([]Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		name := d.Class
		if name == "" {
			name = d.Label
		}
		label, err := ParseLabel(name)
		if err != nil {
			slog.Warn("nudenet: skipping unknown class", "class", name)
			continue
		}
		det := Detection{Label: label, Score: d.Score}
		if len(d.Box) == 4 {
			det.Box = Box{X: int(d.Box[0]), Y: int(d.Box[1]), W: int(d.Box[2]), H: int(d.Box[3])}
		}
		out = append(out, det)
	}
	return filterByScore(out, threshold), nil
}

// Health probes GET /health on every replica and returns the first failure.
func (c *Client) Health(ctx context.Context) error {
	for _, base := range c.pool.All() {
		resp, err := c.do(ctx, http.MethodGet, base, "/health", "", nil)
		if err != nil {
			return fmt.Errorf("nudenet: health %s: %w", base, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("nudenet: health %s: status %d", base, resp.StatusCode)
		}
	}
	return nil
}

// do executes a request against one replica, signing it when a signer is set.
func (c *Client) do(ctx context.Context, method, base, path, contentType string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.signer != nil {
		sig, ts := c.signer.Sign(payload, path)
		req.Header.Set("Authorization", sig)
		req.Header.Set("X-Requester-Address", c.signer.Address())
		req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	}

	slog.Info("nudenet request", "method", method, "url", base+path, "bytes", len(payload))
	return c.http.Do(req)
}

// encodeDetectForm builds the multipart body: "image" (PNG) and "threshold".
func encodeDetectForm(img image.Image, threshold float64) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("image", "image.png")
	if err != nil {
		return nil, "", fmt.Errorf("nudenet: create form file: %w", err)
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(part, img); err != nil {
		return nil, "", fmt.Errorf("nudenet: encode image: %w", err)
	}
	if err := w.WriteField("threshold", strconv.FormatFloat(threshold, 'f', -1, 64)); err != nil {
		return nil, "", fmt.Errorf("nudenet: write threshold: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("nudenet: close form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
