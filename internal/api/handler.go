package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gonkalabs/nudenet-proxy-go/internal/censor"
	"github.com/gonkalabs/nudenet-proxy-go/internal/metrics"
	"github.com/gonkalabs/nudenet-proxy-go/internal/nudenet"
)

// Version is reported by GET /.
const Version = "1.0"

const (
	defaultThreshold = 0.2
	defaultBlocks    = 3

	minBlurBlocks = 3
	maxBlurBlocks = 100

	// multipartMemory is how much of a multipart body is kept in memory
	// before spilling to temp files.
	multipartMemory = 8 << 20
)

// Prober checks whether the detector sidecar is reachable.
type Prober interface {
	Health(ctx context.Context) error
}

// Handler implements all HTTP endpoints.
type Handler struct {
	svc       *censor.Service
	prober    Prober             // nil skips the sidecar probe
	metrics   *metrics.Collector // nil when metrics are disabled
	maxUpload int64
	maxPixels int
}

// New creates a Handler. prober and m may be nil. maxPixels caps the decoded
// size of uploaded images and overlays; <= 0 disables the cap.
func New(svc *censor.Service, prober Prober, m *metrics.Collector, maxUpload int64, maxPixels int) *Handler {
	return &Handler{
		svc:       svc,
		prober:    prober,
		metrics:   m,
		maxUpload: maxUpload,
		maxPixels: maxPixels,
	}
}

// Register mounts routes on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /censor", h.instrument("/censor", h.censor))
	mux.Handle("POST /isNSFW", h.instrument("/isNSFW", h.isNSFW))
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /health/detector", h.detectorHealth)
	mux.HandleFunc("GET /{$}", h.index)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

func (h *Handler) instrument(route string, fn http.HandlerFunc) http.Handler {
	if h.metrics == nil {
		return fn
	}
	return h.metrics.Middleware(route, fn)
}

// ---------- endpoints ----------

func (h *Handler) censor(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	verr := &ValidationError{}
	p := params{r: r, errs: verr}
	method := p.method("censor_method", nudenet.Pixelate)
	criteria := p.labels("censorship_criteria", nudenet.DefaultCensorCriteria)
	threshold := p.threshold()
	blocks := p.intParam("blocks", defaultBlocks)
	includeMeta := p.boolParam("include_metadata", true)
	raw, ok := h.readFile(w, r, "image", verr)
	if !ok {
		return
	}
	if !verr.empty() {
		writeValidation(w, verr)
		return
	}

	switch method {
	case nudenet.GaussianBlur:
		if blocks > maxBlurBlocks {
			verr.add([]string{"query", "censor_method"}, "less_than",
				"Blocks value need to be less than %d for gaussian blur.", maxBlurBlocks)
		} else if blocks < minBlurBlocks {
			verr.add([]string{"query", "censor_method"}, "greater_than",
				"Blocks value need to be greater than %d for gaussian blur.", minBlurBlocks-1)
		}
	case nudenet.Pixelate:
		if blocks < 1 {
			verr.add(queryLoc("blocks"), "greater_than", "Blocks value need to be greater than 0 for pixelate.")
		}
	}
	if !verr.empty() {
		writeValidation(w, verr)
		return
	}

	var overlay []byte
	if method == nudenet.ImageOverlay {
		overlay, ok = h.readOptionalFile(w, r, "overlay_image")
		if !ok {
			return
		}
		if overlay != nil {
			if err := censor.CheckPixels(overlay, h.maxPixels); err != nil {
				writeServiceErr(w, err)
				return
			}
		}
	}

	img, format, err := censor.Decode(raw, h.maxPixels)
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	slog.Info("censor",
		"method", method,
		"criteria", criteria.Labels(),
		"threshold", threshold,
		"blocks", blocks,
		"format", format,
		"overlay", overlay != nil,
	)

	res, err := h.svc.Redact(r.Context(), censor.RedactRequest{
		Image:         img,
		Criteria:      criteria,
		Method:        method,
		Threshold:     threshold,
		Blocks:        blocks,
		EmbedMetadata: includeMeta,
		Overlay:       overlay,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	parts := make([]string, 0, len(res.Matched))
	for _, l := range res.Matched {
		parts = append(parts, string(l))
	}

	// Header names are sent verbatim (lower-case, underscores) for existing
	// clients, so bypass canonicalisation.
	w.Header()[HeaderUsedMethod] = []string{string(method)}
	w.Header()[HeaderCensoredParts] = []string{strings.Join(parts, ",")}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.PNG)
}

// Response headers set by /censor.
const (
	HeaderUsedMethod    = "used_censor_method"
	HeaderCensoredParts = "censored_parts"
)

func (h *Handler) isNSFW(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	verr := &ValidationError{}
	p := params{r: r, errs: verr}
	criteria := p.labels("nsfw_criteria", nudenet.DefaultNSFWCriteria)
	threshold := p.threshold()
	raw, ok := h.readFile(w, r, "image", verr)
	if !ok {
		return
	}
	if !verr.empty() {
		writeValidation(w, verr)
		return
	}

	img, _, err := censor.Decode(raw, h.maxPixels)
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	nsfw, err := h.svc.CheckNSFW(r.Context(), img, criteria, threshold)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	slog.Info("isNSFW", "criteria", criteria.Labels(), "threshold", threshold, "nsfw", nsfw)
	writeJSON(w, http.StatusOK, nsfw)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) detectorHealth(w http.ResponseWriter, r *http.Request) {
	if h.prober == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unknown"})
		return
	}
	if err := h.prober.Health(r.Context()); err != nil {
		slog.Warn("detector health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":           "NudeNet proxy",
		"version":        Version,
		"endpoints":      []string{"POST /censor", "POST /isNSFW", "GET /health", "GET /health/detector"},
		"labels":         nudenet.AllLabels,
		"censor_methods": nudenet.CensorMethods,
	})
}

// ---------- helpers ----------

// parseForm caps the body and parses query plus multipart values. It writes
// the error response itself and reports whether the caller may continue.
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	err := r.ParseMultipartForm(multipartMemory)
	if err == nil || errors.Is(err, http.ErrNotMultipart) {
		if err != nil {
			// Still pick up query parameters for the validation report.
			err = r.ParseForm()
		}
		if err == nil {
			return true
		}
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		writeErr(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooBig.Limit))
		return false
	}
	writeErr(w, http.StatusBadRequest, "failed to parse form: "+err.Error())
	return false
}

// readFile returns the named required upload. A missing file is recorded in
// verr; a read failure is answered directly and reported as !ok.
func (h *Handler) readFile(w http.ResponseWriter, r *http.Request, field string, verr *ValidationError) ([]byte, bool) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		verr.add([]string{"body", field}, "missing", "Field required")
		return nil, true
	}
	return h.readOptionalFile(w, r, field)
}

// readOptionalFile returns nil when the field is absent.
func (h *Handler) readOptionalFile(w http.ResponseWriter, r *http.Request, field string) ([]byte, bool) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		return nil, true
	}
	f, err := r.MultipartForm.File[field][0].Open()
	if err != nil {
		writeErr(w, http.StatusBadRequest, "failed to open "+field+": "+err.Error())
		return nil, false
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "failed to read "+field+": "+err.Error())
		return nil, false
	}
	return b, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeValidation(w http.ResponseWriter, verr *ValidationError) {
	slog.Info("request rejected", "err", verr)
	writeJSON(w, http.StatusUnprocessableEntity, verr)
}

// writeServiceErr maps processing-layer errors to HTTP statuses.
func writeServiceErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, censor.ErrTooLarge):
		slog.Info("oversized image", "err", err)
		writeErr(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, censor.ErrDecode):
		slog.Info("undecodable upload", "err", err)
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, censor.ErrInference):
		slog.Error("inference error", "err", err)
		writeErr(w, http.StatusInternalServerError, err.Error())
	default:
		slog.Error("internal error", "err", err)
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}
