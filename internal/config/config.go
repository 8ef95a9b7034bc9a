package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cfg holds all runtime configuration loaded from environment variables.
type Cfg struct {
	// Detector sidecar(s). Populated from NUDENET_URLS (comma-separated) or
	// NUDENET_URL (single).
	DetectorURLs    []string
	DetectorTimeout time.Duration

	// DetectorPrivateKey signs sidecar requests when set (hex secp256k1).
	DetectorPrivateKey string

	// DefaultOverlayPath replaces the built-in overlay tile when set.
	DefaultOverlayPath string

	MaxUploadBytes int64
	MaxImagePixels int  // checked from the image header before decoding
	Metrics        bool // METRICS=false hides /metrics
	LogLevel       slog.Level

	// Server
	ListenAddr string // e.g. :8080
}

// Load reads .env (if present) then environment variables and returns Cfg.
func Load() (*Cfg, error) {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()

	urls := splitList(os.Getenv("NUDENET_URLS"))
	if len(urls) == 0 {
		urls = splitList(os.Getenv("NUDENET_URL"))
	}
	if len(urls) == 0 {
		urls = []string{"http://nudenet:8001"}
	}

	timeoutSec, err := intEnv("NUDENET_TIMEOUT_SEC", 60)
	if err != nil {
		return nil, err
	}
	if timeoutSec <= 0 {
		return nil, fmt.Errorf("NUDENET_TIMEOUT_SEC must be positive, got %d", timeoutSec)
	}

	maxMB, err := intEnv("MAX_UPLOAD_MB", 32)
	if err != nil {
		return nil, err
	}
	if maxMB <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", maxMB)
	}

	// 1024*1024*1024/4/3, the usual decompression-bomb limit.
	maxPixels, err := intEnv("MAX_IMAGE_PIXELS", 89_478_485)
	if err != nil {
		return nil, err
	}
	if maxPixels <= 0 {
		return nil, fmt.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", maxPixels)
	}

	level, err := parseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return nil, err
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	return &Cfg{
		DetectorURLs:       urls,
		DetectorTimeout:    time.Duration(timeoutSec) * time.Second,
		DetectorPrivateKey: strings.TrimSpace(os.Getenv("NUDENET_PRIVATE_KEY")),
		DefaultOverlayPath: strings.TrimSpace(os.Getenv("DEFAULT_OVERLAY_PATH")),
		MaxUploadBytes:     int64(maxMB) << 20,
		MaxImagePixels:     maxPixels,
		Metrics:            boolEnv("METRICS", true),
		LogLevel:           level,
		ListenAddr:         ":" + port,
	}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	return raw == "1" || strings.EqualFold(raw, "true")
}

func parseLevel(raw string) (slog.Level, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}
