package main

import (
	"context"
	"encoding/hex"
	"image"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gonkalabs/nudenet-proxy-go/internal/api"
	"github.com/gonkalabs/nudenet-proxy-go/internal/censor"
	"github.com/gonkalabs/nudenet-proxy-go/internal/config"
	"github.com/gonkalabs/nudenet-proxy-go/internal/metrics"
	"github.com/gonkalabs/nudenet-proxy-go/internal/nudenet"
	"github.com/gonkalabs/nudenet-proxy-go/internal/signer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	var s *signer.Signer
	if cfg.DetectorPrivateKey != "" {
		s, err = signer.New(cfg.DetectorPrivateKey)
		if err != nil {
			slog.Error("signer error", "err", err)
			os.Exit(1)
		}
		slog.Info("sidecar request signing enabled",
			"address", s.Address(),
			"public_key", hex.EncodeToString(s.PublicKey()),
		)
	}

	client, err := nudenet.NewClient(cfg.DetectorURLs, s, cfg.DetectorTimeout)
	if err != nil {
		slog.Error("detector client error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := client.Health(ctx); err != nil {
		// Sidecar may still be loading its model.
		slog.Warn("detector not reachable at startup", "err", err)
	}
	cancel()

	var overlay image.Image
	if cfg.DefaultOverlayPath != "" {
		overlay, err = nudenet.LoadOverlay(cfg.DefaultOverlayPath)
		if err != nil {
			slog.Error("default overlay error", "err", err)
			os.Exit(1)
		}
		slog.Info("default overlay loaded", "path", cfg.DefaultOverlayPath)
	}

	// Built once, shared read-only by every request.
	detector := nudenet.NewDetector(client, overlay)

	var collector *metrics.Collector
	if cfg.Metrics {
		collector = metrics.New("nudenet")
	}

	var obs censor.Observer
	if collector != nil {
		obs = collector
	}
	handler := api.New(censor.New(detector, obs), client, collector, cfg.MaxUploadBytes, cfg.MaxImagePixels)

	mux := http.NewServeMux()
	handler.Register(mux)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.DetectorTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)

		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()

		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("starting nudenet proxy",
		"addr", cfg.ListenAddr,
		"sidecars", client.Replicas(),
		"signed", s != nil,
		"metrics", cfg.Metrics,
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
