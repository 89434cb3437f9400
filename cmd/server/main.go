// lorelens server - captures game dialogue, translates it and serves the
// result to overlays over WebSocket.
package main

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/lorelens/internal/config"
	"github.com/GriffinCanCode/lorelens/internal/grpcclient"
	"github.com/GriffinCanCode/lorelens/internal/observe"
	"github.com/GriffinCanCode/lorelens/internal/orchestrator"
	"github.com/GriffinCanCode/lorelens/internal/orchestrator/bridge"
	"github.com/GriffinCanCode/lorelens/internal/orchestrator/capture"
	"github.com/GriffinCanCode/lorelens/internal/orchestrator/dialogue"
	"github.com/GriffinCanCode/lorelens/internal/orchestrator/history"
	"github.com/GriffinCanCode/lorelens/internal/orchestrator/translation"
	"github.com/GriffinCanCode/lorelens/internal/resilience"
	"github.com/GriffinCanCode/lorelens/internal/screen"
	"github.com/GriffinCanCode/lorelens/internal/server"
	"github.com/GriffinCanCode/lorelens/internal/sysload"
	"github.com/GriffinCanCode/lorelens/pkg/types"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})))

	// Metrics
	metricsProvider, err := observe.InitProvider(observe.ProviderConfig{ServiceName: "lorelens", ServiceVersion: version})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsProvider.Shutdown(ctx)
	}()
	metrics, err := metricsProvider.Metrics()
	if err != nil {
		return err
	}

	// Screen capture and OCR
	grabber, err := screen.New()
	if err != nil {
		return err
	}
	defer func() { _ = grabber.Close() }()

	ocr, err := grpcclient.New(cfg.OCRAddr, grpcclient.DefaultConfig())
	if err != nil {
		return err
	}
	defer func() { _ = ocr.Close() }()

	captureSrc := capture.NewSource(grabber, ocr, capture.SourceConfig{
		Areas: captureAreas(cfg),
		Cache: capture.CacheConfig{
			Capacity:  cfg.SignatureCacheSize,
			Tolerance: cfg.SignatureTolerance,
			BaseTTL:   cfg.SignatureBaseTTL,
			MaxTTL:    cfg.SignatureMaxTTL,
		},
		Pacer: capture.NewPacer(cfg.CaptureInterval, cfg.CPULimitPercent, cfg.HighLoadFactor, sysload.Percent),
	}, metrics)

	// Bridge, optional
	var bridgeSrc *bridge.Source
	if cfg.BridgeURL != "" {
		bridgeSrc = bridge.NewSource(&bridge.WebSocketTransport{URL: cfg.BridgeURL}, bridge.Config{
			Debounce: bridge.DebounceConfig{
				BufferSize:  cfg.BridgeBufferSize,
				Window:      cfg.DebounceWindow,
				RapidWindow: cfg.RapidDebounce,
				RapidDetect: cfg.RapidDetectWindow,
				RapidHold:   cfg.RapidHold,
			},
			Reconnect: resilience.ReconnectConfig{
				MaxRetries: cfg.ReconnectRetries,
				BaseDelay:  cfg.ReconnectBaseDelay,
				Settle:     cfg.ReconnectSettle,
			},
		}, metrics)
	}

	// Translation
	prov, err := newProvider(cfg.Provider)
	if err != nil {
		return err
	}
	hist := history.NewStore(cfg.HistorySize)
	translator := translation.New(prov, cfg.Lore, translation.ConfigFrom(cfg), metrics).WithHistory(hist)
	classifier := dialogue.New(dialogue.Config{
		UnknownSpeaker: cfg.UnknownSpeaker,
		Overrides:      cfg.SpeakerOverrides,
		Phrases:        cfg.ChoicePhrases,
	})

	srv := server.New(nil, hist, server.Options{
		Metrics: metricsProvider.Handler(),
		Health: func(ctx context.Context) error {
			if !ocr.Healthy(ctx) {
				return errors.New("ocr service unhealthy")
			}
			return nil
		},
		Breaker: func() string { return translator.Breaker().State().String() },
	})

	frames := make(chan types.Frame, orchestrator.FrameBuffer)
	deps := orchestrator.Deps{
		Classifier: classifier,
		Translator: translator,
		Sink:       srv,
		Capture:    captureSrc,
		Frames:     frames,
		History:    hist,
		LoadLore:   loreLoader(cfg),
	}
	if bridgeSrc != nil {
		deps.Bridge = bridgeSrc
	}
	manager := orchestrator.New(deps, orchestrator.ConfigFrom(cfg), metrics)
	srv.SetPipeline(manager)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return captureSrc.Run(gctx, frames) })
	if bridgeSrc != nil {
		g.Go(func() error { return bridgeSrc.Run(gctx) })
	}
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error {
		slog.Info("lorelens starting",
			"http", cfg.HTTPAddr, "ocr", cfg.OCRAddr, "provider", cfg.Provider.Name,
			"areas", len(captureSrc.Areas()), "bridge", cfg.BridgeURL != "")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("shutdown complete")
	return err
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func captureAreas(cfg *config.Config) []capture.Area {
	var out []capture.Area
	for _, a := range cfg.EnabledAreas() {
		out = append(out, capture.Area{
			ID:   a.ID,
			Role: a.Role,
			Rect: image.Rect(a.X, a.Y, a.X+a.W, a.Y+a.H),
		})
	}
	return out
}

// loreLoader re-reads the data file on reload. Without one the lore from
// the config overlay stays in effect.
func loreLoader(cfg *config.Config) orchestrator.LoreLoader {
	return func() (config.Lore, error) {
		if cfg.DataPath == "" {
			return cfg.Lore, nil
		}
		lore, err := config.LoadData(cfg.DataPath)
		if err != nil {
			return config.Lore{}, err
		}
		return *lore, nil
	}
}
