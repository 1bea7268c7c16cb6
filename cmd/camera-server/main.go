package main

import (
	"context"
	"embed"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	flag "github.com/spf13/pflag"

	"github.com/wachiwi/picam/cmd/camera-server/handlers"
	"github.com/wachiwi/picam/pkg/broker"
	"github.com/wachiwi/picam/pkg/camera"
	"github.com/wachiwi/picam/pkg/config"
	"github.com/wachiwi/picam/pkg/encoder"
	"github.com/wachiwi/picam/pkg/indicator"
	"github.com/wachiwi/picam/pkg/logger"
	"github.com/wachiwi/picam/pkg/snapshot"
	"github.com/wachiwi/picam/pkg/telemetry"
)

//go:embed templates/*
var templateFS embed.FS

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logger.Setup("info")
		logger.Fatal("Failed to load configuration", "error", err)
	}
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()

	logger.Setup(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	shutdownTelemetry := func(context.Context) error { return nil }
	if cfg.OTELEndpoint != "" {
		shutdownTelemetry, err = telemetry.Setup(ctx, telemetry.Options{
			ServiceName: "camera-server",
			Endpoint:    cfg.OTELEndpoint,
		})
		if err != nil {
			slog.Warn("Telemetry disabled", "error", err)
			shutdownTelemetry = func(context.Context) error { return nil }
		}
	}

	// --- Camera and broker ---
	dev, err := camera.NewDevice(cfg.CameraConfig())
	if err != nil {
		logger.Fatal("Failed to create camera device", "error", err)
	}
	cam := camera.NewResource(dev, cfg.AcquireTimeout)
	b := broker.New(cam, encoder.New(cfg.JPEGQuality), cfg.BrokerConfig())
	// The loop is stopped explicitly during shutdown, not by the signal.
	if err := b.Start(context.WithoutCancel(ctx)); err != nil {
		logger.Fatal("Failed to start camera", "error", err)
	}

	// --- Snapshots ---
	snaps := snapshot.NewHandler(b, cfg.SnapshotConfig())
	saver := snapshot.NewSaver(cfg.SnapshotDir, cfg.SnapshotRetention)

	var scheduler *snapshot.Scheduler
	if cfg.SnapshotSchedule != "" {
		scheduler, err = snapshot.NewScheduler(cfg.SnapshotSchedule, snaps, saver)
		if err != nil {
			logger.Fatal("Invalid snapshot schedule", "schedule", cfg.SnapshotSchedule, "error", err)
		}
		scheduler.Start()
		slog.Info("Scheduled snapshots enabled", "schedule", cfg.SnapshotSchedule, "dir", cfg.SnapshotDir)
	}

	// --- Status LED ---
	ledCtx, stopLED := context.WithCancel(context.Background())
	var ledWG sync.WaitGroup
	if cfg.StatusLEDPin != "" {
		line, err := indicator.OpenLine(cfg.StatusLEDChip, cfg.StatusLEDPin)
		if err != nil {
			slog.Warn("Status LED disabled", "error", err)
		} else {
			ledWG.Add(1)
			go func() {
				defer ledWG.Done()
				indicator.New(line).Follow(ledCtx, b)
			}()
		}
	}

	// --- HTTP ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), logger.GinLogger())
	router.SetTrustedProxies([]string{"127.0.0.1"})

	handlers.Register(router,
		&handlers.CameraHandler{
			Broker:         b,
			Camera:         cam,
			Snapshots:      snaps,
			Saver:          saver,
			WSWriteTimeout: 10 * time.Second,
		},
		&handlers.SnapshotHandler{Saver: saver},
		&handlers.PageHandler{TemplateFS: templateFS, Title: "Pi Camera"},
	)

	// No write timeout, streams stay open for as long as the viewer watches.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Server is running", "addr", cfg.HTTPAddr, "driver", cfg.CameraDriver,
			"width", cfg.Width, "height", cfg.Height, "fps", cfg.FPS)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to run server", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	if scheduler != nil {
		scheduler.Stop()
	}

	// Ends every stream session, so Shutdown below does not wait on them.
	b.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	if err := cam.Stop(); err != nil {
		slog.Error("Failed to stop camera", "error", err)
	}

	stopLED()
	ledWG.Wait()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("Failed to shutdown telemetry", "error", err)
	}
	slog.Info("Shutdown complete")
}
