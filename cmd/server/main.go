package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clip-capture/internal/capture"
	"clip-capture/internal/device"
	"clip-capture/internal/platform/config"
	"clip-capture/internal/platform/logger"
	"clip-capture/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	countdown := config.GetEnvInt("COUNTDOWN_START", capture.DefaultCountdown)
	tick := config.GetEnvDuration("COUNTDOWN_TICK", capture.DefaultTickPeriod)
	chunkInterval := config.GetEnvDuration("CHUNK_INTERVAL", device.DefaultChunkInterval)
	chunkBytes := config.GetEnvInt("CHUNK_BYTES", device.DefaultChunkBytes)
	acquireTimeout := config.GetEnvDuration("ACQUIRE_TIMEOUT", capture.DefaultAcquireTimeout)
	maxUpload := config.GetEnvInt64("MAX_UPLOAD_BYTES", capture.DefaultMaxUploadBytes)
	cameraDenied := config.GetEnvBool("CAMERA_DENIED", false)

	log := logger.New(logLevel, logFormat)
	met := metrics.New()

	devices := &device.Devices{
		Deny:          cameraDenied,
		ChunkInterval: chunkInterval,
		ChunkBytes:    chunkBytes,
	}
	ctrl := capture.NewController(capture.Options{
		Devices:        devices,
		Recorders:      devices,
		Log:            log,
		Metrics:        met,
		CountdownStart: countdown,
		TickPeriod:     tick,
	})
	mountCtx, cancelMount := context.WithTimeout(context.Background(), acquireTimeout)
	ctrl.Mount(mountCtx)
	cancelMount()

	h := capture.NewHandler(ctrl, log, met, capture.HandlerConfig{
		AcquireTimeout: acquireTimeout,
		MaxUploadBytes: maxUpload,
	})

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(h.RefreshGauges).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"countdown", countdown,
		"countdown_tick", tick.String(),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	ctrl.Close()
	if err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
