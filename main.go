package main

import (
	"Go_Drop/config"
	"Go_Drop/internal/app"
	"Go_Drop/internal/handler"
	"Go_Drop/internal/logging"
	"Go_Drop/internal/metrics"
	"Go_Drop/internal/service"
	"Go_Drop/router"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// main initializes services and starts the HTTP server.
func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer deps.Close()

	prom := metrics.NewProm("go_drop", prometheus.DefaultRegisterer)
	scheduler, err := app.StartScheduler(ctx, cfg, deps, prom)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	objects := service.NewObjectService(deps.Blobs, deps.Records, scheduler, service.Options{
		DefaultLifetime: cfg.DefaultLifetime,
		MaxLifetime:     cfg.MaxLifetime,
		MaxHandleTTL:    cfg.MaxHandleTTL,
		Events:          deps.Events,
		Metrics:         prom,
		Progress:        service.NewProgressLogger(),
	})

	r := router.InitRouter(router.Deps{
		Objects:     handler.NewObjectHandler(objects, cfg.MaxUploadBytes),
		JWTSecret:   cfg.JWTSecret,
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     metrics.Handler(),
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	scheduler.Stop()
	log.Info().Msg("stopped")
}
