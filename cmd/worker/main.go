package main

import (
	"Go_Drop/config"
	"Go_Drop/internal/app"
	"Go_Drop/internal/logging"
	"Go_Drop/internal/metrics"
	"Go_Drop/internal/mq"
	"Go_Drop/internal/worker"
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

// main runs the lifecycle scheduler without the HTTP API and redrives
// exhausted deletions from the dead-letter queue.
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

	prom := metrics.NewProm("go_drop_worker", prometheus.DefaultRegisterer)
	scheduler, err := app.StartScheduler(ctx, cfg, deps, prom)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer scheduler.Stop()

	if addr := cfg.WorkerMetricsAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
	}

	log.Info().Msg("lifecycle worker started")
	if deps.Rabbit == nil {
		<-ctx.Done()
		return
	}

	deliveries, err := deps.Rabbit.Consume(mq.QueueDLQ, cfg.RabbitMQPrefetch)
	if err != nil {
		log.Error().Err(err).Msg("consume dead-letter queue failed; sweeping only")
		<-ctx.Done()
		return
	}
	redriver := worker.NewRedriver(deps.Records, scheduler, cfg.RedriveDelay)
	if err := redriver.Run(ctx, deliveries); err != nil {
		log.Error().Err(err).Msg("redrive worker stopped")
	}
}
