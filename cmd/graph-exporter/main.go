// Command graph-exporter runs the periodic audit-record extraction worker.
//
// Configuration comes from the environment (GRAPH_* variables, optionally
// seeded from a local .env file) and an optional YAML file named by
// GRAPH_APP_CONFIG. The worker plans one extraction cycle every
// streams * stream_frame seconds, fans fetch tasks out per time slice, and
// relays every page of records into the configured queue backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/audittrail/graph-exporter/pkg/auth"
	"github.com/audittrail/graph-exporter/pkg/config"
	"github.com/audittrail/graph-exporter/pkg/delivery"
	"github.com/audittrail/graph-exporter/pkg/exporter"
	"github.com/audittrail/graph-exporter/pkg/graph"
	"github.com/audittrail/graph-exporter/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Worker failed")
	}
}

func run() error {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	tokens, err := auth.NewClientCredentials(cfg.ClientID, cfg.ClientSecret, cfg.Tenant)
	if err != nil {
		return fmt.Errorf("token source: %w", err)
	}

	graphClient, err := graph.New(graph.Config{Tokens: tokens})
	if err != nil {
		return fmt.Errorf("graph client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var engine *delivery.Engine
	if cfg.QueueBackend == "redis" {
		queue, err := delivery.NewRedisQueueFromURL(delivery.PoolConfig{
			URL:            cfg.RedisURL,
			MaxConnections: cfg.RedisMaxConnections,
			PoolTimeout:    cfg.RedisPoolTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis queue: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = queue.Client().Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}

		engine, err = delivery.NewEngine(queue, delivery.Config{
			Workers:  cfg.Workers,
			QueueKey: cfg.QueueKey,
			Kind:     delivery.Kind(cfg.QueueKind),
			Mode:     delivery.Mode(cfg.DeliveryMode),
		})
		if err != nil {
			return fmt.Errorf("delivery engine: %w", err)
		}
	}

	sched := exporter.NewScheduler(exporter.Policies())

	service, err := exporter.NewService(graphClient, engine, sched, cfg)
	if err != nil {
		return fmt.Errorf("exporter service: %w", err)
	}

	// Health and metrics endpoints.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	logger.Info().
		Str("queue_backend", cfg.QueueBackend).
		Str("queue_key", cfg.QueueKey).
		Int("streams", cfg.Streams).
		Int("stream_frame", cfg.StreamFrame).
		Int("timelag", cfg.TimeLag).
		Str("http_addr", cfg.HTTPAddr).
		Msg("Worker starting")

	service.Run(ctx, sched)

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received, draining tasks")

	sched.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("Worker stopped")
	return nil
}
