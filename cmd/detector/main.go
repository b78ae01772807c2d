package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kkalu-stack/anomaly-detection-system/internal/config"
	"github.com/kkalu-stack/anomaly-detection-system/internal/pipeline"
	"github.com/kkalu-stack/anomaly-detection-system/internal/sink"
	"github.com/kkalu-stack/anomaly-detection-system/internal/source"
	"github.com/kkalu-stack/anomaly-detection-system/pkg/logging"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration; invalid configuration fails fast before any
	// processing begins.
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Component("detector"))
	logging.SetDefault(logger)

	slog.Info("Starting detector service",
		slog.Int("lanes", cfg.Lanes.Count),
		slog.String("model", cfg.Scoring.Model),
		slog.String("window", cfg.Window.Length.String()),
		slog.String("log_level", cfg.Logging.Level),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	// Ingestion source
	src, err := source.NewJetStreamSource(cfg.Transport, logger)
	if err != nil {
		log.Fatalf("Failed to connect ingestion source: %v", err)
	}
	defer src.Close()

	// Outbound sinks: NATS always, Redis alert store when enabled.
	natsSink, err := sink.NewNATSSink(cfg.Transport)
	if err != nil {
		log.Fatalf("Failed to connect alert sink: %v", err)
	}
	sinks := sink.Multi{natsSink}

	if cfg.Redis.Enabled {
		store, err := sink.NewRedisAlertStore(cfg.Redis.URL, cfg.Redis.AlertTTL)
		if err != nil {
			log.Printf("WARNING: Failed to initialize Redis alert store: %v", err)
			log.Println("Continuing without the recent-alerts store")
		} else {
			sinks = append(sinks, store)
			log.Printf("Redis alert store enabled (ttl: %s)", cfg.Redis.AlertTTL)
		}
	} else {
		log.Println("Redis disabled - recent-alerts store not available")
	}
	defer sinks.Close()

	pipe, err := pipeline.New(cfg, src, sinks, logger)
	if err != nil {
		log.Fatalf("Failed to assemble pipeline: %v", err)
	}

	// Observability endpoint: Prometheus metrics plus a stats snapshot.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !src.Connected() {
			http.Error(w, "nats disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pipe.Stats())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Metrics server listening", slog.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server failed: %v", err)
		}
	}()

	// Run until SIGINT/SIGTERM; in-flight lane work drains and a final
	// checkpoint is written before exit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pipe.Run(ctx); err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	slog.Info("Detector stopped")
}
