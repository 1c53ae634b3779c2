package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service", "storage", cfg.Storage.Driver, "columns", cfg.Indexer.Columns)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		var reg *prometheus.Registry
		m, reg = metrics.ForService("indexer")
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, "indexer", reg)
		defer shutdownMetrics(context.Background())
	}

	idx, err := bootstrap.Open(ctx, cfg, m)
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer func() {
		slog.Info("committing index before shutdown")
		if err := idx.Close(context.Background()); err != nil {
			slog.Error("closing index failed", "error", err)
		}
	}()

	notifier := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexCommitted)
	defer notifier.Close()

	// Batches and scheduled optimizes each commit the engine, so they take
	// turns.
	var writeMu sync.Mutex
	indexConsumer := consumer.New(idx.Engine, notifier)
	handle := func(ctx context.Context, batch []kafka.Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return indexConsumer.HandleBatch(ctx, batch)
	}

	scheduler := cron.New()
	if spec := cfg.Indexer.OptimizeSchedule; spec != "" {
		_, err := scheduler.AddFunc(spec, func() {
			writeMu.Lock()
			defer writeMu.Unlock()
			start := time.Now()
			if err := idx.Engine.Optimize(ctx); err != nil {
				slog.Error("scheduled optimize failed", "error", err)
				return
			}
			slog.Info("scheduled optimize completed", "duration", time.Since(start))
		})
		if err != nil {
			slog.Error("invalid optimize schedule", "schedule", spec, "error", err)
			os.Exit(1)
		}
		scheduler.Start()
		slog.Info("optimize scheduled", "schedule", spec)
	}

	checker := health.NewChecker()
	idx.RegisterChecks(checker)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server error", "error", err)
		}
	}()

	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentEvents, kafka.ConsumerOptions{
		BatchSize:     cfg.Indexer.BatchSize,
		FlushInterval: cfg.Indexer.FlushInterval,
		Retry:         resilience.RetryConfig{MaxAttempts: 5},
	}, handle)
	defer kafkaConsumer.Close()

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.DocumentEvents,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := kafkaConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	<-scheduler.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}
	slog.Info("indexer service stopped")
}
