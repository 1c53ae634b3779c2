// Command ingestion accepts document changes over HTTP and publishes them to
// Kafka for the indexer.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/middleware"
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
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		var reg *prometheus.Registry
		m, reg = metrics.ForService("ingestion")
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, "ingestion", reg)
		defer shutdownMetrics(context.Background())
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentEvents)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.DocumentEvents)

	maxBytes := cfg.Indexer.MaxDocumentBytes
	h := handler.New(
		publisher.New(producer),
		validator.New(cfg.Indexer.Columns, maxBytes),
		int64(maxBytes)+64<<10,
	)

	checker := health.NewChecker()
	mux := http.NewServeMux()
	h.Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := []func(http.Handler) http.Handler{middleware.RequestID}
	if len(cfg.Server.CORSOrigins) > 0 {
		chain = append(chain, middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins)))
	}
	if cfg.Server.RateLimit > 0 {
		chain = append(chain, middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	if m != nil {
		chain = append(chain, middleware.Metrics(m))
	}
	chain = append(chain, middleware.Timeout(cfg.Server.WriteTimeout))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, chain...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
