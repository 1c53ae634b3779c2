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

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/redis"
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
	slog.Info("starting search service", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		var reg *prometheus.Registry
		m, reg = metrics.ForService("searcher")
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, "searcher", reg)
		defer shutdownMetrics(context.Background())
	}

	idx, err := bootstrap.Open(ctx, cfg, m)
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := idx.Close(context.Background()); err != nil {
			slog.Error("closing index failed", "error", err)
		}
	}()

	checker := health.NewChecker()
	idx.RegisterChecks(checker)

	var queryCache *cache.QueryCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = cache.New(redisClient, cfg.Redis, m)
		checker.Register("redis", redisClient.Check())
		slog.Info("search cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
		)
	}

	h := handler.New(idx.Engine, queryCache, cfg.Search)

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
	chain = append(chain, middleware.Timeout(cfg.Search.Timeout))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, chain...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
