package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ForService creates the collectors of one binary on a private registry
// that also carries the Go runtime and process collectors. Every index and
// HTTP series is labelled with service.
func ForService(service string) (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := NewWithRegistry(prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, reg))
	return m, reg
}

// RegisterEndpoint mounts /metrics for reg and a small index page on mux.
func RegisterEndpoint(mux *http.ServeMux, service string, reg *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:      reg,
		ErrorHandling: promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><h1>%s metrics</h1><p><a href="/metrics">/metrics</a></p></body></html>`, service)
	})
}

// StartServer serves reg on port in the background and returns the server's
// Shutdown.
func StartServer(port int, service string, reg *prometheus.Registry) (shutdown func(context.Context) error) {
	mux := http.NewServeMux()
	RegisterEndpoint(mux, service, reg)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("metrics server listening", "service", service, "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "service", service, "error", err)
		}
	}()

	return server.Shutdown
}
