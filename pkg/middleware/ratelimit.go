package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxClients bounds the per-client limiter table; the least recently seen
// client is forgotten first.
const maxClients = 10000

// RateLimit allows each client address perSecond requests with the given
// burst and answers 429 beyond that. Health probes are never limited.
func RateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	if burst < 1 {
		burst = max(1, int(math.Ceil(perSecond)))
	}
	limiters, err := lru.New[string, *rate.Limiter](maxClients)
	if err != nil {
		panic(err)
	}
	limiterFor := func(client string) *rate.Limiter {
		if l, ok := limiters.Get(client); ok {
			return l
		}
		l := rate.NewLimiter(rate.Limit(perSecond), burst)
		if prev, ok, _ := limiters.PeekOrAdd(client, l); ok {
			return prev
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}
			client := clientAddr(r)
			res := limiterFor(client).Reserve()
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				slog.Debug("rate limit exceeded", "client", client, "path", r.URL.Path)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

