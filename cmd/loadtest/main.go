// Command loadtest drives concurrent queries against the search service and
// reports throughput, latency percentiles and status codes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var defaultQueries = []string{
	"segment",
	`"merge iterator"`,
	"pending AND buffer",
	"doclist OR varint",
	"tokenizer -stemming",
	`"quick fox" NEAR/5 dog`,
	"ind*",
	"title:search",
	"checkpoint NEAR flush",
	"(compaction OR merge) AND level",
}

type config struct {
	baseURL     string
	concurrency int
	duration    time.Duration
	limit       int
	queries     []string
}

type stats struct {
	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	cacheHits atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
}

func newStats() *stats {
	return &stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
	}
}

func (s *stats) record(d time.Duration, status int, cacheHit bool, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if status >= 200 && status < 300 {
		s.success.Add(1)
	} else {
		s.errors.Add(1)
	}
	if cacheHit {
		s.cacheHits.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.statusCodes[status]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	limit := flag.Int("limit", 10, "rows requested per query")
	queryFile := flag.String("queries", "", "file with one query per line (default: built-in set)")
	flag.Parse()

	queries := defaultQueries
	if *queryFile != "" {
		data, err := os.ReadFile(*queryFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading queries: %v\n", err)
			os.Exit(1)
		}
		queries = slices.DeleteFunc(strings.Split(string(data), "\n"), func(q string) bool {
			return strings.TrimSpace(q) == ""
		})
	}

	cfg := config{
		baseURL:     strings.TrimRight(*baseURL, "/"),
		concurrency: *concurrency,
		duration:    *duration,
		limit:       *limit,
		queries:     queries,
	}

	fmt.Println("=== Segment Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.baseURL)
	fmt.Printf("Concurrency: %d\n", cfg.concurrency)
	fmt.Printf("Duration:    %s\n", cfg.duration)
	fmt.Printf("Queries:     %d unique\n", len(cfg.queries))
	fmt.Println()

	s := run(cfg)
	if !report(s, cfg.duration) {
		os.Exit(1)
	}
}

func run(cfg config) *stats {
	s := newStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency * 2,
			MaxIdleConnsPerHost: cfg.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := range cfg.concurrency {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				query := cfg.queries[i%len(cfg.queries)]
				d, status, hit, err := search(ctx, client, cfg, query)
				if ctx.Err() != nil {
					return nil
				}
				s.record(d, status, hit, err)
			}
			return nil
		})
	}

	fmt.Print("Running")
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()
	g.Wait()
	close(done)
	fmt.Println(" done!")
	fmt.Println()
	return s
}

func search(ctx context.Context, client *http.Client, cfg config, query string) (time.Duration, int, bool, error) {
	params := url.Values{"q": {query}, "limit": {fmt.Sprint(cfg.limit)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return 0, 0, false, err
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return time.Since(start), 0, false, err
	}
	defer resp.Body.Close()
	var body struct {
		CacheHit bool `json:"cache_hit"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	return time.Since(start), resp.StatusCode, body.CacheHit, nil
}

// report prints the results and reports whether any request completed.
func report(s *stats, duration time.Duration) bool {
	total := s.total.Load()
	errs := s.errors.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", s.success.Load())
	fmt.Printf("Errors:          %d\n", errs)
	fmt.Printf("Cache Hits:      %d\n", s.cacheHits.Load())
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(errs)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	latencies := slices.Clone(s.latencies)
	codes := make(map[int]int64, len(s.statusCodes))
	for k, v := range s.statusCodes {
		codes[k] = v
	}
	s.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))
		var sq float64
		for _, l := range latencies {
			diff := float64(l - avg)
			sq += diff * diff
		}

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
		fmt.Printf("StdDev: %s\n", time.Duration(math.Sqrt(sq/float64(len(latencies)))))
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	slices.Sort(keys)
	for _, code := range keys {
		fmt.Printf("  %d: %d\n", code, codes[code])
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
