package main

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

type options struct {
	baseURL  string
	token    string
	server   string
	workers  int
	duration time.Duration
	messages int
}

var httpClient = &http.Client{
	Timeout: 5 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 200,
		IdleConnTimeout:     30 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   2 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	},
}

type result struct {
	endpoint string
	status   int
	latency  time.Duration
	err      bool
}

type stats struct {
	count     int64
	errors    int64
	latencies []time.Duration
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive the dupguard admin API with concurrent requests",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(opts)
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "url", "http://127.0.0.1:8089", "admin API base URL")
	cmd.Flags().StringVar(&opts.token, "token", "", "admin bearer token")
	cmd.Flags().StringVar(&opts.server, "server", "1", "server id to query")
	cmd.Flags().IntVar(&opts.workers, "workers", 50, "concurrent workers")
	cmd.Flags().DurationVar(&opts.duration, "duration", 10*time.Second, "length of each phase")
	cmd.Flags().IntVar(&opts.messages, "messages", 500, "range of message ids used for removals")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(o options) error {
	fmt.Println("=== DupGuard Admin Load Test ===")
	fmt.Printf("Workers: %d | Duration: %s | Server: %s\n\n", o.workers, o.duration, o.server)

	fmt.Print("Waiting for server... ")
	for i := 0; ; i++ {
		r := o.get("GET /health", "/health")
		if !r.err {
			break
		}
		if i == 29 {
			fmt.Println("FAILED")
			return fmt.Errorf("server at %s not responding", o.baseURL)
		}
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Println("OK")

	fmt.Println("\n--- Phase 1: Read-only (health, policy, records) ---")
	o.runPhase(func(rng *rand.Rand) result {
		r := rng.Float64()
		switch {
		case r < 0.20:
			return o.get("GET /health", "/health")
		case r < 0.60:
			return o.get("GET /policy", "/policy?server="+o.server)
		default:
			return o.get("GET /records", "/records?server="+o.server)
		}
	})

	fmt.Println("\n--- Phase 2: Mixed (policy writes and record removals) ---")
	o.runPhase(func(rng *rand.Rand) result {
		r := rng.Float64()
		switch {
		case r < 0.15:
			return o.setThreshold(rng)
		case r < 0.25:
			return o.removeRecord(rng)
		case r < 0.60:
			return o.get("GET /policy", "/policy?server="+o.server)
		default:
			return o.get("GET /records", "/records?server="+o.server)
		}
	})
	return nil
}

func (o options) runPhase(workFn func(rng *rand.Rand) result) {
	results := make(chan result, 10000)
	var wg sync.WaitGroup
	var totalOps atomic.Int64
	stop := make(chan struct{})

	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for {
				select {
				case <-stop:
					return
				default:
					r := workFn(rng)
					totalOps.Add(1)
					results <- r
				}
			}
		}(rand.Int63() + int64(i))
	}

	allResults := make(map[string]*stats)
	done := make(chan struct{})
	go func() {
		for r := range results {
			s, ok := allResults[r.endpoint]
			if !ok {
				s = &stats{}
				allResults[r.endpoint] = s
			}
			s.count++
			if r.err {
				s.errors++
			}
			s.latencies = append(s.latencies, r.latency)
		}
		close(done)
	}()

	time.Sleep(o.duration)
	close(stop)
	wg.Wait()
	close(results)
	<-done

	printResults(allResults, o.duration)
}

func (o options) do(endpoint string, req *http.Request, ok func(status int) bool) result {
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}
	start := time.Now()
	resp, err := httpClient.Do(req)
	lat := time.Since(start)
	if err != nil {
		return result{endpoint, 0, lat, true}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return result{endpoint, resp.StatusCode, lat, !ok(resp.StatusCode)}
}

func isOK(status int) bool { return status == http.StatusOK }

func (o options) get(endpoint, path string) result {
	req, err := http.NewRequest(http.MethodGet, o.baseURL+path, nil)
	if err != nil {
		return result{endpoint: endpoint, err: true}
	}
	return o.do(endpoint, req, isOK)
}

func (o options) post(endpoint, path string, body any, ok func(int) bool) result {
	data, err := json.Marshal(body)
	if err != nil {
		return result{endpoint: endpoint, err: true}
	}
	req, err := http.NewRequest(http.MethodPost, o.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return result{endpoint: endpoint, err: true}
	}
	req.Header.Set("Content-Type", "application/json")
	return o.do(endpoint, req, ok)
}

func (o options) setThreshold(rng *rand.Rand) result {
	body := map[string]any{"server": o.server, "field": "similarity_threshold", "value": rng.Intn(8) + 1}
	return o.post("POST /policy", "/policy", body, isOK)
}

// removeRecord targets random message ids; most have nothing stored, so a
// 404 counts as success.
func (o options) removeRecord(rng *rand.Rand) result {
	body := map[string]any{"server": o.server, "message": fmt.Sprint(rng.Intn(o.messages) + 1)}
	return o.post("POST /records/remove", "/records/remove", body, func(status int) bool {
		return status == http.StatusOK || status == http.StatusNotFound
	})
}

func printResults(allResults map[string]*stats, duration time.Duration) {
	var totalOps int64
	var totalErrors int64

	endpoints := make([]string, 0, len(allResults))
	for ep := range allResults {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)

	fmt.Printf("\n  %-22s %8s %6s %10s %10s %10s %10s\n",
		"Endpoint", "Reqs", "Errs", "Avg", "P50", "P95", "P99")
	fmt.Println("  " + strings.Repeat("-", 88))

	for _, ep := range endpoints {
		s := allResults[ep]
		totalOps += s.count
		totalErrors += s.errors

		sort.Slice(s.latencies, func(i, j int) bool {
			return s.latencies[i] < s.latencies[j]
		})

		fmt.Printf("  %-22s %8d %6d %10s %10s %10s %10s\n",
			ep, s.count, s.errors,
			fmtDur(avgDuration(s.latencies)),
			fmtDur(percentile(s.latencies, 0.50)),
			fmtDur(percentile(s.latencies, 0.95)),
			fmtDur(percentile(s.latencies, 0.99)))
	}

	if totalOps == 0 {
		fmt.Println("  no requests completed")
		return
	}
	rps := float64(totalOps) / duration.Seconds()
	fmt.Println("  " + strings.Repeat("-", 88))
	fmt.Printf("  Total: %d reqs | Errors: %d (%.1f%%) | RPS: %.0f\n",
		totalOps, totalErrors, float64(totalErrors)/float64(totalOps)*100, rps)
}

func avgDuration(d []time.Duration) time.Duration {
	if len(d) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range d {
		sum += v
	}
	return sum / time.Duration(len(d))
}

func percentile(d []time.Duration, p float64) time.Duration {
	if len(d) == 0 {
		return 0
	}
	idx := int(float64(len(d)) * p)
	if idx >= len(d) {
		idx = len(d) - 1
	}
	return d[idx]
}

func fmtDur(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dus", d.Microseconds())
	}
	return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000.0)
}
