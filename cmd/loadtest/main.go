package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const defaultTimeout = 10 * time.Second

type config struct {
	baseURL       string
	total         int
	concurrency   int
	sku           string
	qty           int32
	method        string
	timeout       time.Duration
	expectedStock int32
	outputPath    string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type report struct {
	StartedAt        time.Time        `json:"started_at"`
	DurationSeconds  float64          `json:"duration_seconds"`
	TotalRequests    int64            `json:"total_requests"`
	CreatedOrders    int64            `json:"created_orders"`
	StockConflicts   int64            `json:"stock_conflicts"`
	OtherFailures    int64            `json:"other_failures"`
	RPS              float64          `json:"rps"`
	LatencyMs        latencySummary   `json:"latency_ms"`
	StatusCodes      map[string]int64 `json:"status_codes"`
	RemainingStock   int32            `json:"remaining_stock"`
	OversellDetected bool             `json:"oversell_detected"`
}

type collector struct {
	mu        sync.Mutex
	codes     map[string]int64
	latencies []float64
}

func newCollector() *collector {
	return &collector{codes: make(map[string]int64)}
}

func (c *collector) record(statusCode int, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[fmt.Sprintf("%d", statusCode)]++
	c.latencies = append(c.latencies, float64(latency.Milliseconds()))
}

func (c *collector) summary() (map[string]int64, latencySummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	codes := make(map[string]int64, len(c.codes))
	for code, count := range c.codes {
		codes[code] = count
	}
	return codes, summarize(c.latencies)
}

func summarize(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	percentile := func(p float64) float64 {
		idx := int(math.Ceil(p*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(0.50),
		P95: percentile(0.95),
		P99: percentile(0.99),
	}
}

func main() {
	cfg := parseFlags()

	client := &http.Client{Timeout: cfg.timeout}
	stats := newCollector()

	var (
		created   int64
		conflicts int64
		failures  int64
	)

	jobs := make(chan int)
	var wg sync.WaitGroup

	startedAt := time.Now()
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				status, latency := runCheckout(client, cfg, job)
				stats.record(status, latency)
				switch {
				case status == http.StatusCreated:
					atomic.AddInt64(&created, 1)
				case status == http.StatusConflict:
					atomic.AddInt64(&conflicts, 1)
				default:
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	for i := 0; i < cfg.total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	elapsed := time.Since(startedAt)

	remaining, err := fetchStock(client, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch remaining stock: %v\n", err)
	}

	codes, latency := stats.summary()
	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		TotalRequests:   int64(cfg.total),
		CreatedOrders:   created,
		StockConflicts:  conflicts,
		OtherFailures:   failures,
		RPS:             float64(cfg.total) / elapsed.Seconds(),
		LatencyMs:       latency,
		StatusCodes:     codes,
		RemainingStock:  remaining,
	}

	// Сохранение стока: проданное плюс остаток не может превышать
	// начальный запас. Нарушение означает oversell.
	if cfg.expectedStock > 0 {
		sold := int32(created) * cfg.qty
		result.OversellDetected = sold+remaining > cfg.expectedStock
	}

	output, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal report: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(output))
	if cfg.outputPath != "" {
		if err := os.WriteFile(cfg.outputPath, output, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.OversellDetected {
		fmt.Fprintln(os.Stderr, "OVERSELL DETECTED: sold more units than were in stock")
		os.Exit(2)
	}
}

func parseFlags() config {
	var cfg config
	var expectedStock int

	flag.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "shop-service base URL")
	flag.IntVar(&cfg.total, "total", 100, "total checkout requests to send")
	flag.IntVar(&cfg.concurrency, "concurrency", 10, "number of concurrent workers")
	flag.StringVar(&cfg.sku, "sku", "mug-01", "SKU to order")
	qty := flag.Int("qty", 1, "quantity per order")
	flag.StringVar(&cfg.method, "method", "card", "payment method: card|paypal")
	flag.DurationVar(&cfg.timeout, "timeout", defaultTimeout, "per-request timeout")
	flag.IntVar(&expectedStock, "stock", 0, "initial stock of the SKU; enables the oversell check")
	flag.StringVar(&cfg.outputPath, "output", "", "write the JSON report to this file")
	flag.Parse()

	cfg.qty = int32(*qty)
	cfg.expectedStock = int32(expectedStock)
	if cfg.total <= 0 {
		cfg.total = 1
	}
	if cfg.concurrency <= 0 {
		cfg.concurrency = 1
	}
	if cfg.qty <= 0 {
		cfg.qty = 1
	}
	return cfg
}

func runCheckout(client *http.Client, cfg config, job int) (int, time.Duration) {
	payload := map[string]interface{}{
		"buyer_id": fmt.Sprintf("loadtest-%d", job),
		"method":   cfg.method,
		"shipping": map[string]string{
			"name":    "Load Tester",
			"email":   fmt.Sprintf("loadtest-%d@example.com", job),
			"address": "1 Bench st",
			"city":    "Test",
			"zip":     "00000",
			"country": "LV",
		},
		"lines": []map[string]interface{}{
			{"sku": cfg.sku, "qty": cfg.qty},
		},
	}
	body, _ := json.Marshal(payload)

	start := time.Now()
	resp, err := client.Post(cfg.baseURL+"/api/checkout", "application/json", bytes.NewReader(body))
	latency := time.Since(start)
	if err != nil {
		return 0, latency
	}
	defer resp.Body.Close()

	return resp.StatusCode, latency
}

func fetchStock(client *http.Client, cfg config) (int32, error) {
	resp, err := client.Get(cfg.baseURL + "/api/items/" + cfg.sku)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var item struct {
		Stock int32 `json:"stock"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return 0, err
	}
	return item.Stock, nil
}
