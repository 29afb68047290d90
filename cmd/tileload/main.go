// Command tileload drives a zipf-skewed tile workload against a running
// tileproxy and reports latency percentiles and the observed cache hit rate.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stenvall/tilecache/internal/core/httpclient"
	"github.com/stenvall/tilecache/internal/logger"
	"github.com/stenvall/tilecache/internal/tile"
)

type Config struct {
	BaseURL        string
	Level          int
	CenterCol      int
	CenterRow      int
	PoolSize       int
	Concurrency    int
	Duration       time.Duration
	ZipfS          float64
	ZipfV          float64
	RequestTimeout time.Duration
	OutputPrefix   string
}

func parseFlags(args []string) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("tileload", flag.ContinueOnError)
	fs.StringVar(&cfg.BaseURL, "target", "http://localhost:8080/tiles", "tile endpoint base URL")
	fs.IntVar(&cfg.Level, "level", 12, "zoom level of the workload")
	fs.IntVar(&cfg.CenterCol, "col", 2252, "column of the hot spot")
	fs.IntVar(&cfg.CenterRow, "row", 1203, "row of the hot spot")
	fs.IntVar(&cfg.PoolSize, "tiles", 256, "distinct tiles in the pool")
	fs.IntVar(&cfg.Concurrency, "concurrency", 16, "concurrent workers")
	fs.DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	fs.Float64Var(&cfg.ZipfS, "zipf-s", 1.2, "zipf parameter s (>1)")
	fs.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "zipf parameter v (>=1)")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "per-request timeout")
	fs.StringVar(&cfg.OutputPrefix, "out", "", "write <out>_samples.csv and <out>_summary.json when set")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.ZipfS <= 1 || cfg.ZipfV < 1 {
		return Config{}, fmt.Errorf("zipf parameters out of range: s=%v v=%v", cfg.ZipfS, cfg.ZipfV)
	}
	if cfg.Concurrency <= 0 || cfg.PoolSize <= 0 {
		return Config{}, fmt.Errorf("concurrency and tiles must be positive")
	}
	if cfg.Level < 0 || cfg.Level > 30 {
		return Config{}, fmt.Errorf("level %d out of range", cfg.Level)
	}
	return cfg, nil
}

// tilePool returns up to n distinct tiles spiralling out from the center, so
// low zipf ranks land next to each other the way a panning viewport does.
func tilePool(level, col, row, n int) []tile.Index {
	side := 1 << uint(level)
	inGrid := func(c, r int) bool { return c >= 0 && r >= 0 && c < side && r < side }

	out := make([]tile.Index, 0, n)
	if inGrid(col, row) {
		out = append(out, tile.Index{Col: col, Row: row, Level: level})
	}
	for ring := 1; len(out) < n && ring < side; ring++ {
		for dc := -ring; dc <= ring && len(out) < n; dc++ {
			for dr := -ring; dr <= ring && len(out) < n; dr++ {
				if max(abs(dc), abs(dr)) != ring {
					continue
				}
				if c, r := col+dc, row+dr; inGrid(c, r) {
					out = append(out, tile.Index{Col: c, Row: r, Level: level})
				}
			}
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func tileURL(base string, idx tile.Index) string {
	return fmt.Sprintf("%s/%d/%d/%d", strings.TrimRight(base, "/"), idx.Level, idx.Col, idx.Row)
}

type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	Err       string
	Tile      tile.Index
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	ErrorCount    int64     `json:"errors"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	Tiles         int       `json:"tiles"`
	Level         int       `json:"level"`
	Target        string    `json:"target"`
}

type aggregate struct {
	total, success, errors int64
	latMs                  []float64
}

func (a *aggregate) add(s sample) {
	a.total++
	if s.Err == "" && s.Status >= 200 && s.Status < 300 {
		a.success++
		a.latMs = append(a.latMs, float64(s.Latency.Microseconds())/1000.0)
		return
	}
	a.errors++
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	zl := logger.Build(logger.Config{Component: "tileload", Console: true}, os.Stderr)
	log := logger.NewSlog(&zl)

	cfg, err := parseFlags(args)
	if err != nil {
		log.Error("bad flags", "err", err)
		return 2
	}
	pool := tilePool(cfg.Level, cfg.CenterCol, cfg.CenterRow, cfg.PoolSize)
	if len(pool) == 0 {
		log.Error("empty tile pool", "level", cfg.Level, "col", cfg.CenterCol, "row", cfg.CenterRow)
		return 2
	}

	var csvW *csv.Writer
	if cfg.OutputPrefix != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
			log.Error("mkdir results", "err", err)
			return 1
		}
		f, err := os.Create(filepath.Clean(cfg.OutputPrefix + "_samples.csv"))
		if err != nil {
			log.Error("open csv", "err", err)
			return 1
		}
		defer func() { _ = f.Close() }()
		csvW = csv.NewWriter(f)
		_ = csvW.Write([]string{"timestamp", "latency_ms", "status", "error", "tile"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	client := httpclient.NewOutbound(cfg.RequestTimeout)
	start := time.Now()
	log.Info("tileload start",
		"target", cfg.BaseURL, "level", cfg.Level, "tiles", len(pool),
		"concurrency", cfg.Concurrency, "duration", cfg.Duration)

	samples := make(chan sample, 4096)
	done := make(chan aggregate, 1)
	go func() {
		var agg aggregate
		for s := range samples {
			agg.add(s)
			if csvW != nil {
				_ = csvW.Write([]string{
					s.Timestamp.UTC().Format(time.RFC3339Nano),
					fmt.Sprintf("%.3f", float64(s.Latency.Microseconds())/1000.0),
					strconv.Itoa(s.Status),
					s.Err,
					s.Tile.String(),
				})
			}
		}
		if csvW != nil {
			csvW.Flush()
		}
		done <- agg
	}()

	seed := time.Now().UnixNano()
	var wg sync.WaitGroup
	for w := range cfg.Concurrency {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed + int64(id) + 1))
			zipf := rand.NewZipf(r, cfg.ZipfS, cfg.ZipfV, uint64(len(pool)-1))
			for ctx.Err() == nil {
				idx := pool[zipf.Uint64()]
				s := hit(ctx, client, tileURL(cfg.BaseURL, idx))
				if ctx.Err() != nil {
					return
				}
				s.Tile = idx
				select {
				case samples <- s:
				case <-ctx.Done():
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(samples)
	agg := <-done

	end := time.Now()
	elapsed := end.Sub(start).Seconds()
	sort.Float64s(agg.latMs)
	sum := summary{
		StartTime:     start.UTC(),
		EndTime:       end.UTC(),
		DurationSec:   elapsed,
		TotalRequests: agg.total,
		SuccessCount:  agg.success,
		ErrorCount:    agg.errors,
		ThroughputRPS: float64(agg.total) / elapsed,
		P50Ms:         percentile(agg.latMs, 50),
		P95Ms:         percentile(agg.latMs, 95),
		P99Ms:         percentile(agg.latMs, 99),
		Concurrency:   cfg.Concurrency,
		Tiles:         len(pool),
		Level:         cfg.Level,
		Target:        cfg.BaseURL,
	}
	if cfg.OutputPrefix != "" {
		if err := writeSummary(cfg.OutputPrefix+"_summary.json", sum); err != nil {
			log.Warn("write summary", "err", err)
		}
	}
	log.Info("tileload done",
		"total", sum.TotalRequests, "success", sum.SuccessCount, "errors", sum.ErrorCount,
		"rps", sum.ThroughputRPS, "p50_ms", sum.P50Ms, "p95_ms", sum.P95Ms, "p99_ms", sum.P99Ms)
	return 0
}

func hit(ctx context.Context, client *http.Client, url string) sample {
	s := sample{Timestamp: time.Now()}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		s.Err = err.Error()
		return s
	}
	resp, err := client.Do(req)
	s.Latency = time.Since(s.Timestamp)
	if err != nil {
		s.Err = err.Error()
		return s
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	s.Status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.Err = "status=" + strconv.Itoa(resp.StatusCode)
	}
	return s
}

func writeSummary(path string, sum summary) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create summary: %w", err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

// percentile interpolates linearly over an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	k := (p / 100.0) * float64(len(sorted)-1)
	i := int(math.Floor(k))
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	d := k - float64(i)
	return sorted[i]*(1-d) + sorted[i+1]*d
}
