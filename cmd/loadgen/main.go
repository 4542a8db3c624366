// Load generator for the layer-resolve pipeline. Seeds a set of layers
// with synthetic points, then drives Zipf-distributed concurrent reads of
// /v1/layers/{layer}/resolved, writing per-request samples to CSV and a
// JSON summary with latency percentiles and per-tier hit counts.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Berto-e/spiderfy/internal/geo"
	"github.com/Berto-e/spiderfy/internal/pointgen"
)

type Config struct {
	TargetURL       string
	LayerPrefix     string
	Layers          int
	PointsPerLayer  int
	WithDuplicates  bool
	Radius          float64
	Keyer           string
	Concurrency     int
	Duration        time.Duration
	ZipfS           float64
	ZipfV           float64
	SkipSeed        bool
	OutputPrefix    string
	RequestTimeout  time.Duration
	AppendTimestamp bool
	TimestampFormat string
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8080", "Server base URL")
	flag.StringVar(&cfg.LayerPrefix, "layer-prefix", "load", "Layer name prefix")
	flag.IntVar(&cfg.Layers, "layers", 16, "Number of layers to seed and read")
	flag.IntVar(&cfg.PointsPerLayer, "points", 500, "Points per seeded layer")
	flag.BoolVar(&cfg.WithDuplicates, "duplicates", true, "Force a coincident pair into each seeded layer")
	flag.Float64Var(&cfg.Radius, "radius", 30, "Spiderfy radius for resolved reads")
	flag.StringVar(&cfg.Keyer, "keyer", "", "Keyer for resolved reads (empty = server default)")
	flag.IntVar(&cfg.Concurrency, "concurrency", 32, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "Test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.BoolVar(&cfg.SkipSeed, "skip-seed", false, "Assume layers already exist")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/spiderfy", "Output file prefix (JSON/CSV)")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.BoolVar(&cfg.AppendTimestamp, "append-ts", true, "Append timestamp to output prefix")
	flag.StringVar(&cfg.TimestampFormat, "ts-format", "iso", "Timestamp format: iso|unix|none")
	flag.Parse()
	return cfg
}

func layerNames(prefix string, n int) []string {
	names := make([]string, 0, n)
	for i := range n {
		names = append(names, fmt.Sprintf("%s-%03d", prefix, i))
	}
	return names
}

// seedLayers PUTs a synthetic point set into every layer before the read
// phase starts.
func seedLayers(ctx context.Context, client *http.Client, base string, names []string, cfg Config) error {
	gen, err := pointgen.New()
	if err != nil {
		return err
	}
	for _, name := range names {
		var pts []geo.Point
		if cfg.WithDuplicates {
			pts, err = gen.GenerateWithDuplicates(cfg.PointsPerLayer)
		} else {
			pts, err = gen.Generate(cfg.PointsPerLayer)
		}
		if err != nil {
			return err
		}
		body, err := json.Marshal(pts)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, base+"/v1/layers/"+name, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("seed %s: status %d", name, resp.StatusCode)
		}
	}
	return nil
}

// request result (one sample per request)
type sample struct {
	Timestamp  time.Time
	Latency    time.Duration
	Status     int
	ErrorMsg   string
	LayerIndex int
	Layer      string
	Source     string
}

type summary struct {
	StartTime     time.Time        `json:"start"`
	EndTime       time.Time        `json:"end"`
	DurationSec   float64          `json:"duration_sec"`
	TotalRequests int64            `json:"total"`
	SuccessCount  int64            `json:"success"`
	ErrorCount    int64            `json:"errors"`
	ThroughputRPS float64          `json:"throughput_rps"`
	P50Ms         float64          `json:"p50_ms"`
	P95Ms         float64          `json:"p95_ms"`
	P99Ms         float64          `json:"p99_ms"`
	Sources       map[string]int64 `json:"sources"`
	Concurrency   int              `json:"concurrency"`
	ZipfS         float64          `json:"zipf_s"`
	ZipfV         float64          `json:"zipf_v"`
	Layers        int              `json:"layers"`
	PointsPer     int              `json:"points_per_layer"`
	Radius        float64          `json:"radius"`
	Keyer         string           `json:"keyer"`
	TargetURL     string           `json:"target"`
}

type aggregatedResult struct {
	total   int64
	success int64
	errors  int64
	sources map[string]int64
	latMs   []float64
}

func main() {
	cfg := loadConfig()
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir results: %v", err)
	}

	prefix := cfg.OutputPrefix
	if cfg.AppendTimestamp {
		switch strings.ToLower(cfg.TimestampFormat) {
		case "none":
		case "unix":
			prefix = fmt.Sprintf("%s_%d", prefix, time.Now().Unix())
		default: // "iso"
			prefix = fmt.Sprintf("%s_%s", prefix, time.Now().UTC().Format("20060102_150405Z"))
		}
	}

	base := strings.TrimRight(cfg.TargetURL, "/")
	names := layerNames(cfg.LayerPrefix, cfg.Layers)
	if len(names) == 0 {
		log.Fatalf("no layers to read")
	}
	imax := uint64(len(names)) - 1

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          1024,
			MaxIdleConnsPerHost:   256,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   4 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	if !cfg.SkipSeed {
		seedCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := seedLayers(seedCtx, httpClient, base, names, cfg)
		cancel()
		if err != nil {
			log.Fatalf("seed phase failed: %v", err)
		}
		log.Printf("seeded %d layers with %d points each", len(names), cfg.PointsPerLayer)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Printf("open csv: %v", err)
		return
	}
	defer func() { _ = csvFile.Close() }()
	csvWriter := csv.NewWriter(csvFile)

	// Collects results asynchronously
	samplesChan := make(chan sample, 4096)
	resultsChan := make(chan aggregatedResult, 1)
	go func() {
		_ = csvWriter.Write([]string{"timestamp", "latency_ms", "status", "error", "layer_idx", "layer", "source"})
		var total, successCount, errorCount int64
		sources := map[string]int64{}
		latencies := make([]float64, 0, 1<<20)
		for s := range samplesChan {
			total++
			if s.ErrorMsg == "" && s.Status >= 200 && s.Status < 300 {
				successCount++
				latencies = append(latencies, float64(s.Latency.Microseconds())/1000.0)
				if s.Source != "" {
					sources[s.Source]++
				}
			} else {
				errorCount++
			}
			_ = csvWriter.Write([]string{
				s.Timestamp.UTC().Format(time.RFC3339Nano),
				fmt.Sprintf("%.3f", float64(s.Latency.Microseconds())/1000.0),
				fmt.Sprintf("%d", s.Status),
				s.ErrorMsg,
				fmt.Sprintf("%d", s.LayerIndex),
				s.Layer,
				s.Source,
			})
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Printf("csv flush error: %v", err)
		}
		resultsChan <- aggregatedResult{total: total, success: successCount, errors: errorCount, sources: sources, latMs: latencies}
	}()

	startTime := time.Now()
	seed := startTime.UnixNano()
	log.Printf("loadgen start target=%s layers=%d dur=%s conc=%d zipf(s=%.2f,v=%.2f) radius=%.1f keyer=%q",
		base, cfg.Layers, cfg.Duration, cfg.Concurrency, cfg.ZipfS, cfg.ZipfV, cfg.Radius, cfg.Keyer)

	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)

	for workerID := range cfg.Concurrency {
		go func(id int) {
			defer wg.Done()

			rWorker := rand.New(rand.NewSource(seed + int64(id) + 1))
			zipfDist := rand.NewZipf(rWorker, cfg.ZipfS, cfg.ZipfV, imax)
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				v := zipfDist.Uint64()
				if v > uint64(math.MaxInt) {
					continue
				}
				idx := int(v)
				if idx >= len(names) {
					continue
				}
				layer := names[idx]

				u, _ := url.Parse(base + "/v1/layers/" + layer + "/resolved")
				q := u.Query()
				q.Set("radius", fmt.Sprintf("%g", cfg.Radius))
				if cfg.Keyer != "" {
					q.Set("keyer", cfg.Keyer)
				}
				u.RawQuery = q.Encode()

				startReq := time.Now()
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
				req.Header.Set("Accept", "application/json")
				resp, err := httpClient.Do(req)
				latency := time.Since(startReq)

				result := sample{
					Timestamp:  startReq,
					Latency:    latency,
					LayerIndex: idx,
					Layer:      layer,
				}

				if err != nil {
					result.ErrorMsg = err.Error()
				} else {
					result.Status = resp.StatusCode
					result.Source = resp.Header.Get("X-Layout-Source")
					_, _ = io.Copy(io.Discard, resp.Body)
					_ = resp.Body.Close()
					if resp.StatusCode < 200 || resp.StatusCode >= 300 {
						result.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
					}
				}

				select {
				case samplesChan <- result:
				case <-ctx.Done():
					return
				}
			}
		}(workerID)
	}

	// close samples channel
	go func() {
		<-ctx.Done()
		wg.Wait()
		close(samplesChan)
	}()

	aggResult := <-resultsChan
	endTime := time.Now()
	elapsed := endTime.Sub(startTime).Seconds()

	sort.Float64s(aggResult.latMs)
	p50 := percentile(aggResult.latMs, 50)
	p95 := percentile(aggResult.latMs, 95)
	p99 := percentile(aggResult.latMs, 99)

	runSummary := summary{
		StartTime:     startTime.UTC(),
		EndTime:       endTime.UTC(),
		DurationSec:   elapsed,
		TotalRequests: aggResult.total,
		SuccessCount:  aggResult.success,
		ErrorCount:    aggResult.errors,
		ThroughputRPS: float64(aggResult.total) / elapsed,
		P50Ms:         p50,
		P95Ms:         p95,
		P99Ms:         p99,
		Sources:       aggResult.sources,
		Concurrency:   cfg.Concurrency,
		ZipfS:         cfg.ZipfS,
		ZipfV:         cfg.ZipfV,
		Layers:        cfg.Layers,
		PointsPer:     cfg.PointsPerLayer,
		Radius:        cfg.Radius,
		Keyer:         cfg.Keyer,
		TargetURL:     base,
	}

	jsonFile, err := os.Create(filepath.Clean(jsonPath))
	if err == nil {
		enc := json.NewEncoder(jsonFile)
		enc.SetIndent("", "  ")
		_ = enc.Encode(runSummary)
		_ = jsonFile.Close()
	}

	log.Printf("done: total=%d succ=%d err=%d thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms sources=%v",
		aggResult.total, aggResult.success, aggResult.errors, runSummary.ThroughputRPS, p50, p95, p99, aggResult.sources)
	log.Printf("wrote %s and %s", jsonPath, csvPath)
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
