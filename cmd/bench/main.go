// In-process benchmark of the duplicate-detection plus spiderfy pipeline:
// a counts x keyers matrix over synthesized point sets, no network and no
// Redis. One CSV row per combination plus a JSON summary.
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Berto-e/spiderfy/internal/geo"
	"github.com/Berto-e/spiderfy/internal/overlap"
	"github.com/Berto-e/spiderfy/internal/pointgen"
)

type cfg struct {
	Counts          []int
	Keyers          []string
	Radius          float64
	Iterations      int
	WithDuplicates  bool
	OutputPrefix    string
	AppendTimestamp bool
}

func parseFlags() cfg {
	var c cfg
	var counts, keyers string

	flag.StringVar(&counts, "counts", "1000,10000,100000", "Point counts CSV")
	flag.StringVar(&keyers, "keyers", "exact,grid:1e-9,cell:9", "Keyer specs CSV")
	flag.Float64Var(&c.Radius, "radius", overlap.DefaultRadius, "Spiderfy radius")
	flag.IntVar(&c.Iterations, "iters", 5, "Timed runs per combination")
	flag.BoolVar(&c.WithDuplicates, "duplicates", true, "Force a coincident pair into each set")
	flag.StringVar(&c.OutputPrefix, "out", "results/bench", "Output file prefix (JSON/CSV)")
	flag.BoolVar(&c.AppendTimestamp, "append-ts", true, "Append timestamp to output prefix")
	flag.Parse()

	for _, s := range splitCSV(counts) {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			log.Fatalf("bad count %q", s)
		}
		c.Counts = append(c.Counts, n)
	}
	c.Keyers = splitCSV(keyers)
	return c
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}

type row struct {
	Count      int     `json:"count"`
	Keyer      string  `json:"keyer"`
	Iterations int     `json:"iters"`
	MeanMs     float64 `json:"mean_ms"`
	MinMs      float64 `json:"min_ms"`
	MaxMs      float64 `json:"max_ms"`
	Duplicates int     `json:"duplicates"`
}

type summary struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Radius  float64   `json:"radius"`
	Rows    []row     `json:"rows"`
	Fastest string    `json:"fastest_keyer_at_max_count"`
}

func main() {
	c := parseFlags()
	if err := os.MkdirAll(filepath.Dir(c.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir results: %v", err)
	}
	prefix := c.OutputPrefix
	if c.AppendTimestamp {
		prefix = fmt.Sprintf("%s_%s", prefix, time.Now().UTC().Format("20060102_150405Z"))
	}

	gen, err := pointgen.New()
	if err != nil {
		log.Fatalf("pointgen: %v", err)
	}

	start := time.Now()
	var rows []row
	for _, count := range c.Counts {
		pts, err := makePoints(gen, count, c.WithDuplicates)
		if err != nil {
			log.Fatalf("generate %d points: %v", count, err)
		}
		for _, spec := range c.Keyers {
			k, err := overlap.ParseKeyer(spec)
			if err != nil {
				log.Fatalf("keyer %q: %v", spec, err)
			}

			// warmup run, also yields the duplicate count
			_, dups, err := overlap.Resolve(pts, c.Radius, k)
			if err != nil {
				log.Fatalf("resolve count=%d keyer=%s: %v", count, spec, err)
			}

			minMs, maxMs := math.MaxFloat64, 0.0
			totalMs := 0.0
			for range c.Iterations {
				t0 := time.Now()
				if _, _, err := overlap.Resolve(pts, c.Radius, k); err != nil {
					log.Fatalf("resolve count=%d keyer=%s: %v", count, spec, err)
				}
				ms := float64(time.Since(t0).Microseconds()) / 1000.0
				totalMs += ms
				minMs = math.Min(minMs, ms)
				maxMs = math.Max(maxMs, ms)
			}

			r := row{
				Count:      count,
				Keyer:      spec,
				Iterations: c.Iterations,
				MeanMs:     totalMs / float64(c.Iterations),
				MinMs:      minMs,
				MaxMs:      maxMs,
				Duplicates: dups,
			}
			rows = append(rows, r)
			log.Printf("count=%d keyer=%-12s mean=%.2fms min=%.2fms max=%.2fms dups=%d",
				r.Count, r.Keyer, r.MeanMs, r.MinMs, r.MaxMs, r.Duplicates)
		}
	}
	end := time.Now()

	csvPath := prefix + "_rows.csv"
	jsonPath := prefix + "_summary.json"

	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Fatalf("open csv: %v", err)
	}
	w := csv.NewWriter(csvFile)
	_ = w.Write([]string{"count", "keyer", "iters", "mean_ms", "min_ms", "max_ms", "duplicates"})
	for _, r := range rows {
		_ = w.Write([]string{
			strconv.Itoa(r.Count),
			r.Keyer,
			strconv.Itoa(r.Iterations),
			fmt.Sprintf("%.3f", r.MeanMs),
			fmt.Sprintf("%.3f", r.MinMs),
			fmt.Sprintf("%.3f", r.MaxMs),
			strconv.Itoa(r.Duplicates),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		log.Printf("csv flush error: %v", err)
	}
	_ = csvFile.Close()

	s := summary{Start: start.UTC(), End: end.UTC(), Radius: c.Radius, Rows: rows, Fastest: fastestAtMaxCount(rows)}
	jsonFile, err := os.Create(filepath.Clean(jsonPath))
	if err == nil {
		enc := json.NewEncoder(jsonFile)
		enc.SetIndent("", "  ")
		_ = enc.Encode(s)
		_ = jsonFile.Close()
	}

	log.Printf("wrote %s and %s", jsonPath, csvPath)
}

func makePoints(gen *pointgen.Generator, count int, withDuplicates bool) ([]geo.Point, error) {
	if withDuplicates {
		return gen.GenerateWithDuplicates(count)
	}
	return gen.Generate(count)
}

func fastestAtMaxCount(rows []row) string {
	maxCount := 0
	for _, r := range rows {
		if r.Count > maxCount {
			maxCount = r.Count
		}
	}
	best, bestMs := "", math.MaxFloat64
	for _, r := range rows {
		if r.Count == maxCount && r.MeanMs < bestMs {
			best, bestMs = r.Keyer, r.MeanMs
		}
	}
	return best
}
