// Package pointgen produces synthetic point collections for exercising the
// duplicate-detection and spiderfy paths downstream.
package pointgen

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/Berto-e/spiderfy/internal/geo"
)

// Source supplies the randomness for a Generator. *rand.Rand satisfies it;
// tests substitute a fixed sequence to pin values down.
type Source interface {
	Float64() float64
	Intn(n int) int
}

type Generator struct {
	bbox geo.BBox
	src  Source
}

type Option func(*Generator)

func WithBBox(b geo.BBox) Option { return func(g *Generator) { g.bbox = b } }

func WithSource(s Source) Option { return func(g *Generator) { g.src = s } }

// New builds a Generator over the Murcia region with a wall-clock seeded
// source. Coordinate and status values are not reproducible across runs;
// only the shape of the output (count, serial order, field presence) is.
func New(opts ...Option) (*Generator, error) {
	g := &Generator{bbox: geo.Murcia}
	for _, o := range opts {
		o(g)
	}
	if g.src == nil {
		g.src = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if err := g.bbox.Validate(); err != nil {
		return nil, fmt.Errorf("pointgen: %w", err)
	}
	return g, nil
}

// Generate returns n points uniformly distributed over the bounding box,
// serial numbers 1..n in generation order. n == 0 yields an empty
// collection.
func (g *Generator) Generate(n int) ([]geo.Point, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: count must be >= 0, got %d", geo.ErrInvalidArgument, n)
	}
	points := make([]geo.Point, n)
	for i := range points {
		points[i] = g.randomPoint(i + 1)
	}
	return points, nil
}

// GenerateWithDuplicates returns n random points plus two more sharing one
// random coordinate pair, so duplicate detection always has input to
// exercise. Serials run 1..n+2; n == 0 yields exactly the forced pair.
func (g *Generator) GenerateWithDuplicates(n int) ([]geo.Point, error) {
	points, err := g.Generate(n)
	if err != nil {
		return nil, err
	}
	lon, lat := g.randomCoordinates()
	for i := range 2 {
		p := g.randomPoint(n + i + 1)
		p.Coordinates = [2]float64{lon, lat}
		points = append(points, p)
	}
	return points, nil
}

func (g *Generator) randomPoint(serial int) geo.Point {
	lon, lat := g.randomCoordinates()
	return geo.Point{
		SerialNumber: serial,
		Station:      fmt.Sprintf("meter-%d", serial),
		Coordinates:  [2]float64{lon, lat},
		Status:       geo.AllStatuses[g.src.Intn(len(geo.AllStatuses))],
	}
}

func (g *Generator) randomCoordinates() (lon, lat float64) {
	lon = round6(g.bbox.MinLon + g.src.Float64()*(g.bbox.MaxLon-g.bbox.MinLon))
	lat = round6(g.bbox.MinLat + g.src.Float64()*(g.bbox.MaxLat-g.bbox.MinLat))
	return lon, lat
}

// round6 keeps coordinates at 6 decimal digits, the precision the dashboard
// stores and compares.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
