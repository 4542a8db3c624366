package overlap

import (
	"fmt"
	"math"

	"github.com/Berto-e/spiderfy/internal/geo"
)

const (
	// DefaultRadius is the spiderfy scale the dashboard renders with. The
	// unit is whatever the caller renders in; it is an opaque scale factor,
	// not a physical distance.
	DefaultRadius = 30.0

	// DefaultJitterFactor is the scale applied by Jitter when the caller
	// does not choose one.
	DefaultJitterFactor = 0.00001
)

// Spiderfy arranges points evenly around their shared centroid on a ring
// that widens with index, so coincident markers become individually
// visible. For the i-th of m points:
//
//	angle_i = i * 2π/m
//	r_i     = radius + i * radius/m
//	out_i   = centroid + (r_i*cos(angle_i), r_i*sin(angle_i))
//
// The centroid is the planar componentwise mean, not a geodesic one; good
// enough for the small localized clusters this serves, wrong over wide
// areas. Output order matches input order, angle assignment is positional,
// and every non-coordinate field is copied through unchanged. Radius 0
// collapses the group onto its centroid, which is valid.
func Spiderfy(points []geo.Point, radius float64) ([]geo.Point, error) {
	if !geo.Finite(radius) {
		return nil, fmt.Errorf("%w: radius must be finite, got %v", geo.ErrInvalidArgument, radius)
	}
	m := len(points)
	out := make([]geo.Point, 0, m)
	if m == 0 {
		return out, nil
	}

	var cx, cy float64
	for i, p := range points {
		if !geo.Finite(p.Coordinates[0]) || !geo.Finite(p.Coordinates[1]) {
			return nil, fmt.Errorf("%w: point %d has non-finite coordinates", geo.ErrInvalidArgument, i)
		}
		cx += p.Coordinates[0]
		cy += p.Coordinates[1]
	}
	cx /= float64(m)
	cy /= float64(m)

	angleInc := 2 * math.Pi / float64(m)
	radiusInc := radius / float64(m)
	for i, p := range points {
		angle := float64(i) * angleInc
		r := radius + float64(i)*radiusInc
		q := p
		q.Coordinates = [2]float64{cx + r*math.Cos(angle), cy + r*math.Sin(angle)}
		out = append(out, q)
	}
	return out, nil
}

// Jitter returns points with both coordinate components multiplied by
// factor, a cheap tie-breaker when full spiderfy layout is overkill.
// Multiplying (instead of offsetting) means points near lon/lat 0 barely
// move; known limitation, kept for compatibility with the layouts the
// dashboard already renders.
func Jitter(points []geo.Point, factor float64) ([]geo.Point, error) {
	if !geo.Finite(factor) {
		return nil, fmt.Errorf("%w: jitter factor must be finite, got %v", geo.ErrInvalidArgument, factor)
	}
	out := make([]geo.Point, 0, len(points))
	for i, p := range points {
		if !geo.Finite(p.Coordinates[0]) || !geo.Finite(p.Coordinates[1]) {
			return nil, fmt.Errorf("%w: point %d has non-finite coordinates", geo.ErrInvalidArgument, i)
		}
		q := p
		q.Coordinates = [2]float64{p.Coordinates[0] * factor, p.Coordinates[1] * factor}
		out = append(out, q)
	}
	return out, nil
}
