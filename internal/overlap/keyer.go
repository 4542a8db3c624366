package overlap

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	h3 "github.com/uber/h3-go/v4"

	"github.com/Berto-e/spiderfy/internal/geo"
)

// Keyer maps a point to a grouping key; points with equal keys are treated
// as coincident. The default policy is exact coordinate equality, the rest
// exist for callers that explicitly opt into tolerance-based grouping.
type Keyer interface {
	Key(p geo.Point) (string, error)
}

// ExactKeyer keys on the raw bit patterns of both coordinate components,
// so two points group only when their coordinates compare exactly equal.
type ExactKeyer struct{}

func (ExactKeyer) Key(p geo.Point) (string, error) {
	return strconv.FormatUint(bits(p.Coordinates[0]), 16) + ":" +
		strconv.FormatUint(bits(p.Coordinates[1]), 16), nil
}

// bits canonicalizes -0 to +0 so the two zero representations compare
// equal, matching numeric equality.
func bits(f float64) uint64 {
	if f == 0 {
		f = 0
	}
	return math.Float64bits(f)
}

// GridKeyer snaps coordinates to an epsilon-sized grid, grouping points
// that land in the same grid square.
type GridKeyer struct {
	Epsilon float64
}

func NewGridKeyer(epsilon float64) (GridKeyer, error) {
	if !geo.Finite(epsilon) || epsilon <= 0 {
		return GridKeyer{}, fmt.Errorf("%w: grid epsilon must be a positive finite number, got %v", geo.ErrInvalidArgument, epsilon)
	}
	return GridKeyer{Epsilon: epsilon}, nil
}

func (k GridKeyer) Key(p geo.Point) (string, error) {
	i := int64(math.Round(p.Coordinates[0] / k.Epsilon))
	j := int64(math.Round(p.Coordinates[1] / k.Epsilon))
	return strconv.FormatInt(i, 10) + ":" + strconv.FormatInt(j, 10), nil
}

// CellKeyer buckets points by their H3 cell at a fixed resolution, grouping
// "visually identical" points that exact equality would keep apart.
type CellKeyer struct {
	Res int
}

func NewCellKeyer(res int) (CellKeyer, error) {
	if res < 0 || res > 15 {
		return CellKeyer{}, fmt.Errorf("%w: invalid H3 resolution %d (must be 0..15)", geo.ErrInvalidArgument, res)
	}
	return CellKeyer{Res: res}, nil
}

func (k CellKeyer) Key(p geo.Point) (string, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat(), p.Lon()), k.Res)
	if err != nil {
		return "", fmt.Errorf("h3 cell for %v: %w", p.Coordinates, err)
	}
	return cell.String(), nil
}

// KeyerFactory builds a Keyer from the argument part of a keyer name
// ("12" in "cell:12"; empty when no argument is given).
type KeyerFactory func(arg string) (Keyer, error)

var keyerReg = map[string]KeyerFactory{}

// RegisterKeyer installs a named keyer factory. Registration happens in
// init; the registry is read-only afterwards.
func RegisterKeyer(name string, f KeyerFactory) {
	keyerReg[name] = f
}

func init() {
	RegisterKeyer("exact", func(arg string) (Keyer, error) {
		if arg != "" {
			return nil, fmt.Errorf("%w: exact keyer takes no argument", geo.ErrInvalidArgument)
		}
		return ExactKeyer{}, nil
	})
	RegisterKeyer("grid", func(arg string) (Keyer, error) {
		eps, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: grid epsilon %q is not a number", geo.ErrInvalidArgument, arg)
		}
		return NewGridKeyer(eps)
	})
	RegisterKeyer("cell", func(arg string) (Keyer, error) {
		res, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: cell resolution %q is not an integer", geo.ErrInvalidArgument, arg)
		}
		return NewCellKeyer(res)
	})
}

// ParseKeyer resolves a keyer of the form "name" or "name:arg",
// e.g. "exact", "cell:12", "grid:1e-5". The empty string means exact.
func ParseKeyer(s string) (Keyer, error) {
	if s == "" {
		return ExactKeyer{}, nil
	}
	name, arg, _ := strings.Cut(s, ":")
	f, ok := keyerReg[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown keyer %q", geo.ErrInvalidArgument, name)
	}
	return f(arg)
}
