package overlap

import (
	"errors"
	"math"
	"testing"

	h3 "github.com/uber/h3-go/v4"

	"github.com/Berto-e/spiderfy/internal/geo"
)

func TestExactKeyer_ZeroSignsCompareEqual(t *testing.T) {
	neg := pt(1, math.Copysign(0, -1), 0)
	pos := pt(2, 0, 0)
	ka, err := ExactKeyer{}.Key(neg)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	kb, err := ExactKeyer{}.Key(pos)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if ka != kb {
		t.Fatalf("-0 and +0 must key equal: %q vs %q", ka, kb)
	}
}

func TestExactKeyer_DistinguishesLastBit(t *testing.T) {
	a := pt(1, 1.0, 2.0)
	b := pt(2, math.Nextafter(1.0, 2.0), 2.0)
	ka, _ := ExactKeyer{}.Key(a)
	kb, _ := ExactKeyer{}.Key(b)
	if ka == kb {
		t.Fatalf("points differing in the last bit must not key equal")
	}
}

func TestNewGridKeyer_RejectsBadEpsilon(t *testing.T) {
	for _, eps := range []float64{0, -1e-5, math.NaN(), math.Inf(1)} {
		if _, err := NewGridKeyer(eps); !errors.Is(err, geo.ErrInvalidArgument) {
			t.Fatalf("epsilon %v: want ErrInvalidArgument, got %v", eps, err)
		}
	}
}

func TestNewCellKeyer_RejectsBadResolution(t *testing.T) {
	for _, res := range []int{-1, 16} {
		if _, err := NewCellKeyer(res); !errors.Is(err, geo.ErrInvalidArgument) {
			t.Fatalf("res %d: want ErrInvalidArgument, got %v", res, err)
		}
	}
}

func TestCellKeyer_MatchesDirectH3(t *testing.T) {
	p := pt(1, -1.130425, 37.987654)
	k, err := NewCellKeyer(9)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	got, err := k.Key(p)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat(), p.Lon()), 9)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	if got != cell.String() {
		t.Fatalf("want %q, got %q", cell.String(), got)
	}
}

func TestParseKeyer_Forms(t *testing.T) {
	t.Run("empty defaults to exact", func(t *testing.T) {
		k, err := ParseKeyer("")
		if err != nil {
			t.Fatalf("unexpected: %v", err)
		}
		if _, ok := k.(ExactKeyer); !ok {
			t.Fatalf("want ExactKeyer, got %T", k)
		}
	})
	t.Run("exact", func(t *testing.T) {
		k, err := ParseKeyer("exact")
		if err != nil {
			t.Fatalf("unexpected: %v", err)
		}
		if _, ok := k.(ExactKeyer); !ok {
			t.Fatalf("want ExactKeyer, got %T", k)
		}
	})
	t.Run("cell with resolution", func(t *testing.T) {
		k, err := ParseKeyer("cell:7")
		if err != nil {
			t.Fatalf("unexpected: %v", err)
		}
		ck, ok := k.(CellKeyer)
		if !ok || ck.Res != 7 {
			t.Fatalf("want CellKeyer{7}, got %#v", k)
		}
	})
	t.Run("grid with epsilon", func(t *testing.T) {
		k, err := ParseKeyer("grid:0.001")
		if err != nil {
			t.Fatalf("unexpected: %v", err)
		}
		gk, ok := k.(GridKeyer)
		if !ok || gk.Epsilon != 0.001 {
			t.Fatalf("want GridKeyer{0.001}, got %#v", k)
		}
	})
	for _, bad := range []string{"cell:16", "cell:x", "grid:x", "grid:-1", "bogus", "exact:1"} {
		t.Run("rejects "+bad, func(t *testing.T) {
			if _, err := ParseKeyer(bad); !errors.Is(err, geo.ErrInvalidArgument) {
				t.Fatalf("want ErrInvalidArgument, got %v", err)
			}
		})
	}
}
