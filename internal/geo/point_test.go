package geo

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func validPoint() Point {
	return Point{
		SerialNumber: 7,
		Station:      "Estacion Norte",
		Coordinates:  [2]float64{-1.130425, 37.987654},
		Status:       StatusGreen,
	}
}

func TestPoint_Validate_HappyPath(t *testing.T) {
	if err := validPoint().Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestPoint_Validate_RejectsNonPositiveSerial(t *testing.T) {
	p := validPoint()
	p.SerialNumber = 0
	err := p.Validate()
	if err == nil {
		t.Fatalf("expected error for serial 0")
	}
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument, got %v", err)
	}
}

func TestPoint_Validate_RejectsNonFiniteCoordinates(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		p := validPoint()
		p.Coordinates[1] = bad
		if err := p.Validate(); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("coordinate %v: want ErrInvalidArgument, got %v", bad, err)
		}
	}
}

func TestPoint_Validate_RejectsUnknownStatus(t *testing.T) {
	p := validPoint()
	p.Status = "purple"
	if err := p.Validate(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument, got %v", err)
	}
}

func TestValidateAll_ReportsOffenderIndex(t *testing.T) {
	pts := []Point{validPoint(), validPoint()}
	pts[1].Status = "violet"
	err := ValidateAll(pts)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := err.Error(); got[:7] != "point 1" {
		t.Fatalf("expected index 1 in error, got %q", got)
	}
}

func TestPoint_JSONRoundTrip_PreservesLonFirstOrder(t *testing.T) {
	p := validPoint()
	p.Brand = "Acme"
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Point
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != p {
		t.Fatalf("round trip changed point: %+v != %+v", back, p)
	}
	if back.Lon() != -1.130425 || back.Lat() != 37.987654 {
		t.Fatalf("lon/lat order lost: lon=%v lat=%v", back.Lon(), back.Lat())
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range AllStatuses {
		if !s.Valid() {
			t.Fatalf("status %q should be valid", s)
		}
	}
	if Status("").Valid() {
		t.Fatalf("empty status should be invalid")
	}
}

func TestBBox_Contains_InclusiveBounds(t *testing.T) {
	b := Murcia
	corners := [][2]float64{
		{b.MinLon, b.MinLat},
		{b.MaxLon, b.MaxLat},
		{b.MinLon, b.MaxLat},
		{b.MaxLon, b.MinLat},
	}
	for _, c := range corners {
		if !b.Contains(c[0], c[1]) {
			t.Fatalf("corner %v should be inside", c)
		}
	}
	if b.Contains(b.MaxLon+1e-6, b.MinLat) {
		t.Fatalf("point east of box should be outside")
	}
}

func TestBBox_Validate_RejectsDegenerate(t *testing.T) {
	b := BBox{MinLon: -1, MinLat: 37, MaxLon: -1, MaxLat: 38}
	if err := b.Validate(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument, got %v", err)
	}
	if err := Murcia.Validate(); err != nil {
		t.Fatalf("murcia should validate: %v", err)
	}
}
