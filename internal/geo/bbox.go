package geo

import "fmt"

// BBox is a rectangular longitude/latitude region, bounds inclusive.
type BBox struct {
	MinLon, MinLat float64
	MaxLon, MaxLat float64
}

// Murcia is the default synthetic-generation region.
var Murcia = BBox{MinLon: -1.6, MinLat: 37.5, MaxLon: -0.8, MaxLat: 38.2}

func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

func (b BBox) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

func (b BBox) Validate() error {
	if b.MinLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("%w: longitude must be in [-180,180]", ErrInvalidArgument)
	}
	if b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("%w: latitude must be in [-90,90]", ErrInvalidArgument)
	}
	if b.MaxLon <= b.MinLon || b.MaxLat <= b.MinLat {
		return fmt.Errorf("%w: bounds must satisfy max>min on both axes", ErrInvalidArgument)
	}
	return nil
}
