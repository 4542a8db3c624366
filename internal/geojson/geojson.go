// Package geojson converts point collections to and from GeoJSON
// FeatureCollections, the encoding the dashboard's map layer consumes.
package geojson

import (
	"fmt"

	"github.com/Berto-e/spiderfy/internal/geo"
)

type Geometry struct {
	Type string `json:"type"`
	// A GeoJSON position, longitude first. Kept as a slice so decoding can
	// reject the wrong arity instead of silently truncating.
	Coordinates []float64 `json:"coordinates"`
}

type Properties struct {
	SerialNumber     int        `json:"serialNumber"`
	Station          string     `json:"station"`
	Status           geo.Status `json:"status"`
	Brand            string     `json:"brand,omitempty"`
	Model            string     `json:"model,omitempty"`
	InstallationDate string     `json:"installationDate,omitempty"`
}

type Feature struct {
	Type       string     `json:"type"`
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
}

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// FromPoints builds a FeatureCollection with one Point feature per input
// point, in input order.
func FromPoints(points []geo.Point) FeatureCollection {
	fc := FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]Feature, 0, len(points)),
	}
	for _, p := range points {
		fc.Features = append(fc.Features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{p.Coordinates[0], p.Coordinates[1]},
			},
			Properties: Properties{
				SerialNumber:     p.SerialNumber,
				Station:          p.Station,
				Status:           p.Status,
				Brand:            p.Brand,
				Model:            p.Model,
				InstallationDate: p.InstallationDate,
			},
		})
	}
	return fc
}

// ToPoints decodes a FeatureCollection back into points, rejecting
// anything that is not a flat collection of Point features with two finite
// coordinates.
func ToPoints(fc FeatureCollection) ([]geo.Point, error) {
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf(`%w: type is %q (want "FeatureCollection")`, geo.ErrInvalidArgument, fc.Type)
	}
	points := make([]geo.Point, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Type != "Feature" {
			return nil, fmt.Errorf(`%w: feature %d: type is %q (want "Feature")`, geo.ErrInvalidArgument, i, f.Type)
		}
		if f.Geometry.Type != "Point" {
			return nil, fmt.Errorf(`%w: feature %d: geometry is %q (want "Point")`, geo.ErrInvalidArgument, i, f.Geometry.Type)
		}
		if len(f.Geometry.Coordinates) != 2 {
			return nil, fmt.Errorf("%w: feature %d: coordinates must be [lon,lat], got %d values", geo.ErrInvalidArgument, i, len(f.Geometry.Coordinates))
		}
		lon, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
		if !geo.Finite(lon) || !geo.Finite(lat) {
			return nil, fmt.Errorf("%w: feature %d: coordinates must be finite", geo.ErrInvalidArgument, i)
		}
		points = append(points, geo.Point{
			SerialNumber:     f.Properties.SerialNumber,
			Station:          f.Properties.Station,
			Coordinates:      [2]float64{lon, lat},
			Status:           f.Properties.Status,
			Brand:            f.Properties.Brand,
			Model:            f.Properties.Model,
			InstallationDate: f.Properties.InstallationDate,
		})
	}
	return points, nil
}

// Merge concatenates collections in order, dropping later features whose
// serial number was already seen. First occurrence wins.
func Merge(collections ...FeatureCollection) FeatureCollection {
	out := FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]Feature, 0, 128),
	}
	seen := map[int]struct{}{}
	for _, fc := range collections {
		for _, f := range fc.Features {
			if _, dup := seen[f.Properties.SerialNumber]; dup {
				continue
			}
			seen[f.Properties.SerialNumber] = struct{}{}
			out.Features = append(out.Features, f)
		}
	}
	return out
}

// MergePoints is Merge over bare point slices, dedup by serial number,
// first occurrence wins.
func MergePoints(sets ...[]geo.Point) []geo.Point {
	out := make([]geo.Point, 0, 128)
	seen := map[int]struct{}{}
	for _, set := range sets {
		for _, p := range set {
			if _, dup := seen[p.SerialNumber]; dup {
				continue
			}
			seen[p.SerialNumber] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
