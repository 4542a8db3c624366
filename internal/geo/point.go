// Package geo defines the point domain types shared across the service.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidArgument marks validation failures on caller-supplied input.
// Callers route on it with errors.Is.
var ErrInvalidArgument = errors.New("invalid argument")

type Status string

const (
	StatusGreen  Status = "green"
	StatusYellow Status = "yellow"
	StatusRed    Status = "red"
)

// AllStatuses lists the closed status set in a fixed order.
var AllStatuses = []Status{StatusGreen, StatusYellow, StatusRed}

func (s Status) Valid() bool {
	switch s {
	case StatusGreen, StatusYellow, StatusRed:
		return true
	}
	return false
}

// Point is one geolocated sensor/meter. Coordinates are longitude-first;
// every consumer relies on that ordering. Points are value objects:
// transformations return new Points and never modify their input.
type Point struct {
	SerialNumber int        `json:"serialNumber"`
	Station      string     `json:"station"`
	Coordinates  [2]float64 `json:"coordinates"`
	Status       Status     `json:"status"`

	// Opaque descriptive payload, carried through transformations unchanged.
	Brand            string `json:"brand,omitempty"`
	Model            string `json:"model,omitempty"`
	InstallationDate string `json:"installationDate,omitempty"`
}

func (p Point) Lon() float64 { return p.Coordinates[0] }
func (p Point) Lat() float64 { return p.Coordinates[1] }

func (p Point) Validate() error {
	if p.SerialNumber <= 0 {
		return fmt.Errorf("%w: serial number must be positive, got %d", ErrInvalidArgument, p.SerialNumber)
	}
	if !Finite(p.Coordinates[0]) || !Finite(p.Coordinates[1]) {
		return fmt.Errorf("%w: coordinates must be finite", ErrInvalidArgument)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q (want green|yellow|red)", ErrInvalidArgument, p.Status)
	}
	return nil
}

// ValidateAll validates a whole collection, reporting the first offender
// by index.
func ValidateAll(points []Point) error {
	for i, p := range points {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("point %d: %w", i, err)
		}
	}
	return nil
}

func Finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
