package hotspot

import (
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultNeighborhoodRadius is the clustering radius in degrees (~1.1 km of latitude).
	DefaultNeighborhoodRadius = 0.01
	// DefaultMinPoints is the minimum neighborhood size of a core point.
	DefaultMinPoints = 3
	// DefaultKgPerDensityUnit converts one unit of waste density to kilograms.
	DefaultKgPerDensityUnit = 1.0
)

// ErrInvalidParams is wrapped by every parameter or observation validation failure.
var ErrInvalidParams = errors.New("invalid clustering parameters")

// Params configures density clustering.
type Params struct {
	NeighborhoodRadius float64 `json:"neighborhoodRadius" yaml:"neighborhoodRadius"`
	MinPoints          int     `json:"minPoints" yaml:"minPoints"`
	KgPerDensityUnit   float64 `json:"kgPerDensityUnit,omitempty" yaml:"kgPerDensityUnit"`
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		NeighborhoodRadius: DefaultNeighborhoodRadius,
		MinPoints:          DefaultMinPoints,
		KgPerDensityUnit:   DefaultKgPerDensityUnit,
	}
}

func (p Params) withDefaults() Params {
	if p.KgPerDensityUnit == 0 {
		p.KgPerDensityUnit = DefaultKgPerDensityUnit
	}
	return p
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	if !(p.NeighborhoodRadius > 0) || math.IsInf(p.NeighborhoodRadius, 0) {
		return fmt.Errorf("%w: neighborhoodRadius must be > 0, got %v", ErrInvalidParams, p.NeighborhoodRadius)
	}
	if p.MinPoints < 1 {
		return fmt.Errorf("%w: minPoints must be >= 1, got %d", ErrInvalidParams, p.MinPoints)
	}
	if !(p.KgPerDensityUnit > 0) || math.IsInf(p.KgPerDensityUnit, 0) {
		return fmt.Errorf("%w: kgPerDensityUnit must be > 0, got %v", ErrInvalidParams, p.KgPerDensityUnit)
	}
	return nil
}
