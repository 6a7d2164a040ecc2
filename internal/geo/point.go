// Package geo holds the coordinate type shared by the clustering and routing
// packages plus the great-circle helpers built on orb.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Point is a WGS84 location in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether the point lies inside the WGS84 coordinate range.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func (p Point) String() string { return fmt.Sprintf("(%.6f,%.6f)", p.Lat, p.Lon) }

// Orb converts to orb's [lon, lat] ordering.
func (p Point) Orb() orb.Point { return orb.Point{p.Lon, p.Lat} }

// FromOrb converts an orb point back to a Point.
func FromOrb(op orb.Point) Point { return Point{Lat: op.Lat(), Lon: op.Lon()} }

// HaversineKm returns the great-circle distance between a and b in kilometres.
func HaversineKm(a, b Point) float64 {
	return geo.DistanceHaversine(a.Orb(), b.Orb()) / 1000.0
}

// PlanarDistance is the Euclidean distance in degree space. The clustering
// radius is expressed in degrees so neighbor queries use this metric.
func PlanarDistance(a, b Point) float64 {
	return math.Hypot(a.Lat-b.Lat, a.Lon-b.Lon)
}

// Bound returns the bounding box of pts. The zero bound is returned for an
// empty slice.
func Bound(pts []Point) orb.Bound {
	if len(pts) == 0 {
		return orb.Bound{}
	}
	mp := make(orb.MultiPoint, len(pts))
	for i, p := range pts {
		mp[i] = p.Orb()
	}
	return mp.Bound()
}
