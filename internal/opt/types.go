// Package opt builds capacitated collection routes over pinned hotspots:
// a proxy cost matrix, a greedy insertion seed, deadline-bounded local search
// and an independent evaluator that produces the plan returned to callers.
package opt

import (
	"time"

	"ecoroute/internal/geo"
	"ecoroute/internal/hotspot"
)

// Vehicle is a collection vehicle supplied with a planning request.
type Vehicle struct {
	ID         string    `json:"id" yaml:"id"`
	CapacityKg float64   `json:"capacityKg" yaml:"capacityKg"`
	Depot      geo.Point `json:"depot" yaml:"depot"`
}

// RouteStop is one visit in a route.
type RouteStop struct {
	HotspotID        string  `json:"hotspotId"`
	ArrivalOrder     int     `json:"arrivalOrder"`
	CumulativeLoadKg float64 `json:"cumulativeLoadKg"`
}

// Route is the ordered visit list of one vehicle. TotalDistance is in km.
// ViolationStop is the first stop index whose cumulative load exceeds the
// vehicle capacity, or -1.
type Route struct {
	VehicleID     string      `json:"vehicleId"`
	Stops         []RouteStop `json:"stops"`
	TotalDistance float64     `json:"totalDistance"`
	TotalLoadKg   float64     `json:"totalLoadKg"`
	Feasible      bool        `json:"feasible"`
	ViolationStop int         `json:"violationStop"`
}

// UnassignedReason explains why a pinned hotspot is not on any route.
type UnassignedReason string

const (
	// ReasonCapacityExhausted: some vehicle could carry the hotspot on its
	// own, but no vehicle had enough remaining capacity.
	ReasonCapacityExhausted UnassignedReason = "CapacityExhausted"
	// ReasonNoVehicleAvailable: the fleet is empty or the hotspot exceeds
	// every vehicle's total capacity.
	ReasonNoVehicleAvailable UnassignedReason = "NoVehicleAvailable"
)

// Unassigned is a soft failure embedded in a RoutePlan.
type Unassigned struct {
	HotspotID string           `json:"hotspotId"`
	Reason    UnassignedReason `json:"reason"`
}

// RoutePlan is the planning output. The caller owns it once returned.
type RoutePlan struct {
	ID           string       `json:"id"`
	GenerationID string       `json:"generationId"`
	Routes       []Route      `json:"routes"`
	Unassigned   []Unassigned `json:"unassigned"`
	GeneratedAt  time.Time    `json:"generatedAt"`
}

// Clone returns a deep copy of the plan.
func (p RoutePlan) Clone() RoutePlan {
	out := p
	out.Routes = make([]Route, len(p.Routes))
	for i, r := range p.Routes {
		out.Routes[i] = r
		out.Routes[i].Stops = make([]RouteStop, len(r.Stops))
		copy(out.Routes[i].Stops, r.Stops)
	}
	out.Unassigned = make([]Unassigned, len(p.Unassigned))
	copy(out.Unassigned, p.Unassigned)
	return out
}

// Snapshot is an immutable view of one hotspot generation handed to Plan.
type Snapshot struct {
	GenerationID string
	Hotspots     []hotspot.Hotspot
}
