package opt

import (
	"errors"
	"fmt"
	"sort"

	"ecoroute/internal/geo"
	"ecoroute/internal/hotspot"
)

// ErrInvalidRequest marks a malformed planning request.
var ErrInvalidRequest = errors.New("invalid planning request")

// Instance is a resolved routing problem: the pinned hotspots in request order
// and the fleet sorted by vehicle ID.
type Instance struct {
	GenerationID  string
	Hotspots      []hotspot.Hotspot
	Vehicles      []Vehicle
	Cost          CostModel
	ReturnToDepot bool
}

// NewInstance validates the fleet and sorts it by ID.
func NewInstance(generationID string, hotspots []hotspot.Hotspot, vehicles []Vehicle, cost CostModel, returnToDepot bool) (*Instance, error) {
	fleet := append([]Vehicle(nil), vehicles...)
	seen := make(map[string]struct{}, len(fleet))
	for i, v := range fleet {
		if v.ID == "" {
			return nil, fmt.Errorf("%w: vehicle %d has empty id", ErrInvalidRequest, i)
		}
		if _, dup := seen[v.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate vehicle id %q", ErrInvalidRequest, v.ID)
		}
		seen[v.ID] = struct{}{}
		if !(v.CapacityKg > 0) {
			return nil, fmt.Errorf("%w: vehicle %q capacity must be > 0", ErrInvalidRequest, v.ID)
		}
		if !v.Depot.Valid() {
			return nil, fmt.Errorf("%w: vehicle %q depot %s out of range", ErrInvalidRequest, v.ID, v.Depot)
		}
	}
	sort.Slice(fleet, func(a, b int) bool { return fleet[a].ID < fleet[b].ID })
	return &Instance{
		GenerationID:  generationID,
		Hotspots:      append([]hotspot.Hotspot(nil), hotspots...),
		Vehicles:      fleet,
		Cost:          cost,
		ReturnToDepot: returnToDepot,
	}, nil
}

// Points returns the matrix layout: hotspot centroids then depots.
func (in *Instance) Points() []geo.Point {
	pts := make([]geo.Point, 0, len(in.Hotspots)+len(in.Vehicles))
	for _, h := range in.Hotspots {
		pts = append(pts, h.Centroid)
	}
	for _, v := range in.Vehicles {
		pts = append(pts, v.Depot)
	}
	return pts
}

func (in *Instance) depot(v int) int { return len(in.Hotspots) + v }

func (in *Instance) volume(h int) float64 { return in.Hotspots[h].EstimatedVolumeKg }

// Solution is the working state shared by the constructor and improver.
// Stops hold hotspot indices into Instance.Hotspots.
type Solution struct {
	Routes     []RouteState
	Unassigned []Unassigned
}

// RouteState is one vehicle's route during search.
type RouteState struct {
	Vehicle int
	Stops   []int
	Load    float64
}

func (s *Solution) clone() *Solution {
	out := &Solution{Routes: make([]RouteState, len(s.Routes)), Unassigned: append([]Unassigned(nil), s.Unassigned...)}
	for i, r := range s.Routes {
		out.Routes[i] = RouteState{Vehicle: r.Vehicle, Stops: append([]int(nil), r.Stops...), Load: r.Load}
	}
	return out
}

func newSolution(in *Instance) *Solution {
	s := &Solution{Routes: make([]RouteState, len(in.Vehicles))}
	for v := range in.Vehicles {
		s.Routes[v].Vehicle = v
	}
	return s
}

// routeDistance sums the matrix costs along the route.
func (in *Instance) routeDistance(m *Matrix, r RouteState) float64 {
	if len(r.Stops) == 0 {
		return 0
	}
	prev := in.depot(r.Vehicle)
	d := 0.0
	for _, h := range r.Stops {
		d += m.At(prev, h)
		prev = h
	}
	if in.ReturnToDepot {
		d += m.At(prev, in.depot(r.Vehicle))
	}
	return d
}

// TotalDistance sums the route distances of s.
func (in *Instance) TotalDistance(m *Matrix, s *Solution) float64 {
	total := 0.0
	for _, r := range s.Routes {
		total += in.routeDistance(m, r)
	}
	return total
}

// prevNode returns the node visited before position pos.
func (in *Instance) prevNode(r RouteState, pos int) int {
	if pos == 0 {
		return in.depot(r.Vehicle)
	}
	return r.Stops[pos-1]
}

// nextNode returns the node visited after position pos-1, or -1 when an open
// route ends there.
func (in *Instance) nextNode(r RouteState, pos int) int {
	if pos < len(r.Stops) {
		return r.Stops[pos]
	}
	if in.ReturnToDepot {
		return in.depot(r.Vehicle)
	}
	return -1
}

// edge returns the cost from a to b, treating b == -1 as the open end.
func edge(m *Matrix, a, b int) float64 {
	if b < 0 {
		return 0
	}
	return m.At(a, b)
}

// deltaInsert is the marginal cost of inserting h at position pos of r.
func (in *Instance) deltaInsert(m *Matrix, r RouteState, pos, h int) float64 {
	prev := in.prevNode(r, pos)
	next := in.nextNode(r, pos)
	return m.At(prev, h) + edge(m, h, next) - edge(m, prev, next)
}

// deltaRemove is the cost saved by removing the stop at position pos of r.
func (in *Instance) deltaRemove(m *Matrix, r RouteState, pos int) float64 {
	prev := in.prevNode(r, pos)
	next := in.nextNode(r, pos+1)
	x := r.Stops[pos]
	return m.At(prev, x) + edge(m, x, next) - edge(m, prev, next)
}

// deltaReplace is the cost change of replacing the stop at pos of r with h.
func (in *Instance) deltaReplace(m *Matrix, r RouteState, pos, h int) float64 {
	prev := in.prevNode(r, pos)
	next := in.nextNode(r, pos+1)
	x := r.Stops[pos]
	return m.At(prev, h) + edge(m, h, next) - m.At(prev, x) - edge(m, x, next)
}

func insertAt(s []int, pos, v int) []int {
	s = append(s, 0)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

func removeAt(s []int, pos int) []int {
	return append(s[:pos], s[pos+1:]...)
}
