package opt

import (
	"math"
	"sort"
)

// SeedStrategy selects the construction heuristic.
type SeedStrategy string

const (
	// SeedInsertion is greedy cheapest insertion by descending severity.
	SeedInsertion SeedStrategy = "insertion"
	// SeedNearest grows each vehicle's route from its depot to the closest
	// feasible hotspot until it is full.
	SeedNearest SeedStrategy = "nearest"
)

// Valid reports whether s names a known strategy. Empty means SeedInsertion.
func (s SeedStrategy) Valid() bool {
	return s == "" || s == SeedInsertion || s == SeedNearest
}

// tieEpsilon absorbs rounding noise when comparing equal-cost candidates so
// ordered iteration decides ties.
const tieEpsilon = 1e-12

// Construct builds the initial solution with the chosen strategy.
func Construct(in *Instance, m *Matrix, strategy SeedStrategy) *Solution {
	if strategy == SeedNearest {
		return constructNearest(in, m)
	}
	return constructInsertion(in, m)
}

// severityOrder returns hotspot indices by descending severity, then ID.
func (in *Instance) severityOrder() []int {
	order := make([]int, len(in.Hotspots))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ha, hb := in.Hotspots[order[a]], in.Hotspots[order[b]]
		if ha.SeverityScore != hb.SeverityScore {
			return ha.SeverityScore > hb.SeverityScore
		}
		return ha.ID < hb.ID
	})
	return order
}

func (in *Instance) maxCapacity() float64 {
	c := 0.0
	for _, v := range in.Vehicles {
		c = max(c, v.CapacityKg)
	}
	return c
}

// unassignedReason classifies a hotspot no route could take.
func (in *Instance) unassignedReason(h int) UnassignedReason {
	if len(in.Vehicles) == 0 || in.volume(h) > in.maxCapacity() {
		return ReasonNoVehicleAvailable
	}
	return ReasonCapacityExhausted
}

func constructInsertion(in *Instance, m *Matrix) *Solution {
	s := newSolution(in)
	for _, h := range in.severityOrder() {
		vol := in.volume(h)
		bestV, bestPos := -1, -1
		bestDelta := math.Inf(1)
		for v := range s.Routes {
			r := s.Routes[v]
			if r.Load+vol > in.Vehicles[v].CapacityKg {
				continue
			}
			for pos := 0; pos <= len(r.Stops); pos++ {
				d := in.deltaInsert(m, r, pos, h)
				if d < bestDelta-tieEpsilon {
					bestV, bestPos, bestDelta = v, pos, d
				}
			}
		}
		if bestV < 0 {
			s.Unassigned = append(s.Unassigned, Unassigned{HotspotID: in.Hotspots[h].ID, Reason: in.unassignedReason(h)})
			continue
		}
		r := &s.Routes[bestV]
		r.Stops = insertAt(r.Stops, bestPos, h)
		r.Load += vol
	}
	return s
}

func constructNearest(in *Instance, m *Matrix) *Solution {
	s := newSolution(in)
	routed := make([]bool, len(in.Hotspots))
	for v := range s.Routes {
		r := &s.Routes[v]
		cur := in.depot(v)
		for {
			best := -1
			bestD := math.Inf(1)
			for h := range in.Hotspots {
				if routed[h] || r.Load+in.volume(h) > in.Vehicles[v].CapacityKg {
					continue
				}
				if d := m.At(cur, h); d < bestD-tieEpsilon {
					best, bestD = h, d
				}
			}
			if best < 0 {
				break
			}
			routed[best] = true
			r.Stops = append(r.Stops, best)
			r.Load += in.volume(best)
			cur = best
		}
	}
	for _, h := range in.severityOrder() {
		if !routed[h] {
			s.Unassigned = append(s.Unassigned, Unassigned{HotspotID: in.Hotspots[h].ID, Reason: in.unassignedReason(h)})
		}
	}
	return s
}
