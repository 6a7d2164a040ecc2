package opt

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"ecoroute/internal/hotspot"
)

// loadTolerance absorbs rounding when summing stop volumes.
const loadTolerance = 1e-9

// IssueKind classifies a structural problem found by Evaluate.
type IssueKind string

const (
	IssueDuplicateStop    IssueKind = "DuplicateStop"
	IssueUnknownHotspot   IssueKind = "UnknownHotspot"
	IssueUnknownVehicle   IssueKind = "UnknownVehicle"
	IssueMissingHotspot   IssueKind = "MissingHotspot"
	IssueCapacityExceeded IssueKind = "CapacityExceeded"
)

// Issue is one evaluator finding.
type Issue struct {
	Kind      IssueKind `json:"kind"`
	VehicleID string    `json:"vehicleId,omitempty"`
	HotspotID string    `json:"hotspotId,omitempty"`
	Detail    string    `json:"detail"`
}

// Report is an evaluated plan.
type Report struct {
	Plan          RoutePlan     `json:"plan"`
	TotalDistance float64       `json:"totalDistance"`
	TotalLoadKg   float64       `json:"totalLoadKg"`
	Feasible      bool          `json:"feasible"`
	Issues        []Issue       `json:"issues"`
	Stats         *ImproveStats `json:"stats,omitempty"`
}

// Evaluate recomputes every route of plan from scratch with the instance's
// cost model and checks it against the instance's fleet and pinned set.
// The input plan is not modified.
func Evaluate(plan RoutePlan, in *Instance) Report {
	out := plan.Clone()
	rep := Report{Issues: []Issue{}}

	hotspots := make(map[string]hotspot.Hotspot, len(in.Hotspots))
	for _, h := range in.Hotspots {
		hotspots[h.ID] = h
	}
	vehicles := make(map[string]Vehicle, len(in.Vehicles))
	for _, v := range in.Vehicles {
		vehicles[v.ID] = v
	}
	seen := make(map[string]bool, len(in.Hotspots))

	for ri := range out.Routes {
		r := &out.Routes[ri]
		r.TotalDistance, r.TotalLoadKg = 0, 0
		r.Feasible, r.ViolationStop = true, -1
		v, ok := vehicles[r.VehicleID]
		if !ok {
			rep.Issues = append(rep.Issues, Issue{Kind: IssueUnknownVehicle, VehicleID: r.VehicleID, Detail: "route references a vehicle outside the fleet"})
			r.Feasible = false
		}
		prev := v.Depot
		for k := range r.Stops {
			s := &r.Stops[k]
			s.ArrivalOrder = k
			h, known := hotspots[s.HotspotID]
			if !known {
				rep.Issues = append(rep.Issues, Issue{Kind: IssueUnknownHotspot, VehicleID: r.VehicleID, HotspotID: s.HotspotID, Detail: "stop is not in the pinned set"})
				r.Feasible = false
				s.CumulativeLoadKg = r.TotalLoadKg
				continue
			}
			if seen[s.HotspotID] {
				rep.Issues = append(rep.Issues, Issue{Kind: IssueDuplicateStop, VehicleID: r.VehicleID, HotspotID: s.HotspotID, Detail: "hotspot is visited more than once"})
				r.Feasible = false
			}
			seen[s.HotspotID] = true
			if ok {
				r.TotalDistance += in.Cost.Cost(prev, h.Centroid)
			}
			prev = h.Centroid
			r.TotalLoadKg += h.EstimatedVolumeKg
			s.CumulativeLoadKg = r.TotalLoadKg
			if ok && r.ViolationStop < 0 && r.TotalLoadKg > v.CapacityKg+loadTolerance {
				r.ViolationStop = k
				r.Feasible = false
				rep.Issues = append(rep.Issues, Issue{
					Kind:      IssueCapacityExceeded,
					VehicleID: r.VehicleID,
					HotspotID: s.HotspotID,
					Detail:    fmt.Sprintf("cumulative load %.2f kg exceeds capacity %.2f kg", r.TotalLoadKg, v.CapacityKg),
				})
			}
		}
		if ok && in.ReturnToDepot && len(r.Stops) > 0 {
			r.TotalDistance += in.Cost.Cost(prev, v.Depot)
		}
		rep.TotalDistance += r.TotalDistance
		rep.TotalLoadKg += r.TotalLoadKg
	}

	for _, u := range out.Unassigned {
		if _, known := hotspots[u.HotspotID]; !known {
			rep.Issues = append(rep.Issues, Issue{Kind: IssueUnknownHotspot, HotspotID: u.HotspotID, Detail: "unassigned entry is not in the pinned set"})
			continue
		}
		if seen[u.HotspotID] {
			rep.Issues = append(rep.Issues, Issue{Kind: IssueDuplicateStop, HotspotID: u.HotspotID, Detail: "hotspot is both routed and unassigned"})
		}
		seen[u.HotspotID] = true
	}
	for _, h := range in.Hotspots {
		if !seen[h.ID] {
			rep.Issues = append(rep.Issues, Issue{Kind: IssueMissingHotspot, HotspotID: h.ID, Detail: "pinned hotspot is neither routed nor unassigned"})
		}
	}

	rep.Plan = out
	rep.Feasible = len(rep.Issues) == 0
	return rep
}

// Text renders a human-readable feasibility report.
func (r Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Route plan %s (generation %s)\n", r.Plan.ID, r.Plan.GenerationID)
	if !r.Plan.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "Generated: %s\n", r.Plan.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	fmt.Fprintf(&b, "Total distance: %.2f km  Total load: %.2f kg  Feasible: %s\n\n", r.TotalDistance, r.TotalLoadKg, yesNo(r.Feasible))

	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for _, rt := range r.Plan.Routes {
		status := "feasible"
		if !rt.Feasible {
			status = "INFEASIBLE"
			if rt.ViolationStop >= 0 {
				status = fmt.Sprintf("INFEASIBLE at stop %d", rt.ViolationStop)
			}
		}
		fmt.Fprintf(tw, "Vehicle %s\t%d stops\t%.2f km\t%.2f kg\t%s\n", rt.VehicleID, len(rt.Stops), rt.TotalDistance, rt.TotalLoadKg, status)
		for _, s := range rt.Stops {
			fmt.Fprintf(tw, "  %d.\t%s\t\t%.2f kg\t\n", s.ArrivalOrder+1, s.HotspotID, s.CumulativeLoadKg)
		}
	}
	tw.Flush()

	if len(r.Plan.Unassigned) > 0 {
		b.WriteString("\nUnassigned:\n")
		for _, u := range r.Plan.Unassigned {
			fmt.Fprintf(&b, "  %s: %s\n", u.HotspotID, u.Reason)
		}
	}
	if len(r.Issues) > 0 {
		b.WriteString("\nIssues:\n")
		for _, is := range r.Issues {
			fmt.Fprintf(&b, "  [%s] %s %s: %s\n", is.Kind, is.VehicleID, is.HotspotID, is.Detail)
		}
	}
	if s := r.Stats; s != nil {
		fmt.Fprintf(&b, "\nOptimizer: %d sweeps, moves 2-opt=%d relocate=%d exchange=%d, %.2f -> %.2f km",
			s.Sweeps, s.TwoOptMoves, s.RelocateMoves, s.ExchangeMoves, s.StartDistance, s.FinalDistance)
		switch {
		case s.Cancelled:
			b.WriteString(" (cancelled)")
		case s.TimedOut:
			b.WriteString(" (time budget reached)")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func yesNo(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
