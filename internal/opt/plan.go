package opt

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ecoroute/internal/errs"
	"ecoroute/internal/hotspot"
)

// DefaultTimeBudget bounds local search when a request leaves it unset.
const DefaultTimeBudget = 5 * time.Second

// Request describes one planning call.
type Request struct {
	GenerationID   string        `json:"generationId"`
	PinnedIDs      []string      `json:"pinnedIds"`
	Vehicles       []Vehicle     `json:"vehicles"`
	TimeBudget     time.Duration `json:"timeBudget"`
	CircuityFactor float64       `json:"circuityFactor"`
	// ReturnToDepot closes each route at its depot. Nil means true.
	ReturnToDepot *bool        `json:"returnToDepot,omitempty"`
	MaxSweeps     int          `json:"maxSweeps"`
	Workers       int          `json:"workers"`
	Seed          SeedStrategy `json:"seed"`
}

// ClosedTours reports whether routes return to their depot.
func (r Request) ClosedTours() bool { return r.ReturnToDepot == nil || *r.ReturnToDepot }

// Plan resolves the pinned hotspots against snap, builds and improves routes
// for the fleet, and returns the evaluated plan. The improver's soft timeout
// is reported through Report.Stats, not as an error.
func Plan(ctx context.Context, snap Snapshot, req Request) (Report, error) {
	if req.GenerationID != "" && req.GenerationID != snap.GenerationID {
		return Report{}, fmt.Errorf("%w: request generation %q does not match snapshot %q", ErrInvalidRequest, req.GenerationID, snap.GenerationID)
	}
	if req.TimeBudget < 0 || req.MaxSweeps < 0 {
		return Report{}, fmt.Errorf("%w: time budget and max sweeps must not be negative", ErrInvalidRequest)
	}
	if !req.Seed.Valid() {
		return Report{}, fmt.Errorf("%w: unknown seed strategy %q", ErrInvalidRequest, req.Seed)
	}
	pinned, err := resolvePins(snap, req.PinnedIDs)
	if err != nil {
		return Report{}, err
	}
	cost, err := NewCostModel(req.CircuityFactor)
	if err != nil {
		return Report{}, err
	}
	in, err := NewInstance(snap.GenerationID, pinned, req.Vehicles, cost, req.ClosedTours())
	if err != nil {
		return Report{}, err
	}
	budget := req.TimeBudget
	if budget == 0 {
		budget = DefaultTimeBudget
	}
	deadline := time.Now().Add(budget)

	m, err := cost.Matrix(ctx, in.Points(), req.Workers)
	if err != nil {
		return Report{}, fmt.Errorf("plan: %w", err)
	}
	seed := Construct(in, m, req.Seed)
	best, stats := Improve(ctx, in, m, seed, Options{Deadline: deadline, MaxSweeps: req.MaxSweeps})

	plan := in.RoutePlan(best)
	plan.ID = uuid.New().String()
	plan.GeneratedAt = time.Now().UTC()
	rep := Evaluate(plan, in)
	rep.Stats = &stats
	return rep, nil
}

// resolvePins maps pinned IDs to snapshot hotspots in request order. Repeated
// IDs are collapsed to their first occurrence.
func resolvePins(snap Snapshot, ids []string) ([]hotspot.Hotspot, error) {
	if len(ids) == 0 {
		return nil, &errs.EmptyInputError{Input: "pinned hotspots"}
	}
	byID := make(map[string]int, len(snap.Hotspots))
	for i, h := range snap.Hotspots {
		byID[h.ID] = i
	}
	var unknown []string
	seen := make(map[string]struct{}, len(ids))
	out := make([]hotspot.Hotspot, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		i, ok := byID[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		out = append(out, snap.Hotspots[i])
	}
	if len(unknown) > 0 {
		return nil, &errs.UnknownHotspotError{Generation: snap.GenerationID, IDs: unknown}
	}
	return out, nil
}

// RoutePlan converts a search solution into the output plan. Empty routes are
// kept so every vehicle appears. Stop loads are filled in by Evaluate.
func (in *Instance) RoutePlan(s *Solution) RoutePlan {
	plan := RoutePlan{
		GenerationID: in.GenerationID,
		Routes:       make([]Route, 0, len(s.Routes)),
		Unassigned:   append([]Unassigned{}, s.Unassigned...),
	}
	for _, rs := range s.Routes {
		r := Route{VehicleID: in.Vehicles[rs.Vehicle].ID, Stops: make([]RouteStop, len(rs.Stops)), ViolationStop: -1, Feasible: true}
		for k, h := range rs.Stops {
			r.Stops[k] = RouteStop{HotspotID: in.Hotspots[h].ID, ArrivalOrder: k}
		}
		plan.Routes = append(plan.Routes, r)
	}
	return plan
}
