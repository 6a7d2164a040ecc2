// Package catalog persists hotspot generations, per-session pin sets and
// generated route plans. Every value handed out is a deep copy, so callers
// can treat it as an immutable snapshot.
package catalog

import (
	"context"
	"errors"
	"time"

	"ecoroute/internal/hotspot"
	"ecoroute/internal/opt"
)

var ErrNotFound = errors.New("not found")

// Generation is one clustering run and the hotspots it minted.
type Generation struct {
	ID               string            `json:"id"`
	CreatedAt        time.Time         `json:"createdAt"`
	Params           hotspot.Params    `json:"params"`
	ObservationCount int               `json:"observationCount"`
	NoiseCount       int               `json:"noiseCount"`
	Hotspots         []hotspot.Hotspot `json:"hotspots"`
}

// GenerationInfo summarises a generation without its hotspots.
type GenerationInfo struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"createdAt"`
	ObservationCount int       `json:"observationCount"`
	NoiseCount       int       `json:"noiseCount"`
	HotspotCount     int       `json:"hotspotCount"`
}

// FromResult builds a Generation from an extraction result.
func FromResult(res hotspot.Result, observations int) Generation {
	return Generation{
		ID:               res.GenerationID,
		CreatedAt:        res.CreatedAt,
		Params:           res.Params,
		ObservationCount: observations,
		NoiseCount:       res.NoiseCount,
		Hotspots:         append([]hotspot.Hotspot(nil), res.Hotspots...),
	}
}

// Info returns the summary of g.
func (g Generation) Info() GenerationInfo {
	return GenerationInfo{
		ID:               g.ID,
		CreatedAt:        g.CreatedAt,
		ObservationCount: g.ObservationCount,
		NoiseCount:       g.NoiseCount,
		HotspotCount:     len(g.Hotspots),
	}
}

// Snapshot returns the planner's view of g.
func (g Generation) Snapshot() opt.Snapshot {
	return opt.Snapshot{GenerationID: g.ID, Hotspots: append([]hotspot.Hotspot(nil), g.Hotspots...)}
}

func (g Generation) clone() Generation {
	g.Hotspots = append([]hotspot.Hotspot(nil), g.Hotspots...)
	return g
}

// Pins is the set of hotspots a session has selected for planning.
type Pins struct {
	SessionID    string    `json:"sessionId"`
	GenerationID string    `json:"generationId"`
	HotspotIDs   []string  `json:"hotspotIds"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (p Pins) clone() Pins {
	p.HotspotIDs = append([]string{}, p.HotspotIDs...)
	return p
}

// Catalog is the persistence interface used by the service layer.
type Catalog interface {
	// Generations
	SaveGeneration(ctx context.Context, g Generation) error
	Generation(ctx context.Context, id string) (Generation, error)
	CurrentGeneration(ctx context.Context) (Generation, error)
	ListGenerations(ctx context.Context, limit int) ([]GenerationInfo, error)

	// Session pins
	SetPins(ctx context.Context, sessionID, generationID string, hotspotIDs []string) (Pins, error)
	Pins(ctx context.Context, sessionID string) (Pins, error)

	// Plans
	SavePlan(ctx context.Context, rep opt.Report) error
	GetPlan(ctx context.Context, id string) (opt.Report, error)
	ListPlans(ctx context.Context, generationID string, limit int) ([]opt.Report, error)

	Ping(ctx context.Context) error
	Close() error
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

func clonePlan(rep opt.Report) opt.Report {
	rep.Plan = rep.Plan.Clone()
	rep.Issues = append([]opt.Issue{}, rep.Issues...)
	if rep.Stats != nil {
		s := *rep.Stats
		rep.Stats = &s
	}
	return rep
}
