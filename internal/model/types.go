// Package model holds the HTTP wire types and their conversion to core types.
package model

import (
	"time"

	"ecoroute/internal/geo"
	"ecoroute/internal/hotspot"
	"ecoroute/internal/opt"
	"ecoroute/internal/service"
)

type ObservationIn struct {
	Lat          float64    `json:"lat"`
	Lon          float64    `json:"lon"`
	WasteDensity float64    `json:"wasteDensity"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

func (o ObservationIn) Observation() hotspot.Observation {
	obs := hotspot.Observation{Location: geo.Point{Lat: o.Lat, Lon: o.Lon}, WasteDensity: o.WasteDensity}
	if o.Timestamp != nil {
		obs.Timestamp = *o.Timestamp
	}
	return obs
}

type ParamsIn struct {
	NeighborhoodRadius float64 `json:"neighborhoodRadius"`
	MinPoints          int     `json:"minPoints"`
	KgPerDensityUnit   float64 `json:"kgPerDensityUnit,omitempty"`
}

type ExtractRequest struct {
	Observations []ObservationIn `json:"observations"`
	Params       *ParamsIn       `json:"params,omitempty"`
}

// Convert returns the observations and the optional parameter override.
func (r ExtractRequest) Convert() ([]hotspot.Observation, *hotspot.Params) {
	obs := make([]hotspot.Observation, len(r.Observations))
	for i, o := range r.Observations {
		obs[i] = o.Observation()
	}
	if r.Params == nil {
		return obs, nil
	}
	return obs, &hotspot.Params{
		NeighborhoodRadius: r.Params.NeighborhoodRadius,
		MinPoints:          r.Params.MinPoints,
		KgPerDensityUnit:   r.Params.KgPerDensityUnit,
	}
}

type PinsRequest struct {
	GenerationID string   `json:"generationId,omitempty"`
	HotspotIDs   []string `json:"hotspotIds"`
}

type PlanRequest struct {
	GenerationID   string        `json:"generationId,omitempty"`
	SessionID      string        `json:"sessionId,omitempty"`
	PinnedIDs      []string      `json:"pinnedIds,omitempty"`
	Vehicles       []opt.Vehicle `json:"vehicles"`
	TimeBudgetMs   int           `json:"timeBudgetMs,omitempty"`
	CircuityFactor float64       `json:"circuityFactor,omitempty"`
	ReturnToDepot  *bool         `json:"returnToDepot,omitempty"`
	MaxSweeps      int           `json:"maxSweeps,omitempty"`
	Seed           string        `json:"seed,omitempty"`
}

func (r PlanRequest) Input() service.PlanInput {
	return service.PlanInput{
		GenerationID:   r.GenerationID,
		SessionID:      r.SessionID,
		PinnedIDs:      r.PinnedIDs,
		Vehicles:       r.Vehicles,
		TimeBudget:     time.Duration(r.TimeBudgetMs) * time.Millisecond,
		CircuityFactor: r.CircuityFactor,
		ReturnToDepot:  r.ReturnToDepot,
		MaxSweeps:      r.MaxSweeps,
		Seed:           opt.SeedStrategy(r.Seed),
	}
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
}
