package hotspot

import (
	"time"

	"ecoroute/internal/geo"
)

// Observation is one geotagged waste reading. The extractor never mutates it.
type Observation struct {
	Location     geo.Point `json:"location"`
	WasteDensity float64   `json:"wasteDensity"`
	Timestamp    time.Time `json:"timestamp"`
}

// RiskLevel bands a severity score the same way the prediction endpoints
// band their risk outputs.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// LevelFor returns the risk band for a severity in [0,1].
func LevelFor(severity float64) RiskLevel {
	switch {
	case severity > 0.6:
		return RiskHigh
	case severity > 0.3:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Hotspot summarizes one density cluster of observations.
type Hotspot struct {
	ID                string    `json:"id"`
	GenerationID      string    `json:"generationId"`
	Centroid          geo.Point `json:"centroid"`
	SeverityScore     float64   `json:"severityScore"`
	EstimatedVolumeKg float64   `json:"estimatedVolumeKg"`
	MemberCount       int       `json:"memberCount"`
	RiskLevel         RiskLevel `json:"riskLevel"`
}

// Result is the output of one clustering run. Labels is indexed like the
// input observations: the position of the owning hotspot in Hotspots, or -1
// for noise.
type Result struct {
	GenerationID string    `json:"generationId"`
	CreatedAt    time.Time `json:"createdAt"`
	Params       Params    `json:"params"`
	Hotspots     []Hotspot `json:"hotspots"`
	Labels       []int     `json:"labels,omitempty"`
	NoiseCount   int       `json:"noiseCount"`
}
