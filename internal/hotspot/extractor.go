// Package hotspot collapses raw waste observations into hotspots using
// density-based clustering over a grid spatial index.
//
// Clustering is independent of input order. Observations are first sorted
// into a canonical order (lat, lon, density, timestamp, input position) and
// every tie is broken by the lower canonical index:
//   - clusters are discovered from core points in ascending canonical order;
//   - a border point joins the cluster of its lowest-index core neighbor.
package hotspot

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ecoroute/internal/errs"
	"ecoroute/internal/geo"
	"ecoroute/internal/spatial"
)

const (
	labelUnvisited = 0
	labelNoise     = -1
)

// Extractor runs density clustering with fixed parameters.
type Extractor struct {
	params Params
	now    func() time.Time
}

// NewExtractor creates an extractor. Zero KgPerDensityUnit takes the default.
func NewExtractor(params Params) (*Extractor, error) {
	params = params.withDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{params: params, now: time.Now}, nil
}

// Params returns the effective parameters.
func (e *Extractor) Params() Params { return e.params }

// Extract is shorthand for NewExtractor(params) followed by Extract.
func Extract(observations []Observation, params Params) (Result, error) {
	e, err := NewExtractor(params)
	if err != nil {
		return Result{}, err
	}
	return e.Extract(observations)
}

// Extract clusters observations into a new hotspot generation.
func (e *Extractor) Extract(observations []Observation) (Result, error) {
	n := len(observations)
	if n == 0 {
		return Result{}, &errs.EmptyInputError{Input: "observations"}
	}
	for i, o := range observations {
		if !o.Location.Valid() {
			return Result{}, fmt.Errorf("%w: observation %d has invalid location %s", ErrInvalidParams, i, o.Location)
		}
		if !(o.WasteDensity >= 0) {
			return Result{}, fmt.Errorf("%w: observation %d has negative or NaN wasteDensity", ErrInvalidParams, i)
		}
	}
	if n < e.params.MinPoints {
		return Result{}, &errs.InsufficientDataError{Have: n, Need: e.params.MinPoints}
	}

	order := canonicalOrder(observations)
	pts := make([]geo.Point, n)
	for ci, oi := range order {
		pts[ci] = observations[oi].Location
	}
	si := spatial.NewIndex(e.params.NeighborhoodRadius)
	si.Build(pts)

	// only core flags are kept; neighbor lists are recomputed on demand so
	// memory stays linear for dense input
	radius := e.params.NeighborhoodRadius
	core := make([]bool, n)
	for i := range pts {
		core[i] = si.CountWithin(pts[i], radius) >= e.params.MinPoints
	}

	labels := make([]int, n)
	clusterID := 0
	for i := 0; i < n; i++ {
		if !core[i] || labels[i] != labelUnvisited {
			continue
		}
		clusterID++
		labels[i] = clusterID
		queue := []int{i}
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			// component membership does not depend on visiting order
			si.EachWithin(pts[j], radius, func(nb int) {
				if core[nb] && labels[nb] == labelUnvisited {
					labels[nb] = clusterID
					queue = append(queue, nb)
				}
			})
		}
	}
	if clusterID == 0 {
		return Result{}, &errs.InsufficientDataError{Have: n, Need: e.params.MinPoints, Reason: "no core points within neighborhood radius"}
	}

	noise := 0
	for i := 0; i < n; i++ {
		if core[i] {
			continue
		}
		owner := -1
		si.EachWithin(pts[i], radius, func(nb int) {
			if core[nb] && (owner < 0 || nb < owner) {
				owner = nb
			}
		})
		if owner < 0 {
			labels[i] = labelNoise
			noise++
			continue
		}
		labels[i] = labels[owner]
	}

	maxDensity := 0.0
	for _, o := range observations {
		maxDensity = max(maxDensity, o.WasteDensity)
	}

	genID := uuid.New().String()
	hotspots := e.buildHotspots(observations, order, labels, clusterID, maxDensity, genID)

	out := make([]int, n)
	for ci, oi := range order {
		if labels[ci] == labelNoise {
			out[oi] = -1
			continue
		}
		out[oi] = labels[ci] - 1
	}

	return Result{
		GenerationID: genID,
		CreatedAt:    e.now().UTC(),
		Params:       e.params,
		Hotspots:     hotspots,
		Labels:       out,
		NoiseCount:   noise,
	}, nil
}

func (e *Extractor) buildHotspots(observations []Observation, order, labels []int, clusters int, maxDensity float64, genID string) []Hotspot {
	members := make([][]int, clusters+1)
	for ci, l := range labels {
		if l > 0 {
			members[l] = append(members[l], order[ci])
		}
	}
	out := make([]Hotspot, 0, clusters)
	for cid := 1; cid <= clusters; cid++ {
		m := members[cid]
		lats := make([]float64, len(m))
		lons := make([]float64, len(m))
		dens := make([]float64, len(m))
		for k, oi := range m {
			lats[k] = observations[oi].Location.Lat
			lons[k] = observations[oi].Location.Lon
			dens[k] = observations[oi].WasteDensity
		}
		severity := 0.0
		if maxDensity > 0 {
			severity = stat.Mean(dens, nil) / maxDensity
		}
		severity = min(max(severity, 0), 1)
		out = append(out, Hotspot{
			ID:                uuid.New().String(),
			GenerationID:      genID,
			Centroid:          geo.Point{Lat: stat.Mean(lats, nil), Lon: stat.Mean(lons, nil)},
			SeverityScore:     severity,
			EstimatedVolumeKg: floats.Sum(dens) * e.params.KgPerDensityUnit,
			MemberCount:       len(m),
			RiskLevel:         LevelFor(severity),
		})
	}
	return out
}

// canonicalOrder returns input positions sorted by (lat, lon, density,
// timestamp, position).
func canonicalOrder(obs []Observation) []int {
	order := make([]int, len(obs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		oa, ob := obs[order[a]], obs[order[b]]
		if oa.Location.Lat != ob.Location.Lat {
			return oa.Location.Lat < ob.Location.Lat
		}
		if oa.Location.Lon != ob.Location.Lon {
			return oa.Location.Lon < ob.Location.Lon
		}
		if oa.WasteDensity != ob.WasteDensity {
			return oa.WasteDensity < ob.WasteDensity
		}
		if !oa.Timestamp.Equal(ob.Timestamp) {
			return oa.Timestamp.Before(ob.Timestamp)
		}
		return order[a] < order[b]
	})
	return order
}
