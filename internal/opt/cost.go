package opt

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"ecoroute/internal/geo"
)

// DefaultCircuity scales great-circle distance to approximate road distance.
const DefaultCircuity = 1.3

// CostModel is the road-distance proxy used by every routing stage.
type CostModel struct {
	circuity float64
}

// NewCostModel returns a cost model. Zero circuity takes DefaultCircuity.
func NewCostModel(circuity float64) (CostModel, error) {
	if circuity == 0 {
		circuity = DefaultCircuity
	}
	if math.IsNaN(circuity) || math.IsInf(circuity, 0) || circuity < 1 {
		return CostModel{}, fmt.Errorf("%w: circuity factor must be >= 1, got %v", ErrInvalidRequest, circuity)
	}
	return CostModel{circuity: circuity}, nil
}

// Circuity returns the distance multiplier.
func (c CostModel) Circuity() float64 { return c.circuity }

// Cost returns the travel cost in km between a and b.
func (c CostModel) Cost(a, b geo.Point) float64 {
	if a == b {
		return 0
	}
	return geo.HaversineKm(a, b) * c.circuity
}

// Matrix is a dense symmetric cost matrix.
type Matrix struct {
	n    int
	data []float64
}

// Len returns the matrix dimension.
func (m *Matrix) Len() int { return m.n }

// At returns the cost from i to j.
func (m *Matrix) At(i, j int) float64 { return m.data[i*m.n+j] }

// Matrix computes all pairwise costs. Rows are sharded across at most workers
// goroutines; row i fills cells (i,j) and (j,i) for j > i so shards never
// write the same cell. workers <= 0 uses GOMAXPROCS.
func (c CostModel) Matrix(ctx context.Context, pts []geo.Point, workers int) (*Matrix, error) {
	n := len(pts)
	m := &Matrix{n: n, data: make([]float64, n*n)}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for j := i + 1; j < n; j++ {
				d := c.Cost(pts[i], pts[j])
				m.data[i*n+j] = d
				m.data[j*n+i] = d
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("cost matrix: %w", err)
	}
	return m, nil
}
