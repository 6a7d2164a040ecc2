package spatial

import (
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecoroute/internal/errs"
	"ecoroute/internal/geo"
)

func randomPoints(n int, seed int64) []geo.Point {
	rng := rand.New(rand.NewSource(seed))
	pts := make([]geo.Point, n)
	for i := range pts {
		pts[i] = geo.Point{Lat: 12.9 + rng.Float64()*0.2, Lon: 77.5 + rng.Float64()*0.2}
	}
	return pts
}

func bruteWithin(pts []geo.Point, p geo.Point, r float64) []int {
	out := []int{}
	for i, q := range pts {
		if geo.PlanarDistance(p, q) <= r {
			out = append(out, i)
		}
	}
	return out
}

func TestWithinMatchesBruteForce(t *testing.T) {
	pts := randomPoints(400, 7)
	for _, cellSize := range []float64{0.005, 0.01, 0.05} {
		si := NewIndex(cellSize)
		si.Build(pts)
		for _, r := range []float64{0.002, 0.01, 0.03} {
			for i := 0; i < len(pts); i += 37 {
				assert.Equal(t, bruteWithin(pts, pts[i], r), si.Within(pts[i], r), "cell=%v r=%v i=%d", cellSize, r, i)
			}
		}
	}
}

func TestCountAndEachWithinAgreeWithWithin(t *testing.T) {
	pts := randomPoints(300, 3)
	si := NewIndex(0.01)
	si.Build(pts)
	for i := 0; i < len(pts); i += 17 {
		want := si.Within(pts[i], 0.02)
		assert.Equal(t, len(want), si.CountWithin(pts[i], 0.02))
		var got []int
		si.EachWithin(pts[i], 0.02, func(idx int) { got = append(got, idx) })
		sort.Ints(got)
		assert.Equal(t, want, got)
	}
	assert.Zero(t, si.CountWithin(pts[0], -1))
}

func TestWithinIncludesSelfAndNegativeCoordinates(t *testing.T) {
	pts := []geo.Point{{Lat: -0.001, Lon: -0.001}, {Lat: 0.001, Lon: 0.001}, {Lat: 5, Lon: 5}}
	si := NewIndex(0.01)
	si.Build(pts)
	assert.Equal(t, []int{0, 1}, si.Within(pts[0], 0.01))
	assert.Equal(t, []int{2}, si.Within(pts[2], 0.01))
}

func TestNearestMatchesBruteForce(t *testing.T) {
	pts := randomPoints(300, 11)
	si := NewIndex(0.01)
	si.Build(pts)
	q := geo.Point{Lat: 13.0, Lon: 77.6}
	got, err := si.Nearest(q, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)

	assert.Equal(t, bruteNearest(pts, q, 5), got)
}

func bruteNearest(pts []geo.Point, q geo.Point, k int) []Neighbor {
	all := make([]Neighbor, len(pts))
	for i, p := range pts {
		all[i] = Neighbor{Index: i, Distance: geo.PlanarDistance(q, p)}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Distance != all[j].Distance {
			return all[i].Distance < all[j].Distance
		}
		return all[i].Index < all[j].Index
	})
	return all[:min(k, len(all))]
}

// Dense points keep the occupied box smaller than the point count, so these
// queries take the ring walk rather than the linear scan.
func TestNearestRingWalkMatchesBruteForce(t *testing.T) {
	pts := randomPoints(2000, 5)
	si := NewIndex(0.02)
	si.Build(pts)
	queries := []geo.Point{
		{Lat: 13.0, Lon: 77.6},
		{Lat: 12.9, Lon: 77.5},
		{Lat: 13.5, Lon: 77.6},
		{Lat: 12.0, Lon: 79.0},
		{Lat: -40, Lon: -120},
	}
	for _, q := range queries {
		for _, k := range []int{1, 7, 50} {
			got, err := si.Nearest(q, k)
			require.NoError(t, err)
			assert.Equal(t, bruteNearest(pts, q, k), got, "q=%v k=%d", q, k)
		}
	}
}

func TestNearestDistantQueryIsBounded(t *testing.T) {
	cases := map[string]struct {
		cell float64
		pts  []geo.Point
	}{
		"ring walk": {0.01, []geo.Point{{Lat: 12.971, Lon: 77.591}, {Lat: 12.972, Lon: 77.592}}},
		"linear":    {0.0001, []geo.Point{{Lat: 12.97, Lon: 77.59}, {Lat: -33.9, Lon: 151.2}, {Lat: 51.5, Lon: -0.12}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			pts := tc.pts
			si := NewIndex(tc.cell)
			si.Build(pts)
			for _, q := range []geo.Point{{Lat: 40, Lon: 60}, {Lat: 19.07, Lon: 72.87}, {Lat: -89, Lon: 179}} {
				start := time.Now()
				got, err := si.Nearest(q, 2)
				require.NoError(t, err)
				assert.Less(t, time.Since(start), time.Second, "q=%v", q)
				assert.Equal(t, bruteNearest(pts, q, 2), got, "q=%v", q)
			}
		})
	}
}

func TestNearestFarQueryAndClamp(t *testing.T) {
	pts := []geo.Point{{Lat: 1, Lon: 1}, {Lat: 1.001, Lon: 1}}
	si := NewIndex(0.01)
	si.Build(pts)
	got, err := si.Nearest(geo.Point{Lat: 3, Lon: 3}, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Index)
}

func TestNearestEmptyIndex(t *testing.T) {
	si := NewIndex(0.01)
	si.Build(nil)
	_, err := si.Nearest(geo.Point{}, 1)
	var empty *errs.EmptyInputError
	require.True(t, errors.As(err, &empty))
	assert.Empty(t, si.Within(geo.Point{}, 1))
}
