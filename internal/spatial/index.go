// Package spatial provides a uniform grid bucket index for radius and
// k-nearest queries over a fixed point set.
package spatial

import (
	"math"
	"sort"

	"ecoroute/internal/errs"
	"ecoroute/internal/geo"
)

// DefaultCellSize is used when an index is created with a non-positive cell size.
const DefaultCellSize = 0.01

type cell struct{ x, y int64 }

// Index buckets points into square cells of CellSize degrees. Cell size
// should roughly match the radius used for Within queries.
// An Index is read-only after Build and safe for concurrent readers.
type Index struct {
	CellSize float64
	points   []geo.Point
	grid     map[cell][]int
	minCell  cell
	maxCell  cell
}

// NewIndex creates an empty index with the given cell size.
func NewIndex(cellSize float64) *Index {
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		cellSize = DefaultCellSize
	}
	return &Index{CellSize: cellSize, grid: map[cell][]int{}}
}

// Build populates the index. Indices returned by queries refer to positions
// in points. The slice is retained, so callers must not mutate it afterwards.
func (si *Index) Build(points []geo.Point) {
	si.points = points
	si.grid = make(map[cell][]int, len(points)/4+1)
	for i, p := range points {
		c := si.cellOf(p)
		if i == 0 {
			si.minCell, si.maxCell = c, c
		} else {
			si.minCell.x = min(si.minCell.x, c.x)
			si.minCell.y = min(si.minCell.y, c.y)
			si.maxCell.x = max(si.maxCell.x, c.x)
			si.maxCell.y = max(si.maxCell.y, c.y)
		}
		si.grid[c] = append(si.grid[c], i)
	}
}

// Len returns the number of indexed points.
func (si *Index) Len() int { return len(si.points) }

// Point returns the indexed point at i.
func (si *Index) Point(i int) geo.Point { return si.points[i] }

func (si *Index) cellOf(p geo.Point) cell {
	return cell{
		x: int64(math.Floor(p.Lat / si.CellSize)),
		y: int64(math.Floor(p.Lon / si.CellSize)),
	}
}

// Within returns the indices of all points whose planar distance to p is at
// most r, in ascending index order. An empty index yields no neighbors.
func (si *Index) Within(p geo.Point, r float64) []int {
	if len(si.points) == 0 || r < 0 {
		return nil
	}
	out := []int{}
	si.EachWithin(p, r, func(idx int) { out = append(out, idx) })
	sort.Ints(out)
	return out
}

// CountWithin returns len(Within(p, r)) without materializing the indices.
func (si *Index) CountWithin(p geo.Point, r float64) int {
	n := 0
	si.EachWithin(p, r, func(int) { n++ })
	return n
}

// EachWithin calls fn for every point within planar distance r of p, in no
// particular order, without allocating.
func (si *Index) EachWithin(p geo.Point, r float64, fn func(int)) {
	if len(si.points) == 0 || r < 0 {
		return
	}
	r2 := r * r
	reach := int64(math.Ceil(r / si.CellSize))
	if reach < 1 {
		reach = 1
	}
	c := si.cellOf(p)
	for dx := -reach; dx <= reach; dx++ {
		for dy := -reach; dy <= reach; dy++ {
			for _, idx := range si.grid[cell{c.x + dx, c.y + dy}] {
				q := si.points[idx]
				dLat := q.Lat - p.Lat
				dLon := q.Lon - p.Lon
				if dLat*dLat+dLon*dLon <= r2 {
					fn(idx)
				}
			}
		}
	}
}

// Neighbor is a query result with its planar distance from the query point.
type Neighbor struct {
	Index    int
	Distance float64
}

// Nearest returns up to k points closest to p ordered by (distance, index).
// Cells are scanned in rings of growing Chebyshev radius around p's cell,
// starting at the first ring that touches the occupied bounding box and
// visiting only ring cells inside it, until no unscanned cell can hold a
// closer point. When the box spans more cells than there are points a linear
// scan is cheaper and is used instead. It fails with EmptyInputError when the
// index holds no points.
func (si *Index) Nearest(p geo.Point, k int) ([]Neighbor, error) {
	if len(si.points) == 0 {
		return nil, &errs.EmptyInputError{Input: "spatial index"}
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}
	if k > len(si.points) {
		k = len(si.points)
	}
	spanX := si.maxCell.x - si.minCell.x + 1
	spanY := si.maxCell.y - si.minCell.y + 1
	if float64(spanX)*float64(spanY) > float64(len(si.points)) {
		return si.nearestLinear(p, k), nil
	}

	c := si.cellOf(p)
	// rings below minRing miss the box, rings beyond maxRing hold no cells
	minRing := max(si.minCell.x-c.x, c.x-si.maxCell.x, si.minCell.y-c.y, c.y-si.maxCell.y, 0)
	maxRing := max(
		abs64(c.x-si.minCell.x), abs64(si.maxCell.x-c.x),
		abs64(c.y-si.minCell.y), abs64(si.maxCell.y-c.y),
	)
	cands := []Neighbor{}
	for ring := minRing; ring <= maxRing; ring++ {
		si.scanRing(c, ring, func(idx int) {
			cands = append(cands, Neighbor{Index: idx, Distance: geo.PlanarDistance(p, si.points[idx])})
		})
		if len(cands) < k {
			continue
		}
		sortNeighbors(cands)
		// every point in ring+1 or beyond is at least ring*CellSize away
		if cands[k-1].Distance <= float64(ring)*si.CellSize {
			return append([]Neighbor(nil), cands[:k]...), nil
		}
	}
	sortNeighbors(cands)
	return append([]Neighbor(nil), cands[:k]...), nil
}

func (si *Index) nearestLinear(p geo.Point, k int) []Neighbor {
	all := make([]Neighbor, len(si.points))
	for i, q := range si.points {
		all[i] = Neighbor{Index: i, Distance: geo.PlanarDistance(p, q)}
	}
	sortNeighbors(all)
	return append([]Neighbor(nil), all[:k]...)
}

// scanRing visits the perimeter cells at Chebyshev distance ring from c that
// lie inside the occupied bounding box.
func (si *Index) scanRing(c cell, ring int64, fn func(int)) {
	visit := func(x, y int64) {
		for _, idx := range si.grid[cell{x, y}] {
			fn(idx)
		}
	}
	if ring == 0 {
		visit(c.x, c.y)
		return
	}
	loY, hiY := max(c.y-ring, si.minCell.y), min(c.y+ring, si.maxCell.y)
	for _, x := range [2]int64{c.x - ring, c.x + ring} {
		if x < si.minCell.x || x > si.maxCell.x {
			continue
		}
		for y := loY; y <= hiY; y++ {
			visit(x, y)
		}
	}
	loX, hiX := max(c.x-ring+1, si.minCell.x), min(c.x+ring-1, si.maxCell.x)
	for _, y := range [2]int64{c.y - ring, c.y + ring} {
		if y < si.minCell.y || y > si.maxCell.y {
			continue
		}
		for x := loX; x <= hiX; x++ {
			visit(x, y)
		}
	}
}

func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Distance != ns[j].Distance {
			return ns[i].Distance < ns[j].Distance
		}
		return ns[i].Index < ns[j].Index
	})
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
