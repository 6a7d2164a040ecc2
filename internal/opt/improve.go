package opt

import (
	"context"
	"time"
)

// improveEpsilon is the minimum distance reduction for a move to count.
const improveEpsilon = 1e-9

// Options bound a local search run. A zero Deadline and zero MaxSweeps mean
// the search stops only at a local optimum or on cancellation.
type Options struct {
	Deadline  time.Time
	MaxSweeps int
}

// ImproveStats summarises a local search run.
type ImproveStats struct {
	Sweeps        int           `json:"sweeps"`
	Evaluations   int           `json:"evaluations"`
	TwoOptMoves   int           `json:"twoOptMoves"`
	RelocateMoves int           `json:"relocateMoves"`
	ExchangeMoves int           `json:"exchangeMoves"`
	StartDistance float64       `json:"startDistance"`
	FinalDistance float64       `json:"finalDistance"`
	TimedOut      bool          `json:"timedOut"`
	Cancelled     bool          `json:"cancelled"`
	Elapsed       time.Duration `json:"elapsedNs"`
}

// Moves returns the total number of accepted moves.
func (s ImproveStats) Moves() int { return s.TwoOptMoves + s.RelocateMoves + s.ExchangeMoves }

type improver struct {
	ctx   context.Context
	in    *Instance
	m     *Matrix
	opts  Options
	sol   *Solution
	stats ImproveStats
	halt  bool
}

// Improve runs first-improvement local search (2-opt, relocate, exchange)
// over a copy of sol. The returned solution is never worse than sol and is
// always capacity-feasible when sol is.
func Improve(ctx context.Context, in *Instance, m *Matrix, sol *Solution, opts Options) (*Solution, ImproveStats) {
	start := time.Now()
	im := &improver{ctx: ctx, in: in, m: m, opts: opts, sol: sol.clone()}
	im.stats.StartDistance = in.TotalDistance(m, im.sol)
	for !im.halt {
		if opts.MaxSweeps > 0 && im.stats.Sweeps >= opts.MaxSweeps {
			break
		}
		im.stats.Sweeps++
		improved := im.twoOptSweep()
		improved = im.relocateSweep() || improved
		improved = im.exchangeSweep() || improved
		if !improved {
			break
		}
	}
	im.stats.FinalDistance = in.TotalDistance(m, im.sol)
	im.stats.Elapsed = time.Since(start)
	return im.sol, im.stats
}

// stop is checked before every move evaluation.
func (im *improver) stop() bool {
	if im.halt {
		return true
	}
	if im.ctx.Err() != nil {
		im.stats.Cancelled = true
		im.halt = true
	} else if !im.opts.Deadline.IsZero() && !time.Now().Before(im.opts.Deadline) {
		im.stats.TimedOut = true
		im.halt = true
	}
	if !im.halt {
		im.stats.Evaluations++
	}
	return im.halt
}

// twoOptSweep reverses stop segments [i,k] inside each route.
func (im *improver) twoOptSweep() bool {
	in, m := im.in, im.m
	improved := false
	for ri := range im.sol.Routes {
		r := &im.sol.Routes[ri]
		n := len(r.Stops)
		for i := 0; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				if im.stop() {
					return improved
				}
				prev := in.prevNode(*r, i)
				next := in.nextNode(*r, k+1)
				a, b := r.Stops[i], r.Stops[k]
				delta := m.At(prev, b) + edge(m, a, next) - m.At(prev, a) - edge(m, b, next)
				if delta < -improveEpsilon {
					twoOptSwap(r.Stops, i, k)
					im.stats.TwoOptMoves++
					improved = true
				}
			}
		}
	}
	return improved
}

// relocateSweep moves a single stop to another route.
func (im *improver) relocateSweep() bool {
	in, m := im.in, im.m
	improved := false
	for ra := range im.sol.Routes {
		for i := 0; i < len(im.sol.Routes[ra].Stops); i++ {
			moved := false
			for rb := range im.sol.Routes {
				if rb == ra {
					continue
				}
				src, dst := &im.sol.Routes[ra], &im.sol.Routes[rb]
				x := src.Stops[i]
				vol := in.volume(x)
				if dst.Load+vol > in.Vehicles[dst.Vehicle].CapacityKg {
					continue
				}
				saved := in.deltaRemove(m, *src, i)
				for pos := 0; pos <= len(dst.Stops); pos++ {
					if im.stop() {
						return improved
					}
					if in.deltaInsert(m, *dst, pos, x)-saved < -improveEpsilon {
						src.Stops = removeAt(src.Stops, i)
						src.Load -= vol
						dst.Stops = insertAt(dst.Stops, pos, x)
						dst.Load += vol
						im.stats.RelocateMoves++
						improved, moved = true, true
						break
					}
				}
				if moved {
					break
				}
			}
			if moved {
				// position i now holds the next stop
				i--
			}
		}
	}
	return improved
}

// exchangeSweep swaps one stop between two routes.
func (im *improver) exchangeSweep() bool {
	in, m := im.in, im.m
	improved := false
	for ra := range im.sol.Routes {
		for rb := ra + 1; rb < len(im.sol.Routes); rb++ {
			a, b := &im.sol.Routes[ra], &im.sol.Routes[rb]
			capA := in.Vehicles[a.Vehicle].CapacityKg
			capB := in.Vehicles[b.Vehicle].CapacityKg
			for i := range a.Stops {
				for j := range b.Stops {
					if im.stop() {
						return improved
					}
					x, y := a.Stops[i], b.Stops[j]
					loadA := a.Load - in.volume(x) + in.volume(y)
					loadB := b.Load - in.volume(y) + in.volume(x)
					if loadA > capA || loadB > capB {
						continue
					}
					delta := in.deltaReplace(m, *a, i, y) + in.deltaReplace(m, *b, j, x)
					if delta < -improveEpsilon {
						a.Stops[i], b.Stops[j] = y, x
						a.Load, b.Load = loadA, loadB
						im.stats.ExchangeMoves++
						improved = true
					}
				}
			}
		}
	}
	return improved
}

// twoOptSwap reverses ord[i..k] in place.
func twoOptSwap(ord []int, i, k int) {
	for a, b := i, k; a < b; a, b = a+1, b-1 {
		ord[a], ord[b] = ord[b], ord[a]
	}
}
