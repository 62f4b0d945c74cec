package locality

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/locality/internal/box"
	"github.com/banshee-data/locality/internal/monitoring"
)

// QueryKNearest returns the k closest reference points of every query
// point, each group sorted by ascending distance with ties broken by
// reference index.
//
// The search starts from a radius estimated from the reference density
// and widens by KNNGrowth, rebuilding the cell list and rescanning only
// the query points still short of k candidates, until the radius reaches
// the half-box cap. Points still short after that are resolved by an exact
// minimum-image scan of the whole reference set. ErrInsufficientNeighbors
// is returned when a query point has fewer than k reference points left
// after the self policy.
func (e *Engine) QueryKNearest(b box.Box, points, queryPoints []r3.Vec, k int, self SelfPolicy) (*NeighborList, error) {
	return e.nearest(e.begin(ModeNearest), b, points, queryPoints, k, self, nil)
}

// InitialRadius returns the start radius of a k-nearest search over n
// reference points: KNNScale times the radius of a ball (a disc in 2D)
// expected to hold k points at the mean density, capped below the half-box
// limit.
func (e *Engine) InitialRadius(b box.Box, n, k int) float64 {
	rcap := radiusCap(b)
	if n <= 0 || k <= 0 {
		return rcap
	}
	rho := float64(n) / b.Volume()
	var r float64
	if b.Is2D() {
		r = math.Sqrt(float64(k) / (math.Pi * rho))
	} else {
		r = math.Cbrt(3 * float64(k) / (4 * math.Pi * rho))
	}
	return math.Min(e.opts.KNNScale*r, rcap)
}

// radiusCap is the largest radius a cell-list scan may use.
func radiusCap(b box.Box) float64 {
	return math.Nextafter(b.MinHalfDimension(), 0)
}

func (e *Engine) nearest(run *queryRun, b box.Box, points, queryPoints []r3.Vec, k int, self SelfPolicy, cl *CellList) (*NeighborList, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: num_neighbors must be positive, got %d", ErrInvalidCutoff, k)
	}
	if err := checkSets(b, points, queryPoints); err != nil {
		return nil, err
	}
	if len(queryPoints) == 0 {
		run.advance(stateIndexBuilt)
		run.advance(stateScanned)
		nl := assemble(0, len(points), nil)
		run.advance(stateAssembled)
		return nl, nil
	}
	if len(points) < k {
		return nil, fmt.Errorf("%w: %d reference points for k=%d", ErrInsufficientNeighbors, len(points), k)
	}

	rcap := radiusCap(b)
	var r float64
	if cl != nil {
		r = math.Min(cl.width, rcap)
	} else {
		r = e.InitialRadius(b, len(points), k)
		var err error
		if cl, err = e.BuildCellList(b, points, r); err != nil {
			return nil, fmt.Errorf("failed to build cell list: %w", err)
		}
	}
	run.advance(stateIndexBuilt)

	groups := make([][]Bond, len(queryPoints))
	pending := make([]int, len(queryPoints))
	for i := range pending {
		pending[i] = i
	}

	for {
		if err := e.scanCandidates(cl, queryPoints, pending, r, self, groups); err != nil {
			return nil, err
		}
		run.advance(stateScanned)

		short := pending[:0]
		for _, i := range pending {
			if len(groups[i]) < k {
				short = append(short, i)
			}
		}
		pending = short
		if len(pending) == 0 || r >= rcap {
			break
		}

		r = math.Min(r*e.opts.KNNGrowth, rcap)
		if e.opts.VerboseTiming {
			monitoring.Logf("[locality] widening k-nearest radius to %g for %d query points", r, len(pending))
		}
		var err error
		if cl, err = e.BuildCellList(b, points, r); err != nil {
			return nil, fmt.Errorf("failed to rebuild cell list: %w", err)
		}
		run.advance(stateIndexBuilt)
	}

	if len(pending) > 0 {
		if e.opts.VerboseTiming {
			monitoring.Logf("[locality] exhaustive k-nearest scan for %d query points", len(pending))
		}
		if err := e.scanExhaustive(b, points, queryPoints, pending, self, groups); err != nil {
			return nil, err
		}
	}

	var bb bondBuffer
	for i, group := range groups {
		if len(group) < k {
			return nil, fmt.Errorf("%w: query point %d has %d of %d neighbors", ErrInsufficientNeighbors, i, len(group), k)
		}
		sortBonds(group)
		for _, bond := range group[:k] {
			bb.addBond(bond)
		}
	}
	nl := assemble(len(queryPoints), len(points), []bondBuffer{bb})
	run.advance(stateAssembled)
	return nl, nil
}

// scanCandidates replaces groups[i] for every pending query point with the
// bonds found within r. Each pending point is written by one task only.
func (e *Engine) scanCandidates(cl *CellList, queryPoints []r3.Vec, pending []int, r float64, self SelfPolicy, groups [][]Bond) error {
	return e.run(e.partition(len(pending)), func(_, lo, hi int) error {
		var cells []int
		for _, i := range pending[lo:hi] {
			group := groups[i][:0]
			cells = cl.forEachWithin(queryPoints[i], r, cells, func(j int, d float64, img box.Image) {
				if e.keep(self, i, j, d) {
					group = append(group, Bond{QueryPointIndex: i, PointIndex: j, Distance: d, Image: img})
				}
			})
			groups[i] = group
		}
		return nil
	})
}

// scanExhaustive collects every reference point for the pending query
// points using the minimum image directly.
func (e *Engine) scanExhaustive(b box.Box, points, queryPoints []r3.Vec, pending []int, self SelfPolicy, groups [][]Bond) error {
	return e.run(e.partition(len(pending)), func(_, lo, hi int) error {
		for _, i := range pending[lo:hi] {
			q := queryPoints[i]
			group := groups[i][:0]
			for j, p := range points {
				delta := r3.Sub(p, q)
				img := b.ImageOf(delta)
				d := math.Sqrt(r3.Norm2(b.Shift(delta, img.Neg())))
				if e.keep(self, i, j, d) {
					group = append(group, Bond{QueryPointIndex: i, PointIndex: j, Distance: d, Image: img.Neg()})
				}
			}
			groups[i] = group
		}
		return nil
	})
}
