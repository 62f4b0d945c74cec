package locality

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/locality/internal/box"
	"github.com/banshee-data/locality/internal/monitoring"
)

// CellList buckets a reference point set into a regular grid laid over
// the box in fractional coordinates. Every cell is at least Width() wide
// measured perpendicular to its faces, so all points within Width() of a
// location lie in the Moore neighbourhood of that location's cell.
//
// A CellList is bound to the box, point slice and width it was built
// with. Rebuild it when any of those change.
type CellList struct {
	box    box.Box
	points []r3.Vec
	width  float64
	dims   [3]int

	// CSR layout: points of cell c are cellPoints[cellStart[c]:cellStart[c+1]].
	cellStart  []int
	cellPoints []int
}

// BuildCellList builds a cell list with the default engine.
func BuildCellList(b box.Box, points []r3.Vec, targetCellWidth float64) (*CellList, error) {
	return defaultEngine.BuildCellList(b, points, targetCellWidth)
}

// BuildCellList wraps every point into the box and buckets it into its
// cell. Cell assignment for large point sets is split across workers and
// merged by a single counting pass.
func (e *Engine) BuildCellList(b box.Box, points []r3.Vec, targetCellWidth float64) (*CellList, error) {
	if !(targetCellWidth > 0) || math.IsInf(targetCellWidth, 0) {
		return nil, &CutoffError{RMax: targetCellWidth, Limit: 0, Reason: "cell width must be positive and finite"}
	}
	if err := checkPoints(b, points, "reference"); err != nil {
		return nil, err
	}
	defer monitoring.Timed(e.opts.VerboseTiming, "build cell list")()

	cl := &CellList{
		box:    b,
		points: points,
		width:  targetCellWidth,
		dims:   gridDims(b, targetCellWidth, e.opts.MaxCells),
	}
	numCells := cl.dims[0] * cl.dims[1] * cl.dims[2]

	cellOf := make([]int, len(points))
	err := e.run(e.partition(len(points)), func(_, lo, hi int) error {
		for i := lo; i < hi; i++ {
			cellOf[i] = cl.CellOf(points[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cl.cellStart = make([]int, numCells+1)
	for _, c := range cellOf {
		cl.cellStart[c+1]++
	}
	for c := 0; c < numCells; c++ {
		cl.cellStart[c+1] += cl.cellStart[c]
	}
	cl.cellPoints = make([]int, len(points))
	next := make([]int, numCells)
	copy(next, cl.cellStart[:numCells])
	for i, c := range cellOf {
		cl.cellPoints[next[c]] = i
		next[c]++
	}
	return cl, nil
}

// gridDims picks max(1, floor(h / width)) cells per axis, h being the
// nearest-plane distance, then coarsens uniformly if the grid would
// exceed maxCells. Coarsening only widens cells.
func gridDims(b box.Box, width float64, maxCells int) [3]int {
	h := b.NearestPlaneDistance()
	limit := float64(maxCells)
	axis := func(extent float64) float64 {
		return math.Max(1, math.Min(math.Floor(extent/width), limit))
	}
	n := [3]float64{axis(h.X), axis(h.Y), 1}
	if !b.Is2D() {
		n[2] = axis(h.Z)
	}

	if total := n[0] * n[1] * n[2]; total > limit {
		exp := 1.0 / 3.0
		if b.Is2D() {
			exp = 0.5
		}
		factor := math.Pow(total/limit, exp)
		for i := range n {
			n[i] = math.Max(1, math.Floor(n[i]/factor))
		}
		// Rounding can still leave a little excess.
		for n[0]*n[1]*n[2] > limit {
			i := 0
			for j := 1; j < 3; j++ {
				if n[j] > n[i] {
					i = j
				}
			}
			n[i]--
		}
	}
	return [3]int{int(n[0]), int(n[1]), int(n[2])}
}

// Box returns the box the list was built for.
func (cl *CellList) Box() box.Box { return cl.box }

// Points returns the reference points the list indexes.
func (cl *CellList) Points() []r3.Vec { return cl.points }

// NumPoints returns the number of indexed reference points.
func (cl *CellList) NumPoints() int { return len(cl.points) }

// Width returns the target cell width, the largest cutoff the list can
// serve.
func (cl *CellList) Width() float64 { return cl.width }

// Dims returns the number of cells along each lattice axis.
func (cl *CellList) Dims() [3]int { return cl.dims }

// NumCells returns the total number of cells.
func (cl *CellList) NumCells() int { return cl.dims[0] * cl.dims[1] * cl.dims[2] }

// CellOf returns the index of the cell containing the wrapped position q.
func (cl *CellList) CellOf(q r3.Vec) int {
	c := cl.cellCoords(q)
	return cl.index(c[0], c[1], c[2])
}

func (cl *CellList) cellCoords(q r3.Vec) [3]int {
	f := cl.box.MakeFractional(cl.box.Wrap(q))
	return [3]int{
		axisCell(f.X, cl.dims[0]),
		axisCell(f.Y, cl.dims[1]),
		axisCell(f.Z, cl.dims[2]),
	}
}

func axisCell(f float64, n int) int {
	c := int(f * float64(n))
	if c >= n {
		c = n - 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

func (cl *CellList) index(x, y, z int) int {
	return x + cl.dims[0]*(y+cl.dims[1]*z)
}

// PointsIn returns the reference point indices bucketed in a cell. The
// returned slice aliases the list's storage and must not be modified.
func (cl *CellList) PointsIn(cell int) []int {
	if cell < 0 || cell >= cl.NumCells() {
		return nil
	}
	lo, hi := cl.cellStart[cell], cl.cellStart[cell+1]
	return cl.cellPoints[lo:hi:hi]
}

// CandidateCells returns the Moore neighbourhood of the cell holding q:
// 27 cells in 3D, 9 in 2D, with toroidal wrap at the grid edges. Axes with
// fewer than three cells contribute each cell once, so no cell appears
// twice.
func (cl *CellList) CandidateCells(q r3.Vec) []int {
	return cl.appendNeighborhood(nil, cl.cellCoords(q))
}

func (cl *CellList) appendNeighborhood(dst []int, c [3]int) []int {
	var xs, ys, zs [3]int
	nx := wrapAxis(&xs, c[0], cl.dims[0])
	ny := wrapAxis(&ys, c[1], cl.dims[1])
	nz := wrapAxis(&zs, c[2], cl.dims[2])
	for _, z := range zs[:nz] {
		for _, y := range ys[:ny] {
			for _, x := range xs[:nx] {
				dst = append(dst, cl.index(x, y, z))
			}
		}
	}
	return dst
}

// wrapAxis writes the distinct periodic neighbours of cell c along an axis
// with n cells and returns how many there are.
func wrapAxis(out *[3]int, c, n int) int {
	switch n {
	case 1:
		out[0] = 0
		return 1
	case 2:
		out[0], out[1] = c, 1-c
		return 2
	default:
		out[0], out[1], out[2] = (c-1+n)%n, c, (c+1)%n
		return 3
	}
}

// String implements fmt.Stringer.
func (cl *CellList) String() string {
	return fmt.Sprintf("CellList(%d points, %dx%dx%d cells, width %g)",
		len(cl.points), cl.dims[0], cl.dims[1], cl.dims[2], cl.width)
}
