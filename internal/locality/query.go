package locality

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/locality/internal/box"
	"github.com/banshee-data/locality/internal/config"
	"github.com/banshee-data/locality/internal/monitoring"
)

// QueryMode selects between the two query kinds.
type QueryMode int

const (
	// ModeBall finds every reference point within RMax of a query point.
	ModeBall QueryMode = iota
	// ModeNearest finds the NumNeighbors closest reference points.
	ModeNearest
)

// String implements fmt.Stringer.
func (m QueryMode) String() string {
	switch m {
	case ModeBall:
		return "ball"
	case ModeNearest:
		return "nearest"
	default:
		return fmt.Sprintf("QueryMode(%d)", int(m))
	}
}

// SelfPolicy decides which zero-distance or same-index bonds are dropped.
type SelfPolicy int

const (
	// ExcludeCoincident drops bonds whose distance is at or below the
	// engine's SelfTolerance. This removes a point's own contribution when
	// the query set is the reference set, and also drops distinct points
	// that sit on top of each other.
	ExcludeCoincident SelfPolicy = iota
	// ExcludeSameIndex drops bonds with QueryPointIndex == PointIndex and
	// keeps everything else, coincident points included. Use it only when
	// the query set is the reference set.
	ExcludeSameIndex
	// IncludeSelf keeps every bond.
	IncludeSelf
)

// String implements fmt.Stringer.
func (p SelfPolicy) String() string {
	switch p {
	case ExcludeCoincident:
		return "exclude-coincident"
	case ExcludeSameIndex:
		return "exclude-same-index"
	case IncludeSelf:
		return "include-self"
	default:
		return fmt.Sprintf("SelfPolicy(%d)", int(p))
	}
}

// QueryArgs parameterises a query. RMax is read in ball mode and
// NumNeighbors in nearest mode.
type QueryArgs struct {
	Mode         QueryMode
	RMax         float64
	NumNeighbors int
	Self         SelfPolicy
}

// Ball returns arguments for a ball query with the default self policy.
func Ball(rMax float64) QueryArgs {
	return QueryArgs{Mode: ModeBall, RMax: rMax}
}

// Nearest returns arguments for a k-nearest query with the default self
// policy.
func Nearest(k int) QueryArgs {
	return QueryArgs{Mode: ModeNearest, NumNeighbors: k}
}

// Options tune an Engine. Zero values other than SelfTolerance select the
// defaults from internal/config.
type Options struct {
	Workers           int
	ParallelThreshold int
	MaxCells          int
	KNNScale          float64
	KNNGrowth         float64
	SelfTolerance     float64
	VerboseTiming     bool
}

// DefaultOptions returns the built-in tuning.
func DefaultOptions() Options {
	return OptionsFromTuning(config.EmptyTuningConfig())
}

// OptionsFromTuning converts a tuning config into engine options.
func OptionsFromTuning(cfg *config.TuningConfig) Options {
	return Options{
		Workers:           cfg.GetWorkers(),
		ParallelThreshold: cfg.GetParallelThreshold(),
		MaxCells:          cfg.GetMaxCells(),
		KNNScale:          cfg.GetKNNScale(),
		KNNGrowth:         cfg.GetKNNGrowth(),
		SelfTolerance:     cfg.GetSelfTolerance(),
		VerboseTiming:     cfg.GetVerboseTiming(),
	}
}

// Engine answers neighbour queries. It holds only tuning and is safe for
// concurrent use.
type Engine struct {
	opts Options
}

// NewEngine returns an Engine using opts.
func NewEngine(opts Options) *Engine {
	d := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = d.Workers
	}
	if opts.ParallelThreshold <= 0 {
		opts.ParallelThreshold = d.ParallelThreshold
	}
	if opts.MaxCells <= 0 {
		opts.MaxCells = d.MaxCells
	}
	if !(opts.KNNScale > 0) {
		opts.KNNScale = d.KNNScale
	}
	if !(opts.KNNGrowth > 1) {
		opts.KNNGrowth = d.KNNGrowth
	}
	if !(opts.SelfTolerance >= 0) {
		opts.SelfTolerance = d.SelfTolerance
	}
	return &Engine{opts: opts}
}

// EngineFromTuning returns an Engine configured from a tuning file.
func EngineFromTuning(cfg *config.TuningConfig) *Engine {
	return NewEngine(OptionsFromTuning(cfg))
}

// Options returns the engine's effective tuning.
func (e *Engine) Options() Options { return e.opts }

var defaultEngine = NewEngine(DefaultOptions())

// Query runs a ball or k-nearest query with the default engine.
func Query(b box.Box, points, queryPoints []r3.Vec, args QueryArgs) (*NeighborList, error) {
	return defaultEngine.Query(b, points, queryPoints, args)
}

// QueryAllWithin runs a ball query with the default engine.
func QueryAllWithin(b box.Box, points, queryPoints []r3.Vec, rMax float64, self SelfPolicy) (*NeighborList, error) {
	return defaultEngine.QueryAllWithin(b, points, queryPoints, rMax, self)
}

// QueryKNearest runs a k-nearest query with the default engine.
func QueryKNearest(b box.Box, points, queryPoints []r3.Vec, k int, self SelfPolicy) (*NeighborList, error) {
	return defaultEngine.QueryKNearest(b, points, queryPoints, k, self)
}

// QueryIndex queries a pre-built cell list with the default engine.
func QueryIndex(cl *CellList, queryPoints []r3.Vec, args QueryArgs) (*NeighborList, error) {
	return defaultEngine.QueryIndex(cl, queryPoints, args)
}

// Resolve returns nl narrowed to args, or queries when nl is nil, using the
// default engine.
func Resolve(nl *NeighborList, b box.Box, points, queryPoints []r3.Vec, args QueryArgs) (*NeighborList, error) {
	return defaultEngine.Resolve(nl, b, points, queryPoints, args)
}

// Query dispatches on args.Mode.
func (e *Engine) Query(b box.Box, points, queryPoints []r3.Vec, args QueryArgs) (*NeighborList, error) {
	switch args.Mode {
	case ModeBall:
		return e.QueryAllWithin(b, points, queryPoints, args.RMax, args.Self)
	case ModeNearest:
		return e.QueryKNearest(b, points, queryPoints, args.NumNeighbors, args.Self)
	default:
		return nil, fmt.Errorf("%w: unknown query mode %v", ErrInvalidCutoff, args.Mode)
	}
}

// QueryAllWithin returns, for every query point, each reference point whose
// minimum-image distance is at most rMax. rMax must lie strictly between
// zero and half the smallest nearest-plane distance of the box.
func (e *Engine) QueryAllWithin(b box.Box, points, queryPoints []r3.Vec, rMax float64, self SelfPolicy) (*NeighborList, error) {
	run := e.begin(ModeBall)
	if err := checkCutoff(b, rMax); err != nil {
		return nil, err
	}
	if err := checkSets(b, points, queryPoints); err != nil {
		return nil, err
	}
	cl, err := e.BuildCellList(b, points, rMax)
	if err != nil {
		return nil, fmt.Errorf("failed to build cell list: %w", err)
	}
	run.advance(stateIndexBuilt)
	return e.scanBall(run, cl, queryPoints, rMax, self)
}

// QueryIndex runs a query against a cell list the caller built and owns.
// A ball query with a cutoff wider than the list's width is rejected,
// since the list cannot cover it. Nearest queries start from the list's
// width and rebuild only if they need to widen.
func (e *Engine) QueryIndex(cl *CellList, queryPoints []r3.Vec, args QueryArgs) (*NeighborList, error) {
	if cl == nil {
		return nil, fmt.Errorf("%w: nil cell list", ErrInvalidPointSet)
	}
	run := e.begin(args.Mode)
	switch args.Mode {
	case ModeBall:
		if err := checkCutoff(cl.box, args.RMax); err != nil {
			return nil, err
		}
		if args.RMax > cl.width {
			return nil, &CutoffError{RMax: args.RMax, Limit: cl.width, Reason: "exceeds the cell list width"}
		}
		if err := checkSets(cl.box, cl.points, queryPoints); err != nil {
			return nil, err
		}
		run.advance(stateIndexBuilt)
		return e.scanBall(run, cl, queryPoints, args.RMax, args.Self)
	case ModeNearest:
		return e.nearest(run, cl.box, cl.points, queryPoints, args.NumNeighbors, args.Self, cl)
	default:
		return nil, fmt.Errorf("%w: unknown query mode %v", ErrInvalidCutoff, args.Mode)
	}
}

// Resolve serves computations that accept an optional precomputed list.
// A nil nl runs the query. Otherwise nl is checked against the point set
// sizes and, in ball mode with a positive RMax, narrowed with FilterRMax.
func (e *Engine) Resolve(nl *NeighborList, b box.Box, points, queryPoints []r3.Vec, args QueryArgs) (*NeighborList, error) {
	if nl == nil {
		return e.Query(b, points, queryPoints, args)
	}
	if err := nl.Validate(len(queryPoints), len(points)); err != nil {
		return nil, err
	}
	if args.Mode == ModeBall && args.RMax > 0 {
		return nl.FilterRMax(args.RMax), nil
	}
	return nl, nil
}

// scanBall enumerates ball neighbours of every query point. Each task
// fills its own buffer and buffers are concatenated in task order, so the
// result does not depend on the worker count.
func (e *Engine) scanBall(run *queryRun, cl *CellList, queryPoints []r3.Vec, rMax float64, self SelfPolicy) (*NeighborList, error) {
	stop := monitoring.Timed(e.opts.VerboseTiming, "ball scan")
	ranges := e.partition(len(queryPoints))
	parts := make([]bondBuffer, len(ranges))
	err := e.run(ranges, func(task, lo, hi int) error {
		bb := &parts[task]
		var cells []int
		for i := lo; i < hi; i++ {
			cells = cl.forEachWithin(queryPoints[i], rMax, cells, func(j int, d float64, img box.Image) {
				if e.keep(self, i, j, d) {
					bb.add(i, j, d, img)
				}
			})
		}
		return nil
	})
	stop()
	if err != nil {
		return nil, err
	}
	run.advance(stateScanned)

	nl := assemble(len(queryPoints), cl.NumPoints(), parts)
	run.advance(stateAssembled)
	return nl, nil
}

// forEachWithin calls fn for every reference point within rMax of q, with
// its distance and the image that brings it nearest q. cells is scratch
// space and is returned for reuse.
func (cl *CellList) forEachWithin(q r3.Vec, rMax float64, cells []int, fn func(j int, d float64, img box.Image)) []int {
	b := cl.box
	// Loose squared bound; the exact test is on the rooted distance so
	// results agree with FilterRMax.
	loose := rMax * rMax * (1 + 1e-12)
	cells = cl.appendNeighborhood(cells[:0], cl.cellCoords(q))
	for _, c := range cells {
		for _, j := range cl.PointsIn(c) {
			delta := r3.Sub(cl.points[j], q)
			img := b.ImageOf(delta)
			r2 := r3.Norm2(b.Shift(delta, img.Neg()))
			if r2 > loose {
				continue
			}
			d := math.Sqrt(r2)
			if d > rMax {
				continue
			}
			fn(j, d, img.Neg())
		}
	}
	return cells
}

func (e *Engine) keep(self SelfPolicy, i, j int, d float64) bool {
	switch self {
	case ExcludeSameIndex:
		return i != j
	case IncludeSelf:
		return true
	default:
		return d > e.opts.SelfTolerance
	}
}

// partition splits n items into contiguous ranges. Small inputs, or a
// single worker, get one range that runs on the calling goroutine.
func (e *Engine) partition(n int) [][2]int {
	if n == 0 {
		return nil
	}
	if e.opts.Workers <= 1 || n < e.opts.ParallelThreshold {
		return [][2]int{{0, n}}
	}
	tasks := min(e.opts.Workers*4, n)
	chunk := (n + tasks - 1) / tasks
	ranges := make([][2]int, 0, tasks)
	for lo := 0; lo < n; lo += chunk {
		ranges = append(ranges, [2]int{lo, min(lo+chunk, n)})
	}
	return ranges
}

// run executes fn for every range with at most Workers goroutines.
func (e *Engine) run(ranges [][2]int, fn func(task, lo, hi int) error) error {
	if len(ranges) == 1 {
		return fn(0, ranges[0][0], ranges[0][1])
	}
	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for task, r := range ranges {
		g.Go(func() error {
			return fn(task, r[0], r[1])
		})
	}
	return g.Wait()
}

// checkCutoff enforces 0 < rMax < MinHalfDimension. The half-box value
// itself is rejected: there two images can be equally near.
func checkCutoff(b box.Box, rMax float64) error {
	if !(rMax > 0) || math.IsInf(rMax, 0) {
		return &CutoffError{RMax: rMax, Limit: 0, Reason: "must be positive and finite"}
	}
	if half := b.MinHalfDimension(); rMax >= half {
		return &CutoffError{RMax: rMax, Limit: half, Reason: "must be less than half the smallest box dimension"}
	}
	return nil
}

// checkSets validates both point sets of a query.
func checkSets(b box.Box, points, queryPoints []r3.Vec) error {
	if len(points) == 0 && len(queryPoints) > 0 {
		return fmt.Errorf("%w: empty reference set for %d query points", ErrInvalidPointSet, len(queryPoints))
	}
	if err := checkPoints(b, points, "reference"); err != nil {
		return err
	}
	return checkPoints(b, queryPoints, "query")
}

// checkPoints rejects point sets too large to index with int32, non-finite
// coordinates, coordinates too far out for an exact bond image, and
// nonzero z in a 2D box.
func checkPoints(b box.Box, points []r3.Vec, label string) error {
	if len(points) > math.MaxInt32 {
		return fmt.Errorf("%w: %d %s points exceeds the index range", ErrInvalidPointSet, len(points), label)
	}
	for i, p := range points {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			return fmt.Errorf("%w: %s point %d has non-finite coordinates %v", ErrInvalidPointSet, label, i, p)
		}
		if !b.Representable(p) {
			return fmt.Errorf("%w: %s point %d at %v is outside the representable image range", ErrInvalidPointSet, label, i, p)
		}
		if b.Is2D() && p.Z != 0 {
			return fmt.Errorf("%w: %s point %d has z=%g in a 2D box", ErrDimensionMismatch, label, i, p.Z)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
