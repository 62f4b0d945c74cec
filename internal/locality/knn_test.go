package locality

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/locality/internal/lattice"
	"github.com/banshee-data/locality/internal/monitoring"
	"github.com/banshee-data/locality/internal/testutil"
)

// requireNearestGroups checks group sizes, ordering and uniqueness, and
// compares distances against a brute-force scan.
func requireNearestGroups(t *testing.T, nl *NeighborList, want [][]float64, k int) {
	t.Helper()
	require.Equal(t, len(want), nl.NumQueryPoints())
	for q := range want {
		group := nl.NeighborsOf(q)
		require.Len(t, group, k, "query point %d", q)
		seen := map[int]bool{}
		for i, b := range group {
			require.False(t, seen[b.PointIndex], "query %d duplicate point %d", q, b.PointIndex)
			seen[b.PointIndex] = true
			if i > 0 {
				prev := group[i-1]
				require.True(t, prev.Distance < b.Distance ||
					(prev.Distance == b.Distance && prev.PointIndex < b.PointIndex),
					"query %d not sorted at %d", q, i)
			}
			require.InDelta(t, want[q][i], b.Distance, 1e-9, "query %d rank %d", q, i)
		}
	}
}

func TestQueryKNearest_MatchesBruteForce(t *testing.T) {
	t.Parallel()

	for name, b := range queryBoxes(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rng := newRand(41)
			points := lattice.UniformPoints(rng, b, 300)
			queryPoints := lattice.UniformPoints(rng, b, 60)
			for _, k := range []int{1, 6, 20} {
				nl, err := QueryKNearest(b, points, queryPoints, k, IncludeSelf)
				require.NoError(t, err)
				requireNearestGroups(t, nl, testutil.BruteNearest(b, points, queryPoints, k, -1), k)
				requireImagesConsistent(t, b, nl, points, queryPoints)
				assert.Equal(t, k*len(queryPoints), nl.Len())
			}
		})
	}
}

func TestQueryKNearest_SelfQuery(t *testing.T) {
	t.Parallel()

	b := mustBox(t, 10, 10, 10, 0, 0, 0, false)
	points := lattice.UniformPoints(newRand(42), b, 200)
	nl, err := QueryKNearest(b, points, points, 8, ExcludeCoincident)
	require.NoError(t, err)
	requireNearestGroups(t, nl, testutil.BruteNearest(b, points, points, 8, 1e-6), 8)
	for _, bond := range nl.All() {
		assert.NotEqual(t, bond.QueryPointIndex, bond.PointIndex)
	}
}

func TestQueryKNearest_WidensForClusteredPoints(t *testing.T) {
	t.Parallel()

	// A dense cluster makes the density estimate far too small for the
	// isolated points.
	b := mustBox(t, 20, 20, 20, 0, 0, 0, false)
	rng := newRand(43)
	points := lattice.UniformPoints(rng, b, 400)
	for i := range points[:380] {
		points[i] = r3.Scale(0.05, points[i])
	}
	nl, err := QueryKNearest(b, points, points, 10, ExcludeCoincident)
	require.NoError(t, err)
	requireNearestGroups(t, nl, testutil.BruteNearest(b, points, points, 10, 1e-6), 10)
}

func TestQueryKNearest_ExhaustiveFallback(t *testing.T) {
	t.Parallel()

	// Nineteen neighbours out of twenty means reaching points beyond the
	// half-box radius, which no cell-list scan may use.
	for name, b := range queryBoxes(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			points := lattice.UniformPoints(newRand(44), b, 20)
			nl, err := QueryKNearest(b, points, points, 19, ExcludeSameIndex)
			require.NoError(t, err)
			requireNearestGroups(t, nl, testutil.BruteNearest(b, points, points, 19, 1e-9), 19)
		})
	}
}

func TestQueryKNearest_Ties(t *testing.T) {
	t.Parallel()

	b, points, err := lattice.FCC(3, 3, 3, 4)
	require.NoError(t, err)
	nl, err := QueryKNearest(b, points, points, 12, ExcludeCoincident)
	require.NoError(t, err)
	for q := 0; q < nl.NumQueryPoints(); q++ {
		group := nl.NeighborsOf(q)
		require.Len(t, group, 12)
		for i, bond := range group {
			assert.InDelta(t, 4/math.Sqrt2, bond.Distance, 1e-9)
			if i > 0 {
				assert.Less(t, group[i-1].PointIndex, bond.PointIndex)
			}
		}
	}
}

func TestQueryKNearest_Errors(t *testing.T) {
	t.Parallel()

	b := mustBox(t, 10, 10, 10, 0, 0, 0, false)
	points := lattice.UniformPoints(newRand(45), b, 5)

	_, err := QueryKNearest(b, points, points, 0, ExcludeCoincident)
	assert.ErrorIs(t, err, ErrInvalidCutoff)

	_, err = QueryKNearest(b, points, points, 6, IncludeSelf)
	assert.ErrorIs(t, err, ErrInsufficientNeighbors)

	// Five points leave only four once self is excluded.
	nl, err := QueryKNearest(b, points, points, 5, ExcludeCoincident)
	assert.ErrorIs(t, err, ErrInsufficientNeighbors)
	assert.Nil(t, nl)

	nl, err = QueryKNearest(b, points, points, 4, ExcludeCoincident)
	require.NoError(t, err)
	assert.Equal(t, 20, nl.Len())

	_, err = QueryKNearest(b, nil, points, 1, ExcludeCoincident)
	assert.ErrorIs(t, err, ErrInvalidPointSet)

	sq := mustBox(t, 10, 10, 0, 0, 0, 0, true)
	_, err = QueryKNearest(sq, []r3.Vec{{X: 1}}, []r3.Vec{{Z: 2}}, 1, ExcludeCoincident)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQueryKNearest_EmptyQuerySet(t *testing.T) {
	t.Parallel()

	b := mustBox(t, 10, 10, 10, 0, 0, 0, false)
	nl, err := QueryKNearest(b, []r3.Vec{{X: 1}}, nil, 3, ExcludeCoincident)
	require.NoError(t, err)
	assert.Equal(t, 0, nl.Len())
	assert.Equal(t, 1, nl.NumPoints())
}

func TestQueryKNearest_WorkerCountIndependent(t *testing.T) {
	t.Parallel()

	b := mustBox(t, 12, 12, 12, 0.2, 0, 0, false)
	points := lattice.UniformPoints(newRand(46), b, 1500)
	want, err := NewEngine(Options{Workers: 1}).QueryKNearest(b, points, points, 7, ExcludeCoincident)
	require.NoError(t, err)
	got, err := NewEngine(Options{Workers: 6, ParallelThreshold: 1}).QueryKNearest(b, points, points, 7, ExcludeCoincident)
	require.NoError(t, err)
	assert.Equal(t, want.Bonds(), got.Bonds())
}

func TestQueryIndex_Nearest(t *testing.T) {
	t.Parallel()

	b := mustBox(t, 10, 10, 10, 0, 0, 0, false)
	points := lattice.UniformPoints(newRand(47), b, 250)
	want, err := QueryKNearest(b, points, points, 5, ExcludeCoincident)
	require.NoError(t, err)

	// A list much narrower than the answer still resolves by widening.
	for _, width := range []float64{0.2, 2, 4.5} {
		cl, err := BuildCellList(b, points, width)
		require.NoError(t, err)
		got, err := QueryIndex(cl, points, Nearest(5))
		require.NoError(t, err)
		assert.Equal(t, want.Bonds(), got.Bonds(), "width %g", width)
	}
}

func TestInitialRadius(t *testing.T) {
	t.Parallel()

	e := NewEngine(Options{KNNScale: 1})
	cube := mustBox(t, 10, 10, 10, 0, 0, 0, false)
	// 1000 points in 1000 volume: a ball of radius (3k/4pi)^(1/3) holds k.
	assert.InDelta(t, math.Cbrt(3*12/(4*math.Pi)), e.InitialRadius(cube, 1000, 12), 1e-12)

	sq := mustBox(t, 10, 10, 0, 0, 0, 0, true)
	assert.InDelta(t, math.Sqrt(12/math.Pi), e.InitialRadius(sq, 100, 12), 1e-12)

	// Sparse sets are capped below half the box.
	r := e.InitialRadius(cube, 2, 2)
	assert.Less(t, r, 5.0)
	assert.InDelta(t, 5.0, r, 1e-12)
	assert.Equal(t, r, e.InitialRadius(cube, 0, 3))
}

// Not parallel: swaps the package logger.
func TestQueryKNearest_VerboseLogsWidening(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)
	orig := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(orig) })

	e := NewEngine(Options{VerboseTiming: true, KNNScale: 0.1})
	b := mustBox(t, 10, 10, 10, 0, 0, 0, false)
	points := lattice.UniformPoints(newRand(48), b, 200)
	_, err := e.QueryKNearest(b, points, points, 6, ExcludeCoincident)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "widening k-nearest radius")
	assert.Contains(t, joined, "build cell list")
	assert.Contains(t, joined, "query assembled")
}
