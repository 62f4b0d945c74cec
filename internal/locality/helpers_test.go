package locality

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/locality/internal/box"
	"github.com/banshee-data/locality/internal/testutil"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func mustBox(t *testing.T, lx, ly, lz, xy, xz, yz float64, is2D bool) box.Box {
	t.Helper()
	b, err := box.New(lx, ly, lz, xy, xz, yz, is2D)
	require.NoError(t, err)
	return b
}

// queryBoxes covers orthorhombic, sheared and 2D cells.
func queryBoxes(t *testing.T) map[string]box.Box {
	return map[string]box.Box{
		"cube":      mustBox(t, 10, 10, 10, 0, 0, 0, false),
		"ortho":     mustBox(t, 9, 11, 12, 0, 0, 0, false),
		"triclinic": mustBox(t, 10, 11, 12, 0.4, -0.3, 0.25, false),
		"square":    mustBox(t, 10, 10, 0, 0, 0, 0, true),
		"tilted2d":  mustBox(t, 10, 9, 0, -0.35, 0, 0, true),
	}
}

// pairsOf flattens a neighbor list into sorted brute-force pairs.
func pairsOf(nl *NeighborList) []testutil.Pair {
	pairs := make([]testutil.Pair, 0, nl.Len())
	for _, b := range nl.All() {
		pairs = append(pairs, testutil.Pair{Query: b.QueryPointIndex, Point: b.PointIndex, Distance: b.Distance})
	}
	testutil.SortPairs(pairs)
	return pairs
}

func requireSamePairs(t *testing.T, want, got []testutil.Pair) {
	t.Helper()
	if want == nil {
		want = []testutil.Pair{}
	}
	if got == nil {
		got = []testutil.Pair{}
	}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Fatalf("pair sets differ (-want +got):\n%s", diff)
	}
}

// requireImagesConsistent checks that every bond's image reproduces its
// distance.
func requireImagesConsistent(t *testing.T, b box.Box, nl *NeighborList, points, queryPoints []r3.Vec) {
	t.Helper()
	for i, bond := range nl.All() {
		v := r3.Sub(b.Shift(points[bond.PointIndex], bond.Image), queryPoints[bond.QueryPointIndex])
		require.InDelta(t, bond.Distance, r3.Norm(v), 1e-9, "bond %d %+v", i, bond)
	}
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
