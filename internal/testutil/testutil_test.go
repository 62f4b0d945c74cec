package testutil

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/locality/internal/box"
)

func TestAssertNoError(t *testing.T) {
	t.Parallel()

	// Verify nil error doesn't cause issues
	AssertNoError(t, nil)
}

func TestAssertError(t *testing.T) {
	t.Parallel()

	// Verify non-nil error is handled correctly
	AssertError(t, errors.New("test error"))
}

func TestBruteNearest(t *testing.T) {
	t.Parallel()

	b, err := box.Cube(10)
	AssertNoError(t, err)
	points := []r3.Vec{{X: 0}, {X: 1}, {X: 3}, {X: -4.5}}
	got := BruteNearest(b, points, []r3.Vec{{X: 0}}, 2, 1e-9)
	want := []float64{1, 3}
	if len(got) != 1 || len(got[0]) != 2 || !Close(got[0][0], want[0], 1e-12) || !Close(got[0][1], want[1], 1e-12) {
		t.Errorf("BruteNearest() = %v, want [%v]", got, want)
	}

	pairs := BrutePairs(b, points, points, 4, -1)
	SortPairs(pairs)
	for i := 1; i < len(pairs); i++ {
		if pairs[i-1].Query > pairs[i].Query ||
			(pairs[i-1].Query == pairs[i].Query && pairs[i-1].Point >= pairs[i].Point) {
			t.Fatalf("pairs not ordered at %d: %+v, %+v", i, pairs[i-1], pairs[i])
		}
	}
}
