// Package testutil provides shared test helpers: a brute-force pair search
// to check indexed queries against, and small assertion helpers. Point
// configurations live in internal/lattice.
package testutil

import (
	"math"
	"sort"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/locality/internal/box"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Pair is one neighbour found by BrutePairs.
type Pair struct {
	Query    int
	Point    int
	Distance float64
}

// BrutePairs compares every query point with every reference point and
// returns the pairs whose minimum-image distance d satisfies
// minExclusive < d <= rMax. Pass a negative minExclusive to keep
// coincident pairs. Results are ordered by query, then point index.
func BrutePairs(b box.Box, points, queryPoints []r3.Vec, rMax, minExclusive float64) []Pair {
	var pairs []Pair
	for i, q := range queryPoints {
		for j, p := range points {
			d := b.Distance(p, q)
			if d <= rMax && d > minExclusive {
				pairs = append(pairs, Pair{Query: i, Point: j, Distance: d})
			}
		}
	}
	return pairs
}

// BruteNearest returns, for every query point, the distances to its k
// nearest reference points in ascending order, skipping distances at or
// below minExclusive.
func BruteNearest(b box.Box, points, queryPoints []r3.Vec, k int, minExclusive float64) [][]float64 {
	out := make([][]float64, len(queryPoints))
	for i, q := range queryPoints {
		ds := make([]float64, 0, len(points))
		for _, p := range points {
			if d := b.Distance(p, q); d > minExclusive {
				ds = append(ds, d)
			}
		}
		sort.Float64s(ds)
		out[i] = ds[:min(k, len(ds))]
	}
	return out
}

// SortPairs orders pairs by query, then point index.
func SortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Query != pairs[j].Query {
			return pairs[i].Query < pairs[j].Query
		}
		return pairs[i].Point < pairs[j].Point
	})
}

// Close reports whether a and b agree to within tol.
func Close(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
