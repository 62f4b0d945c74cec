package locality

import (
	"fmt"
	"iter"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/locality/internal/box"
)

// Bond is one neighbour record. Image is the lattice shift that takes the
// raw reference position to the periodic copy nearest the query point:
//
//	points[PointIndex] + A*Image - queryPoints[QueryPointIndex]
//
// is the minimum-image bond vector, A being the box lattice matrix.
type Bond struct {
	QueryPointIndex int
	PointIndex      int
	Distance        float64
	Image           box.Image
}

// NeighborList is an immutable, query-grouped collection of bonds. All
// bonds of a query point are contiguous and groups appear in query index
// order. Within a group bonds keep the order they were found in, except
// for k-nearest results, which are sorted by ascending distance.
type NeighborList struct {
	numQuery  int
	numPoints int

	query    []int32
	point    []int32
	distance []float64
	image    []box.Image

	counts   []int
	segments []int
}

// bondBuffer accumulates bonds in column form while a query scans.
type bondBuffer struct {
	query    []int32
	point    []int32
	distance []float64
	image    []box.Image
}

func (bb *bondBuffer) add(q, p int, d float64, img box.Image) {
	bb.query = append(bb.query, int32(q))
	bb.point = append(bb.point, int32(p))
	bb.distance = append(bb.distance, d)
	bb.image = append(bb.image, img)
}

func (bb *bondBuffer) addBond(b Bond) {
	bb.add(b.QueryPointIndex, b.PointIndex, b.Distance, b.Image)
}

func (bb *bondBuffer) len() int { return len(bb.query) }

// assemble concatenates per-task buffers whose bonds are already grouped
// and ordered by query index.
func assemble(numQuery, numPoints int, parts []bondBuffer) *NeighborList {
	total := 0
	for i := range parts {
		total += parts[i].len()
	}
	nl := &NeighborList{
		numQuery:  numQuery,
		numPoints: numPoints,
		query:     make([]int32, 0, total),
		point:     make([]int32, 0, total),
		distance:  make([]float64, 0, total),
		image:     make([]box.Image, 0, total),
	}
	for i := range parts {
		nl.query = append(nl.query, parts[i].query...)
		nl.point = append(nl.point, parts[i].point...)
		nl.distance = append(nl.distance, parts[i].distance...)
		nl.image = append(nl.image, parts[i].image...)
	}
	nl.index()
	return nl
}

// index rebuilds counts and segments from the grouped query column.
func (nl *NeighborList) index() {
	nl.counts = make([]int, nl.numQuery)
	for _, q := range nl.query {
		nl.counts[q]++
	}
	nl.segments = make([]int, nl.numQuery)
	start := 0
	for q, n := range nl.counts {
		nl.segments[q] = start
		start += n
	}
}

// FromBonds builds a NeighborList from bonds in any order. Bonds are
// grouped by query index with a stable sort, so bonds of the same query
// point keep their relative order.
func FromBonds(numQuery, numPoints int, bonds []Bond) (*NeighborList, error) {
	if numQuery < 0 || numPoints < 0 || numQuery > math.MaxInt32 || numPoints > math.MaxInt32 {
		return nil, fmt.Errorf("%w: point set sizes %d, %d out of range", ErrInvalidPointSet, numQuery, numPoints)
	}
	for i, b := range bonds {
		if b.QueryPointIndex < 0 || b.QueryPointIndex >= numQuery {
			return nil, fmt.Errorf("%w: bond %d query index %d outside [0, %d)", ErrInvalidPointSet, i, b.QueryPointIndex, numQuery)
		}
		if b.PointIndex < 0 || b.PointIndex >= numPoints {
			return nil, fmt.Errorf("%w: bond %d point index %d outside [0, %d)", ErrInvalidPointSet, i, b.PointIndex, numPoints)
		}
		if math.IsNaN(b.Distance) || b.Distance < 0 {
			return nil, fmt.Errorf("%w: bond %d has invalid distance %g", ErrInvalidPointSet, i, b.Distance)
		}
	}

	sorted := make([]Bond, len(bonds))
	copy(sorted, bonds)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].QueryPointIndex < sorted[j].QueryPointIndex
	})

	var bb bondBuffer
	for _, b := range sorted {
		bb.addBond(b)
	}
	return assemble(numQuery, numPoints, []bondBuffer{bb}), nil
}

// Len returns the total number of bonds.
func (nl *NeighborList) Len() int { return len(nl.query) }

// NumQueryPoints returns the size of the query point set.
func (nl *NeighborList) NumQueryPoints() int { return nl.numQuery }

// NumPoints returns the size of the reference point set.
func (nl *NeighborList) NumPoints() int { return nl.numPoints }

// Bond returns bond i.
func (nl *NeighborList) Bond(i int) Bond {
	return Bond{
		QueryPointIndex: int(nl.query[i]),
		PointIndex:      int(nl.point[i]),
		Distance:        nl.distance[i],
		Image:           nl.image[i],
	}
}

// Bonds returns a copy of every bond in list order.
func (nl *NeighborList) Bonds() []Bond {
	out := make([]Bond, nl.Len())
	for i := range out {
		out[i] = nl.Bond(i)
	}
	return out
}

// All iterates bonds in list order together with their bond index.
func (nl *NeighborList) All() iter.Seq2[int, Bond] {
	return func(yield func(int, Bond) bool) {
		for i := range nl.query {
			if !yield(i, nl.Bond(i)) {
				return
			}
		}
	}
}

// NeighborsOf returns the bonds of query point q.
func (nl *NeighborList) NeighborsOf(q int) []Bond {
	if q < 0 || q >= nl.numQuery {
		return nil
	}
	lo := nl.segments[q]
	out := make([]Bond, nl.counts[q])
	for i := range out {
		out[i] = nl.Bond(lo + i)
	}
	return out
}

// FindFirstIndex returns the index of the first bond of query point q, or
// the index where it would be if q has no neighbours. Consumers that split
// query points across workers use it to seek into the bond list.
func (nl *NeighborList) FindFirstIndex(q int) int {
	if q <= 0 {
		return 0
	}
	if q >= nl.numQuery {
		return nl.Len()
	}
	return nl.segments[q]
}

// NeighborCounts returns the neighbour count of every query point in
// query index order, zeros included.
func (nl *NeighborList) NeighborCounts() []int {
	out := make([]int, len(nl.counts))
	copy(out, nl.counts)
	return out
}

// Segments returns the first bond index of every query point.
func (nl *NeighborList) Segments() []int {
	out := make([]int, len(nl.segments))
	copy(out, nl.segments)
	return out
}

// Distances returns a copy of the distance column.
func (nl *NeighborList) Distances() []float64 {
	out := make([]float64, len(nl.distance))
	copy(out, nl.distance)
	return out
}

// PointIndices returns a copy of the reference index column.
func (nl *NeighborList) PointIndices() []int {
	out := make([]int, len(nl.point))
	for i, p := range nl.point {
		out[i] = int(p)
	}
	return out
}

// QueryPointIndices returns a copy of the query index column.
func (nl *NeighborList) QueryPointIndices() []int {
	out := make([]int, len(nl.query))
	for i, q := range nl.query {
		out[i] = int(q)
	}
	return out
}

// Filter returns a new list holding the bonds for which keep returns
// true. Group order and intra-group order are preserved.
func (nl *NeighborList) Filter(keep func(Bond) bool) *NeighborList {
	var bb bondBuffer
	for i := range nl.query {
		if b := nl.Bond(i); keep(b) {
			bb.addBond(b)
		}
	}
	return assemble(nl.numQuery, nl.numPoints, []bondBuffer{bb})
}

// FilterRMax returns a new list holding only bonds with Distance <=
// maxDistance. Use it to narrow a list built with a larger cutoff instead
// of querying again.
func (nl *NeighborList) FilterRMax(maxDistance float64) *NeighborList {
	var bb bondBuffer
	for i, d := range nl.distance {
		if d <= maxDistance {
			bb.add(int(nl.query[i]), int(nl.point[i]), d, nl.image[i])
		}
	}
	return assemble(nl.numQuery, nl.numPoints, []bondBuffer{bb})
}

// SortByDistance returns a new list whose groups are ordered by ascending
// distance, ties broken by reference index.
func (nl *NeighborList) SortByDistance() *NeighborList {
	var bb bondBuffer
	for q := 0; q < nl.numQuery; q++ {
		group := nl.NeighborsOf(q)
		sortBonds(group)
		for _, b := range group {
			bb.addBond(b)
		}
	}
	return assemble(nl.numQuery, nl.numPoints, []bondBuffer{bb})
}

// Validate checks that the list was built for point sets of the given
// sizes. Consumers handed a precomputed list call it before indexing
// their own arrays with bond indices.
func (nl *NeighborList) Validate(numQuery, numPoints int) error {
	if nl.numQuery != numQuery {
		return fmt.Errorf("%w: neighbor list has %d query points, got %d", ErrInvalidPointSet, nl.numQuery, numQuery)
	}
	if nl.numPoints != numPoints {
		return fmt.Errorf("%w: neighbor list has %d reference points, got %d", ErrInvalidPointSet, nl.numPoints, numPoints)
	}
	return nil
}

// String implements fmt.Stringer.
func (nl *NeighborList) String() string {
	return fmt.Sprintf("NeighborList(%d bonds, %d query points, %d points)", nl.Len(), nl.numQuery, nl.numPoints)
}

// CountSummary describes the distribution of per-query neighbour counts.
type CountSummary struct {
	Mean, StdDev float64
	Min, Max     int
	// Mode is the most common count and ModeFraction the share of query
	// points that have it.
	Mode         int
	ModeFraction float64
}

// CountSummary summarises NeighborCounts. It is the zero value for an
// empty query set.
func (nl *NeighborList) CountSummary() CountSummary {
	if nl.numQuery == 0 {
		return CountSummary{}
	}
	x := make([]float64, nl.numQuery)
	for i, c := range nl.counts {
		x[i] = float64(c)
	}
	mean, std := stat.MeanStdDev(x, nil)
	if len(x) < 2 {
		std = 0
	}
	mode, n := stat.Mode(x, nil)
	return CountSummary{
		Mean:         mean,
		StdDev:       std,
		Min:          int(floats.Min(x)),
		Max:          int(floats.Max(x)),
		Mode:         int(mode),
		ModeFraction: n / float64(len(x)),
	}
}

// sortBonds orders bonds by ascending distance, ties by reference index.
func sortBonds(bonds []Bond) {
	sort.Slice(bonds, func(i, j int) bool {
		if bonds[i].Distance != bonds[j].Distance {
			return bonds[i].Distance < bonds[j].Distance
		}
		return bonds[i].PointIndex < bonds[j].PointIndex
	})
}
