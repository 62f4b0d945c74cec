package locality

import (
	"errors"
	"fmt"

	"github.com/banshee-data/locality/internal/box"
)

// Sentinel errors for neighbour queries. Every failure wraps exactly one
// of these; callers match with errors.Is.
var (
	// ErrConfiguration is returned for malformed boxes. It is the same
	// value as box.ErrConfiguration.
	ErrConfiguration = box.ErrConfiguration

	// ErrInvalidCutoff is returned when a query radius, neighbour count or
	// mode is out of range, including a cutoff at or beyond half the box.
	ErrInvalidCutoff = errors.New("invalid cutoff")

	// ErrInvalidPointSet is returned for an empty reference set queried by
	// a non-empty query set, non-finite coordinates, out-of-range bond
	// indices, or a neighbor list sized for different point sets.
	ErrInvalidPointSet = errors.New("invalid point set")

	// ErrDimensionMismatch is returned when points carry a nonzero z
	// component in a 2D box.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInsufficientNeighbors is returned when a k-nearest query cannot
	// find k distinct reference points for some query point.
	ErrInsufficientNeighbors = errors.New("insufficient neighbors")
)

// CutoffError carries the rejected cutoff and the bound it violated.
type CutoffError struct {
	RMax   float64
	Limit  float64
	Reason string
}

// Error implements the error interface.
func (e *CutoffError) Error() string {
	return fmt.Sprintf("%v: r_max=%g %s (limit %g)", ErrInvalidCutoff, e.RMax, e.Reason, e.Limit)
}

// Unwrap returns ErrInvalidCutoff for errors.Is support.
func (e *CutoffError) Unwrap() error {
	return ErrInvalidCutoff
}
