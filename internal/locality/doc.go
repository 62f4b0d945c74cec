// Package locality owns periodic neighbour search.
//
// Responsibilities: bucketing reference points into a cell list sized to
// the query cutoff, answering ball (r_max) and k-nearest queries against
// it, and the NeighborList result type that downstream analyses consume.
// Key types: CellList, NeighborList, Bond, Engine, IndexCache.
//
// Box and CellList values are immutable once built and may be shared by
// any number of concurrent queries. A NeighborList returned to a caller is
// never touched again by this package; filtering returns a new value.
//
// Dependency rule: locality may depend on internal/box, internal/config and
// internal/monitoring, never on cmd/.
package locality
