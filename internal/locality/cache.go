package locality

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/locality/internal/box"
	"github.com/banshee-data/locality/internal/monitoring"
)

// IndexCache holds one cell list for a caller running repeated queries on
// a static configuration. The cache recognises the configuration by box
// value and by the identity of the reference slice (same backing array and
// length). It cannot see writes through that slice: a caller that moves
// points in place must call Invalidate.
type IndexCache struct {
	engine *Engine

	mu         sync.Mutex
	cl         *CellList
	generation uuid.UUID
	hits       int
	builds     int
}

// NewIndexCache returns an empty cache that builds with e, or with the
// default engine when e is nil.
func NewIndexCache(e *Engine) *IndexCache {
	if e == nil {
		e = defaultEngine
	}
	return &IndexCache{engine: e}
}

// Get returns a cell list for (b, points) at least rMax wide, reusing the
// cached one when it covers the request.
func (c *IndexCache) Get(b box.Box, points []r3.Vec, rMax float64) (*CellList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.covers(b, points, rMax) {
		c.hits++
		return c.cl, nil
	}
	cl, err := c.engine.BuildCellList(b, points, rMax)
	if err != nil {
		return nil, err
	}
	c.cl = cl
	c.generation = uuid.New()
	c.builds++
	if c.engine.opts.VerboseTiming {
		monitoring.Logf("[locality] index cache rebuilt: %v (generation %s)", cl, c.generation)
	}
	return cl, nil
}

func (c *IndexCache) covers(b box.Box, points []r3.Vec, rMax float64) bool {
	if c.cl == nil || c.cl.box != b || c.cl.width < rMax {
		return false
	}
	return sameSlice(c.cl.points, points)
}

func sameSlice(a, b []r3.Vec) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

// Invalidate drops the cached cell list.
func (c *IndexCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cl = nil
	c.generation = uuid.Nil
}

// Generation identifies the cached cell list. It changes on every rebuild
// and is uuid.Nil when the cache is empty.
func (c *IndexCache) Generation() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Stats returns how many Get calls were served from the cache and how many
// rebuilt it.
func (c *IndexCache) Stats() (hits, builds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.builds
}

// QueryCached runs a query through cache, building or reusing its cell
// list. Ball queries request a list at least RMax wide; nearest queries
// request one at the density-estimated start radius.
func (e *Engine) QueryCached(cache *IndexCache, b box.Box, points, queryPoints []r3.Vec, args QueryArgs) (*NeighborList, error) {
	if cache == nil {
		return e.Query(b, points, queryPoints, args)
	}
	var width float64
	switch args.Mode {
	case ModeBall:
		if err := checkCutoff(b, args.RMax); err != nil {
			return nil, err
		}
		width = args.RMax
	case ModeNearest:
		if args.NumNeighbors <= 0 {
			return nil, fmt.Errorf("%w: num_neighbors must be positive, got %d", ErrInvalidCutoff, args.NumNeighbors)
		}
		if len(points) == 0 {
			return e.Query(b, points, queryPoints, args)
		}
		width = e.InitialRadius(b, len(points), args.NumNeighbors)
	default:
		return nil, fmt.Errorf("%w: unknown query mode %v", ErrInvalidCutoff, args.Mode)
	}
	if err := checkSets(b, points, queryPoints); err != nil {
		return nil, err
	}
	cl, err := cache.Get(b, points, width)
	if err != nil {
		return nil, fmt.Errorf("failed to get cached cell list: %w", err)
	}
	return e.QueryIndex(cl, queryPoints, args)
}
