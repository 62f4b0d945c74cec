package locality

import (
	"fmt"
	"time"

	"github.com/banshee-data/locality/internal/monitoring"
)

// queryState tracks progress through a single query call.
type queryState int

const (
	stateInitialized queryState = iota
	stateIndexBuilt
	stateScanned
	stateAssembled
)

func (s queryState) String() string {
	switch s {
	case stateInitialized:
		return "initialized"
	case stateIndexBuilt:
		return "index-built"
	case stateScanned:
		return "scanned"
	case stateAssembled:
		return "assembled"
	default:
		return fmt.Sprintf("queryState(%d)", int(s))
	}
}

// queryRun is the per-call state. Transitions move forward one step at a
// time; the only backward edge is scanned -> index-built, taken when a
// nearest query widens its radius and rebuilds.
type queryRun struct {
	mode    QueryMode
	state   queryState
	verbose bool
	started time.Time
	rebuilt int
}

func (e *Engine) begin(mode QueryMode) *queryRun {
	return &queryRun{
		mode:    mode,
		state:   stateInitialized,
		verbose: e.opts.VerboseTiming,
		started: time.Now(),
	}
}

// canAdvance reports whether the run may move to next.
func (r *queryRun) canAdvance(next queryState) bool {
	if next == r.state+1 {
		return true
	}
	return r.mode == ModeNearest && r.state == stateScanned && next == stateIndexBuilt
}

// advance moves the run to next. An illegal transition is a bug in this
// package, so it panics.
func (r *queryRun) advance(next queryState) {
	if !r.canAdvance(next) {
		panic(fmt.Sprintf("locality: illegal %v query transition %v -> %v", r.mode, r.state, next))
	}
	if next == stateIndexBuilt && r.state == stateScanned {
		r.rebuilt++
	}
	r.state = next
	if r.verbose && next == stateAssembled {
		monitoring.Logf("[locality] %v query assembled in %v (%d index rebuilds)", r.mode, time.Since(r.started), r.rebuilt)
	}
}
