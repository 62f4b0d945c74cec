package monitoring

import (
	"log"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Timed starts a stage timer and returns the func that stops it. When
// enabled is false the returned func does nothing, so callers can defer it
// unconditionally.
//
//	defer monitoring.Timed(verbose, "build cell list")()
func Timed(enabled bool, stage string) func() {
	if !enabled {
		return func() {}
	}
	start := time.Now()
	return func() {
		Logf("[locality] %s took %v", stage, time.Since(start))
	}
}
