package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for neighbour-query tuning.
// Every field is optional; the Get* accessors supply defaults for anything
// omitted from the JSON file.
type TuningConfig struct {
	// Scheduling params
	Workers           *int `json:"workers,omitempty"`            // 0 or omitted means runtime.NumCPU()
	ParallelThreshold *int `json:"parallel_threshold,omitempty"` // query points below this run inline
	MaxCells          *int `json:"max_cells,omitempty"`          // upper bound on cell-list grid size

	// k-nearest search params
	KNNScale  *float64 `json:"knn_scale,omitempty"`  // multiplier on the density-estimated start radius
	KNNGrowth *float64 `json:"knn_growth,omitempty"` // radius multiplier per widening step

	// Self-pair policy
	SelfTolerance *float64 `json:"self_tolerance,omitempty"` // bonds at or below this distance are coincident

	// Query defaults used by cmd/nlist
	DefaultRMax         *float64 `json:"default_r_max,omitempty"`
	DefaultNumNeighbors *int     `json:"default_num_neighbors,omitempty"`

	// Diagnostics
	VerboseTiming *bool `json:"verbose_timing,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	empty := EmptyTuningConfig()
	return &TuningConfig{
		Workers:             ptrInt(0),
		ParallelThreshold:   ptrInt(empty.GetParallelThreshold()),
		MaxCells:            ptrInt(empty.GetMaxCells()),
		KNNScale:            ptrFloat64(empty.GetKNNScale()),
		KNNGrowth:           ptrFloat64(empty.GetKNNGrowth()),
		SelfTolerance:       ptrFloat64(empty.GetSelfTolerance()),
		DefaultRMax:         ptrFloat64(empty.GetDefaultRMax()),
		DefaultNumNeighbors: ptrInt(empty.GetDefaultNumNeighbors()),
		VerboseTiming:       ptrBool(empty.GetVerboseTiming()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,       // from cmd/nlist/
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}

	if c.ParallelThreshold != nil && *c.ParallelThreshold < 0 {
		return fmt.Errorf("parallel_threshold must be non-negative, got %d", *c.ParallelThreshold)
	}

	if c.MaxCells != nil && *c.MaxCells < 1 {
		return fmt.Errorf("max_cells must be at least 1, got %d", *c.MaxCells)
	}

	if c.KNNScale != nil && *c.KNNScale <= 0 {
		return fmt.Errorf("knn_scale must be positive, got %f", *c.KNNScale)
	}

	// A growth factor of 1 would never widen the search.
	if c.KNNGrowth != nil && *c.KNNGrowth <= 1 {
		return fmt.Errorf("knn_growth must be greater than 1, got %f", *c.KNNGrowth)
	}

	if c.SelfTolerance != nil && *c.SelfTolerance < 0 {
		return fmt.Errorf("self_tolerance must be non-negative, got %g", *c.SelfTolerance)
	}

	if c.DefaultRMax != nil && *c.DefaultRMax <= 0 {
		return fmt.Errorf("default_r_max must be positive, got %f", *c.DefaultRMax)
	}

	if c.DefaultNumNeighbors != nil && *c.DefaultNumNeighbors < 1 {
		return fmt.Errorf("default_num_neighbors must be at least 1, got %d", *c.DefaultNumNeighbors)
	}

	return nil
}

// GetWorkers returns the worker count, resolving 0 to runtime.NumCPU().
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetParallelThreshold returns the parallel_threshold value or the default.
func (c *TuningConfig) GetParallelThreshold() int {
	if c.ParallelThreshold == nil {
		return 512
	}
	return *c.ParallelThreshold
}

// GetMaxCells returns the max_cells value or the default.
func (c *TuningConfig) GetMaxCells() int {
	if c.MaxCells == nil {
		return 1 << 22
	}
	return *c.MaxCells
}

// GetKNNScale returns the knn_scale value or the default.
func (c *TuningConfig) GetKNNScale() float64 {
	if c.KNNScale == nil {
		return 1.1
	}
	return *c.KNNScale
}

// GetKNNGrowth returns the knn_growth value or the default.
func (c *TuningConfig) GetKNNGrowth() float64 {
	if c.KNNGrowth == nil {
		return 2.0 // doubling
	}
	return *c.KNNGrowth
}

// GetSelfTolerance returns the self_tolerance value or the default.
func (c *TuningConfig) GetSelfTolerance() float64 {
	if c.SelfTolerance == nil {
		return 1e-6
	}
	return *c.SelfTolerance
}

// GetDefaultRMax returns the default_r_max value or the default.
func (c *TuningConfig) GetDefaultRMax() float64 {
	if c.DefaultRMax == nil {
		return 3.7
	}
	return *c.DefaultRMax
}

// GetDefaultNumNeighbors returns the default_num_neighbors value or the default.
func (c *TuningConfig) GetDefaultNumNeighbors() int {
	if c.DefaultNumNeighbors == nil {
		return 12
	}
	return *c.DefaultNumNeighbors
}

// GetVerboseTiming returns the verbose_timing value or the default.
func (c *TuningConfig) GetVerboseTiming() bool {
	if c.VerboseTiming == nil {
		return false
	}
	return *c.VerboseTiming
}
