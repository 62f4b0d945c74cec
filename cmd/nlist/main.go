// Command nlist builds a synthetic particle configuration, runs one
// neighbour query over it and prints neighbour-count statistics.
//
//	nlist -lattice fcc -cells 4 -a 4.41525 -rmax 3.7
//	nlist -lattice random -n 10000 -box 31 -mode nearest -k 12
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/locality/internal/box"
	"github.com/banshee-data/locality/internal/config"
	"github.com/banshee-data/locality/internal/lattice"
	"github.com/banshee-data/locality/internal/locality"
	"github.com/banshee-data/locality/internal/version"
)

// options holds parsed command-line settings.
type options struct {
	configPath string
	lattice    string
	cells      int
	a          float64
	n          int
	boxL       float64
	seed       int64
	mode       string
	rMax       float64
	k          int
	workers    int
	self       string
	showVer    bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("nlist", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Path to tuning JSON (built-in defaults when empty)")
	fs.StringVar(&o.lattice, "lattice", "fcc", "Configuration: fcc or random")
	fs.IntVar(&o.cells, "cells", 4, "FCC unit cells per axis")
	fs.Float64Var(&o.a, "a", 17.661/4, "FCC lattice constant")
	fs.IntVar(&o.n, "n", 1000, "Number of random points")
	fs.Float64Var(&o.boxL, "box", 10, "Cubic box side for random points")
	fs.Int64Var(&o.seed, "seed", 1, "Random seed")
	fs.StringVar(&o.mode, "mode", "ball", "Query mode: ball or nearest")
	fs.Float64Var(&o.rMax, "rmax", 0, "Ball cutoff (tuning default_r_max when 0)")
	fs.IntVar(&o.k, "k", 0, "Neighbour count (tuning default_num_neighbors when 0)")
	fs.IntVar(&o.workers, "workers", 0, "Worker goroutines (tuning workers when 0)")
	fs.StringVar(&o.self, "self", "exclude-coincident", "Self policy: exclude-coincident, exclude-same-index or include-self")
	fs.BoolVar(&o.showVer, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

func parseSelf(s string) (locality.SelfPolicy, error) {
	for _, p := range []locality.SelfPolicy{locality.ExcludeCoincident, locality.ExcludeSameIndex, locality.IncludeSelf} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown self policy %q", s)
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tuning config: %w", err)
	}
	return cfg, nil
}

func buildConfiguration(o *options) (box.Box, []r3.Vec, error) {
	switch o.lattice {
	case "fcc":
		return lattice.FCC(o.cells, o.cells, o.cells, o.a)
	case "random":
		b, err := box.Cube(o.boxL)
		if err != nil {
			return box.Box{}, nil, err
		}
		if o.n <= 0 {
			return box.Box{}, nil, fmt.Errorf("point count must be positive, got %d", o.n)
		}
		return b, lattice.UniformPoints(rand.New(rand.NewSource(o.seed)), b, o.n), nil
	default:
		return box.Box{}, nil, fmt.Errorf("unknown lattice %q", o.lattice)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.showVer {
		fmt.Fprintln(stdout, version.String("nlist"))
		return nil
	}

	cfg, err := loadTuning(o.configPath)
	if err != nil {
		return err
	}
	if o.workers > 0 {
		cfg.Workers = &o.workers
	}
	self, err := parseSelf(o.self)
	if err != nil {
		return err
	}

	qa := locality.QueryArgs{Self: self}
	switch o.mode {
	case "ball":
		qa.Mode = locality.ModeBall
		qa.RMax = o.rMax
		if qa.RMax == 0 {
			qa.RMax = cfg.GetDefaultRMax()
		}
	case "nearest":
		qa.Mode = locality.ModeNearest
		qa.NumNeighbors = o.k
		if qa.NumNeighbors == 0 {
			qa.NumNeighbors = cfg.GetDefaultNumNeighbors()
		}
	default:
		return fmt.Errorf("unknown mode %q", o.mode)
	}

	b, points, err := buildConfiguration(o)
	if err != nil {
		return fmt.Errorf("failed to build configuration: %w", err)
	}

	e := locality.EngineFromTuning(cfg)
	start := time.Now()
	nl, err := e.Query(b, points, points, qa)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	elapsed := time.Since(start)

	s := nl.CountSummary()
	fmt.Fprintf(stdout, "box:       %v\n", b)
	fmt.Fprintf(stdout, "points:    %d\n", len(points))
	fmt.Fprintf(stdout, "query:     %v r_max=%g k=%d self=%v\n", qa.Mode, qa.RMax, qa.NumNeighbors, qa.Self)
	fmt.Fprintf(stdout, "bonds:     %d\n", nl.Len())
	fmt.Fprintf(stdout, "neighbors: mean=%.3f std=%.3f min=%d max=%d mode=%d (%.1f%%)\n",
		s.Mean, s.StdDev, s.Min, s.Max, s.Mode, 100*s.ModeFraction)
	fmt.Fprintf(stdout, "elapsed:   %v\n", elapsed)
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("nlist: %v", err)
	}
}
