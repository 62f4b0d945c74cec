// Package lattice builds synthetic particle configurations: FCC crystals,
// uniform random fills and jittered copies of either.
package lattice

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/locality/internal/box"
)

// fccBasis is the four-site conventional FCC cell in units of the lattice
// constant.
var fccBasis = [4]r3.Vec{
	{X: 0, Y: 0, Z: 0},
	{X: 0, Y: 0.5, Z: 0.5},
	{X: 0.5, Y: 0, Z: 0.5},
	{X: 0.5, Y: 0.5, Z: 0},
}

// FCC builds an nx*ny*nz block of conventional FCC cells with lattice
// constant a, 4*nx*ny*nz points, in the orthorhombic box that tiles it
// periodically. Every point has 12 nearest neighbours at a/sqrt(2).
func FCC(nx, ny, nz int, a float64) (box.Box, []r3.Vec, error) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return box.Box{}, nil, fmt.Errorf("fcc repeats must be positive, got %dx%dx%d", nx, ny, nz)
	}
	b, err := box.New(float64(nx)*a, float64(ny)*a, float64(nz)*a, 0, 0, 0, false)
	if err != nil {
		return box.Box{}, nil, fmt.Errorf("failed to build fcc box: %w", err)
	}
	origin := r3.Vec{X: b.Lx() / 2, Y: b.Ly() / 2, Z: b.Lz() / 2}
	points := make([]r3.Vec, 0, 4*nx*ny*nz)
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			for k := 0; k < nz; k++ {
				cell := r3.Vec{X: float64(i), Y: float64(j), Z: float64(k)}
				for _, s := range fccBasis {
					p := r3.Scale(a, r3.Add(cell, s))
					points = append(points, b.Wrap(r3.Sub(p, origin)))
				}
			}
		}
	}
	return b, points, nil
}

// Jitter returns a copy of points each displaced by a uniform random
// offset in [-amount, amount] per axis. z is left alone in 2D boxes.
func Jitter(rng *rand.Rand, b box.Box, points []r3.Vec, amount float64) []r3.Vec {
	out := make([]r3.Vec, len(points))
	for i, p := range points {
		p.X += (rng.Float64()*2 - 1) * amount
		p.Y += (rng.Float64()*2 - 1) * amount
		if !b.Is2D() {
			p.Z += (rng.Float64()*2 - 1) * amount
		}
		out[i] = b.Wrap(p)
	}
	return out
}

// UniformPoints draws n points uniformly from the box. In 2D boxes z is
// zero.
func UniformPoints(rng *rand.Rand, b box.Box, n int) []r3.Vec {
	points := make([]r3.Vec, n)
	for i := range points {
		f := r3.Vec{X: rng.Float64(), Y: rng.Float64()}
		if !b.Is2D() {
			f.Z = rng.Float64()
		}
		points[i] = b.MakeAbsolute(f)
	}
	return points
}
