package box

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrConfiguration is returned when a Box cannot be constructed from the
// supplied geometry, or when a 3D-only operation is requested on a 2D box.
var ErrConfiguration = errors.New("invalid box configuration")

// Image is an integer lattice shift (counts along a1, a2, a3).
type Image [3]int32

// Neg returns the opposite shift.
func (img Image) Neg() Image {
	return Image{-img[0], -img[1], -img[2]}
}

// Box is a periodic triclinic simulation cell.
type Box struct {
	lx, ly, lz float64
	xy, xz, yz float64
	is2D       bool

	// lattice holds a1, a2, a3 as columns of an upper triangular matrix.
	lattice [3][3]float64
	// inverse is lattice^-1, also upper triangular.
	inverse [3][3]float64
}

// New constructs a Box from edge lengths and tilt factors. In 2D mode lz
// and the xz/yz tilts are ignored and stored as zero.
func New(lx, ly, lz, xy, xz, yz float64, is2D bool) (Box, error) {
	if is2D {
		lz, xz, yz = 0, 0, 0
	}
	for _, v := range []float64{lx, ly, lz, xy, xz, yz} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Box{}, fmt.Errorf("%w: non-finite box parameter %v", ErrConfiguration, v)
		}
	}
	if lx <= 0 || ly <= 0 {
		return Box{}, fmt.Errorf("%w: edge lengths must be positive, got Lx=%g Ly=%g", ErrConfiguration, lx, ly)
	}
	if !is2D && lz <= 0 {
		return Box{}, fmt.Errorf("%w: Lz must be positive for a 3D box, got %g", ErrConfiguration, lz)
	}

	b := Box{lx: lx, ly: ly, lz: lz, xy: xy, xz: xz, yz: yz, is2D: is2D}

	b.lattice = [3][3]float64{
		{lx, xy * ly, xz * lz},
		{0, ly, yz * lz},
		{0, 0, lz},
	}

	b.inverse[0][0] = 1 / lx
	b.inverse[0][1] = -xy / lx
	b.inverse[1][1] = 1 / ly
	if !is2D {
		b.inverse[0][2] = (xy*yz - xz) / lx
		b.inverse[1][2] = -yz / ly
		b.inverse[2][2] = 1 / lz
	}
	return b, nil
}

// Cube returns a cubic 3D box of side l.
func Cube(l float64) (Box, error) {
	return New(l, l, l, 0, 0, 0, false)
}

// Square returns a square 2D box of side l.
func Square(l float64) (Box, error) {
	return New(l, l, 0, 0, 0, 0, true)
}

// Lx returns the edge length along x.
func (b Box) Lx() float64 { return b.lx }

// Ly returns the edge length along y.
func (b Box) Ly() float64 { return b.ly }

// Lz returns the edge length along z (zero for 2D boxes).
func (b Box) Lz() float64 { return b.lz }

// Tilts returns the xy, xz and yz tilt factors.
func (b Box) Tilts() (xy, xz, yz float64) { return b.xy, b.xz, b.yz }

// Is2D reports whether the box is two dimensional.
func (b Box) Is2D() bool { return b.is2D }

// Dimensions returns 2 or 3.
func (b Box) Dimensions() int {
	if b.is2D {
		return 2
	}
	return 3
}

// Volume returns the cell volume, or its area for 2D boxes.
func (b Box) Volume() float64 {
	if b.is2D {
		return b.lx * b.ly
	}
	return b.lx * b.ly * b.lz
}

// LatticeVector returns lattice vector i (0, 1 or 2). Requesting the third
// lattice vector of a 2D box is an error.
func (b Box) LatticeVector(i int) (r3.Vec, error) {
	if i < 0 || i > 2 {
		return r3.Vec{}, fmt.Errorf("%w: lattice vector index %d out of range", ErrConfiguration, i)
	}
	if i == 2 && b.is2D {
		return r3.Vec{}, fmt.Errorf("%w: 2D box has no third lattice vector", ErrConfiguration)
	}
	return r3.Vec{X: b.lattice[0][i], Y: b.lattice[1][i], Z: b.lattice[2][i]}, nil
}

// Require3D returns an error for 2D boxes. Callers that need z-axis
// periodicity should check it up front instead of relying on z being
// silently ignored.
func (b Box) Require3D() error {
	if b.is2D {
		return fmt.Errorf("%w: operation requires a 3D box", ErrConfiguration)
	}
	return nil
}

// NearestPlaneDistance returns the spacing between opposite faces of the
// cell measured perpendicular to each pair of faces. For orthorhombic boxes
// this equals the edge lengths. Z is zero for 2D boxes.
func (b Box) NearestPlaneDistance() r3.Vec {
	d := r3.Vec{
		X: 1 / math.Sqrt(sq(b.inverse[0][0])+sq(b.inverse[0][1])+sq(b.inverse[0][2])),
		Y: 1 / math.Sqrt(sq(b.inverse[1][1])+sq(b.inverse[1][2])),
	}
	if !b.is2D {
		d.Z = b.lz
	}
	return d
}

// MinHalfDimension is half the smallest nearest-plane distance over the
// periodic axes. A cutoff must stay strictly below it for the minimum
// image of every displacement within the cutoff to be unique.
func (b Box) MinHalfDimension() float64 {
	d := b.NearestPlaneDistance()
	m := math.Min(d.X, d.Y)
	if !b.is2D {
		m = math.Min(m, d.Z)
	}
	return m / 2
}

// MakeFractional maps a Cartesian position to fractional coordinates where
// the canonical cell spans [0, 1) on every periodic axis. Z is zero in 2D.
func (b Box) MakeFractional(p r3.Vec) r3.Vec {
	f := b.toLattice(p)
	f.X += 0.5
	f.Y += 0.5
	if !b.is2D {
		f.Z += 0.5
	}
	return f
}

// MakeAbsolute is the inverse of MakeFractional. In 2D the returned z is
// zero.
func (b Box) MakeAbsolute(f r3.Vec) r3.Vec {
	f.X -= 0.5
	f.Y -= 0.5
	if b.is2D {
		f.Z = 0
	} else {
		f.Z -= 0.5
	}
	return b.fromLattice(f)
}

// Wrap maps p to its periodic image inside the canonical cell. Positions
// already inside the cell are returned unchanged. In 2D the z component
// is passed through untouched.
func (b Box) Wrap(p r3.Vec) r3.Vec {
	f := b.MakeFractional(p)
	if b.canonical(f) {
		return p
	}
	f.X = unitFrac(f.X)
	f.Y = unitFrac(f.Y)
	if !b.is2D {
		f.Z = unitFrac(f.Z)
	}

	// The round trip through Cartesian space can land a few ulps outside
	// [0, 1); step the offending fractions inward until it does not.
	step := 0x1p-52
	for range 64 {
		w := b.MakeAbsolute(f)
		if b.is2D {
			w.Z = p.Z
		}
		fw := b.MakeFractional(w)
		if b.canonical(fw) {
			return w
		}
		f.X = nudge(f.X, fw.X, step)
		f.Y = nudge(f.Y, fw.Y, step)
		if !b.is2D {
			f.Z = nudge(f.Z, fw.Z, step)
		}
		step *= 2
	}
	return b.MakeAbsolute(f)
}

// unitFrac reduces f to [0, 1).
func unitFrac(f float64) float64 {
	f -= math.Floor(f)
	if f >= 1 {
		return 0
	}
	return f
}

func nudge(f, got, step float64) float64 {
	switch {
	case got >= 1:
		return math.Max(f-step, 0)
	case got < 0:
		return math.Min(f+step, math.Nextafter(1, 0))
	}
	return f
}

// MaxImage bounds the fractional coordinates of positions whose image
// shifts are exact as an Image. Displacements between two such positions
// still fit in int32.
const MaxImage = 1 << 30

// Representable reports whether every periodic fractional coordinate of p
// lies within MaxImage, so that ImageOf on differences of such positions
// cannot overflow.
func (b Box) Representable(p r3.Vec) bool {
	f := b.toLattice(p)
	if math.Abs(f.X) > MaxImage || math.Abs(f.Y) > MaxImage {
		return false
	}
	return b.is2D || math.Abs(f.Z) <= MaxImage
}

// ImageOf returns the integer lattice shift that MinimumImage subtracts
// from d. Components saturate at the int32 range; callers holding
// positions that are not Representable must use MinimumImage directly.
func (b Box) ImageOf(d r3.Vec) Image {
	f := b.toLattice(d)
	img := Image{toImage(math.Round(f.X)), toImage(math.Round(f.Y)), 0}
	if !b.is2D {
		img[2] = toImage(math.Round(f.Z))
	}
	return img
}

func toImage(v float64) int32 {
	switch {
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

// MinimumImage returns the shortest periodic equivalent of displacement d.
// The shift is computed in floating point, so any finite d is safe.
func (b Box) MinimumImage(d r3.Vec) r3.Vec {
	f := b.toLattice(d)
	s := r3.Vec{X: math.Round(f.X), Y: math.Round(f.Y)}
	if !b.is2D {
		s.Z = math.Round(f.Z)
	}
	return r3.Sub(d, b.fromLattice(s))
}

// Distance is the minimum-image Euclidean distance between p and q.
func (b Box) Distance(p, q r3.Vec) float64 {
	return r3.Norm(b.MinimumImage(r3.Sub(p, q)))
}

// Shift translates p by the lattice combination img.
func (b Box) Shift(p r3.Vec, img Image) r3.Vec {
	if img == (Image{}) {
		return p
	}
	return r3.Add(p, b.fromLattice(r3.Vec{X: float64(img[0]), Y: float64(img[1]), Z: float64(img[2])}))
}

// Unwrap restores a wrapped position using the image it was wrapped from.
func (b Box) Unwrap(p r3.Vec, img Image) r3.Vec {
	return b.Shift(p, img)
}

// String implements fmt.Stringer.
func (b Box) String() string {
	if b.is2D {
		return fmt.Sprintf("Box2D(Lx=%g, Ly=%g, xy=%g)", b.lx, b.ly, b.xy)
	}
	return fmt.Sprintf("Box(Lx=%g, Ly=%g, Lz=%g, xy=%g, xz=%g, yz=%g)", b.lx, b.ly, b.lz, b.xy, b.xz, b.yz)
}

func (b Box) toLattice(p r3.Vec) r3.Vec {
	m := &b.inverse
	if b.is2D {
		return r3.Vec{
			X: m[0][0]*p.X + m[0][1]*p.Y,
			Y: m[1][1] * p.Y,
		}
	}
	return r3.Vec{
		X: m[0][0]*p.X + m[0][1]*p.Y + m[0][2]*p.Z,
		Y: m[1][1]*p.Y + m[1][2]*p.Z,
		Z: m[2][2] * p.Z,
	}
}

func (b Box) fromLattice(s r3.Vec) r3.Vec {
	m := &b.lattice
	return r3.Vec{
		X: m[0][0]*s.X + m[0][1]*s.Y + m[0][2]*s.Z,
		Y: m[1][1]*s.Y + m[1][2]*s.Z,
		Z: m[2][2] * s.Z,
	}
}

func (b Box) canonical(f r3.Vec) bool {
	if f.X < 0 || f.X >= 1 || f.Y < 0 || f.Y >= 1 {
		return false
	}
	return b.is2D || (f.Z >= 0 && f.Z < 1)
}

func sq(v float64) float64 { return v * v }
