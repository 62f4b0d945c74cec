// Package box owns the periodic simulation cell geometry.
//
// Responsibilities: coordinate wrapping, minimum-image displacements,
// fractional/Cartesian conversion and lattice bookkeeping for triclinic
// (sheared) cells in two or three dimensions.
// Key types: Box, Image.
//
// The cell follows the HOOMD convention: it is centred on the origin and
// spanned by the lattice vectors
//
//	a1 = (Lx, 0, 0)
//	a2 = (xy*Ly, Ly, 0)
//	a3 = (xz*Lz, yz*Lz, Lz)
//
// Box values are immutable and safe for concurrent use.
//
// Dependency rule: box depends on nothing else in this module.
package box
