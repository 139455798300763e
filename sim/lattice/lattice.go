// Package lattice maps the coordinates of a periodic, possibly multi-site lattice
// to linear site numbers and back.
//
// Site numbers are 1-indexed and dense in [1, Volume()]. A coordinate is the
// unit cell (X, Y, Z) plus the slot of the site inside the cell, Slot in [1, S].
// Axes beyond the dimensionality of the system have extent 1.
//
// The reverse table covers three copies of the system along every axis, so a
// relative lookup from any base cell by at most one system extent never needs a
// modulo at simulation time.
package lattice

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidGeometry is returned for non-positive system sizes or slot counts.
	ErrInvalidGeometry = errors.New("invalid lattice geometry")
	// ErrAddressingInconsistent signals an arithmetic bug in the address tables.
	ErrAddressingInconsistent = errors.New("lattice addressing inconsistent")
)

// Coord is a lattice coordinate: unit cell plus slot inside the cell.
type Coord struct {
	X, Y, Z int
	Slot    int
}

// Add shifts the cell part of c by d; the slot is left untouched.
func (c Coord) Add(d [3]int) Coord {
	return Coord{X: c.X + d[0], Y: c.Y + d[1], Z: c.Z + d[2], Slot: c.Slot}
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d,%d)#%d", c.X, c.Y, c.Z, c.Slot)
}

// Rel addresses a site relative to the cell of another site: a whole-cell
// offset plus the slot of the target site.
type Rel struct {
	Offset [3]int
	Slot   int
}

// IsZero reports whether r has no cell offset.
func (r Rel) IsZero() bool {
	return r.Offset == [3]int{}
}

func (r Rel) String() string {
	return fmt.Sprintf("(%d,%d,%d)#%d", r.Offset[0], r.Offset[1], r.Offset[2], r.Slot)
}

// Table holds the forward (site number -> coordinate) and reverse
// (coordinate -> site number) address tables of one system.
//
// Thread-safety: immutable after Allocate; safe for concurrent readers.
type Table struct {
	dim    int
	size   [3]int
	slots  int
	volume int

	// The reverse table covers [-lo, span-lo) per axis: three copies of an
	// active axis, one cell on an inactive one.
	lo   [3]int
	span [3]int

	nr2lattice []Coord // indexed by site number - 1
	lattice2nr []int   // see reverseIndex
}

// Allocate builds and self-verifies the address tables for a system of the
// given size (one extent per active dimension) with slots sites per unit cell.
func Allocate(systemSize []int, slots int) (*Table, error) {
	if len(systemSize) < 1 || len(systemSize) > 3 {
		return nil, fmt.Errorf("%w: dimensionality must be 1, 2 or 3, got %d", ErrInvalidGeometry, len(systemSize))
	}
	if slots < 1 {
		return nil, fmt.Errorf("%w: sites per unit cell must be positive, got %d", ErrInvalidGeometry, slots)
	}
	t := &Table{dim: len(systemSize), size: [3]int{1, 1, 1}, slots: slots}
	for i, n := range systemSize {
		if n < 1 {
			return nil, fmt.Errorf("%w: system size along axis %d must be positive, got %d", ErrInvalidGeometry, i, n)
		}
		t.size[i] = n
	}
	t.volume = t.size[0] * t.size[1] * t.size[2] * slots

	t.nr2lattice = make([]Coord, t.volume)
	for z := 0; z < t.size[2]; z++ {
		for y := 0; y < t.size[1]; y++ {
			for x := 0; x < t.size[0]; x++ {
				for s := 1; s <= slots; s++ {
					c := Coord{X: x, Y: y, Z: z, Slot: s}
					t.nr2lattice[t.Encode(c)-1] = c
				}
			}
		}
	}

	t.span = [3]int{1, 1, 1}
	for i := 0; i < t.dim; i++ {
		t.lo[i] = t.size[i]
		t.span[i] = 3 * t.size[i]
	}
	t.lattice2nr = make([]int, t.span[0]*t.span[1]*t.span[2]*slots)
	lo := t.lo
	for z := -lo[2]; z < t.span[2]-lo[2]; z++ {
		for y := -lo[1]; y < t.span[1]-lo[1]; y++ {
			for x := -lo[0]; x < t.span[0]-lo[0]; x++ {
				for s := 1; s <= slots; s++ {
					c := Coord{X: x, Y: y, Z: z, Slot: s}
					t.lattice2nr[t.reverseIndex(c)] = t.Encode(c)
				}
			}
		}
	}

	if err := t.verify(); err != nil {
		return nil, err
	}
	return t, nil
}

// Encode maps any coordinate, wrapped periodically into the base cell, to its
// site number. Axes of extent 1 contribute nothing, which yields the 1D and 2D
// forms of the row-major mixed-radix formula.
func (t *Table) Encode(c Coord) int {
	x := mod(c.X, t.size[0])
	y := mod(c.Y, t.size[1])
	z := mod(c.Z, t.size[2])
	s := t.slots
	return c.Slot + s*x + s*t.size[0]*y + s*t.size[0]*t.size[1]*z
}

// Decode returns the base-cell coordinate of a site number.
// Panics if site is outside [1, Volume()].
func (t *Table) Decode(site int) Coord {
	return t.nr2lattice[site-1]
}

// Neighbor returns the site reached from site by the relative address r.
// |r.Offset| must not exceed the system size on any active axis and must be
// zero on inactive ones (see Reaches).
func (t *Table) Neighbor(site int, r Rel) int {
	c := t.nr2lattice[site-1]
	return t.lattice2nr[t.reverseIndex(Coord{
		X:    c.X + r.Offset[0],
		Y:    c.Y + r.Offset[1],
		Z:    c.Z + r.Offset[2],
		Slot: r.Slot,
	})]
}

// Reaches reports whether offsets of the given per-axis magnitude stay inside
// the reverse table.
func (t *Table) Reaches(extent [3]int) bool {
	for i := range 3 {
		limit := t.size[i]
		if i >= t.dim {
			limit = 0
		}
		if extent[i] < 0 || extent[i] > limit {
			return false
		}
	}
	return true
}

// Contains reports whether site is a valid site number.
func (t *Table) Contains(site int) bool {
	return site >= 1 && site <= t.volume
}

// Volume is the number of sites in the system.
func (t *Table) Volume() int { return t.volume }

// Cells is the number of unit cells in the system.
func (t *Table) Cells() int { return t.size[0] * t.size[1] * t.size[2] }

// Slots is the number of sites per unit cell.
func (t *Table) Slots() int { return t.slots }

// Dim is the dimensionality of the system.
func (t *Table) Dim() int { return t.dim }

// Size returns the system extent on all three axes; inactive axes are 1.
func (t *Table) Size() [3]int { return t.size }

func (t *Table) reverseIndex(c Coord) int {
	lo := t.lo
	cell := ((c.Z+lo[2])*t.span[1]+(c.Y+lo[1]))*t.span[0] + (c.X + lo[0])
	return cell*t.slots + c.Slot - 1
}

func (t *Table) verify() error {
	for site := 1; site <= t.volume; site++ {
		if got := t.Encode(t.Decode(site)); got != site {
			return fmt.Errorf("%w: site %d decodes to %v which encodes to %d", ErrAddressingInconsistent, site, t.Decode(site), got)
		}
	}
	for z := 0; z < t.size[2]; z++ {
		for y := 0; y < t.size[1]; y++ {
			for x := 0; x < t.size[0]; x++ {
				for s := 1; s <= t.slots; s++ {
					c := Coord{X: x, Y: y, Z: z, Slot: s}
					if got := t.Decode(t.Encode(c)); got != c {
						return fmt.Errorf("%w: %v encodes to %d which decodes to %v", ErrAddressingInconsistent, c, t.Encode(c), got)
					}
					if got := t.lattice2nr[t.reverseIndex(c)]; got != t.Encode(c) {
						return fmt.Errorf("%w: reverse table maps %v to %d, want %d", ErrAddressingInconsistent, c, got, t.Encode(c))
					}
				}
			}
		}
	}
	return nil
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
