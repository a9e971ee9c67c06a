package l3map

import "iter"

// FlatGrid is a dense contiguous 3D block of (2^bits)³ cells of value type
// V, stored in z-major flat order: flat = ((z<<bits)+y)<<bits + x. Each
// dimension admits indices in [0, 2^bits). Size is constant; FlatGrid never
// grows.
type FlatGrid[V comparable] struct {
	bits  int
	size  int // 1 << bits
	cells []V
}

// NewFlatGrid constructs a FlatGrid with all cells default-valued.
func NewFlatGrid[V comparable](bits int) *FlatGrid[V] {
	size := 1 << bits
	return &FlatGrid[V]{
		bits:  bits,
		size:  size,
		cells: make([]V, size*size*size),
	}
}

// Size returns the per-axis cell count, 2^bits.
func (g *FlatGrid[V]) Size() int { return g.size }

func (g *FlatGrid[V]) flatIndex(x, y, z int) int {
	return ((z<<uint(g.bits))+y)<<uint(g.bits) + x
}

// Value returns the stored value at idx. Precondition: each coordinate in
// [0, Size()); violating it is a programming error.
func (g *FlatGrid[V]) Value(x, y, z int) V {
	assertf(x >= 0 && x < g.size && y >= 0 && y < g.size && z >= 0 && z < g.size,
		"FlatGrid.Value: index (%d,%d,%d) out of range [0,%d)", x, y, z, g.size)
	return g.cells[g.flatIndex(x, y, z)]
}

// MutableValue returns a mutable reference to the slot, unconditionally
// (no lazy allocation needed at this level — the backing array always
// exists). Precondition: each coordinate in [0, Size()).
func (g *FlatGrid[V]) MutableValue(x, y, z int) *V {
	assertf(x >= 0 && x < g.size && y >= 0 && y < g.size && z >= 0 && z < g.size,
		"FlatGrid.MutableValue: index (%d,%d,%d) out of range [0,%d)", x, y, z, g.size)
	return &g.cells[g.flatIndex(x, y, z)]
}

// All yields (x,y,z) and value for every cell whose value is not the zero
// value of V, in strictly ascending flat-index order.
func (g *FlatGrid[V]) All() iter.Seq2[[3]int, V] {
	return func(yield func([3]int, V) bool) {
		var zero V
		idx := 0
		for z := 0; z < g.size; z++ {
			for y := 0; y < g.size; y++ {
				for x := 0; x < g.size; x++ {
					v := g.cells[idx]
					idx++
					if v == zero {
						continue
					}
					if !yield([3]int{x, y, z}, v) {
						return
					}
				}
			}
		}
	}
}
