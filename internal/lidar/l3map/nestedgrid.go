package l3map

import "iter"

// NestedGrid is a fixed (2^bits)³ array of optional owning handles to a
// FlatGrid sub-block. Each handle is null until the first mutable access
// into its sub-range. Addressable range per axis is [0, size*subSize).
type NestedGrid[V comparable] struct {
	bits    int
	size    int // M = 2^bits, meta cells per dimension
	subBits int // bit-width of each wrapped FlatGrid
	subSize int // S = size(FlatGrid) = 2^subBits
	subs    []*FlatGrid[V]
}

// NewNestedGrid constructs a NestedGrid of bits meta cells per axis, each
// lazily wrapping a FlatGrid of subBits bits per axis.
func NewNestedGrid[V comparable](bits, subBits int) *NestedGrid[V] {
	size := 1 << bits
	return &NestedGrid[V]{
		bits:    bits,
		size:    size,
		subBits: subBits,
		subSize: 1 << subBits,
		subs:    make([]*FlatGrid[V], size*size*size),
	}
}

// Size returns the total addressable linear cell count per axis, M*S.
func (g *NestedGrid[V]) Size() int { return g.size * g.subSize }

func (g *NestedGrid[V]) metaIndex(mx, my, mz int) int {
	return ((mz<<uint(g.bits))+my)<<uint(g.bits) + mx
}

func split(idx, subSize int) (meta, inner int) {
	meta = idx / subSize
	inner = idx - meta*subSize
	return
}

// Value returns the stored value at idx, or the zero value of V if the
// covering FlatGrid sub-block was never allocated. Precondition: each
// coordinate in [0, Size()).
func (g *NestedGrid[V]) Value(x, y, z int) V {
	mx, ix := split(x, g.subSize)
	my, iy := split(y, g.subSize)
	mz, iz := split(z, g.subSize)
	assertf(mx >= 0 && mx < g.size && my >= 0 && my < g.size && mz >= 0 && mz < g.size,
		"NestedGrid.Value: index (%d,%d,%d) out of range [0,%d)", x, y, z, g.Size())
	sub := g.subs[g.metaIndex(mx, my, mz)]
	if sub == nil {
		var zero V
		return zero
	}
	return sub.Value(ix, iy, iz)
}

// MutableValue returns a mutable reference to the slot, lazily allocating
// the covering FlatGrid on first access. The returned reference remains
// valid until the NestedGrid is destroyed.
func (g *NestedGrid[V]) MutableValue(x, y, z int) *V {
	mx, ix := split(x, g.subSize)
	my, iy := split(y, g.subSize)
	mz, iz := split(z, g.subSize)
	assertf(mx >= 0 && mx < g.size && my >= 0 && my < g.size && mz >= 0 && mz < g.size,
		"NestedGrid.MutableValue: index (%d,%d,%d) out of range [0,%d)", x, y, z, g.Size())
	metaIdx := g.metaIndex(mx, my, mz)
	sub := g.subs[metaIdx]
	if sub == nil {
		sub = NewFlatGrid[V](g.subBits)
		g.subs[metaIdx] = sub
	}
	return sub.MutableValue(ix, iy, iz)
}

// All composes the outer meta-cell traversal (flat z-major order over meta
// indices) with each sub-grid's iterator, yielding (meta*S+inner, value)
// for every non-default cell.
func (g *NestedGrid[V]) All() iter.Seq2[[3]int, V] {
	return func(yield func([3]int, V) bool) {
		metaIdx := 0
		for mz := 0; mz < g.size; mz++ {
			for my := 0; my < g.size; my++ {
				for mx := 0; mx < g.size; mx++ {
					sub := g.subs[metaIdx]
					metaIdx++
					if sub == nil {
						continue
					}
					ox, oy, oz := mx*g.subSize, my*g.subSize, mz*g.subSize
					for inner, v := range sub.All() {
						full := [3]int{ox + inner[0], oy + inner[1], oz + inner[2]}
						if !yield(full, v) {
							return
						}
					}
				}
			}
		}
	}
}
