package l3map

import "iter"

// DynamicGrid is an origin-centered grid of NestedGrid handles that doubles
// its extent when a write falls outside the current addressable range. Its
// current bit-width b_dyn starts at initialBits and doubles (b_dyn++) on
// growth up to maxBits; b_dyn beyond maxBits is an out-of-domain write and
// is fatal.
type DynamicGrid[V comparable] struct {
	dynBits int // b_dyn, current
	maxBits int // hard cap on b_dyn
	size    int // M = 2^dynBits, meta cells per dimension
	nestBits int
	flatBits int
	subSize  int // S = size(NestedGrid) = 2^nestBits * 2^flatBits
	metas    []*NestedGrid[V]
}

// NewDynamicGrid constructs a DynamicGrid with initialBits meta cells per
// axis (minimum 1), growing up to maxBits, wrapping NestedGrid<FlatGrid>
// sub-blocks parameterized by nestBits/flatBits.
func NewDynamicGrid[V comparable](initialBits, maxBits, nestBits, flatBits int) *DynamicGrid[V] {
	size := 1 << initialBits
	subSize := (1 << nestBits) * (1 << flatBits)
	return &DynamicGrid[V]{
		dynBits:  initialBits,
		maxBits:  maxBits,
		size:     size,
		nestBits: nestBits,
		flatBits: flatBits,
		subSize:  subSize,
		metas:    make([]*NestedGrid[V], size*size*size),
	}
}

// Extent returns the current per-axis cell count, M*S.
func (g *DynamicGrid[V]) Extent() int { return g.size * g.subSize }

// HardLimit returns the maximum half-extent reachable once b_dyn==maxBits;
// this is the ±N bound beyond which a write is fatal.
func (g *DynamicGrid[V]) HardLimit() int32 {
	maxSize := 1 << g.maxBits
	return int32((maxSize * g.subSize) / 2)
}

func (g *DynamicGrid[V]) halfExtent() int { return g.Extent() / 2 }

func (g *DynamicGrid[V]) metaIndex(mx, my, mz int) int {
	return (mz*g.size+my)*g.size + mx
}

// Value returns the stored value at the signed voxel index idx, or the
// zero value of V if idx is outside the current extent or its covering
// NestedGrid was never allocated. Out-of-range reads are silent, idempotent,
// and never allocate.
func (g *DynamicGrid[V]) Value(idx VoxelIndex) V {
	shift := g.halfExtent()
	sx, sy, sz := int(idx.X)+shift, int(idx.Y)+shift, int(idx.Z)+shift
	extent := g.Extent()
	var zero V
	if sx < 0 || sx >= extent || sy < 0 || sy >= extent || sz < 0 || sz >= extent {
		return zero
	}
	mx, ix := split(sx, g.subSize)
	my, iy := split(sy, g.subSize)
	mz, iz := split(sz, g.subSize)
	sub := g.metas[g.metaIndex(mx, my, mz)]
	if sub == nil {
		return zero
	}
	return sub.Value(ix, iy, iz)
}

// MutableValue returns a mutable reference to the slot at the signed voxel
// index idx, growing the grid (and lazily allocating meta slots) as needed.
// Panics with a *FatalError if idx would require growing past maxBits.
func (g *DynamicGrid[V]) MutableValue(idx VoxelIndex) *V {
	for {
		shift := g.halfExtent()
		sx, sy, sz := int(idx.X)+shift, int(idx.Y)+shift, int(idx.Z)+shift
		extent := g.Extent()
		if sx >= 0 && sx < extent && sy >= 0 && sy < extent && sz >= 0 && sz < extent {
			mx, ix := split(sx, g.subSize)
			my, iy := split(sy, g.subSize)
			mz, iz := split(sz, g.subSize)
			metaIdx := g.metaIndex(mx, my, mz)
			sub := g.metas[metaIdx]
			if sub == nil {
				sub = NewNestedGrid[V](g.nestBits, g.flatBits)
				g.metas[metaIdx] = sub
			}
			return sub.MutableValue(ix, iy, iz)
		}
		if g.dynBits >= g.maxBits {
			raiseFatal(idx, g.HardLimit())
		}
		g.grow()
	}
}

// grow doubles b_dyn, reallocating the meta-cell vector and re-placing
// existing sub-grids so that every stored value's logical (signed) voxel
// coordinate is preserved.
func (g *DynamicGrid[V]) grow() {
	oldSize := g.size
	newBits := g.dynBits + 1
	newSize := 1 << newBits
	newMetas := make([]*NestedGrid[V], newSize*newSize*newSize)
	offset := oldSize / 2 // 2^(b_dyn-1)

	for mz := 0; mz < oldSize; mz++ {
		for my := 0; my < oldSize; my++ {
			for mx := 0; mx < oldSize; mx++ {
				old := g.metas[(mz*oldSize+my)*oldSize+mx]
				if old == nil {
					continue
				}
				nmx, nmy, nmz := mx+offset, my+offset, mz+offset
				newMetas[(nmz*newSize+nmy)*newSize+nmx] = old
			}
		}
	}

	g.metas = newMetas
	g.size = newSize
	g.dynBits = newBits
	debugf("DynamicGrid grew to b_dyn=%d extent=%d", newBits, newSize*g.subSize)
}

// All yields (signed voxel index, value) for every occupied cell across all
// three layers, in outer-meta z-major / sub-meta z-major / inner z-major
// order, skipping default-valued cells. The order is deterministic for a
// given b_dyn and sparsity pattern but is invalidated by any growth that
// happens during iteration — callers must not grow a DynamicGrid while
// iterating it.
func (g *DynamicGrid[V]) All() iter.Seq2[VoxelIndex, V] {
	return func(yield func(VoxelIndex, V) bool) {
		shift := g.halfExtent()
		metaIdx := 0
		for mz := 0; mz < g.size; mz++ {
			for my := 0; my < g.size; my++ {
				for mx := 0; mx < g.size; mx++ {
					sub := g.metas[metaIdx]
					metaIdx++
					if sub == nil {
						continue
					}
					ox, oy, oz := mx*g.subSize, my*g.subSize, mz*g.subSize
					for inner, v := range sub.All() {
						signed := VoxelIndex{
							X: int32(ox+inner[0]) - int32(shift),
							Y: int32(oy+inner[1]) - int32(shift),
							Z: int32(oz+inner[2]) - int32(shift),
						}
						if !yield(signed, v) {
							return
						}
					}
				}
			}
		}
	}
}
