package l3map

import (
	"iter"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// HybridGridBase layers metric semantics over a DynamicGrid: point↔index
// conversion and an iteration façade. It is embedded by the domain-level
// VoxelMap, which supplies V = *PointCloud.
type HybridGridBase[V comparable] struct {
	resolution float32
	grid       *DynamicGrid[V]
}

// newHybridGridBase constructs the DynamicGrid<NestedGrid<FlatGrid<V>>>
// stack at the package's fixed bit-widths, allocating the initial 2×2×2
// meta-cell vector (all empty).
func newHybridGridBase[V comparable](resolution float32) *HybridGridBase[V] {
	return &HybridGridBase[V]{
		resolution: resolution,
		grid:       NewDynamicGrid[V](InitialDynamicBits, MaxDynamicBits, NestBits, FlatBits),
	}
}

// GetCellIndex returns the voxel index covering point p: round(p/resolution)
// per axis, with ties rounding half-to-even.
func (b *HybridGridBase[V]) GetCellIndex(p r3.Vec) VoxelIndex {
	inv := 1.0 / float64(b.resolution)
	return VoxelIndex{
		X: int32(math.RoundToEven(p.X * inv)),
		Y: int32(math.RoundToEven(p.Y * inv)),
		Z: int32(math.RoundToEven(p.Z * inv)),
	}
}

// GetCenterOfCell returns the metric center of voxel idx: idx*resolution.
func (b *HybridGridBase[V]) GetCenterOfCell(idx VoxelIndex) r3.Vec {
	res := float64(b.resolution)
	return r3.Vec{
		X: float64(idx.X) * res,
		Y: float64(idx.Y) * res,
		Z: float64(idx.Z) * res,
	}
}

// Value returns the value stored at idx, or the zero value of V if idx was
// never written (or is out of the current addressable range).
func (b *HybridGridBase[V]) Value(idx VoxelIndex) V {
	return b.grid.Value(idx)
}

// MutableValue returns a mutable reference to the slot at idx, growing the
// grid as needed. Panics with *FatalError if idx is out of domain even
// after growing to the hard cap.
func (b *HybridGridBase[V]) MutableValue(idx VoxelIndex) *V {
	return b.grid.MutableValue(idx)
}

// All delegates to the DynamicGrid iteration façade: (signed voxel index,
// value) for every occupied cell, in deterministic order.
func (b *HybridGridBase[V]) All() iter.Seq2[VoxelIndex, V] {
	return b.grid.All()
}
