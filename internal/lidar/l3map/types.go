package l3map

import "gonum.org/v1/gonum/spatial/r3"

// VoxelIndex is a signed integer voxel coordinate. The addressable range is
// symmetric around the origin, hard-bounded to ±MaxVoxelCoordinate per axis.
type VoxelIndex struct {
	X, Y, Z int32
}

// PointCloud is an owning, append-only collection of world-frame points.
// It is the cell value held by VoxelMap: the zero value (*PointCloud)(nil)
// is the "empty" marker used by FlatGrid/NestedGrid/DynamicGrid iteration
// and out-of-range reads.
type PointCloud struct {
	Points []r3.Vec
}

// NewPointCloud returns an empty point cloud ready to accept points.
func NewPointCloud() *PointCloud {
	return &PointCloud{}
}

// Append adds p to the cloud.
func (c *PointCloud) Append(p r3.Vec) {
	c.Points = append(c.Points, p)
}

// Len returns the number of points currently held.
func (c *PointCloud) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Points)
}

// Filter replaces a cloud's contents with a downsampled version, in place.
// Implementations must not retain the slice backing the input beyond the
// call if they intend to mutate c.Points directly; DefaultFilter (filter.go)
// follows this contract.
type Filter func(c *PointCloud)
