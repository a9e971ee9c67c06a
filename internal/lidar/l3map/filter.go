package l3map

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultFilter returns a Filter performing centroid-nearest-point voxel
// grid downsampling in place, the same two-pass accumulate/pick-closest
// algorithm as internal/lidar/l4perception.VoxelGrid, adapted to operate on
// an l3map.PointCloud instead of a []WorldPoint slice.
//
// leafSize is the side length (meters) of each downsampling voxel and
// should be smaller than the map resolution the caller configured; a
// leafSize that is too large is merely inefficient, not incorrect —
// VoxelMap does not enforce the relationship.
func DefaultFilter(leafSize float64) Filter {
	return func(c *PointCloud) {
		if c == nil || len(c.Points) == 0 || leafSize <= 0 {
			return
		}

		type voxelAccum struct {
			sum       r3.Vec
			count     int
			bestIdx   int
			bestDist2 float64
		}

		invLeaf := 1.0 / leafSize
		voxels := make(map[[3]int64]*voxelAccum, len(c.Points)/4)

		key := func(p r3.Vec) [3]int64 {
			return [3]int64{
				int64(math.Floor(p.X * invLeaf)),
				int64(math.Floor(p.Y * invLeaf)),
				int64(math.Floor(p.Z * invLeaf)),
			}
		}

		for i, p := range c.Points {
			k := key(p)
			acc, ok := voxels[k]
			if !ok {
				acc = &voxelAccum{bestIdx: i, bestDist2: math.MaxFloat64}
				voxels[k] = acc
			}
			acc.sum = r3.Add(acc.sum, p)
			acc.count++
		}

		for i, p := range c.Points {
			acc := voxels[key(p)]
			centroid := r3.Scale(1.0/float64(acc.count), acc.sum)
			dx, dy, dz := p.X-centroid.X, p.Y-centroid.Y, p.Z-centroid.Z
			d2 := dx*dx + dy*dy + dz*dz
			if d2 < acc.bestDist2 {
				acc.bestDist2 = d2
				acc.bestIdx = i
			}
		}

		survivors := make([]r3.Vec, 0, len(voxels))
		for _, acc := range voxels {
			survivors = append(survivors, c.Points[acc.bestIdx])
		}
		c.Points = survivors
	}
}
