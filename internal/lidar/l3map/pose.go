package l3map

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/loam-mapper/internal/lidar"
)

// Pose is a rigid transform (rotation + translation) applied in single
// precision: GetSurroundedCloud downcasts from the double-precision
// lidar.Pose before applying it, it does not compute the transform in
// double precision and downcast the result.
type Pose struct {
	R [9]float32  // 3x3 rotation, row-major
	T [3]float32  // translation
}

// PoseFromLidar downcasts a double-precision lidar.Pose (4x4 row-major,
// internal/lidar/arena.go) to a single-precision Pose.
func PoseFromLidar(p *lidar.Pose) Pose {
	var out Pose
	out.R[0], out.R[1], out.R[2] = float32(p.T[0]), float32(p.T[1]), float32(p.T[2])
	out.R[3], out.R[4], out.R[5] = float32(p.T[4]), float32(p.T[5]), float32(p.T[6])
	out.R[6], out.R[7], out.R[8] = float32(p.T[8]), float32(p.T[9]), float32(p.T[10])
	out.T[0], out.T[1], out.T[2] = float32(p.T[3]), float32(p.T[7]), float32(p.T[11])
	return out
}

// Apply transforms p by this pose: p' = R·p + t, computed entirely in
// float32, mirroring internal/lidar/transform.go's ApplyPose row-major
// multiply-then-add but at single precision.
func (ps Pose) Apply(p r3.Vec) r3.Vec {
	x, y, z := float32(p.X), float32(p.Y), float32(p.Z)
	wx := ps.R[0]*x + ps.R[1]*y + ps.R[2]*z + ps.T[0]
	wy := ps.R[3]*x + ps.R[4]*y + ps.R[5]*z + ps.T[1]
	wz := ps.R[6]*x + ps.R[7]*y + ps.R[8]*z + ps.T[2]
	return r3.Vec{X: float64(wx), Y: float64(wy), Z: float64(wz)}
}
