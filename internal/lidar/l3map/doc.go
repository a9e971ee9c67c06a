// Package l3map owns the hierarchical voxel map used to index world-frame
// point clouds for LiDAR odometry-and-mapping (LOAM-style) local maps.
//
// Responsibilities: sparse hierarchical voxel allocation (FlatGrid,
// NestedGrid, DynamicGrid), metric-to-voxel conversion (HybridGridBase),
// and the domain-level scan insertion / surround-cloud query (VoxelMap).
// Key types: VoxelMap, VoxelIndex, PointCloud, Pose.
//
// Dependency rule: l3map depends only on lidar.Pose (internal/lidar) for
// the double-precision pose it downcasts in pose.go; it does not depend on
// l4perception or any other lidar subpackage. Nothing in this repository
// depends on l3map in turn — it is consumed directly by the scan-matcher
// and mapping-thread driver. No SQL/database code is allowed in this
// package.
package l3map
