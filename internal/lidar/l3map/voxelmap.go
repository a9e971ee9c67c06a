package l3map

import (
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
)

// VoxelMap is the domain layer: a HybridGridBase whose cell value is an
// owning handle to a PointCloud. It implements InsertScan and
// GetSurroundedCloud, the only two operations the scan-matcher and mapping
// thread call on it.
type VoxelMap struct {
	*HybridGridBase[*PointCloud]
	id uuid.UUID
}

// NewVoxelMap constructs a VoxelMap at the given configuration, allocating
// the initial 2×2×2 meta-cell vector (all empty). Returns an error if cfg
// fails Validate.
func NewVoxelMap(cfg Config) (*VoxelMap, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("l3map: cannot construct VoxelMap: %w", err)
	}
	return &VoxelMap{
		HybridGridBase: newHybridGridBase[*PointCloud](cfg.Resolution),
		id:             uuid.New(),
	}, nil
}

// ID returns the VoxelMap's identity, useful for a driver juggling several
// local submaps (e.g. one per site) to correlate log lines without relying
// on pointer identity.
func (m *VoxelMap) ID() uuid.UUID { return m.id }

// InsertScan routes each point in scan (already transformed into the map
// frame) into its voxel, allocating a fresh cloud on first write, then
// downsamples every touched cell's cloud in place via filter. scan may be
// empty, in which case InsertScan is a no-op. filter may be nil to skip
// downsampling entirely.
//
// The touched set is keyed by voxel coordinate rather than cloud pointer
// identity — equivalent, since each coordinate maps to exactly one cloud,
// and it avoids depending on pointer identity for correctness.
func (m *VoxelMap) InsertScan(scan []r3.Vec, filter Filter) {
	if len(scan) == 0 {
		return
	}

	touched := make(map[VoxelIndex]struct{}, len(scan))
	for _, p := range scan {
		idx := m.GetCellIndex(p)
		slot := m.MutableValue(idx)
		if *slot == nil {
			*slot = NewPointCloud()
		}
		(*slot).Append(p)
		touched[idx] = struct{}{}
	}

	if filter == nil {
		return
	}
	for idx := range touched {
		if cloud := m.Value(idx); cloud != nil {
			filter(cloud)
		}
	}
}

// GetSurroundedCloud returns the union of per-voxel clouds for the voxels
// that contain scan points (after applying pose, in single precision)
// within SurroundRadiusMeters of the sensor origin. The radius test is
// applied to the original, un-transformed point; only the voxel lookup uses
// the transformed point. scan may be empty, in which case an empty cloud is
// returned. GetSurroundedCloud performs only reads: it never allocates
// cells.
func (m *VoxelMap) GetSurroundedCloud(scan []r3.Vec, pose Pose) *PointCloud {
	out := NewPointCloud()
	if len(scan) == 0 {
		return out
	}

	touched := make(map[VoxelIndex]struct{})
	for _, p := range scan {
		if r3.Norm(p) > SurroundRadiusMeters {
			continue
		}
		world := pose.Apply(p)
		idx := m.GetCellIndex(world)
		if cloud := m.Value(idx); cloud != nil {
			touched[idx] = struct{}{}
		}
	}

	for idx := range touched {
		cloud := m.Value(idx)
		out.Points = append(out.Points, cloud.Points...)
	}
	return out
}
