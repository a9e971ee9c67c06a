package l3map

import "fmt"

// FatalError reports an out-of-domain write: a voxel index that would
// require growing DynamicGrid past its hard cap. It is a programming bug in
// the caller (the scan has already been transformed far outside any
// plausible map extent) and is not recoverable by the grid itself.
type FatalError struct {
	Index VoxelIndex
	Limit int32
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("l3map: voxel index %v exceeds the hard-bounded extent ±%d; out-of-domain write", e.Index, e.Limit)
}

// raiseFatal logs and panics with a *FatalError. Production call sites are
// expected to let this propagate; tests may recover it.
func raiseFatal(idx VoxelIndex, limit int32) {
	err := &FatalError{Index: idx, Limit: limit}
	debugf("fatal: %v", err)
	panic(err)
}
