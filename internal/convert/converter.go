// Package convert maps device poses into the stitcher reference frame,
// where the user's start pose is the identity, and back for the UI.
package convert

import (
	"sync/atomic"

	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/geom"
	"github.com/stereosphere/panorec/internal/monitoring"
	"github.com/stereosphere/panorec/internal/pipe"
)

// CoordinateConverter rewrites every incoming frame's pose from device
// coordinates into stitcher coordinates before forwarding. Frames whose
// extrinsics fail the rigidity check are logged and dropped.
type CoordinateConverter struct {
	base    geom.Mat4
	baseInv geom.Mat4
	zero    geom.Mat4
	zeroInv geom.Mat4
	out     pipe.Sink[*frame.Frame]

	dropped atomic.Int64
}

// New builds a converter. base is the platform base transform and zero
// the user's start pose without base applied.
func New(base, zero geom.Mat4, out pipe.Sink[*frame.Frame]) *CoordinateConverter {
	return &CoordinateConverter{
		base:    base,
		baseInv: base.Inv(),
		zero:    zero,
		zeroInv: zero.Inv(),
		out:     out,
	}
}

// Push converts the frame pose in place and forwards it.
func (c *CoordinateConverter) Push(f *frame.Frame) {
	if !geom.IsRigid(f.Original) || geom.ContainsNaN(f.Original) {
		c.dropped.Add(1)
		monitoring.Logf("coordinate converter: dropping frame %d with invalid extrinsics", f.ID)
		return
	}
	f.Original = c.ToStitcher(f.Original)
	f.Adjusted = f.Original
	c.out.Push(f)
}

// Finish forwards the finish signal.
func (c *CoordinateConverter) Finish() { c.out.Finish() }

// ToStitcher maps a device pose into the stitcher frame.
func (c *CoordinateConverter) ToStitcher(m geom.Mat4) geom.Mat4 {
	return c.base.Mul(c.zero).Mul(m.Inv()).Mul(c.baseInv)
}

// FromStitcher maps a stitcher-frame pose back into device
// coordinates, the inverse of ToStitcher.
func (c *CoordinateConverter) FromStitcher(m geom.Mat4) geom.Mat4 {
	return c.zeroInv.Mul(c.baseInv).Mul(m).Mul(c.base).Inv()
}

// Dropped returns the number of frames discarded for invalid poses.
func (c *CoordinateConverter) Dropped() int64 { return c.dropped.Load() }
