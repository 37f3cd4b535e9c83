package stream

import (
	"math"

	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/geom"
	"github.com/stereosphere/panorec/internal/monitoring"
)

// maxClosureYaw is the largest residual yaw gap a ring closure will
// absorb. Larger gaps would smear black vertical stripes into the
// panorama, so they are declined instead.
const maxClosureYaw = 0.2

// CloseRing measures the residual angular gap between the first and
// last frame of a completed ring with a whole-image correlation and
// distributes it as a linearly interpolated yaw correction across the
// ring. Returns false when the closure was declined.
func CloseRing(ring []*frame.Frame, corr Matcher) bool {
	if len(ring) < 2 {
		return false
	}
	first := ring[0]
	last := ring[len(ring)-1]

	if err := first.Retain(); err != nil {
		monitoring.Logf("ring closer: loading first frame: %v", err)
		return false
	}
	defer first.Release()
	if err := last.Retain(); err != nil {
		monitoring.Logf("ring closer: loading last frame: %v", err)
		return false
	}
	defer last.Release()

	res := corr.Match(first, last, true)
	if !res.Valid {
		monitoring.Logf("ring closer: rejected (%s)", res.Rejection)
		return false
	}
	if math.Abs(res.Angular.Y) > maxClosureYaw {
		monitoring.Logf("ring closer: rejected, gap %.3f rad too large", res.Angular.Y)
		return false
	}

	n := len(ring)
	for i, f := range ring {
		ydiff := res.Angular.Y * (1 - float64(i)/float64(n))
		f.Adjusted = geom.RotationY(ydiff).Mul(f.Adjusted)
	}
	return true
}
