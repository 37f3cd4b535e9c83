package stereo

import (
	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/monitoring"
	"github.com/stereosphere/panorec/internal/pipe"
	"github.com/stereosphere/panorec/internal/selector"
)

// StereoGenerator consumes adjacent selections ring by ring, rectifies
// each consecutive pair into left and right views, and hands them to
// the two storage sinks. Pixel buffers are loaded through the ring
// processor's hooks and released as soon as a frame's last pair is
// done.
type StereoGenerator struct {
	stitcher  *MonoStitcher
	left      pipe.Sink[*frame.Frame]
	right     pipe.Sink[*frame.Frame]
	ring      *pipe.RingProcessor[selector.SelectionInfo]
	lastRing  int
	havePrev  bool
	generated int64
	skipped   int64
}

// NewStereoGenerator wires a generator to the left and right sinks.
func NewStereoGenerator(cfg Config, left, right pipe.Sink[*frame.Frame]) *StereoGenerator {
	g := &StereoGenerator{
		stitcher: NewMonoStitcher(cfg),
		left:     left,
		right:    right,
	}
	g.ring = pipe.NewRingProcessor[selector.SelectionInfo](
		g.prepare,
		g.process,
		g.release,
	)
	return g
}

// Push feeds the next selection. A ring change flushes the previous
// ring, which also emits its closing pair.
func (g *StereoGenerator) Push(info selector.SelectionInfo) {
	if !info.IsValid || info.Frame == nil {
		g.skipped++
		return
	}
	if g.havePrev && info.ClosestPoint.RingID != g.lastRing {
		g.ring.Flush()
	}
	g.lastRing = info.ClosestPoint.RingID
	g.havePrev = true
	g.ring.Push(info)
}

// Finish flushes the trailing ring and the downstream sinks.
func (g *StereoGenerator) Finish() {
	g.ring.Flush()
	g.left.Finish()
	g.right.Finish()
}

func (g *StereoGenerator) prepare(info selector.SelectionInfo) {
	if err := info.Frame.Retain(); err != nil {
		monitoring.Logf("stereo generator: loading frame %d: %v", info.Frame.ID, err)
	}
}

func (g *StereoGenerator) release(info selector.SelectionInfo) {
	info.Frame.Release()
}

func (g *StereoGenerator) process(a, b selector.SelectionInfo) {
	pair := g.stitcher.CreateStereo(a.Frame, b.Frame)
	if !pair.Valid {
		g.skipped++
		monitoring.Logf("stereo generator: skipping pair %d/%d", a.Frame.ID, b.Frame.ID)
		return
	}
	// Rectified views are indexed by the target they belong to.
	pair.Left.ID = int64(a.ClosestPoint.GlobalID)
	pair.Right.ID = int64(a.ClosestPoint.GlobalID)
	g.generated++
	g.left.Push(pair.Left)
	g.right.Push(pair.Right)
}

// Generated returns the number of stereo pairs produced.
func (g *StereoGenerator) Generated() int64 { return g.generated }
