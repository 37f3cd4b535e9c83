package recorder

import (
	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/monitoring"
	"github.com/stereosphere/panorec/internal/pipe"
	"github.com/stereosphere/panorec/internal/selector"
	"github.com/stereosphere/panorec/internal/stream"
)

// loaderStage materialises the pixel buffer from the source descriptor
// before the frame reaches stages that read pixels.
type loaderStage struct {
	out pipe.Sink[*frame.Frame]
}

func (l *loaderStage) Push(f *frame.Frame) {
	if err := f.Load(); err != nil {
		monitoring.Logf("loader: frame %d: %v", f.ID, err)
	}
	l.out.Push(f)
}

func (l *loaderStage) Finish() { l.out.Finish() }

// alignerStage runs the online stream aligner over every frame, so its
// Adjusted pose carries the current drift correction.
type alignerStage struct {
	aligner *stream.RingwiseStreamAligner
	out     pipe.Sink[*frame.Frame]
}

func (a *alignerStage) Push(f *frame.Frame) {
	a.aligner.Push(f)
	a.out.Push(f)
}

func (a *alignerStage) Finish() { a.out.Finish() }

// ringCloserStage closes every completed ring once capture ends, then
// lets the batch adjuster run.
type ringCloserStage struct {
	aligner *stream.RingwiseStreamAligner
	corr    stream.Matcher
	out     pipe.Sink[selector.SelectionInfo]
}

func (s *ringCloserStage) Push(info selector.SelectionInfo) { s.out.Push(info) }

func (s *ringCloserStage) Finish() {
	for i, ring := range s.aligner.Rings() {
		if len(ring) < 2 {
			continue
		}
		if !stream.CloseRing(ring, s.corr) {
			monitoring.Logf("ring closer stage: ring %d left open", i)
		}
	}
	s.out.Finish()
}

// selectionTap records the adjusted selections flowing to the stereo
// stage so the recorder can write the input summary.
type selectionTap struct {
	out       pipe.Sink[selector.SelectionInfo]
	collected []selector.SelectionInfo
}

func (t *selectionTap) Push(info selector.SelectionInfo) {
	t.collected = append(t.collected, info)
	t.out.Push(info)
}

func (t *selectionTap) Finish() { t.out.Finish() }
