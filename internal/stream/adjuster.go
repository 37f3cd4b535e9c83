package stream

import (
	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/geom"
	"github.com/stereosphere/panorec/internal/graph"
	"github.com/stereosphere/panorec/internal/monitoring"
	"github.com/stereosphere/panorec/internal/pipe"
	"github.com/stereosphere/panorec/internal/selector"
)

// Adjustment iteration parameters. Relaxation converges geometrically;
// fifty damped rounds bring residuals well below the pixel quantisation
// of the measurements, at negligible cost since each round is O(edges).
const (
	adjusterIterations = 50
	adjusterDamping    = 0.8
)

// CorrespondenceAdjuster collects the selected frames, and on Finish
// runs a batch pairwise correlation over all graph edges followed by an
// iterative relaxation that minimises the total angular residual. The
// centre ring is anchored so the panorama keeps its global orientation.
// Exposure gains per frame fall out of the same pass.
type CorrespondenceAdjuster struct {
	g       *graph.RecorderGraph
	matcher Matcher
	out     pipe.Sink[selector.SelectionInfo]
	comp    *ExposureCompensator

	collected []selector.SelectionInfo
	rejected  int64
}

// NewCorrespondenceAdjuster wires an adjuster over graph g feeding out.
func NewCorrespondenceAdjuster(g *graph.RecorderGraph, matcher Matcher, out pipe.Sink[selector.SelectionInfo]) *CorrespondenceAdjuster {
	return &CorrespondenceAdjuster{
		g:       g,
		matcher: matcher,
		out:     out,
		comp:    NewExposureCompensator(),
	}
}

// Push collects a selection; nothing flows downstream until Finish.
func (c *CorrespondenceAdjuster) Push(info selector.SelectionInfo) {
	c.collected = append(c.collected, info)
}

// Finish runs the adjustment over the collected frames, re-emits them
// downstream in order and forwards the finish signal.
func (c *CorrespondenceAdjuster) Finish() {
	c.adjust()
	for _, info := range c.collected {
		c.out.Push(info)
	}
	c.out.Finish()
}

// measurement is one valid pairwise residual between two frames.
type measurement struct {
	a, b *frame.Frame
	yaw  float64
}

func (c *CorrespondenceAdjuster) adjust() {
	byTarget := make(map[int]*frame.Frame, len(c.collected))
	for _, info := range c.collected {
		if info.IsValid && info.Frame != nil {
			byTarget[info.ClosestPoint.GlobalID] = info.Frame
		}
	}
	if len(byTarget) < 2 {
		return
	}

	var measurements []measurement
	for _, edge := range c.g.Edges() {
		fa := byTarget[edge.From]
		fb := byTarget[edge.To]
		if fa == nil || fb == nil {
			continue
		}
		if err := fa.Retain(); err != nil {
			continue
		}
		if err := fb.Retain(); err != nil {
			fa.Release()
			continue
		}
		res := c.matcher.Match(fa, fb, false)
		c.comp.Measure(fa, fb)
		fa.Release()
		fb.Release()

		if !res.Valid {
			c.rejected++
			continue
		}
		measurements = append(measurements, measurement{a: fa, b: fb, yaw: res.Angular.Y})
	}
	if len(measurements) == 0 {
		monitoring.Logf("adjuster: no valid correspondences over %d frames", len(byTarget))
		return
	}

	// Anchored frames (centre ring) keep their poses; everything else
	// relaxes toward zero pairwise residual.
	anchored := make(map[int64]bool)
	for _, info := range c.collected {
		if info.IsValid && info.Frame != nil && info.ClosestPoint.RingID == 0 {
			anchored[info.Frame.ID] = true
		}
	}

	delta := make(map[int64]float64)
	for iter := 0; iter < adjusterIterations; iter++ {
		step := make(map[int64]float64)
		count := make(map[int64]int)
		for _, m := range measurements {
			r := m.yaw - (delta[m.a.ID] - delta[m.b.ID])
			step[m.a.ID] += r / 2
			step[m.b.ID] -= r / 2
			count[m.a.ID]++
			count[m.b.ID]++
		}
		for id, s := range step {
			if anchored[id] || count[id] == 0 {
				continue
			}
			delta[id] += adjusterDamping * s / float64(count[id])
		}
	}

	for _, info := range c.collected {
		if !info.IsValid || info.Frame == nil {
			continue
		}
		if d := delta[info.Frame.ID]; d != 0 {
			info.Frame.Adjusted = geom.RotationY(d).Mul(info.Frame.Adjusted)
		}
	}
}

// Gains returns the per-frame exposure gains estimated during the
// adjustment pass.
func (c *CorrespondenceAdjuster) Gains() map[int64]float64 {
	return c.comp.Gains()
}

// Rejected returns the number of edges whose correlation was rejected.
func (c *CorrespondenceAdjuster) Rejected() int64 { return c.rejected }
