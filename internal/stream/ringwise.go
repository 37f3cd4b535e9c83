// Package stream contains the online and batch pose-refinement stages:
// the ring-wise stream aligner that corrects sensor drift while frames
// arrive, the ring closer that redistributes the first-last gap of a
// completed ring, and the correspondence adjuster that refines all
// poses against the graph edges after capture.
package stream

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/geom"
	"github.com/stereosphere/panorec/internal/graph"
	"github.com/stereosphere/panorec/internal/monitoring"
)

// driftWindow is the length of the yaw-measurement deque. The median
// over the last three measurements smooths single-frame outliers
// without adding perceptible latency.
const driftWindow = 3

// RingwiseStreamAligner corrects sensor drift online. Each incoming
// frame is correlated against the closest already-aligned frame of its
// ring's parent ring; the median of the last few yaw measurements
// becomes a rotation-drift correction applied to every subsequent
// frame. Correction is restricted to yaw: pitch drift from the sensor
// is small, and rolling the correction would tilt the horizon.
type RingwiseStreamAligner struct {
	g    *graph.RecorderGraph
	corr Matcher

	mu         sync.Mutex
	rings      [][]*frame.Frame
	drift      geom.Mat4
	lastYaw    float64
	lastPitch  float64
	yawWindow  []float64
	rejections int64
	noRing     int64
}

// NewRingwiseStreamAligner builds an aligner over the given graph.
func NewRingwiseStreamAligner(g *graph.RecorderGraph, corr Matcher) *RingwiseStreamAligner {
	return &RingwiseStreamAligner{
		g:     g,
		corr:  corr,
		rings: make([][]*frame.Frame, len(g.Rings())),
		drift: geom.Identity4(),
	}
}

// Push aligns the next frame: its Adjusted pose becomes the current
// drift correction applied to its Original pose, and the frame joins
// its ring's aligned set.
func (a *RingwiseStreamAligner) Push(f *frame.Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ring := a.g.FindAssociatedRing(f.Original)
	if ring == -1 {
		a.noRing++
		monitoring.Logf("stream aligner: frame %d matches no ring", f.ID)
		f.Adjusted = a.drift.Mul(f.Original)
		return
	}

	parent := a.g.ParentRing(ring)
	if parent != ring && len(a.rings[parent]) > 0 {
		if closest := a.closestAligned(parent, f); closest != nil {
			a.measure(f, closest)
		}
	}

	a.yawWindow = append(a.yawWindow, a.lastYaw)
	if len(a.yawWindow) > driftWindow {
		a.yawWindow = a.yawWindow[1:]
	}
	if len(a.yawWindow) == driftWindow {
		a.drift = geom.RotationY(median(a.yawWindow))
	}

	f.Adjusted = a.drift.Mul(f.Original)
	a.rings[ring] = append(a.rings[ring], f)
}

// closestAligned finds the aligned frame of the given ring closest to
// f by total rotation angle.
func (a *RingwiseStreamAligner) closestAligned(ring int, f *frame.Frame) *frame.Frame {
	var best *frame.Frame
	bestDist := math.MaxFloat64
	for _, cand := range a.rings[ring] {
		d := geom.AngleBetween(f.Original, cand.Adjusted)
		if d < bestDist {
			bestDist = d
			best = cand
		}
	}
	return best
}

// measure correlates f against the reference frame and records the
// residual yaw when the match is valid.
func (a *RingwiseStreamAligner) measure(f, ref *frame.Frame) {
	if err := f.Retain(); err != nil {
		monitoring.Logf("stream aligner: loading frame %d: %v", f.ID, err)
		return
	}
	defer f.Release()
	if err := ref.Retain(); err != nil {
		monitoring.Logf("stream aligner: loading reference %d: %v", ref.ID, err)
		return
	}
	defer ref.Release()

	res := a.corr.Match(f, ref, false)
	if !res.Valid {
		a.rejections++
		return
	}
	a.lastYaw = res.Angular.Y
	a.lastPitch = res.Angular.X
}

// pushMeasurement feeds a raw yaw measurement; split out so the median
// behaviour is testable without images.
func (a *RingwiseStreamAligner) pushMeasurement(yaw float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastYaw = yaw
	a.yawWindow = append(a.yawWindow, yaw)
	if len(a.yawWindow) > driftWindow {
		a.yawWindow = a.yawWindow[1:]
	}
	if len(a.yawWindow) == driftWindow {
		a.drift = geom.RotationY(median(a.yawWindow))
	}
}

// CurrentRotation returns the drift-corrected pose for the given
// original extrinsics.
func (a *RingwiseStreamAligner) CurrentRotation(original geom.Mat4) geom.Mat4 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drift.Mul(original)
}

// Drift returns the current drift correction.
func (a *RingwiseStreamAligner) Drift() geom.Mat4 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drift
}

// Rings returns the aligned frames grouped by ring.
func (a *RingwiseStreamAligner) Rings() [][]*frame.Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]*frame.Frame, len(a.rings))
	for i, r := range a.rings {
		out[i] = append([]*frame.Frame(nil), r...)
	}
	return out
}

// Rejections returns the number of correlation rejections seen.
func (a *RingwiseStreamAligner) Rejections() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rejections
}

// median returns the middle value of the window.
func median(window []float64) float64 {
	sorted := append([]float64(nil), window...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
