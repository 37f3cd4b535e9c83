// Package selector implements the feedback frame selector: it walks
// the cyclic sequence of capture targets, keeps the best in-tolerance
// frame per target, and drives the on-screen ball that guides the user
// toward the next target.
package selector

import (
	"math"
	"sync"

	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/geom"
	"github.com/stereosphere/panorec/internal/graph"
	"github.com/stereosphere/panorec/internal/monitoring"
	"github.com/stereosphere/panorec/internal/pipe"
)

// SelectionInfo binds a frame to the target it snapped to.
type SelectionInfo struct {
	Frame        *frame.Frame
	ClosestPoint graph.SelectionPoint
	IsValid      bool
	Dist         float64
}

// State enumerates the selector's lifecycle.
type State int

const (
	// StateUninitialised is the state before the first frame.
	StateUninitialised State = iota
	// StateIdle means frames only update the ball.
	StateIdle
	// StateSeeking means the user is moving toward the cursor target.
	StateSeeking
	// StateInTolerance means frames are candidates for the cursor
	// target.
	StateInTolerance
	// StateFinished is terminal; pushes are rejected with a warning.
	StateFinished
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "uninitialised"
	case StateIdle:
		return "idle"
	case StateSeeking:
		return "seeking"
	case StateInTolerance:
		return "in-tolerance"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// SkipPolicy selects the behaviour when the user moves past targets
// without ever entering their tolerance.
type SkipPolicy int

const (
	// SkipWait keeps the cursor on the missed target until the user
	// comes back.
	SkipWait SkipPolicy = iota
	// SkipMarkEmpty records missed targets as empty and advances.
	SkipMarkEmpty
)

// Config parameterises a FeedbackSelector.
type Config struct {
	// Tolerance scales the tolerance ellipsoid. 1.0 is the standard
	// capture tolerance.
	Tolerance float64
	// Skip selects the skipped-target behaviour.
	Skip SkipPolicy
}

// DefaultConfig returns the standard selector settings.
func DefaultConfig() Config {
	return Config{Tolerance: 1.0, Skip: SkipWait}
}

// FeedbackSelector picks the best matching frame per target and emits
// selections strictly in target order.
type FeedbackSelector struct {
	g   *graph.RecorderGraph
	out pipe.Sink[SelectionInfo]

	// Tolerance ellipsoid radii in (yaw, pitch, roll).
	tolYaw   float64
	tolPitch float64
	tolRoll  float64
	skip     SkipPolicy

	mu         sync.Mutex
	targets    []graph.SelectionPoint
	cursor     int
	state      State
	idle       bool
	hasStarted bool

	best    SelectionInfo
	hasBest bool

	recorded int
	rejected int64

	ball    geom.Mat4
	errVec  geom.Vec3
	err     float64
	hasBall bool
}

// New builds a selector walking g's targets in traversal order and
// emitting selections to out.
func New(g *graph.RecorderGraph, out pipe.Sink[SelectionInfo], cfg Config) *FeedbackSelector {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 1.0
	}
	return &FeedbackSelector{
		g:        g,
		out:      out,
		tolYaw:   math.Pi / 64 * cfg.Tolerance,
		tolPitch: math.Pi / 128 * cfg.Tolerance,
		tolRoll:  math.Pi / 16 * cfg.Tolerance,
		skip:     cfg.Skip,
		targets:  g.Targets(),
		state:    StateUninitialised,
	}
}

// Push feeds the next captured frame. Frames that are no candidate for
// the current target are discarded after updating the ball.
func (s *FeedbackSelector) Push(f *frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateFinished {
		s.rejected++
		monitoring.Logf("selector: push after finish rejected (frame %d)", f.ID)
		return
	}
	if len(s.targets) == 0 {
		s.state = StateFinished
		return
	}
	if s.state == StateUninitialised {
		s.state = StateSeeking
	}

	target := s.targets[s.cursor]
	s.updateBall(f, target)

	if s.idle {
		s.state = StateIdle
		return
	}
	if s.state == StateIdle {
		s.state = StateSeeking
	}

	if s.inTolerance(f, target) {
		s.state = StateInTolerance
		s.hasStarted = true
		dist := geom.AngleBetween(f.Adjusted, target.Extrinsics)
		if !s.hasBest || dist < s.best.Dist {
			s.best = SelectionInfo{Frame: f, ClosestPoint: target, IsValid: true, Dist: dist}
			s.hasBest = true
		}
		return
	}

	// Departure from the tolerance region emits the kept best and
	// advances the cursor.
	if s.state == StateInTolerance {
		s.emitBestLocked()
		if s.state == StateFinished {
			return
		}
		s.updateBall(f, s.targets[s.cursor])
		// The departing frame may already sit in the next target's
		// tolerance; it then becomes that target's first candidate.
		next := s.targets[s.cursor]
		if s.inTolerance(f, next) {
			s.state = StateInTolerance
			s.best = SelectionInfo{Frame: f, ClosestPoint: next, IsValid: true, Dist: geom.AngleBetween(f.Adjusted, next.Extrinsics)}
			s.hasBest = true
			return
		}
	}
	s.state = StateSeeking

	if s.skip == SkipMarkEmpty {
		s.trySkipAheadLocked(f)
	}
}

// trySkipAheadLocked checks whether the frame sits in the tolerance of
// a later target; if so, intermediate targets are recorded as empty
// and the cursor jumps forward.
func (s *FeedbackSelector) trySkipAheadLocked(f *frame.Frame) {
	for j := s.cursor + 1; j < len(s.targets); j++ {
		if !s.inTolerance(f, s.targets[j]) {
			continue
		}
		for k := s.cursor; k < j; k++ {
			s.out.Push(SelectionInfo{ClosestPoint: s.targets[k], IsValid: false})
			s.recorded++
		}
		s.cursor = j
		s.state = StateInTolerance
		s.hasStarted = true
		s.best = SelectionInfo{
			Frame:        f,
			ClosestPoint: s.targets[j],
			IsValid:      true,
			Dist:         geom.AngleBetween(f.Adjusted, s.targets[j].Extrinsics),
		}
		s.hasBest = true
		return
	}
}

func (s *FeedbackSelector) emitBestLocked() {
	if !s.hasBest {
		return
	}
	s.out.Push(s.best)
	s.best = SelectionInfo{}
	s.hasBest = false
	s.recorded++
	s.cursor++
	if s.cursor >= len(s.targets) {
		s.state = StateFinished
	}
}

func (s *FeedbackSelector) updateBall(f *frame.Frame, target graph.SelectionPoint) {
	s.ball = target.Extrinsics
	s.errVec = relativeAngles(f.Adjusted, target.Extrinsics)
	s.err = geom.AngleBetween(f.Adjusted, target.Extrinsics)
	s.hasBall = true
}

// relativeAngles decomposes the rotation from pose to target into
// (yaw, pitch, roll) stored as (X, Y, Z).
func relativeAngles(pose, target geom.Mat4) geom.Vec3 {
	e := geom.EulerAngles(target.Inv().Mul(pose))
	return geom.Vec3{X: e.Y, Y: e.X, Z: e.Z}
}

// inTolerance applies the ellipsoid test in (yaw, pitch, roll).
func (s *FeedbackSelector) inTolerance(f *frame.Frame, target graph.SelectionPoint) bool {
	v := relativeAngles(f.Adjusted, target.Extrinsics)
	yaw := v.X / s.tolYaw
	pitch := v.Y / s.tolPitch
	roll := v.Z / s.tolRoll
	return yaw*yaw+pitch*pitch+roll*roll <= 1
}

// Finish flushes a pending best candidate, marks the selector finished
// and forwards the finish signal downstream.
func (s *FeedbackSelector) Finish() {
	s.mu.Lock()
	if s.state == StateInTolerance && s.hasBest {
		s.emitBestLocked()
	}
	s.state = StateFinished
	s.mu.Unlock()
	s.out.Finish()
}

// SetIdle toggles idle mode. While idle, frames only update the ball.
func (s *FeedbackSelector) SetIdle(idle bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = idle
}

// IsIdle reports whether the selector is idling.
func (s *FeedbackSelector) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

// State returns the current selector state.
func (s *FeedbackSelector) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BallPosition returns the pose of the next target, in stitcher
// coordinates.
func (s *FeedbackSelector) BallPosition() geom.Mat4 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasBall {
		if len(s.targets) > 0 {
			return s.targets[0].Extrinsics
		}
		return geom.Identity4()
	}
	return s.ball
}

// Error returns the total angular distance to the next target.
func (s *FeedbackSelector) Error() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ErrorVector returns the per-dimension angular distance to the next
// target; the UI renders this as the ball direction.
func (s *FeedbackSelector) ErrorVector() geom.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVec
}

// ImagesToRecord returns the total number of targets.
func (s *FeedbackSelector) ImagesToRecord() int {
	return len(s.targets)
}

// RecordedImages returns the number of targets recorded so far.
func (s *FeedbackSelector) RecordedImages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorded
}

// HasStarted reports whether any frame has entered a target tolerance.
func (s *FeedbackSelector) HasStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasStarted
}

// IsFinished reports whether the last target has been passed.
func (s *FeedbackSelector) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateFinished
}

// Rejected returns the number of pushes refused after finish.
func (s *FeedbackSelector) Rejected() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}
