package selector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/geom"
	"github.com/stereosphere/panorec/internal/graph"
	"github.com/stereosphere/panorec/internal/pipe"
)

func testGraph() *graph.RecorderGraph {
	return graph.Generate(geom.NewIntrinsics(400, 400, 320, 320), graph.DefaultGeneratorConfig())
}

func sweepFrame(id int64, yaw float64) *frame.Frame {
	return frame.New(id, geom.NewIntrinsics(400, 400, 320, 320), geom.RotationY(yaw), nil)
}

// sweep pushes frames covering yaw 0..2pi in small steps.
func sweep(s *FeedbackSelector, step float64) {
	id := int64(0)
	for yaw := 0.0; yaw < 2*math.Pi; yaw += step {
		s.Push(sweepFrame(id, yaw))
		id++
	}
}

func TestSelectorEmitsOnePerTarget(t *testing.T) {
	t.Parallel()

	g := testGraph()
	var got []SelectionInfo
	out := pipe.SinkFunc[SelectionInfo]{PushFn: func(i SelectionInfo) { got = append(got, i) }}
	s := New(g, out, DefaultConfig())

	sweep(s, 0.01)
	s.Finish()

	require.Len(t, got, g.Size(), "one emission per target")
	assert.Equal(t, g.Size(), s.RecordedImages())
	assert.True(t, s.IsFinished())
	assert.True(t, s.HasStarted())
}

func TestSelectorMonotonicOrder(t *testing.T) {
	t.Parallel()

	g := testGraph()
	var got []SelectionInfo
	out := pipe.SinkFunc[SelectionInfo]{PushFn: func(i SelectionInfo) { got = append(got, i) }}
	s := New(g, out, DefaultConfig())

	sweep(s, 0.013)
	s.Finish()

	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		prev := got[i-1].ClosestPoint
		cur := got[i].ClosestPoint
		less := prev.RingID < cur.RingID ||
			(prev.RingID == cur.RingID && prev.LocalID < cur.LocalID)
		assert.True(t, less, "emission %d out of order: %v then %v", i,
			[2]int{prev.RingID, prev.LocalID}, [2]int{cur.RingID, cur.LocalID})
	}
}

func TestSelectorKeepsBestCandidate(t *testing.T) {
	t.Parallel()

	g := testGraph()
	var got []SelectionInfo
	out := pipe.SinkFunc[SelectionInfo]{PushFn: func(i SelectionInfo) { got = append(got, i) }}
	s := New(g, out, DefaultConfig())

	// Three candidates around target 0 (yaw 0): the middle one is
	// closest and must be the emission.
	s.Push(sweepFrame(1, -0.03))
	s.Push(sweepFrame(2, 0.004))
	s.Push(sweepFrame(3, 0.03))
	// Departure toward the next target.
	s.Push(sweepFrame(4, 0.2))

	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Frame.ID)
	assert.True(t, got[0].IsValid)
	assert.Equal(t, 0, got[0].ClosestPoint.GlobalID)
}

func TestSelectorIdle(t *testing.T) {
	t.Parallel()

	g := testGraph()
	var got []SelectionInfo
	out := pipe.SinkFunc[SelectionInfo]{PushFn: func(i SelectionInfo) { got = append(got, i) }}
	s := New(g, out, DefaultConfig())

	s.SetIdle(true)
	s.Push(sweepFrame(1, 0.0))
	s.Push(sweepFrame(2, 0.2))
	assert.Empty(t, got, "idle frames are discarded")
	assert.Equal(t, StateIdle, s.State())

	s.SetIdle(false)
	s.Push(sweepFrame(3, 0.0))
	s.Push(sweepFrame(4, 0.2))
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].Frame.ID)
}

func TestSelectorPushAfterFinish(t *testing.T) {
	t.Parallel()

	g := testGraph()
	var got []SelectionInfo
	out := pipe.SinkFunc[SelectionInfo]{PushFn: func(i SelectionInfo) { got = append(got, i) }}
	s := New(g, out, DefaultConfig())

	sweep(s, 0.01)
	s.Finish()
	emitted := len(got)
	before := s.Rejected()

	s.Push(sweepFrame(9999, 0.0))
	assert.Equal(t, before+1, s.Rejected())
	assert.Len(t, got, emitted, "no emission after finish")
}

func TestSelectorBallTracksNextTarget(t *testing.T) {
	t.Parallel()

	g := testGraph()
	s := New(g, pipe.SinkFunc[SelectionInfo]{}, DefaultConfig())

	s.Push(sweepFrame(1, 0.3))
	ball := s.BallPosition()
	target0 := g.Targets()[0].Extrinsics
	assert.InDelta(t, 0, geom.AngleBetween(ball, target0), 1e-9, "ball sits on the cursor target")
	assert.InDelta(t, 0.3, math.Abs(s.ErrorVector().X), 0.02, "error vector carries the yaw gap")
	assert.Greater(t, s.Error(), 0.0)
}

func TestSelectorSkipWait(t *testing.T) {
	t.Parallel()

	g := testGraph()
	var got []SelectionInfo
	out := pipe.SinkFunc[SelectionInfo]{PushFn: func(i SelectionInfo) { got = append(got, i) }}
	s := New(g, out, DefaultConfig())

	// Jump straight past targets 0 and 1.
	step := 2 * math.Pi / float64(g.Size())
	s.Push(sweepFrame(1, 2*step))
	s.Push(sweepFrame(2, 2*step+0.01))
	assert.Empty(t, got, "waiting for the missed target")
}

func TestSelectorSkipMarkEmpty(t *testing.T) {
	t.Parallel()

	g := testGraph()
	var got []SelectionInfo
	out := pipe.SinkFunc[SelectionInfo]{PushFn: func(i SelectionInfo) { got = append(got, i) }}
	cfg := DefaultConfig()
	cfg.Skip = SkipMarkEmpty
	s := New(g, out, cfg)

	step := 2 * math.Pi / float64(g.Size())
	s.Push(sweepFrame(1, 0.5*step)) // between targets, out of every tolerance
	s.Push(sweepFrame(2, 2*step))   // inside target 2's tolerance
	s.Push(sweepFrame(3, 2.5*step)) // departure emits target 2's best

	require.Len(t, got, 3)
	assert.False(t, got[0].IsValid, "target 0 marked empty")
	assert.False(t, got[1].IsValid, "target 1 marked empty")
	assert.True(t, got[2].IsValid)
	assert.Equal(t, 2, got[2].ClosestPoint.GlobalID)
}

func TestSelectorImagesToRecord(t *testing.T) {
	t.Parallel()

	g := testGraph()
	s := New(g, pipe.SinkFunc[SelectionInfo]{}, DefaultConfig())
	assert.Equal(t, g.Size(), s.ImagesToRecord())
	assert.False(t, s.HasStarted())
	assert.Equal(t, StateUninitialised, s.State())
}
