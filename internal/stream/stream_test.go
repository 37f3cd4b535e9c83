package stream

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stereosphere/panorec/internal/align"
	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/geom"
	"github.com/stereosphere/panorec/internal/graph"
	"github.com/stereosphere/panorec/internal/pipe"
	"github.com/stereosphere/panorec/internal/selector"
)

// stubMatcher lets tests inject correlation results without images.
type stubMatcher struct {
	fn func(a, b *frame.Frame, whole bool) align.Result
}

func (s stubMatcher) Match(a, b *frame.Frame, whole bool) align.Result {
	return s.fn(a, b, whole)
}

func streamIntrinsics() geom.Intrinsics {
	return geom.NewIntrinsics(400, 400, 320, 320)
}

func tinyFrame(id int64, pose geom.Mat4) *frame.Frame {
	buf := frame.NewBuffer(4, 4)
	return frame.New(id, streamIntrinsics(), pose, frame.BufferSource{Buf: buf, Label: "tiny"})
}

func truncatedGraph() *graph.RecorderGraph {
	cfg := graph.DefaultGeneratorConfig()
	cfg.Mode = graph.ModeTruncated
	return graph.Generate(streamIntrinsics(), cfg)
}

func TestMedianFilterStability(t *testing.T) {
	t.Parallel()

	a := NewRingwiseStreamAligner(truncatedGraph(), stubMatcher{})

	// A single spurious measurement in a stream of consistent ones
	// must not change the drift output.
	for _, yaw := range []float64{0, 0, 0.08, 0, 0, 0} {
		a.pushMeasurement(yaw)
		assert.InDelta(t, 0, geom.AngleOfRotation(a.Drift()), 1e-9,
			"outlier leaks into the drift")
	}
}

func TestMedianFilterFollowsConsistentChange(t *testing.T) {
	t.Parallel()

	a := NewRingwiseStreamAligner(truncatedGraph(), stubMatcher{})
	for _, yaw := range []float64{0.05, 0.05, 0.05} {
		a.pushMeasurement(yaw)
	}
	assert.InDelta(t, 0.05, geom.EulerAngles(a.Drift()).Y, 1e-9)
}

func TestRingwiseAlignerCorrectsDrift(t *testing.T) {
	t.Parallel()

	g := truncatedGraph()
	const sensorError = 0.05

	// Cross-ring matches report the injected residual; same-ring pairs
	// never reach the matcher.
	matcher := stubMatcher{fn: func(a, b *frame.Frame, whole bool) align.Result {
		return align.Result{Valid: true, Angular: align.Angular{Y: -sensorError}}
	}}
	aligner := NewRingwiseStreamAligner(g, matcher)

	// Reference ring: correct poses, no drift.
	ring0 := g.Rings()[0]
	for i, p := range ring0 {
		aligner.Push(tinyFrame(int64(i), p.Extrinsics))
	}
	assert.InDelta(t, 0, geom.AngleOfRotation(aligner.Drift()), 1e-9)

	// Second ring arrives with +0.05 rad of sensor yaw drift.
	var adjusted []*frame.Frame
	for i, p := range g.Rings()[1] {
		f := tinyFrame(int64(100+i), geom.RotationY(sensorError).Mul(p.Extrinsics))
		aligner.Push(f)
		adjusted = append(adjusted, f)
	}

	// Once the median window fills with drift measurements, adjusted
	// poses differ from original by Ry(-0.05).
	require.Greater(t, len(adjusted), 3)
	for _, f := range adjusted[2:] {
		corr := f.Adjusted.Mul(f.Original.Inv())
		assert.InDelta(t, -sensorError, geom.EulerAngles(corr).Y, 0.005,
			"frame %d drift correction", f.ID)
	}
}

func TestRingwiseAlignerRejectionsCounted(t *testing.T) {
	t.Parallel()

	g := truncatedGraph()
	matcher := stubMatcher{fn: func(a, b *frame.Frame, whole bool) align.Result {
		return align.Result{Valid: false, Rejection: align.RejectionNoOverlap}
	}}
	aligner := NewRingwiseStreamAligner(g, matcher)

	aligner.Push(tinyFrame(1, g.Rings()[0][0].Extrinsics))
	aligner.Push(tinyFrame(2, g.Rings()[1][0].Extrinsics))
	assert.Equal(t, int64(1), aligner.Rejections())
	assert.InDelta(t, 0, geom.AngleOfRotation(aligner.Drift()), 1e-9, "rejected match leaves drift untouched")
}

func TestRingwiseAlignerNoRingFrames(t *testing.T) {
	t.Parallel()

	cfg := graph.DefaultGeneratorConfig()
	g := graph.Generate(streamIntrinsics(), cfg)
	aligner := NewRingwiseStreamAligner(g, stubMatcher{})

	f := tinyFrame(1, geom.RotationX(math.Pi/2*0.99))
	aligner.Push(f)
	assert.Equal(t, f.Original, f.Adjusted, "unassociated frame passes through unchanged")
}

// renderedFrame builds a frame whose content is a fixed smooth scene
// seen from the given content pose, while the frame's recorded pose may
// carry error.
func renderedFrame(id int64, size int, contentYaw float64, recordedPose geom.Mat4) *frame.Frame {
	k := streamIntrinsics()
	scaled := k.ScaleToImage(size, size)
	buf := frame.NewBuffer(size, size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			az := contentYaw + math.Atan((float64(x)-float64(size)/2)/scaled.Fx())
			el := math.Atan((float64(y)-float64(size)/2)/scaled.Fy())
			v := 127 + 60*math.Sin(az*9) + 40*math.Sin(el*7+az*3) + 20*math.Sin(az*23)
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			buf.Set(x, y, uint8(v), uint8(v/2), uint8(255-v))
		}
	}
	f := frame.New(id, k, recordedPose, frame.BufferSource{Buf: buf, Label: "render"})
	return f
}

func TestRingCloserClosesGap(t *testing.T) {
	t.Parallel()

	const gap = 0.1
	const n = 20

	// First and last frame see the same scene, but the last frame's
	// pose claims it is 0.1 rad further round the ring.
	first := renderedFrame(0, 256, 0, geom.Identity4())
	last := renderedFrame(int64(n-1), 256, 0, geom.RotationY(gap))

	ring := []*frame.Frame{first}
	for i := 1; i < n-1; i++ {
		ring = append(ring, tinyFrame(int64(i), geom.RotationY(float64(i)*0.02)))
	}
	ring = append(ring, last)

	corr := align.NewPairwiseCorrelator(align.DefaultConfig())
	require.True(t, CloseRing(ring, corr))

	// After closure the poses explain the content: the residual gap
	// between first and last is negligible.
	require.NoError(t, first.Retain())
	require.NoError(t, last.Retain())
	defer first.Release()
	defer last.Release()
	res := corr.Match(first, last, true)
	require.True(t, res.Valid)
	assert.LessOrEqual(t, math.Abs(res.Angular.Y), 0.01, "residual after closure")
}

func TestRingCloserIdempotent(t *testing.T) {
	t.Parallel()

	first := renderedFrame(0, 256, 0, geom.Identity4())
	last := renderedFrame(1, 256, 0, geom.RotationY(0.1))
	ring := []*frame.Frame{}
	ring = append(ring, first)
	for i := 1; i < 19; i++ {
		ring = append(ring, tinyFrame(int64(i), geom.RotationY(float64(i)*0.02)))
	}
	ring = append(ring, last)

	corr := align.NewPairwiseCorrelator(align.DefaultConfig())
	require.True(t, CloseRing(ring, corr))
	posesAfterFirst := make([]geom.Mat4, len(ring))
	for i, f := range ring {
		posesAfterFirst[i] = f.Adjusted
	}

	CloseRing(ring, corr)
	for i, f := range ring {
		assert.InDelta(t, 0, geom.AngleBetween(posesAfterFirst[i], f.Adjusted), 0.01,
			"second closure moves frame %d", i)
	}
}

func TestRingCloserRejectsLargeGap(t *testing.T) {
	t.Parallel()

	first := renderedFrame(0, 128, 0, geom.Identity4())
	last := renderedFrame(1, 128, 0, geom.RotationY(0.35))
	ring := []*frame.Frame{first, tinyFrame(2, geom.Identity4()), last}

	before := append([]geom.Mat4(nil), first.Adjusted, last.Adjusted)
	ok := CloseRing(ring, align.NewPairwiseCorrelator(align.DefaultConfig()))
	assert.False(t, ok)
	assert.Equal(t, before[0], first.Adjusted, "declined closure leaves poses alone")
	assert.Equal(t, before[1], last.Adjusted)
}

func TestRingCloserTooShort(t *testing.T) {
	t.Parallel()
	assert.False(t, CloseRing([]*frame.Frame{tinyFrame(1, geom.Identity4())}, stubMatcher{}))
}

func TestCorrespondenceAdjuster(t *testing.T) {
	t.Parallel()

	g := truncatedGraph()

	// Ring 0 frames are correct; ring 1 frames carry a 0.05 rad yaw
	// error relative to them.
	driftOf := map[int64]float64{}
	var infos []selector.SelectionInfo
	id := int64(0)
	for _, ring := range g.Rings()[:2] {
		for _, p := range ring {
			var pose geom.Mat4
			var drift float64
			if p.RingID == 1 {
				drift = -0.05
			}
			pose = geom.RotationY(-drift).Mul(p.Extrinsics)
			f := tinyFrame(id, pose)
			driftOf[id] = drift
			infos = append(infos, selector.SelectionInfo{
				Frame:        f,
				ClosestPoint: p,
				IsValid:      true,
			})
			id++
		}
	}

	matcher := stubMatcher{fn: func(a, b *frame.Frame, whole bool) align.Result {
		return align.Result{
			Valid:   true,
			Angular: align.Angular{Y: driftOf[a.ID] - driftOf[b.ID]},
		}
	}}

	var emitted []selector.SelectionInfo
	out := pipe.SinkFunc[selector.SelectionInfo]{PushFn: func(i selector.SelectionInfo) { emitted = append(emitted, i) }}
	adj := NewCorrespondenceAdjuster(g, matcher, out)
	for _, info := range infos {
		adj.Push(info)
	}
	adj.Finish()

	require.Len(t, emitted, len(infos), "all selections re-emitted in order")

	for _, info := range emitted {
		applied := geom.EulerAngles(info.Frame.Adjusted.Mul(info.Frame.Original.Inv())).Y
		if info.ClosestPoint.RingID == 0 {
			assert.InDelta(t, 0, applied, 1e-9, "anchored frame %d moved", info.Frame.ID)
		} else {
			assert.InDelta(t, -0.05, applied, 0.005, "frame %d correction", info.Frame.ID)
		}
	}
}

func TestExposureCompensator(t *testing.T) {
	t.Parallel()

	mkFrame := func(id int64, level uint8) *frame.Frame {
		buf := frame.NewBuffer(8, 8)
		for i := range buf.Pix {
			buf.Pix[i] = level
		}
		f := frame.New(id, streamIntrinsics(), geom.Identity4(), frame.BufferSource{Buf: buf, Label: "flat"})
		if err := f.Load(); err != nil {
			t.Fatal(err)
		}
		return f
	}

	dark := mkFrame(1, 100)
	bright := mkFrame(2, 200)

	comp := NewExposureCompensator()
	comp.Measure(dark, bright)
	gains := comp.Gains()

	require.Len(t, gains, 2)
	assert.InDelta(t, 2.0, gains[1]/gains[2], 0.05, "gain ratio matches intensity ratio")
	assert.InDelta(t, 1.0, gains[1]*gains[2], 0.05, "gains normalised")
}
