// Package stereo synthesises left/right view pairs from adjacent
// captured frames: each frame is reprojected onto a shared central
// baseline rotated by half the stereo disparity in either direction.
package stereo

import (
	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/geom"
)

// DefaultDisparity is the full angular disparity between the left and
// right eye views, in radians.
const DefaultDisparity = 0.06

// StereoPair holds the two rectified views built from two adjacent
// frames.
type StereoPair struct {
	Left  *frame.Frame
	Right *frame.Frame
	Valid bool
}

// Config parameterises stereo rectification.
type Config struct {
	// HBuffer and VBuffer are pixel margins cropped off the rectified
	// views.
	HBuffer int
	VBuffer int
	// Disparity is the full angular eye separation. Zero selects
	// DefaultDisparity.
	Disparity float64
}

// MonoStitcher rectifies frame pairs into stereo views.
type MonoStitcher struct {
	cfg Config
}

// NewMonoStitcher builds a stitcher.
func NewMonoStitcher(cfg Config) *MonoStitcher {
	if cfg.Disparity == 0 {
		cfg.Disparity = DefaultDisparity
	}
	return &MonoStitcher{cfg: cfg}
}

// CreateStereo builds the stereo pair for two adjacent frames. Both
// frames must have loaded pixel buffers; the pair is invalid otherwise.
// The central baseline is the slerp midpoint of the two adjusted poses;
// the left view rotates a to the baseline minus half the disparity, the
// right view rotates b to the baseline plus half.
func (m *MonoStitcher) CreateStereo(a, b *frame.Frame) StereoPair {
	if !a.IsLoaded() || !b.IsLoaded() {
		return StereoPair{}
	}

	mid := geom.Slerp(a.Adjusted, b.Adjusted, 0.5)
	half := m.cfg.Disparity / 2
	leftPose := mid.Mul(geom.RotationY(-half))
	rightPose := mid.Mul(geom.RotationY(half))

	left := m.reproject(a, leftPose)
	right := m.reproject(b, rightPose)
	return StereoPair{Left: left, Right: right, Valid: true}
}

// reproject renders the source frame as seen from the target pose by
// mapping every output pixel through the rotation homography
// K R K^-1 with bilinear sampling. The output is cropped by the
// configured margins.
func (m *MonoStitcher) reproject(src *frame.Frame, target geom.Mat4) *frame.Frame {
	buf := src.Pixels()
	w := buf.Width - 2*m.cfg.HBuffer
	h := buf.Height - 2*m.cfg.VBuffer
	if w < 1 {
		w = buf.Width
	}
	if h < 1 {
		h = buf.Height
	}

	k := src.Intrinsics.ScaleToImage(buf.Width, buf.Height).Mat3()
	rel := src.Adjusted.Rotation().Transform4().Inv().Mul(target.Rotation().Transform4()).Rotation()
	hom := k.Mul(rel).Mul(k.Inv())

	out := frame.NewBuffer(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := hom.Apply(float64(x+m.cfg.HBuffer), float64(y+m.cfg.VBuffer))
			r, g, bl, ok := buf.SampleBilinear(sx, sy)
			if !ok {
				continue
			}
			out.Set(x, y, r, g, bl)
		}
	}

	label := "rectified"
	if src.Source != nil {
		label = src.Source.Describe()
	}
	f := frame.New(src.ID, src.Intrinsics, target, frame.BufferSource{Buf: out, Label: label})
	f.SetPixels(out)
	return f
}
