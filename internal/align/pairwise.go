package align

import (
	"image"
	"math"

	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/geom"
)

// Rejection classifies why a correlation produced no usable offset.
// Rejections are the common case during capture; they are counted by
// callers, never propagated as errors.
type Rejection int

const (
	// RejectionNone means the match is valid.
	RejectionNone Rejection = iota
	// RejectionNoOverlap means the predicted overlap region was too
	// small to correlate.
	RejectionNoOverlap
	// RejectionOutOfWindow means the best offset sat on the search
	// window boundary, so the true minimum is likely outside it.
	RejectionOutOfWindow
	// RejectionDeviation means the correlation landscape was too flat
	// to trust the minimum.
	RejectionDeviation
)

// String returns the rejection name.
func (r Rejection) String() string {
	switch r {
	case RejectionNone:
		return "none"
	case RejectionNoOverlap:
		return "no-overlap"
	case RejectionOutOfWindow:
		return "out-of-window"
	case RejectionDeviation:
		return "deviation"
	default:
		return "unknown"
	}
}

// Angular is an angular offset between two frames: Y is yaw (derived
// from the horizontal pixel offset), X is pitch (from the vertical).
type Angular struct {
	X float64
	Y float64
}

// Result is the outcome of a pairwise match.
type Result struct {
	// Offset is the pixel displacement of b's content relative to a's:
	// a(x, y) corresponds to b(x+Offset.X, y+Offset.Y).
	Offset image.Point
	// Angular is the drift between the frames: the part of the
	// measured offset the pose difference does not explain, converted
	// through the intrinsics.
	Angular Angular
	// Valid reports whether the match passed all rejection gates.
	Valid bool
	// Rejection holds the gate that failed when Valid is false.
	Rejection Rejection
	// Coefficient is the pooled correlation confidence, sqrt(variance)
	// over the number of pyramid levels the variance was pooled from.
	Coefficient float64
	// OverlapPx is the correlated region size in pixels.
	OverlapPx int
}

// Config parameterises a PairwiseCorrelator.
type Config struct {
	// MinOverlap is the smallest usable overlap extent in pixels. The
	// effective gate is min(4, MinOverlap).
	MinOverlap int
	// WindowX and WindowY are the search window fractions at the
	// coarsest pyramid level.
	WindowX float64
	WindowY float64
	// BorderPad is the fraction added around the predicted overlap
	// region to absorb pose error.
	BorderPad float64
	// DeviationTest enables the flat-landscape gate.
	DeviationTest bool
	// DeviationThreshold is the minimum pooled variance accepted when
	// DeviationTest is on.
	DeviationThreshold float64
	// Correlator is the error measure; zero value selects the
	// normalised least-squares default.
	Correlator Correlator
}

// DefaultConfig returns the production correlator settings.
func DefaultConfig() Config {
	return Config{
		MinOverlap:         4,
		WindowX:            0.5,
		WindowY:            0.5,
		BorderPad:          0.2,
		DeviationTest:      false,
		DeviationThreshold: 50,
		Correlator:         DefaultCorrelator(),
	}
}

// PairwiseCorrelator computes the translational offset between two
// overlapping frames and converts it to an angular offset.
type PairwiseCorrelator struct {
	cfg Config
}

// NewPairwiseCorrelator builds a correlator from the given config,
// filling zero fields with defaults.
func NewPairwiseCorrelator(cfg Config) *PairwiseCorrelator {
	def := DefaultConfig()
	if cfg.MinOverlap == 0 {
		cfg.MinOverlap = def.MinOverlap
	}
	if cfg.WindowX == 0 {
		cfg.WindowX = def.WindowX
	}
	if cfg.WindowY == 0 {
		cfg.WindowY = def.WindowY
	}
	if cfg.BorderPad == 0 {
		cfg.BorderPad = def.BorderPad
	}
	if cfg.DeviationThreshold == 0 {
		cfg.DeviationThreshold = def.DeviationThreshold
	}
	if cfg.Correlator == (Correlator{}) {
		cfg.Correlator = def.Correlator
	}
	return &PairwiseCorrelator{cfg: cfg}
}

// Match correlates frames a and b. Both frames must have loaded pixel
// buffers. When forceWholeImage is set the predicted overlap regions
// are skipped and the entire frames are correlated, which is what ring
// closure needs.
func (p *PairwiseCorrelator) Match(a, b *frame.Frame, forceWholeImage bool) Result {
	var res Result

	ba := a.Pixels()
	bb := b.Pixels()
	if ba == nil || bb == nil {
		res.Rejection = RejectionNoOverlap
		return res
	}

	pdx, pdy := p.predictedOffset(a, b)
	regionA, regionB := p.regions(a, b, pdx, pdy, forceWholeImage)
	minOverlap := p.cfg.MinOverlap
	if minOverlap > 4 {
		minOverlap = 4
	}
	if regionA.Dx() < minOverlap || regionA.Dy() < minOverlap ||
		regionB.Dx() < minOverlap || regionB.Dy() < minOverlap {
		res.Rejection = RejectionNoOverlap
		return res
	}

	subA := ba.SubImage(regionA)
	subB := bb.SubImage(regionB)

	aligner := PyramidAligner{Corr: p.cfg.Correlator}
	planar := aligner.Align(subA, subB, p.cfg.WindowX, p.cfg.WindowY)

	if p.cfg.DeviationTest && planar.Variance < p.cfg.DeviationThreshold {
		res.Rejection = RejectionDeviation
		return res
	}

	// Window boundary check happens on the local offset before the
	// region base is added back.
	boundX := int(float64(maxInt(subA.Width, subB.Width)) * p.cfg.WindowX)
	boundY := int(float64(maxInt(subA.Height, subB.Height)) * p.cfg.WindowY)
	if (boundX > 0 && abs(planar.Offset.X) >= boundX) ||
		(boundY > 0 && abs(planar.Offset.Y) >= boundY) {
		res.Rejection = RejectionOutOfWindow
		return res
	}

	total := image.Point{
		X: regionB.Min.X - regionA.Min.X + planar.Offset.X,
		Y: regionB.Min.Y - regionA.Min.Y + planar.Offset.Y,
	}

	k := a.Intrinsics.ScaleToImage(ba.Width, ba.Height)
	anchorX := float64(regionA.Min.X+regionA.Max.X) / 2
	anchorY := float64(regionA.Min.Y+regionA.Max.Y) / 2

	res.Offset = total
	res.Angular = Angular{
		Y: pixelToAngle(anchorX, float64(total.X-pdx), float64(ba.Width), k.Fx()),
		X: pixelToAngle(anchorY, float64(total.Y-pdy), float64(ba.Height), k.Fy()),
	}
	res.Valid = true
	res.OverlapPx = regionA.Dx() * regionA.Dy()
	if n := planar.N; n > 0 {
		res.Coefficient = math.Sqrt(planar.Variance) / float64(n)
	}
	return res
}

// pixelToAngle converts a horizontal pixel displacement dx at image
// position x into the angular displacement seen by a pinhole camera
// with focal length h pixels and image extent w.
func pixelToAngle(x, dx, w, h float64) float64 {
	return math.Atan((x+dx-w/2)/h) - math.Atan((x-w/2)/h)
}

// predictedOffset projects the pose difference of a and b through the
// intrinsics into the pixel offset the sensors expect between the two
// images.
func (p *PairwiseCorrelator) predictedOffset(a, b *frame.Frame) (pdx, pdy int) {
	ba := a.Pixels()
	k := a.Intrinsics.ScaleToImage(ba.Width, ba.Height)
	rel := geom.EulerAngles(a.Adjusted.Inv().Mul(b.Adjusted))
	pdx = int(-k.Fx() * math.Tan(rel.Y))
	pdy = int(-k.Fy() * math.Tan(rel.X))
	return pdx, pdy
}

// regions turns the predicted offset into the overlapping rectangles
// of a and b, padded with a border to absorb pose error.
func (p *PairwiseCorrelator) regions(a, b *frame.Frame, pdx, pdy int, whole bool) (image.Rectangle, image.Rectangle) {
	ba := a.Pixels()
	bb := b.Pixels()
	fullA := ba.Bounds()
	fullB := bb.Bounds()
	if whole {
		return fullA, fullB
	}

	// a(x) corresponds to b(x+pdx): a's valid extent is where x+pdx
	// stays inside b.
	ax0 := clampInt(-pdx, 0, ba.Width)
	ax1 := clampInt(bb.Width-pdx, 0, ba.Width)
	ay0 := clampInt(-pdy, 0, ba.Height)
	ay1 := clampInt(bb.Height-pdy, 0, ba.Height)

	padX := int(float64(ax1-ax0) * p.cfg.BorderPad)
	padY := int(float64(ay1-ay0) * p.cfg.BorderPad)

	regionA := image.Rect(ax0-padX, ay0-padY, ax1+padX, ay1+padY).Intersect(fullA)
	regionB := image.Rect(
		regionA.Min.X+pdx, regionA.Min.Y+pdy,
		regionA.Max.X+pdx, regionA.Max.Y+pdy,
	).Intersect(fullB)
	return regionA, regionB
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
