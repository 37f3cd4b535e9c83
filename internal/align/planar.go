package align

import (
	"image"
	"math"

	"github.com/stereosphere/panorec/internal/frame"
)

// PlanarResult is the outcome of a planar search: the displacement of b
// relative to a minimising the correlator error, a count N, and the
// variance of the correlator values. BruteForce sets N to 2*wx + 2*wy;
// PyramidAligner.Align sets it to the number of pyramid levels whose
// variances were pooled.
type PlanarResult struct {
	Offset   image.Point
	N        int
	Variance float64
}

// BruteForce scans the window [-wx, wx] x [-wy, wy] around the centre
// offset (ox, oy) and returns the displacement minimising the
// correlator error. Scan order is x outer, y inner, both ascending from
// the negative bound; the first minimum found wins, which makes the
// search deterministic.
func BruteForce(c Correlator, a, b *frame.Buffer, wx, wy, ox, oy int) PlanarResult {
	if wx < 1 {
		wx = 1
	}
	if wy < 1 {
		wy = 1
	}

	mx, my := 0, 0
	min := math.Inf(1)
	var v OnlineVariance

	for dx := -wx; dx <= wx; dx++ {
		for dy := -wy; dy <= wy; dy++ {
			res := c.Calculate(a, b, dx+ox, dy+oy)
			if math.IsInf(res, 1) {
				continue
			}
			v.Push(res)
			if res < min {
				min = res
				mx = dx
				my = dy
			}
		}
	}

	return PlanarResult{
		Offset:   image.Point{X: mx + ox, Y: my + oy},
		N:        wx*2 + wy*2,
		Variance: v.Result(),
	}
}

// pyramidFloor is the smallest image extent, scaled by the window
// fraction, at which the pyramid stops downsampling and runs the full
// brute-force window.
const pyramidFloor = 4

// PyramidAligner runs a coarse-to-fine planar search over a correlator:
// both images are halved until they reach the floor, a full window
// search runs at the bottom, and each level on the way up refines the
// doubled guess within +-2 pixels.
type PyramidAligner struct {
	Corr Correlator
}

// Align searches for the displacement of b relative to a. wx and wy are
// the search window as fractions of the image extent at the coarsest
// level (0.5 covers half the image in each direction).
func (p PyramidAligner) Align(a, b *frame.Buffer, wx, wy float64) PlanarResult {
	var pool VariancePool
	off := p.align(a, b, wx, wy, 0, &pool)
	return PlanarResult{Offset: off, N: pool.Count(), Variance: pool.Result()}
}

func (p PyramidAligner) align(a, b *frame.Buffer, wx, wy float64, depth int, pool *VariancePool) image.Point {
	if float64(a.Width) > pyramidFloor/wx && float64(b.Width) > pyramidFloor/wx &&
		float64(a.Height) > pyramidFloor/wy && float64(b.Height) > pyramidFloor/wy {
		ta := a.Downsample()
		tb := b.Downsample()
		guess := p.align(ta, tb, wx, wy, depth+1, pool)

		res := BruteForce(p.Corr, a, b, 2, 2, guess.X*2, guess.Y*2)
		pool.Push(res.Variance, float64(res.N)*math.Pow(2, float64(depth)))
		return res.Offset
	}

	bwx := int(float64(maxInt(a.Width, b.Width)) * wx)
	bwy := int(float64(maxInt(a.Height, b.Height)) * wy)
	res := BruteForce(p.Corr, a, b, bwx, bwy, 0, 0)
	pool.Push(res.Variance, float64(res.N)*math.Pow(2, float64(depth)))
	return res.Offset
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
