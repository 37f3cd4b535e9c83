package stream

import (
	"math"

	"github.com/stereosphere/panorec/internal/frame"
)

// ExposureCompensator estimates a multiplicative gain per frame from
// pairwise mean-intensity ratios. Gains are solved in log domain by the
// same relaxation the pose adjuster uses and normalised to a mean gain
// of one.
type ExposureCompensator struct {
	ratios []gainRatio
	ids    map[int64]bool
}

type gainRatio struct {
	a, b int64
	log  float64
}

// NewExposureCompensator returns an empty compensator.
func NewExposureCompensator() *ExposureCompensator {
	return &ExposureCompensator{ids: make(map[int64]bool)}
}

// Measure records the intensity ratio of a pair of loaded frames.
func (e *ExposureCompensator) Measure(a, b *frame.Frame) {
	ma := meanIntensity(a.Pixels())
	mb := meanIntensity(b.Pixels())
	if ma <= 0 || mb <= 0 {
		return
	}
	e.ratios = append(e.ratios, gainRatio{a: a.ID, b: b.ID, log: math.Log(mb / ma)})
	e.ids[a.ID] = true
	e.ids[b.ID] = true
}

// Gains solves for per-frame gains. Frames never measured get gain 1.
func (e *ExposureCompensator) Gains() map[int64]float64 {
	logGain := make(map[int64]float64, len(e.ids))
	for iter := 0; iter < adjusterIterations; iter++ {
		step := make(map[int64]float64)
		count := make(map[int64]int)
		for _, r := range e.ratios {
			// gain_a - gain_b should equal log, so a's view matches b.
			res := r.log - (logGain[r.a] - logGain[r.b])
			step[r.a] += res / 2
			step[r.b] -= res / 2
			count[r.a]++
			count[r.b]++
		}
		for id, s := range step {
			if count[id] == 0 {
				continue
			}
			logGain[id] += adjusterDamping * s / float64(count[id])
		}
	}

	// Normalise to mean log gain zero.
	if len(logGain) > 0 {
		sum := 0.0
		for _, g := range logGain {
			sum += g
		}
		mean := sum / float64(len(logGain))
		for id := range logGain {
			logGain[id] -= mean
		}
	}

	out := make(map[int64]float64, len(e.ids))
	for id := range e.ids {
		out[id] = math.Exp(logGain[id])
	}
	return out
}

func meanIntensity(b *frame.Buffer) float64 {
	if b == nil || len(b.Pix) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range b.Pix {
		sum += float64(v)
	}
	return sum / float64(len(b.Pix))
}
