package graph

import (
	"math"

	"github.com/stereosphere/panorec/internal/geom"
)

// Default overlap fractions. The horizontal figure is calibrated so a
// normal-density centre ring for a typical phone camera lands on 16
// targets.
const (
	DefaultHOverlap = 0.7
	DefaultVOverlap = 0.25
)

// GeneratorConfig holds the graph generation parameters.
type GeneratorConfig struct {
	Mode     Mode
	Density  Density
	HOverlap float64
	VOverlap float64
}

// DefaultGeneratorConfig returns the standard generation parameters.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Mode:     ModeCenter,
		Density:  DensityNormal,
		HOverlap: DefaultHOverlap,
		VOverlap: DefaultVOverlap,
	}
}

// Generate builds the target lattice for the given camera intrinsics.
// Rings are ordered centre-first, then alternating upward and downward
// moving away from the equator, so ring 0 is always the reference ring.
func Generate(k geom.Intrinsics, cfg GeneratorConfig) *RecorderGraph {
	if cfg.HOverlap <= 0 || cfg.HOverlap >= 1 {
		cfg.HOverlap = DefaultHOverlap
	}
	if cfg.VOverlap <= 0 || cfg.VOverlap >= 1 {
		cfg.VOverlap = DefaultVOverlap
	}
	if cfg.Density == 0 {
		cfg.Density = DensityNormal
	}

	hFov := k.HFov()
	vFov := k.VFov()
	vStep := vFov * (1 - cfg.VOverlap)

	pitches := ringPitches(cfg.Mode, vStep)

	g := &RecorderGraph{
		mode:       cfg.Mode,
		density:    cfg.Density,
		hOverlap:   cfg.HOverlap,
		vOverlap:   cfg.VOverlap,
		vFov:       vFov,
		ringHeight: vStep,
	}

	globalID := 0
	for ringID, pitch := range pitches {
		count := ringTargetCount(hFov, cfg.HOverlap, cfg.Density, pitch)
		ring := make([]SelectionPoint, 0, count)
		for i := 0; i < count; i++ {
			azimuth := 2 * math.Pi * float64(i) / float64(count)
			ring = append(ring, SelectionPoint{
				GlobalID:   globalID,
				RingID:     ringID,
				LocalID:    i,
				Extrinsics: geom.RotationY(azimuth).Mul(geom.RotationX(pitch)),
				VFov:       vFov,
				Enabled:    true,
			})
			globalID++
		}
		g.rings = append(g.rings, ring)
		g.pitches = append(g.pitches, pitch)
	}
	return g
}

// ringPitches returns ring centre latitudes in graph ring order:
// centre first, then alternating above and below.
func ringPitches(mode Mode, vStep float64) []float64 {
	switch mode {
	case ModeCenter:
		return []float64{0}
	case ModeTruncated:
		return []float64{0, vStep, -vStep}
	default:
		pitches := []float64{0}
		for level := 1; ; level++ {
			p := vStep * float64(level)
			if p >= math.Pi/2 {
				break
			}
			pitches = append(pitches, p, -p)
		}
		return pitches
	}
}

// ringTargetCount computes the number of azimuth targets for a ring at
// the given pitch. Rings away from the equator shrink with cos(pitch).
func ringTargetCount(hFov, hOverlap float64, density Density, pitch float64) int {
	n := int(math.Ceil(float64(density) * 2 * math.Pi * math.Cos(pitch) / (hFov * (1 - hOverlap))))
	if n < 1 {
		n = 1
	}
	return n
}

// Sparse derives a thinned copy of g keeping every skip-th target of
// each ring. Local ids are renumbered; global ids are preserved so
// assignments carry across the two graphs.
func Sparse(g *RecorderGraph, skip int) *RecorderGraph {
	if skip < 1 {
		skip = 1
	}
	out := &RecorderGraph{
		mode:       g.mode,
		density:    g.density,
		hOverlap:   g.hOverlap,
		vOverlap:   g.vOverlap,
		vFov:       g.vFov,
		ringHeight: g.ringHeight,
		pitches:    append([]float64(nil), g.pitches...),
	}
	for _, ring := range g.rings {
		thinned := make([]SelectionPoint, 0, (len(ring)+skip-1)/skip)
		for i := 0; i < len(ring); i += skip {
			p := ring[i]
			p.LocalID = len(thinned)
			thinned = append(thinned, p)
		}
		out.rings = append(out.rings, thinned)
	}
	return out
}
