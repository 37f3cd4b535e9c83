package debugsink

import (
	"math"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/stereosphere/panorec/internal/geom"
	"github.com/stereosphere/panorec/internal/graph"
)

// WriteCoveragePlot renders the target lattice in azimuth/pitch with
// recorded targets marked, so a capture run can be checked for holes
// at a glance.
func WriteCoveragePlot(dir string, g *graph.RecorderGraph, recorded map[int]bool) error {
	p := plot.New()
	p.Title.Text = "target coverage"
	p.X.Label.Text = "azimuth (rad)"
	p.Y.Label.Text = "pitch (rad)"

	var done, missing plotter.XYs
	for _, t := range g.Targets() {
		az := azimuthOf(t.Extrinsics)
		pitch := graph.PitchOf(t.Extrinsics)
		pt := plotter.XY{X: az, Y: pitch}
		if recorded[t.GlobalID] {
			done = append(done, pt)
		} else {
			missing = append(missing, pt)
		}
	}

	if len(done) > 0 {
		s, err := plotter.NewScatter(done)
		if err != nil {
			return err
		}
		s.GlyphStyle.Radius = vg.Points(3)
		p.Add(s)
		p.Legend.Add("recorded", s)
	}
	if len(missing) > 0 {
		s, err := plotter.NewScatter(missing)
		if err != nil {
			return err
		}
		s.GlyphStyle.Radius = vg.Points(2)
		p.Add(s)
		p.Legend.Add("missing", s)
	}

	return p.Save(8*vg.Inch, 4*vg.Inch, filepath.Join(dir, "coverage.png"))
}

// azimuthOf extracts the horizontal viewing angle of a pose.
func azimuthOf(m geom.Mat4) float64 {
	fx, _, fz := m.Rotation().Transform4().Apply(0, 0, 1)
	return math.Atan2(fx, fz)
}
