package selector

import (
	"github.com/stereosphere/panorec/internal/graph"
	"github.com/stereosphere/panorec/internal/pipe"
)

// Reselector re-binds incoming selections to a thinned target graph.
// Selections whose target survives in the sparse graph are forwarded
// with the sparse point (renumbered local id); the rest are dropped.
// The stereo stage downstream only needs the sparse density.
type Reselector struct {
	g   *graph.RecorderGraph
	out pipe.Sink[SelectionInfo]

	dropped int64
}

// NewReselector builds a reselector against the (typically sparse)
// target graph.
func NewReselector(g *graph.RecorderGraph, out pipe.Sink[SelectionInfo]) *Reselector {
	return &Reselector{g: g, out: out}
}

// Push forwards the selection when its target exists in the graph.
func (r *Reselector) Push(info SelectionInfo) {
	p, ok := r.g.PointByID(info.ClosestPoint.GlobalID)
	if !ok {
		r.dropped++
		return
	}
	info.ClosestPoint = p
	r.out.Push(info)
}

// Finish forwards the finish signal.
func (r *Reselector) Finish() { r.out.Finish() }

// Dropped returns the number of selections thinned away.
func (r *Reselector) Dropped() int64 { return r.dropped }
