package graph

import (
	"math"

	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/geom"
)

// RecorderGraph is an ordered list of rings, each an ordered cyclic
// sequence of selection points. Immutable after generation and safe for
// concurrent readers.
type RecorderGraph struct {
	rings      [][]SelectionPoint
	pitches    []float64
	mode       Mode
	density    Density
	hOverlap   float64
	vOverlap   float64
	vFov       float64
	ringHeight float64
}

// Rings returns the rings in graph order (centre ring first).
func (g *RecorderGraph) Rings() [][]SelectionPoint { return g.rings }

// Mode returns the mode the graph was generated with.
func (g *RecorderGraph) Mode() Mode { return g.mode }

// Size returns the total number of targets across all rings.
func (g *RecorderGraph) Size() int {
	n := 0
	for _, ring := range g.rings {
		n += len(ring)
	}
	return n
}

// PointByID looks a target up by its global id.
func (g *RecorderGraph) PointByID(globalID int) (SelectionPoint, bool) {
	for _, ring := range g.rings {
		for _, p := range ring {
			if p.GlobalID == globalID {
				return p, true
			}
		}
	}
	return SelectionPoint{}, false
}

// Targets returns all points flattened in traversal order: ring by
// ring, each ring in local order.
func (g *RecorderGraph) Targets() []SelectionPoint {
	out := make([]SelectionPoint, 0, g.Size())
	for _, ring := range g.rings {
		out = append(out, ring...)
	}
	return out
}

// PitchOf extracts the latitude of a pose: the arcsine of the vertical
// component of the rotated forward axis.
func PitchOf(pose geom.Mat4) float64 {
	_, fy, _ := pose.Rotation().Transform4().Apply(0, 0, 1)
	if fy < -1 {
		fy = -1
	} else if fy > 1 {
		fy = 1
	}
	return -math.Asin(fy)
}

// FindAssociatedRing returns the ring whose centre latitude minimises
// the vertical angular distance to the pose, or -1 when the distance
// exceeds the ring half-height.
func (g *RecorderGraph) FindAssociatedRing(pose geom.Mat4) int {
	pitch := PitchOf(pose)
	best := -1
	bestDist := math.MaxFloat64
	for i, p := range g.pitches {
		d := math.Abs(pitch - p)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	if best == -1 || bestDist > g.vFov/2 {
		return -1
	}
	return best
}

// ParentRing returns the ring used as alignment reference for the given
// ring: the next ring toward the centre. The centre ring is its own
// parent.
func (g *RecorderGraph) ParentRing(ring int) int {
	if ring <= 2 {
		return 0
	}
	return ring - 2
}

// Edge reports the adjacency between a and b: a horizontal edge when b
// directly follows a in its ring's cyclic order, a vertical edge when
// the two rings are parent and child and b is the closest point of its
// ring to a. Points are resolved by global id, so points taken from a
// denser graph can be queried against a thinned one.
func (g *RecorderGraph) Edge(a, b SelectionPoint) (SelectionEdge, bool) {
	pa, ok := g.PointByID(a.GlobalID)
	if !ok {
		return SelectionEdge{}, false
	}
	pb, ok := g.PointByID(b.GlobalID)
	if !ok {
		return SelectionEdge{}, false
	}
	a, b = pa, pb

	if a.RingID == b.RingID {
		n := len(g.rings[a.RingID])
		if n > 1 && b.LocalID == (a.LocalID+1)%n {
			return SelectionEdge{From: a.GlobalID, To: b.GlobalID, Kind: EdgeHorizontal}, true
		}
		return SelectionEdge{}, false
	}

	if g.ParentRing(a.RingID) != b.RingID && g.ParentRing(b.RingID) != a.RingID {
		return SelectionEdge{}, false
	}
	closest := g.closestInRing(b.RingID, a.Extrinsics)
	if closest == b.GlobalID {
		return SelectionEdge{From: a.GlobalID, To: b.GlobalID, Kind: EdgeVertical}, true
	}
	return SelectionEdge{}, false
}

// closestInRing returns the global id of the ring's point closest to
// the pose by total rotation angle.
func (g *RecorderGraph) closestInRing(ring int, pose geom.Mat4) int {
	best := -1
	bestDist := math.MaxFloat64
	for _, p := range g.rings[ring] {
		d := geom.AngleBetween(pose, p.Extrinsics)
		if d < bestDist {
			bestDist = d
			best = p.GlobalID
		}
	}
	return best
}

// Edges enumerates every edge of the graph: one horizontal edge per
// consecutive ring pair plus one vertical edge from each point of a
// child ring to the closest point of its parent ring.
func (g *RecorderGraph) Edges() []SelectionEdge {
	var out []SelectionEdge
	for _, ring := range g.rings {
		n := len(ring)
		if n < 2 {
			continue
		}
		for i, p := range ring {
			out = append(out, SelectionEdge{
				From: p.GlobalID,
				To:   ring[(i+1)%n].GlobalID,
				Kind: EdgeHorizontal,
			})
		}
	}
	for ringID := 1; ringID < len(g.rings); ringID++ {
		parent := g.ParentRing(ringID)
		for _, p := range g.rings[ringID] {
			out = append(out, SelectionEdge{
				From: p.GlobalID,
				To:   g.closestInRing(parent, p.Extrinsics),
				Kind: EdgeVertical,
			})
		}
	}
	return out
}

// SelectBestMatches greedily assigns each target the unused frame
// minimising the angular distance to it, by adjusted pose. Returns the
// matched frames in target traversal order and the frame-id to
// target-global-id assignment.
func (g *RecorderGraph) SelectBestMatches(frames []*frame.Frame) ([]*frame.Frame, map[int64]int) {
	used := make(map[int64]bool, len(frames))
	assignment := make(map[int64]int, len(frames))
	var out []*frame.Frame

	for _, target := range g.Targets() {
		var best *frame.Frame
		bestDist := math.MaxFloat64
		for _, f := range frames {
			if used[f.ID] {
				continue
			}
			d := geom.AngleBetween(target.Extrinsics, f.Adjusted)
			if d < bestDist {
				bestDist = d
				best = f
			}
		}
		if best == nil || bestDist > g.vFov {
			continue
		}
		used[best.ID] = true
		assignment[best.ID] = target.GlobalID
		out = append(out, best)
	}
	return out, assignment
}

// SplitIntoRings buckets frames by associated ring. Frames that match
// no ring are dropped.
func (g *RecorderGraph) SplitIntoRings(frames []*frame.Frame) [][]*frame.Frame {
	rings := make([][]*frame.Frame, len(g.rings))
	for _, f := range frames {
		r := g.FindAssociatedRing(f.Original)
		if r == -1 {
			continue
		}
		rings[r] = append(rings[r], f)
	}
	return rings
}
