// Package storage persists the recorder's outputs: rectified frames on
// disk, the binary input-summary manifest, and an optional sqlite
// session store for post-run analysis.
package storage

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/stereosphere/panorec/internal/geom"
	"github.com/stereosphere/panorec/internal/graph"
)

// Manifest format constants. The format is little-endian binary with a
// fixed header magic and a version byte, forward-incompatible on
// version change.
const (
	manifestMagic   = "PRSM"
	manifestVersion = byte(1)
	noTarget        = ^uint32(0)
)

// ManifestPoint is one serialised selection point.
type ManifestPoint struct {
	GlobalID   uint32
	RingID     uint32
	LocalID    uint32
	VFov       float64
	Enabled    bool
	Extrinsics geom.Mat4
}

// ManifestFrame is one serialised frame record: its target assignment,
// exposure gain and adjusted pose.
type ManifestFrame struct {
	FrameID  uint64
	TargetID uint32
	HasTgt   bool
	Gain     float64
	Adjusted geom.Mat4
}

// Manifest is the decoded input summary.
type Manifest struct {
	Rings  [][]ManifestPoint
	Frames []ManifestFrame
}

// WriteManifest serialises the graph and per-frame records.
func WriteManifest(w io.Writer, g *graph.RecorderGraph, frames []ManifestFrame) error {
	if _, err := w.Write([]byte(manifestMagic)); err != nil {
		return err
	}
	if _, err := w.Write([]byte{manifestVersion}); err != nil {
		return err
	}

	rings := g.Rings()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(rings))); err != nil {
		return err
	}
	for _, ring := range rings {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(ring))); err != nil {
			return err
		}
		for _, p := range ring {
			mp := ManifestPoint{
				GlobalID:   uint32(p.GlobalID),
				RingID:     uint32(p.RingID),
				LocalID:    uint32(p.LocalID),
				VFov:       p.VFov,
				Enabled:    p.Enabled,
				Extrinsics: p.Extrinsics,
			}
			if err := writePoint(w, mp); err != nil {
				return err
			}
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(frames))); err != nil {
		return err
	}
	for _, f := range frames {
		if err := writeFrame(w, f); err != nil {
			return err
		}
	}
	return nil
}

func writePoint(w io.Writer, p ManifestPoint) error {
	for _, v := range []uint32{p.GlobalID, p.RingID, p.LocalID} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, p.VFov); err != nil {
		return err
	}
	enabled := byte(0)
	if p.Enabled {
		enabled = 1
	}
	if _, err := w.Write([]byte{enabled}); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, p.Extrinsics[:])
}

func writeFrame(w io.Writer, f ManifestFrame) error {
	if err := binary.Write(w, binary.LittleEndian, f.FrameID); err != nil {
		return err
	}
	target := noTarget
	if f.HasTgt {
		target = f.TargetID
	}
	if err := binary.Write(w, binary.LittleEndian, target); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, f.Gain); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, f.Adjusted[:])
}

// ReadManifest decodes an input summary. Unknown versions are refused.
func ReadManifest(r io.Reader) (*Manifest, error) {
	head := make([]byte, 5)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("reading manifest header: %w", err)
	}
	if string(head[:4]) != manifestMagic {
		return nil, fmt.Errorf("bad manifest magic %q", head[:4])
	}
	if head[4] != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", head[4])
	}

	var ringCount uint32
	if err := binary.Read(r, binary.LittleEndian, &ringCount); err != nil {
		return nil, err
	}
	m := &Manifest{}
	for i := uint32(0); i < ringCount; i++ {
		var pointCount uint32
		if err := binary.Read(r, binary.LittleEndian, &pointCount); err != nil {
			return nil, err
		}
		ring := make([]ManifestPoint, pointCount)
		for j := range ring {
			p, err := readPoint(r)
			if err != nil {
				return nil, err
			}
			ring[j] = p
		}
		m.Rings = append(m.Rings, ring)
	}

	var frameCount uint32
	if err := binary.Read(r, binary.LittleEndian, &frameCount); err != nil {
		return nil, err
	}
	for i := uint32(0); i < frameCount; i++ {
		f, err := readFrame(r)
		if err != nil {
			return nil, err
		}
		m.Frames = append(m.Frames, f)
	}
	return m, nil
}

func readPoint(r io.Reader) (ManifestPoint, error) {
	var p ManifestPoint
	for _, v := range []*uint32{&p.GlobalID, &p.RingID, &p.LocalID} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return p, err
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &p.VFov); err != nil {
		return p, err
	}
	var enabled [1]byte
	if _, err := io.ReadFull(r, enabled[:]); err != nil {
		return p, err
	}
	p.Enabled = enabled[0] == 1
	if err := binary.Read(r, binary.LittleEndian, p.Extrinsics[:]); err != nil {
		return p, err
	}
	return p, nil
}

func readFrame(r io.Reader) (ManifestFrame, error) {
	var f ManifestFrame
	if err := binary.Read(r, binary.LittleEndian, &f.FrameID); err != nil {
		return f, err
	}
	var target uint32
	if err := binary.Read(r, binary.LittleEndian, &target); err != nil {
		return f, err
	}
	if target != noTarget {
		f.TargetID = target
		f.HasTgt = true
	}
	if err := binary.Read(r, binary.LittleEndian, &f.Gain); err != nil {
		return f, err
	}
	if err := binary.Read(r, binary.LittleEndian, f.Adjusted[:]); err != nil {
		return f, err
	}
	return f, nil
}
