// Package frame defines the captured-image unit that moves through the
// recorder pipeline: pose metadata plus a lazily loaded, reference
// counted RGB pixel buffer.
//
// Frames are owned by the stage currently processing them. Once a frame
// reaches a sink it must be treated as shared read-only. The pixel
// buffer may be unloaded at any hand-off and reloaded from the source
// descriptor by the next stage that needs pixels.
package frame

import (
	"fmt"
	"sync"

	"github.com/stereosphere/panorec/internal/geom"
)

// Frame is one captured image plus metadata.
//
// Invariants: Adjusted equals Original until an aligner mutates it,
// Intrinsics never changes, and ID is stable and used as a key.
type Frame struct {
	// ID is unique and monotonically increasing across a session.
	ID int64

	Intrinsics geom.Intrinsics

	// Original is the extrinsic pose as reported by the sensors.
	Original geom.Mat4
	// Adjusted is the pose after alignment.
	Adjusted geom.Mat4

	// Source describes where pixels can be (re-)loaded from.
	Source Source

	mu   sync.Mutex
	buf  *Buffer
	refs int
}

// New creates a frame with Adjusted initialised to Original.
func New(id int64, k geom.Intrinsics, original geom.Mat4, src Source) *Frame {
	return &Frame{
		ID:         id,
		Intrinsics: k,
		Original:   original,
		Adjusted:   original,
		Source:     src,
	}
}

// IsLoaded reports whether the pixel buffer currently holds data.
func (f *Frame) IsLoaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf != nil && len(f.buf.Pix) > 0
}

// Load reads the pixel buffer from the source descriptor if it is not
// already loaded.
func (f *Frame) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buf != nil && len(f.buf.Pix) > 0 {
		return nil
	}
	if f.Source == nil {
		return fmt.Errorf("frame %d: no source to load from", f.ID)
	}
	buf, err := f.Source.Load()
	if err != nil {
		return fmt.Errorf("frame %d: %w", f.ID, err)
	}
	f.buf = buf
	return nil
}

// Retain loads the buffer if needed and takes a reference. Every
// successful Retain must be paired with a Release.
func (f *Frame) Retain() error {
	if err := f.Load(); err != nil {
		return err
	}
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
	return nil
}

// Release drops a reference taken by Retain. When the count reaches
// zero the buffer is unloaded.
func (f *Frame) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs > 0 {
		f.refs--
	}
	if f.refs == 0 {
		f.buf = nil
	}
}

// Unload drops the pixel buffer unconditionally. Callers holding
// references must not use Unload; use Release instead.
func (f *Frame) Unload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = nil
	f.refs = 0
}

// Pixels returns the loaded buffer, or nil when unloaded. Consumers
// must check IsLoaded (or Retain) before reading pixels.
func (f *Frame) Pixels() *Buffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf
}

// SetPixels installs a buffer directly, bypassing the source. Used by
// stages that synthesise frames (stereo rectification).
func (f *Frame) SetPixels(b *Buffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = b
}

// Clone returns a metadata copy of f sharing the same source. The pixel
// buffer is not copied.
func (f *Frame) Clone() *Frame {
	return &Frame{
		ID:         f.ID,
		Intrinsics: f.Intrinsics,
		Original:   f.Original,
		Adjusted:   f.Adjusted,
		Source:     f.Source,
	}
}
