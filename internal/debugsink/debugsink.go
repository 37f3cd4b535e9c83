// Package debugsink writes intermediate capture artefacts for offline
// inspection: the frames flowing past it and, on finish, a coverage
// plot of the target lattice. With an empty path the sink is a pure
// pass-through.
package debugsink

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/monitoring"
	"github.com/stereosphere/panorec/internal/pipe"
)

// DebugSink dumps every loaded frame passing through to the debug
// directory before forwarding it unchanged.
type DebugSink struct {
	path    string
	enabled bool
	out     pipe.Sink[*frame.Frame]

	mu      sync.Mutex
	written int
}

// New builds a debug sink. An empty path bypasses all I/O.
func New(path string, out pipe.Sink[*frame.Frame]) *DebugSink {
	enabled := path != ""
	if enabled {
		if err := os.MkdirAll(path, 0o755); err != nil {
			monitoring.Logf("debug sink: disabling, cannot create %s: %v", path, err)
			enabled = false
		}
	}
	return &DebugSink{path: path, enabled: enabled, out: out}
}

// Push writes the frame image when debugging is on, then forwards.
func (d *DebugSink) Push(f *frame.Frame) {
	if d.enabled && f.IsLoaded() {
		if err := d.dump(f); err != nil {
			monitoring.Logf("debug sink: %v", err)
		}
	}
	d.out.Push(f)
}

// Finish forwards the finish signal.
func (d *DebugSink) Finish() { d.out.Finish() }

// Written returns the number of debug images written.
func (d *DebugSink) Written() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

func (d *DebugSink) dump(f *frame.Frame) error {
	buf := f.Pixels()
	img := image.NewRGBA(image.Rect(0, 0, buf.Width, buf.Height))
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			r, g, b := buf.At(x, y)
			i := img.PixOffset(x, y)
			img.Pix[i] = r
			img.Pix[i+1] = g
			img.Pix[i+2] = b
			img.Pix[i+3] = 255
		}
	}
	path := filepath.Join(d.path, fmt.Sprintf("input_%06d.png", f.ID))
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	if err := png.Encode(fh, img); err != nil {
		return err
	}
	d.mu.Lock()
	d.written++
	d.mu.Unlock()
	return nil
}
