package storage

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/graph"
	"github.com/stereosphere/panorec/internal/monitoring"
)

// Sink is the storage interface the recorder hands rectified frames
// to, one per eye.
type Sink interface {
	SaveRectifiedImage(f *frame.Frame) error
	SaveInputSummary(g *graph.RecorderGraph, frames []ManifestFrame) error
}

// FileSink stores rectified frames as PNG files indexed by target id
// plus a binary input-summary manifest, all under one directory.
type FileSink struct {
	dir string

	mu    sync.Mutex
	saved int
}

// NewFileSink creates the directory if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sink directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// SaveRectifiedImage writes the frame's pixels as target_<id>.png.
func (s *FileSink) SaveRectifiedImage(f *frame.Frame) error {
	buf := f.Pixels()
	if buf == nil {
		return fmt.Errorf("frame %d: no pixels to save", f.ID)
	}
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

	path := filepath.Join(s.dir, fmt.Sprintf("target_%04d.png", f.ID))
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	if err := png.Encode(fh, img); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	s.mu.Lock()
	s.saved++
	s.mu.Unlock()
	return nil
}

// SaveInputSummary writes the manifest file.
func (s *FileSink) SaveInputSummary(g *graph.RecorderGraph, frames []ManifestFrame) error {
	path := filepath.Join(s.dir, "input_summary.bin")
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	if err := WriteManifest(fh, g, frames); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Saved returns the number of rectified frames written.
func (s *FileSink) Saved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// Push implements the pipeline sink: save and unload.
func (s *FileSink) Push(f *frame.Frame) {
	if err := s.SaveRectifiedImage(f); err != nil {
		monitoring.Logf("storage sink: %v", err)
	}
	f.Unload()
}

// Finish is a no-op; the recorder writes the summary explicitly.
func (s *FileSink) Finish() {}
