package frame

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// Source is a descriptor a frame can (re-)load its pixel buffer from.
type Source interface {
	// Load produces a fresh RGB buffer.
	Load() (*Buffer, error)
	// Describe returns a human-readable source path or label.
	Describe() string
}

// RawRef wraps an in-memory RGBA capture buffer handed over by the
// camera layer. The RGBA data is converted to packed RGB on load.
type RawRef struct {
	Data   []uint8
	Width  int
	Height int
	Label  string
}

// Load converts the RGBA data into an RGB buffer.
func (r RawRef) Load() (*Buffer, error) {
	if len(r.Data) < r.Width*r.Height*4 {
		return nil, fmt.Errorf("raw ref %q: short buffer (%d bytes for %dx%d)",
			r.Label, len(r.Data), r.Width, r.Height)
	}
	out := NewBuffer(r.Width, r.Height)
	for i := 0; i < r.Width*r.Height; i++ {
		out.Pix[i*3] = r.Data[i*4]
		out.Pix[i*3+1] = r.Data[i*4+1]
		out.Pix[i*3+2] = r.Data[i*4+2]
	}
	return out, nil
}

// Describe returns the ref's label.
func (r RawRef) Describe() string { return r.Label }

// FileSource loads pixels from an image file on disk (JPEG or PNG).
type FileSource struct {
	Path string
}

// Load decodes the file into an RGB buffer.
func (f FileSource) Load() (*Buffer, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", f.Path, err)
	}
	b := img.Bounds()
	out := NewBuffer(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.Set(x, y, uint8(r>>8), uint8(g>>8), uint8(bl>>8))
		}
	}
	return out, nil
}

// Describe returns the file path.
func (f FileSource) Describe() string { return f.Path }

// BufferSource wraps an already materialised buffer. Loads return a
// copy so the frame can unload freely. Used by synthetic pipelines and
// tests.
type BufferSource struct {
	Buf   *Buffer
	Label string
}

// Load returns a copy of the wrapped buffer.
func (s BufferSource) Load() (*Buffer, error) {
	if s.Buf == nil {
		return nil, fmt.Errorf("buffer source %q: nil buffer", s.Label)
	}
	return s.Buf.Clone(), nil
}

// Describe returns the source's label.
func (s BufferSource) Describe() string { return s.Label }
