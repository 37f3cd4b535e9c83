package frame

import (
	"image"
)

// Channels is the number of colour channels in a loaded buffer. Pixel
// format is RGB 8-bit after load.
const Channels = 3

// Buffer is a packed RGB pixel buffer, row stride Width*Channels.
type Buffer struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewBuffer allocates a zeroed buffer of the given size.
func NewBuffer(width, height int) *Buffer {
	return &Buffer{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*Channels),
	}
}

// At returns the RGB triplet at (x, y). No bounds check; callers clip.
func (b *Buffer) At(x, y int) (r, g, bl uint8) {
	i := (y*b.Width + x) * Channels
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2]
}

// Set assigns the RGB triplet at (x, y).
func (b *Buffer) Set(x, y int, r, g, bl uint8) {
	i := (y*b.Width + x) * Channels
	b.Pix[i] = r
	b.Pix[i+1] = g
	b.Pix[i+2] = bl
}

// Bounds returns the buffer extent as an image rectangle.
func (b *Buffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.Width, b.Height)
}

// SubImage copies the region r (clipped to the buffer) into a new
// buffer.
func (b *Buffer) SubImage(r image.Rectangle) *Buffer {
	r = r.Intersect(b.Bounds())
	out := NewBuffer(r.Dx(), r.Dy())
	for y := 0; y < r.Dy(); y++ {
		srcOff := ((r.Min.Y+y)*b.Width + r.Min.X) * Channels
		dstOff := y * r.Dx() * Channels
		copy(out.Pix[dstOff:dstOff+r.Dx()*Channels], b.Pix[srcOff:srcOff+r.Dx()*Channels])
	}
	return out
}

// Downsample halves the buffer in each dimension with a 2x2 box filter.
func (b *Buffer) Downsample() *Buffer {
	w := b.Width / 2
	h := b.Height / 2
	out := NewBuffer(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < Channels; c++ {
				i00 := ((2*y)*b.Width + 2*x) * Channels
				i01 := i00 + Channels
				i10 := ((2*y+1)*b.Width + 2*x) * Channels
				i11 := i10 + Channels
				sum := int(b.Pix[i00+c]) + int(b.Pix[i01+c]) + int(b.Pix[i10+c]) + int(b.Pix[i11+c])
				out.Pix[(y*w+x)*Channels+c] = uint8(sum / 4)
			}
		}
	}
	return out
}

// SampleBilinear samples the buffer at the continuous position (x, y)
// with bilinear interpolation. Out-of-bounds samples return black and
// ok = false.
func (b *Buffer) SampleBilinear(x, y float64) (r, g, bl uint8, ok bool) {
	if x < 0 || y < 0 || x > float64(b.Width-1) || y > float64(b.Height-1) {
		return 0, 0, 0, false
	}
	x0 := int(x)
	y0 := int(y)
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 >= b.Width {
		x1 = x0
	}
	if y1 >= b.Height {
		y1 = y0
	}
	fx := x - float64(x0)
	fy := y - float64(y0)

	var out [Channels]uint8
	for c := 0; c < Channels; c++ {
		v00 := float64(b.Pix[(y0*b.Width+x0)*Channels+c])
		v01 := float64(b.Pix[(y0*b.Width+x1)*Channels+c])
		v10 := float64(b.Pix[(y1*b.Width+x0)*Channels+c])
		v11 := float64(b.Pix[(y1*b.Width+x1)*Channels+c])
		top := v00 + (v01-v00)*fx
		bot := v10 + (v11-v10)*fx
		out[c] = uint8(top + (bot-top)*fy + 0.5)
	}
	return out[0], out[1], out[2], true
}

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	out := NewBuffer(b.Width, b.Height)
	copy(out.Pix, b.Pix)
	return out
}
