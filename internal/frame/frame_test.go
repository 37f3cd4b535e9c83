package frame

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stereosphere/panorec/internal/geom"
)

func testBuffer(w, h int) *Buffer {
	b := NewBuffer(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			b.Set(x, y, uint8(x*7), uint8(y*5), uint8((x+y)*3))
		}
	}
	return b
}

func TestFrameLoadUnload(t *testing.T) {
	t.Parallel()

	src := BufferSource{Buf: testBuffer(8, 6), Label: "test"}
	f := New(1, geom.NewIntrinsics(400, 400, 320, 240), geom.Identity4(), src)

	assert.False(t, f.IsLoaded())
	require.NoError(t, f.Load())
	assert.True(t, f.IsLoaded())
	assert.Equal(t, 8, f.Pixels().Width)

	f.Unload()
	assert.False(t, f.IsLoaded())
	assert.Nil(t, f.Pixels())

	// Reload from the source descriptor works after unload.
	require.NoError(t, f.Load())
	assert.True(t, f.IsLoaded())
}

func TestFrameRefCounting(t *testing.T) {
	t.Parallel()

	src := BufferSource{Buf: testBuffer(4, 4), Label: "test"}
	f := New(2, geom.NewIntrinsics(400, 400, 320, 240), geom.Identity4(), src)

	require.NoError(t, f.Retain())
	require.NoError(t, f.Retain())
	f.Release()
	assert.True(t, f.IsLoaded(), "buffer stays while a reference is held")
	f.Release()
	assert.False(t, f.IsLoaded(), "buffer dropped at zero references")
}

func TestFrameAdjustedStartsAtOriginal(t *testing.T) {
	t.Parallel()

	pose := geom.RotationY(0.3)
	f := New(3, geom.NewIntrinsics(400, 400, 320, 240), pose, nil)
	assert.Equal(t, pose, f.Adjusted)
}

func TestRawRefConversion(t *testing.T) {
	t.Parallel()

	raw := make([]uint8, 2*2*4)
	for i := 0; i < 4; i++ {
		raw[i*4] = uint8(i + 1)   // R
		raw[i*4+1] = uint8(i + 5) // G
		raw[i*4+2] = uint8(i + 9) // B
		raw[i*4+3] = 255          // A, dropped
	}
	buf, err := RawRef{Data: raw, Width: 2, Height: 2, Label: "cam"}.Load()
	require.NoError(t, err)
	r, g, b := buf.At(1, 1)
	assert.Equal(t, uint8(4), r)
	assert.Equal(t, uint8(8), g)
	assert.Equal(t, uint8(12), b)

	_, err = RawRef{Data: raw[:3], Width: 2, Height: 2}.Load()
	assert.Error(t, err)
}

func TestBufferDownsample(t *testing.T) {
	t.Parallel()

	b := NewBuffer(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			b.Set(x, y, 100, 100, 100)
		}
	}
	b.Set(0, 0, 200, 100, 100)

	d := b.Downsample()
	require.Equal(t, 2, d.Width)
	require.Equal(t, 2, d.Height)
	r, _, _ := d.At(0, 0)
	assert.Equal(t, uint8(125), r, "2x2 box average")
	r, _, _ = d.At(1, 1)
	assert.Equal(t, uint8(100), r)
}

func TestBufferSubImage(t *testing.T) {
	t.Parallel()

	b := testBuffer(10, 10)
	sub := b.SubImage(image.Rect(2, 3, 7, 8))
	require.Equal(t, 5, sub.Width)
	require.Equal(t, 5, sub.Height)
	r0, g0, b0 := b.At(2, 3)
	r1, g1, b1 := sub.At(0, 0)
	assert.Equal(t, [3]uint8{r0, g0, b0}, [3]uint8{r1, g1, b1})

	clipped := b.SubImage(image.Rect(8, 8, 20, 20))
	assert.Equal(t, 2, clipped.Width)
}

func TestSampleBilinear(t *testing.T) {
	t.Parallel()

	b := NewBuffer(2, 1)
	b.Set(0, 0, 0, 0, 0)
	b.Set(1, 0, 100, 100, 100)

	r, _, _, ok := b.SampleBilinear(0.5, 0)
	require.True(t, ok)
	assert.Equal(t, uint8(50), r)

	_, _, _, ok = b.SampleBilinear(-0.1, 0)
	assert.False(t, ok)
}

func TestProbeMemory(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 4, ProbeMemory(64, 48, 4))
}
