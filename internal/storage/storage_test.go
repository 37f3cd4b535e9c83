package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stereosphere/panorec/internal/frame"
	"github.com/stereosphere/panorec/internal/geom"
	"github.com/stereosphere/panorec/internal/graph"
)

func storageGraph() *graph.RecorderGraph {
	return graph.Generate(geom.NewIntrinsics(400, 400, 320, 320), graph.DefaultGeneratorConfig())
}

func TestManifestRoundTrip(t *testing.T) {
	t.Parallel()

	g := storageGraph()
	frames := []ManifestFrame{
		{FrameID: 10, TargetID: 0, HasTgt: true, Gain: 1.1, Adjusted: geom.RotationY(0.2)},
		{FrameID: 11, Gain: 1.0, Adjusted: geom.Identity4()},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteManifest(&buf, g, frames))

	m, err := ReadManifest(&buf)
	require.NoError(t, err)
	require.Len(t, m.Rings, len(g.Rings()))
	assert.Len(t, m.Rings[0], len(g.Rings()[0]))
	assert.Equal(t, uint32(0), m.Rings[0][0].GlobalID)
	assert.True(t, m.Rings[0][0].Enabled)

	if diff := cmp.Diff(frames, m.Frames); diff != "" {
		t.Errorf("frames round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestManifestRejectsWrongVersion(t *testing.T) {
	t.Parallel()

	g := storageGraph()
	var buf bytes.Buffer
	require.NoError(t, WriteManifest(&buf, g, nil))

	raw := buf.Bytes()
	raw[4] = 99 // future version
	_, err := ReadManifest(bytes.NewReader(raw))
	assert.ErrorContains(t, err, "unsupported manifest version")

	raw[0] = 'X'
	_, err = ReadManifest(bytes.NewReader(raw))
	assert.ErrorContains(t, err, "bad manifest magic")
}

func TestFileSink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	buf := frame.NewBuffer(8, 8)
	for i := range buf.Pix {
		buf.Pix[i] = uint8(i)
	}
	f := frame.New(3, geom.NewIntrinsics(400, 400, 320, 320), geom.Identity4(), nil)
	f.SetPixels(buf)

	sink.Push(f)
	assert.Equal(t, 1, sink.Saved())
	assert.False(t, f.IsLoaded(), "sink unloads after saving")

	_, err = os.Stat(filepath.Join(dir, "target_0003.png"))
	assert.NoError(t, err)

	require.NoError(t, sink.SaveInputSummary(storageGraph(), nil))
	_, err = os.Stat(filepath.Join(dir, "input_summary.bin"))
	assert.NoError(t, err)
}

func TestSessionStore(t *testing.T) {
	t.Parallel()

	store, err := OpenSessionStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CreateSession("s1", "center", 16))

	target := int64(4)
	require.NoError(t, store.InsertFrame("s1", SessionFrame{
		FrameID:  7,
		TargetID: &target,
		Gain:     1.2,
		Adjusted: geom.RotationY(0.3),
	}))
	require.NoError(t, store.InsertFrame("s1", SessionFrame{
		FrameID:  8,
		Gain:     1.0,
		Adjusted: geom.Identity4(),
	}))
	require.NoError(t, store.RecordCorrelationStats("s1", "stream", 12, 3))
	require.NoError(t, store.CompleteSession("s1", 2, false))

	frames, err := store.SessionFrames("s1")
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, int64(7), frames[0].FrameID)
	require.NotNil(t, frames[0].TargetID)
	assert.Equal(t, int64(4), *frames[0].TargetID)
	assert.Nil(t, frames[1].TargetID)
	assert.InDelta(t, 0.3, geom.EulerAngles(frames[0].Adjusted).Y, 1e-9)
}
