package replay

import (
	"context"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/safepi/internal/fusion"
	"github.com/banshee-data/safepi/internal/ranging"
)

func writeFrame(t *testing.T, path string, shade uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, imaging.Save(img, path))
}

func fixtureDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for i, name := range []string{"0002.png", "0001.png"} {
		writeFrame(t, filepath.Join(dir, "left", name), uint8(10*i))
		writeFrame(t, filepath.Join(dir, "right", name), uint8(10*i+5))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "left", "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "detections.json"), []byte(`{
		"0001.png": {"objects": [{"label": "person", "confidence": 0.9, "box": {"x1": 1, "y1": 1, "x2": 4, "y2": 4}}], "ranging_cm": 180},
		"0002.png": {"crosswalks": [{"label": "crosswalk", "confidence": 0.4, "box": {"x1": 0, "y1": 3, "x2": 7, "y2": 5}}]}
	}`), 0o644))
	return dir
}

func TestSource_IteratesInOrder(t *testing.T) {
	src, err := Open(fixtureDir(t))
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())
	ctx := context.Background()

	left, right, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0001.png", src.Current())
	assert.Equal(t, image.Pt(8, 6), left.Bounds().Size())
	assert.Equal(t, image.Pt(8, 6), right.Bounds().Size())
	r, _, _, _ := left.At(0, 0).RGBA()
	assert.Equal(t, uint32(10*0x101), r)

	objs, err := src.Objects().Detect(ctx, left)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "person", objs[0].Label)
	assert.Equal(t, fusion.Box{X1: 1, Y1: 1, X2: 4, Y2: 4}, objs[0].Box)

	s, err := ranging.DecodeFrame(src.RangingFrame())
	require.NoError(t, err)
	assert.Equal(t, 180, s.DistanceCm)

	_, _, err = src.Next(ctx)
	require.NoError(t, err)
	cw, err := src.Crosswalks().Detect(ctx, nil)
	require.NoError(t, err)
	require.Len(t, cw, 1)
	assert.Nil(t, src.RangingFrame())

	_, _, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSource_Loop(t *testing.T) {
	src, err := Open(fixtureDir(t))
	require.NoError(t, err)
	src.Loop = true
	for i := 0; i < 3; i++ {
		_, _, err := src.Next(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, "0001.png", src.Current())
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(t.TempDir())
	assert.Error(t, err)

	empty := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(empty, "left"), 0o755))
	_, err = Open(empty)
	assert.ErrorIs(t, err, ErrNoFrames)

	unpaired := t.TempDir()
	writeFrame(t, filepath.Join(unpaired, "left", "a.png"), 0)
	_, err = Open(unpaired)
	assert.Error(t, err)

	bad := fixtureDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(bad, "detections.json"), []byte("{"), 0o644))
	_, err = Open(bad)
	assert.Error(t, err)
}

func TestOpen_RejectsFramesOutsideDirectory(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "elsewhere.png")
	writeFrame(t, outside, 0)

	dir := t.TempDir()
	writeFrame(t, filepath.Join(dir, "left", "a.png"), 0)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "right"), 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "right", "a.png")))

	_, err := Open(dir)
	assert.ErrorContains(t, err, "path traversal")
}

func TestSource_CancelledContext(t *testing.T) {
	src, err := Open(fixtureDir(t))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
