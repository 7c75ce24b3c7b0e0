package yolo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// head builds a channel-major tensor from per-anchor rows.
func head(rows [][]float32) []float32 {
	channels := len(rows[0])
	out := make([]float32, channels*len(rows))
	for i, r := range rows {
		for c, v := range r {
			out[c*len(rows)+i] = v
		}
	}
	return out
}

func TestDecode_ScalesToImage(t *testing.T) {
	// two classes: anchor 0 is class 1 at 0.9, anchor 1 is below threshold
	data := head([][]float32{
		{160, 160, 64, 32, 0.1, 0.9},
		{10, 10, 4, 4, 0.2, 0.3},
	})
	g := Geometry{InputSize: 320, ImageWidth: 640, ImageHeight: 480}

	got, err := Decode(data, []int{1, 6, 2}, 0.7, g)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Candidate{X1: 256, Y1: 216, X2: 384, Y2: 264, Score: 0.9, Class: 1}, got[0])
	assert.Equal(t, 128, got[0].Width())
	assert.Equal(t, 48, got[0].Height())
}

func TestDecode_SingleClassClipped(t *testing.T) {
	data := head([][]float32{
		{500, 20, 100, 100, 0.35},
		{256, 256, 10, 10, 0.29},
	})
	g := Geometry{InputSize: 512, ImageWidth: 512, ImageHeight: 512, Clip: true}

	got, err := Decode(data, []int{1, 5, 2}, 0.3, g)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 450, got[0].X1)
	assert.Equal(t, 0, got[0].Y1)
	assert.Equal(t, 511, got[0].X2)
	assert.Equal(t, 70, got[0].Y2)
	assert.Equal(t, 0, got[0].Class)
}

func TestDecode_Errors(t *testing.T) {
	g := Geometry{InputSize: 320, ImageWidth: 640, ImageHeight: 480}
	tests := []struct {
		name string
		data []float32
		dims []int
		g    Geometry
	}{
		{"batch", make([]float32, 10), []int{2, 5, 1}, g},
		{"too few channels", make([]float32, 8), []int{1, 4, 2}, g},
		{"short data", make([]float32, 4), []int{1, 5, 2}, g},
		{"rank", make([]float32, 10), []int{10}, g},
		{"geometry", make([]float32, 10), []int{5, 2}, Geometry{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data, tt.dims, 0.5, tt.g)
			assert.Error(t, err)
		})
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "person", Label(COCO, 0))
	assert.Equal(t, "toothbrush", Label(COCO, 79))
	assert.Equal(t, "class 80", Label(COCO, 80))
	assert.Len(t, COCO, 80)
}
