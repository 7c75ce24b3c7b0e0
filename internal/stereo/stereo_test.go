package stereo

import (
	"context"
	"image"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// texturedPair returns a random-texture left image and a right image whose
// content is shifted so every pixel has disparity shift.
func texturedPair(w, h, shift int, seed int64) (*image.Gray, *image.Gray) {
	rng := rand.New(rand.NewSource(seed))
	wide := w + shift
	base := make([]uint8, wide*h)
	for i := range base {
		base[i] = uint8(rng.Intn(256))
	}
	left := image.NewGray(image.Rect(0, 0, w, h))
	right := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			left.Pix[y*left.Stride+x] = base[y*wide+x]
			right.Pix[y*right.Stride+x] = base[y*wide+x+shift]
		}
	}
	return left, right
}

func identityCamera(f, cx, cy float64) CameraModel {
	return CameraModel{
		K: mat.NewDense(3, 3, []float64{f, 0, cx, 0, f, cy, 0, 0, 1}),
		R: mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
		P: mat.NewDense(3, 4, []float64{f, 0, cx, 0, 0, f, cy, 0, 0, 0, 1, 0}),
	}
}

func testParams() MatcherParams {
	p := DefaultMatcherParams()
	p.NumDisparities = 16
	p.BlockSize = 5
	p.SpeckleWindowSize = 0
	return p
}

func TestMatcher_RecoversUniformShift(t *testing.T) {
	left, right := texturedPair(96, 48, 8, 1)
	m, err := NewMatcher(testParams())
	require.NoError(t, err)

	disp, err := m.Compute(left, right)
	require.NoError(t, err)
	require.Equal(t, 96, disp.Width)
	require.Equal(t, 48, disp.Height)

	var valid []float64
	for _, d := range disp.Data {
		if d > 0 {
			valid = append(valid, float64(d))
		}
	}
	require.NotEmpty(t, valid)
	sort.Float64s(valid)
	median := valid[len(valid)/2]
	assert.InDelta(t, 8.0, median, 0.5)
	assert.Greater(t, float64(len(valid))/float64(len(disp.Data)), 0.5)
}

func TestMatcher_LeftBorderInvalid(t *testing.T) {
	left, right := texturedPair(64, 16, 4, 2)
	m, err := NewMatcher(testParams())
	require.NoError(t, err)
	disp, err := m.Compute(left, right)
	require.NoError(t, err)
	for y := 0; y < disp.Height; y++ {
		for x := 0; x < 15; x++ {
			assert.Equal(t, InvalidDisparity, disp.At(x, y), "x=%d y=%d", x, y)
		}
	}
}

func TestMatcher_SizeMismatch(t *testing.T) {
	m, err := NewMatcher(testParams())
	require.NoError(t, err)
	_, err = m.Compute(image.NewGray(image.Rect(0, 0, 32, 32)), image.NewGray(image.Rect(0, 0, 31, 32)))
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestMatcherParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MatcherParams)
	}{
		{"num disparities not multiple of 16", func(p *MatcherParams) { p.NumDisparities = 20 }},
		{"even block", func(p *MatcherParams) { p.BlockSize = 4 }},
		{"P2 not above P1", func(p *MatcherParams) { p.P2 = p.P1 }},
		{"uniqueness 100", func(p *MatcherParams) { p.UniquenessRatio = 100 }},
		{"prefilter cap zero", func(p *MatcherParams) { p.PreFilterCap = 0 }},
		{"six paths", func(p *MatcherParams) { p.Paths = 6 }},
	}
	require.NoError(t, DefaultMatcherParams().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultMatcherParams()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrBadParams)
		})
	}
}

func TestDefaultMatcherParams_FourPaths(t *testing.T) {
	p := DefaultMatcherParams()
	assert.Equal(t, 4, p.Paths)

	// full mode adds the diagonals and must still validate
	p.Paths = 8
	assert.NoError(t, p.Validate())
}

func TestFilterSpeckles_RemovesSmallIslands(t *testing.T) {
	m := NewUniformDisparityMap(20, 20, 10)
	m.FillRect(5, 5, 7, 7, 30) // 4-pixel island
	removed := filterSpeckles(m, InvalidDisparity, 10, 2)
	assert.Equal(t, 4, removed)
	assert.Equal(t, InvalidDisparity, m.At(5, 5))
	assert.Equal(t, InvalidDisparity, m.At(6, 6))
	assert.Equal(t, float32(10), m.At(0, 0))
}

func TestReprojector_StandardQ(t *testing.T) {
	// f=800, baseline 0.1 m: Z = f*B/d
	rp, err := NewReprojector(NewStandardQ(800, 320, 240, -0.1))
	require.NoError(t, err)

	p, ok := rp.Reproject(320, 240, 40)
	require.True(t, ok)
	assert.InDelta(t, 2.0, p.Z, 1e-9)
	assert.InDelta(t, 0.0, p.X, 1e-9)

	cm, ok := rp.DepthCm(320, 240, 40)
	require.True(t, ok)
	assert.InDelta(t, 200.0, cm, 1e-9)

	_, ok = rp.Reproject(10, 10, 0)
	assert.False(t, ok, "zero disparity has W=0")
}

func TestNewReprojector_RejectsWrongShape(t *testing.T) {
	_, err := NewReprojector(mat.NewDense(3, 3, nil))
	assert.ErrorIs(t, err, ErrBadQ)
}

func TestRemapTable_IdentityIsNoop(t *testing.T) {
	src, _ := texturedPair(40, 30, 0, 3)
	tab, err := BuildRemapTable(identityCamera(100, 20, 15), 40, 30)
	require.NoError(t, err)
	out := tab.Remap(src)
	assert.Equal(t, src.Pix, out.Pix)
}

func TestEstimator_RequiresRectification(t *testing.T) {
	m, err := NewMatcher(testParams())
	require.NoError(t, err)
	e := NewEstimator(nil, m)
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	_, err = e.Estimate(context.Background(), img, img)
	assert.ErrorIs(t, err, ErrNoRectification)
}

func TestEstimator_EndToEnd(t *testing.T) {
	left, right := texturedPair(80, 40, 6, 4)
	rect, err := NewRectifier(identityCamera(100, 40, 20), identityCamera(100, 40, 20), 80, 40)
	require.NoError(t, err)
	m, err := NewMatcher(testParams())
	require.NoError(t, err)

	disp, err := NewEstimator(rect, m).Estimate(context.Background(), left, right)
	require.NoError(t, err)
	s := disp.Summarise(ValidRange{Min: 1, Max: 128})
	assert.Greater(t, s.Valid, s.Total/2)
}

func TestEstimator_HonoursCancelledContext(t *testing.T) {
	left, right := texturedPair(32, 32, 2, 5)
	rect, err := NewRectifier(identityCamera(100, 16, 16), identityCamera(100, 16, 16), 32, 32)
	require.NoError(t, err)
	m, err := NewMatcher(testParams())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewEstimator(rect, m).Estimate(ctx, left, right)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDisparityMap_ClipAndSummarise(t *testing.T) {
	m := NewUniformDisparityMap(4, 4, -1)
	x1, y1, x2, y2 := m.Clip(-3, 2, 10, 9)
	assert.Equal(t, []int{0, 2, 4, 4}, []int{x1, y1, x2, y2})

	m.FillRect(0, 0, 2, 2, 20)
	s := m.Summarise(ValidRange{Min: 1, Max: 128})
	assert.Equal(t, 4, s.Valid)
	assert.Equal(t, 16, s.Total)
	assert.Equal(t, float32(-1), s.Min)
	assert.Equal(t, float32(20), s.Max)
}
