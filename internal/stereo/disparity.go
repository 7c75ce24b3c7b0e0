package stereo

import "math"

// DisparityScale is the subpixel quantisation factor used by the matcher.
// Raw matcher output is fixed-point with 4 fractional bits; dividing by
// DisparityScale yields disparities in pixels.
const DisparityScale = 16

// DisparityMap is a dense per-pixel disparity grid in row-major order.
// Values are in pixels. Unmatched pixels hold InvalidDisparity (or any value
// outside the caller's valid interval). A map is produced once per frame and
// must not be mutated after it has been handed to fusion.
type DisparityMap struct {
	Width  int
	Height int
	Data   []float32
}

// NewDisparityMap allocates a width x height map filled with zero.
func NewDisparityMap(width, height int) *DisparityMap {
	return &DisparityMap{
		Width:  width,
		Height: height,
		Data:   make([]float32, width*height),
	}
}

// NewUniformDisparityMap allocates a map where every pixel holds d.
func NewUniformDisparityMap(width, height int, d float32) *DisparityMap {
	m := NewDisparityMap(width, height)
	m.Fill(d)
	return m
}

// At returns the disparity at column x, row y.
func (m *DisparityMap) At(x, y int) float32 {
	return m.Data[y*m.Width+x]
}

// Set stores d at column x, row y.
func (m *DisparityMap) Set(x, y int, d float32) {
	m.Data[y*m.Width+x] = d
}

// Fill sets every pixel to d.
func (m *DisparityMap) Fill(d float32) {
	for i := range m.Data {
		m.Data[i] = d
	}
}

// FillRect sets every pixel inside [x1,x2) x [y1,y2) to d, clipped to the map.
func (m *DisparityMap) FillRect(x1, y1, x2, y2 int, d float32) {
	x1, y1, x2, y2 = m.Clip(x1, y1, x2, y2)
	for y := y1; y < y2; y++ {
		row := m.Data[y*m.Width : (y+1)*m.Width]
		for x := x1; x < x2; x++ {
			row[x] = d
		}
	}
}

// Clip clamps a half-open pixel rectangle to the map bounds. The returned
// rectangle may be empty (x1 >= x2 or y1 >= y2).
func (m *DisparityMap) Clip(x1, y1, x2, y2 int) (int, int, int, int) {
	clamp := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v > hi {
			return hi
		}
		return v
	}
	return clamp(x1, m.Width), clamp(y1, m.Height), clamp(x2, m.Width), clamp(y2, m.Height)
}

// ValidRange is an open disparity interval (Min, Max). Pixels outside it are
// treated as unmatched, occluded or near-infinite.
type ValidRange struct {
	Min float32
	Max float32
}

// Contains reports whether Min < d < Max.
func (r ValidRange) Contains(d float32) bool {
	return d > r.Min && d < r.Max
}

// Summary holds per-frame disparity statistics for telemetry.
type Summary struct {
	Min   float32
	Max   float32
	Mean  float32
	Valid int
	Total int
}

// Summarise computes min/max/mean over all pixels and counts those inside r.
func (m *DisparityMap) Summarise(r ValidRange) Summary {
	s := Summary{Total: len(m.Data)}
	if len(m.Data) == 0 {
		return s
	}
	s.Min = float32(math.Inf(1))
	s.Max = float32(math.Inf(-1))
	var sum float64
	for _, d := range m.Data {
		if d < s.Min {
			s.Min = d
		}
		if d > s.Max {
			s.Max = d
		}
		sum += float64(d)
		if r.Contains(d) {
			s.Valid++
		}
	}
	s.Mean = float32(sum / float64(len(m.Data)))
	return s
}
