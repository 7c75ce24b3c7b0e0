package stereo

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/anthonynsimon/bild/convolution"
)

// InvalidDisparity marks pixels the matcher could not resolve when
// MinDisparity is zero. In general the invalid value is MinDisparity-1.
const InvalidDisparity float32 = -1

var (
	// ErrSizeMismatch is returned when the left and right images differ in size.
	ErrSizeMismatch = errors.New("stereo: left and right images differ in size")
	// ErrBadParams is returned by Validate for unusable matcher settings.
	ErrBadParams = errors.New("stereo: invalid matcher parameters")
)

// MatcherParams configures the semi-global block matcher.
type MatcherParams struct {
	MinDisparity      int
	NumDisparities    int // must be a positive multiple of 16
	BlockSize         int // odd, >= 1
	P1                int // penalty for disparity changes of 1 between neighbours
	P2                int // penalty for larger disparity changes; must exceed P1
	Disp12MaxDiff     int // left-right consistency tolerance; negative disables
	UniquenessRatio   int // percent margin the best cost must win by
	SpeckleWindowSize int // 0 disables speckle filtering
	SpeckleRange      int // max disparity step inside a speckle, in pixels
	PreFilterCap      int
	Paths             int // 4 (horizontal and vertical) or 8 (adds the diagonals)
}

// DefaultMatcherParams mirrors the settings the field units ship with.
func DefaultMatcherParams() MatcherParams {
	return MatcherParams{
		MinDisparity:      0,
		NumDisparities:    64,
		BlockSize:         5,
		P1:                8 * 3 * 3 * 3,
		P2:                32 * 3 * 3 * 3,
		Disp12MaxDiff:     1,
		UniquenessRatio:   10,
		SpeckleWindowSize: 50,
		SpeckleRange:      2,
		PreFilterCap:      63,
		Paths:             4,
	}
}

// Validate checks the parameters for internal consistency.
func (p MatcherParams) Validate() error {
	switch {
	case p.NumDisparities <= 0 || p.NumDisparities%16 != 0:
		return fmt.Errorf("%w: num_disparities %d must be a positive multiple of 16", ErrBadParams, p.NumDisparities)
	case p.BlockSize < 1 || p.BlockSize%2 == 0:
		return fmt.Errorf("%w: block_size %d must be odd and positive", ErrBadParams, p.BlockSize)
	case p.P1 < 0 || p.P2 <= p.P1:
		return fmt.Errorf("%w: need 0 <= P1 < P2 (got %d, %d)", ErrBadParams, p.P1, p.P2)
	case p.UniquenessRatio < 0 || p.UniquenessRatio >= 100:
		return fmt.Errorf("%w: uniqueness_ratio %d out of range", ErrBadParams, p.UniquenessRatio)
	case p.PreFilterCap < 1 || p.PreFilterCap > 63:
		return fmt.Errorf("%w: pre_filter_cap %d out of range [1,63]", ErrBadParams, p.PreFilterCap)
	case p.Paths != 4 && p.Paths != 8:
		return fmt.Errorf("%w: paths must be 4 or 8, got %d", ErrBadParams, p.Paths)
	}
	return nil
}

// Matcher computes dense disparity from a rectified grayscale pair.
type Matcher struct {
	params MatcherParams
}

// NewMatcher validates params and returns a Matcher.
func NewMatcher(params MatcherParams) (*Matcher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Matcher{params: params}, nil
}

// Params returns the matcher configuration.
func (m *Matcher) Params() MatcherParams { return m.params }

var pathDirs = [8][2]int{
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
	{1, 1}, {-1, 1}, {1, -1}, {-1, -1},
}

// Compute returns the disparity of left relative to right in pixels.
// Unresolved pixels hold MinDisparity-1.
func (m *Matcher) Compute(left, right *image.Gray) (*DisparityMap, error) {
	lb, rb := left.Bounds(), right.Bounds()
	if lb.Dx() != rb.Dx() || lb.Dy() != rb.Dy() {
		return nil, fmt.Errorf("%w: %v vs %v", ErrSizeMismatch, lb.Size(), rb.Size())
	}
	w, h := lb.Dx(), lb.Dy()
	p := m.params
	nd := p.NumDisparities
	invalid := float32(p.MinDisparity - 1)

	out := NewDisparityMap(w, h)
	out.Fill(invalid)
	if w == 0 || h == 0 {
		return out, nil
	}

	pl := prefilter(left, p.PreFilterCap)
	pr := prefilter(right, p.PreFilterCap)

	cost := blockCosts(pl, pr, w, h, p.MinDisparity, nd, p.BlockSize, 2*p.PreFilterCap)
	sum := aggregate(cost, w, h, nd, p.P1, p.P2, p.Paths)

	// best integer disparity per pixel, kept for the left-right check
	best := make([]int32, w*h)
	disp2 := make([]int32, w)
	disp2cost := make([]int32, w)

	for y := 0; y < h; y++ {
		for x := range disp2 {
			disp2[x] = -1
			disp2cost[x] = math.MaxInt32
		}
		for x := 0; x < w; x++ {
			idx := y*w + x
			best[idx] = -1
			s := sum[idx*nd : (idx+1)*nd]
			bd, minS := 0, int32(math.MaxInt32)
			for d, v := range s {
				if int32(v) < minS {
					minS = int32(v)
					bd = d
				}
			}
			unique := true
			for d, v := range s {
				if int32(v)*int32(100-p.UniquenessRatio) < minS*100 && absInt(d-bd) > 1 {
					unique = false
					break
				}
			}
			if !unique {
				continue
			}
			best[idx] = int32(bd)
			xr := x - (p.MinDisparity + bd)
			if xr >= 0 && xr < w && disp2cost[xr] > minS {
				disp2cost[xr] = minS
				disp2[xr] = int32(bd)
			}

			dispf := float64(bd)
			if bd > 0 && bd < nd-1 {
				a, b, c := int32(s[bd-1]), int32(s[bd]), int32(s[bd+1])
				denom := a + c - 2*b
				if denom < 1 {
					denom = 1
				}
				offset := float64(a-c) / float64(2*denom)
				dispf += math.Round(offset*DisparityScale) / DisparityScale
			}
			out.Data[idx] = float32(float64(p.MinDisparity) + dispf)
		}

		if p.Disp12MaxDiff >= 0 {
			for x := 0; x < w; x++ {
				idx := y*w + x
				if best[idx] < 0 {
					continue
				}
				rel := float64(out.Data[idx]) - float64(p.MinDisparity)
				lo, hi := int(math.Floor(rel)), int(math.Ceil(rel))
				x1 := x - (p.MinDisparity + lo)
				x2 := x - (p.MinDisparity + hi)
				if x1 >= 0 && x1 < w && disp2[x1] >= 0 && absInt(int(disp2[x1])-lo) > p.Disp12MaxDiff &&
					x2 >= 0 && x2 < w && disp2[x2] >= 0 && absInt(int(disp2[x2])-hi) > p.Disp12MaxDiff {
					out.Data[idx] = invalid
					best[idx] = -1
				}
			}
		}
	}

	// left border has no full disparity search range
	border := p.MinDisparity + nd - 1
	if border > w {
		border = w
	}
	if border > 0 {
		for y := 0; y < h; y++ {
			row := out.Data[y*w : (y+1)*w]
			for x := 0; x < border; x++ {
				row[x] = invalid
			}
		}
	}

	if p.SpeckleWindowSize > 0 {
		removed := filterSpeckles(out, invalid, p.SpeckleWindowSize, float32(p.SpeckleRange))
		tracef("speckle filter removed %d pixels", removed)
	}
	return out, nil
}

// prefilter applies a horizontal Sobel clipped to [-cap, cap] and shifted to
// [0, 2*cap].
func prefilter(img *image.Gray, capv int) []int16 {
	k := convolution.NewKernel(3, 3)
	copy(k.Matrix, []float64{
		-1, 0, 1,
		-2, 0, 2,
		-1, 0, 1,
	})
	res := convolution.Convolve(img, k, &convolution.Options{Bias: float64(capv), Wrap: false, KeepAlpha: true})
	b := res.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]int16, w*h)
	hi := 2 * capv
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := int(res.Pix[y*res.Stride+x*4])
			if v > hi {
				v = hi
			}
			out[y*w+x] = int16(v)
		}
	}
	return out
}

// blockCosts computes SAD matching costs summed over a blockSize window for
// each pixel and disparity. Pixels whose match falls outside the right image
// get the maximum cost.
func blockCosts(l, r []int16, w, h, minD, nd, blockSize, maxDiff int) []uint16 {
	cost := make([]uint16, w*h*nd)
	half := blockSize / 2
	area := blockSize * blockSize
	maxCost := area * maxDiff
	if maxCost > math.MaxUint16 {
		maxCost = math.MaxUint16
	}
	ad := make([]int32, w*h)
	// integral image has a one-pixel zero border
	integral := make([]int32, (w+1)*(h+1))

	for di := 0; di < nd; di++ {
		d := minD + di
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				xr := x - d
				if xr < 0 || xr >= w {
					ad[y*w+x] = int32(maxDiff)
					continue
				}
				diff := int32(l[y*w+x]) - int32(r[y*w+xr])
				if diff < 0 {
					diff = -diff
				}
				ad[y*w+x] = diff
			}
		}
		for y := 0; y < h; y++ {
			var rowSum int32
			for x := 0; x < w; x++ {
				rowSum += ad[y*w+x]
				integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + rowSum
			}
		}
		for y := 0; y < h; y++ {
			y0, y1 := clampInt(y-half, 0, h), clampInt(y+half+1, 0, h)
			for x := 0; x < w; x++ {
				x0, x1 := clampInt(x-half, 0, w), clampInt(x+half+1, 0, w)
				s := integral[y1*(w+1)+x1] - integral[y0*(w+1)+x1] - integral[y1*(w+1)+x0] + integral[y0*(w+1)+x0]
				n := (y1 - y0) * (x1 - x0)
				// scale partial windows at the border up to a full window
				if n != area && n > 0 {
					s = s * int32(area) / int32(n)
				}
				if int(s) > maxCost {
					s = int32(maxCost)
				}
				cost[(y*w+x)*nd+di] = uint16(s)
			}
		}
	}
	return cost
}

// aggregate runs the semi-global path recursion
//
//	Lr(p,d) = C(p,d) + min(Lr(p-r,d), Lr(p-r,d±1)+P1, min_k Lr(p-r,k)+P2) - min_k Lr(p-r,k)
//
// along 4 or 8 directions and returns the summed cost volume.
func aggregate(cost []uint16, w, h, nd, p1, p2, paths int) []uint16 {
	sum := make([]uint16, len(cost))
	prev := make([]int32, w*nd)
	cur := make([]int32, w*nd)
	prevMin := make([]int32, w)
	curMin := make([]int32, w)

	for pi := 0; pi < paths; pi++ {
		dx, dy := pathDirs[pi][0], pathDirs[pi][1]
		for step := 0; step < h; step++ {
			y := step
			if dy < 0 {
				y = h - 1 - step
			}
			for xs := 0; xs < w; xs++ {
				x := xs
				if dx < 0 {
					x = w - 1 - xs
				}
				px, py := x-dx, y-dy
				c := cost[(y*w+x)*nd : (y*w+x+1)*nd]
				lr := cur[x*nd : (x+1)*nd]
				inside := px >= 0 && px < w && py >= 0 && py < h
				if !inside {
					m := int32(math.MaxInt32)
					for d := 0; d < nd; d++ {
						lr[d] = int32(c[d])
						if lr[d] < m {
							m = lr[d]
						}
					}
					curMin[x] = m
				} else {
					var pl []int32
					var pm int32
					if dy == 0 {
						pl, pm = cur[px*nd:(px+1)*nd], curMin[px]
					} else {
						pl, pm = prev[px*nd:(px+1)*nd], prevMin[px]
					}
					m := int32(math.MaxInt32)
					for d := 0; d < nd; d++ {
						v := pl[d]
						if d > 0 && pl[d-1]+int32(p1) < v {
							v = pl[d-1] + int32(p1)
						}
						if d < nd-1 && pl[d+1]+int32(p1) < v {
							v = pl[d+1] + int32(p1)
						}
						if pm+int32(p2) < v {
							v = pm + int32(p2)
						}
						lr[d] = int32(c[d]) + v - pm
						if lr[d] < m {
							m = lr[d]
						}
					}
					curMin[x] = m
				}
				s := sum[(y*w+x)*nd : (y*w+x+1)*nd]
				for d := 0; d < nd; d++ {
					t := int32(s[d]) + lr[d]
					if t > math.MaxUint16 {
						t = math.MaxUint16
					}
					s[d] = uint16(t)
				}
			}
			prev, cur = cur, prev
			prevMin, curMin = curMin, prevMin
		}
	}
	return sum
}

// filterSpeckles invalidates connected regions of at most maxSize pixels in
// which neighbouring disparities differ by no more than maxDiff. It returns
// the number of pixels invalidated.
func filterSpeckles(m *DisparityMap, invalid float32, maxSize int, maxDiff float32) int {
	w, h := m.Width, m.Height
	labels := make([]int32, w*h)
	var regionIsSpeckle []bool
	stack := make([]int, 0, 256)
	removed := 0

	for i, d := range m.Data {
		if d == invalid {
			continue
		}
		if labels[i] != 0 {
			if regionIsSpeckle[labels[i]-1] {
				m.Data[i] = invalid
				removed++
			}
			continue
		}
		label := int32(len(regionIsSpeckle) + 1)
		labels[i] = label
		stack = append(stack[:0], i)
		count := 0
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			count++
			px, py := p%w, p/w
			dp := m.Data[p]
			for _, n := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				nx, ny := px+n[0], py+n[1]
				if nx < 0 || nx >= w || ny < 0 || ny >= h {
					continue
				}
				q := ny*w + nx
				if labels[q] != 0 || m.Data[q] == invalid {
					continue
				}
				if diff := m.Data[q] - dp; diff > maxDiff || diff < -maxDiff {
					continue
				}
				labels[q] = label
				stack = append(stack, q)
			}
		}
		speckle := count <= maxSize
		regionIsSpeckle = append(regionIsSpeckle, speckle)
		if speckle {
			m.Data[i] = invalid
			removed++
		}
	}
	return removed
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
