package stereo

import (
	"errors"
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// ErrBadQ is returned when the disparity-to-depth matrix is not 4x4.
var ErrBadQ = errors.New("stereo: Q must be a 4x4 matrix")

// Reprojector maps (pixel, disparity) to a 3-D point in the left rectified
// camera frame using the 4x4 disparity-to-depth matrix Q:
//
//	[X Y Z W]^T = Q * [x y d 1]^T,  point = (X/W, Y/W, Z/W)
//
// Units follow the calibration translation vector (metres for the bundled
// calibration tool).
type Reprojector struct {
	q [16]float64
}

// NewReprojector copies q into a Reprojector.
func NewReprojector(q mat.Matrix) (*Reprojector, error) {
	if q == nil {
		return nil, ErrBadQ
	}
	if r, c := q.Dims(); r != 4 || c != 4 {
		return nil, fmt.Errorf("%w: got %dx%d", ErrBadQ, r, c)
	}
	rp := &Reprojector{}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			rp.q[i*4+j] = q.At(i, j)
		}
	}
	return rp, nil
}

// Q returns a copy of the matrix as a gonum Dense.
func (r *Reprojector) Q() *mat.Dense {
	data := make([]float64, 16)
	copy(data, r.q[:])
	return mat.NewDense(4, 4, data)
}

// Reproject returns the 3-D point for pixel (x, y) at disparity d. ok is
// false when the homogeneous coordinate is zero.
func (r *Reprojector) Reproject(x, y int, d float64) (p r3.Vector, ok bool) {
	fx, fy := float64(x), float64(y)
	q := &r.q
	w := q[12]*fx + q[13]*fy + q[14]*d + q[15]
	if w == 0 {
		return r3.Vector{}, false
	}
	return r3.Vector{
		X: (q[0]*fx + q[1]*fy + q[2]*d + q[3]) / w,
		Y: (q[4]*fx + q[5]*fy + q[6]*d + q[7]) / w,
		Z: (q[8]*fx + q[9]*fy + q[10]*d + q[11]) / w,
	}, true
}

// DepthCm returns the Z coordinate of Reproject in centimetres, assuming the
// calibration is expressed in metres.
func (r *Reprojector) DepthCm(x, y int, d float64) (float64, bool) {
	p, ok := r.Reproject(x, y, d)
	if !ok {
		return 0, false
	}
	return p.Z * 100, true
}

// NewStandardQ builds the Q matrix produced by stereo rectification for two
// cameras sharing focal length f and principal point (cx, cy), separated by
// baseline tx along X (negative for a right camera to the right of the left
// one, as returned by OpenCV's stereoRectify).
func NewStandardQ(f, cx, cy, tx float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, -cx,
		0, 1, 0, -cy,
		0, 0, 0, f,
		0, 0, -1 / tx, 0,
	})
}
