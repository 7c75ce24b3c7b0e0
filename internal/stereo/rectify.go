package stereo

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrNoRectification is returned when depth is requested without
// rectification maps. Unrectified input would silently produce garbage.
var ErrNoRectification = errors.New("stereo: rectification maps not available")

// CameraModel is one camera's intrinsic and rectification parameters.
type CameraModel struct {
	K    *mat.Dense // 3x3 intrinsic matrix
	Dist []float64  // k1, k2, p1, p2[, k3]
	R    *mat.Dense // 3x3 rectification rotation
	P    *mat.Dense // 3x4 (or 3x3) projection in the rectified frame
}

// RemapTable holds, for each rectified output pixel, the source coordinate
// in the raw image.
type RemapTable struct {
	Width  int
	Height int
	MapX   []float32
	MapY   []float32
}

// BuildRemapTable computes the undistort/rectify lookup for one camera, the
// same mapping as OpenCV's initUndistortRectifyMap.
func BuildRemapTable(cam CameraModel, width, height int) (*RemapTable, error) {
	if cam.K == nil || cam.R == nil || cam.P == nil {
		return nil, fmt.Errorf("%w: camera model incomplete", ErrNoRectification)
	}
	if r, c := cam.K.Dims(); r != 3 || c != 3 {
		return nil, fmt.Errorf("stereo: K must be 3x3, got %dx%d", r, c)
	}
	if r, c := cam.R.Dims(); r != 3 || c != 3 {
		return nil, fmt.Errorf("stereo: R must be 3x3, got %dx%d", r, c)
	}
	if r, c := cam.P.Dims(); r != 3 || (c != 3 && c != 4) {
		return nil, fmt.Errorf("stereo: P must be 3x3 or 3x4, got %dx%d", r, c)
	}
	var rinv mat.Dense
	if err := rinv.Inverse(cam.R); err != nil {
		return nil, fmt.Errorf("stereo: R not invertible: %w", err)
	}

	var k1, k2, p1, p2, k3 float64
	dist := append(append([]float64(nil), cam.Dist...), 0, 0, 0, 0, 0)
	k1, k2, p1, p2, k3 = dist[0], dist[1], dist[2], dist[3], dist[4]

	fx, fy := cam.K.At(0, 0), cam.K.At(1, 1)
	cx, cy := cam.K.At(0, 2), cam.K.At(1, 2)
	nfx, nfy := cam.P.At(0, 0), cam.P.At(1, 1)
	ncx, ncy := cam.P.At(0, 2), cam.P.At(1, 2)
	if nfx == 0 || nfy == 0 {
		return nil, fmt.Errorf("stereo: projection has zero focal length")
	}

	t := &RemapTable{
		Width:  width,
		Height: height,
		MapX:   make([]float32, width*height),
		MapY:   make([]float32, width*height),
	}
	ri := func(i, j int) float64 { return rinv.At(i, j) }
	for v := 0; v < height; v++ {
		yn := (float64(v) - ncy) / nfy
		for u := 0; u < width; u++ {
			xn := (float64(u) - ncx) / nfx
			X := ri(0, 0)*xn + ri(0, 1)*yn + ri(0, 2)
			Y := ri(1, 0)*xn + ri(1, 1)*yn + ri(1, 2)
			W := ri(2, 0)*xn + ri(2, 1)*yn + ri(2, 2)
			if W == 0 {
				t.MapX[v*width+u], t.MapY[v*width+u] = -1, -1
				continue
			}
			x, y := X/W, Y/W
			r2 := x*x + y*y
			radial := 1 + k1*r2 + k2*r2*r2 + k3*r2*r2*r2
			xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
			yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
			t.MapX[v*width+u] = float32(fx*xd + cx)
			t.MapY[v*width+u] = float32(fy*yd + cy)
		}
	}
	return t, nil
}

// Remap samples src through the table with bilinear interpolation. Samples
// falling outside src are black.
func (t *RemapTable) Remap(src *image.Gray) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, t.Width, t.Height))
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	at := func(x, y int) float64 {
		if x < 0 || y < 0 || x >= sw || y >= sh {
			return 0
		}
		return float64(src.Pix[y*src.Stride+x])
	}
	for v := 0; v < t.Height; v++ {
		for u := 0; u < t.Width; u++ {
			mx := float64(t.MapX[v*t.Width+u])
			my := float64(t.MapY[v*t.Width+u])
			if mx < -1 || my < -1 || mx > float64(sw) || my > float64(sh) {
				continue
			}
			x0, y0 := int(math.Floor(mx)), int(math.Floor(my))
			ax, ay := mx-float64(x0), my-float64(y0)
			val := (1-ax)*(1-ay)*at(x0, y0) +
				ax*(1-ay)*at(x0+1, y0) +
				(1-ax)*ay*at(x0, y0+1) +
				ax*ay*at(x0+1, y0+1)
			dst.Pix[v*dst.Stride+u] = uint8(math.Min(255, math.Max(0, math.Round(val))))
		}
	}
	return dst
}

// Rectifier holds the remap tables for both cameras of a rig.
type Rectifier struct {
	Left  *RemapTable
	Right *RemapTable
}

// NewRectifier precomputes both remap tables for the given image size.
func NewRectifier(left, right CameraModel, width, height int) (*Rectifier, error) {
	lt, err := BuildRemapTable(left, width, height)
	if err != nil {
		return nil, fmt.Errorf("left camera: %w", err)
	}
	rt, err := BuildRemapTable(right, width, height)
	if err != nil {
		return nil, fmt.Errorf("right camera: %w", err)
	}
	diagf("rectification maps built for %dx%d", width, height)
	return &Rectifier{Left: lt, Right: rt}, nil
}

// Rectify remaps a raw grayscale pair. Both images must match the size the
// tables were built for.
func (r *Rectifier) Rectify(left, right *image.Gray) (*image.Gray, *image.Gray, error) {
	if r == nil || r.Left == nil || r.Right == nil {
		return nil, nil, ErrNoRectification
	}
	want := image.Pt(r.Left.Width, r.Left.Height)
	if left.Bounds().Size() != want || right.Bounds().Size() != want {
		return nil, nil, fmt.Errorf("%w: got %v and %v, maps built for %v",
			ErrSizeMismatch, left.Bounds().Size(), right.Bounds().Size(), want)
	}
	return r.Left.Remap(left), r.Right.Remap(right), nil
}
