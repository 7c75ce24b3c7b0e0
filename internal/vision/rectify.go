package vision

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/safepi/internal/stereo"
)

// Rectifier is an OpenCV-backed stereo.PairRectifier. The maps are built
// once with InitUndistortRectifyMap and applied with bilinear Remap.
type Rectifier struct {
	mu     sync.Mutex
	size   image.Point
	lx, ly gocv.Mat
	rx, ry gocv.Mat
}

var _ stereo.PairRectifier = (*Rectifier)(nil)

// NewRectifier builds the lookup maps for a width x height pair.
func NewRectifier(left, right stereo.CameraModel, width, height int) (*Rectifier, error) {
	size := image.Pt(width, height)
	lx, ly, err := rectifyMaps(left, size)
	if err != nil {
		return nil, fmt.Errorf("left: %w", err)
	}
	rx, ry, err := rectifyMaps(right, size)
	if err != nil {
		lx.Close()
		ly.Close()
		return nil, fmt.Errorf("right: %w", err)
	}
	return &Rectifier{size: size, lx: lx, ly: ly, rx: rx, ry: ry}, nil
}

func rectifyMaps(cam stereo.CameraModel, size image.Point) (gocv.Mat, gocv.Mat, error) {
	if cam.K == nil || cam.R == nil || cam.P == nil {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("%w: camera model incomplete", stereo.ErrNoRectification)
	}
	k := denseToMat(cam.K)
	defer k.Close()
	r := denseToMat(cam.R)
	defer r.Close()
	p := denseToMat(cam.P)
	defer p.Close()
	dist := gocv.NewMatWithSize(1, len(cam.Dist), gocv.MatTypeCV64F)
	defer dist.Close()
	for i, v := range cam.Dist {
		dist.SetDoubleAt(0, i, v)
	}

	mx, my := gocv.NewMat(), gocv.NewMat()
	gocv.InitUndistortRectifyMap(k, dist, r, p, size, int(gocv.MatTypeCV32F), mx, my)
	if mx.Empty() || my.Empty() {
		mx.Close()
		my.Close()
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("%w: empty map", stereo.ErrNoRectification)
	}
	return mx, my, nil
}

func denseToMat(d *mat.Dense) gocv.Mat {
	rows, cols := d.Dims()
	m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV64F)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.SetDoubleAt(i, j, d.At(i, j))
		}
	}
	return m
}

// Rectify remaps both images. They must match the size the maps were built for.
func (r *Rectifier) Rectify(left, right *image.Gray) (*image.Gray, *image.Gray, error) {
	if left.Bounds().Size() != r.size || right.Bounds().Size() != r.size {
		return nil, nil, fmt.Errorf("%w: maps are %v, got %v and %v", stereo.ErrSizeMismatch,
			r.size, left.Bounds().Size(), right.Bounds().Size())
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	lo, err := remapGray(left, &r.lx, &r.ly)
	if err != nil {
		return nil, nil, err
	}
	ro, err := remapGray(right, &r.rx, &r.ry)
	if err != nil {
		return nil, nil, err
	}
	return lo, ro, nil
}

func remapGray(src *image.Gray, mx, my *gocv.Mat) (*image.Gray, error) {
	in, err := gocv.ImageGrayToMatGray(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	out := gocv.NewMat()
	defer out.Close()

	gocv.Remap(in, &out, mx, my, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	img, err := out.ToImage()
	if err != nil {
		return nil, err
	}
	return stereo.ToGray(img), nil
}

// Close frees the maps.
func (r *Rectifier) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range []*gocv.Mat{&r.lx, &r.ly, &r.rx, &r.ry} {
		m.Close()
	}
	return nil
}
