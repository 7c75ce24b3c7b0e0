package stereo

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"time"

	"github.com/disintegration/imaging"
)

// PairRectifier aligns a raw grayscale pair onto common epipolar lines.
type PairRectifier interface {
	Rectify(left, right *image.Gray) (*image.Gray, *image.Gray, error)
}

// Estimator turns a raw stereo pair into a disparity map: grayscale,
// rectify, then semi-global matching.
type Estimator struct {
	rect    PairRectifier
	matcher *Matcher
}

// NewEstimator returns an Estimator. rect may be nil, in which case every
// Estimate call fails with ErrNoRectification.
func NewEstimator(rect PairRectifier, matcher *Matcher) *Estimator {
	return &Estimator{rect: rect, matcher: matcher}
}

// Estimate computes the disparity of the left image of the pair.
func (e *Estimator) Estimate(ctx context.Context, left, right image.Image) (*DisparityMap, error) {
	if e.rect == nil {
		return nil, ErrNoRectification
	}
	if left.Bounds().Size() != right.Bounds().Size() {
		return nil, fmt.Errorf("%w: %v vs %v", ErrSizeMismatch, left.Bounds().Size(), right.Bounds().Size())
	}
	start := time.Now()

	lg, rg := ToGray(left), ToGray(right)
	lr, rr, err := e.rect.Rectify(lg, rg)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	disp, err := e.matcher.Compute(lr, rr)
	if err != nil {
		return nil, err
	}
	tracef("disparity %dx%d in %v", disp.Width, disp.Height, time.Since(start))
	return disp, nil
}

// ToGray converts img to an 8-bit grayscale image anchored at the origin.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	nrgba := imaging.Grayscale(img)
	b := nrgba.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), nrgba, b.Min, draw.Src)
	return out
}
