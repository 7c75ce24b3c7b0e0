// Package debugviz renders disparity maps for the /debug pages: a false
// colour image and a histogram of valid disparities.
package debugviz

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/safepi/internal/stereo"
)

var ErrNoValidPixels = errors.New("debugviz: no valid disparities")

// ColorMap maps valid disparities onto a blue (far) to red (near) ramp,
// stretched over the frame's own min..max. Invalid pixels are black.
func ColorMap(d *stereo.DisparityMap, valid stereo.ValidRange) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, d.Width, d.Height))
	lo, hi, ok := validBounds(d, valid)
	if !ok {
		for i := 3; i < len(img.Pix); i += 4 {
			img.Pix[i] = 0xff
		}
		return img
	}
	span := hi - lo
	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			v := d.At(x, y)
			if !valid.Contains(v) {
				img.SetNRGBA(x, y, color.NRGBA{A: 0xff})
				continue
			}
			t := 0.0
			if span > 0 {
				t = float64((v - lo) / span)
			}
			img.Set(x, y, Ramp(t))
		}
	}
	return img
}

func validBounds(d *stereo.DisparityMap, valid stereo.ValidRange) (lo, hi float32, ok bool) {
	for _, v := range d.Data {
		if !valid.Contains(v) {
			continue
		}
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		lo, hi = min(lo, v), max(hi, v)
	}
	return lo, hi, ok
}

// Ramp returns the colour for t in [0,1]: blue through green to red, like
// the jet map used by OpenCV.
func Ramp(t float64) colorful.Color {
	t = min(max(t, 0), 1)
	return colorful.Hsv(240*(1-t), 1, 1).Clamped()
}

// WritePNG encodes img as PNG.
func WritePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}

// WriteHistogram plots the distribution of valid disparities as a PNG.
func WriteHistogram(w io.Writer, d *stereo.DisparityMap, valid stereo.ValidRange, bins int) error {
	var vals plotter.Values
	for _, v := range d.Data {
		if valid.Contains(v) {
			vals = append(vals, float64(v))
		}
	}
	if len(vals) == 0 {
		return ErrNoValidPixels
	}
	if bins <= 0 {
		bins = 32
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("disparity (%d of %d px valid)", len(vals), len(d.Data))
	p.X.Label.Text = "disparity (px)"
	p.Y.Label.Text = "pixels"

	h, err := plotter.NewHist(vals, bins)
	if err != nil {
		return fmt.Errorf("histogram: %w", err)
	}
	h.FillColor = color.NRGBA{R: 0x31, G: 0x68, B: 0x8e, A: 0xff}
	p.Add(h)

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
