package fusion

import (
	"math"
	"slices"

	"github.com/banshee-data/safepi/internal/stereo"
)

// Resolver converts detection boxes into distances using the frame's
// disparity map and the rig's reprojection.
type Resolver struct {
	Reprojector    *stereo.Reprojector
	ValidDisparity stereo.ValidRange
	MaxDistanceCm  float64
}

// Resolve returns the distance in centimetres to the object inside box, or
// ok=false when the box holds no valid disparity or the reprojected distance
// falls outside (0, MaxDistanceCm].
func (r *Resolver) Resolve(box Box, disp *stereo.DisparityMap) (distanceCm float64, ok bool) {
	clipped := clipToMap(box, disp)
	if clipped.Empty() {
		return 0, false
	}
	x1, y1, x2, y2 := clipped.X1, clipped.Y1, clipped.X2, clipped.Y2
	valid := make([]float32, 0, (x2-x1)*(y2-y1))
	for y := y1; y < y2; y++ {
		row := disp.Data[y*disp.Width+x1 : y*disp.Width+x2]
		for _, d := range row {
			if r.ValidDisparity.Contains(d) {
				valid = append(valid, d)
			}
		}
	}
	if len(valid) == 0 {
		return 0, false
	}
	med := median(valid)
	if med <= 0 {
		return 0, false
	}
	cx, cy := clipped.Center()
	dist, ok := r.Reprojector.DepthCm(cx, cy, med)
	if !ok || !inRange(dist, 0, r.MaxDistanceCm) {
		return 0, false
	}
	return dist, true
}

// clipToMap returns the part of box that lies on the disparity map.
func clipToMap(box Box, disp *stereo.DisparityMap) Box {
	x1, y1, x2, y2 := disp.Clip(box.X1, box.Y1, box.X2, box.Y2)
	return Box{x1, y1, x2, y2}
}

// median sorts vals in place and returns the middle value, averaging the
// two middle values for even lengths.
func median(vals []float32) float64 {
	slices.Sort(vals)
	n := len(vals)
	if n%2 == 1 {
		return float64(vals[n/2])
	}
	return (float64(vals[n/2-1]) + float64(vals[n/2])) / 2
}

// inRange reports lo < v <= hi, rejecting NaN and infinities.
func inRange(v, lo, hi float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v > lo && v <= hi
}
