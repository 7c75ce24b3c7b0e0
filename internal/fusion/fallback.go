package fusion

import (
	"math"

	"github.com/banshee-data/safepi/internal/stereo"
)

// FallbackLabel is the label given to the nearest scene point when no
// detection produced a candidate.
const FallbackLabel = "obstacle"

// FallbackScanner finds the closest valid point in the whole disparity map.
type FallbackScanner struct {
	Reprojector    *stereo.Reprojector
	ValidDisparity stereo.ValidRange
	// NoiseFloorCm rejects the closest point when it is at or below this
	// distance. Border and rectification artefacts cluster just above 20 cm.
	NoiseFloorCm  float64
	MaxDistanceCm float64
	Direction     DirectionPolicy
}

// Scan reprojects every valid pixel and returns a candidate for the one with
// the smallest Z. ok is false when no pixel is valid or the closest one is
// noise or out of range.
func (s *FallbackScanner) Scan(disp *stereo.DisparityMap) (FusedCandidate, bool) {
	best := math.Inf(1)
	bestX := -1
	for y := 0; y < disp.Height; y++ {
		row := disp.Data[y*disp.Width : (y+1)*disp.Width]
		for x, d := range row {
			if !s.ValidDisparity.Contains(d) {
				continue
			}
			z, ok := s.Reprojector.DepthCm(x, y, float64(d))
			if !ok || math.IsNaN(z) {
				continue
			}
			if z < best {
				best, bestX = z, x
			}
		}
	}
	if bestX < 0 {
		return FusedCandidate{}, false
	}
	if best <= s.NoiseFloorCm {
		diagf("closest point %.1f cm is at or below the noise floor, skipping", best)
		return FusedCandidate{}, false
	}
	if !inRange(best, 0, s.MaxDistanceCm) {
		return FusedCandidate{}, false
	}
	return FusedCandidate{
		Label:      FallbackLabel,
		DistanceCm: best,
		Direction:  s.Direction.Classify(bestX, disp.Width),
		Source:     FromFallback,
	}, true
}
