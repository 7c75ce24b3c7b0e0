package fusion

import "math"

// DefaultDiscrepancyCm is the depth/ranging disagreement above which the
// ranging sensor wins.
const DefaultDiscrepancyCm = 100

// Arbitrate reconciles a candidate with a ranging sample. When sample is
// non-nil and differs from the candidate's distance by more than
// thresholdCm, the candidate takes the ranging distance. Label and direction
// never change.
func Arbitrate(c FusedCandidate, sample *RangingSample, thresholdCm float64) FusedCandidate {
	c.Arbitrated = true
	if sample == nil {
		return c
	}
	r := float64(sample.DistanceCm)
	if math.Abs(r-c.DistanceCm) > thresholdCm {
		diagf("%s: ranging %d cm disagrees with depth %.1f cm, overriding", c.Label, sample.DistanceCm, c.DistanceCm)
		c.DistanceCm = r
		c.Overridden = true
	}
	return c
}
