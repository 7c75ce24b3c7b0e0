package fusion

// SelectHazard returns the index of the candidate with the smallest
// distance, first in order on ties. When thresholdCm is positive only
// candidates strictly below it qualify. It returns -1 when nothing
// qualifies.
func SelectHazard(cands []FusedCandidate, thresholdCm float64) int {
	best := -1
	for i, c := range cands {
		if thresholdCm > 0 && c.DistanceCm >= thresholdCm {
			continue
		}
		if best < 0 || c.DistanceCm < cands[best].DistanceCm {
			best = i
		}
	}
	return best
}
