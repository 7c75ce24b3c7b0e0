package fusion

import (
	"errors"
	"time"

	"github.com/banshee-data/safepi/internal/stereo"
)

// CrosswalkLabel is the label assigned to crosswalk detector boxes.
const CrosswalkLabel = "crosswalk"

// Params is the complete numeric policy of the fusion pass.
type Params struct {
	ValidDisparity        stereo.ValidRange
	MaxDistanceCm         float64
	FallbackMaxDistanceCm float64
	NoiseFloorCm          float64
	DiscrepancyCm         float64
	// HazardThresholdCm enables strict selection when positive: only
	// candidates closer than this are eligible.
	HazardThresholdCm float64
	Direction         DirectionPolicy
	Gate              ReportGate
	Message           MessageStyle
}

// Frame is the joined per-frame input to fusion. Detections are processed
// crosswalks first, then general objects, which fixes tie-break order.
type Frame struct {
	Seq        uint64
	Width      int
	Disparity  *stereo.DisparityMap
	Crosswalks []Detection
	Objects    []Detection
	Ranging    *RangingSample
}

// Decision is everything fusion concluded about one frame.
type Decision struct {
	Candidates []FusedCandidate
	Hazard     *FusedCandidate
	Gate       GateDecision
	Message    string
}

// Fuser runs resolve, fallback, arbitration, selection and gating.
type Fuser struct {
	params   Params
	resolver Resolver
	fallback FallbackScanner
}

// NewFuser builds a Fuser for the rig described by rp.
func NewFuser(rp *stereo.Reprojector, p Params) (*Fuser, error) {
	if rp == nil {
		return nil, errors.New("fusion: reprojector is required")
	}
	return &Fuser{
		params: p,
		resolver: Resolver{
			Reprojector:    rp,
			ValidDisparity: p.ValidDisparity,
			MaxDistanceCm:  p.MaxDistanceCm,
		},
		fallback: FallbackScanner{
			Reprojector:    rp,
			ValidDisparity: p.ValidDisparity,
			NoiseFloorCm:   p.NoiseFloorCm,
			MaxDistanceCm:  p.FallbackMaxDistanceCm,
			Direction:      p.Direction,
		},
	}, nil
}

// Params returns the policy the Fuser was built with.
func (f *Fuser) Params() Params { return f.params }

// Candidates resolves every detection into a candidate, falling back to the
// nearest scene point when none resolves.
func (f *Fuser) Candidates(fr Frame) []FusedCandidate {
	if fr.Disparity == nil {
		return nil
	}
	width := fr.Width
	if width <= 0 {
		width = fr.Disparity.Width
	}
	var out []FusedCandidate
	for _, group := range [][]Detection{fr.Crosswalks, fr.Objects} {
		for _, det := range group {
			d, ok := f.resolver.Resolve(det.Box, fr.Disparity)
			if !ok {
				continue
			}
			cx, _ := clipToMap(det.Box, fr.Disparity).Center()
			out = append(out, FusedCandidate{
				Label:      det.Label,
				DistanceCm: d,
				Direction:  f.params.Direction.Classify(cx, width),
				Source:     FromDetection,
			})
		}
	}
	if len(out) == 0 {
		if c, ok := f.fallback.Scan(fr.Disparity); ok {
			out = append(out, c)
		}
	}
	return out
}

// Fuse runs one fusion pass and returns the decision with the successor
// report state. state is never modified in place.
func (f *Fuser) Fuse(fr Frame, state ReportState, now time.Time) (Decision, ReportState) {
	cands := f.Candidates(fr)
	var dec Decision
	dec.Candidates = cands
	if len(cands) == 0 {
		dec.Gate, state = f.params.Gate.Evaluate(state, nil, now)
		return dec, state
	}

	// The overall closest candidate is always cross-checked, then selection
	// repeats until the winner itself has been arbitrated.
	closest := SelectHazard(cands, 0)
	cands[closest] = Arbitrate(cands[closest], fr.Ranging, f.params.DiscrepancyCm)
	idx := SelectHazard(cands, f.params.HazardThresholdCm)
	for idx >= 0 && !cands[idx].Arbitrated {
		cands[idx] = Arbitrate(cands[idx], fr.Ranging, f.params.DiscrepancyCm)
		idx = SelectHazard(cands, f.params.HazardThresholdCm)
	}

	if idx < 0 {
		tracef("frame %d: %d candidates, none within hazard threshold", fr.Seq, len(cands))
		dec.Gate, state = f.params.Gate.Evaluate(state, nil, now)
		return dec, state
	}

	hazard := cands[idx]
	dec.Hazard = &hazard
	dec.Gate, state = f.params.Gate.Evaluate(state, &hazard, now)
	if dec.Gate.Outcome == Reported {
		dec.Message = f.params.Message.Render(hazard)
	}
	tracef("frame %d: %s %.1f cm %s -> %s transmit=%t", fr.Seq, hazard.Label, hazard.DistanceCm,
		hazard.Direction, dec.Gate.Outcome, dec.Gate.Transmit)
	return dec, state
}
