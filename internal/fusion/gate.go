package fusion

import "time"

// Outcome is the per-frame result of the report gate.
type Outcome int

const (
	// Idle means there was no hazard this frame.
	Idle Outcome = iota
	// Suppressed means the hazard matched the last report and has not come
	// close enough to be worth repeating.
	Suppressed
	// Reported means the hazard qualified. It is transmitted unless the
	// cooldown window is still open.
	Reported
)

func (o Outcome) String() string {
	switch o {
	case Suppressed:
		return "suppressed"
	case Reported:
		return "reported"
	default:
		return "idle"
	}
}

// ReportState is the gate's memory across frames. The zero value is the
// state at process start.
type ReportState struct {
	HasReport      bool
	LastLabel      string
	LastDistanceCm float64
	LastSentAt     time.Time
}

// GateMode selects between the debounced gate and reporting every hazard.
type GateMode int

const (
	// Debounced reports on label change or when the same label has closed
	// in by at least DebounceCm, at most once per Cooldown.
	Debounced GateMode = iota
	// EveryFrame reports and transmits every hazard.
	EveryFrame
)

func (m GateMode) String() string {
	if m == EveryFrame {
		return "every_frame"
	}
	return "debounced"
}

// ReportGate decides whether a selected hazard is worth announcing.
type ReportGate struct {
	Mode       GateMode
	DebounceCm float64
	Cooldown   time.Duration
}

// GateDecision is the gate's verdict for one frame.
type GateDecision struct {
	Outcome  Outcome
	Transmit bool
}

// Evaluate applies the gate to hazard (nil when the frame had none) and
// returns the decision together with the successor state. The label and
// distance memory follow the decision; LastSentAt only moves on transmit.
func (g ReportGate) Evaluate(state ReportState, hazard *FusedCandidate, now time.Time) (GateDecision, ReportState) {
	if hazard == nil {
		return GateDecision{Outcome: Idle}, state
	}

	report := g.Mode == EveryFrame ||
		!state.HasReport ||
		hazard.Label != state.LastLabel ||
		state.LastDistanceCm-hazard.DistanceCm >= g.DebounceCm
	if !report {
		return GateDecision{Outcome: Suppressed}, state
	}

	next := state
	next.HasReport = true
	next.LastLabel = hazard.Label
	next.LastDistanceCm = hazard.DistanceCm

	transmit := g.Mode == EveryFrame ||
		state.LastSentAt.IsZero() ||
		now.Sub(state.LastSentAt) >= g.Cooldown
	if transmit {
		next.LastSentAt = now
	} else {
		tracef("%s at %.1f cm inside cooldown, not sent", hazard.Label, hazard.DistanceCm)
	}
	return GateDecision{Outcome: Reported, Transmit: transmit}, next
}
