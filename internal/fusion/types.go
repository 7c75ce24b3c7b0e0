package fusion

import (
	"fmt"
	"strings"
)

// Box is a detector bounding box in pixel coordinates, (X1,Y1) top-left
// inclusive and (X2,Y2) bottom-right exclusive.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Center returns the integer centre of the box.
func (b Box) Center() (int, int) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Empty reports whether the box encloses no pixels.
func (b Box) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Detection is one labelled box returned by an external detector.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Direction is the coarse horizontal bearing of a candidate.
type Direction int

const (
	Ahead Direction = iota
	Left
	Right
)

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "ahead"
	}
}

// Phrase returns the word used in messages. Spoken phrasing turns left and
// right into "to the left" and "to the right".
func (d Direction) Phrase(spoken bool) string {
	if spoken && d != Ahead {
		return "to the " + d.String()
	}
	return d.String()
}

// DirectionMode selects how image columns map to directions.
type DirectionMode int

const (
	// Thirds splits the frame into three equal vertical bands.
	Thirds DirectionMode = iota
	// DeadZone treats a band of +/- DeadZoneFraction of the width around the
	// centre as ahead.
	DeadZone
)

func (m DirectionMode) String() string {
	if m == DeadZone {
		return "dead_zone"
	}
	return "thirds"
}

// ParseDirectionMode accepts "thirds" or "dead_zone" (case-insensitive).
func ParseDirectionMode(s string) (DirectionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "thirds", "":
		return Thirds, nil
	case "dead_zone", "deadzone", "dead-zone":
		return DeadZone, nil
	}
	return Thirds, fmt.Errorf("unknown direction mode %q", s)
}

// DirectionPolicy classifies a pixel column into a Direction.
type DirectionPolicy struct {
	Mode             DirectionMode
	DeadZoneFraction float64
}

// Classify returns the direction of column x in an image width pixels wide.
func (p DirectionPolicy) Classify(x, width int) Direction {
	fx, fw := float64(x), float64(width)
	switch p.Mode {
	case DeadZone:
		mid := float64(width / 2)
		if fx < mid-fw*p.DeadZoneFraction {
			return Left
		}
		if fx > mid+fw*p.DeadZoneFraction {
			return Right
		}
	default:
		if fx < fw/3 {
			return Left
		}
		if fx > 2*fw/3 {
			return Right
		}
	}
	return Ahead
}

// Source records how a candidate's distance was obtained.
type Source int

const (
	FromDetection Source = iota
	FromFallback
)

func (s Source) String() string {
	if s == FromFallback {
		return "fallback"
	}
	return "detection"
}

// FusedCandidate is one object with a depth-derived distance and bearing.
type FusedCandidate struct {
	Label      string
	DistanceCm float64
	Direction  Direction
	Source     Source
	// Overridden is set when the ranging sensor replaced the distance.
	Overridden bool
	// Arbitrated is set once the candidate has been checked against ranging.
	Arbitrated bool
}

// RangingSample is one decoded single-point range reading.
type RangingSample struct {
	DistanceCm  int     `json:"distance_cm"`
	Strength    int     `json:"strength"`
	Temperature float64 `json:"temperature"`
}
