package fusion

import (
	"fmt"
	"strings"
)

// MessageFormat selects the announcement wording.
type MessageFormat int

const (
	// FormatAway renders "<label> <direction>, <m> meters away".
	FormatAway MessageFormat = iota
	// FormatFound renders "<label> found <m> meters <direction>".
	FormatFound
)

func (f MessageFormat) String() string {
	if f == FormatFound {
		return "found"
	}
	return "away"
}

// ParseMessageFormat accepts "away" or "found".
func ParseMessageFormat(s string) (MessageFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "away", "":
		return FormatAway, nil
	case "found":
		return FormatFound, nil
	}
	return FormatAway, fmt.Errorf("unknown message format %q", s)
}

// MessageStyle controls how a hazard becomes text.
type MessageStyle struct {
	Format MessageFormat
	Spoken bool
}

// Render formats c with its distance in metres to one decimal place.
func (s MessageStyle) Render(c FusedCandidate) string {
	dir := c.Direction.Phrase(s.Spoken)
	m := c.DistanceCm / 100
	if s.Format == FormatFound {
		return fmt.Sprintf("%s found %.1f meters %s", c.Label, m, dir)
	}
	return fmt.Sprintf("%s %s, %.1f meters away", c.Label, dir, m)
}
