// Package replay serves recorded stereo pairs and detector fixtures from a
// directory so the pipeline can run without cameras, models or a sensor.
//
// Layout:
//
//	DIR/left/0001.png     left frames, any format imaging can decode
//	DIR/right/0001.png    right frames, same names as left/
//	DIR/detections.json   optional, keyed by frame name
//
// detections.json maps a frame name to its fixtures:
//
//	{"0001.png": {"objects": [...], "crosswalks": [...], "ranging_cm": 180}}
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/banshee-data/safepi/internal/fusion"
	"github.com/banshee-data/safepi/internal/ranging"
	"github.com/banshee-data/safepi/internal/security"
)

// ErrNoFrames is returned when the left directory has no usable images.
var ErrNoFrames = errors.New("replay: no frames")

// Fixture holds the recorded detector and sensor output for one frame.
type Fixture struct {
	Objects    []fusion.Detection `json:"objects"`
	Crosswalks []fusion.Detection `json:"crosswalks"`
	RangingCm  *int               `json:"ranging_cm,omitempty"`
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".tif": true, ".tiff": true}

// Source iterates a replay directory in name order.
type Source struct {
	dir      string
	names    []string
	fixtures map[string]Fixture

	// Loop restarts from the first frame instead of returning io.EOF.
	Loop bool

	mu      sync.Mutex
	next    int
	current string
}

// Open scans dir. Every frame in left/ must have a partner in right/.
func Open(dir string) (*Source, error) {
	dir = filepath.Clean(dir)
	entries, err := os.ReadDir(filepath.Join(dir, "left"))
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		for _, side := range []string{"left", "right"} {
			p := filepath.Join(dir, side, e.Name())
			if _, err := os.Stat(p); err != nil {
				return nil, fmt.Errorf("replay: %s frame for %s: %w", side, e.Name(), err)
			}
			if err := security.ValidatePathWithinDirectory(p, dir); err != nil {
				return nil, fmt.Errorf("replay: %w", err)
			}
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, dir)
	}
	slices.Sort(names)

	fixtures := map[string]Fixture{}
	raw, err := os.ReadFile(filepath.Join(dir, "detections.json"))
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &fixtures); err != nil {
			return nil, fmt.Errorf("replay: parse detections.json: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("replay: %w", err)
	}

	diagf("replaying %d frames from %s (%d fixtures)", len(names), dir, len(fixtures))
	return &Source{dir: dir, names: names, fixtures: fixtures}, nil
}

// Len returns the number of frame pairs.
func (s *Source) Len() int { return len(s.names) }

// Next decodes the next pair. It returns io.EOF after the last frame unless
// Loop is set.
func (s *Source) Next(ctx context.Context) (image.Image, image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	if s.next >= len(s.names) {
		if !s.Loop {
			s.mu.Unlock()
			return nil, nil, io.EOF
		}
		s.next = 0
	}
	name := s.names[s.next]
	s.next++
	s.current = name
	s.mu.Unlock()

	left, err := imaging.Open(filepath.Join(s.dir, "left", name))
	if err != nil {
		return nil, nil, fmt.Errorf("replay: left %s: %w", name, err)
	}
	right, err := imaging.Open(filepath.Join(s.dir, "right", name))
	if err != nil {
		return nil, nil, fmt.Errorf("replay: right %s: %w", name, err)
	}
	tracef("frame %s", name)
	return left, right, nil
}

// Current returns the name of the frame last returned by Next.
func (s *Source) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Source) fixture() Fixture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fixtures[s.current]
}

// Objects returns a detector that reports the current frame's recorded
// general detections.
func (s *Source) Objects() *FixtureDetector {
	return &FixtureDetector{src: s, pick: func(f Fixture) []fusion.Detection { return f.Objects }}
}

// Crosswalks returns a detector for the current frame's crosswalk boxes.
func (s *Source) Crosswalks() *FixtureDetector {
	return &FixtureDetector{src: s, pick: func(f Fixture) []fusion.Detection { return f.Crosswalks }}
}

// RangingFrame encodes the current frame's recorded range as a sensor frame,
// or returns nil when the frame has none. It feeds the simulated serial port.
func (s *Source) RangingFrame() []byte {
	f := s.fixture()
	if f.RangingCm == nil {
		return nil
	}
	return ranging.EncodeFrame(fusion.RangingSample{DistanceCm: *f.RangingCm})
}

// FixtureDetector replays recorded detections.
type FixtureDetector struct {
	src  *Source
	pick func(Fixture) []fusion.Detection
}

func (d *FixtureDetector) Detect(ctx context.Context, _ image.Image) ([]fusion.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(d.pick(d.src.fixture())), nil
}
