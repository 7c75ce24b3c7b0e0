// Package frameloop drives the per-frame pipeline: capture a stereo pair,
// run detection and depth estimation concurrently, poll the ranging sensor,
// fuse, gate and announce.
package frameloop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/safepi/internal/fusion"
	"github.com/banshee-data/safepi/internal/stereo"
	"github.com/banshee-data/safepi/internal/timeutil"
)

// FrameSource yields stereo pairs. io.EOF ends the loop cleanly.
type FrameSource interface {
	Next(ctx context.Context) (left, right image.Image, err error)
}

// Detector finds labelled boxes in a single image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]fusion.Detection, error)
}

// DepthEstimator turns a stereo pair into a disparity map.
type DepthEstimator interface {
	Estimate(ctx context.Context, left, right image.Image) (*stereo.DisparityMap, error)
}

// RangingSource is polled once per frame and never blocks.
type RangingSource interface {
	Poll() (*fusion.RangingSample, bool)
}

// Notifier delivers announcement text to the user.
type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

// Observer receives every completed frame. Observe must not block.
type Observer interface {
	Observe(Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Result)

func (f ObserverFunc) Observe(r Result) { f(r) }

// Timings records how long each stage of a frame took.
type Timings struct {
	Capture time.Duration `json:"capture"`
	Infer   time.Duration `json:"infer"`
	Fuse    time.Duration `json:"fuse"`
	Total   time.Duration `json:"total"`
}

// Result is one processed frame.
type Result struct {
	Seq      uint64                `json:"seq"`
	At       time.Time             `json:"at"`
	Width    int                   `json:"width"`
	Height   int                   `json:"height"`
	Decision fusion.Decision       `json:"decision"`
	Ranging  *fusion.RangingSample `json:"ranging,omitempty"`
	Summary  stereo.Summary        `json:"disparity"`
	Timings  Timings               `json:"timings"`
}

// Config wires the loop's collaborators. Crosswalks, Ranging and Notifier
// may be nil.
type Config struct {
	Source     FrameSource
	Objects    Detector
	Crosswalks Detector
	Depth      DepthEstimator
	Ranging    RangingSource
	Fuser      *fusion.Fuser
	Notifier   Notifier
	Observers  []Observer
	Clock      timeutil.Clock
	// MinInterval paces the loop; zero runs as fast as frames arrive.
	MinInterval time.Duration
}

// Stats are cumulative loop counters.
type Stats struct {
	Frames       uint64 `json:"frames"`
	FrameErrors  uint64 `json:"frame_errors"`
	Hazards      uint64 `json:"hazards"`
	Reported     uint64 `json:"reported"`
	Transmitted  uint64 `json:"transmitted"`
	NotifyErrors uint64 `json:"notify_errors"`
	RangingHits  uint64 `json:"ranging_hits"`
}

// Loop carries the report gate state from one frame to the next.
type Loop struct {
	cfg   Config
	clock timeutil.Clock

	mu    sync.Mutex
	seq   uint64
	state fusion.ReportState

	frames       atomic.Uint64
	frameErrors  atomic.Uint64
	hazards      atomic.Uint64
	reported     atomic.Uint64
	transmitted  atomic.Uint64
	notifyErrors atomic.Uint64
	rangingHits  atomic.Uint64

	last          atomic.Pointer[Result]
	lastDisparity atomic.Pointer[stereo.DisparityMap]
}

// New validates cfg and returns a ready Loop.
func New(cfg Config) (*Loop, error) {
	switch {
	case cfg.Source == nil:
		return nil, errors.New("frameloop: frame source is required")
	case cfg.Objects == nil:
		return nil, errors.New("frameloop: object detector is required")
	case cfg.Depth == nil:
		return nil, errors.New("frameloop: depth estimator is required")
	case cfg.Fuser == nil:
		return nil, errors.New("frameloop: fuser is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Loop{cfg: cfg, clock: clock}, nil
}

// IntervalForRate converts a frame rate cap to a minimum frame interval.
func IntervalForRate(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

// Step processes exactly one frame. Errors from the source are returned
// unwrapped so callers can test for io.EOF.
func (l *Loop) Step(ctx context.Context) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.clock.Now()
	left, right, err := l.cfg.Source.Next(ctx)
	if err != nil {
		return Result{}, err
	}
	captured := l.clock.Now()

	var (
		objects, crosswalks []fusion.Detection
		disparity           *stereo.DisparityMap
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := l.cfg.Depth.Estimate(gctx, left, right)
		if err != nil {
			return fmt.Errorf("depth: %w", err)
		}
		if d == nil {
			return errors.New("depth: estimator returned no disparity map")
		}
		disparity = d
		return nil
	})
	g.Go(func() error {
		dets, err := l.cfg.Objects.Detect(gctx, left)
		if err != nil {
			return fmt.Errorf("object detector: %w", err)
		}
		objects = dets
		return nil
	})
	if l.cfg.Crosswalks != nil {
		g.Go(func() error {
			dets, err := l.cfg.Crosswalks.Detect(gctx, left)
			if err != nil {
				return fmt.Errorf("crosswalk detector: %w", err)
			}
			crosswalks = dets
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	inferred := l.clock.Now()

	var sample *fusion.RangingSample
	if l.cfg.Ranging != nil {
		if s, ok := l.cfg.Ranging.Poll(); ok {
			sample = s
			l.rangingHits.Add(1)
		}
	}

	l.seq++
	b := left.Bounds()
	frame := fusion.Frame{
		Seq:        l.seq,
		Width:      b.Dx(),
		Disparity:  disparity,
		Crosswalks: crosswalks,
		Objects:    objects,
		Ranging:    sample,
	}
	dec, next := l.cfg.Fuser.Fuse(frame, l.state, inferred)
	l.state = next
	fused := l.clock.Now()

	res := Result{
		Seq:      l.seq,
		At:       start,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Decision: dec,
		Ranging:  sample,
		Summary:  disparity.Summarise(l.cfg.Fuser.Params().ValidDisparity),
		Timings: Timings{
			Capture: captured.Sub(start),
			Infer:   inferred.Sub(captured),
			Fuse:    fused.Sub(inferred),
		},
	}
	tracef("frame %d: disparity min=%.1f max=%.1f mean=%.1f valid=%d/%d",
		res.Seq, res.Summary.Min, res.Summary.Max, res.Summary.Mean, res.Summary.Valid, res.Summary.Total)

	l.frames.Add(1)
	if dec.Hazard != nil {
		l.hazards.Add(1)
	}
	if dec.Gate.Outcome == fusion.Reported {
		l.reported.Add(1)
	}
	if dec.Gate.Transmit && dec.Message != "" {
		l.transmitted.Add(1)
		diagf("frame %d: %s", res.Seq, dec.Message)
		if l.cfg.Notifier != nil {
			if err := l.cfg.Notifier.Notify(ctx, dec.Message); err != nil {
				l.notifyErrors.Add(1)
				opsf("notify failed: %v", err)
			}
		}
	}
	res.Timings.Total = l.clock.Since(start)

	l.last.Store(&res)
	l.lastDisparity.Store(disparity)
	for _, o := range l.cfg.Observers {
		o.Observe(res)
	}
	return res, nil
}

// Run processes frames until ctx is cancelled or the source is exhausted.
// A failed frame is logged and skipped. Exhaustion returns nil.
func (l *Loop) Run(ctx context.Context) error {
	diagf("frame loop starting (min interval %v)", l.cfg.MinInterval)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := l.clock.Now()
		_, err := l.Step(ctx)
		switch {
		case errors.Is(err, io.EOF):
			diagf("frame source exhausted after %d frames", l.frames.Load())
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			l.frameErrors.Add(1)
			opsf("frame skipped: %v", err)
		}

		if l.cfg.MinInterval <= 0 {
			continue
		}
		wait := l.cfg.MinInterval - l.clock.Since(start)
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// State returns the current report gate state.
func (l *Loop) State() fusion.ReportState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Last returns the most recent result, or nil before the first frame.
func (l *Loop) Last() *Result { return l.last.Load() }

// LastDisparity returns the most recent disparity map.
func (l *Loop) LastDisparity() *stereo.DisparityMap { return l.lastDisparity.Load() }

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Frames:       l.frames.Load(),
		FrameErrors:  l.frameErrors.Load(),
		Hazards:      l.hazards.Load(),
		Reported:     l.reported.Load(),
		Transmitted:  l.transmitted.Load(),
		NotifyErrors: l.notifyErrors.Load(),
		RangingHits:  l.rangingHits.Load(),
	}
}
