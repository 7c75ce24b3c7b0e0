package ranging

import (
	"sync/atomic"

	"github.com/banshee-data/safepi/internal/fusion"
)

// FrameBuffer is the part of serialmux.SerialMuxInterface the poller needs.
type FrameBuffer interface {
	Buffered() int
	Take(n int) []byte
	ResetInput() error
}

// Poller reads the newest complete frame from a FrameBuffer without
// blocking. Every attempt that had a full frame's worth of bytes to look at
// ends by flushing the input, so the next poll sees only fresh readings.
type Poller struct {
	buf FrameBuffer

	// StrictChecksum rejects every frame whose checksum byte does not match.
	// Without it a mismatched frame is still taken when it sits on a frame
	// boundary: straight after an accepted frame, or directly followed by
	// another header.
	StrictChecksum bool

	samples atomic.Uint64
	dropped atomic.Uint64
	last    atomic.Pointer[fusion.RangingSample]
}

func NewPoller(buf FrameBuffer) *Poller {
	return &Poller{buf: buf}
}

// Poll returns the most recent valid sample, or false when fewer than
// FrameSize bytes are waiting or no valid frame was found.
func (p *Poller) Poll() (*fusion.RangingSample, bool) {
	n := p.buf.Buffered()
	if n < FrameSize {
		return nil, false
	}
	raw := p.buf.Take(n)
	if err := p.buf.ResetInput(); err != nil {
		opsf("reset input: %v", err)
	}

	s, ok := p.newest(raw)
	if !ok {
		p.dropped.Add(1)
		diagf("no valid frame in %d buffered bytes, dropped", n)
		return nil, false
	}
	p.samples.Add(1)
	p.last.Store(s)
	tracef("sample distance=%dcm strength=%d temp=%.1fC (%d bytes buffered)", s.DistanceCm, s.Strength, s.Temperature, n)
	return s, true
}

// newest walks raw from the oldest byte, stepping a whole frame after each
// accepted frame and a single byte otherwise, so a 0x59 inside a payload or
// checksum is never read as the start of a frame.
func (p *Poller) newest(raw []byte) (*fusion.RangingSample, bool) {
	var found *fusion.RangingSample
	aligned := false
	for i := 0; i+FrameSize <= len(raw); {
		frame := raw[i : i+FrameSize]
		if !HasHeader(frame) || !p.accept(frame, raw[i+FrameSize:], aligned) {
			i++
			aligned = false
			continue
		}
		s, err := DecodeFrame(frame)
		if err != nil {
			i++
			aligned = false
			continue
		}
		found = &s
		i += FrameSize
		aligned = true
	}
	return found, found != nil
}

func (p *Poller) accept(frame, rest []byte, aligned bool) bool {
	err := VerifyChecksum(frame)
	if err == nil {
		return true
	}
	if p.StrictChecksum {
		tracef("skip frame: %v", err)
		return false
	}
	return aligned || HasHeader(rest)
}

// Stats returns the number of decoded samples and dropped attempts.
func (p *Poller) Stats() (samples, dropped uint64) {
	return p.samples.Load(), p.dropped.Load()
}

// Last returns the most recently decoded sample, if any.
func (p *Poller) Last() *fusion.RangingSample {
	return p.last.Load()
}
