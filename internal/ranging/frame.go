// Package ranging decodes frames from a TF-Luna single-point LiDAR and polls
// the most recent reading off a buffered serial stream.
package ranging

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/banshee-data/safepi/internal/fusion"
)

// FrameSize is the length of one TF-Luna data frame.
const FrameSize = 9

// FrameHeader is the two-byte preamble of every data frame.
const FrameHeader byte = 0x59

var (
	ErrShortFrame  = errors.New("ranging: short frame")
	ErrBadHeader   = errors.New("ranging: bad frame header")
	ErrBadChecksum = errors.New("ranging: checksum mismatch")
)

// Checksum is the low byte of the sum of the first eight frame bytes.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b[:FrameSize-1] {
		sum += v
	}
	return sum
}

// HasHeader reports whether b starts with 0x59 0x59.
func HasHeader(b []byte) bool {
	return len(b) >= 2 && b[0] == FrameHeader && b[1] == FrameHeader
}

// DecodeFrame parses one frame. The checksum byte is not verified; use
// VerifyChecksum when the stream is known to carry one.
//
//	byte 0-1  0x59 0x59
//	byte 2-3  distance, cm, little endian
//	byte 4-5  signal strength
//	byte 6-7  raw chip temperature, celsius = raw/8 - 256
//	byte 8    checksum
func DecodeFrame(b []byte) (fusion.RangingSample, error) {
	if len(b) < FrameSize {
		return fusion.RangingSample{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	if !HasHeader(b) {
		return fusion.RangingSample{}, fmt.Errorf("%w: % x", ErrBadHeader, b[:2])
	}
	raw := binary.LittleEndian.Uint16(b[6:8])
	return fusion.RangingSample{
		DistanceCm:  int(binary.LittleEndian.Uint16(b[2:4])),
		Strength:    int(binary.LittleEndian.Uint16(b[4:6])),
		Temperature: float64(raw)/8.0 - 256.0,
	}, nil
}

// VerifyChecksum checks byte 8 of a full frame.
func VerifyChecksum(b []byte) error {
	if len(b) < FrameSize {
		return fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	if got, want := b[FrameSize-1], Checksum(b); got != want {
		return fmt.Errorf("%w: got %#02x want %#02x", ErrBadChecksum, got, want)
	}
	return nil
}

// EncodeFrame builds a frame for s, checksum included. Temperatures are
// rounded down to the sensor's 1/8 degree resolution.
func EncodeFrame(s fusion.RangingSample) []byte {
	b := make([]byte, FrameSize)
	b[0], b[1] = FrameHeader, FrameHeader
	binary.LittleEndian.PutUint16(b[2:4], clampUint16(s.DistanceCm))
	binary.LittleEndian.PutUint16(b[4:6], clampUint16(s.Strength))
	binary.LittleEndian.PutUint16(b[6:8], clampUint16(int((s.Temperature+256)*8)))
	b[8] = Checksum(b)
	return b
}

func clampUint16(v int) uint16 {
	switch {
	case v < 0:
		return 0
	case v > 0xffff:
		return 0xffff
	}
	return uint16(v)
}
