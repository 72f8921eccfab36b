// Package control implements the pointer frame carried on the cursor
// data channel.
//
// A frame is exactly FrameSize bytes: the pointer position as two
// big-endian IEEE-754 float32 values, each a fraction of the screen width
// and height. There is no sequence number or timestamp; the data channel
// is message-delimited and a newer frame always supersedes an older one.
package control

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// FrameSize is the encoded length of a pointer frame
const FrameSize = 8

// ErrMalformedFrame is returned by Decode for input that is not a frame
var ErrMalformedFrame = errors.New("malformed pointer frame")

// Encode packs a pointer position into a frame.
// Values are not clamped; positions outside [0,1] are legal while the
// screen geometry is changing.
func Encode(fracX, fracY float32) []byte {
	buf := make([]byte, FrameSize)
	binary.BigEndian.PutUint32(buf[0:4], math.Float32bits(fracX))
	binary.BigEndian.PutUint32(buf[4:8], math.Float32bits(fracY))
	return buf
}

// Decode unpacks a frame produced by Encode
func Decode(b []byte) (fracX, fracY float32, err error) {
	if len(b) != FrameSize {
		return 0, 0, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedFrame, len(b), FrameSize)
	}
	fracX = math.Float32frombits(binary.BigEndian.Uint32(b[0:4]))
	fracY = math.Float32frombits(binary.BigEndian.Uint32(b[4:8]))
	return fracX, fracY, nil
}

// Normalize converts an absolute pixel position to screen fractions.
// An axis with a non-positive dimension maps to 0.
func Normalize(x, y, width, height int) (float32, float32) {
	var fx, fy float32
	if width > 0 {
		fx = float32(x) / float32(width)
	}
	if height > 0 {
		fy = float32(y) / float32(height)
	}
	return fx, fy
}
