// Package codec turns windows of audio tokens into PCM frames. The real
// decoder is a SNAC neural codec; this package treats it as a pluggable
// backend behind the Decoder interface.
package codec

import (
	"context"

	"github.com/orpheuslabs/orpheusd/internal/engine"
)

// Format describes the PCM a decoder produces.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// BytesPerFrame returns the byte size of one frame of n samples.
func (f Format) BytesPerFrame(samples int) int {
	return samples * f.Channels * f.BitDepth / 8
}

// Decoder consumes one fully populated token window and emits one frame of
// interleaved little-endian PCM. Implementations keep no per-session state;
// the caller owns windowing.
type Decoder interface {
	DecodeWindow(ctx context.Context, window []engine.Token) ([]byte, error)
	Format() Format
	Ready(ctx context.Context) error
}
