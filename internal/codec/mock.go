package codec

import (
	"context"
	"encoding/binary"

	"github.com/orpheuslabs/orpheusd/internal/engine"
)

type mockDecoder struct {
	format       Format
	frameSamples int
}

// NewMockDecoder produces deterministic PCM derived from the window tokens.
// Output is silence-adjacent noise, good enough for pipeline and container
// tests without model weights.
func NewMockDecoder(sampleRate, channels, frameSamples int) Decoder {
	return &mockDecoder{
		format:       Format{SampleRate: sampleRate, Channels: channels, BitDepth: 16},
		frameSamples: frameSamples,
	}
}

func (d *mockDecoder) Format() Format { return d.format }

func (d *mockDecoder) Ready(ctx context.Context) error { return nil }

func (d *mockDecoder) DecodeWindow(ctx context.Context, window []engine.Token) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	total := d.frameSamples * d.format.Channels
	out := make([]byte, total*2)
	state := uint32(0x9e3779b9)
	for _, tok := range window {
		state = state*31 + uint32(tok)
	}
	for i := 0; i < total; i++ {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		sample := int16(state % 1024) // low amplitude
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out, nil
}
