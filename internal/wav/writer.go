// Package wav wraps PCM frame streams in RIFF/WAVE containers. Streaming
// mode emits a header before any audio exists, using the unknown-length
// chunk size convention; file mode buffers everything and finalizes exact
// lengths through go-audio.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

const (
	headerLen = 44

	// Chunk size marker for streams of unknown total length. Players treat
	// the stream as unbounded and read until EOF.
	unknownSize = 0xFFFFFFFF
)

// StreamWriter writes a progressive WAV stream: one header up front, then
// raw PCM frames in arrival order. Safe for any io.Writer, no seeking.
type StreamWriter struct {
	w          io.Writer
	sampleRate int
	channels   int
	bitDepth   int
	header     bool
	written    int64
}

func NewStreamWriter(w io.Writer, sampleRate, channels, bitDepth int) *StreamWriter {
	return &StreamWriter{w: w, sampleRate: sampleRate, channels: channels, bitDepth: bitDepth}
}

// WriteHeader emits the streaming header. Called implicitly by the first
// WriteFrame; exposed so callers can push the header out before the first
// frame is decoded.
func (sw *StreamWriter) WriteHeader() error {
	if sw.header {
		return nil
	}
	hdr := make([]byte, headerLen)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], unknownSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(sw.channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sw.sampleRate))
	byteRate := sw.sampleRate * sw.channels * sw.bitDepth / 8
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	blockAlign := sw.channels * sw.bitDepth / 8
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(sw.bitDepth))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], unknownSize)
	if _, err := sw.w.Write(hdr); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	sw.header = true
	return nil
}

// WriteFrame appends one PCM frame after the header.
func (sw *StreamWriter) WriteFrame(pcm []byte) error {
	if !sw.header {
		if err := sw.WriteHeader(); err != nil {
			return err
		}
	}
	n, err := sw.w.Write(pcm)
	sw.written += int64(n)
	if err != nil {
		return fmt.Errorf("write wav frame: %w", err)
	}
	return nil
}

// BytesWritten reports PCM bytes written so far, header excluded.
func (sw *StreamWriter) BytesWritten() int64 { return sw.written }

// Encode produces a complete WAV file from fully buffered PCM, with exact
// chunk lengths in the header. Only 16-bit input is supported.
func Encode(pcm []byte, sampleRate, channels, bitDepth int) ([]byte, error) {
	if bitDepth != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("odd pcm length %d", len(pcm))
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}

	var out seekBuffer
	enc := gowav.NewEncoder(&out, sampleRate, bitDepth, channels, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return out.data, nil
}

// seekBuffer is the minimal in-memory io.WriteSeeker the go-audio encoder
// needs for header finalization; the standard library has no equivalent.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = b.pos + int(offset)
	case io.SeekEnd:
		next = len(b.data) + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position")
	}
	b.pos = next
	return int64(next), nil
}
