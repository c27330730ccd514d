package wav

import (
	"bytes"
	"encoding/binary"
	"testing"

	gowav "github.com/go-audio/wav"
)

func pcmRamp(n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(i%512)))
	}
	return out
}

func TestStreamHeaderFields(t *testing.T) {
	var buf bytes.Buffer
	sw := NewStreamWriter(&buf, 24000, 1, 16)
	if err := sw.WriteHeader(); err != nil {
		t.Fatalf("write header: %v", err)
	}
	hdr := buf.Bytes()
	if len(hdr) != headerLen {
		t.Fatalf("expected %d header bytes, got %d", headerLen, len(hdr))
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(hdr[4:8]); got != unknownSize {
		t.Fatalf("expected unknown RIFF size, got %#x", got)
	}
	if got := binary.LittleEndian.Uint32(hdr[24:28]); got != 24000 {
		t.Fatalf("expected sample rate 24000, got %d", got)
	}
	if got := binary.LittleEndian.Uint16(hdr[22:24]); got != 1 {
		t.Fatalf("expected mono, got %d channels", got)
	}
	if got := binary.LittleEndian.Uint16(hdr[34:36]); got != 16 {
		t.Fatalf("expected 16-bit, got %d", got)
	}
}

func TestStreamWriterHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	sw := NewStreamWriter(&buf, 24000, 1, 16)
	frame := pcmRamp(256)
	if err := sw.WriteFrame(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if err := sw.WriteFrame(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if got := buf.Len(); got != headerLen+2*len(frame) {
		t.Fatalf("expected %d bytes, got %d", headerLen+2*len(frame), got)
	}
	if sw.BytesWritten() != int64(2*len(frame)) {
		t.Fatalf("unexpected BytesWritten %d", sw.BytesWritten())
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	pcm := pcmRamp(2048)
	out, err := Encode(pcm, 24000, 1, 16)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec := gowav.NewDecoder(bytes.NewReader(out))
	dec.ReadInfo()
	if dec.SampleRate != 24000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Fatalf("unexpected format: %d Hz, %d ch, %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	pcmBuf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode pcm: %v", err)
	}
	if len(pcmBuf.Data) != 2048 {
		t.Fatalf("expected 2048 samples, got %d", len(pcmBuf.Data))
	}
	if got := int16(pcmBuf.Data[100]); got != int16(100%512) {
		t.Fatalf("sample mismatch: %d", got)
	}
}

func TestEncodeRejectsOddInput(t *testing.T) {
	if _, err := Encode([]byte{1, 2, 3}, 24000, 1, 16); err == nil {
		t.Fatal("expected error for odd pcm length")
	}
	if _, err := Encode(nil, 24000, 1, 24); err == nil {
		t.Fatal("expected error for unsupported bit depth")
	}
}
