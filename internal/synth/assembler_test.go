package synth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/orpheuslabs/orpheusd/internal/codec"
	"github.com/orpheuslabs/orpheusd/internal/config"
	"github.com/orpheuslabs/orpheusd/internal/engine"
)

// fixedGenerator emits a predetermined token sequence.
type fixedGenerator struct {
	tokens []engine.Token
	err    error
}

func (g *fixedGenerator) Ready(ctx context.Context) error { return nil }

func (g *fixedGenerator) Generate(ctx context.Context, req engine.Request, consumer func(engine.Token) error) error {
	for _, tok := range g.tokens {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := consumer(tok); err != nil {
			return err
		}
	}
	return g.err
}

// recordingDecoder captures each window it is asked to decode.
type recordingDecoder struct {
	windows [][]engine.Token
	failAt  int // decode call index to fail on, -1 for never
	calls   int
}

func (d *recordingDecoder) Format() codec.Format {
	return codec.Format{SampleRate: 24000, Channels: 1, BitDepth: 16}
}

func (d *recordingDecoder) Ready(ctx context.Context) error { return nil }

func (d *recordingDecoder) DecodeWindow(ctx context.Context, window []engine.Token) ([]byte, error) {
	d.calls++
	if d.failAt >= 0 && d.calls > d.failAt {
		return nil, errors.New("boom")
	}
	copied := append([]engine.Token(nil), window...)
	d.windows = append(d.windows, copied)
	// Stamp the frame with the decode index so ordering is checkable.
	return []byte{byte(d.calls), 0}, nil
}

func synthCfg(tail string) config.SynthConfig {
	cfg := config.Default().Synth
	cfg.TailPolicy = tail
	return cfg
}

func seqTokens(n int) []engine.Token {
	tokens := make([]engine.Token, n)
	for i := range tokens {
		tokens[i] = engine.Token(i)
	}
	return tokens
}

func TestAssemblerWindowing(t *testing.T) {
	dec := &recordingDecoder{failAt: -1}
	// 42 tokens with window 28 stride 7: decodes at 28, 35, 42.
	gen := &fixedGenerator{tokens: seqTokens(42)}
	a := NewAssembler(gen, dec, synthCfg("drop"))

	frames, errs := a.Run(context.Background(), engine.Request{Text: "x"})
	var got []Frame
	for f := range frames {
		got = append(got, f)
	}
	if err, ok := <-errs; ok && err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	for i, f := range got {
		if f.Index != i {
			t.Fatalf("frame %d has index %d", i, f.Index)
		}
	}
	// Each window is the trailing 28 tokens at the decode point.
	if w := dec.windows[0]; w[0] != 0 || w[27] != 27 {
		t.Fatalf("unexpected first window: %v", w)
	}
	if w := dec.windows[2]; w[0] != 14 || w[27] != 41 {
		t.Fatalf("unexpected last window: %v", w)
	}
}

func TestAssemblerTailDrop(t *testing.T) {
	dec := &recordingDecoder{failAt: -1}
	// 31 tokens: one full decode at 28, 3 leftovers dropped.
	gen := &fixedGenerator{tokens: seqTokens(31)}
	a := NewAssembler(gen, dec, synthCfg("drop"))

	frames, errs := a.Run(context.Background(), engine.Request{Text: "x"})
	count := 0
	for range frames {
		count++
	}
	if err, ok := <-errs; ok && err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 frame, got %d", count)
	}
}

func TestAssemblerTailPad(t *testing.T) {
	dec := &recordingDecoder{failAt: -1}
	gen := &fixedGenerator{tokens: seqTokens(31)}
	a := NewAssembler(gen, dec, synthCfg("pad"))

	frames, errs := a.Run(context.Background(), engine.Request{Text: "x"})
	count := 0
	for range frames {
		count++
	}
	if err, ok := <-errs; ok && err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected padded tail frame, got %d frames", count)
	}
	tail := dec.windows[len(dec.windows)-1]
	if len(tail) != 28 {
		t.Fatalf("expected full padded window, got %d tokens", len(tail))
	}
	if tail[len(tail)-1] != 30 {
		t.Fatalf("expected pad token 30, got %d", tail[len(tail)-1])
	}
}

func TestAssemblerShortInputPad(t *testing.T) {
	dec := &recordingDecoder{failAt: -1}
	// Fewer tokens than one window: pad policy still yields one frame.
	gen := &fixedGenerator{tokens: seqTokens(10)}
	a := NewAssembler(gen, dec, synthCfg("pad"))

	frames, errs := a.Run(context.Background(), engine.Request{Text: "x"})
	count := 0
	for range frames {
		count++
	}
	if err, ok := <-errs; ok && err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 padded frame, got %d", count)
	}
}

func TestAssemblerDecodeFailure(t *testing.T) {
	dec := &recordingDecoder{failAt: 1}
	gen := &fixedGenerator{tokens: seqTokens(42)}
	a := NewAssembler(gen, dec, synthCfg("drop"))

	frames, errs := a.Run(context.Background(), engine.Request{Text: "x"})
	count := 0
	for range frames {
		count++
	}
	err, ok := <-errs
	if !ok || err == nil {
		t.Fatal("expected terminal error")
	}
	if !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the frame decoded before the failure, got %d", count)
	}
}

func TestAssemblerGeneratorFailure(t *testing.T) {
	dec := &recordingDecoder{failAt: -1}
	gen := &fixedGenerator{tokens: seqTokens(14), err: fmt.Errorf("connection refused")}
	a := NewAssembler(gen, dec, synthCfg("drop"))

	frames, errs := a.Run(context.Background(), engine.Request{Text: "x"})
	for range frames {
	}
	err, ok := <-errs
	if !ok || !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestAssemblerCancellation(t *testing.T) {
	dec := &recordingDecoder{failAt: -1}
	gen := &fixedGenerator{tokens: seqTokens(7000)}
	a := NewAssembler(gen, dec, synthCfg("drop"))

	ctx, cancel := context.WithCancel(context.Background())
	frames, errs := a.Run(ctx, engine.Request{Text: "x"})

	// Consume one frame, then walk away.
	<-frames
	cancel()

	done := make(chan struct{})
	go func() {
		for range frames {
		}
		<-errs
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not shut down after cancellation")
	}
}
