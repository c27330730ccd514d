package synth

import (
	"context"
	"fmt"

	"github.com/orpheuslabs/orpheusd/internal/codec"
	"github.com/orpheuslabs/orpheusd/internal/config"
	"github.com/orpheuslabs/orpheusd/internal/engine"
)

// Frame is one decoded block of PCM, indexed in window order.
type Frame struct {
	Index int
	PCM   []byte
}

// Assembler runs the token-to-frame pipeline for one session: it pulls
// tokens from the generator, forms decode windows, and emits frames on a
// bounded channel as soon as each window decodes. Frames come out strictly
// in window order; decode is serialized per session, so a slow consumer
// backpressures the generator through the bounded queues rather than
// growing buffers.
type Assembler struct {
	gen    engine.Generator
	dec    codec.Decoder
	window int
	stride int
	tail   string
	depth  int
}

func NewAssembler(gen engine.Generator, dec codec.Decoder, cfg config.SynthConfig) *Assembler {
	return &Assembler{
		gen:    gen,
		dec:    dec,
		window: cfg.WindowTokens,
		stride: cfg.WindowStride,
		tail:   cfg.TailPolicy,
		depth:  cfg.QueueDepth,
	}
}

// Run starts the pipeline. The frame channel closes when generation and
// decoding finish; the error channel carries at most one terminal error.
// Frames already emitted before a failure are not retracted.
func (a *Assembler) Run(ctx context.Context, req engine.Request) (<-chan Frame, <-chan error) {
	frames := make(chan Frame, a.depth)
	errs := make(chan error, 1)
	tokens := make(chan engine.Token, a.depth*a.stride)
	genErr := make(chan error, 1)

	go func() {
		defer close(tokens)
		err := a.gen.Generate(ctx, req, func(tok engine.Token) error {
			select {
			case tokens <- tok:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		genErr <- err
	}()

	go func() {
		defer close(frames)
		defer close(errs)

		var buf []engine.Token
		index := 0
		for tok := range tokens {
			buf = append(buf, tok)
			if len(buf) < a.window || len(buf)%a.stride != 0 {
				continue
			}
			if err := a.decodeAndEmit(ctx, buf[len(buf)-a.window:], index, frames); err != nil {
				errs <- err
				// Unblock the generator so it can observe the abort.
				go func() {
					for range tokens {
					}
				}()
				return
			}
			index++
		}

		if err := <-genErr; err != nil {
			if ctx.Err() != nil {
				errs <- ctx.Err()
			} else {
				errs <- fmt.Errorf("%w: %v", ErrModelUnavailable, err)
			}
			return
		}

		if tail := a.tailWindow(buf); tail != nil {
			if err := a.decodeAndEmit(ctx, tail, index, frames); err != nil {
				errs <- err
			}
		}
	}()

	return frames, errs
}

func (a *Assembler) decodeAndEmit(ctx context.Context, window []engine.Token, index int, frames chan<- Frame) error {
	pcm, err := a.dec.DecodeWindow(ctx, window)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: window %d: %v", ErrDecodeFailure, index, err)
	}
	select {
	case frames <- Frame{Index: index, PCM: pcm}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tailWindow applies the end-of-stream policy to tokens that never filled a
// decode window. drop discards them; pad repeats the final token out to a
// full window.
func (a *Assembler) tailWindow(buf []engine.Token) []engine.Token {
	if len(buf) == 0 {
		return nil
	}
	pending := len(buf) % a.stride
	if len(buf) < a.window {
		pending = len(buf)
	}
	if pending == 0 {
		return nil
	}
	if a.tail != "pad" {
		return nil
	}
	tail := append([]engine.Token(nil), buf...)
	if len(tail) > a.window {
		tail = tail[len(tail)-a.window:]
	}
	last := tail[len(tail)-1]
	for len(tail) < a.window {
		tail = append(tail, last)
	}
	return tail
}
