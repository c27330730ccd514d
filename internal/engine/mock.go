package engine

import (
	"context"
	"hash/fnv"
)

type mockGenerator struct {
	seed      int64
	maxTokens int
}

// NewMockGenerator returns a deterministic generator for tests and
// model-less deployments. Identical requests yield identical token
// sequences for a fixed seed.
func NewMockGenerator(seed int64, maxTokens int) Generator {
	return &mockGenerator{seed: seed, maxTokens: maxTokens}
}

func (g *mockGenerator) Ready(ctx context.Context) error { return nil }

func (g *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Token) error) error {
	state := requestSeed(g.seed, req)
	count := 7 * (4 + len(req.Text))
	if g.maxTokens > 0 && count > g.maxTokens {
		count = g.maxTokens
	}
	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		// xorshift64 keeps the stream cheap and reproducible.
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		if err := consumer(Token(state % 4096)); err != nil {
			return err
		}
	}
	return nil
}

func requestSeed(seed int64, req Request) uint64 {
	h := fnv.New64a()
	h.Write([]byte(req.Text))
	h.Write([]byte{0})
	h.Write([]byte(req.Voice))
	var params [3]byte
	params[0] = byte(req.Temperature * 100)
	params[1] = byte(req.TopP * 100)
	params[2] = byte(req.RepetitionPenalty * 100)
	h.Write(params[:])
	s := h.Sum64() ^ uint64(seed)
	if s == 0 {
		s = 1
	}
	return s
}
