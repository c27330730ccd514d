package engine

import "context"

// Token is one audio code emitted by the acoustic language model.
// Values are SNAC codebook indices in [0, 4096).
type Token int32

// Request describes one generation call.
type Request struct {
	SessionID         string
	Text              string
	Voice             string
	Temperature       float64
	TopP              float64
	RepetitionPenalty float64
	MaxTokens         int
}

// Generator is the contract for producing audio tokens from text.
// Implementations stream tokens through consumer in generation order and
// return once the model signals end of sequence, the consumer returns an
// error, or ctx is cancelled.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Token) error) error
	Ready(ctx context.Context) error
}
