package engine

import (
	"context"
	"testing"
)

func collect(t *testing.T, g Generator, req Request) []Token {
	t.Helper()
	var tokens []Token
	if err := g.Generate(context.Background(), req, func(tok Token) error {
		tokens = append(tokens, tok)
		return nil
	}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	return tokens
}

func TestMockDeterministic(t *testing.T) {
	g := NewMockGenerator(42, 0)
	req := Request{Text: "Hello world", Voice: "tara", Temperature: 0.6, TopP: 0.9, RepetitionPenalty: 1.1}
	first := collect(t, g, req)
	second := collect(t, g, req)
	if len(first) == 0 {
		t.Fatal("expected tokens")
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("token %d differs: %d vs %d", i, first[i], second[i])
		}
	}
}

func TestMockVoiceChangesStream(t *testing.T) {
	g := NewMockGenerator(42, 0)
	a := collect(t, g, Request{Text: "Hello", Voice: "tara"})
	b := collect(t, g, Request{Text: "Hello", Voice: "leo"})
	same := len(a) == len(b)
	if same {
		for i := range a {
			if a[i] != b[i] {
				same = false
				break
			}
		}
	}
	if same {
		t.Fatal("expected different voices to produce different token streams")
	}
}

func TestMockRespectsMaxTokens(t *testing.T) {
	g := NewMockGenerator(42, 10)
	tokens := collect(t, g, Request{Text: "a long enough sentence", Voice: "tara"})
	if len(tokens) != 10 {
		t.Fatalf("expected 10 tokens, got %d", len(tokens))
	}
}

func TestMockStopsOnCancel(t *testing.T) {
	g := NewMockGenerator(42, 0)
	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	err := g.Generate(ctx, Request{Text: "Hello world", Voice: "tara"}, func(Token) error {
		count++
		if count == 5 {
			cancel()
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected context error")
	}
	if count > 6 {
		t.Fatalf("generation continued after cancel: %d tokens", count)
	}
}
