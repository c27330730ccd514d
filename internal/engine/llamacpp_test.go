package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmitTokensAppliesCodebookOffset(t *testing.T) {
	var got []Token
	consumer := func(tok Token) error {
		got = append(got, tok)
		return nil
	}
	// Position 0 group: id = N - 10. Position 1: id = N - 10 - 4096.
	buf := "<custom_token_110><custom_token_4206>"
	consumed, pos, err := emitTokens(buf, 0, consumer)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if consumed != len(buf) {
		t.Fatalf("expected full consumption, got %d of %d", consumed, len(buf))
	}
	if pos != 2 {
		t.Fatalf("expected position 2, got %d", pos)
	}
	if len(got) != 2 || got[0] != 100 || got[1] != 100 {
		t.Fatalf("unexpected tokens: %v", got)
	}
}

func TestEmitTokensCarriesFragment(t *testing.T) {
	consumed, pos, err := emitTokens("noise<custom_tok", 0, func(Token) error { return nil })
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if pos != 0 {
		t.Fatalf("expected no tokens, position %d", pos)
	}
	if consumed != len("noise") {
		t.Fatalf("expected fragment retained, consumed %d", consumed)
	}
}

func TestEmitTokensSkipsNonPositiveIDs(t *testing.T) {
	var got []Token
	// 5 - 10 is negative; must be dropped without advancing the position.
	_, pos, err := emitTokens("<custom_token_5><custom_token_110>", 0, func(tok Token) error {
		got = append(got, tok)
		return nil
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if pos != 1 || len(got) != 1 || got[0] != 100 {
		t.Fatalf("unexpected result: pos=%d tokens=%v", pos, got)
	}
}

func TestLlamaGeneratorStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" {
			http.NotFound(w, r)
			return
		}
		flusher := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"text\":\"<custom_token_%d>\"}]}\n\n", 110+(i%7)*4096)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := NewLlamaGenerator(srv.URL, "orpheus-test")
	var got []Token
	err := g.Generate(context.Background(), Request{Text: "hi", Voice: "tara", MaxTokens: 100}, func(tok Token) error {
		got = append(got, tok)
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(got))
	}
	for i, tok := range got {
		if tok != 100 {
			t.Fatalf("token %d: expected 100, got %d", i, tok)
		}
	}
}
