package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	promptStart = "<|audio|>"
	promptEnd   = "<|eot_id|>"

	// Orpheus emits SNAC codes as text tokens <custom_token_N>. The raw id
	// carries a 10-token offset plus a 4096-wide codebook shift per position
	// within each 7-token group.
	customTokenOffset = 10
	codebookSize      = 4096
	groupSize         = 7
)

var customTokenRE = regexp.MustCompile(`<custom_token_(\d+)>`)

type llamaGenerator struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewLlamaGenerator streams tokens from a llama.cpp (or LM Studio) server
// running an Orpheus GGUF model.
func NewLlamaGenerator(endpoint, model string) Generator {
	return &llamaGenerator{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{},
	}
}

func (g *llamaGenerator) Ready(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, g.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("model server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("model server returned status %s", resp.Status)
	}
	return nil
}

type completionRequest struct {
	Model         string   `json:"model,omitempty"`
	Prompt        string   `json:"prompt"`
	Stream        bool     `json:"stream"`
	MaxTokens     int      `json:"max_tokens"`
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	Stop          []string `json:"stop,omitempty"`
}

type completionChunk struct {
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (g *llamaGenerator) Generate(ctx context.Context, req Request, consumer func(Token) error) error {
	payload := completionRequest{
		Model:         g.model,
		Prompt:        formatPrompt(req.Voice, req.Text),
		Stream:        true,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		RepeatPenalty: req.RepetitionPenalty,
		Stop:          []string{promptEnd},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("model server returned status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var carry string
	position := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var chunk completionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("decode completion chunk: %w", err)
		}
		for _, choice := range chunk.Choices {
			carry += choice.Text
			var consumed int
			consumed, position, err = emitTokens(carry, position, consumer)
			if err != nil {
				return err
			}
			carry = carry[consumed:]
		}
	}
	return scanner.Err()
}

// emitTokens parses complete <custom_token_N> tags from buf, feeding each
// converted code to consumer. It returns how many bytes of buf were consumed
// so callers can carry tag fragments split across stream chunks.
func emitTokens(buf string, position int, consumer func(Token) error) (int, int, error) {
	consumed := 0
	for {
		idx := strings.Index(buf[consumed:], "<custom_token_")
		if idx < 0 {
			// Keep a trailing '<...' fragment, drop everything before it.
			if tail := strings.LastIndexByte(buf[consumed:], '<'); tail >= 0 {
				consumed += tail
			} else {
				consumed = len(buf)
			}
			return consumed, position, nil
		}
		start := consumed + idx
		end := strings.IndexByte(buf[start:], '>')
		if end < 0 {
			return start, position, nil
		}
		match := customTokenRE.FindStringSubmatch(buf[start : start+end+1])
		if match != nil {
			raw, err := strconv.Atoi(match[1])
			if err == nil {
				id := raw - customTokenOffset - (position%groupSize)*codebookSize
				if id > 0 {
					if err := consumer(Token(id)); err != nil {
						return start, position, err
					}
					position++
				}
			}
		}
		consumed = start + end + 1
	}
}

func formatPrompt(voice, text string) string {
	return promptStart + voice + ": " + text + promptEnd
}
