package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execGenerator struct {
	cmd []string
	mu  sync.Mutex
}

type execGenRequest struct {
	Text              string  `json:"text"`
	Voice             string  `json:"voice"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	MaxTokens         int     `json:"max_tokens"`
}

type execGenResponse struct {
	Tokens []int32 `json:"tokens"`
	Final  bool    `json:"final"`
}

// NewExecGenerator runs an external command per request, writing the request
// as JSON to stdin and reading JSON lines of token batches from stdout.
func NewExecGenerator(command string) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (e *execGenerator) Ready(ctx context.Context) error { return nil }

func (e *execGenerator) Generate(ctx context.Context, req Request, consumer func(Token) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload := execGenRequest{
		Text:              req.Text,
		Voice:             req.Voice,
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		RepetitionPenalty: req.RepetitionPenalty,
		MaxTokens:         req.MaxTokens,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	if _, err := stdin.Write(data); err != nil {
		cmd.Wait()
		return err
	}
	stdin.Close()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execGenResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			cmd.Wait()
			return err
		}
		for _, tok := range resp.Tokens {
			if err := consumer(Token(tok)); err != nil {
				cmd.Wait()
				return err
			}
		}
		if resp.Final {
			break
		}
	}
	if err := cmd.Wait(); err != nil {
		return err
	}
	return scanner.Err()
}
