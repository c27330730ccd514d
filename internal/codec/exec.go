package codec

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/orpheuslabs/orpheusd/internal/engine"
)

type execDecoder struct {
	cmd    []string
	format Format
	mu     sync.Mutex
}

type execDecodeRequest struct {
	Tokens     []int32 `json:"tokens"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

type execDecodeResponse struct {
	PCMBase64 string `json:"pcm_base64"`
}

// NewExecDecoder shells out to an external SNAC decoder per window. One
// request JSON on stdin, one response line on stdout.
func NewExecDecoder(command string, sampleRate, channels int) (Decoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse decoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("decoder command empty")
	}
	return &execDecoder{
		cmd:    args,
		format: Format{SampleRate: sampleRate, Channels: channels, BitDepth: 16},
	}, nil
}

func (d *execDecoder) Format() Format { return d.format }

func (d *execDecoder) Ready(ctx context.Context) error { return nil }

func (d *execDecoder) DecodeWindow(ctx context.Context, window []engine.Token) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tokens := make([]int32, len(window))
	for i, tok := range window {
		tokens[i] = int32(tok)
	}
	payload := execDecodeRequest{
		Tokens:     tokens,
		SampleRate: d.format.SampleRate,
		Channels:   d.format.Channels,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	base := d.cmd[0]
	args := append([]string{}, d.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	if _, err := stdin.Write(data); err != nil {
		cmd.Wait()
		return nil, err
	}
	stdin.Close()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var pcm []byte
	if scanner.Scan() {
		var resp execDecodeResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			cmd.Wait()
			return nil, err
		}
		pcm, err = base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			cmd.Wait()
			return nil, err
		}
	}
	if err := cmd.Wait(); err != nil {
		return nil, err
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("decoder produced no PCM")
	}
	return pcm, nil
}
