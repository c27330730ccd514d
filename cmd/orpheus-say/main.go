// orpheus-say is a small client for a running orpheusd: it synthesizes a
// phrase to a WAV file or lists the available voices.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type speechRequest struct {
	Input             string  `json:"input"`
	Voice             string  `json:"voice,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	TopP              float64 `json:"top_p,omitempty"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"error"`
}

type voiceListing struct {
	Voices []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Default     bool   `json:"default"`
	} `json:"voices"`
}

func main() {
	var (
		server     string
		text       string
		voice      string
		output     string
		temp       float64
		topP       float64
		repPenalty float64
		listVoices bool
		stream     bool
	)

	flag.StringVar(&server, "server", "http://localhost:5005", "orpheusd base URL")
	flag.StringVar(&text, "text", "", "Text to synthesize")
	flag.StringVar(&voice, "voice", "", "Voice to use (default is server-side)")
	flag.StringVar(&output, "output", "speech.wav", "Output WAV file")
	flag.Float64Var(&temp, "temperature", 0, "Sampling temperature (0 uses the server default)")
	flag.Float64Var(&topP, "top_p", 0, "Top-p sampling (0 uses the server default)")
	flag.Float64Var(&repPenalty, "repetition_penalty", 0, "Repetition penalty (0 uses the server default)")
	flag.BoolVar(&listVoices, "list-voices", false, "List available voices and exit")
	flag.BoolVar(&stream, "stream", false, "Use the streaming endpoint")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Minute}

	if listVoices {
		if err := printVoices(client, server); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if text == "" {
		fmt.Fprintln(os.Stderr, "error: -text is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := synthesize(client, server, output, stream, speechRequest{
		Input:             text,
		Voice:             voice,
		Temperature:       temp,
		TopP:              topP,
		RepetitionPenalty: repPenalty,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printVoices(client *http.Client, server string) error {
	resp, err := client.Get(server + "/v1/voices")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	var listing voiceListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return err
	}
	for _, v := range listing.Voices {
		marker := " "
		if v.Default {
			marker = "*"
		}
		fmt.Printf("%s %-6s %s\n", marker, v.ID, v.Description)
	}
	return nil
}

func synthesize(client *http.Client, server, output string, stream bool, req speechRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	path := "/v1/audio/speech"
	if stream {
		path = "/v1/audio/speech_stream"
	}
	resp, err := client.Post(server+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body apiError
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error.Message != "" {
			if body.Error.Field != "" {
				return fmt.Errorf("%s (%s): %s", body.Error.Code, body.Error.Field, body.Error.Message)
			}
			return fmt.Errorf("%s: %s", body.Error.Code, body.Error.Message)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes to %s\n", n, output)
	return nil
}
