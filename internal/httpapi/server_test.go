package httpapi

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/orpheuslabs/orpheusd/internal/codec"
	"github.com/orpheuslabs/orpheusd/internal/config"
	"github.com/orpheuslabs/orpheusd/internal/engine"
	"github.com/orpheuslabs/orpheusd/internal/history"
	"github.com/orpheuslabs/orpheusd/internal/synth"
)

type nopRecorder struct{}

func (nopRecorder) Record(ctx context.Context, rec history.Record) error { return nil }

func newTestServer(t *testing.T, mutate func(*config.Config)) (*httptest.Server, config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Cache.Enabled = false
	if mutate != nil {
		mutate(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	gen := engine.NewMockGenerator(cfg.Engine.Seed, cfg.Engine.MaxTokens)
	dec := codec.NewMockDecoder(cfg.Synth.SampleRate, cfg.Synth.Channels, cfg.Synth.FrameSamples)
	svc, err := synth.NewService(cfg, gen, dec, nopRecorder{}, nil, logger)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	mux := http.NewServeMux()
	NewServer(cfg, svc, "test", logger).Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, cfg
}

func postSpeech(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestSpeechReturnsWAV(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := postSpeech(t, ts, "/v1/audio/speech", SpeechRequest{Input: "Hello there"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("content type %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Fatalf("content disposition %q", cd)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) < 44 || string(body[0:4]) != "RIFF" || string(body[8:12]) != "WAVE" {
		t.Fatal("response is not a WAV container")
	}
}

func TestSpeechAcceptsTextAlias(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := postSpeech(t, ts, "/v1/audio/speech", SpeechRequest{Text: "alias field"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestSpeechRejectsUnknownVoice(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := postSpeech(t, ts, "/v1/audio/speech", SpeechRequest{Input: "hi", Voice: "martian"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want 422", resp.StatusCode)
	}
	errBody := decodeError(t, resp)
	if errBody.Code != "invalid_voice" || errBody.Field != "voice" {
		t.Fatalf("unexpected error body: %+v", errBody)
	}
	if !strings.Contains(errBody.Message, "martian") {
		t.Fatalf("message should name the voice: %q", errBody.Message)
	}
}

func TestSpeechRejectsBadParameters(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	cases := []struct {
		name  string
		req   SpeechRequest
		field string
	}{
		{"missing input", SpeechRequest{}, "input"},
		{"bad temperature", SpeechRequest{Input: "x", Temperature: 3}, "temperature"},
		{"bad top_p", SpeechRequest{Input: "x", TopP: 2}, "top_p"},
		{"bad format", SpeechRequest{Input: "x", ResponseFormat: "mp3"}, "response_format"},
		{"bad speed", SpeechRequest{Input: "x", Speed: 10}, "speed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postSpeech(t, ts, "/v1/audio/speech", tc.req)
			if resp.StatusCode != http.StatusUnprocessableEntity {
				t.Fatalf("status %d, want 422", resp.StatusCode)
			}
			if errBody := decodeError(t, resp); errBody.Field != tc.field {
				t.Fatalf("field %q, want %q", errBody.Field, tc.field)
			}
		})
	}
}

func TestSpeechStreamProducesAlignedPCM(t *testing.T) {
	ts, cfg := newTestServer(t, nil)
	resp := postSpeech(t, ts, "/v1/audio/speech_stream", SpeechRequest{Input: "Hello there"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Session-ID") == "" {
		t.Fatal("missing session id header")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) < 44 {
		t.Fatalf("short stream: %d bytes", len(body))
	}
	if string(body[0:4]) != "RIFF" || string(body[8:12]) != "WAVE" {
		t.Fatal("stream is not a WAV container")
	}
	if size := binary.LittleEndian.Uint32(body[4:8]); size != 0xFFFFFFFF {
		t.Fatalf("riff size %#x, want unknown-length marker", size)
	}
	if rate := binary.LittleEndian.Uint32(body[24:28]); rate != uint32(cfg.Synth.SampleRate) {
		t.Fatalf("sample rate %d", rate)
	}
	frameBytes := cfg.Synth.FrameSamples * cfg.Synth.Channels * 2
	pcm := body[44:]
	if len(pcm) == 0 || len(pcm)%frameBytes != 0 {
		t.Fatalf("pcm length %d not a multiple of frame size %d", len(pcm), frameBytes)
	}
}

func TestSpeechStreamMatchesBufferedAudio(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	req := SpeechRequest{Input: "Same audio both ways", Voice: "leo"}

	streamed := postSpeech(t, ts, "/v1/audio/speech_stream", req)
	streamBody, err := io.ReadAll(streamed.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	buffered := postSpeech(t, ts, "/v1/audio/speech", req)
	fileBody, err := io.ReadAll(buffered.Body)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}

	// Both bodies carry the same PCM; only the container headers differ.
	streamPCM := streamBody[44:]
	idx := bytes.Index(fileBody, []byte("data"))
	if idx < 0 {
		t.Fatal("no data chunk in buffered response")
	}
	filePCM := fileBody[idx+8:]
	if !bytes.Equal(streamPCM, filePCM) {
		t.Fatalf("stream and buffered PCM differ: %d vs %d bytes", len(streamPCM), len(filePCM))
	}
}

func TestSpeechBusyReturns503(t *testing.T) {
	ts, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Limits.MaxConcurrent = 1
		cfg.Limits.QueueWaitMS = 10
		cfg.Engine.MaxTokens = 1 << 20
	})

	first, err := http.Post(ts.URL+"/v1/audio/speech_stream", "application/json",
		strings.NewReader(`{"input":"`+strings.Repeat("a", 4096)+`"}`))
	if err != nil {
		t.Fatalf("start long stream: %v", err)
	}
	defer first.Body.Close()
	// Read just the header so the session is live but unfinished.
	header := make([]byte, 44)
	if _, err := io.ReadFull(first.Body, header); err != nil {
		t.Fatalf("read stream header: %v", err)
	}

	resp := postSpeech(t, ts, "/v1/audio/speech", SpeechRequest{Input: "hi"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", resp.StatusCode)
	}
	if errBody := decodeError(t, resp); errBody.Code != "server_busy" {
		t.Fatalf("code %q, want server_busy", errBody.Code)
	}
}

func TestVoicesListing(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/v1/voices")
	if err != nil {
		t.Fatalf("get voices: %v", err)
	}
	defer resp.Body.Close()
	var body voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Voices) != 8 {
		t.Fatalf("expected 8 voices, got %d", len(body.Voices))
	}
	if body.Voices[0].ID != "tara" || !body.Voices[0].Default {
		t.Fatalf("expected tara as default first voice, got %+v", body.Voices[0])
	}
}

func TestCapabilities(t *testing.T) {
	ts, cfg := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/v1/capabilities")
	if err != nil {
		t.Fatalf("get capabilities: %v", err)
	}
	defer resp.Body.Close()
	var body capabilitiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SampleRate != cfg.Synth.SampleRate || body.Channels != cfg.Synth.Channels {
		t.Fatalf("unexpected format: %+v", body)
	}
	if len(body.EmotionTags) == 0 {
		t.Fatal("expected emotion tags")
	}
	if body.Defaults.Voice != "tara" {
		t.Fatalf("default voice %q", body.Defaults.Voice)
	}
}

func TestRootEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	var body rootResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Service == "" || len(body.Endpoints) == 0 {
		t.Fatalf("unexpected root payload: %+v", body)
	}
}
