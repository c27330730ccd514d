// Package httpapi exposes the OpenAI-compatible synthesis surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/orpheuslabs/orpheusd/internal/config"
	"github.com/orpheuslabs/orpheusd/internal/synth"
	"github.com/orpheuslabs/orpheusd/internal/voices"
	"github.com/orpheuslabs/orpheusd/internal/wav"
)

const maxBodyBytes = 1 << 20

// Server handles the /v1 API routes. Health and metrics endpoints are owned
// by the runtime, not the API surface.
type Server struct {
	cfg     config.Config
	svc     *synth.Service
	version string
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewServer(cfg config.Config, svc *synth.Service, version string, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		svc:     svc,
		version: version,
		logger:  logger.With(slog.String("component", "httpapi")),
		tracer:  otel.Tracer("github.com/orpheuslabs/orpheusd/httpapi"),
	}
}

// Register attaches the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/audio/speech", s.handleSpeech)
	mux.HandleFunc("POST /v1/audio/speech_stream", s.handleSpeechStream)
	mux.HandleFunc("GET /v1/voices", s.handleVoices)
	mux.HandleFunc("GET /v1/capabilities", s.handleCapabilities)
	mux.HandleFunc("GET /{$}", s.handleRoot)
}

func (s *Server) decodeSpeechRequest(w http.ResponseWriter, r *http.Request) (synth.Request, bool) {
	var body SpeechRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErrorBody(w, http.StatusBadRequest, errorBody{
			Code:    "invalid_request",
			Message: fmt.Sprintf("malformed request body: %v", err),
		})
		return synth.Request{}, false
	}
	if body.ResponseFormat != "" && body.ResponseFormat != "wav" {
		s.writeErrorBody(w, http.StatusUnprocessableEntity, errorBody{
			Code:    "invalid_parameter",
			Field:   "response_format",
			Message: fmt.Sprintf("format %q not supported, only wav", body.ResponseFormat),
		})
		return synth.Request{}, false
	}
	if body.Speed != 0 && (body.Speed < 0.25 || body.Speed > 4) {
		s.writeErrorBody(w, http.StatusUnprocessableEntity, errorBody{
			Code:    "invalid_parameter",
			Field:   "speed",
			Message: "must be between 0.25 and 4",
		})
		return synth.Request{}, false
	}
	return synth.Request{
		Text:              body.text(),
		Voice:             body.Voice,
		Temperature:       body.Temperature,
		TopP:              body.TopP,
		RepetitionPenalty: body.RepetitionPenalty,
	}, true
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "httpapi.speech")
	defer span.End()

	req, ok := s.decodeSpeechRequest(w, r)
	if !ok {
		return
	}
	span.SetAttributes(
		attribute.String("tts.voice", req.Voice),
		attribute.Int("tts.chars", len(req.Text)),
	)

	body, err := s.svc.Synthesize(ctx, req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="speech.wav"`)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("failed to write response body", slog.String("error", err.Error()))
	}
}

func (s *Server) handleSpeechStream(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "httpapi.speech_stream")
	defer span.End()

	req, ok := s.decodeSpeechRequest(w, r)
	if !ok {
		return
	}
	span.SetAttributes(
		attribute.String("tts.voice", req.Voice),
		attribute.Int("tts.chars", len(req.Text)),
	)

	stream, err := s.svc.Start(ctx, req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	flusher, canFlush := w.(http.Flusher)
	format := s.svc.Format()
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Session-ID", stream.Session.ID)
	w.WriteHeader(http.StatusOK)

	sw := wav.NewStreamWriter(w, format.SampleRate, format.Channels, format.BitDepth)
	if err := sw.WriteHeader(); err != nil {
		s.logger.Warn("client gone before header", slog.String("session_id", stream.Session.ID))
		s.drain(stream)
		return
	}
	if canFlush {
		flusher.Flush()
	}

	for frame := range stream.Frames {
		if err := sw.WriteFrame(frame.PCM); err != nil {
			s.logger.Info("client disconnected mid-stream",
				slog.String("session_id", stream.Session.ID),
				slog.Int("frames_sent", frame.Index))
			s.drain(stream)
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
	// A failure after the header leaves a truncated but header-valid stream.
	// The status line is long gone, so the error can only be logged.
	if err, ok := <-stream.Errs; ok && err != nil {
		s.logger.Warn("stream ended with error",
			slog.String("session_id", stream.Session.ID),
			slog.Int64("pcm_bytes", sw.BytesWritten()),
			slog.String("error", err.Error()))
	}
}

// drain consumes the remainder of an abandoned stream so the session can
// finish and release its gate slot.
func (s *Server) drain(stream *synth.Stream) {
	go func() {
		for range stream.Frames {
		}
		<-stream.Errs
	}()
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	resp := voicesResponse{}
	for _, id := range voices.All {
		resp.Voices = append(resp.Voices, voiceInfo{
			ID:          id,
			Name:        voices.DisplayName(id),
			Description: voices.Description(id),
			Default:     id == voices.Default,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	format := s.svc.Format()
	s.writeJSON(w, http.StatusOK, capabilitiesResponse{
		Model:           s.cfg.Engine.Model,
		Voices:          voices.All,
		EmotionTags:     voices.EmotionTags,
		SampleRate:      format.SampleRate,
		Channels:        format.Channels,
		BitDepth:        format.BitDepth,
		ResponseFormats: []string{"wav"},
		MaxConcurrent:   s.cfg.Limits.MaxConcurrent,
		Defaults: capabilityDefault{
			Voice:             voices.Default,
			Temperature:       s.cfg.Synth.Temperature,
			TopP:              s.cfg.Synth.TopP,
			RepetitionPenalty: s.cfg.Synth.RepetitionPenalty,
		},
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, rootResponse{
		Service: s.cfg.RuntimeName,
		Version: s.version,
		Endpoints: []string{
			"POST /v1/audio/speech",
			"POST /v1/audio/speech_stream",
			"GET /v1/voices",
			"GET /v1/capabilities",
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *synth.ValidationError
	if errors.As(err, &verr) {
		code := "invalid_parameter"
		if errors.Is(err, synth.ErrInvalidVoice) {
			code = "invalid_voice"
		}
		s.writeErrorBody(w, http.StatusUnprocessableEntity, errorBody{
			Code:    code,
			Field:   verr.Field,
			Message: verr.Message,
		})
		return
	}
	switch {
	case errors.Is(err, synth.ErrServerBusy):
		s.writeErrorBody(w, http.StatusServiceUnavailable, errorBody{
			Code:    "server_busy",
			Message: "all synthesis slots are in use, retry shortly",
		})
	case errors.Is(err, synth.ErrModelUnavailable):
		s.writeErrorBody(w, http.StatusServiceUnavailable, errorBody{
			Code:    "model_unavailable",
			Message: err.Error(),
		})
	case errors.Is(err, synth.ErrDecodeFailure):
		s.writeErrorBody(w, http.StatusInternalServerError, errorBody{
			Code:    "decode_failure",
			Message: err.Error(),
		})
	default:
		s.logger.Error("request failed", slog.String("error", err.Error()))
		s.writeErrorBody(w, http.StatusInternalServerError, errorBody{
			Code:    "internal_error",
			Message: "synthesis failed",
		})
	}
}

func (s *Server) writeErrorBody(w http.ResponseWriter, status int, body errorBody) {
	s.writeJSON(w, status, errorResponse{Error: body})
}
