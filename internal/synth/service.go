package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/orpheuslabs/orpheusd/internal/codec"
	"github.com/orpheuslabs/orpheusd/internal/config"
	"github.com/orpheuslabs/orpheusd/internal/engine"
	"github.com/orpheuslabs/orpheusd/internal/history"
	"github.com/orpheuslabs/orpheusd/internal/protocol"
	"github.com/orpheuslabs/orpheusd/internal/voices"
	"github.com/orpheuslabs/orpheusd/internal/wav"
)

// Request is one synthesis call as seen by the API surface.
type Request struct {
	Text              string
	Voice             string
	Temperature       float64
	TopP              float64
	RepetitionPenalty float64
}

// Publisher pushes lifecycle events to the bus. Nil-safe at the call sites
// so the service runs without a bus attached.
type Publisher interface {
	PublishJSON(subject string, payload any) error
}

// Recorder persists finished sessions.
type Recorder interface {
	Record(ctx context.Context, rec history.Record) error
}

// Stream is one running session's output.
type Stream struct {
	Session *Session
	Frames  <-chan Frame
	Errs    <-chan error
}

// Service owns the synthesis pipeline: validation, the concurrency gate,
// per-session assemblers, the response cache, and session bookkeeping.
type Service struct {
	cfg       config.Config
	gen       engine.Generator
	dec       codec.Decoder
	assembler *Assembler
	gate      *Gate
	cache     *lru.Cache[string, []byte]
	recorder  Recorder
	events    Publisher
	logger    *slog.Logger

	meter        metric.Meter
	activeGauge  metric.Int64UpDownCounter
	framesTotal  metric.Int64Counter
	sessionTotal metric.Int64Counter
	busyTotal    metric.Int64Counter
}

func NewService(cfg config.Config, gen engine.Generator, dec codec.Decoder, recorder Recorder, events Publisher, log *slog.Logger) (*Service, error) {
	s := &Service{
		cfg:       cfg,
		gen:       gen,
		dec:       dec,
		assembler: NewAssembler(gen, dec, cfg.Synth),
		gate:      NewGate(cfg.Limits.MaxConcurrent, time.Duration(cfg.Limits.QueueWaitMS)*time.Millisecond),
		recorder:  recorder,
		events:    events,
		logger:    log.With(slog.String("component", "synth-service")),
		meter:     otel.Meter("github.com/orpheuslabs/orpheusd/synth"),
	}
	if cfg.Cache.Enabled {
		cache, err := lru.New[string, []byte](cfg.Cache.MaxEntries)
		if err != nil {
			return nil, fmt.Errorf("create response cache: %w", err)
		}
		s.cache = cache
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Service) initMetrics() error {
	var err error
	if s.activeGauge, err = s.meter.Int64UpDownCounter("orpheus.sessions.active",
		metric.WithDescription("Sessions currently synthesizing")); err != nil {
		return err
	}
	if s.framesTotal, err = s.meter.Int64Counter("orpheus.frames.total",
		metric.WithDescription("Decoded audio frames emitted")); err != nil {
		return err
	}
	if s.sessionTotal, err = s.meter.Int64Counter("orpheus.sessions.total",
		metric.WithDescription("Finished sessions by outcome")); err != nil {
		return err
	}
	if s.busyTotal, err = s.meter.Int64Counter("orpheus.sessions.rejected",
		metric.WithDescription("Sessions rejected by the concurrency gate")); err != nil {
		return err
	}
	return nil
}

// Format reports the PCM format of produced audio.
func (s *Service) Format() codec.Format { return s.dec.Format() }

// Ready reports whether the generation backends can take requests.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.gen.Ready(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if err := s.dec.Ready(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return nil
}

// WithDefaults fills unset fields from configuration.
func (s *Service) WithDefaults(req Request) Request {
	if req.Voice == "" {
		req.Voice = voices.Default
	}
	if req.Temperature == 0 {
		req.Temperature = s.cfg.Synth.Temperature
	}
	if req.TopP == 0 {
		req.TopP = s.cfg.Synth.TopP
	}
	if req.RepetitionPenalty == 0 {
		req.RepetitionPenalty = s.cfg.Synth.RepetitionPenalty
	}
	return req
}

// Validate rejects malformed requests before any generation starts.
func Validate(req Request) error {
	if req.Text == "" {
		return invalidParameter("input", "text input is required")
	}
	if !voices.Valid(req.Voice) {
		return invalidVoice(req.Voice)
	}
	if req.Temperature <= 0 || req.Temperature > 2 {
		return invalidParameter("temperature", "must be greater than 0 and at most 2")
	}
	if req.TopP <= 0 || req.TopP > 1 {
		return invalidParameter("top_p", "must be greater than 0 and at most 1")
	}
	if req.RepetitionPenalty < 1 || req.RepetitionPenalty > 2 {
		return invalidParameter("repetition_penalty", "must be between 1 and 2")
	}
	return nil
}

// Start validates the request, claims a gate slot, and launches the
// assembler pipeline. The returned stream's frame channel closes on
// completion; its error channel carries at most one terminal error.
func (s *Service) Start(ctx context.Context, req Request) (*Stream, error) {
	req = s.WithDefaults(req)
	if err := Validate(req); err != nil {
		return nil, err
	}
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	if err := s.gate.Acquire(ctx); err != nil {
		if errors.Is(err, ErrServerBusy) && s.busyTotal != nil {
			s.busyTotal.Add(ctx, 1)
		}
		return nil, err
	}

	sess := newSession(req)
	if s.activeGauge != nil {
		s.activeGauge.Add(ctx, 1)
	}
	s.logger.Info("session started",
		slog.String("session_id", sess.ID),
		slog.String("voice", req.Voice),
		slog.Int("chars", len(req.Text)))
	s.publishEvent(protocol.SubjectSessionStarted, sess)

	frames, errs := s.assembler.Run(ctx, engine.Request{
		SessionID:         sess.ID,
		Text:              req.Text,
		Voice:             req.Voice,
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		RepetitionPenalty: req.RepetitionPenalty,
		MaxTokens:         s.cfg.Engine.MaxTokens,
	})

	out := make(chan Frame, s.cfg.Synth.QueueDepth)
	outErrs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(outErrs)

		var terminal error
		for frame := range frames {
			sess.addFrame(len(frame.PCM))
			if s.framesTotal != nil {
				s.framesTotal.Add(context.Background(), 1)
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				terminal = ctx.Err()
			}
			if terminal != nil {
				break
			}
		}
		if terminal == nil {
			if err, ok := <-errs; ok && err != nil {
				terminal = err
			}
		}
		s.finish(ctx, sess, terminal)
		if terminal != nil {
			outErrs <- terminal
		}
	}()

	return &Stream{Session: sess, Frames: out, Errs: outErrs}, nil
}

func (s *Service) finish(ctx context.Context, sess *Session, terminal error) {
	s.gate.Release()
	if s.activeGauge != nil {
		s.activeGauge.Add(context.Background(), -1)
	}

	status := StatusCompleted
	switch {
	case terminal == nil:
	case errors.Is(terminal, context.Canceled), errors.Is(terminal, context.DeadlineExceeded):
		status = StatusCancelled
	default:
		status = StatusFailed
	}
	sess.finish(status, terminal)

	attrs := metric.WithAttributes(attribute.String("outcome", string(status)))
	if s.sessionTotal != nil {
		s.sessionTotal.Add(context.Background(), 1, attrs)
	}

	switch status {
	case StatusCompleted:
		s.logger.Info("session completed",
			slog.String("session_id", sess.ID),
			slog.Int("frames", sess.Frames()),
			slog.Int64("pcm_bytes", sess.PCMBytes()),
			slog.Duration("duration", sess.Duration()))
		s.publishEvent(protocol.SubjectSessionCompleted, sess)
	case StatusCancelled:
		s.logger.Info("session cancelled", slog.String("session_id", sess.ID))
		s.publishEvent(protocol.SubjectSessionFailed, sess)
	default:
		s.logger.Warn("session failed",
			slog.String("session_id", sess.ID),
			slog.String("error", terminal.Error()))
		s.publishEvent(protocol.SubjectSessionFailed, sess)
	}

	if s.recorder != nil {
		rec := history.Record{
			SessionID:  sess.ID,
			Voice:      sess.Request.Voice,
			TextChars:  len(sess.Request.Text),
			Frames:     sess.Frames(),
			PCMBytes:   sess.PCMBytes(),
			Status:     string(status),
			DurationMS: sess.Duration().Milliseconds(),
		}
		if terminal != nil {
			rec.Error = terminal.Error()
		}
		recCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.recorder.Record(recCtx, rec); err != nil {
			s.logger.Warn("failed to record session", slog.String("error", err.Error()))
		}
	}
}

func (s *Service) publishEvent(subject string, sess *Session) {
	if s.events == nil {
		return
	}
	evt := protocol.SessionEvent{
		SessionID:  sess.ID,
		Voice:      sess.Request.Voice,
		Status:     string(sess.Status()),
		Frames:     sess.Frames(),
		PCMBytes:   sess.PCMBytes(),
		DurationMS: sess.Duration().Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if err := sess.Err(); err != nil {
		evt.Error = err.Error()
	}
	if err := s.events.PublishJSON(subject, evt); err != nil {
		s.logger.Warn("failed to publish session event", slog.String("error", err.Error()))
	}
}

// Synthesize runs a complete non-streaming session and returns a finalized
// WAV body. Identical requests are served from the response cache when it
// is enabled.
func (s *Service) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	req = s.WithDefaults(req)
	if err := Validate(req); err != nil {
		return nil, err
	}

	key := cacheKey(req)
	if s.cache != nil {
		if body, ok := s.cache.Get(key); ok {
			s.logger.Debug("cache hit", slog.String("voice", req.Voice), slog.Int("chars", len(req.Text)))
			return body, nil
		}
	}

	stream, err := s.Start(ctx, req)
	if err != nil {
		return nil, err
	}

	var pcm []byte
	for frame := range stream.Frames {
		pcm = append(pcm, frame.PCM...)
	}
	if err, ok := <-stream.Errs; ok && err != nil {
		return nil, err
	}

	format := s.Format()
	body, err := wav.Encode(pcm, format.SampleRate, format.Channels, format.BitDepth)
	if err != nil {
		return nil, fmt.Errorf("encode container: %w", err)
	}
	if s.cache != nil {
		s.cache.Add(key, body)
	}
	return body, nil
}

func cacheKey(req Request) string {
	return fmt.Sprintf("%s|%s|%.3f|%.3f|%.3f", req.Voice, req.Text, req.Temperature, req.TopP, req.RepetitionPenalty)
}
