// Package runtime assembles the daemon: telemetry, history, the optional
// bus, the synthesis pipeline, and the HTTP surface.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orpheuslabs/orpheusd/internal/bus"
	"github.com/orpheuslabs/orpheusd/internal/cluster"
	"github.com/orpheuslabs/orpheusd/internal/codec"
	"github.com/orpheuslabs/orpheusd/internal/config"
	"github.com/orpheuslabs/orpheusd/internal/engine"
	"github.com/orpheuslabs/orpheusd/internal/history"
	"github.com/orpheuslabs/orpheusd/internal/httpapi"
	"github.com/orpheuslabs/orpheusd/internal/natsserver"
	"github.com/orpheuslabs/orpheusd/internal/synth"
)

type Runtime struct {
	cfg     config.Config
	version string
	logger  *slog.Logger

	httpServer  *http.Server
	tracerClose func(context.Context) error
	embedded    *natsserver.EmbeddedServer
	busClient   *bus.Client
	registry    *cluster.Registry
	store       *history.Store
	svc         *synth.Service

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Start runs the daemon until ctx is cancelled, then shuts everything down
// in reverse start order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	store, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open session history: %w", err)
	}
	r.store = store

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx); err != nil {
			return err
		}
	}

	gen, err := r.buildGenerator()
	if err != nil {
		return fmt.Errorf("failed to build generator: %w", err)
	}
	dec, err := r.buildDecoder()
	if err != nil {
		return fmt.Errorf("failed to build decoder: %w", err)
	}

	svc, err := synth.NewService(r.cfg, gen, dec, store, r.busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build synthesis service: %w", err)
	}
	r.svc = svc

	if r.busClient != nil {
		registry, err := cluster.NewRegistry(ctx, r.cfg.Node, svc.Format().SampleRate, r.busClient, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start cluster registry: %w", err)
		}
		r.registry = registry
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("GET /v1/history", r.handleHistory)
	mux.HandleFunc("GET /v1/cluster/nodes", r.handleClusterNodes)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}
	httpapi.NewServer(r.cfg, svc, r.version, r.logger).Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("engine", r.cfg.Engine.Mode),
		slog.String("decoder", r.cfg.Decoder.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.registry != nil {
		r.registry.Close()
	}
	r.busClient.Close()
	r.embedded.Shutdown()
	if err := r.store.Close(); err != nil {
		r.logger.Error("history shutdown error", slog.String("error", err.Error()))
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embedded = embedded

	client, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.embedded.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = client
	return nil
}

func (r *Runtime) buildGenerator() (engine.Generator, error) {
	switch r.cfg.Engine.Mode {
	case "llamacpp":
		return engine.NewLlamaGenerator(r.cfg.Engine.Endpoint, r.cfg.Engine.Model), nil
	case "exec":
		return engine.NewExecGenerator(r.cfg.Engine.Command)
	default:
		return engine.NewMockGenerator(r.cfg.Engine.Seed, r.cfg.Engine.MaxTokens), nil
	}
}

func (r *Runtime) buildDecoder() (codec.Decoder, error) {
	switch r.cfg.Decoder.Mode {
	case "exec":
		return codec.NewExecDecoder(r.cfg.Decoder.Command, r.cfg.Synth.SampleRate, r.cfg.Synth.Channels)
	default:
		return codec.NewMockDecoder(r.cfg.Synth.SampleRate, r.cfg.Synth.Channels, r.cfg.Synth.FrameSamples), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, req *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	if err := r.svc.Ready(req.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("backends not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (r *Runtime) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit := 50
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	records, err := r.store.List(req.Context(), limit)
	if err != nil {
		http.Error(w, "failed to list history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"sessions": records})
}

func (r *Runtime) handleClusterNodes(w http.ResponseWriter, _ *http.Request) {
	var nodes []cluster.NodeInfo
	if r.registry != nil {
		nodes = r.registry.Nodes()
	}
	if nodes == nil {
		nodes = []cluster.NodeInfo{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"nodes": nodes})
}
