package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EngineConfig struct {
	Mode      string `yaml:"mode"` // mock, llamacpp, exec
	Endpoint  string `yaml:"endpoint"`
	Command   string `yaml:"command"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	Seed      int64  `yaml:"seed"`
}

type DecoderConfig struct {
	Mode    string `yaml:"mode"` // mock, exec
	Command string `yaml:"command"`
}

type SynthConfig struct {
	SampleRate        int     `yaml:"sample_rate"`
	Channels          int     `yaml:"channels"`
	WindowTokens      int     `yaml:"window_tokens"`
	WindowStride      int     `yaml:"window_stride"`
	FrameSamples      int     `yaml:"frame_samples"`
	TailPolicy        string  `yaml:"tail_policy"` // drop, pad
	QueueDepth        int     `yaml:"queue_depth"`
	Temperature       float64 `yaml:"temperature"`
	TopP              float64 `yaml:"top_p"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`
}

type LimitsConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	QueueWaitMS   int `yaml:"queue_wait_ms"`
}

type CacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxEntries int  `yaml:"max_entries"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Node        NodeConfig      `yaml:"node"`
	Engine      EngineConfig    `yaml:"engine"`
	Decoder     DecoderConfig   `yaml:"decoder"`
	Synth       SynthConfig     `yaml:"synth"`
	Limits      LimitsConfig    `yaml:"limits"`
	Cache       CacheConfig     `yaml:"cache"`
	History     HistoryConfig   `yaml:"history"`
}

func Default() Config {
	return Config{
		RuntimeName: "orpheusd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 5005,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "orpheus-node-1",
			Role:              "tts",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Engine: EngineConfig{
			Mode:      "mock",
			Endpoint:  "http://localhost:1234",
			Model:     "orpheus-3b-0.1-ft-q4_k_m",
			MaxTokens: 1200,
			Seed:      42,
		},
		Decoder: DecoderConfig{
			Mode: "mock",
		},
		Synth: SynthConfig{
			SampleRate:        24000,
			Channels:          1,
			WindowTokens:      28,
			WindowStride:      7,
			FrameSamples:      2048,
			TailPolicy:        "drop",
			QueueDepth:        8,
			Temperature:       0.6,
			TopP:              0.9,
			RepetitionPenalty: 1.1,
		},
		Limits: LimitsConfig{
			MaxConcurrent: 2,
			QueueWaitMS:   500,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 64,
		},
		History: HistoryConfig{
			Path:          "./data/orpheus-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "ORPHEUS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "ORPHEUS_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "ORPHEUS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "ORPHEUS_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "ORPHEUS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ORPHEUS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ORPHEUS_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "ORPHEUS_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "ORPHEUS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "ORPHEUS_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "ORPHEUS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "ORPHEUS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "ORPHEUS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "ORPHEUS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "ORPHEUS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "ORPHEUS_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "ORPHEUS_NODE_ID")
	overrideString(&cfg.Node.Role, "ORPHEUS_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "ORPHEUS_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "ORPHEUS_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Engine.Mode, "ORPHEUS_ENGINE_MODE")
	overrideString(&cfg.Engine.Endpoint, "ORPHEUS_ENGINE_ENDPOINT")
	overrideString(&cfg.Engine.Command, "ORPHEUS_ENGINE_COMMAND")
	overrideString(&cfg.Engine.Model, "ORPHEUS_ENGINE_MODEL")
	overrideInt(&cfg.Engine.MaxTokens, "ORPHEUS_ENGINE_MAX_TOKENS")
	overrideInt64(&cfg.Engine.Seed, "ORPHEUS_ENGINE_SEED")
	overrideString(&cfg.Decoder.Mode, "ORPHEUS_DECODER_MODE")
	overrideString(&cfg.Decoder.Command, "ORPHEUS_DECODER_COMMAND")
	overrideInt(&cfg.Synth.SampleRate, "ORPHEUS_SYNTH_SAMPLE_RATE")
	overrideInt(&cfg.Synth.Channels, "ORPHEUS_SYNTH_CHANNELS")
	overrideInt(&cfg.Synth.WindowTokens, "ORPHEUS_SYNTH_WINDOW_TOKENS")
	overrideInt(&cfg.Synth.WindowStride, "ORPHEUS_SYNTH_WINDOW_STRIDE")
	overrideInt(&cfg.Synth.FrameSamples, "ORPHEUS_SYNTH_FRAME_SAMPLES")
	overrideString(&cfg.Synth.TailPolicy, "ORPHEUS_SYNTH_TAIL_POLICY")
	overrideInt(&cfg.Synth.QueueDepth, "ORPHEUS_SYNTH_QUEUE_DEPTH")
	overrideFloat(&cfg.Synth.Temperature, "ORPHEUS_SYNTH_TEMPERATURE")
	overrideFloat(&cfg.Synth.TopP, "ORPHEUS_SYNTH_TOP_P")
	overrideFloat(&cfg.Synth.RepetitionPenalty, "ORPHEUS_SYNTH_REPETITION_PENALTY")
	overrideInt(&cfg.Limits.MaxConcurrent, "ORPHEUS_LIMITS_MAX_CONCURRENT")
	overrideInt(&cfg.Limits.QueueWaitMS, "ORPHEUS_LIMITS_QUEUE_WAIT_MS")
	overrideBool(&cfg.Cache.Enabled, "ORPHEUS_CACHE_ENABLED")
	overrideInt(&cfg.Cache.MaxEntries, "ORPHEUS_CACHE_MAX_ENTRIES")
	overrideString(&cfg.History.Path, "ORPHEUS_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "ORPHEUS_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "ORPHEUS_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "ORPHEUS_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "ORPHEUS_HISTORY_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty when the bus is enabled")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	switch cfg.Engine.Mode {
	case "mock", "llamacpp", "exec":
	default:
		return errors.New("engine.mode must be one of mock|llamacpp|exec")
	}
	if cfg.Engine.Mode == "llamacpp" && cfg.Engine.Endpoint == "" {
		return errors.New("engine.endpoint must be set when mode=llamacpp")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.MaxTokens <= 0 {
		return errors.New("engine.max_tokens must be positive")
	}
	switch cfg.Decoder.Mode {
	case "mock", "exec":
	default:
		return errors.New("decoder.mode must be one of mock|exec")
	}
	if cfg.Decoder.Mode == "exec" && cfg.Decoder.Command == "" {
		return errors.New("decoder.command must be set when mode=exec")
	}
	if cfg.Synth.SampleRate <= 0 {
		return errors.New("synth.sample_rate must be positive")
	}
	if cfg.Synth.Channels <= 0 {
		return errors.New("synth.channels must be positive")
	}
	if cfg.Synth.WindowTokens <= 0 {
		return errors.New("synth.window_tokens must be positive")
	}
	if cfg.Synth.WindowStride <= 0 || cfg.Synth.WindowStride > cfg.Synth.WindowTokens {
		return errors.New("synth.window_stride must be between 1 and synth.window_tokens")
	}
	if cfg.Synth.WindowTokens%cfg.Synth.WindowStride != 0 {
		return errors.New("synth.window_tokens must be a multiple of synth.window_stride")
	}
	if cfg.Synth.FrameSamples <= 0 {
		return errors.New("synth.frame_samples must be positive")
	}
	switch cfg.Synth.TailPolicy {
	case "drop", "pad":
	default:
		return errors.New("synth.tail_policy must be one of drop|pad")
	}
	if cfg.Synth.QueueDepth <= 0 {
		return errors.New("synth.queue_depth must be positive")
	}
	if cfg.Limits.MaxConcurrent <= 0 {
		return errors.New("limits.max_concurrent must be >= 1")
	}
	if cfg.Limits.QueueWaitMS < 0 {
		return errors.New("limits.queue_wait_ms must be >= 0")
	}
	if cfg.Cache.Enabled && cfg.Cache.MaxEntries <= 0 {
		return errors.New("cache.max_entries must be positive when the cache is enabled")
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}
