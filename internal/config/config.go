// Package config handles loading and validating the obivox configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the obivox daemon.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Transports TransportsConfig `mapstructure:"transports"`
	Codec      CodecConfig      `mapstructure:"codec"`
	Atlas      AtlasConfig      `mapstructure:"atlas"`
	Drift      DriftConfig      `mapstructure:"drift"`
	Variation  VariationConfig  `mapstructure:"variation"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Feedback   FeedbackConfig   `mapstructure:"feedback"`
	Media      MediaConfig      `mapstructure:"media"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the health and metrics server settings.
type ServerConfig struct {
	HealthPort  int    `mapstructure:"health_port"`
	Metrics     bool   `mapstructure:"metrics"` // serve /metrics on the health port
	ServiceName string `mapstructure:"service_name"`
}

// TransportsConfig holds the configuration for each transport layer.
type TransportsConfig struct {
	GRPC GRPCConfig `mapstructure:"grpc"`
	HTTP HTTPConfig `mapstructure:"http"`
}

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Enabled bool  `mapstructure:"enabled"`
	Port    int   `mapstructure:"port"`
	MaxBody int64 `mapstructure:"max_body"` // bytes
}

// CodecConfig configures the codec backends. Only enabled backends are
// registered; atlas entries name the backend that serves them.
type CodecConfig struct {
	Timeout time.Duration `mapstructure:"timeout"` // per backend call
	Whisper WhisperConfig `mapstructure:"whisper"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Piper   PiperConfig   `mapstructure:"piper"`
	Mock    MockConfig    `mapstructure:"mock"`
}

// WhisperConfig holds self-hosted Whisper settings.
type WhisperConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	Type      string `mapstructure:"type"` // "openai" (default) or "asr" (ahmetoner/whisper-asr-webservice)
	Model     string `mapstructure:"model"`
	VADFilter bool   `mapstructure:"vad_filter"`
	Language  string `mapstructure:"language"` // ISO-639-1 default language
}

// OpenAIConfig holds OpenAI transcription settings.
type OpenAIConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	APIKey             string `mapstructure:"api_key"`
	BaseURL            string `mapstructure:"base_url"`
	TranscriptionModel string `mapstructure:"transcription_model"`
}

// PiperConfig holds Piper TTS settings (Wyoming protocol).
//
// For a single Piper instance that serves all languages, set Endpoint.
// For per-language instances, set Endpoints which maps ISO-639-1 codes to
// individual Wyoming TCP endpoints; Endpoint is then the fallback.
type PiperConfig struct {
	Enabled   bool              `mapstructure:"enabled"`
	Endpoint  string            `mapstructure:"endpoint"`
	Endpoints map[string]string `mapstructure:"endpoints"`
	Voices    map[string]string `mapstructure:"voices"`
}

// MockConfig enables the in-process mock backends.
type MockConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Transcript string  `mapstructure:"transcript"`
	Confidence float64 `mapstructure:"confidence"`
}

// AtlasConfig configures the discovery index.
type AtlasConfig struct {
	Discipline      string        `mapstructure:"discipline"` // avl, red-black, hybrid
	SeedFile        string        `mapstructure:"seed_file"`
	HybridWindow    time.Duration `mapstructure:"hybrid_window"`
	HybridWriteRate float64       `mapstructure:"hybrid_write_rate"` // writes/s
	HybridInterval  time.Duration `mapstructure:"hybrid_interval"`
	CostSmoothing   float64       `mapstructure:"cost_smoothing"` // EWMA weight of the newest latency
}

// DriftConfig configures the drift-control loop.
type DriftConfig struct {
	CoherenceThreshold  float64 `mapstructure:"coherence_threshold"`
	StressedThreshold   float64 `mapstructure:"stressed_threshold"`
	MaxRecoveryAttempts int     `mapstructure:"max_recovery_attempts"`
	ShortfallGain       float64 `mapstructure:"shortfall_gain"`
	FaultTolerance      bool    `mapstructure:"fault_tolerance"`
}

// VariationConfig configures speech-variation handling and the default
// accessibility profile.
type VariationConfig struct {
	NormalizeAbove            float64 `mapstructure:"normalize_above"`
	PreservationFactor        float64 `mapstructure:"preservation_factor"`
	Tolerance                 float64 `mapstructure:"tolerance"`
	PhenomenologicalIntegrity float64 `mapstructure:"phenomenological_integrity"`
	AccentNormalization       bool    `mapstructure:"accent_normalization"`
}

// DispatchConfig configures request routing.
type DispatchConfig struct {
	STTKey       string  `mapstructure:"stt_key"` // service/operation for audio input
	TTSKey       string  `mapstructure:"tts_key"` // service/operation for text input
	ConfirmBelow float64 `mapstructure:"confirm_below"`
}

// ResilienceConfig tunes the per-backend circuit breakers.
type ResilienceConfig struct {
	MaxFailures  int           `mapstructure:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// FeedbackConfig configures the feedback store.
type FeedbackConfig struct {
	Path string `mapstructure:"path"` // SQLite file, or ":memory:"
}

// MediaConfig configures media conversion.
type MediaConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	FFmpeg     string `mapstructure:"ffmpeg"`
	SampleRate int    `mapstructure:"sample_rate"`
	Channels   int    `mapstructure:"channels"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./obivox.yaml, ./configs/obivox.yaml, /etc/obivox/obivox.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("obivox")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/obivox")
	}

	// Environment variables: OBIVOX_SERVER_HEALTH_PORT, OBIVOX_ATLAS_DISCIPLINE, etc.
	v.SetEnvPrefix("OBIVOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The config file is optional; env vars and defaults are sufficient.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${OPENAI_API_KEY}")
	cfg.Codec.OpenAI.APIKey = resolveEnvRef(cfg.Codec.OpenAI.APIKey)
	cfg.Feedback.Path = resolveEnvRef(cfg.Feedback.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("server.metrics", true)
	v.SetDefault("server.service_name", "obivox")
	v.SetDefault("transports.grpc.enabled", true)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8080)
	v.SetDefault("transports.http.max_body", 32<<20)
	v.SetDefault("codec.timeout", 30*time.Second)
	v.SetDefault("codec.whisper.enabled", true)
	v.SetDefault("codec.whisper.endpoint", "http://localhost:8000/v1/audio/transcriptions")
	v.SetDefault("codec.whisper.type", "openai")
	v.SetDefault("codec.whisper.model", "")
	v.SetDefault("codec.whisper.vad_filter", false)
	v.SetDefault("codec.whisper.language", "")
	v.SetDefault("codec.openai.enabled", false)
	v.SetDefault("codec.openai.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("codec.openai.base_url", "")
	v.SetDefault("codec.openai.transcription_model", "whisper-1")
	v.SetDefault("codec.piper.enabled", false)
	v.SetDefault("codec.piper.endpoint", "localhost:10200")
	v.SetDefault("codec.mock.enabled", false)
	v.SetDefault("codec.mock.transcript", "")
	v.SetDefault("codec.mock.confidence", 0.9)
	v.SetDefault("atlas.discipline", "hybrid")
	v.SetDefault("atlas.seed_file", "")
	v.SetDefault("atlas.hybrid_window", time.Minute)
	v.SetDefault("atlas.hybrid_write_rate", 1.0)
	v.SetDefault("atlas.hybrid_interval", 10*time.Second)
	v.SetDefault("atlas.cost_smoothing", 0.3)
	v.SetDefault("drift.coherence_threshold", 0.954)
	v.SetDefault("drift.stressed_threshold", 0.85)
	v.SetDefault("drift.max_recovery_attempts", 3)
	v.SetDefault("drift.shortfall_gain", 1.0)
	v.SetDefault("drift.fault_tolerance", true)
	v.SetDefault("variation.normalize_above", 0.5)
	v.SetDefault("variation.preservation_factor", 0.7)
	v.SetDefault("variation.tolerance", 0.7)
	v.SetDefault("variation.phenomenological_integrity", 0.95)
	v.SetDefault("variation.accent_normalization", true)
	v.SetDefault("dispatch.stt_key", "stt/transcribe")
	v.SetDefault("dispatch.tts_key", "tts/synthesize")
	v.SetDefault("dispatch.confirm_below", 0.85)
	v.SetDefault("resilience.max_failures", 5)
	v.SetDefault("resilience.reset_timeout", 30*time.Second)
	v.SetDefault("feedback.path", "obivox.db")
	v.SetDefault("media.enabled", true)
	v.SetDefault("media.ffmpeg", "ffmpeg")
	v.SetDefault("media.sample_rate", 16000)
	v.SetDefault("media.channels", 1)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Atlas.Discipline) {
	case "avl", "red-black", "redblack", "rb", "hybrid":
	default:
		return fmt.Errorf("atlas.discipline: unknown discipline %q", c.Atlas.Discipline)
	}
	if p := c.Variation.PreservationFactor; p < 0 || p > 1 {
		return fmt.Errorf("variation.preservation_factor must be in [0,1], got %v", p)
	}
	if a := c.Atlas.CostSmoothing; a <= 0 || a > 1 {
		return fmt.Errorf("atlas.cost_smoothing must be in (0,1], got %v", a)
	}
	for _, k := range []string{c.Dispatch.STTKey, c.Dispatch.TTSKey} {
		if _, _, ok := SplitKey(k); !ok {
			return fmt.Errorf("dispatch: key %q is not service/operation", k)
		}
	}
	return nil
}

// SplitKey splits "service/operation".
func SplitKey(k string) (service, operation string, ok bool) {
	service, operation, ok = strings.Cut(k, "/")
	return service, operation, ok && service != "" && operation != ""
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
