// Package config loads the platform configuration with the precedence
// defaults → YAML file → environment variables.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("voxlens.yaml").
//	    WithEnvPrefix("VOXLENS").
//	    Load()
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/voxlens/voxlens/internal/cache"
	"github.com/voxlens/voxlens/internal/perf"
	"github.com/voxlens/voxlens/internal/ratelimit"
	"github.com/voxlens/voxlens/internal/store"
	"github.com/voxlens/voxlens/llm"
	"github.com/voxlens/voxlens/orchestrator"
	"github.com/voxlens/voxlens/pipeline"
	"github.com/voxlens/voxlens/speech"
	"github.com/voxlens/voxlens/telephony"
	"github.com/voxlens/voxlens/webhook"
)

// Config is the complete platform configuration.
type Config struct {
	Server       ServerConfig        `yaml:"server"`
	Log          LogConfig           `yaml:"log"`
	Database     DatabaseConfig      `yaml:"database"`
	Cache        CacheConfig         `yaml:"cache"`
	Storage      StorageConfig       `yaml:"storage"`
	Providers    ProvidersConfig     `yaml:"providers"`
	RateLimit    ratelimit.Config    `yaml:"rate_limit"`
	Pipeline     pipeline.Config     `yaml:"pipeline"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Webhook      webhook.Config      `yaml:"webhook"`
	Perf         perf.Config         `yaml:"perf"`
	Telemetry    TelemetryConfig     `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`
	// MetricsPort serves Prometheus metrics on a separate listener so
	// scrapes bypass the API middleware chain.
	MetricsPort     int           `yaml:"metrics_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// APIKeys authorizes inbound requests. Empty disables auth (dev only).
	APIKeys []string `yaml:"api_keys"`
	// AllowedOrigins configures CORS. Empty allows none.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// RateLimitRPS/Burst bound per-client request throughput at the
	// middleware layer, independent of the domain rate limiter.
	RateLimitRPS   int `yaml:"rate_limit_rps"`
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format           string   `yaml:"format"`
	OutputPaths      []string `yaml:"output_paths"`
	EnableCaller     bool     `yaml:"enable_caller"`
	EnableStacktrace bool     `yaml:"enable_stacktrace"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	// Driver is postgres or sqlite.
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN returns the driver connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// StoreConfig returns the store-layer view of the database configuration.
func (d *DatabaseConfig) StoreConfig() store.Config {
	return store.Config{Driver: d.Driver, DSN: d.DSN()}
}

// CacheConfig selects and configures the cache backend.
type CacheConfig struct {
	// Backend is memory or redis.
	Backend string             `yaml:"backend"`
	Memory  cache.MemoryConfig `yaml:"memory"`
	Redis   cache.RedisConfig  `yaml:"redis"`
}

// StorageConfig configures the audio content store.
type StorageConfig struct {
	// Root is the filesystem directory audio blobs are written under.
	Root string `yaml:"root"`
}

// ProvidersConfig configures external speech, language-model, and
// telephony providers. A provider with an empty API key is not
// registered; registration order here is fallback priority.
type ProvidersConfig struct {
	Deepgram   speech.DeepgramConfig   `yaml:"deepgram"`
	Whisper    speech.WhisperConfig    `yaml:"whisper"`
	ElevenLabs speech.ElevenLabsConfig `yaml:"elevenlabs"`
	OpenAITTS  speech.OpenAITTSConfig  `yaml:"openai_tts"`
	OpenAI     llm.OpenAIConfig        `yaml:"openai"`
	Twilio     telephony.TwilioConfig  `yaml:"twilio"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unsupported cache backend %q", c.Cache.Backend))
	}
	if c.Orchestrator.MaxTurns <= 0 {
		errs = append(errs, "orchestrator max_turns must be positive")
	}
	if c.Orchestrator.ReplyTimeout <= 0 {
		errs = append(errs, "orchestrator reply_timeout must be positive")
	}
	if c.Webhook.MaxRetries < 0 {
		errs = append(errs, "webhook max_retries must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
