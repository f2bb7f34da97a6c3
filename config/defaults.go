package config

import (
	"time"

	"github.com/voxlens/voxlens/internal/cache"
	"github.com/voxlens/voxlens/internal/perf"
	"github.com/voxlens/voxlens/internal/ratelimit"
	"github.com/voxlens/voxlens/llm"
	"github.com/voxlens/voxlens/orchestrator"
	"github.com/voxlens/voxlens/pipeline"
	"github.com/voxlens/voxlens/speech"
	"github.com/voxlens/voxlens/telephony"
	"github.com/voxlens/voxlens/webhook"
)

// DefaultConfig returns the complete default configuration. Every loader
// starts from it; YAML and environment values override field by field.
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Log:          DefaultLogConfig(),
		Database:     DefaultDatabaseConfig(),
		Cache:        DefaultCacheConfig(),
		Storage:      StorageConfig{Root: "data/audio"},
		Providers:    DefaultProvidersConfig(),
		RateLimit:    ratelimit.DefaultConfig(),
		Pipeline:     pipeline.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Webhook:      webhook.DefaultConfig(),
		Perf:         perf.DefaultConfig(),
		Telemetry: TelemetryConfig{
			ServiceName: "voxlens",
			SampleRate:  1.0,
		},
	}
}

// DefaultServerConfig returns the default HTTP server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9090,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultDatabaseConfig returns an in-memory SQLite configuration
// suitable for local development.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:  "sqlite",
		Name:    ":memory:",
		SSLMode: "disable",
	}
}

// DefaultCacheConfig returns the in-memory cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Backend: "memory",
		Memory:  cache.DefaultMemoryConfig(),
		Redis:   cache.DefaultRedisConfig(),
	}
}

// DefaultProvidersConfig returns provider defaults with empty
// credentials; providers without an API key are not registered.
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		Deepgram:   speech.DefaultDeepgramConfig(),
		Whisper:    speech.DefaultWhisperConfig(),
		ElevenLabs: speech.DefaultElevenLabsConfig(),
		OpenAITTS:  speech.DefaultOpenAITTSConfig(),
		OpenAI:     llm.DefaultOpenAIConfig(),
		Twilio:     telephony.DefaultTwilioConfig(),
	}
}
