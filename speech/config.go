package speech

import "time"

// DeepgramConfig configures the Deepgram STT provider.
type DeepgramConfig struct {
	APIKey    string        `json:"api_key" yaml:"api_key"`
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	Model     string        `json:"model,omitempty" yaml:"model,omitempty"` // nova-2
	Languages []string      `json:"languages,omitempty" yaml:"languages,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// WhisperConfig configures the OpenAI Whisper STT provider.
type WhisperConfig struct {
	APIKey    string        `json:"api_key" yaml:"api_key"`
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	Model     string        `json:"model,omitempty" yaml:"model,omitempty"` // whisper-1
	Languages []string      `json:"languages,omitempty" yaml:"languages,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ElevenLabsConfig configures the ElevenLabs TTS provider.
type ElevenLabsConfig struct {
	APIKey    string        `json:"api_key" yaml:"api_key"`
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	Model     string        `json:"model,omitempty" yaml:"model,omitempty"` // eleven_multilingual_v2
	VoiceID   string        `json:"voice_id,omitempty" yaml:"voice_id,omitempty"`
	Languages []string      `json:"languages,omitempty" yaml:"languages,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OpenAITTSConfig configures the OpenAI TTS provider.
type OpenAITTSConfig struct {
	APIKey    string        `json:"api_key" yaml:"api_key"`
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	Model     string        `json:"model,omitempty" yaml:"model,omitempty"` // tts-1, tts-1-hd
	Voice     string        `json:"voice,omitempty" yaml:"voice,omitempty"` // alloy, echo, nova, ...
	Languages []string      `json:"languages,omitempty" yaml:"languages,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultDeepgramConfig returns the default Deepgram configuration.
func DefaultDeepgramConfig() DeepgramConfig {
	return DeepgramConfig{
		BaseURL: "https://api.deepgram.com",
		Model:   "nova-2",
		Timeout: 120 * time.Second,
	}
}

// DefaultWhisperConfig returns the default Whisper configuration.
func DefaultWhisperConfig() WhisperConfig {
	return WhisperConfig{
		BaseURL: "https://api.openai.com",
		Model:   "whisper-1",
		Timeout: 120 * time.Second,
	}
}

// DefaultElevenLabsConfig returns the default ElevenLabs configuration.
func DefaultElevenLabsConfig() ElevenLabsConfig {
	return ElevenLabsConfig{
		BaseURL: "https://api.elevenlabs.io",
		Model:   "eleven_multilingual_v2",
		Timeout: 60 * time.Second,
	}
}

// DefaultOpenAITTSConfig returns the default OpenAI TTS configuration.
func DefaultOpenAITTSConfig() OpenAITTSConfig {
	return OpenAITTSConfig{
		BaseURL: "https://api.openai.com",
		Model:   "tts-1",
		Voice:   "alloy",
		Timeout: 60 * time.Second,
	}
}
