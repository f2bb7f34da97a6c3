// Package speech provides unified speech-to-text and text-to-speech provider
// interfaces with per-provider capability predicates used by the fallback
// chain.
package speech

import (
	"context"
	"io"
	"time"
)

// LanguageAuto asks the provider to detect the spoken language.
const LanguageAuto = "auto"

// ============================================================
// Speech-to-text
// ============================================================

// STTRequest represents a transcription request.
type STTRequest struct {
	Audio    io.Reader `json:"-"`
	AudioURL string    `json:"audio_url,omitempty"`
	Model    string    `json:"model,omitempty"`
	// Language is an ISO-639-1 code, or LanguageAuto for detection.
	Language    string `json:"language,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	Diarization bool   `json:"diarization,omitempty"`
}

// Word is a transcribed word with timing.
type Word struct {
	Word       string        `json:"word"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float64       `json:"confidence,omitempty"`
}

// STTResponse represents the result of a transcription request.
type STTResponse struct {
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Text       string        `json:"text"`
	Language   string        `json:"language,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Words      []Word        `json:"words,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// STTProvider converts speech to text.
type STTProvider interface {
	Transcribe(ctx context.Context, req *STTRequest) (*STTResponse, error)

	// Supports reports whether the provider handles the given language hint.
	Supports(language string) bool

	// MaxAudioBytes returns the largest payload the provider accepts,
	// or 0 for no documented limit.
	MaxAudioBytes() int64

	Name() string
}

// ============================================================
// Text-to-speech
// ============================================================

// TTSRequest represents a synthesis request.
type TTSRequest struct {
	Text     string  `json:"text"`
	Model    string  `json:"model,omitempty"`
	Voice    string  `json:"voice,omitempty"`
	Language string  `json:"language,omitempty"`
	Speed    float64 `json:"speed,omitempty"`  // 0.25-4.0
	Format   string  `json:"format,omitempty"` // mp3, wav, pcm, opus
}

// TTSResponse represents synthesized audio.
type TTSResponse struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	AudioData []byte    `json:"-"`
	Format    string    `json:"format"`
	CharCount int       `json:"char_count,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TTSProvider converts text to speech.
type TTSProvider interface {
	Synthesize(ctx context.Context, req *TTSRequest) (*TTSResponse, error)

	// Supports reports whether the provider handles the given language hint.
	Supports(language string) bool

	Name() string
}

// supportsLanguage is the shared predicate: an empty allow list accepts any
// language, and every provider accepts the auto-detect hint.
func supportsLanguage(allowed []string, language string) bool {
	if language == "" || language == LanguageAuto || len(allowed) == 0 {
		return true
	}
	for _, l := range allowed {
		if l == language {
			return true
		}
	}
	return false
}
