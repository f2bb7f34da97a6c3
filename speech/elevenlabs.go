package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxlens/voxlens/internal/tlsutil"
	"github.com/voxlens/voxlens/types"
)

// ElevenLabsProvider performs TTS using the ElevenLabs API.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

// NewElevenLabsProvider creates an ElevenLabs TTS provider.
func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.Model == "" {
		cfg.Model = "eleven_multilingual_v2"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &ElevenLabsProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
	}
}

func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

func (p *ElevenLabsProvider) Supports(language string) bool {
	return supportsLanguage(p.cfg.Languages, language)
}

// Synthesize converts text to speech using ElevenLabs.
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, req *TTSRequest) (*TTSResponse, error) {
	if req.Text == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "text is required").WithProvider(p.Name())
	}

	voice := req.Voice
	if voice == "" {
		voice = p.cfg.VoiceID
	}
	if voice == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "voice id is required").WithProvider(p.Name())
	}
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	body := map[string]any{
		"text":     req.Text,
		"model_id": model,
	}
	if req.Speed > 0 {
		body["voice_settings"] = map[string]any{"speed": req.Speed}
	}
	payload, _ := json.Marshal(body)

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", strings.TrimRight(p.cfg.BaseURL, "/"), voice)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", p.cfg.APIKey)
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, mapTTSError(p.Name(), resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read elevenlabs audio: %w", err)
	}

	return &TTSResponse{
		Provider:  p.Name(),
		Model:     model,
		AudioData: audio,
		Format:    "mp3",
		CharCount: len(req.Text),
		CreatedAt: time.Now(),
	}, nil
}

// mapTTSError maps an HTTP failure from a TTS upstream into the platform
// error taxonomy.
func mapTTSError(provider string, status int, body string) *types.Error {
	msg := fmt.Sprintf("%s error: status=%d body=%s", provider, status, body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.ErrUnauthorized, msg).WithHTTPStatus(status).WithProvider(provider)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(status).WithProvider(provider)
	case status == http.StatusTooManyRequests || status >= 500:
		return types.NewError(types.ErrProviderUnavailable, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider(provider)
	default:
		return types.NewError(types.ErrUnknown, msg).WithHTTPStatus(status).WithProvider(provider)
	}
}
