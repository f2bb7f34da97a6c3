package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxlens/voxlens/internal/tlsutil"
	"github.com/voxlens/voxlens/types"
)

// deepgramMaxAudioBytes is the documented 2GB request limit.
const deepgramMaxAudioBytes = 2 << 30

// DeepgramProvider performs STT using the Deepgram API.
type DeepgramProvider struct {
	cfg    DeepgramConfig
	client *http.Client
}

// NewDeepgramProvider creates a Deepgram STT provider.
func NewDeepgramProvider(cfg DeepgramConfig) *DeepgramProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepgram.com"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &DeepgramProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
	}
}

func (p *DeepgramProvider) Name() string { return "deepgram" }

func (p *DeepgramProvider) Supports(language string) bool {
	return supportsLanguage(p.cfg.Languages, language)
}

func (p *DeepgramProvider) MaxAudioBytes() int64 { return deepgramMaxAudioBytes }

type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word       string  `json:"word"`
					Start      float64 `json:"start"`
					End        float64 `json:"end"`
					Confidence float64 `json:"confidence"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe converts speech to text using Deepgram.
func (p *DeepgramProvider) Transcribe(ctx context.Context, req *STTRequest) (*STTResponse, error) {
	if req.Audio == nil && req.AudioURL == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "audio input or URL is required").WithProvider(p.Name())
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	params := url.Values{}
	params.Set("model", model)
	params.Set("smart_format", "true")
	params.Set("punctuate", "true")
	if req.Language != "" && req.Language != LanguageAuto {
		params.Set("language", req.Language)
	} else {
		params.Set("detect_language", "true")
	}
	if req.Diarization {
		params.Set("diarize", "true")
	}

	endpoint := fmt.Sprintf("%s/v1/listen?%s", strings.TrimRight(p.cfg.BaseURL, "/"), params.Encode())

	var httpReq *http.Request
	var err error

	if req.AudioURL != "" {
		payload, _ := json.Marshal(map[string]string{"url": req.AudioURL})
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
	} else {
		audioData, readErr := io.ReadAll(req.Audio)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read audio: %w", readErr)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audioData))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "audio/mpeg")
	}

	httpReq.Header.Set("Authorization", "Token "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepgram request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, mapSTTError(p.Name(), resp.StatusCode, string(errBody))
	}

	var dResp deepgramResponse
	if err := json.NewDecoder(resp.Body).Decode(&dResp); err != nil {
		return nil, fmt.Errorf("failed to decode deepgram response: %w", err)
	}

	result := &STTResponse{
		Provider:  p.Name(),
		Model:     model,
		Language:  req.Language,
		Duration:  time.Duration(dResp.Metadata.Duration * float64(time.Second)),
		CreatedAt: time.Now(),
	}

	if len(dResp.Results.Channels) > 0 && len(dResp.Results.Channels[0].Alternatives) > 0 {
		alt := dResp.Results.Channels[0].Alternatives[0]
		result.Text = alt.Transcript
		result.Confidence = alt.Confidence
		for _, w := range alt.Words {
			result.Words = append(result.Words, Word{
				Word:       w.Word,
				Start:      time.Duration(w.Start * float64(time.Second)),
				End:        time.Duration(w.End * float64(time.Second)),
				Confidence: w.Confidence,
			})
		}
	}

	return result, nil
}

// mapSTTError maps an HTTP failure from any STT upstream into the platform
// error taxonomy. Size and format failures are provider-specific, so the
// fallback chain advances past them.
func mapSTTError(provider string, status int, body string) *types.Error {
	msg := fmt.Sprintf("%s error: status=%d body=%s", provider, status, body)
	lower := strings.ToLower(body)

	switch {
	case status == http.StatusRequestEntityTooLarge || strings.Contains(lower, "too large") || strings.Contains(lower, "exceeds"):
		return types.NewError(types.ErrPayloadTooLarge, msg).WithHTTPStatus(status).WithProvider(provider)
	case status == http.StatusUnsupportedMediaType || strings.Contains(lower, "unsupported") || strings.Contains(lower, "corrupt"):
		return types.NewError(types.ErrUnsupportedFormat, msg).WithHTTPStatus(status).WithProvider(provider)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.ErrUnauthorized, msg).WithHTTPStatus(status).WithProvider(provider)
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrProviderUnavailable, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider(provider)
	case status >= 500:
		return types.NewError(types.ErrProviderUnavailable, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider(provider)
	default:
		return types.NewError(types.ErrTranscription, msg).WithHTTPStatus(status).WithProvider(provider)
	}
}
