package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voxlens/voxlens/internal/tlsutil"
	"github.com/voxlens/voxlens/types"
)

// whisperMaxAudioBytes is the documented 25MB upload limit.
const whisperMaxAudioBytes = 25 << 20

// WhisperProvider performs STT using the OpenAI Whisper API.
type WhisperProvider struct {
	cfg    WhisperConfig
	client *http.Client
}

// NewWhisperProvider creates an OpenAI Whisper STT provider.
func NewWhisperProvider(cfg WhisperConfig) *WhisperProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &WhisperProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
	}
}

func (p *WhisperProvider) Name() string { return "whisper" }

func (p *WhisperProvider) Supports(language string) bool {
	return supportsLanguage(p.cfg.Languages, language)
}

func (p *WhisperProvider) MaxAudioBytes() int64 { return whisperMaxAudioBytes }

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob,omitempty"`
	} `json:"segments,omitempty"`
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words,omitempty"`
}

// Transcribe converts speech to text using Whisper.
func (p *WhisperProvider) Transcribe(ctx context.Context, req *STTRequest) (*STTResponse, error) {
	if req.Audio == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "audio input is required").WithProvider(p.Name())
	}

	audioData, err := io.ReadAll(req.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if int64(len(audioData)) > whisperMaxAudioBytes {
		return nil, types.NewError(types.ErrPayloadTooLarge,
			fmt.Sprintf("audio payload %d bytes exceeds whisper limit", len(audioData))).
			WithProvider(p.Name())
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio.mp3")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, fmt.Errorf("failed to write audio: %w", err)
	}

	_ = writer.WriteField("model", model)
	if req.Language != "" && req.Language != LanguageAuto {
		_ = writer.WriteField("language", req.Language)
	}
	if req.Prompt != "" {
		_ = writer.WriteField("prompt", req.Prompt)
	}
	_ = writer.WriteField("response_format", "verbose_json")
	writer.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, mapSTTError(p.Name(), resp.StatusCode, string(errBody))
	}

	var wResp whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wResp); err != nil {
		return nil, fmt.Errorf("failed to decode whisper response: %w", err)
	}

	result := &STTResponse{
		Provider:   p.Name(),
		Model:      model,
		Text:       wResp.Text,
		Language:   wResp.Language,
		Duration:   time.Duration(wResp.Duration * float64(time.Second)),
		Confidence: whisperConfidence(wResp),
		CreatedAt:  time.Now(),
	}
	for _, w := range wResp.Words {
		result.Words = append(result.Words, Word{
			Word:  w.Word,
			Start: time.Duration(w.Start * float64(time.Second)),
			End:   time.Duration(w.End * float64(time.Second)),
		})
	}
	return result, nil
}

// whisperConfidence derives a confidence in [0,1] from segment log
// probabilities; Whisper reports no direct confidence.
func whisperConfidence(resp whisperResponse) float64 {
	if len(resp.Segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range resp.Segments {
		// avg_logprob near 0 is confident; -1 and below is not.
		conf := 1 + s.AvgLogprob
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		sum += conf
	}
	return sum / float64(len(resp.Segments))
}
