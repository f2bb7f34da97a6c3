package providers

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlens/voxlens/llm"
	"github.com/voxlens/voxlens/speech"
	"github.com/voxlens/voxlens/types"
)

type fakeSTT struct {
	name      string
	languages []string
	maxBytes  int64
	err       error
	calls     int
	lastModel string
}

func (f *fakeSTT) Transcribe(_ context.Context, req *speech.STTRequest) (*speech.STTResponse, error) {
	f.calls++
	f.lastModel = req.Model
	if req.Audio != nil {
		if _, err := io.ReadAll(req.Audio); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &speech.STTResponse{Provider: f.name, Text: "hello there"}, nil
}

func (f *fakeSTT) Supports(language string) bool {
	if len(f.languages) == 0 {
		return true
	}
	for _, l := range f.languages {
		if l == language || language == "" || language == speech.LanguageAuto {
			return true
		}
	}
	return false
}

func (f *fakeSTT) MaxAudioBytes() int64 { return f.maxBytes }
func (f *fakeSTT) Name() string         { return f.name }

type fakeLLM struct {
	name   string
	models []string
	err    error
}

func (f *fakeLLM) Completion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Provider: f.name, Content: "ok"}, nil
}

func (f *fakeLLM) Supports(model string) bool {
	if model == "" || len(f.models) == 0 {
		return true
	}
	for _, m := range f.models {
		if m == model {
			return true
		}
	}
	return false
}

func (f *fakeLLM) Name() string { return f.name }

func TestRegistrySelectionOrder(t *testing.T) {
	r := NewRegistry()
	r.RegisterSTT(&fakeSTT{name: "primary"})
	r.RegisterSTT(&fakeSTT{name: "secondary"})

	assert.Equal(t, []string{"primary", "secondary"}, r.STTProviderNames())
}

func TestRegistrySelectionFiltersByLanguage(t *testing.T) {
	r := NewRegistry()
	r.RegisterSTT(&fakeSTT{name: "english-only", languages: []string{"en"}})
	r.RegisterSTT(&fakeSTT{name: "multilingual"})

	selected := r.SelectSTT("pt")
	require.Len(t, selected, 1)
	assert.Equal(t, "multilingual", selected[0].Name())
}

func TestTranscribeFallbackOnSizeLimit(t *testing.T) {
	primary := &fakeSTT{
		name: "small",
		err:  types.NewError(types.ErrPayloadTooLarge, "audio exceeds limit").WithProvider("small"),
	}
	secondary := &fakeSTT{name: "big"}

	r := NewRegistry()
	r.RegisterSTT(primary)
	r.RegisterSTT(secondary)

	resp, err := r.Transcribe(context.Background(), []byte("audio-bytes"), &speech.STTRequest{Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "big", resp.Provider)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

type recordedRequest struct {
	capability string
	provider   string
	status     string
}

type fakeProviderMetrics struct {
	requests  []recordedRequest
	fallbacks []string
}

func (f *fakeProviderMetrics) RecordProviderRequest(capability, provider, status string, _ time.Duration) {
	f.requests = append(f.requests, recordedRequest{capability, provider, status})
}

func (f *fakeProviderMetrics) RecordProviderFallback(capability, fromProvider string) {
	f.fallbacks = append(f.fallbacks, capability+"/"+fromProvider)
}

func TestTranscribeRecordsAttemptMetrics(t *testing.T) {
	primary := &fakeSTT{
		name: "small",
		err:  types.NewError(types.ErrPayloadTooLarge, "audio exceeds limit").WithProvider("small"),
	}
	secondary := &fakeSTT{name: "big"}

	rec := &fakeProviderMetrics{}
	r := NewRegistry()
	r.SetCollector(rec)
	r.RegisterSTT(primary)
	r.RegisterSTT(secondary)

	_, err := r.Transcribe(context.Background(), []byte("audio-bytes"), &speech.STTRequest{Language: "en"})
	require.NoError(t, err)

	require.Len(t, rec.requests, 2)
	assert.Equal(t, recordedRequest{"speech-to-text", "small", "error"}, rec.requests[0])
	assert.Equal(t, recordedRequest{"speech-to-text", "big", "success"}, rec.requests[1])
	assert.Equal(t, []string{"speech-to-text/small"}, rec.fallbacks)
}

func TestCompleteRecordsAttemptMetrics(t *testing.T) {
	rec := &fakeProviderMetrics{}
	r := NewRegistry()
	r.SetCollector(rec)
	r.RegisterCompletion(&fakeLLM{name: "only"})

	_, err := r.Complete(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	require.Len(t, rec.requests, 1)
	assert.Equal(t, recordedRequest{"completion", "only", "success"}, rec.requests[0])
	assert.Empty(t, rec.fallbacks)
}

func TestTranscribeDropsModelHintOnFallback(t *testing.T) {
	primary := &fakeSTT{
		name: "a",
		err:  types.NewError(types.ErrProviderUnavailable, "down").WithProvider("a"),
	}
	secondary := &fakeSTT{name: "b"}

	r := NewRegistry()
	r.RegisterSTT(primary)
	r.RegisterSTT(secondary)

	_, err := r.Transcribe(context.Background(), []byte("x"), &speech.STTRequest{Model: "nova-2"})
	require.NoError(t, err)
	assert.Equal(t, "nova-2", primary.lastModel)
	assert.Equal(t, "", secondary.lastModel)
}

func TestTranscribeStopsOnUniversalFailure(t *testing.T) {
	primary := &fakeSTT{
		name: "a",
		err:  types.NewError(types.ErrValidation, "empty audio").WithProvider("a"),
	}
	secondary := &fakeSTT{name: "b"}

	r := NewRegistry()
	r.RegisterSTT(primary)
	r.RegisterSTT(secondary)

	_, err := r.Transcribe(context.Background(), []byte("x"), &speech.STTRequest{})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	assert.Equal(t, 0, secondary.calls)
}

func TestTranscribeAggregateErrorNamesAllProviders(t *testing.T) {
	r := NewRegistry()
	r.RegisterSTT(&fakeSTT{
		name: "deepgram",
		err:  types.NewError(types.ErrPayloadTooLarge, "too large").WithProvider("deepgram"),
	})
	r.RegisterSTT(&fakeSTT{
		name: "whisper",
		err:  types.NewError(types.ErrProviderUnavailable, "rate limited").WithProvider("whisper"),
	})

	_, err := r.Transcribe(context.Background(), []byte("x"), &speech.STTRequest{})
	require.Error(t, err)
	assert.Equal(t, types.ErrAllProvidersFailed, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "deepgram")
	assert.Contains(t, err.Error(), "too large")
	assert.Contains(t, err.Error(), "whisper")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestTranscribeNoCandidates(t *testing.T) {
	r := NewRegistry()
	r.RegisterSTT(&fakeSTT{name: "english-only", languages: []string{"en"}})

	_, err := r.Transcribe(context.Background(), []byte("x"), &speech.STTRequest{Language: "fr"})
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderUnavailable, types.GetErrorCode(err))
}

func TestCompleteFallback(t *testing.T) {
	r := NewRegistry()
	r.RegisterCompletion(&fakeLLM{
		name: "primary",
		err:  types.NewError(types.ErrProviderUnavailable, "overloaded").WithProvider("primary"),
	})
	r.RegisterCompletion(&fakeLLM{name: "backup"})

	resp, err := r.Complete(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "backup", resp.Provider)
}

func TestCompleteRetriesSelectionWithoutUnknownModel(t *testing.T) {
	r := NewRegistry()
	r.RegisterCompletion(&fakeLLM{name: "scoped", models: []string{"gpt-4o"}})

	resp, err := r.Complete(context.Background(), &llm.ChatRequest{
		Model:    "gemini-pro",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "scoped", resp.Provider)
}

func TestCallControlRequiresRegistration(t *testing.T) {
	r := NewRegistry()
	_, err := r.CallControl()
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderUnavailable, types.GetErrorCode(err))
}
