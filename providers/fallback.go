package providers

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/voxlens/voxlens/llm"
	"github.com/voxlens/voxlens/speech"
	"github.com/voxlens/voxlens/types"
)

// ProviderMetrics receives per-attempt outcomes from the fallback chains.
// *metrics.Collector satisfies it.
type ProviderMetrics interface {
	RecordProviderRequest(capability, provider, status string, duration time.Duration)
	RecordProviderFallback(capability, fromProvider string)
}

const (
	capabilitySTT        = "speech-to-text"
	capabilityTTS        = "text-to-speech"
	capabilityCompletion = "completion"
)

func (r *Registry) observeAttempt(capability, provider string, start time.Time, err error) {
	r.mu.RLock()
	m := r.collector
	r.mu.RUnlock()
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RecordProviderRequest(capability, provider, status, time.Since(start))
}

func (r *Registry) observeFallback(capability, provider string) {
	r.mu.RLock()
	m := r.collector
	r.mu.RUnlock()
	if m != nil {
		m.RecordProviderFallback(capability, provider)
	}
}

// Attempt records one failed provider try within a fallback chain.
type Attempt struct {
	Provider string
	Err      error
}

// shouldFallback reports whether a failure is specific to the provider
// that produced it. Size limits, format rejections, bad credentials, and
// transient unavailability justify trying the next candidate; anything
// else (bad input, cancellation) would fail everywhere.
func shouldFallback(err error) bool {
	switch types.GetErrorCode(err) {
	case types.ErrPayloadTooLarge,
		types.ErrUnsupportedFormat,
		types.ErrProviderUnavailable,
		types.ErrUnauthorized,
		types.ErrNotFound:
		return true
	}
	return false
}

func aggregateError(capability string, attempts []Attempt) *types.Error {
	if len(attempts) == 0 {
		return types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("no %s provider available for request", capability))
	}
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	return types.NewError(types.ErrAllProvidersFailed,
		fmt.Sprintf("all %s providers failed [%s]", capability, strings.Join(parts, "; ")))
}

// Transcribe runs speech-to-text across the fallback chain for the
// request's language. The audio bytes are re-wrapped in a fresh reader per
// attempt so a failed upload never poisons the next candidate. Model hints
// are provider-specific and are dropped on fallback attempts.
func (r *Registry) Transcribe(ctx context.Context, audio []byte, req *speech.STTRequest) (*speech.STTResponse, error) {
	candidates := r.SelectSTT(req.Language)

	var attempts []Attempt
	for i, p := range candidates {
		attempt := *req
		if len(audio) > 0 {
			attempt.Audio = bytes.NewReader(audio)
		}
		if i > 0 {
			attempt.Model = ""
		}

		start := time.Now()
		resp, err := p.Transcribe(ctx, &attempt)
		r.observeAttempt(capabilitySTT, p.Name(), start, err)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		attempts = append(attempts, Attempt{Provider: p.Name(), Err: err})
		if !shouldFallback(err) {
			return nil, err
		}
		r.observeFallback(capabilitySTT, p.Name())
	}
	return nil, aggregateError(capabilitySTT, attempts)
}

// Synthesize runs text-to-speech across the fallback chain for the
// request's language.
func (r *Registry) Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	candidates := r.SelectTTS(req.Language)

	var attempts []Attempt
	for _, p := range candidates {
		start := time.Now()
		resp, err := p.Synthesize(ctx, req)
		r.observeAttempt(capabilityTTS, p.Name(), start, err)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		attempts = append(attempts, Attempt{Provider: p.Name(), Err: err})
		if !shouldFallback(err) {
			return nil, err
		}
		r.observeFallback(capabilityTTS, p.Name())
	}
	return nil, aggregateError(capabilityTTS, attempts)
}

// Complete runs a chat completion across the fallback chain for the
// request's model hint. When a fallback provider does not recognize the
// hinted model, the hint is dropped so the provider uses its default.
func (r *Registry) Complete(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	candidates := r.SelectCompletion(req.Model)
	if len(candidates) == 0 && req.Model != "" {
		// No provider knows the hinted model; retry selection without it.
		candidates = r.SelectCompletion("")
	}

	var attempts []Attempt
	for _, p := range candidates {
		attempt := *req
		if attempt.Model != "" && !p.Supports(attempt.Model) {
			attempt.Model = ""
		}

		start := time.Now()
		resp, err := p.Completion(ctx, &attempt)
		r.observeAttempt(capabilityCompletion, p.Name(), start, err)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		attempts = append(attempts, Attempt{Provider: p.Name(), Err: err})
		if !shouldFallback(err) {
			return nil, err
		}
		r.observeFallback(capabilityCompletion, p.Name())
	}
	return nil, aggregateError(capabilityCompletion, attempts)
}
