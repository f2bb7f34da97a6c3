// Package providers holds the runtime-registered provider sets for each
// external capability and runs operations against them with ordered
// fallback.
//
// Providers are registered at startup in priority order. Selection filters
// the ordered set through each provider's supports predicate; execution
// walks the selection and advances past provider-specific failures (size
// limits, unsupported formats, transient unavailability) until a provider
// succeeds or the set is exhausted.
package providers

import (
	"sync"

	"github.com/voxlens/voxlens/llm"
	"github.com/voxlens/voxlens/speech"
	"github.com/voxlens/voxlens/telephony"
	"github.com/voxlens/voxlens/types"
)

// Registry is a thread-safe collection of providers grouped by capability.
// Registration order is priority order: the first registered provider that
// supports a request is the primary, the rest are fallbacks.
type Registry struct {
	mu          sync.RWMutex
	stt         []speech.STTProvider
	tts         []speech.TTSProvider
	completion  []llm.Provider
	callControl []telephony.Provider
	collector   ProviderMetrics
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetCollector wires per-attempt outcome metrics into the fallback
// chains. Set it at startup, before the registry serves requests.
func (r *Registry) SetCollector(m ProviderMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collector = m
}

// RegisterSTT appends a speech-to-text provider to the fallback chain.
func (r *Registry) RegisterSTT(p speech.STTProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt = append(r.stt, p)
}

// RegisterTTS appends a text-to-speech provider to the fallback chain.
func (r *Registry) RegisterTTS(p speech.TTSProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts = append(r.tts, p)
}

// RegisterCompletion appends a language-model provider to the fallback chain.
func (r *Registry) RegisterCompletion(p llm.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completion = append(r.completion, p)
}

// RegisterCallControl appends a telephony provider to the fallback chain.
func (r *Registry) RegisterCallControl(p telephony.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callControl = append(r.callControl, p)
}

// SelectSTT returns the speech-to-text providers that support the given
// language, in registration order.
func (r *Registry) SelectSTT(language string) []speech.STTProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []speech.STTProvider
	for _, p := range r.stt {
		if p.Supports(language) {
			out = append(out, p)
		}
	}
	return out
}

// SelectTTS returns the text-to-speech providers that support the given
// language, in registration order.
func (r *Registry) SelectTTS(language string) []speech.TTSProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []speech.TTSProvider
	for _, p := range r.tts {
		if p.Supports(language) {
			out = append(out, p)
		}
	}
	return out
}

// SelectCompletion returns the language-model providers that support the
// given model hint, in registration order. An empty hint matches all.
func (r *Registry) SelectCompletion(model string) []llm.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []llm.Provider
	for _, p := range r.completion {
		if p.Supports(model) {
			out = append(out, p)
		}
	}
	return out
}

// CallControl returns the primary telephony provider.
func (r *Registry) CallControl() (telephony.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.callControl) == 0 {
		return nil, types.NewError(types.ErrProviderUnavailable, "no call-control provider registered")
	}
	return r.callControl[0], nil
}

// STTProviderNames returns the registered speech-to-text provider names
// in priority order.
func (r *Registry) STTProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stt))
	for _, p := range r.stt {
		names = append(names, p.Name())
	}
	return names
}
