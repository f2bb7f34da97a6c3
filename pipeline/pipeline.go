// Package pipeline implements the asynchronous call evaluation pipeline:
// audio upload, cached transcription with provider fallback, rule-based
// diarization, and concurrent six-metric scoring, driven through an
// explicit per-call state machine.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxlens/voxlens/internal/blob"
	"github.com/voxlens/voxlens/internal/cache"
	"github.com/voxlens/voxlens/internal/faults"
	"github.com/voxlens/voxlens/internal/metrics"
	"github.com/voxlens/voxlens/internal/notify"
	"github.com/voxlens/voxlens/internal/perf"
	"github.com/voxlens/voxlens/internal/store"
	"github.com/voxlens/voxlens/providers"
	"github.com/voxlens/voxlens/speech"
	"github.com/voxlens/voxlens/types"
)

// Event names published to the webhook dispatcher.
const (
	EventCallCompleted = "call.completed"
	EventCallFailed    = "call.failed"
)

// EventSink receives pipeline lifecycle events. Delivery is
// fire-and-forget: sink failures never fail the pipeline.
type EventSink interface {
	Publish(ctx context.Context, customerID, event, callID string, data any)
}

// Config bounds the pipeline's external calls and cache lifetimes.
type Config struct {
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout" json:"transcribe_timeout"`
	EvaluateTimeout   time.Duration `yaml:"evaluate_timeout" json:"evaluate_timeout"`
	// EvaluationTTL bounds cached evaluation results; transcripts of
	// byte-identical audio never change and are cached permanently.
	EvaluationTTL time.Duration `yaml:"evaluation_ttl" json:"evaluation_ttl"`
}

// DefaultConfig returns the baseline pipeline configuration.
func DefaultConfig() Config {
	return Config{
		TranscribeTimeout: 2 * time.Minute,
		EvaluateTimeout:   time.Minute,
		EvaluationTTL:     7 * 24 * time.Hour,
	}
}

// Pipeline owns call processing from upload through evaluation.
type Pipeline struct {
	cfg       Config
	calls     *store.CallStore
	knowledge *store.KnowledgeStore
	blobs     blob.Store
	cache     cache.Store
	registry  *providers.Registry
	diarizer  Diarizer
	evaluator *Evaluator
	perf      *perf.Monitor
	collector *metrics.Collector
	events    EventSink
	hub       *notify.Hub
	logger    *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// Options carries the pipeline's collaborators. Collector, events, and
// hub are optional.
type Options struct {
	Config    Config
	Calls     *store.CallStore
	Knowledge *store.KnowledgeStore
	Blobs     blob.Store
	Cache     cache.Store
	Registry  *providers.Registry
	Diarizer  Diarizer
	Evaluator *Evaluator
	Perf      *perf.Monitor
	Collector *metrics.Collector
	Events    EventSink
	Hub       *notify.Hub
	Logger    *zap.Logger
}

// New builds a pipeline.
func New(opts Options) *Pipeline {
	if opts.Diarizer == nil {
		opts.Diarizer = NewRuleBasedDiarizer()
	}
	if opts.Config.TranscribeTimeout <= 0 {
		opts.Config = DefaultConfig()
	}
	return &Pipeline{
		cfg:       opts.Config,
		calls:     opts.Calls,
		knowledge: opts.Knowledge,
		blobs:     opts.Blobs,
		cache:     opts.Cache,
		registry:  opts.Registry,
		diarizer:  opts.Diarizer,
		evaluator: opts.Evaluator,
		perf:      opts.Perf,
		collector: opts.Collector,
		events:    opts.Events,
		hub:       opts.Hub,
		logger:    opts.Logger.With(zap.String("component", "pipeline")),
		cancels:   map[string]context.CancelFunc{},
	}
}

// callKey is the notification key for one call's state changes.
func callKey(callID string) string { return "call:" + callID }

// Process runs the pipeline for a call as an independent background
// task. The triggering request returns immediately.
func (p *Pipeline) Process(callID string, audio []byte) {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancels[callID] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			cancel()
			p.mu.Lock()
			delete(p.cancels, callID)
			p.mu.Unlock()
		}()
		if err := p.Execute(ctx, callID, audio); err != nil {
			p.logger.Warn("call processing failed",
				zap.String("call_id", callID),
				zap.Error(err))
		}
	}()
}

// Cancel marks an in-flight call failed and abandons its provider calls.
func (p *Pipeline) Cancel(ctx context.Context, callID string) error {
	p.mu.Lock()
	cancel, running := p.cancels[callID]
	p.mu.Unlock()
	if running {
		cancel()
	}

	call, err := p.calls.Get(ctx, callID)
	if err != nil {
		return err
	}
	if call.Status.Terminal() {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("call is already %s", call.Status)).WithHTTPStatus(409)
	}
	return p.calls.MarkFailed(ctx, callID, &types.ErrorDetail{
		Kind:        types.ErrUnknown,
		Message:     "processing canceled",
		UserMessage: "Call processing was canceled.",
	})
}

// Retry resets a failed call and reprocesses it from the stored audio.
func (p *Pipeline) Retry(ctx context.Context, callID string) (*types.CallRecord, error) {
	call, err := p.calls.Retry(ctx, callID)
	if err != nil {
		return nil, err
	}
	p.Process(callID, nil)
	return call, nil
}

// Shutdown waits for in-flight calls to finish.
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	for _, cancel := range p.cancels {
		cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Execute runs all pipeline stages synchronously. audio may be nil on the
// retry path, in which case bytes are reloaded from the content store.
func (p *Pipeline) Execute(ctx context.Context, callID string, audio []byte) error {
	call, err := p.calls.Get(ctx, callID)
	if err != nil {
		return err
	}

	if p.perf != nil {
		p.perf.Begin(callID, call.CustomerID)
	}

	err = p.runStages(ctx, call, audio)
	if err != nil {
		if ctx.Err() != nil {
			// Canceled: Cancel already recorded the terminal state.
			p.finalize(callID, string(types.CallFailed))
			return err
		}
		classified := faults.Classify(err)
		detail := types.DetailFromError(classified, call.RetryCount)
		if markErr := p.calls.MarkFailed(context.Background(), callID, detail); markErr != nil {
			p.logger.Error("failed to record call failure",
				zap.String("call_id", callID), zap.Error(markErr))
		}
		p.finalize(callID, string(types.CallFailed))
		p.publish(call.CustomerID, EventCallFailed, callID, detail)
		return err
	}

	p.finalize(callID, string(types.CallCompleted))
	completed, err := p.calls.Get(ctx, callID)
	if err == nil {
		p.publish(call.CustomerID, EventCallCompleted, callID, completed)
	}
	return nil
}

func (p *Pipeline) runStages(ctx context.Context, call *types.CallRecord, audio []byte) error {
	callID := call.ID

	// Upload stage: persist the raw bytes and keep the reference.
	if err := p.transition(ctx, callID, types.CallUploading); err != nil {
		return err
	}
	p.startStage(callID, perf.StageUpload)
	if len(audio) > 0 {
		start := time.Now()
		ref, err := p.blobs.Put(ctx, call.CustomerID, callID, audio)
		if p.perf != nil {
			p.perf.RecordStorageOp(callID, float64(time.Since(start).Milliseconds()))
		}
		if err != nil {
			p.endStage(callID, perf.StageUpload)
			return fmt.Errorf("storage failure: %w", err)
		}
		if err := p.calls.SetAudioRef(ctx, callID, ref); err != nil {
			p.endStage(callID, perf.StageUpload)
			return err
		}
		call.AudioRef = ref
	} else {
		if call.AudioRef == "" {
			p.endStage(callID, perf.StageUpload)
			return types.NewError(types.ErrValidation, "call has no stored audio")
		}
		loaded, err := p.blobs.Get(ctx, call.AudioRef)
		if err != nil {
			p.endStage(callID, perf.StageUpload)
			return fmt.Errorf("storage failure: %w", err)
		}
		audio = loaded
	}
	p.endStage(callID, perf.StageUpload)

	if err := p.transition(ctx, callID, types.CallProcessing); err != nil {
		return err
	}

	// Transcription stage: fingerprint, cache, provider fallback,
	// diarization.
	if err := p.transition(ctx, callID, types.CallTranscribing); err != nil {
		return err
	}
	p.startStage(callID, perf.StageTranscribe)
	entries, err := p.transcribe(ctx, call, audio)
	p.endStage(callID, perf.StageTranscribe)
	if err != nil {
		return err
	}
	if err := p.calls.SetTranscript(ctx, callID, entries); err != nil {
		return err
	}
	p.notifyCall(callID)

	// Evaluation stage: six concurrent metrics over the transcript.
	if err := p.transition(ctx, callID, types.CallEvaluating); err != nil {
		return err
	}
	p.startStage(callID, perf.StageEvaluate)
	result, err := p.evaluate(ctx, call, entries)
	p.endStage(callID, perf.StageEvaluate)
	if err != nil {
		return err
	}
	if err := p.calls.SetEvaluation(ctx, callID, result); err != nil {
		return err
	}
	p.notifyCall(callID)
	return nil
}

func (p *Pipeline) transcribe(ctx context.Context, call *types.CallRecord, audio []byte) ([]types.TranscriptEntry, error) {
	fingerprint := cache.Fingerprint(audio)
	key := cache.TranscriptKey(fingerprint)

	var cached []types.TranscriptEntry
	err := cache.GetJSON(ctx, p.cache, key, &cached)
	if err == nil && len(cached) > 0 {
		if p.collector != nil {
			p.collector.RecordCacheHit("transcript")
		}
		p.logger.Debug("transcript cache hit",
			zap.String("call_id", call.ID),
			zap.String("fingerprint", fingerprint))
		return cached, nil
	}
	if p.collector != nil {
		p.collector.RecordCacheMiss("transcript")
	}

	language := call.Metadata.Language
	if language == "" {
		language = speech.LanguageAuto
	}

	tctx, cancel := context.WithTimeout(ctx, p.cfg.TranscribeTimeout)
	defer cancel()

	start := time.Now()
	resp, err := p.registry.Transcribe(tctx, audio, &speech.STTRequest{Language: language})
	if p.perf != nil {
		p.perf.RecordExternalCall(call.ID, float64(time.Since(start).Milliseconds()))
	}
	if err != nil {
		return nil, err
	}

	entries := p.diarizer.Diarize(resp, call.Metadata.Language)
	if len(entries) == 0 {
		return nil, types.NewError(types.ErrTranscription, "transcription produced no text").
			WithProvider(resp.Provider)
	}

	// Byte-identical audio always transcribes the same; never expires.
	if err := cache.SetJSON(ctx, p.cache, key, entries, cache.NoExpiry); err != nil {
		p.logger.Warn("failed to cache transcript", zap.Error(err))
	}
	return entries, nil
}

func (p *Pipeline) evaluate(ctx context.Context, call *types.CallRecord, entries []types.TranscriptEntry) (*types.EvaluationResult, error) {
	// A retry within the TTL re-scores the same audio and transcript, so
	// a fresh cached result short-circuits the whole stage.
	key := cache.EvaluationKey(call.ID)
	var cached types.EvaluationResult
	if err := cache.GetJSON(ctx, p.cache, key, &cached); err == nil {
		if p.collector != nil {
			p.collector.RecordCacheHit("evaluation")
		}
		p.logger.Debug("evaluation cache hit", zap.String("call_id", call.ID))
		return &cached, nil
	}
	if p.collector != nil {
		p.collector.RecordCacheMiss("evaluation")
	}

	var kb []*types.KnowledgeBaseEntry
	if call.Metadata.AgentID != "" && p.knowledge != nil {
		loaded, err := p.knowledge.ForAgent(ctx, call.Metadata.AgentID)
		if err != nil {
			p.logger.Warn("knowledge base lookup failed, using heuristic scoring",
				zap.String("agent_id", call.Metadata.AgentID), zap.Error(err))
		} else {
			kb = loaded
		}
	}

	ectx, cancel := context.WithTimeout(ctx, p.cfg.EvaluateTimeout)
	defer cancel()

	result, err := p.evaluator.Evaluate(ectx, entries, kb, call.Metadata.Language)
	if err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, p.cache, key, result, p.cfg.EvaluationTTL); err != nil {
		p.logger.Warn("failed to cache evaluation", zap.Error(err))
	}
	return result, nil
}

func (p *Pipeline) transition(ctx context.Context, callID string, status types.CallStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.calls.UpdateStatus(ctx, callID, status); err != nil {
		return err
	}
	p.logger.Info("call state transition",
		zap.String("call_id", callID),
		zap.String("status", string(status)),
		zap.Int("progress", status.Progress()))
	p.notifyCall(callID)
	return nil
}

func (p *Pipeline) startStage(callID, stage string) {
	if p.perf != nil {
		p.perf.StartStage(callID, stage)
	}
}

func (p *Pipeline) endStage(callID, stage string) {
	if p.perf == nil {
		return
	}
	ms := p.perf.EndStage(callID, stage)
	if p.collector != nil {
		p.collector.RecordStageDuration(stage, time.Duration(ms)*time.Millisecond)
	}
}

func (p *Pipeline) finalize(callID, status string) {
	if p.perf != nil {
		p.perf.Finalize(callID)
	}
	if p.collector != nil {
		p.collector.RecordCallProcessed(status)
	}
	p.notifyCall(callID)
}

func (p *Pipeline) notifyCall(callID string) {
	if p.hub != nil {
		p.hub.Notify(callKey(callID))
	}
}

func (p *Pipeline) publish(customerID, event, callID string, data any) {
	if p.events == nil {
		return
	}
	p.events.Publish(context.Background(), customerID, event, callID, data)
}
