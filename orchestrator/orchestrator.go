// Package orchestrator drives simulated test calls against live voice
// agents: it places an outbound call, generates caller utterances with an
// LLM, synthesizes them to audio for the carrier callback to play, waits
// for the agent's transcribed replies, and scores the finished
// conversation with the same metrics as uploaded calls.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxlens/voxlens/internal/blob"
	"github.com/voxlens/voxlens/internal/faults"
	"github.com/voxlens/voxlens/internal/metrics"
	"github.com/voxlens/voxlens/internal/notify"
	"github.com/voxlens/voxlens/internal/store"
	"github.com/voxlens/voxlens/pipeline"
	"github.com/voxlens/voxlens/providers"
	"github.com/voxlens/voxlens/speech"
	"github.com/voxlens/voxlens/telephony"
	"github.com/voxlens/voxlens/types"
)

// Event names published to the webhook dispatcher.
const (
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

// sentinelNoResponse is recorded when the agent stays silent past the
// reply timeout. Sentinels keep the turn record honest but are excluded
// from dialogue history and metric scoring.
const sentinelNoResponse = "no response"

// Config bounds the orchestrator's turn loop and provider calls.
type Config struct {
	// MaxTurns caps caller utterances per run when the run config does
	// not set its own budget.
	MaxTurns int `yaml:"max_turns" json:"max_turns"`
	// ReplyTimeout is how long a turn waits for the agent's transcribed
	// reply before recording a sentinel and moving on. Independent of
	// provider call timeouts.
	ReplyTimeout      time.Duration `yaml:"reply_timeout" json:"reply_timeout"`
	GenerateTimeout   time.Duration `yaml:"generate_timeout" json:"generate_timeout"`
	SynthesizeTimeout time.Duration `yaml:"synthesize_timeout" json:"synthesize_timeout"`
	EvaluateTimeout   time.Duration `yaml:"evaluate_timeout" json:"evaluate_timeout"`
	// RingTimeout is how long the carrier lets the call ring.
	RingTimeout time.Duration `yaml:"ring_timeout" json:"ring_timeout"`
	// TokenBudget caps the dialogue prompt; oldest exchanges are trimmed
	// beyond it.
	TokenBudget int    `yaml:"token_budget" json:"token_budget"`
	Model       string `yaml:"model" json:"model"`
	Voice       string `yaml:"voice" json:"voice"`
	// CallbackBaseURL is this service's public base URL; the carrier
	// posts answer/status/recording callbacks under it.
	CallbackBaseURL string `yaml:"callback_base_url" json:"callback_base_url"`
}

// DefaultConfig returns the baseline orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		MaxTurns:          10,
		ReplyTimeout:      30 * time.Second,
		GenerateTimeout:   30 * time.Second,
		SynthesizeTimeout: 30 * time.Second,
		EvaluateTimeout:   time.Minute,
		RingTimeout:       60 * time.Second,
		TokenBudget:       4000,
		Model:             "gpt-4o-mini",
	}
}

// Orchestrator owns conversation runs from placement through evaluation.
type Orchestrator struct {
	cfg       Config
	runs      *store.RunStore
	knowledge *store.KnowledgeStore
	blobs     blob.Store
	registry  *providers.Registry
	evaluator *pipeline.Evaluator
	collector *metrics.Collector
	events    pipeline.EventSink
	hub       *notify.Hub
	logger    *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	queues  map[string][]string
	starts  map[string]time.Time
	wg      sync.WaitGroup
}

// Options carries the orchestrator's collaborators. Collector and events
// are optional.
type Options struct {
	Config    Config
	Runs      *store.RunStore
	Knowledge *store.KnowledgeStore
	Blobs     blob.Store
	Registry  *providers.Registry
	Evaluator *pipeline.Evaluator
	Collector *metrics.Collector
	Events    pipeline.EventSink
	Hub       *notify.Hub
	Logger    *zap.Logger
}

// New builds an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Config.MaxTurns <= 0 {
		opts.Config = DefaultConfig()
	}
	return &Orchestrator{
		cfg:       opts.Config,
		runs:      opts.Runs,
		knowledge: opts.Knowledge,
		blobs:     opts.Blobs,
		registry:  opts.Registry,
		evaluator: opts.Evaluator,
		collector: opts.Collector,
		events:    opts.Events,
		hub:       opts.Hub,
		logger:    opts.Logger.With(zap.String("component", "orchestrator")),
		cancels:   map[string]context.CancelFunc{},
		queues:    map[string][]string{},
		starts:    map[string]time.Time{},
	}
}

// runKey is the notification key for one run's transcript and state
// changes. The inbound recording callback notifies it; turn loops wait
// on it.
func runKey(runID string) string { return "run:" + runID }

// Start creates a run and launches its turn loop as an independent
// background task. The triggering request returns immediately.
func (o *Orchestrator) Start(ctx context.Context, customerID string, cfg types.RunConfig) (*types.ConversationRun, error) {
	if strings.TrimSpace(cfg.AgentEndpoint) == "" {
		return nil, types.NewError(types.ErrValidation, "agent_endpoint is required").WithHTTPStatus(400)
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = o.cfg.MaxTurns
	}

	run := &types.ConversationRun{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Config:     cfg,
		Status:     types.RunPending,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[run.ID] = cancel
	o.mu.Unlock()

	if o.collector != nil {
		o.collector.RunStarted()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.cancels, run.ID)
			delete(o.queues, run.ID)
			delete(o.starts, run.ID)
			o.mu.Unlock()
			if o.collector != nil {
				o.collector.RunFinished()
			}
		}()
		if err := o.execute(runCtx, run); err != nil {
			o.logger.Warn("run failed",
				zap.String("run_id", run.ID),
				zap.Error(err))
		}
	}()

	return run, nil
}

// Cancel marks an in-flight run failed and abandons its provider calls.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	o.mu.Lock()
	cancel, running := o.cancels[runID]
	o.mu.Unlock()
	if running {
		cancel()
	}

	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("run is already %s", run.Status)).WithHTTPStatus(409)
	}
	return o.runs.MarkFailed(ctx, runID, &types.ErrorDetail{
		Kind:        types.ErrUnknown,
		Message:     "run canceled",
		UserMessage: "The test run was canceled.",
	})
}

// Shutdown cancels in-flight runs and waits for their loops to exit.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	for _, cancel := range o.cancels {
		cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// AgentReplied appends the agent's transcribed utterance to the run and
// wakes its turn loop. Called by the inbound recording callback. Entries
// arriving without a start offset are stamped against the run's dialogue
// clock, backdated by the recording duration, so the latency and
// interruption metrics see real turn timings.
func (o *Orchestrator) AgentReplied(ctx context.Context, runID string, entry types.TranscriptEntry) error {
	entry.Role = types.RoleAgent
	if entry.StartMs == 0 {
		o.mu.Lock()
		started, tracked := o.starts[runID]
		o.mu.Unlock()
		if tracked {
			offset := time.Since(started).Milliseconds() - entry.DurationMs
			if offset < 0 {
				offset = 0
			}
			entry.StartMs = offset
		}
	}
	if err := o.runs.AppendTranscript(ctx, runID, entry); err != nil {
		return err
	}
	o.hub.Notify(runKey(runID))
	return nil
}

// CarrierStatus records a carrier status transition for the run owning
// the external call.
func (o *Orchestrator) CarrierStatus(ctx context.Context, externalCallID, status string) error {
	run, err := o.runs.GetByExternalCallID(ctx, externalCallID)
	if err != nil {
		return err
	}
	if err := o.runs.SetCarrierState(ctx, run.ID, externalCallID, status); err != nil {
		return err
	}
	o.hub.Notify(runKey(run.ID))
	return nil
}

// NextAudioRef pops the next queued utterance audio reference for the
// run, waiting up to timeout for one to be published. The answer
// callback plays it to the agent.
func (o *Orchestrator) NextAudioRef(ctx context.Context, runID string, timeout time.Duration) (string, bool) {
	ok := o.hub.WaitFor(ctx, runKey(runID), timeout, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return len(o.queues[runID]) > 0
	})
	if !ok {
		return "", false
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queues[runID]
	if len(q) == 0 {
		return "", false
	}
	ref := q[0]
	o.queues[runID] = q[1:]
	return ref, true
}

func (o *Orchestrator) queueAudio(runID, ref string) {
	o.mu.Lock()
	o.queues[runID] = append(o.queues[runID], ref)
	o.mu.Unlock()
	o.hub.Notify(runKey(runID))
}

func (o *Orchestrator) execute(ctx context.Context, run *types.ConversationRun) error {
	err := o.converse(ctx, run)
	if err != nil {
		if ctx.Err() != nil {
			// Canceled: Cancel already recorded the terminal state.
			return err
		}
		classified := faults.Classify(err)
		detail := types.DetailFromError(classified, 0)
		if markErr := o.runs.MarkFailed(context.Background(), run.ID, detail); markErr != nil {
			o.logger.Error("failed to record run failure",
				zap.String("run_id", run.ID), zap.Error(markErr))
		}
		o.hub.Notify(runKey(run.ID))
		o.publish(run.CustomerID, EventRunFailed, run.ID, detail)
		return err
	}

	completed, err := o.runs.Get(context.Background(), run.ID)
	if err == nil {
		o.publish(run.CustomerID, EventRunCompleted, run.ID, completed)
	}
	return nil
}

func (o *Orchestrator) converse(ctx context.Context, run *types.ConversationRun) error {
	if err := o.runs.UpdateStatus(ctx, run.ID, types.RunRunning); err != nil {
		return err
	}
	o.hub.Notify(runKey(run.ID))

	call, hangup, err := o.placeCall(ctx, run)
	if err != nil {
		return err
	}
	if hangup != nil {
		defer hangup()
	}
	start := time.Now()
	o.mu.Lock()
	o.starts[run.ID] = start
	o.mu.Unlock()

	sess := newSession(
		run.Config.Persona, run.Config.Scenario, run.Config.Language,
		o.cfg.Model, run.Config.MaxTurns, o.cfg.TokenBudget,
	)
	closing := func(text string) bool {
		_, ok := pipeline.ClosingPhrase(text, run.Config.Language)
		return ok
	}

	// Two unanswered turns in a row means the agent hung up or went
	// silent for good; stop burning turns on dead air.
	silentTurns := 0

	for turn := 0; !sess.Ended(closing); turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		utterance, err := o.generate(ctx, sess)
		if err != nil {
			return err
		}

		ref, durationMs, err := o.speak(ctx, run, turn, utterance)
		if err != nil {
			return err
		}

		// Record the utterance before publishing its audio so the
		// transcript always shows the question before the reply.
		entry := types.TranscriptEntry{
			Role:       types.RoleCustomer,
			Text:       utterance,
			StartMs:    time.Since(start).Milliseconds(),
			DurationMs: durationMs,
			Confidence: 1.0,
			Language:   run.Config.Language,
		}
		if err := o.runs.AppendTranscript(ctx, run.ID, entry); err != nil {
			return err
		}
		o.queueAudio(run.ID, ref)

		reply, ok := o.awaitReply(ctx, run.ID)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			o.logger.Info("no agent reply within timeout",
				zap.String("run_id", run.ID), zap.Int("turn", turn))
			sentinel := types.TranscriptEntry{
				Role:     types.RoleAgent,
				Text:     sentinelNoResponse,
				StartMs:  time.Since(start).Milliseconds(),
				Sentinel: true,
			}
			if err := o.runs.AppendTranscript(ctx, run.ID, sentinel); err != nil {
				return err
			}
			silentTurns++
			if silentTurns >= 2 {
				o.logger.Info("agent silent for consecutive turns, ending dialogue",
					zap.String("run_id", run.ID), zap.Int("turn", turn))
				break
			}
			continue
		}
		silentTurns = 0
		sess.Observe(reply)
	}

	o.logger.Info("dialogue finished",
		zap.String("run_id", run.ID),
		zap.String("external_call_id", call.SID),
		zap.Int("turns", sess.turns))

	if err := o.evaluate(ctx, run); err != nil {
		return err
	}
	o.hub.Notify(runKey(run.ID))
	return nil
}

// placeCall starts the outbound leg and records the carrier's call id.
// Returns a hangup func that ends the call when the loop exits.
func (o *Orchestrator) placeCall(ctx context.Context, run *types.ConversationRun) (*telephony.Call, func(), error) {
	carrier, err := o.registry.CallControl()
	if err != nil {
		return nil, nil, err
	}

	call, err := carrier.PlaceCall(ctx, &telephony.CallRequest{
		To:                run.Config.AgentEndpoint,
		AnswerURL:         o.callbackURL(run.ID, "answer"),
		StatusCallbackURL: o.callbackURL(run.ID, "status"),
		Record:            true,
		Timeout:           o.cfg.RingTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("place call: %w", err)
	}
	if err := o.runs.SetCarrierState(ctx, run.ID, call.SID, call.Status); err != nil {
		return nil, nil, err
	}

	hangup := func() {
		hctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := carrier.HangupCall(hctx, call.SID); err != nil {
			o.logger.Warn("hangup failed",
				zap.String("run_id", run.ID),
				zap.String("external_call_id", call.SID),
				zap.Error(err))
		}
	}
	return call, hangup, nil
}

func (o *Orchestrator) callbackURL(runID, kind string) string {
	base := strings.TrimRight(o.cfg.CallbackBaseURL, "/")
	return fmt.Sprintf("%s/v1/callbacks/runs/%s/%s", base, runID, kind)
}

func (o *Orchestrator) generate(ctx context.Context, sess *session) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	defer cancel()
	utterance, err := sess.NextUtterance(gctx, o.registry)
	if err != nil {
		return "", fmt.Errorf("generate utterance: %w", err)
	}
	return utterance, nil
}

// speak synthesizes the utterance and stores the audio where the answer
// callback can fetch it. Returns the blob reference and an estimated
// speaking duration.
func (o *Orchestrator) speak(ctx context.Context, run *types.ConversationRun, turn int, utterance string) (string, int64, error) {
	sctx, cancel := context.WithTimeout(ctx, o.cfg.SynthesizeTimeout)
	defer cancel()

	resp, err := o.registry.Synthesize(sctx, &speech.TTSRequest{
		Text:     utterance,
		Voice:    o.cfg.Voice,
		Language: run.Config.Language,
		Format:   "mp3",
	})
	if err != nil {
		return "", 0, fmt.Errorf("synthesize utterance: %w", err)
	}

	ref, err := o.blobs.Put(ctx, run.CustomerID, fmt.Sprintf("%s-turn-%d", run.ID, turn), resp.AudioData)
	if err != nil {
		return "", 0, fmt.Errorf("storage failure: %w", err)
	}
	return ref, estimateSpeechMs(utterance), nil
}

// awaitReply blocks until the recording callback appends a new agent
// entry, the reply timeout elapses, or ctx is canceled.
func (o *Orchestrator) awaitReply(ctx context.Context, runID string) (string, bool) {
	var reply string
	ok := o.hub.WaitFor(ctx, runKey(runID), o.cfg.ReplyTimeout, func() bool {
		run, err := o.runs.Get(ctx, runID)
		if err != nil {
			return false
		}
		if len(run.Transcript) == 0 {
			return false
		}
		last := run.Transcript[len(run.Transcript)-1]
		if last.Role == types.RoleAgent && !last.Sentinel {
			reply = last.Text
			return true
		}
		return false
	})
	return reply, ok
}

func (o *Orchestrator) evaluate(ctx context.Context, run *types.ConversationRun) error {
	current, err := o.runs.Get(ctx, run.ID)
	if err != nil {
		return err
	}

	var kb []*types.KnowledgeBaseEntry
	if o.knowledge != nil && run.Config.AgentID != "" {
		kb, err = o.knowledge.ForAgent(ctx, run.Config.AgentID)
		if err != nil {
			o.logger.Warn("knowledge base lookup failed",
				zap.String("run_id", run.ID),
				zap.String("agent_id", run.Config.AgentID),
				zap.Error(err))
		}
	}

	ectx, cancel := context.WithTimeout(ctx, o.cfg.EvaluateTimeout)
	defer cancel()
	result, err := o.evaluator.Evaluate(ectx, current.Transcript, kb, run.Config.Language)
	if err != nil {
		return fmt.Errorf("evaluate run: %w", err)
	}
	return o.runs.SetEvaluation(ctx, run.ID, result)
}

func (o *Orchestrator) publish(customerID, event, runID string, data any) {
	if o.events == nil {
		return
	}
	o.events.Publish(context.Background(), customerID, event, runID, data)
}

// estimateSpeechMs approximates playback time at a 150 words-per-minute
// speaking rate. Used for transcript timing when the carrier does not
// report actual playback duration.
func estimateSpeechMs(text string) int64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int64(words) * 400
}
