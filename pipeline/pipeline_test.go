package pipeline

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxlens/voxlens/internal/blob"
	"github.com/voxlens/voxlens/internal/cache"
	"github.com/voxlens/voxlens/internal/notify"
	"github.com/voxlens/voxlens/internal/perf"
	"github.com/voxlens/voxlens/internal/store"
	"github.com/voxlens/voxlens/providers"
	"github.com/voxlens/voxlens/speech"
	"github.com/voxlens/voxlens/types"
)

const sampleDialogue = "Thank you for calling Acme, how can I help you today? " +
	"I would like to confirm my appointment for tomorrow morning. " +
	"Your appointment is confirmed for ten thirty tomorrow. " +
	"Perfect, that works great for me. " +
	"Thank you for calling, goodbye."

type scriptedSTT struct {
	name  string
	text  string
	err   error
	mu    sync.Mutex
	calls int
}

func (s *scriptedSTT) Transcribe(_ context.Context, req *speech.STTRequest) (*speech.STTResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if req.Audio != nil {
		_, _ = io.ReadAll(req.Audio)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &speech.STTResponse{
		Provider:   s.name,
		Text:       s.text,
		Language:   "en",
		Duration:   16,
		Confidence: 0.95,
	}, nil
}

func (s *scriptedSTT) Supports(string) bool { return true }
func (s *scriptedSTT) MaxAudioBytes() int64 { return 1 << 30 }
func (s *scriptedSTT) Name() string         { return s.name }

func (s *scriptedSTT) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordedEvent struct {
	customerID string
	event      string
	callID     string
}

type captureSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (c *captureSink) Publish(_ context.Context, customerID, event, callID string, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, recordedEvent{customerID, event, callID})
}

func (c *captureSink) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.event)
	}
	return out
}

type pipelineFixture struct {
	pipeline *Pipeline
	stores   *store.Stores
	sink     *captureSink
	registry *providers.Registry
	cache    cache.Store
}

func newFixture(t *testing.T, stts ...speech.STTProvider) *pipelineFixture {
	t.Helper()
	logger := zap.NewNop()

	db, err := store.Open(store.Config{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	stores := store.New(db)

	registry := providers.NewRegistry()
	for _, p := range stts {
		registry.RegisterSTT(p)
	}

	sink := &captureSink{}
	memCache := cache.NewMemoryStore(cache.MemoryConfig{}, logger)
	t.Cleanup(func() { _ = memCache.Close() })

	pl := New(Options{
		Calls:     stores.Calls,
		Knowledge: stores.Knowledge,
		Blobs:     blob.NewMemoryStore(),
		Cache:     memCache,
		Registry:  registry,
		Evaluator: NewEvaluator(NewJobsScorer(nil, logger)),
		Perf:      perf.NewMonitor(perf.Config{}, logger),
		Events:    sink,
		Hub:       notify.NewHub(),
		Logger:    logger,
	})
	return &pipelineFixture{pipeline: pl, stores: stores, sink: sink, registry: registry, cache: memCache}
}

func createCall(t *testing.T, f *pipelineFixture, id string) {
	t.Helper()
	require.NoError(t, f.stores.Calls.Create(context.Background(), &types.CallRecord{
		ID:         id,
		CustomerID: "cust-1",
		Status:     types.CallPending,
		Metadata:   types.CallMetadata{Language: "en"},
	}))
}

func TestPipelineEndToEnd(t *testing.T) {
	f := newFixture(t, &scriptedSTT{name: "deepgram", text: sampleDialogue})
	createCall(t, f, "call-1")

	require.NoError(t, f.pipeline.Execute(context.Background(), "call-1", []byte("fake-audio-bytes")))

	call, err := f.stores.Calls.Get(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, types.CallCompleted, call.Status)
	assert.Equal(t, 100, call.Progress)
	assert.NotEmpty(t, call.Transcript)
	assert.NotEmpty(t, call.AudioRef)

	require.NotNil(t, call.Evaluation)
	assert.GreaterOrEqual(t, call.Evaluation.Disconnection.Score, float64(90))
	assert.Equal(t, float64(100), call.Evaluation.Interruption.Score)
	assert.Contains(t, []string{types.GradeA, types.GradeB}, call.Evaluation.Grade)

	assert.Equal(t, []string{EventCallCompleted}, f.sink.names())
}

func TestPipelineFallsBackOnSizeLimit(t *testing.T) {
	primary := &scriptedSTT{
		name: "small-provider",
		err:  types.NewError(types.ErrPayloadTooLarge, "audio exceeds 25MB limit").WithProvider("small-provider"),
	}
	secondary := &scriptedSTT{name: "big-provider", text: sampleDialogue}
	f := newFixture(t, primary, secondary)
	createCall(t, f, "call-1")

	require.NoError(t, f.pipeline.Execute(context.Background(), "call-1", []byte("oversized-audio")))

	call, err := f.stores.Calls.Get(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, types.CallCompleted, call.Status)
	assert.NotEmpty(t, call.Transcript)
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 1, secondary.callCount())
}

func TestPipelineTranscriptCacheSkipsProvider(t *testing.T) {
	stt := &scriptedSTT{name: "deepgram", text: sampleDialogue}
	f := newFixture(t, stt)
	createCall(t, f, "call-1")
	createCall(t, f, "call-2")

	audio := []byte("identical-audio-bytes")
	require.NoError(t, f.pipeline.Execute(context.Background(), "call-1", audio))
	require.NoError(t, f.pipeline.Execute(context.Background(), "call-2", audio))

	// Second call reuses the cached transcript of byte-identical audio.
	assert.Equal(t, 1, stt.callCount())

	second, err := f.stores.Calls.Get(context.Background(), "call-2")
	require.NoError(t, err)
	assert.Equal(t, types.CallCompleted, second.Status)
	assert.NotEmpty(t, second.Transcript)
}

func TestPipelineEvaluationCacheShortCircuitsScoring(t *testing.T) {
	f := newFixture(t, &scriptedSTT{name: "deepgram", text: sampleDialogue})
	createCall(t, f, "call-1")

	// A fresh cached result for this call wins over re-scoring.
	primed := &types.EvaluationResult{OverallScore: 42.5, Grade: types.GradeC}
	require.NoError(t, cache.SetJSON(context.Background(), f.cache,
		cache.EvaluationKey("call-1"), primed, cache.NoExpiry))

	require.NoError(t, f.pipeline.Execute(context.Background(), "call-1", []byte("audio-bytes")))

	call, err := f.stores.Calls.Get(context.Background(), "call-1")
	require.NoError(t, err)
	require.NotNil(t, call.Evaluation)
	assert.Equal(t, 42.5, call.Evaluation.OverallScore)
	assert.Equal(t, types.GradeC, call.Evaluation.Grade)
}

func TestPipelineFailureRecordsStructuredError(t *testing.T) {
	f := newFixture(t, &scriptedSTT{
		name: "only",
		err:  types.NewError(types.ErrProviderUnavailable, "upstream 503").WithProvider("only").WithRetryable(true),
	})
	createCall(t, f, "call-1")

	err := f.pipeline.Execute(context.Background(), "call-1", []byte("audio"))
	require.Error(t, err)

	call, getErr := f.stores.Calls.Get(context.Background(), "call-1")
	require.NoError(t, getErr)
	assert.Equal(t, types.CallFailed, call.Status)
	require.NotNil(t, call.LastError)
	assert.NotEmpty(t, call.LastError.Message)
	assert.NotEmpty(t, call.LastError.UserMessage)
	assert.NotEqual(t, call.LastError.Message, call.LastError.UserMessage)

	assert.Equal(t, []string{EventCallFailed}, f.sink.names())
}

func TestPipelineRetryReprocessesStoredAudio(t *testing.T) {
	stt := &scriptedSTT{
		name: "flaky",
		err:  types.NewError(types.ErrProviderUnavailable, "down").WithProvider("flaky"),
	}
	f := newFixture(t, stt)
	createCall(t, f, "call-1")

	require.Error(t, f.pipeline.Execute(context.Background(), "call-1", []byte("audio-bytes")))

	// Provider recovers; operator triggers a retry.
	stt.mu.Lock()
	stt.err = nil
	stt.text = sampleDialogue
	stt.mu.Unlock()

	retried, err := f.pipeline.Retry(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, 1, retried.RetryCount)

	require.Eventually(t, func() bool {
		call, err := f.stores.Calls.Get(context.Background(), "call-1")
		return err == nil && call.Status == types.CallCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPipelineCancelMarksFailed(t *testing.T) {
	f := newFixture(t, &scriptedSTT{name: "any", text: sampleDialogue})
	createCall(t, f, "call-1")

	require.NoError(t, f.pipeline.Cancel(context.Background(), "call-1"))

	call, err := f.stores.Calls.Get(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, types.CallFailed, call.Status)
	require.NotNil(t, call.LastError)

	// A terminal call cannot be canceled again.
	err = f.pipeline.Cancel(context.Background(), "call-1")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}
