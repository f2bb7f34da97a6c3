package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlens/voxlens/types"
)

func setupStores(t *testing.T) *Stores {
	t.Helper()
	db, err := Open(Config{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	return New(db)
}

func TestCallLifecycle(t *testing.T) {
	s := setupStores(t)
	ctx := context.Background()

	call := &types.CallRecord{
		ID:         "call-1",
		CustomerID: "cust-1",
		Status:     types.CallPending,
		Metadata:   types.CallMetadata{AgentID: "agent-1", Language: "en"},
	}
	require.NoError(t, s.Calls.Create(ctx, call))

	got, err := s.Calls.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, types.CallPending, got.Status)
	assert.Equal(t, "agent-1", got.Metadata.AgentID)

	require.NoError(t, s.Calls.UpdateStatus(ctx, "call-1", types.CallTranscribing))
	got, err = s.Calls.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, types.CallTranscribing, got.Status)
	assert.Equal(t, 60, got.Progress)

	require.NoError(t, s.Calls.SetEvaluation(ctx, "call-1", &types.EvaluationResult{
		OverallScore: 85,
		Grade:        types.GradeB,
	}))
	got, err = s.Calls.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, types.CallCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.Evaluation)
	assert.Equal(t, types.GradeB, got.Evaluation.Grade)
}

func TestCallTranscriptAppendOrder(t *testing.T) {
	s := setupStores(t)
	ctx := context.Background()

	require.NoError(t, s.Calls.Create(ctx, &types.CallRecord{
		ID: "call-1", CustomerID: "c", Status: types.CallProcessing,
	}))

	require.NoError(t, s.Calls.AppendTranscript(ctx, "call-1",
		types.TranscriptEntry{Role: types.RoleCustomer, Text: "hello"}))
	require.NoError(t, s.Calls.AppendTranscript(ctx, "call-1",
		types.TranscriptEntry{Role: types.RoleAgent, Text: "hi, how can I help?"}))

	got, err := s.Calls.Get(ctx, "call-1")
	require.NoError(t, err)
	require.Len(t, got.Transcript, 2)
	assert.Equal(t, "hello", got.Transcript[0].Text)
	assert.Equal(t, "hi, how can I help?", got.Transcript[1].Text)
}

func TestCallTranscriptConcurrentAppends(t *testing.T) {
	s := setupStores(t)
	ctx := context.Background()

	require.NoError(t, s.Calls.Create(ctx, &types.CallRecord{
		ID: "call-1", CustomerID: "c", Status: types.CallProcessing,
	}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Calls.AppendTranscript(ctx, "call-1",
				types.TranscriptEntry{Role: types.RoleAgent, Text: "entry"})
		}()
	}
	wg.Wait()

	got, err := s.Calls.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Len(t, got.Transcript, 10)
}

func TestCallRetryResetsFailure(t *testing.T) {
	s := setupStores(t)
	ctx := context.Background()

	require.NoError(t, s.Calls.Create(ctx, &types.CallRecord{
		ID: "call-1", CustomerID: "c", Status: types.CallProcessing,
	}))
	require.NoError(t, s.Calls.MarkFailed(ctx, "call-1", &types.ErrorDetail{
		Kind: types.ErrTranscription, Message: "provider down",
	}))

	got, err := s.Calls.Retry(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, types.CallPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.LastError)
}

func TestCallRetryRequiresFailedState(t *testing.T) {
	s := setupStores(t)
	ctx := context.Background()

	require.NoError(t, s.Calls.Create(ctx, &types.CallRecord{
		ID: "call-1", CustomerID: "c", Status: types.CallPending,
	}))

	_, err := s.Calls.Retry(ctx, "call-1")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestCallSoftDelete(t *testing.T) {
	s := setupStores(t)
	ctx := context.Background()

	require.NoError(t, s.Calls.Create(ctx, &types.CallRecord{
		ID: "call-1", CustomerID: "c", Status: types.CallCompleted,
	}))
	require.NoError(t, s.Calls.Delete(ctx, "call-1"))

	_, err := s.Calls.Get(ctx, "call-1")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestCallListFilters(t *testing.T) {
	s := setupStores(t)
	ctx := context.Background()

	require.NoError(t, s.Calls.Create(ctx, &types.CallRecord{
		ID: "a", CustomerID: "c1", Status: types.CallCompleted,
		Metadata: types.CallMetadata{AgentID: "agent-1"},
	}))
	require.NoError(t, s.Calls.Create(ctx, &types.CallRecord{
		ID: "b", CustomerID: "c1", Status: types.CallFailed,
	}))
	require.NoError(t, s.Calls.Create(ctx, &types.CallRecord{
		ID: "c", CustomerID: "c2", Status: types.CallCompleted,
	}))

	calls, err := s.Calls.List(ctx, CallFilter{CustomerID: "c1"})
	require.NoError(t, err)
	assert.Len(t, calls, 2)

	calls, err = s.Calls.List(ctx, CallFilter{CustomerID: "c1", Status: types.CallFailed})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "b", calls[0].ID)

	calls, err = s.Calls.List(ctx, CallFilter{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "a", calls[0].ID)
}

func TestRunLifecycle(t *testing.T) {
	s := setupStores(t)
	ctx := context.Background()

	run := &types.ConversationRun{
		ID:         "run-1",
		CustomerID: "c",
		Status:     types.RunPending,
		Config:     types.RunConfig{AgentEndpoint: "+15551230000", MaxTurns: 5},
	}
	require.NoError(t, s.Runs.Create(ctx, run))

	require.NoError(t, s.Runs.SetCarrierState(ctx, "run-1", "CA99", "in-progress"))
	require.NoError(t, s.Runs.UpdateStatus(ctx, "run-1", types.RunRunning))

	byCall, err := s.Runs.GetByExternalCallID(ctx, "CA99")
	require.NoError(t, err)
	assert.Equal(t, "run-1", byCall.ID)
	assert.Equal(t, types.RunRunning, byCall.Status)
	assert.Equal(t, 5, byCall.Config.MaxTurns)

	require.NoError(t, s.Runs.AppendTranscript(ctx, "run-1",
		types.TranscriptEntry{Role: types.RoleCustomer, Text: "I need to reschedule"}))
	require.NoError(t, s.Runs.SetEvaluation(ctx, "run-1", &types.EvaluationResult{OverallScore: 92, Grade: types.GradeA}))

	got, err := s.Runs.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.Len(t, got.Transcript, 1)
}

func TestKnowledgeForAgent(t *testing.T) {
	s := setupStores(t)
	ctx := context.Background()

	require.NoError(t, s.Knowledge.Put(ctx, &types.KnowledgeBaseEntry{
		ID: "kb-1", AgentID: "agent-1", Name: "reschedule appointment",
		RequiredSteps:        []string{"verify identity", "offer new slot"},
		CompletionIndicators: []string{"confirmed", "booked"},
	}))

	entries, err := s.Knowledge.ForAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"confirmed", "booked"}, entries[0].CompletionIndicators)

	entries, err = s.Knowledge.ForAgent(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubscriptionForEvent(t *testing.T) {
	s := setupStores(t)
	ctx := context.Background()

	require.NoError(t, s.Subscriptions.Create(ctx, &types.WebhookSubscription{
		ID: "sub-1", CustomerID: "c", URL: "https://example.com/hook",
		Secret: "shh", Events: []string{"call.completed"},
	}))
	require.NoError(t, s.Subscriptions.Create(ctx, &types.WebhookSubscription{
		ID: "sub-2", CustomerID: "c", URL: "https://example.com/all",
	}))

	subs, err := s.Subscriptions.ForEvent(ctx, "c", "call.completed")
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	subs, err = s.Subscriptions.ForEvent(ctx, "c", "call.failed")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub-2", subs[0].ID)

	got, err := s.Subscriptions.Get(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "shh", got.Secret)
}
