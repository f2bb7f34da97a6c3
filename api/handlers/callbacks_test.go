package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlens/voxlens/types"
)

// startRun launches a run with a generous reply timeout so queued audio
// stays available for the callback handlers under test.
func startRun(t *testing.T, env *testEnv) *types.ConversationRun {
	t.Helper()
	run, err := env.orch.Start(context.Background(), "cust-cb", types.RunConfig{
		AgentEndpoint: "+15550100",
		AgentID:       "agent-7",
		Scenario:      "ask about opening hours",
	})
	require.NoError(t, err)
	return run
}

var playRefPattern = regexp.MustCompile(`/v1/callbacks/audio/([^<]+)</Play>`)

func TestAnswerPlaysQueuedUtteranceAndRecords(t *testing.T) {
	env := newTestEnv(t)
	run := startRun(t, env)

	r := httptest.NewRequest(http.MethodPost, "/v1/callbacks/runs/"+run.ID+"/answer", nil)
	r.SetPathValue("id", run.ID)
	w := httptest.NewRecorder()

	env.callbacks.HandleAnswer(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "<Play>")
	assert.Contains(t, body, "https://voxlens.test/v1/callbacks/audio/")
	assert.Contains(t, body, "<Record")
	assert.Contains(t, body, "/v1/callbacks/runs/"+run.ID+"/recording")

	// The played reference must resolve to the synthesized audio.
	m := playRefPattern.FindStringSubmatch(body)
	require.Len(t, m, 2)
	ref, err := url.PathUnescape(m[1])
	require.NoError(t, err)

	audioReq := httptest.NewRequest(http.MethodGet, "/v1/callbacks/audio/"+m[1], nil)
	audioReq.SetPathValue("ref", ref)
	w = httptest.NewRecorder()
	env.callbacks.HandleAudio(w, audioReq)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "audio:"),
		"audio body should be the synthesized bytes, got %q", w.Body.String())
}

func TestAnswerHangsUpWhenNoUtteranceQueued(t *testing.T) {
	env := newTestEnv(t)

	r := httptest.NewRequest(http.MethodPost, "/v1/callbacks/runs/missing/answer", nil)
	r.SetPathValue("id", "missing")
	ctx, cancel := context.WithTimeout(r.Context(), 100*time.Millisecond)
	defer cancel()
	w := httptest.NewRecorder()

	env.callbacks.HandleAnswer(w, r.WithContext(ctx))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Hangup")
	assert.NotContains(t, w.Body.String(), "<Play>")
}

func TestRecordingTranscribesAgentReply(t *testing.T) {
	env := newTestEnv(t)
	run := startRun(t, env)

	recordings := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFF-agent-reply"))
	}))
	defer recordings.Close()

	form := url.Values{"RecordingUrl": {recordings.URL + "/rec-1"}}
	r := httptest.NewRequest(http.MethodPost, "/v1/callbacks/runs/"+run.ID+"/recording",
		strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.SetPathValue("id", run.ID)
	w := httptest.NewRecorder()

	env.callbacks.HandleRecording(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Redirect>")

	// The run keeps running after the callback; wait for it to settle
	// before inspecting the transcript.
	require.Eventually(t, func() bool {
		stored, err := env.stores.Runs.Get(context.Background(), run.ID)
		return err == nil && stored.Status.Terminal()
	}, 10*time.Second, 20*time.Millisecond)

	stored, err := env.stores.Runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	var reply *types.TranscriptEntry
	for i := range stored.Transcript {
		e := stored.Transcript[i]
		if e.Role == types.RoleAgent && !e.Sentinel {
			reply = &stored.Transcript[i]
			break
		}
	}
	require.NotNil(t, reply, "transcript should contain the transcribed agent reply")
	assert.Equal(t, "hello how can I help you today goodbye", reply.Text)
	assert.Greater(t, reply.Confidence, 0.0)
}

func TestRecordingRequiresURL(t *testing.T) {
	env := newTestEnv(t)

	r := httptest.NewRequest(http.MethodPost, "/v1/callbacks/runs/run-1/recording",
		strings.NewReader(""))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.SetPathValue("id", "run-1")
	w := httptest.NewRecorder()

	env.callbacks.HandleRecording(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusCallbackUpdatesRun(t *testing.T) {
	env := newTestEnv(t)
	run := startRun(t, env)

	require.Eventually(t, func() bool {
		stored, err := env.stores.Runs.Get(context.Background(), run.ID)
		return err == nil && stored.ExternalCallID != ""
	}, 5*time.Second, 10*time.Millisecond)

	form := url.Values{"CallSid": {"CA-test"}, "CallStatus": {"in-progress"}}
	r := httptest.NewRequest(http.MethodPost, "/v1/callbacks/runs/"+run.ID+"/status",
		strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.SetPathValue("id", run.ID)
	w := httptest.NewRecorder()

	env.callbacks.HandleStatus(w, r)

	require.Equal(t, http.StatusNoContent, w.Code)
	stored, err := env.stores.Runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "in-progress", stored.CarrierStatus)
}

func TestStatusCallbackToleratesUnknownCall(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{"CallSid": {"CA-unknown"}, "CallStatus": {"completed"}}
	r := httptest.NewRequest(http.MethodPost, "/v1/callbacks/runs/any/status",
		strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.SetPathValue("id", "any")
	w := httptest.NewRecorder()

	env.callbacks.HandleStatus(w, r)

	// The carrier should not retry status posts for runs we no longer track.
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestStatusCallbackRequiresFields(t *testing.T) {
	env := newTestEnv(t)

	r := httptest.NewRequest(http.MethodPost, "/v1/callbacks/runs/any/status", strings.NewReader(""))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.SetPathValue("id", "any")
	w := httptest.NewRecorder()

	env.callbacks.HandleStatus(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
