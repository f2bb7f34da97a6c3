package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voxlens/voxlens/internal/blob"
	"github.com/voxlens/voxlens/internal/faults"
	"github.com/voxlens/voxlens/internal/tlsutil"
	"github.com/voxlens/voxlens/orchestrator"
	"github.com/voxlens/voxlens/providers"
	"github.com/voxlens/voxlens/speech"
	"github.com/voxlens/voxlens/telephony"
	"github.com/voxlens/voxlens/types"
)

const (
	// answerWaitTimeout bounds how long an answered call waits for the
	// next synthesized utterance before the carrier connection is let go.
	answerWaitTimeout = 10 * time.Second

	// recordMaxSeconds caps the agent's reply recording per turn.
	recordMaxSeconds = 60

	recordingFetchTimeout = 30 * time.Second
)

// CallbackHandler serves the carrier-facing callback surface for test runs:
// answer webhooks that return call-control instructions, status updates,
// recording-ready events, and the audio files those instructions reference.
type CallbackHandler struct {
	orch     *orchestrator.Orchestrator
	blobs    blob.Store
	registry *providers.Registry
	baseURL  string
	client   *http.Client
	logger   *zap.Logger
}

// NewCallbackHandler creates a callback handler. baseURL is the externally
// reachable prefix the carrier uses to fetch audio and post recordings.
func NewCallbackHandler(orch *orchestrator.Orchestrator, blobs blob.Store, registry *providers.Registry, baseURL string, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		orch:     orch,
		blobs:    blobs,
		registry: registry,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   tlsutil.SecureHTTPClient(recordingFetchTimeout),
		logger:   logger.With(zap.String("component", "api_callbacks")),
	}
}

// HandleAnswer responds to the carrier's answer webhook with instructions
// that play the next queued utterance and record the agent's reply. When no
// utterance arrives in time the call is hung up.
//
//	POST /v1/callbacks/runs/{id}/answer
func (h *CallbackHandler) HandleAnswer(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	instructions := telephony.NewInstructions()
	ref, ok := h.orch.NextAudioRef(r.Context(), runID, answerWaitTimeout)
	if ok {
		instructions.
			Play(h.audioURL(ref)).
			Record(h.callbackURL(runID, "recording"), recordMaxSeconds)
	} else {
		h.logger.Warn("no utterance ready for answered call", zap.String("run_id", runID))
		instructions.Hangup()
	}

	h.writeInstructions(w, instructions)
}

// HandleRecording ingests a recording-ready event: it fetches the recording,
// transcribes it, and appends the agent's reply to the run transcript.
//
//	POST /v1/callbacks/runs/{id}/recording
func (h *CallbackHandler) HandleRecording(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	recordingURL := r.FormValue("RecordingUrl")
	if recordingURL == "" {
		WriteError(w, types.NewError(types.ErrValidation, "missing RecordingUrl"), h.logger)
		return
	}

	audio, err := h.fetchRecording(r, recordingURL)
	if err != nil {
		h.logger.Error("recording fetch failed",
			zap.String("run_id", runID),
			zap.String("url", recordingURL),
			zap.Error(err))
		WriteError(w, err, h.logger)
		return
	}

	resp, err := h.registry.Transcribe(r.Context(), audio, &speech.STTRequest{
		Language: speech.LanguageAuto,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	entry := types.TranscriptEntry{
		Role:       types.RoleAgent,
		Text:       resp.Text,
		DurationMs: int64(resp.Duration * 1000),
		Confidence: resp.Confidence,
		Language:   resp.Language,
	}
	if err := h.orch.AgentReplied(r.Context(), runID, entry); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("agent reply transcribed",
		zap.String("run_id", runID),
		zap.String("provider", resp.Provider),
		zap.Int("chars", len(resp.Text)))

	// The carrier expects instructions for what happens after the
	// recording; the answer flow drives the next turn, so just continue.
	h.writeInstructions(w, telephony.NewInstructions().Redirect(h.callbackURL(runID, "answer")))
}

// HandleStatus records carrier call-status transitions against the run.
//
//	POST /v1/callbacks/runs/{id}/status
func (h *CallbackHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	callSID := r.FormValue("CallSid")
	status := r.FormValue("CallStatus")
	if callSID == "" || status == "" {
		WriteError(w, types.NewError(types.ErrValidation, "missing CallSid or CallStatus"), h.logger)
		return
	}

	if err := h.orch.CarrierStatus(r.Context(), callSID, status); err != nil {
		// Status callbacks can outlive the run record; acknowledge anyway
		// so the carrier stops retrying.
		h.logger.Warn("status callback for unknown call",
			zap.String("call_sid", callSID),
			zap.String("status", status),
			zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAudio serves a synthesized utterance referenced from play
// instructions.
//
//	GET /v1/callbacks/audio/{ref...}
func (h *CallbackHandler) HandleAudio(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	data, err := h.blobs.Get(r.Context(), ref)
	if err != nil {
		WriteError(w, faults.Classify(err), h.logger)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("audio write failed", zap.String("ref", ref), zap.Error(err))
	}
}

func (h *CallbackHandler) fetchRecording(r *http.Request, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid recording URL").WithCause(err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrNetwork, "fetching recording").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewError(types.ErrNetwork, fmt.Sprintf("recording fetch returned %d", resp.StatusCode)).
			WithRetryable(resp.StatusCode >= 500)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioUploadBytes+1))
	if err != nil {
		return nil, types.NewError(types.ErrNetwork, "reading recording body").WithCause(err).WithRetryable(true)
	}
	if len(data) > maxAudioUploadBytes {
		return nil, types.NewError(types.ErrPayloadTooLarge, "recording exceeds size limit")
	}
	return data, nil
}

func (h *CallbackHandler) writeInstructions(w http.ResponseWriter, in *telephony.Instructions) {
	w.Header().Set("Content-Type", telephony.ContentType)
	if _, err := w.Write([]byte(in.Render())); err != nil {
		h.logger.Warn("instructions write failed", zap.Error(err))
	}
}

func (h *CallbackHandler) callbackURL(runID, kind string) string {
	return fmt.Sprintf("%s/v1/callbacks/runs/%s/%s", h.baseURL, runID, kind)
}

func (h *CallbackHandler) audioURL(ref string) string {
	return fmt.Sprintf("%s/v1/callbacks/audio/%s", h.baseURL, ref)
}
