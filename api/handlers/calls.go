package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxlens/voxlens/export"
	"github.com/voxlens/voxlens/internal/metrics"
	"github.com/voxlens/voxlens/internal/ratelimit"
	"github.com/voxlens/voxlens/internal/store"
	"github.com/voxlens/voxlens/pipeline"
	"github.com/voxlens/voxlens/types"
)

// maxAudioUploadBytes bounds a single audio upload.
const maxAudioUploadBytes = 100 << 20

// CallHandler serves call ingestion and lifecycle endpoints.
type CallHandler struct {
	calls     *store.CallStore
	pipeline  *pipeline.Pipeline
	limiter   *ratelimit.Limiter
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewCallHandler creates a call handler.
func NewCallHandler(calls *store.CallStore, pl *pipeline.Pipeline, limiter *ratelimit.Limiter, collector *metrics.Collector, logger *zap.Logger) *CallHandler {
	return &CallHandler{
		calls:     calls,
		pipeline:  pl,
		limiter:   limiter,
		collector: collector,
		logger:    logger.With(zap.String("component", "api_calls")),
	}
}

// ingestResponse is returned immediately; processing continues in the
// background.
type ingestResponse struct {
	ID       string           `json:"id"`
	Status   types.CallStatus `json:"status"`
	Progress int              `json:"progress"`
}

// HandleIngest accepts a multipart audio upload plus metadata and starts
// the evaluation pipeline.
//
//	POST /api/v1/calls
func (h *CallHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	customerID := CustomerID(r)
	if !h.admit(w, customerID, ratelimit.ClassIngest) {
		return
	}

	audio, metadata, err := readUpload(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	call := &types.CallRecord{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Metadata:   metadata,
		Status:     types.CallPending,
	}
	if err := h.calls.Create(r.Context(), call); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.pipeline.Process(call.ID, audio)
	h.logger.Info("call ingested",
		zap.String("call_id", call.ID),
		zap.String("customer_id", customerID),
		zap.Int("audio_bytes", len(audio)))

	WriteAccepted(w, ingestResponse{ID: call.ID, Status: call.Status})
}

// HandleGet returns one call with its transcript and evaluation.
//
//	GET /api/v1/calls/{id}
func (h *CallHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	call, err := h.calls.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, call)
}

// HandleList returns calls for the requesting customer, newest first.
//
//	GET /api/v1/calls?agent_id=&status=&limit=&offset=
func (h *CallHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, CustomerID(r), ratelimit.ClassAPI) {
		return
	}

	q := r.URL.Query()
	filter := store.CallFilter{
		CustomerID: CustomerID(r),
		AgentID:    q.Get("agent_id"),
		Status:     types.CallStatus(q.Get("status")),
		Limit:      intQuery(q.Get("limit"), 50),
		Offset:     intQuery(q.Get("offset"), 0),
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = t
		}
	}

	calls, err := h.calls.List(r.Context(), filter)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"calls": calls,
		"count": len(calls),
	})
}

// HandleRetry resets a failed call and reprocesses its stored audio.
//
//	POST /api/v1/calls/{id}/retry
func (h *CallHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	call, err := h.pipeline.Retry(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteAccepted(w, ingestResponse{ID: call.ID, Status: call.Status, Progress: call.Progress})
}

// HandleCancel marks an in-flight call failed and abandons its provider
// calls.
//
//	POST /api/v1/calls/{id}/cancel
func (h *CallHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.pipeline.Cancel(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"id": id, "status": string(types.CallFailed)})
}

// HandleDelete soft-deletes a call.
//
//	DELETE /api/v1/calls/{id}
func (h *CallHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.calls.Delete(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"id": id, "deleted": "true"})
}

// HandleExport renders a call in the requested format.
//
//	GET /api/v1/calls/{id}/export?format=json|csv|csv_entries|report
func (h *CallHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	call, err := h.calls.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	body, err := export.Render(call, format)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", exportFilename(call.ID, format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// admit applies the domain rate limit and writes the standard headers.
// Returns false when the request was rejected.
func (h *CallHandler) admit(w http.ResponseWriter, customerID, class string) bool {
	if h.limiter == nil {
		return true
	}

	res := h.limiter.CheckAndConsume(customerID, class)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
	if res.Allowed {
		return true
	}

	if h.collector != nil {
		h.collector.RecordRateLimitDenied(class)
	}
	WriteError(w, types.NewError(types.ErrRateLimited, "rate limit exceeded").
		WithRetryable(true).
		WithRetryAfter(res.RetryAfter), h.logger)
	return false
}

func readUpload(r *http.Request) ([]byte, types.CallMetadata, error) {
	var meta types.CallMetadata

	if err := r.ParseMultipartForm(maxAudioUploadBytes); err != nil {
		return nil, meta, types.NewError(types.ErrInvalidRequest, "invalid multipart form").WithCause(err)
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		return nil, meta, types.NewError(types.ErrValidation, "audio file is required")
	}
	defer file.Close()

	if header.Size > maxAudioUploadBytes {
		return nil, meta, types.NewError(types.ErrPayloadTooLarge,
			fmt.Sprintf("audio exceeds %d bytes", maxAudioUploadBytes))
	}

	audio, err := io.ReadAll(io.LimitReader(file, maxAudioUploadBytes+1))
	if err != nil {
		return nil, meta, types.NewError(types.ErrStorage, "failed to read audio upload").WithCause(err)
	}
	if len(audio) == 0 {
		return nil, meta, types.NewError(types.ErrValidation, "audio file is empty")
	}
	if len(audio) > maxAudioUploadBytes {
		return nil, meta, types.NewError(types.ErrPayloadTooLarge,
			fmt.Sprintf("audio exceeds %d bytes", maxAudioUploadBytes))
	}

	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, meta, types.NewError(types.ErrValidation, "metadata is not valid JSON").WithCause(err)
		}
	}
	return audio, meta, nil
}

func exportFilename(callID string, format export.Format) string {
	switch format {
	case export.FormatCSV, export.FormatCSVEntries:
		return "call-" + callID + ".csv"
	case export.FormatReport:
		return "call-" + callID + ".txt"
	default:
		return "call-" + callID + ".json"
	}
}

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
