package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/voxlens/voxlens/internal/ratelimit"
	"github.com/voxlens/voxlens/internal/store"
	"github.com/voxlens/voxlens/orchestrator"
	"github.com/voxlens/voxlens/types"
)

// RunHandler serves simulated test-run endpoints.
type RunHandler struct {
	runs    *store.RunStore
	orch    *orchestrator.Orchestrator
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewRunHandler creates a run handler.
func NewRunHandler(runs *store.RunStore, orch *orchestrator.Orchestrator, limiter *ratelimit.Limiter, logger *zap.Logger) *RunHandler {
	return &RunHandler{
		runs:    runs,
		orch:    orch,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "api_runs")),
	}
}

// HandleStart launches a simulated call against a live agent.
//
//	POST /api/v1/runs
func (h *RunHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	customerID := CustomerID(r)
	if h.limiter != nil {
		res := h.limiter.CheckAndConsume(customerID, ratelimit.ClassIngest)
		if !res.Allowed {
			WriteError(w, types.NewError(types.ErrRateLimited, "rate limit exceeded").
				WithRetryable(true).
				WithRetryAfter(res.RetryAfter), h.logger)
			return
		}
	}

	var cfg types.RunConfig
	if DecodeJSONBody(w, r, &cfg, h.logger) != nil {
		return
	}

	run, err := h.orch.Start(r.Context(), customerID, cfg)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("run started",
		zap.String("run_id", run.ID),
		zap.String("customer_id", customerID),
		zap.String("agent_endpoint", cfg.AgentEndpoint))
	WriteAccepted(w, run)
}

// HandleGet returns one run with its transcript and evaluation.
//
//	GET /api/v1/runs/{id}
func (h *RunHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, run)
}

// HandleList returns the customer's recent runs, newest first.
//
//	GET /api/v1/runs?limit=
func (h *RunHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.List(r.Context(), CustomerID(r), intQuery(r.URL.Query().Get("limit"), 50))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// HandleCancel stops an in-flight run.
//
//	POST /api/v1/runs/{id}/cancel
func (h *RunHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.orch.Cancel(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"id": id, "status": string(types.RunFailed)})
}
