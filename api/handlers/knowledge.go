package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxlens/voxlens/internal/store"
	"github.com/voxlens/voxlens/types"
)

// KnowledgeHandler manages job definitions used by deterministic
// jobs-to-be-done scoring.
type KnowledgeHandler struct {
	knowledge *store.KnowledgeStore
	logger    *zap.Logger
}

// NewKnowledgeHandler creates a knowledge-base handler.
func NewKnowledgeHandler(knowledge *store.KnowledgeStore, logger *zap.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{
		knowledge: knowledge,
		logger:    logger.With(zap.String("component", "api_knowledge")),
	}
}

// HandleUpsert creates or replaces a job definition.
//
//	POST /api/v1/knowledge
func (h *KnowledgeHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	var entry types.KnowledgeBaseEntry
	if DecodeJSONBody(w, r, &entry, h.logger) != nil {
		return
	}
	if strings.TrimSpace(entry.AgentID) == "" || strings.TrimSpace(entry.Name) == "" {
		WriteError(w, types.NewError(types.ErrValidation, "agent_id and name are required"), h.logger)
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if err := h.knowledge.Put(r.Context(), &entry); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.logger.Info("knowledge entry stored",
		zap.String("entry_id", entry.ID),
		zap.String("agent_id", entry.AgentID),
		zap.Int("required_steps", len(entry.RequiredSteps)))
	WriteCreated(w, entry)
}

// HandleGet returns one job definition.
//
//	GET /api/v1/knowledge/{id}
func (h *KnowledgeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	entry, err := h.knowledge.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, entry)
}

// HandleList returns job definitions for an agent.
//
//	GET /api/v1/knowledge?agent_id=
func (h *KnowledgeHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		WriteError(w, types.NewError(types.ErrValidation, "agent_id query parameter is required"), h.logger)
		return
	}
	entries, err := h.knowledge.ForAgent(r.Context(), agentID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// HandleDelete removes a job definition.
//
//	DELETE /api/v1/knowledge/{id}
func (h *KnowledgeHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.knowledge.Delete(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"id": id, "status": "deleted"})
}
