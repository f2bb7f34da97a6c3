package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxlens/voxlens/internal/store"
	"github.com/voxlens/voxlens/types"
)

// WebhookHandler manages customer webhook subscriptions.
type WebhookHandler struct {
	subs   *store.SubscriptionStore
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook subscription handler.
func NewWebhookHandler(subs *store.SubscriptionStore, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		subs:   subs,
		logger: logger.With(zap.String("component", "api_webhooks")),
	}
}

type subscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// createdSubscription carries the signing secret exactly once, in the
// creation response. It is never returned by reads.
type createdSubscription struct {
	*types.WebhookSubscription
	Secret string `json:"secret"`
}

// HandleCreate registers a notification endpoint for the customer.
//
//	POST /api/v1/webhooks
func (h *WebhookHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}
	if err := validateWebhookURL(req.URL); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	sub := &types.WebhookSubscription{
		ID:         uuid.NewString(),
		CustomerID: CustomerID(r),
		URL:        req.URL,
		Secret:     newWebhookSecret(),
		Events:     req.Events,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.subs.Create(r.Context(), sub); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("webhook subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("customer_id", sub.CustomerID),
		zap.Strings("events", sub.Events))
	WriteCreated(w, createdSubscription{WebhookSubscription: sub, Secret: sub.Secret})
}

// HandleGet returns one subscription.
//
//	GET /api/v1/webhooks/{id}
func (h *WebhookHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, sub)
}

// HandleList returns the customer's subscriptions.
//
//	GET /api/v1/webhooks
func (h *WebhookHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subs.List(r.Context(), CustomerID(r))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// HandleUpdate replaces a subscription's URL and event filter. The signing
// secret is preserved.
//
//	PUT /api/v1/webhooks/{id}
func (h *WebhookHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}
	if err := validateWebhookURL(req.URL); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	sub, err := h.subs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	sub.URL = req.URL
	sub.Events = req.Events
	if err := h.subs.Update(r.Context(), sub); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, sub)
}

// HandleDelete removes a subscription.
//
//	DELETE /api/v1/webhooks/{id}
func (h *WebhookHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.subs.Delete(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"id": id, "status": "deleted"})
}

func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return types.NewError(types.ErrValidation, "webhook url must be an absolute http(s) URL")
	}
	return nil
}

func newWebhookSecret() string {
	buf := make([]byte, 24)
	rand.Read(buf)
	return "whsec_" + hex.EncodeToString(buf)
}
