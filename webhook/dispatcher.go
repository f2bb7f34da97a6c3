// Package webhook delivers signed event notifications to
// customer-registered endpoints. Delivery is fire-and-forget relative to
// the pipeline: failures are retried with fixed backoff and then dropped
// with a log line. There is no guaranteed-delivery queue; that is a
// documented limitation of the design, not a bug.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxlens/voxlens/internal/metrics"
	"github.com/voxlens/voxlens/internal/store"
	"github.com/voxlens/voxlens/internal/tlsutil"
	"github.com/voxlens/voxlens/types"
)

// Payload is the outbound webhook body. Signature is present iff the
// subscription carries a secret, and is computed over the serialized
// payload without the signature field.
type Payload struct {
	Event     string `json:"event"`
	CallID    string `json:"callId"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Config bounds delivery behavior.
type Config struct {
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	// RetryBase is the first retry delay; subsequent delays double.
	RetryBase time.Duration `yaml:"retry_base" json:"retry_base"`
}

// DefaultConfig returns the baseline dispatcher configuration: three
// retries at 1s, 2s, 4s.
func DefaultConfig() Config {
	return Config{
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		RetryBase:  time.Second,
	}
}

// Dispatcher fans events out to a customer's matching subscriptions.
type Dispatcher struct {
	cfg    Config
	subs   *store.SubscriptionStore
	client *http.Client
	logger *zap.Logger

	collector *metrics.Collector
	wg        sync.WaitGroup

	// sleep is replaced in tests to skip real backoff delays.
	sleep func(time.Duration)
}

// NewDispatcher builds a dispatcher. The collector is optional.
func NewDispatcher(cfg Config, subs *store.SubscriptionStore, collector *metrics.Collector, logger *zap.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg = DefaultConfig()
	}
	return &Dispatcher{
		cfg:       cfg,
		subs:      subs,
		client:    tlsutil.SecureHTTPClient(cfg.Timeout),
		collector: collector,
		logger:    logger.With(zap.String("component", "webhook")),
		sleep:     time.Sleep,
	}
}

// Publish delivers an event to every matching subscription of the
// customer, each on its own goroutine. Errors never propagate to the
// caller.
func (d *Dispatcher) Publish(ctx context.Context, customerID, event, callID string, data any) {
	subs, err := d.subs.ForEvent(ctx, customerID, event)
	if err != nil {
		d.logger.Warn("subscription lookup failed, dropping event",
			zap.String("customer_id", customerID),
			zap.String("event", event),
			zap.Error(err))
		return
	}

	for _, sub := range subs {
		sub := sub
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.Deliver(context.Background(), sub, event, callID, data)
		}()
	}
}

// Deliver sends one event to one subscription, retrying transient
// failures with 1s/2s/4s delays before dropping the event.
func (d *Dispatcher) Deliver(ctx context.Context, sub *types.WebhookSubscription, event, callID string, data any) {
	ts := time.Now().UTC()
	body, signature, err := BuildPayload(sub.Secret, event, callID, ts, data)
	if err != nil {
		d.logger.Error("failed to build webhook payload",
			zap.String("subscription_id", sub.ID), zap.Error(err))
		return
	}

	for attempt := 0; ; attempt++ {
		err := d.post(ctx, sub.URL, body, signature, ts)
		if err == nil {
			d.record(event, "delivered")
			d.logger.Debug("webhook delivered",
				zap.String("subscription_id", sub.ID),
				zap.String("event", event),
				zap.Int("attempt", attempt+1))
			return
		}
		if attempt >= d.cfg.MaxRetries {
			d.record(event, "dropped")
			d.logger.Warn("webhook delivery exhausted retries, dropping event",
				zap.String("subscription_id", sub.ID),
				zap.String("url", sub.URL),
				zap.String("event", event),
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return
		}
		d.record(event, "retried")
		d.sleep(d.cfg.RetryBase << uint(attempt))
	}
}

// Flush waits for in-flight deliveries; used on shutdown and in tests.
func (d *Dispatcher) Flush() {
	d.wg.Wait()
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte, signature string, ts time.Time) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Voxlens-Signature", signature)
		req.Header.Set("X-Voxlens-Timestamp", ts.Format(time.RFC3339))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) record(event, outcome string) {
	if d.collector != nil {
		d.collector.RecordWebhookDelivery(event, outcome)
	}
}

// BuildPayload serializes the event payload, signing it when a secret is
// present. The signature is an HMAC-SHA256 hex digest over the payload
// serialized without the signature field, prefixed "sha256=", so
// receivers can reproduce it from the received body minus that field.
// It is embedded in the body and returned separately so Deliver can also
// attach it as a request header.
func BuildPayload(secret, event, callID string, ts time.Time, data any) ([]byte, string, error) {
	p := Payload{
		Event:     event,
		CallID:    callID,
		Timestamp: ts.Format(time.RFC3339),
		Data:      data,
	}
	unsigned, err := json.Marshal(p)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	if secret == "" {
		return unsigned, "", nil
	}

	p.Signature = Sign(secret, unsigned)
	signed, err := json.Marshal(p)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal signed webhook payload: %w", err)
	}
	return signed, p.Signature, nil
}

// Sign computes the "sha256=<hex>" HMAC-SHA256 signature of a canonical
// payload body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret, in
// constant time.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
