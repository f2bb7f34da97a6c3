package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxlens/voxlens/internal/store"
	"github.com/voxlens/voxlens/types"
)

func testDispatcher(t *testing.T) (*Dispatcher, *store.Stores) {
	t.Helper()
	db, err := store.Open(store.Config{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	stores := store.New(db)

	d := NewDispatcher(DefaultConfig(), stores.Subscriptions, nil, zap.NewNop())
	d.sleep = func(time.Duration) {}
	return d, stores
}

func TestSignReproducible(t *testing.T) {
	secret := "fixed-secret"
	body := []byte(`{"event":"call.completed","callId":"c1","timestamp":"2026-01-02T03:04:05Z"}`)

	// The signature must equal a from-scratch HMAC-SHA256 hex digest so
	// receivers in any language can reproduce it.
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, Sign(secret, body))
	assert.True(t, Verify(secret, body, want))
	assert.False(t, Verify("other-secret", body, want))
}

func TestBuildPayloadSignatureExcludesItself(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	body, sig, err := BuildPayload("s3cret", "call.completed", "call-1", ts, map[string]any{"grade": "A"})
	require.NoError(t, err)

	var p Payload
	require.NoError(t, json.Unmarshal(body, &p))
	require.NotEmpty(t, p.Signature)
	assert.Equal(t, p.Signature, sig)

	// Reserialize without the signature field and verify against it.
	p.Signature = ""
	unsigned, err := json.Marshal(p)
	require.NoError(t, err)

	var got Payload
	require.NoError(t, json.Unmarshal(body, &got))
	assert.True(t, Verify("s3cret", unsigned, got.Signature))
}

func TestBuildPayloadWithoutSecretHasNoSignature(t *testing.T) {
	body, sig, err := BuildPayload("", "call.failed", "call-1", time.Now(), nil)
	require.NoError(t, err)
	assert.Empty(t, sig)

	var p Payload
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Empty(t, p.Signature)
}

func TestDeliverPostsPayload(t *testing.T) {
	type delivery struct {
		body      []byte
		signature string
		timestamp string
	}
	received := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		received <- delivery{
			body:      body,
			signature: r.Header.Get("X-Voxlens-Signature"),
			timestamp: r.Header.Get("X-Voxlens-Timestamp"),
		}
	}))
	defer srv.Close()

	d, _ := testDispatcher(t)
	d.Deliver(context.Background(), &types.WebhookSubscription{
		ID: "sub-1", URL: srv.URL, Secret: "k",
	}, "call.completed", "call-1", map[string]string{"grade": "B"})

	select {
	case got := <-received:
		var p Payload
		require.NoError(t, json.Unmarshal(got.body, &p))
		assert.Equal(t, "call.completed", p.Event)
		assert.Equal(t, "call-1", p.CallID)
		assert.NotEmpty(t, p.Signature)

		// The signature rides both in the body and as a header, with the
		// payload timestamp alongside it.
		assert.Equal(t, p.Signature, got.signature)
		assert.Equal(t, p.Timestamp, got.timestamp)
	default:
		t.Fatal("no webhook received")
	}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer srv.Close()

	d, _ := testDispatcher(t)
	d.Deliver(context.Background(), &types.WebhookSubscription{
		ID: "sub-1", URL: srv.URL,
	}, "call.completed", "call-1", nil)

	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliverDropsAfterExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, _ := testDispatcher(t)
	d.Deliver(context.Background(), &types.WebhookSubscription{
		ID: "sub-1", URL: srv.URL,
	}, "call.completed", "call-1", nil)

	// Initial attempt plus three retries, then the event is dropped.
	assert.Equal(t, int32(4), calls.Load())
}

func TestPublishFansOutToMatchingSubscriptions(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d, stores := testDispatcher(t)
	ctx := context.Background()
	require.NoError(t, stores.Subscriptions.Create(ctx, &types.WebhookSubscription{
		ID: "sub-all", CustomerID: "c1", URL: srv.URL,
	}))
	require.NoError(t, stores.Subscriptions.Create(ctx, &types.WebhookSubscription{
		ID: "sub-failed-only", CustomerID: "c1", URL: srv.URL, Events: []string{"call.failed"},
	}))
	require.NoError(t, stores.Subscriptions.Create(ctx, &types.WebhookSubscription{
		ID: "sub-other-customer", CustomerID: "c2", URL: srv.URL,
	}))

	d.Publish(ctx, "c1", "call.completed", "call-1", nil)
	d.Flush()

	assert.Equal(t, int32(1), hits.Load())
}
