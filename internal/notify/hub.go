// Package notify provides a per-key broadcast hub. The conversation
// orchestrator waits on a run key while the inbound recording callback,
// running in another goroutine, signals it when a new transcript entry is
// appended. This replaces sleep-polling while keeping the same bounded
// timeout semantics.
package notify

import (
	"context"
	"sync"
	"time"
)

// Hub fans out signals to waiters registered on the same key. Signals are
// edge-triggered: a Notify with no waiters is dropped, so callers must
// subscribe before checking the condition they wait on.
type Hub struct {
	mu      sync.Mutex
	waiters map[string]map[chan struct{}]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{waiters: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe registers a waiter on key. The returned channel receives one
// close on the next Notify; cancel must be called to release the waiter.
func (h *Hub) Subscribe(key string) (<-chan struct{}, func()) {
	ch := make(chan struct{})

	h.mu.Lock()
	set, ok := h.waiters[key]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.waiters[key] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.waiters[key]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.waiters, key)
			}
		}
	}
	return ch, cancel
}

// Notify wakes every waiter currently subscribed on key.
func (h *Hub) Notify(key string) {
	h.mu.Lock()
	set := h.waiters[key]
	delete(h.waiters, key)
	h.mu.Unlock()

	for ch := range set {
		close(ch)
	}
}

// Wait blocks until key is notified, the timeout elapses, or ctx is
// canceled. Returns true only when notified.
func (h *Hub) Wait(ctx context.Context, key string, timeout time.Duration) bool {
	ch, cancel := h.Subscribe(key)
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// WaitFor repeatedly waits for notifications until cond returns true, the
// timeout elapses, or ctx is canceled. cond is evaluated once before
// waiting, so a condition that already holds returns immediately.
func (h *Hub) WaitFor(ctx context.Context, key string, timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		ch, cancel := h.Subscribe(key)
		if cond() {
			cancel()
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			cancel()
			return false
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
			cancel()
		case <-timer.C:
			cancel()
			return false
		case <-ctx.Done():
			timer.Stop()
			cancel()
			return false
		}
	}
}
