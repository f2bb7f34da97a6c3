package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHub_NotifyWakesWaiter(t *testing.T) {
	h := NewHub()

	done := make(chan bool, 1)
	go func() {
		done <- h.Wait(context.Background(), "run-1", time.Second)
	}()

	// Give the waiter time to subscribe.
	time.Sleep(20 * time.Millisecond)
	h.Notify("run-1")

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestHub_WaitTimeout(t *testing.T) {
	h := NewHub()
	start := time.Now()
	ok := h.Wait(context.Background(), "run-1", 30*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestHub_WaitContextCancel(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	assert.False(t, h.Wait(ctx, "run-1", time.Second))
}

func TestHub_NotifyWithoutWaitersDropped(t *testing.T) {
	h := NewHub()
	h.Notify("run-1")
	// A later wait does not see the earlier signal.
	assert.False(t, h.Wait(context.Background(), "run-1", 20*time.Millisecond))
}

func TestHub_KeysAreIndependent(t *testing.T) {
	h := NewHub()
	go func() {
		time.Sleep(10 * time.Millisecond)
		h.Notify("other")
	}()
	assert.False(t, h.Wait(context.Background(), "run-1", 50*time.Millisecond))
}

func TestHub_MultipleWaiters(t *testing.T) {
	h := NewHub()

	var woke atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.Wait(context.Background(), "run-1", time.Second) {
				woke.Add(1)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	h.Notify("run-1")
	wg.Wait()
	assert.Equal(t, int32(5), woke.Load())
}

func TestHub_WaitFor(t *testing.T) {
	h := NewHub()

	var entries atomic.Int32
	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(15 * time.Millisecond)
			entries.Add(1)
			h.Notify("run-1")
		}
	}()

	ok := h.WaitFor(context.Background(), "run-1", time.Second, func() bool {
		return entries.Load() >= 3
	})
	assert.True(t, ok)
}

func TestHub_WaitForAlreadySatisfied(t *testing.T) {
	h := NewHub()
	start := time.Now()
	ok := h.WaitFor(context.Background(), "run-1", time.Second, func() bool { return true })
	assert.True(t, ok)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestHub_WaitForTimeout(t *testing.T) {
	h := NewHub()
	ok := h.WaitFor(context.Background(), "run-1", 30*time.Millisecond, func() bool { return false })
	assert.False(t, ok)
}
