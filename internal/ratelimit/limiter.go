// Package ratelimit implements fixed-window request admission control keyed
// by (actor, endpoint class). Requests beyond the window maximum are
// rejected, never queued.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Endpoint classes with independently configured windows.
const (
	ClassIngest      = "ingest"
	ClassBatchIngest = "batch_ingest"
	ClassAPI         = "api"
)

// ClassConfig is the window length and maximum for one endpoint class.
type ClassConfig struct {
	Window time.Duration `yaml:"window" json:"window"`
	Max    int           `yaml:"max" json:"max"`
}

// Config configures the limiter.
type Config struct {
	Classes       map[string]ClassConfig `yaml:"classes" json:"classes"`
	SweepInterval time.Duration          `yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultConfig returns per-class defaults: single-item ingestion is tighter
// than general API traffic, batch ingestion tighter still.
func DefaultConfig() Config {
	return Config{
		Classes: map[string]ClassConfig{
			ClassIngest:      {Window: time.Minute, Max: 60},
			ClassBatchIngest: {Window: time.Minute, Max: 10},
			ClassAPI:         {Window: time.Minute, Max: 300},
		},
		SweepInterval: 5 * time.Minute,
	}
}

// Result is the outcome of an admission check.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

type window struct {
	count     int
	resetTime time.Time
}

// Limiter tracks fixed windows per (key, class). Windows whose reset time
// has passed are dropped by a background sweep to bound memory.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewLimiter creates a limiter and starts the background sweep when
// configured.
func NewLimiter(cfg Config, logger *zap.Logger) *Limiter {
	if cfg.Classes == nil {
		cfg = DefaultConfig()
	}
	l := &Limiter{
		windows: make(map[string]*window),
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "ratelimit")),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go l.sweepLoop(cfg.SweepInterval)
	}
	return l
}

// CheckAndConsume admits or rejects one request for key within class. The
// count resets atomically when the window has elapsed; it never exceeds the
// class maximum while the window is open.
func (l *Limiter) CheckAndConsume(key, class string) Result {
	cc, ok := l.cfg.Classes[class]
	if !ok || cc.Max <= 0 {
		cc = ClassConfig{Window: time.Minute, Max: 60}
	}

	now := l.now()
	composite := key + "|" + class

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.windows[composite]
	if !exists || now.After(w.resetTime) {
		w = &window{count: 0, resetTime: now.Add(cc.Window)}
		l.windows[composite] = w
	}

	if w.count >= cc.Max {
		return Result{
			Allowed:    false,
			Limit:      cc.Max,
			Remaining:  0,
			ResetTime:  w.resetTime,
			RetryAfter: w.resetTime.Sub(now),
		}
	}

	w.count++
	return Result{
		Allowed:   true,
		Limit:     cc.Max,
		Remaining: cc.Max - w.count,
		ResetTime: w.resetTime,
	}
}

// Sweep drops windows whose reset time has passed and returns the count.
func (l *Limiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, w := range l.windows {
		if now.After(w.resetTime) {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

// Close stops the background sweep.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.done)
}

func (l *Limiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("rate limit sweep dropped windows", zap.Int("count", n))
			}
		}
	}
}
