package cache

import (
	"context"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryConfig configures the in-memory cache store.
type MemoryConfig struct {
	// SweepInterval controls the background sweep of expired entries.
	// Zero disables the sweep; reads still evict lazily.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultMemoryConfig returns the default in-memory cache configuration.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		SweepInterval: 10 * time.Minute,
	}
}

type memoryEntry struct {
	value     []byte
	createdAt time.Time
	ttl       time.Duration
}

func (e memoryEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) > e.ttl
}

// MemoryStore is the process-local cache backend. Concurrent readers do not
// contend; writers are serialized by the store mutex. The design leaves room
// for a size cap or LRU policy without changing the Store contract.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	logger  *zap.Logger
	done    chan struct{}
	closed  bool
}

// NewMemoryStore creates an in-memory cache store and starts the background
// sweep when configured.
func NewMemoryStore(cfg MemoryConfig, logger *zap.Logger) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		logger:  logger.With(zap.String("component", "cache")),
		done:    make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go s.sweepLoop(cfg.SweepInterval)
	}
	return s
}

// Get returns the value for key, lazily evicting it when expired.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrCacheMiss
	}
	if e.expired(time.Now()) {
		s.mu.Lock()
		// Re-check under the write lock; another writer may have refreshed it.
		if cur, ok := s.entries[key]; ok && cur.expired(time.Now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, ErrCacheMiss
	}
	return e.value, nil
}

// Set stores value under key. ttl of NoExpiry keeps the entry forever.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, createdAt: time.Now(), ttl: ttl}
	return nil
}

// Delete removes the given keys.
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// ClearPattern removes entries whose key matches the regular expression.
func (s *MemoryStore) ClearPattern(ctx context.Context, pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k := range s.entries {
		if re.MatchString(k) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

// ClearAll drops every entry.
func (s *MemoryStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]memoryEntry)
	return nil
}

// SweepExpired removes expired entries and returns the count reclaimed.
func (s *MemoryStore) SweepExpired(ctx context.Context) (int, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of live entries, counting expired but unswept ones.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the background sweep.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			n, _ := s.SweepExpired(context.Background())
			if n > 0 {
				s.logger.Debug("cache sweep reclaimed entries", zap.Int("count", n))
			}
		}
	}
}
