// Package cache provides content-addressed result caching with per-entry
// TTLs. Transcript entries key on a fingerprint of the raw audio bytes and
// never expire; evaluation entries key on the call id with a finite TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NoExpiry marks an entry that never expires.
const NoExpiry time.Duration = 0

// ErrCacheMiss is returned when a key is absent or its TTL has elapsed.
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss reports whether err is a cache miss.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Store is the cache contract shared by the in-memory and Redis backends.
// A read after the entry's TTL elapses behaves as a miss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// ClearPattern removes every entry whose key matches the regular
	// expression and returns the number removed.
	ClearPattern(ctx context.Context, pattern string) (int, error)
	ClearAll(ctx context.Context) error

	// SweepExpired reclaims expired entries eagerly and returns the count.
	SweepExpired(ctx context.Context) (int, error)

	Close() error
}

// Fingerprint returns the deterministic cache key for a byte payload.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// TranscriptKey builds the cache key for a transcript computed from the
// given audio fingerprint.
func TranscriptKey(fingerprint string) string {
	return "transcript:" + fingerprint
}

// EvaluationKey builds the cache key for an evaluation result by call id.
func EvaluationKey(callID string) string {
	return "evaluation:" + callID
}

// GetJSON reads a key and unmarshals it into dest.
func GetJSON(ctx context.Context, s Store, key string, dest any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// SetJSON marshals value and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return s.Set(ctx, key, data, ttl)
}
