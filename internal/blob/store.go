// Package blob persists raw audio bytes by customer and call id, returning
// stable reference keys the rest of the platform stores instead of bytes.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Store is the content store contract.
type Store interface {
	// Put persists data and returns a stable reference key.
	Put(ctx context.Context, customerID, callID string, data []byte) (string, error)
	// Get returns the bytes for a reference produced by Put.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Delete removes the stored bytes for a reference.
	Delete(ctx context.Context, ref string) error
}

// Ref builds the canonical reference key.
func Ref(customerID, callID string) string {
	return sanitize(customerID) + "/" + sanitize(callID)
}

// sanitize keeps ids filesystem-safe and blocks path traversal.
func sanitize(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, "\\", "_")
	id = strings.ReplaceAll(id, "..", "_")
	return id
}

// FSStore keeps audio on the local filesystem under root/customer/call.
type FSStore struct {
	root   string
	logger *zap.Logger
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string, logger *zap.Logger) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FSStore{
		root:   root,
		logger: logger.With(zap.String("component", "blob")),
	}, nil
}

func (s *FSStore) path(ref string) string {
	return filepath.Join(s.root, filepath.FromSlash(sanitizeRef(ref)))
}

func sanitizeRef(ref string) string {
	parts := strings.Split(ref, "/")
	for i, p := range parts {
		parts[i] = sanitize(p)
	}
	return strings.Join(parts, "/")
}

func (s *FSStore) Put(ctx context.Context, customerID, callID string, data []byte) (string, error) {
	ref := Ref(customerID, callID)
	path := s.path(ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("storage error: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("storage error: %w", err)
	}
	s.logger.Debug("audio stored", zap.String("ref", ref), zap.Int("bytes", len(data)))
	return ref, nil
}

func (s *FSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(s.path(ref))
	if err != nil {
		return nil, fmt.Errorf("storage error: object not found: %s: %w", ref, err)
	}
	return data, nil
}

func (s *FSStore) Delete(ctx context.Context, ref string) error {
	if err := os.Remove(s.path(ref)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage error: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store used in tests and for short-lived
// synthesized audio published to the callback surface.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, customerID, callID string, data []byte) (string, error) {
	ref := Ref(customerID, callID)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[ref] = cp
	return ref, nil
}

func (s *MemoryStore) Get(ctx context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[ref]
	if !ok {
		return nil, fmt.Errorf("storage error: object not found: %s", ref)
	}
	return data, nil
}

func (s *MemoryStore) Delete(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, ref)
	return nil
}
