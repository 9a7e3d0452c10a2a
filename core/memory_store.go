package core

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of the Memory interface.
// It backs the halt-record store in single-process deployments and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	store  map[string]memoryEntry
	clock  Clock
	logger Logger
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		store:  make(map[string]memoryEntry),
		clock:  RealClock{},
		logger: &NoOpLogger{},
	}
}

// SetLogger configures the logger for this memory store
func (m *MemoryStore) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SetClock configures the clock; tests inject a fake to drive TTL expiry
func (m *MemoryStore) SetClock(clock Clock) {
	if clock != nil {
		m.clock = clock
	}
}

// Get retrieves a value. Missing or expired keys return "" with no error.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.store[key]
	if !exists {
		return "", nil
	}

	if !entry.expiresAt.IsZero() && m.clock.Now().After(entry.expiresAt) {
		m.logger.Debug("Store entry expired", map[string]interface{}{
			"operation":  "store_get",
			"key":        key,
			"expired_at": entry.expiresAt.Format(time.RFC3339),
		})
		return "", nil
	}

	return entry.value, nil
}

// Set stores a value with optional TTL (0 means no expiry)
func (m *MemoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.clock.Now().Add(ttl)
	}
	m.store[key] = entry

	m.logger.Debug("Store set", map[string]interface{}{
		"operation":  "store_set",
		"key":        key,
		"value_size": len(value),
		"has_ttl":    ttl > 0,
	})
	return nil
}

// Delete removes a value
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, existed := m.store[key]
	delete(m.store, key)

	m.logger.Debug("Store delete", map[string]interface{}{
		"operation": "store_delete",
		"key":       key,
		"existed":   existed,
	})
	return nil
}

// Exists checks if a key exists and has not expired
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.store[key]
	if !exists {
		return false, nil
	}
	if !entry.expiresAt.IsZero() && m.clock.Now().After(entry.expiresAt) {
		return false, nil
	}
	return true, nil
}
