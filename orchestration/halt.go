package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/askcart/askcart/core"
)

// haltKeyPrefix namespaces halt records in the backing store
const haltKeyPrefix = "halt:"

// MemoryHaltStore persists halt records through a core.Memory with TTL.
// With core.MemoryStore it serves single-process deployments and tests;
// with core.RedisStore the records survive process restarts and are
// shared across workers.
type MemoryHaltStore struct {
	memory core.Memory
	ttl    time.Duration
	logger core.Logger
}

// NewHaltStore creates a halt store over a Memory backend.
// ttl below the 10 minute consent window is raised to it.
func NewHaltStore(memory core.Memory, ttl time.Duration, logger core.Logger) *MemoryHaltStore {
	if ttl < 10*time.Minute {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &MemoryHaltStore{memory: memory, ttl: ttl, logger: logger}
}

// Get loads the session's halt record. A missing record returns
// (nil, nil); storage faults return an error.
func (s *MemoryHaltStore) Get(ctx context.Context, sessionID string) (*HaltRecord, error) {
	raw, err := s.memory.Get(ctx, haltKeyPrefix+sessionID)
	if err != nil {
		return nil, fmt.Errorf("halt store get: %w", err)
	}
	if raw == "" {
		return nil, nil
	}

	var rec HaltRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// A corrupt record is unrecoverable; treat as absent so the
		// turn starts fresh instead of failing.
		s.logger.Warn("Discarding unreadable halt record", map[string]interface{}{
			"operation":  "halt_get",
			"session_id": sessionID,
			"error":      err.Error(),
		})
		_ = s.memory.Delete(ctx, haltKeyPrefix+sessionID)
		return nil, nil
	}
	return &rec, nil
}

// Set persists the session's halt record with the store TTL
func (s *MemoryHaltStore) Set(ctx context.Context, sessionID string, record *HaltRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("halt store marshal: %w", err)
	}
	if err := s.memory.Set(ctx, haltKeyPrefix+sessionID, string(data), s.ttl); err != nil {
		return fmt.Errorf("halt store set: %w (%v)", core.ErrHaltPersistence, err)
	}
	s.logger.Debug("Halt record persisted", map[string]interface{}{
		"operation":    "halt_set",
		"session_id":   sessionID,
		"tier_reached": record.TierReached,
		"consent_type": string(record.PendingConsentType),
		"ttl":          s.ttl.String(),
	})
	return nil
}

// Delete removes the session's halt record
func (s *MemoryHaltStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.memory.Delete(ctx, haltKeyPrefix+sessionID); err != nil {
		return fmt.Errorf("halt store delete: %w", err)
	}
	return nil
}
