// Package conversation is the turn-level layer between the chat surface
// and the orchestrator: it owns sessions, detects intent, checks for a
// pending consent halt, and renders orchestration results as replies.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/askcart/askcart/core"
)

const sessionKeyPrefix = "session:"

// Session is the per-conversation state that persists across turns
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id,omitempty"`
	AccountToggleOn bool      `json:"account_toggle_on"`
	CreatedAt       time.Time `json:"created_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	Turns           int       `json:"turns"`
}

// SessionManager stores sessions in a Memory backend with a sliding TTL
type SessionManager struct {
	memory core.Memory
	ttl    time.Duration
	clock  core.Clock
	logger core.Logger
}

// NewSessionManager creates a session manager. ttl defaults to 30
// minutes when non-positive; each touched session slides its expiry.
func NewSessionManager(memory core.Memory, ttl time.Duration, clock core.Clock, logger core.Logger) *SessionManager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &SessionManager{memory: memory, ttl: ttl, clock: clock, logger: logger}
}

// Ensure loads the session for sessionID, creating one (with a fresh
// UUID when sessionID is empty) if none exists. The returned session is
// already touched for this turn.
func (m *SessionManager) Ensure(ctx context.Context, sessionID, userID string) (*Session, error) {
	if sessionID != "" {
		raw, err := m.memory.Get(ctx, sessionKeyPrefix+sessionID)
		if err != nil {
			return nil, fmt.Errorf("session load: %w", err)
		}
		if raw != "" {
			var s Session
			if err := json.Unmarshal([]byte(raw), &s); err == nil {
				s.LastSeenAt = m.clock.Now()
				s.Turns++
				if err := m.save(ctx, &s); err != nil {
					return nil, err
				}
				return &s, nil
			}
			// Unreadable state: start the session over
			m.logger.Warn("Discarding unreadable session state", map[string]interface{}{
				"operation":  "session_load",
				"session_id": sessionID,
			})
		}
	}

	now := m.clock.Now()
	s := &Session{
		ID:         sessionID,
		UserID:     userID,
		CreatedAt:  now,
		LastSeenAt: now,
		Turns:      1,
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	m.logger.Info("Session created", map[string]interface{}{
		"operation":  "session_create",
		"session_id": s.ID,
		"user_id":    userID,
	})
	return s, nil
}

// SetAccountToggle flips the session's persistent extended-search opt-in
func (m *SessionManager) SetAccountToggle(ctx context.Context, sessionID string, on bool) error {
	raw, err := m.memory.Get(ctx, sessionKeyPrefix+sessionID)
	if err != nil {
		return fmt.Errorf("session load: %w", err)
	}
	if raw == "" {
		return fmt.Errorf("session %s not found", sessionID)
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return fmt.Errorf("session decode: %w", err)
	}
	s.AccountToggleOn = on
	return m.save(ctx, &s)
}

func (m *SessionManager) save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session encode: %w", err)
	}
	if err := m.memory.Set(ctx, sessionKeyPrefix+s.ID, string(data), m.ttl); err != nil {
		return fmt.Errorf("session save: %w", err)
	}
	return nil
}
