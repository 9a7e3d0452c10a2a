package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Routing / registry errors
	ErrUnknownIntent = errors.New("unknown intent")
	ErrAPINotFound   = errors.New("api not found")

	// Per-call errors (folded into envelopes, never surfaced directly)
	ErrAPITimeout  = errors.New("api call timeout")
	ErrAPIError    = errors.New("api call failed")
	ErrCircuitOpen = errors.New("circuit breaker open")

	// Halt / consent errors
	ErrHaltPersistence = errors.New("halt record persistence failed")
	ErrHaltNotFound    = errors.New("halt record not found")

	// Operation errors
	ErrContextCanceled = errors.New("context canceled")
	ErrUsageLogFailure = errors.New("usage log write failed")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")
)

// AssistantError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type AssistantError struct {
	Op      string // Operation that failed (e.g., "orchestration.Execute")
	Kind    string // Error kind (e.g., "routing", "halt", "config")
	ID      string // Optional ID of the entity involved (api name, session id)
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *AssistantError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *AssistantError) Unwrap() error {
	return e.Err
}

// NewAssistantError creates a new AssistantError
func NewAssistantError(op, kind string, err error) *AssistantError {
	return &AssistantError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsRoutingError checks if an error is a routing/registry fault
// (programmer or configuration error, fails the orchestration fast)
func IsRoutingError(err error) bool {
	return errors.Is(err, ErrUnknownIntent) ||
		errors.Is(err, ErrAPINotFound)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}
