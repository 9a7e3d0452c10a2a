package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssistantErrorWrapping(t *testing.T) {
	err := NewAssistantError("orchestration.Execute", "routing", ErrUnknownIntent)

	assert.True(t, errors.Is(err, ErrUnknownIntent))
	assert.Contains(t, err.Error(), "orchestration.Execute")

	var ae *AssistantError
	assert.True(t, errors.As(err, &ae))
	assert.Equal(t, "routing", ae.Kind)
}

func TestAssistantErrorWithID(t *testing.T) {
	err := &AssistantError{
		Op:   "providers.Mux.Adapter",
		Kind: "lookup",
		ID:   "shopping",
		Err:  ErrAPINotFound,
	}
	assert.Contains(t, err.Error(), "[shopping]")
	assert.True(t, errors.Is(err, ErrAPINotFound))
}

func TestIsRoutingError(t *testing.T) {
	assert.True(t, IsRoutingError(fmt.Errorf("wrap: %w", ErrUnknownIntent)))
	assert.True(t, IsRoutingError(fmt.Errorf("wrap: %w", ErrAPINotFound)))
	assert.False(t, IsRoutingError(ErrAPITimeout))
	assert.False(t, IsRoutingError(nil))
}

func TestIsConfigurationError(t *testing.T) {
	assert.True(t, IsConfigurationError(fmt.Errorf("bad: %w", ErrInvalidConfiguration)))
	assert.True(t, IsConfigurationError(ErrMissingConfiguration))
	assert.False(t, IsConfigurationError(ErrAPIError))
}
