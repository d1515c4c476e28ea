package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorFormatsFieldAndUnwraps(t *testing.T) {
	ve := NewValidationError("agent.num_workers", ErrInvalidValue)
	assert.Contains(t, ve.Error(), "agent.num_workers")
	assert.True(t, errors.Is(ve, ErrInvalidValue))
}

func TestLoadErrorFormatsFileAndUnwraps(t *testing.T) {
	le := NewLoadError("/tmp/missing.yaml", ErrConfigNotFound)
	assert.Contains(t, le.Error(), "/tmp/missing.yaml")
	assert.True(t, errors.Is(le, ErrConfigNotFound))
}
