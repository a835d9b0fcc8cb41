package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Is(t *testing.T) {
	t.Run("matches sentinel by code", func(t *testing.T) {
		err := NewDomainError(CodeNotFound, "invoice not found")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.False(t, errors.Is(err, ErrForbidden))
	})

	t.Run("matches through wrapping", func(t *testing.T) {
		err := fmt.Errorf("load tenant: %w", NewDomainError(CodeConflict, "duplicate period"))
		assert.True(t, errors.Is(err, ErrConflict))
	})

	t.Run("plain errors never match", func(t *testing.T) {
		assert.False(t, errors.Is(errors.New("boom"), ErrNotFound))
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrUnavailable))
	assert.True(t, IsRetryable(fmt.Errorf("save: %w", ErrConcurrencyConflict)))
	assert.False(t, IsRetryable(ErrInvalidArgument))
	assert.False(t, IsRetryable(errors.New("boom")))
}

func TestFilter_Offset(t *testing.T) {
	f := DefaultFilter()
	assert.Equal(t, 0, f.Offset())
	f.Page = 3
	assert.Equal(t, 40, f.Offset())
	f.Page = 0
	assert.Equal(t, 0, f.Offset())
}
