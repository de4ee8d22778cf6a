package shared

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Is(t *testing.T) {
	t.Run("derived error matches its sentinel", func(t *testing.T) {
		err := ErrDocumentNotFound.WithMessage("purchase line %s not found", "abc")

		assert.True(t, errors.Is(err, ErrDocumentNotFound))
		assert.False(t, errors.Is(err, ErrNotFound))
		assert.Equal(t, "purchase line abc not found", err.Error())
	})

	t.Run("wrapped error matches", func(t *testing.T) {
		err := fmt.Errorf("record: %w", ErrInvalidQuantity)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("non domain error does not match", func(t *testing.T) {
		assert.False(t, ErrInvalidInput.Is(errors.New("INVALID_INPUT")))
	})
}

func TestResolveAt(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFixedClock(fixed)

	t.Run("nil uses clock", func(t *testing.T) {
		assert.Equal(t, fixed, ResolveAt(clock, nil))
	})

	t.Run("explicit value wins", func(t *testing.T) {
		at := fixed.Add(-time.Hour)
		assert.Equal(t, at, ResolveAt(clock, &at))
	})

	t.Run("clock can advance", func(t *testing.T) {
		c := NewFixedClock(fixed)
		c.Advance(24 * time.Hour)
		assert.Equal(t, fixed.Add(24*time.Hour), c.Now())
	})
}
