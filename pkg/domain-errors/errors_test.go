package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodeNotFound, "task not found")
	wrapped := fmt.Errorf("load: %w", err)

	require.ErrorIs(t, wrapped, New(CodeNotFound, "something else"))
	assert.NotErrorIs(t, wrapped, New(CodeForbidden, "task not found"))
}

func TestHasCodeAndCodeOf(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap(base, CodeStoreUnavailable, "store unreachable")

	assert.True(t, HasCode(err, CodeStoreUnavailable))
	assert.True(t, Is(fmt.Errorf("outer: %w", err), CodeStoreUnavailable))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, CodeStoreUnavailable, CodeOf(err))
	assert.Equal(t, CodeInternal, CodeOf(base))
}

func TestValidationCarriesField(t *testing.T) {
	err := Validation("probability", "must be <= 5, got 9")

	de, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "probability", de.Field)
	assert.Equal(t, "validation_error: probability: must be <= 5, got 9", err.Error())
}

func TestWithMetaDoesNotMutateOriginal(t *testing.T) {
	base := New(CodeForbidden, "denied").WithMeta("role", "viewer")
	extended := base.WithMeta("operation", "delete")

	assert.Len(t, base.Meta, 1)
	assert.Equal(t, map[string]string{"role": "viewer", "operation": "delete"}, extended.Meta)
}
