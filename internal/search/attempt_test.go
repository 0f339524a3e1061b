package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttempt(t *testing.T) {
	ctx := context.Background()

	n, err := Attempt(ctx, "p", "op", func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	cause := errors.New("timeout")
	n, err = Attempt(ctx, "tavily", "search", func(context.Context) (int, error) { return 7, cause })
	assert.Zero(t, n)
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "tavily", pe.Provider)
	assert.ErrorIs(t, err, cause)

	_, err = Attempt(ctx, "p", "op", func(context.Context) (string, error) { panic("nil map") })
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, err.Error(), "panic: nil map")

	gap := &ValidationGapError{Missing: []string{"country"}}
	_, err = Attempt(ctx, "p", "op", func(context.Context) (int, error) { return 0, gap })
	var asGap *ValidationGapError
	require.True(t, errors.As(err, &asGap))
	assert.Equal(t, "missing country", asGap.Error())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	called := false
	_, err = Attempt(cancelled, "p", "op", func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
