package search

import (
	"context"
	"errors"
	"fmt"
)

// Attempt runs op inside an isolated failure boundary. Errors and panics come
// back as a *ProviderError together with the zero value; they never escape to
// sibling work.
func Attempt[T any](ctx context.Context, provider, opName string, op func(context.Context) (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			out = zero
			err = &ProviderError{Provider: provider, Op: opName, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, &ProviderError{Provider: provider, Op: opName, Err: err}
	}
	out, err = op(ctx)
	if err != nil {
		var zero T
		var pe *ProviderError
		if errors.As(err, &pe) {
			return zero, err
		}
		return zero, &ProviderError{Provider: provider, Op: opName, Err: err}
	}
	return out, nil
}
