package search

import (
	"fmt"
	"strings"
)

// ProviderError is a single failed external call. It is recovered at the
// smallest scope and turned into an empty result plus an error event.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ValidationGapError means required facets are missing or unsupported. It is
// surfaced to the user as a clarification message.
type ValidationGapError struct {
	Missing []string

	// Unsupported is set when the facet was present but cannot be served.
	Unsupported string
}

func (e *ValidationGapError) Error() string {
	if e.Unsupported != "" {
		return fmt.Sprintf("unsupported %s", e.Unsupported)
	}
	return fmt.Sprintf("missing %s", strings.Join(e.Missing, ", "))
}
