package retrieval

import "errors"

// Sentinel errors surfaced to the pipeline. Stage-local conditions (empty
// result sets, cache misses) are handled locally and never raised.
var (
	// ErrStoreUnavailable indicates the document store could not be
	// reached. Fatal for the request.
	ErrStoreUnavailable = errors.New("document store unavailable")

	// ErrTimeout indicates the per-call retrieval deadline expired.
	// The caller may retry once with a cheaper strategy.
	ErrTimeout = errors.New("retrieval timeout")

	// ErrUnknownStrategy indicates a strategy value outside the closed set.
	ErrUnknownStrategy = errors.New("unknown search strategy")
)
