// Package backend provides thin clients for the local model-serving
// backend: an embedding client and a generation client. Both validate
// response shape and surface typed errors; neither retries, since a blind
// retry of a generation call is costly and retry policy belongs to the
// pipeline.
package backend

import "errors"

var (
	// ErrUnavailable indicates the model backend could not be reached.
	ErrUnavailable = errors.New("model backend unavailable")

	// ErrTimeout indicates a backend call exceeded its deadline.
	ErrTimeout = errors.New("model backend timeout")

	// ErrInvalidResponse indicates the backend returned a malformed
	// response (wrong embedding dimension, empty generation). Never
	// silently coerced; logged with full context at the call site.
	ErrInvalidResponse = errors.New("invalid model backend response")
)
