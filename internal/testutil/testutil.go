// Package testutil provides shared testing utilities: a deterministic
// mock embedder, in-memory store fakes, and a pgvector-enabled Postgres
// test container.
package testutil

import (
	"log/slog"
)

// DiscardLogger returns a slog.Logger that discards all output.
// Use this in tests to reduce noise.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
