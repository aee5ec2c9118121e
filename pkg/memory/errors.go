package memory

import "errors"

var (
	// ErrNotConfigured is returned when recall is attempted but no embedder
	// or index has been configured.
	ErrNotConfigured = errors.New("memory recall not configured")

	// ErrNoTurns is returned when consolidation is asked to summarize nothing.
	ErrNoTurns = errors.New("no turns to consolidate")
)
