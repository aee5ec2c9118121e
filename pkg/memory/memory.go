// Package memory consolidates narrative turns into memory log entries and
// recalls them later.
//
// Every few turns the orchestrator hands the latest turns to a Consolidator,
// which summarizes them, classifies the dominant entity, persists a
// MemoryLogEntry with an ArchivedTranscript of the source text, and indexes
// the entry embedding for recall. Consolidation degrades rather than fails:
// an unreachable summarizer falls back to the raw turn text and an
// unparseable classification falls back to MemoryTypeOther.
package memory

import (
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/embeddings"
	"github.com/papercomputeco/storyloom/pkg/storage"
	"github.com/papercomputeco/storyloom/pkg/vector"
)

const (
	// DefaultSummaryAttempts bounds the summarization call attempts.
	DefaultSummaryAttempts uint = 3

	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 4 * time.Second
)

// Config is the configuration for a Consolidator.
type Config struct {
	// Storage persists entries and transcripts.
	Storage storage.Driver

	// Embedder and Index are optional. When both are set, entry summaries are
	// embedded and indexed for Recall.
	Embedder embeddings.Embedder
	Index    vector.Driver

	// SummaryAttempts is the maximum number of summarization calls.
	SummaryAttempts uint

	// InitialBackoff and MaxBackoff shape the jittered exponential backoff
	// between summarization attempts.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger *zap.Logger
}

// Consolidator builds memory log entries from turns and recalls them.
type Consolidator struct {
	storage  storage.Driver
	embedder embeddings.Embedder
	index    vector.Driver

	summaryAttempts uint
	initialBackoff  time.Duration
	maxBackoff      time.Duration

	logger *zap.Logger
}

// NewConsolidator creates a Consolidator, filling in defaults.
func NewConsolidator(c Config) *Consolidator {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.SummaryAttempts == 0 {
		c.SummaryAttempts = DefaultSummaryAttempts
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaultMaxBackoff
	}

	return &Consolidator{
		storage:         c.Storage,
		embedder:        c.Embedder,
		index:           c.Index,
		summaryAttempts: c.SummaryAttempts,
		initialBackoff:  c.InitialBackoff,
		maxBackoff:      c.MaxBackoff,
		logger:          logger,
	}
}

// RecallEnabled reports whether entries are indexed for Recall.
func (c *Consolidator) RecallEnabled() bool {
	return c.embedder != nil && c.index != nil
}
