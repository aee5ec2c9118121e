package memory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/vector"
)

// DefaultRecallK is used when Recall is given a non-positive k.
const DefaultRecallK = 5

// Recollection is a recalled entry and its similarity to the query.
type Recollection struct {
	Entry narrative.MemoryLogEntry `json:"entry"`
	Score float32                  `json:"score"`
}

// Recall returns up to k memory log entries most similar to query, best first.
// Index hits whose entry was deleted from storage are skipped.
func (c *Consolidator) Recall(ctx context.Context, query string, k int) ([]Recollection, error) {
	if !c.RecallEnabled() {
		return nil, ErrNotConfigured
	}
	if k <= 0 {
		k = DefaultRecallK
	}

	emb, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrEmbedding, err)
	}

	hits, err := c.index.Query(ctx, emb, k)
	if err != nil {
		return nil, fmt.Errorf("querying memory index: %w", err)
	}

	out := make([]Recollection, 0, len(hits))
	for _, hit := range hits {
		entry, err := c.storage.GetMemoryLog(ctx, hit.ID)
		if err != nil {
			if storageNotFound(err) {
				c.logger.Debug("skipping stale memory index entry", zap.String("memory_log_id", hit.ID))
				continue
			}
			return nil, fmt.Errorf("loading memory log %s: %w", hit.ID, err)
		}
		out = append(out, Recollection{Entry: *entry, Score: hit.Score})
	}

	return out, nil
}

// ForLocation returns the newest entry at location and its archived
// transcript text. A location with no entries yields (nil, "", nil).
func (c *Consolidator) ForLocation(ctx context.Context, location string) (*narrative.MemoryLogEntry, string, error) {
	if location == "" {
		return nil, "", nil
	}

	entry, err := c.storage.LatestMemoryLogForLocation(ctx, location)
	if err != nil {
		if storageNotFound(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("loading memory log for %q: %w", location, err)
	}

	transcripts, err := c.storage.Transcripts(ctx, entry.ID)
	if err != nil {
		return nil, "", fmt.Errorf("loading transcripts for %s: %w", entry.ID, err)
	}
	if len(transcripts) == 0 {
		return entry, entry.Content, nil
	}
	return entry, transcripts[len(transcripts)-1].TranscriptContent, nil
}

// Reindex indexes every stored entry. It returns the number indexed.
func (c *Consolidator) Reindex(ctx context.Context) (int, error) {
	if !c.RecallEnabled() {
		return 0, ErrNotConfigured
	}

	entries, err := c.storage.ListMemoryLogs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing memory logs: %w", err)
	}

	n := 0
	for i := range entries {
		if err := c.Index(ctx, &entries[i]); err != nil {
			c.logger.Warn("failed to index memory log",
				zap.String("memory_log_id", entries[i].ID),
				zap.Error(err),
			)
			continue
		}
		n++
	}
	return n, nil
}
