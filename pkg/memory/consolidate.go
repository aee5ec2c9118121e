package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/llm"
	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/storage"
	"github.com/papercomputeco/storyloom/pkg/vector"
)

var errEmptySummary = errors.New("summarizer returned no text")

// Result is the outcome of one consolidation.
type Result struct {
	Entry      *narrative.MemoryLogEntry
	Transcript *narrative.ArchivedTranscript

	// SummaryFallback is set when the summary is the raw source text.
	SummaryFallback bool

	// ClassificationFallback is set when classification could not be parsed.
	ClassificationFallback bool
}

// Consolidate synthesizes a memory log entry from turns at location using
// provider for the summarization and classification calls. Only storage
// failures are returned; model failures degrade to fallbacks.
func (c *Consolidator) Consolidate(ctx context.Context, provider llm.Provider, turns []narrative.Turn, location string) (*Result, error) {
	if len(turns) == 0 {
		return nil, ErrNoTurns
	}

	transcript := narrative.Transcript(turns)
	result := &Result{}

	summary, err := c.summarize(ctx, provider, transcript)
	if err != nil {
		c.logger.Warn("summarization failed, using raw turn text",
			zap.Uint("attempts", c.summaryAttempts),
			zap.Error(err),
		)
		summary = rawText(turns)
		result.SummaryFallback = true
	}

	entityName, memoryType, ok := c.classify(ctx, provider, transcript)
	result.ClassificationFallback = !ok

	entry, err := c.storage.CreateMemoryLog(ctx, &narrative.MemoryLogEntry{
		Content:    transcript,
		Summary:    summary,
		Location:   location,
		EntityName: entityName,
		Type:       memoryType,
		Importance: narrative.DefaultImportance,
		Embedding:  c.embed(ctx, summary),
	})
	if err != nil {
		return nil, fmt.Errorf("creating memory log: %w", err)
	}
	result.Entry = entry

	archived, err := c.storage.CreateTranscript(ctx, &narrative.ArchivedTranscript{
		MemoryLogEntryID:  entry.ID,
		TranscriptContent: transcript,
	})
	if err != nil {
		return nil, fmt.Errorf("archiving transcript for %s: %w", entry.ID, err)
	}
	result.Transcript = archived

	if err := c.Index(ctx, entry); err != nil {
		c.logger.Warn("failed to index memory log",
			zap.String("memory_log_id", entry.ID),
			zap.Error(err),
		)
	}

	c.logger.Info("memory log consolidated",
		zap.String("memory_log_id", entry.ID),
		zap.String("location", location),
		zap.String("type", string(entry.Type)),
		zap.Int("turns", len(turns)),
		zap.Bool("summary_fallback", result.SummaryFallback),
	)

	return result, nil
}

// summarize calls the provider with capped, jittered exponential backoff.
// Safety blocks and empty output count as failed attempts.
func (c *Consolidator) summarize(ctx context.Context, provider llm.Provider, transcript string) (string, error) {
	if provider == nil {
		return "", errors.New("no provider for summarization")
	}

	return backoff.Retry(ctx,
		func() (string, error) {
			resp, err := provider.Generate(ctx, llm.Prompt(summarizePrompt, transcript))
			if err != nil {
				if errors.Is(err, llm.ErrMissingCredential) || errors.Is(err, llm.ErrInvalidCredential) {
					return "", backoff.Permanent(err)
				}
				return "", err
			}
			if resp.Blocked {
				return "", fmt.Errorf("summary blocked: %s", resp.BlockReason)
			}
			text := strings.TrimSpace(resp.Text)
			if text == "" {
				return "", errEmptySummary
			}
			return text, nil
		},
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     c.initialBackoff,
			RandomizationFactor: 0.5,
			Multiplier:          2,
			MaxInterval:         c.maxBackoff,
		}),
		backoff.WithMaxTries(c.summaryAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("summarization attempt failed, retrying",
				zap.Error(err),
				zap.Duration("next", next),
			)
		}),
	)
}

type classification struct {
	EntityName string `json:"entity_name"`
	Type       string `json:"type"`
}

// classify returns the entity name and memory type of transcript. ok is false
// when the fallback was used.
func (c *Consolidator) classify(ctx context.Context, provider llm.Provider, transcript string) (string, narrative.MemoryType, bool) {
	if provider == nil {
		return "", narrative.MemoryTypeOther, false
	}

	resp, err := provider.Generate(ctx, llm.Prompt(classifyPrompt, transcript))
	if err != nil || resp.Blocked {
		c.logger.Warn("classification failed, tagging as OTHER", zap.Error(err))
		return "", narrative.MemoryTypeOther, false
	}

	parsed, err := parseClassification(resp.Text)
	if err != nil {
		c.logger.Warn("unparseable classification, tagging as OTHER",
			zap.String("raw", resp.Text),
			zap.Error(err),
		)
		return "", narrative.MemoryTypeOther, false
	}

	return strings.TrimSpace(parsed.EntityName), narrative.ParseMemoryType(parsed.Type), true
}

// parseClassification extracts the first JSON object in text, tolerating
// code fences and surrounding prose.
func parseClassification(text string) (classification, error) {
	var out classification

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return out, errors.New("no JSON object in classification")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return out, fmt.Errorf("decoding classification: %w", err)
	}
	return out, nil
}

// embed returns the summary embedding, or nil when embedding is unavailable.
func (c *Consolidator) embed(ctx context.Context, text string) []float32 {
	if c.embedder == nil {
		return nil
	}
	emb, err := c.embedder.Embed(ctx, text)
	if err != nil {
		c.logger.Warn("failed to embed memory log summary", zap.Error(err))
		return nil
	}
	return emb
}

// Index adds the entry embedding to the recall index. Entries without an
// embedding are embedded from their summary first.
func (c *Consolidator) Index(ctx context.Context, entry *narrative.MemoryLogEntry) error {
	if !c.RecallEnabled() || entry == nil {
		return nil
	}

	emb := entry.Embedding
	if len(emb) == 0 {
		var err error
		emb, err = c.embedder.Embed(ctx, indexText(entry))
		if err != nil {
			return fmt.Errorf("%w: %w", vector.ErrEmbedding, err)
		}
	}

	return c.index.Add(ctx, []vector.Document{{ID: entry.ID, Embedding: emb}})
}

// Reembed embeds the entry's current summary, replaces its vector in the
// recall index and returns the new embedding. It returns nil when recall is
// disabled.
func (c *Consolidator) Reembed(ctx context.Context, entry *narrative.MemoryLogEntry) ([]float32, error) {
	if !c.RecallEnabled() || entry == nil {
		return nil, nil
	}

	emb, err := c.embedder.Embed(ctx, indexText(entry))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrEmbedding, err)
	}
	if err := c.index.Add(ctx, []vector.Document{{ID: entry.ID, Embedding: emb}}); err != nil {
		return nil, err
	}
	return emb, nil
}

// Forget removes an entry from the recall index.
func (c *Consolidator) Forget(ctx context.Context, id string) error {
	if !c.RecallEnabled() {
		return nil
	}
	return c.index.Delete(ctx, []string{id})
}

func indexText(entry *narrative.MemoryLogEntry) string {
	if strings.TrimSpace(entry.Summary) != "" {
		return entry.Summary
	}
	return entry.Content
}

// rawText concatenates turn contents, the summary fallback.
func rawText(turns []narrative.Turn) string {
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		parts = append(parts, t.Content)
	}
	return strings.Join(parts, "\n")
}

// storageNotFound reports whether err is a storage miss.
func storageNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
