// Package search holds the turn and memory search logic shared by the REST
// API and the MCP server tools.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/memory"
	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/storage"
)

const (
	// DefaultTurnLimit caps search_turns results when no limit is given.
	DefaultTurnLimit = 10

	// DefaultMemoryK is the default number of recalled memories.
	DefaultMemoryK = 5
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("query is required")

// TurnRetriever selects the turns relevant to a query.
type TurnRetriever interface {
	Retrieve(ctx context.Context, query string, turns []narrative.Turn) []narrative.Turn
}

// Recaller finds memory log entries similar to a query.
type Recaller interface {
	Recall(ctx context.Context, query string, k int) ([]memory.Recollection, error)
}

// TurnResult is one matched turn.
type TurnResult struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Location  string `json:"location,omitempty"`
	CreatedAt string `json:"created_at"`
}

// TurnsOutput is the result of a turn search.
type TurnsOutput struct {
	Query   string       `json:"query"`
	Results []TurnResult `json:"results"`
	Count   int          `json:"count"`
}

// MemoryResult is one recalled memory log entry.
type MemoryResult struct {
	ID         string               `json:"id"`
	Summary    string               `json:"summary"`
	Location   string               `json:"location,omitempty"`
	EntityName string               `json:"entity_name,omitempty"`
	Type       narrative.MemoryType `json:"type"`
	Importance int                  `json:"importance"`
	Score      float32              `json:"score"`
}

// MemoryOutput is the result of a memory search.
type MemoryOutput struct {
	Query   string         `json:"query"`
	Results []MemoryResult `json:"results"`
	Count   int            `json:"count"`
}

// Turns retrieves the stored turns most relevant to query, at most limit of
// them, in retrieval priority order.
func Turns(
	ctx context.Context,
	query string,
	limit int,
	retriever TurnRetriever,
	store storage.Driver,
	logger *zap.Logger,
) (*TurnsOutput, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultTurnLimit
	}

	turns, err := store.Turns(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading turns: %w", err)
	}

	matched := retriever.Retrieve(ctx, query, turns)
	if len(matched) > limit {
		matched = matched[:limit]
	}

	results := make([]TurnResult, 0, len(matched))
	for _, t := range matched {
		results = append(results, TurnResult{
			ID:        t.ID,
			Role:      t.Role,
			Content:   t.Content,
			Location:  t.Location,
			CreatedAt: t.CreatedAt.Format(time.RFC3339Nano),
		})
	}

	logger.Debug("turn search",
		zap.String("query", query),
		zap.Int("searched", len(turns)),
		zap.Int("results", len(results)),
	)

	return &TurnsOutput{Query: query, Results: results, Count: len(results)}, nil
}

// Memories recalls up to k memory log entries for query, best first.
func Memories(ctx context.Context, query string, k int, recaller Recaller) (*MemoryOutput, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = DefaultMemoryK
	}

	recalled, err := recaller.Recall(ctx, query, k)
	if err != nil {
		return nil, err
	}

	results := make([]MemoryResult, 0, len(recalled))
	for _, r := range recalled {
		results = append(results, MemoryResult{
			ID:         r.Entry.ID,
			Summary:    r.Entry.Summary,
			Location:   r.Entry.Location,
			EntityName: r.Entry.EntityName,
			Type:       r.Entry.Type,
			Importance: r.Entry.Importance,
			Score:      r.Score,
		})
	}

	return &MemoryOutput{Query: query, Results: results, Count: len(results)}, nil
}
