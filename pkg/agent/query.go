package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/storyloom/pkg/embeddings"
	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/telemetry"
	"github.com/papercomputeco/storyloom/pkg/vector"
	"github.com/papercomputeco/storyloom/pkg/vector/local"
)

const (
	// MaxRetrieved caps the merged retrieval output.
	MaxRetrieved = 100

	// SemanticLimit caps the semantic stage.
	SemanticLimit = 15

	// SemanticThreshold is the exclusive minimum cosine similarity kept by
	// the semantic stage.
	SemanticThreshold = 0.1

	keywordCapFew      = 15
	keywordCapMany     = 10
	keywordFewKeywords = 5
	minKeywordRunes    = 3

	defaultEmbedConcurrency = 8
)

// QueryConfig configures a QueryAgent.
type QueryConfig struct {
	// Embedder enables the semantic stage. Nil means keyword-only retrieval.
	Embedder embeddings.Embedder

	// Cache holds per-turn embeddings keyed by turn id. Nil uses an
	// in-process cache.
	Cache vector.Driver

	// Concurrency bounds simultaneous turn embeddings (defaults to 8).
	Concurrency int

	Logger *zap.Logger
}

// QueryAgent retrieves prior turns relevant to a query by merging a keyword
// stage with a semantic stage.
type QueryAgent struct {
	embedder    embeddings.Embedder
	cache       vector.Driver
	concurrency int
	logger      *zap.Logger
}

// NewQueryAgent creates a QueryAgent.
func NewQueryAgent(c QueryConfig) *QueryAgent {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := c.Cache
	if cache == nil {
		cache = local.NewDriver(0)
	}
	concurrency := c.Concurrency
	if concurrency <= 0 {
		concurrency = defaultEmbedConcurrency
	}

	return &QueryAgent{
		embedder:    c.Embedder,
		cache:       cache,
		concurrency: concurrency,
		logger:      logger,
	}
}

// SemanticEnabled reports whether an embedder backs semantic matching.
func (q *QueryAgent) SemanticEnabled() bool {
	return q.embedder != nil
}

// Retrieve returns turns relevant to query: keyword matches first, then
// semantic matches not already present, capped at MaxRetrieved and free of
// duplicate ids. Retrieval never fails; a broken embedder degrades to
// keyword-only results.
func (q *QueryAgent) Retrieve(ctx context.Context, query string, turns []narrative.Turn) []narrative.Turn {
	if len(turns) == 0 {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "agent.retrieve", telemetry.AttrTurnCount.Int(len(turns)))
	defer span.End()

	var (
		keyword  []narrative.Turn
		semantic []narrative.Turn
		g        errgroup.Group
	)
	g.Go(func() error {
		keyword = KeywordSearch(query, turns)
		return nil
	})
	g.Go(func() error {
		semantic = q.SemanticSearch(ctx, query, turns)
		return nil
	})
	_ = g.Wait()

	merged := mergeResults(keyword, semantic)
	span.SetAttributes(telemetry.AttrRetrieved.Int(len(merged)))

	q.logger.Debug("retrieval complete",
		zap.Int("keyword", len(keyword)),
		zap.Int("semantic", len(semantic)),
		zap.Int("merged", len(merged)),
	)
	return merged
}

func mergeResults(keyword, semantic []narrative.Turn) []narrative.Turn {
	seen := make(map[string]struct{}, len(keyword)+len(semantic))
	out := make([]narrative.Turn, 0, min(len(keyword)+len(semantic), MaxRetrieved))

	for _, set := range [][]narrative.Turn{keyword, semantic} {
		for _, t := range set {
			if len(out) >= MaxRetrieved {
				return out
			}
			if _, ok := seen[t.ID]; ok {
				continue
			}
			seen[t.ID] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// Keywords tokenizes query on runs of non letter or digit runes, lowercases,
// drops stop-words and short tokens, and dedupes in first-seen order.
func Keywords(query string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(tokens))
	keywords := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if utf8.RuneCountInString(tok) < minKeywordRunes {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
	}
	return keywords
}

// KeywordSearch returns turns containing any query keyword. Matches for each
// keyword are ordered shortest content first and capped; the union keeps the
// first occurrence of each turn.
func KeywordSearch(query string, turns []narrative.Turn) []narrative.Turn {
	keywords := Keywords(query)
	if len(keywords) == 0 || len(turns) == 0 {
		return nil
	}

	perKeyword := keywordCapMany
	if len(keywords) < keywordFewKeywords {
		perKeyword = keywordCapFew
	}

	lowered := make([]string, len(turns))
	for i, t := range turns {
		lowered[i] = strings.ToLower(t.Content)
	}

	seen := make(map[string]struct{})
	var out []narrative.Turn
	for _, kw := range keywords {
		var matches []narrative.Turn
		for i, t := range turns {
			if strings.Contains(lowered[i], kw) {
				matches = append(matches, t)
			}
		}
		sort.SliceStable(matches, func(a, b int) bool {
			return utf8.RuneCountInString(matches[a].Content) < utf8.RuneCountInString(matches[b].Content)
		})
		if len(matches) > perKeyword {
			matches = matches[:perKeyword]
		}

		for _, t := range matches {
			if _, ok := seen[t.ID]; ok {
				continue
			}
			seen[t.ID] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// SemanticSearch returns up to SemanticLimit turns whose embedding has cosine
// similarity above SemanticThreshold with the query, best first. Any
// embedding failure yields nil.
func (q *QueryAgent) SemanticSearch(ctx context.Context, query string, turns []narrative.Turn) []narrative.Turn {
	if q.embedder == nil || len(turns) == 0 {
		return nil
	}

	queryEmb, err := q.embedder.Embed(ctx, query)
	if err != nil {
		q.degrade(err)
		return nil
	}

	vectors, err := q.turnVectors(ctx, turns)
	if err != nil {
		q.degrade(err)
		return nil
	}

	type scored struct {
		turn  narrative.Turn
		score float64
	}
	var hits []scored
	for i, t := range turns {
		score := vector.CosineSimilarity(queryEmb, vectors[i])
		if score > SemanticThreshold {
			hits = append(hits, scored{turn: t, score: score})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})
	if len(hits) > SemanticLimit {
		hits = hits[:SemanticLimit]
	}

	out := make([]narrative.Turn, len(hits))
	for i, h := range hits {
		out[i] = h.turn
	}
	return out
}

func (q *QueryAgent) degrade(err error) {
	recordDegraded(stageSemantic)
	q.logger.Warn("semantic retrieval unavailable, using keyword results only", zap.Error(err))
}

// turnVectors returns one embedding per turn, index-aligned. Cached vectors
// are reused; misses are embedded with bounded concurrency and cached.
func (q *QueryAgent) turnVectors(ctx context.Context, turns []narrative.Turn) ([][]float32, error) {
	ids := make([]string, len(turns))
	for i, t := range turns {
		ids[i] = t.ID
	}

	cached := make(map[string][]float32, len(turns))
	docs, err := q.cache.Get(ctx, ids)
	if err != nil {
		q.logger.Debug("turn vector cache unavailable", zap.Error(err))
	}
	for _, d := range docs {
		cached[d.ID] = d.Embedding
	}

	vectors := make([][]float32, len(turns))
	var missing []int
	for i, t := range turns {
		if emb, ok := cached[t.ID]; ok && t.ID != "" {
			vectors[i] = emb
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.concurrency)
	for _, i := range missing {
		g.Go(func() error {
			emb, err := q.embedder.Embed(gctx, turns[i].Content)
			if err != nil {
				return fmt.Errorf("%w: turn %s: %w", vector.ErrEmbedding, turns[i].ID, err)
			}
			vectors[i] = emb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fresh := make([]vector.Document, 0, len(missing))
	for _, i := range missing {
		if turns[i].ID == "" {
			continue
		}
		fresh = append(fresh, vector.Document{ID: turns[i].ID, Embedding: vectors[i]})
	}
	if err := q.cache.Add(ctx, fresh); err != nil {
		q.logger.Debug("failed to cache turn vectors", zap.Error(err))
	}

	return vectors, nil
}

// Forget drops cached vectors for turn ids.
func (q *QueryAgent) Forget(ctx context.Context, ids ...string) error {
	return q.cache.Delete(ctx, ids)
}
