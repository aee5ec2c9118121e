// Package gemini implements an Embedder on the Google GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/papercomputeco/storyloom/pkg/embeddings"
	"github.com/papercomputeco/storyloom/pkg/vector"
)

const (
	DefaultEmbeddingModel = "gemini-embedding-001"

	taskSemanticSimilarity = "SEMANTIC_SIMILARITY"
)

// Embedder wraps the Gemini embedContent API.
type Embedder struct {
	client     *genai.Client
	model      string
	dimensions *int32
}

// EmbedderConfig holds configuration for the Gemini embedder.
type EmbedderConfig struct {
	APIKey string
	Model  string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// Dimensions truncates output vectors when non-zero.
	Dimensions int32
}

// NewEmbedder creates a Gemini embedder.
func NewEmbedder(ctx context.Context, cfg EmbedderConfig) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	e := &Embedder{client: client, model: model}
	if cfg.Dimensions > 0 {
		dims := cfg.Dimensions
		e.dimensions = &dims
	}
	return e, nil
}

// Embed converts text into a vector embedding.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{
			TaskType:             taskSemanticSimilarity,
			OutputDimensionality: e.dimensions,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini embed: %v", vector.ErrEmbedding, err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", vector.ErrEmbedding)
	}

	return result.Embeddings[0].Values, nil
}

// Close releases resources held by the embedder.
func (e *Embedder) Close() error {
	return nil
}

var _ embeddings.Embedder = (*Embedder)(nil)
