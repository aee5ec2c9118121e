// Package ollama embeds text with a local Ollama server's /api/embed endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/storyloom/pkg/embeddings"
	"github.com/papercomputeco/storyloom/pkg/utils"
	"github.com/papercomputeco/storyloom/pkg/vector"
)

const (
	DefaultEmbeddingModel = "nomic-embed-text"
	DefaultBaseURL        = "http://localhost:11434"

	defaultTimeout = 2 * time.Minute
)

// EmbedderConfig holds configuration for the Ollama embedder.
type EmbedderConfig struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// Model defaults to DefaultEmbeddingModel.
	Model string

	// Dimensions asks the model to truncate vectors when non-zero. Turns and
	// memory entries must share one dimension per collection.
	Dimensions int

	// KeepAlive is forwarded as keep_alive so the model stays loaded between
	// exchanges, e.g. "10m". Empty leaves the server default.
	KeepAlive string

	// Timeout bounds a single request. Defaults to two minutes.
	Timeout time.Duration
}

// Embedder embeds one text per request.
type Embedder struct {
	endpoint   string
	model      string
	dimensions int
	keepAlive  string
	httpClient *http.Client
}

type embedRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Truncate   bool   `json:"truncate"`
	Dimensions int    `json:"dimensions,omitempty"`
	KeepAlive  string `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewEmbedder creates an Ollama embedder. It does not contact the server.
func NewEmbedder(cfg EmbedderConfig) (*Embedder, error) {
	if cfg.Dimensions < 0 {
		return nil, fmt.Errorf("ollama embedder: negative dimensions %d", cfg.Dimensions)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Embedder{
		endpoint:   strings.TrimRight(baseURL, "/") + "/api/embed",
		model:      model,
		dimensions: cfg.Dimensions,
		keepAlive:  cfg.KeepAlive,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Embed returns the vector for text. Inputs longer than the model context are
// truncated by the server rather than rejected, so long turns still index.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResponse
	err := e.post(ctx, embedRequest{
		Model:      e.model,
		Input:      text,
		Truncate:   true,
		Dimensions: e.dimensions,
		KeepAlive:  e.keepAlive,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama: %v", vector.ErrEmbedding, err)
	}

	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: ollama returned no embeddings", vector.ErrEmbedding)
	}
	emb := out.Embeddings[0]
	if e.dimensions > 0 && len(emb) != e.dimensions {
		return nil, fmt.Errorf("%w: ollama returned %d dimensions, want %d",
			vector.ErrEmbedding, len(emb), e.dimensions)
	}
	return emb, nil
}

func (e *Embedder) post(ctx context.Context, body embedRequest, out *embedResponse) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", utils.UserAgent())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (e *Embedder) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

var _ embeddings.Embedder = (*Embedder)(nil)
