// Package chroma provides a Chroma vector database driver implementation.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection for turn embeddings.
	DefaultCollectionName = "storyloom_turns"

	collectionsPath = "/api/v2/tenants/default_tenant/databases/default_database/collections"
)

// Driver implements vector.Driver using Chroma's REST API.
type Driver struct {
	baseURL        string
	collectionName string
	collectionID   string
	httpClient     *http.Client
	logger         *zap.Logger
}

// Config holds configuration for the Chroma driver.
type Config struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// CollectionName defaults to DefaultCollectionName if empty.
	CollectionName string

	// MaxRetries bounds how many times collection setup is attempted while
	// the server starts up. Defaults to 5.
	MaxRetries uint

	// RetryDelay is the initial delay between attempts. Defaults to 500ms.
	RetryDelay time.Duration

	// MaxRetryDelay caps the delay between attempts. Defaults to 5s.
	MaxRetryDelay time.Duration
}

// NewDriver creates a new Chroma vector driver, creating the collection
// with the cosine distance space when it does not exist yet.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, errors.New("chroma URL is required")
	}

	collectionName := c.CollectionName
	if collectionName == "" {
		collectionName = DefaultCollectionName
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = 5 * time.Second
	}

	d := &Driver{
		baseURL:        c.URL,
		collectionName: collectionName,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}

	collectionID, err := backoff.Retry(context.Background(),
		func() (string, error) {
			return d.getOrCreateCollection(context.Background())
		},
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     c.RetryDelay,
			RandomizationFactor: 0.5,
			Multiplier:          2,
			MaxInterval:         c.MaxRetryDelay,
		}),
		backoff.WithMaxTries(c.MaxRetries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("chroma not ready, retrying",
				zap.Error(err),
				zap.Duration("next", next),
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: getting or creating collection %q after %d attempts: %w",
			vector.ErrConnection, collectionName, c.MaxRetries, err)
	}
	d.collectionID = collectionID

	logger.Info("connected to Chroma",
		zap.String("url", c.URL),
		zap.String("collection", collectionName),
		zap.String("collection_id", collectionID),
	)

	return d, nil
}

// do sends a JSON request and decodes the JSON response into out when out is
// non-nil. A status outside okStatuses is returned as an error.
func (d *Driver) do(ctx context.Context, method, path string, in, out any, okStatuses ...int) (int, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, s := range okStatuses {
		if resp.StatusCode == s {
			ok = true
			break
		}
	}
	if !ok {
		respBody, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

func (d *Driver) getOrCreateCollection(ctx context.Context) (string, error) {
	var collection chromaCollection
	if _, err := d.do(ctx, http.MethodGet, collectionsPath+"/"+d.collectionName, nil, &collection, http.StatusOK); err == nil {
		return collection.ID, nil
	}

	create := chromaCreateCollectionRequest{
		Name:     d.collectionName,
		Metadata: map[string]any{"hnsw:space": "cosine"},
	}
	if _, err := d.do(ctx, http.MethodPost, collectionsPath, create, &collection, http.StatusOK, http.StatusCreated); err != nil {
		return "", fmt.Errorf("creating collection: %w", err)
	}

	return collection.ID, nil
}

func (d *Driver) collectionPath(op string) string {
	return fmt.Sprintf("%s/%s/%s", collectionsPath, d.collectionID, op)
}

// Add upserts documents with their embeddings.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	req := chromaUpsertRequest{
		IDs:        make([]string, len(docs)),
		Embeddings: make([][]float32, len(docs)),
	}
	for i, doc := range docs {
		req.IDs[i] = doc.ID
		req.Embeddings[i] = doc.Embedding
	}

	if _, err := d.do(ctx, http.MethodPost, d.collectionPath("upsert"), req, nil, http.StatusOK, http.StatusCreated); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	d.logger.Debug("added documents to chroma", zap.Int("count", len(docs)))
	return nil
}

// Query finds the topK most similar documents to the given embedding. Chroma
// reports cosine distance, so scores are 1 - distance.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	req := chromaQueryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        topK,
		Include:         []string{"distances", "embeddings"},
	}

	var resp chromaQueryResponse
	if _, err := d.do(ctx, http.MethodPost, d.collectionPath("query"), req, &resp, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	if len(resp.IDs) == 0 || len(resp.IDs[0]) == 0 {
		return nil, nil
	}

	ids := resp.IDs[0]
	var distances []float32
	if len(resp.Distances) > 0 {
		distances = resp.Distances[0]
	}
	var embeddings [][]float32
	if len(resp.Embeddings) > 0 {
		embeddings = resp.Embeddings[0]
	}

	results := make([]vector.QueryResult, 0, len(ids))
	for i, id := range ids {
		result := vector.QueryResult{Document: vector.Document{ID: id}}
		if i < len(embeddings) {
			result.Embedding = embeddings[i]
		}
		if i < len(distances) {
			result.Score = 1 - distances[i]
		}
		results = append(results, result)
	}

	d.logger.Debug("queried chroma", zap.Int("results", len(results)))
	return results, nil
}

// Get retrieves documents by their IDs. Chroma omits unknown IDs.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	req := chromaGetRequest{
		IDs:     ids,
		Include: []string{"embeddings"},
	}

	var resp chromaGetResponse
	if _, err := d.do(ctx, http.MethodPost, d.collectionPath("get"), req, &resp, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}

	docs := make([]vector.Document, len(resp.IDs))
	for i, id := range resp.IDs {
		docs[i] = vector.Document{ID: id}
		if i < len(resp.Embeddings) {
			docs[i].Embedding = resp.Embeddings[i]
		}
	}

	return docs, nil
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if _, err := d.do(ctx, http.MethodPost, d.collectionPath("delete"), chromaDeleteRequest{IDs: ids}, nil, http.StatusOK); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}

	d.logger.Debug("deleted documents from chroma", zap.Int("count", len(ids)))
	return nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return nil
}

var _ vector.Driver = (*Driver)(nil)
