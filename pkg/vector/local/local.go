// Package local provides an in-process implementation of vector.Driver.
//
// Documents live in a map guarded by a RWMutex and Query scans every document
// with vector.CosineSimilarity. It is the default cache for single-process
// deployments and the backing store in tests.
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/papercomputeco/storyloom/pkg/vector"
)

// Driver implements vector.Driver using in-process data structures.
type Driver struct {
	dimensions uint

	mu   sync.RWMutex
	docs map[string][]float32
}

// NewDriver creates a local vector driver. A zero dimensions value accepts
// embeddings of any length.
func NewDriver(dimensions uint) *Driver {
	return &Driver{
		dimensions: dimensions,
		docs:       make(map[string][]float32),
	}
}

// Add stores or replaces documents.
func (d *Driver) Add(_ context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	for _, doc := range docs {
		if d.dimensions != 0 && uint(len(doc.Embedding)) != d.dimensions {
			return fmt.Errorf("%w: doc %s has %d, want %d",
				vector.ErrDimensions, doc.ID, len(doc.Embedding), d.dimensions)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, doc := range docs {
		emb := make([]float32, len(doc.Embedding))
		copy(emb, doc.Embedding)
		d.docs[doc.ID] = emb
	}

	return nil
}

// Query returns the topK documents ordered by descending cosine similarity.
func (d *Driver) Query(_ context.Context, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	d.mu.RLock()
	results := make([]vector.QueryResult, 0, len(d.docs))
	for id, emb := range d.docs {
		results = append(results, vector.QueryResult{
			Document: vector.Document{ID: id, Embedding: emb},
			Score:    float32(vector.CosineSimilarity(embedding, emb)),
		})
	}
	d.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// Get returns the stored documents for ids, skipping unknown ones.
func (d *Driver) Get(_ context.Context, ids []string) ([]vector.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	docs := make([]vector.Document, 0, len(ids))
	for _, id := range ids {
		emb, ok := d.docs[id]
		if !ok {
			continue
		}
		docs = append(docs, vector.Document{ID: id, Embedding: emb})
	}

	return docs, nil
}

// Delete removes documents by id.
func (d *Driver) Delete(_ context.Context, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range ids {
		delete(d.docs, id)
	}

	return nil
}

// Len returns the number of stored documents.
func (d *Driver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.docs)
}

// Close is a no-op for the local driver.
func (d *Driver) Close() error {
	return nil
}

var _ vector.Driver = (*Driver)(nil)
