package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/storyloom/pkg/vector"
)

// MockVectorDriver is a test vector driver backed by a map. Query returns the
// configured Results.
type MockVectorDriver struct {
	mu sync.Mutex

	Documents map[string][]float32
	Results   []vector.QueryResult

	// FailAdd causes Add to return an error.
	FailAdd bool
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{
		Documents: make(map[string][]float32),
	}
}

func (m *MockVectorDriver) Add(_ context.Context, docs []vector.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAdd {
		return errors.New("mock vector add failure")
	}
	for _, d := range docs {
		m.Documents[d.ID] = d.Embedding
	}
	return nil
}

func (m *MockVectorDriver) Query(_ context.Context, _ []float32, topK int) ([]vector.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Results) < topK {
		return m.Results, nil
	}
	return m.Results[:topK], nil
}

func (m *MockVectorDriver) Get(_ context.Context, ids []string) ([]vector.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var docs []vector.Document
	for _, id := range ids {
		if emb, ok := m.Documents[id]; ok {
			docs = append(docs, vector.Document{ID: id, Embedding: emb})
		}
	}
	return docs, nil
}

func (m *MockVectorDriver) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.Documents, id)
	}
	return nil
}

func (m *MockVectorDriver) Close() error {
	return nil
}
