package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/storyloom/pkg/llm"
)

// MockResponse is one scripted provider outcome.
type MockResponse struct {
	Text        string
	Blocked     bool
	BlockReason string
	Err         error
}

// MockProvider is a scripted llm.Provider. Each Generate call pops the next
// response from Script; when the script is exhausted Default is returned.
// Respond, when set, takes precedence over both.
type MockProvider struct {
	mu sync.Mutex

	ProviderName string
	Script       []MockResponse
	Default      MockResponse
	Respond      func(req *llm.Request) MockResponse

	// Requests records every request in call order.
	Requests []*llm.Request
}

func NewMockProvider(script ...MockResponse) *MockProvider {
	return &MockProvider{ProviderName: "mock", Script: script}
}

func (m *MockProvider) Name() string {
	return m.ProviderName
}

func (m *MockProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	var r MockResponse
	switch {
	case m.Respond != nil:
		m.mu.Unlock()
		r = m.Respond(req)
		m.mu.Lock()
	case len(m.Script) > 0:
		r = m.Script[0]
		m.Script = m.Script[1:]
	default:
		r = m.Default
	}
	m.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.Response{Text: r.Text, Blocked: r.Blocked, BlockReason: r.BlockReason}, nil
}

// CallCount returns the number of Generate calls.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// LastRequest returns the most recent request, or nil.
func (m *MockProvider) LastRequest() *llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return nil
	}
	return m.Requests[len(m.Requests)-1]
}

// ErrMockProvider is a generic provider failure for tests.
var ErrMockProvider = errors.New("mock provider failure")
