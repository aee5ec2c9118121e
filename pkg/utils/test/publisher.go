package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/storyloom/pkg/eventstream"
)

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	Events []*eventstream.TurnPersistedEvent

	// Err is returned by PublishTurn when set.
	Err error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishTurn(_ context.Context, event *eventstream.TurnPersistedEvent) error {
	if event == nil {
		return eventstream.ErrNilTurnEvent
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.Events = append(m.Events, event)
	return nil
}

// Published returns a snapshot of recorded events.
func (m *MockPublisher) Published() []*eventstream.TurnPersistedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*eventstream.TurnPersistedEvent, len(m.Events))
	copy(out, m.Events)
	return out
}

func (m *MockPublisher) Close() error {
	return nil
}
