// Package nop provides the publisher used when no event stream is configured.
package nop

import (
	"context"

	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher used for tests and disabled mode.
type Publisher struct {
	logger *zap.Logger
}

// NewPublisher creates a new no-op eventstream publisher. A nil logger is
// replaced by zap.NewNop.
func NewPublisher(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// PublishTurn validates input and drops the event.
func (p *Publisher) PublishTurn(_ context.Context, event *eventstream.TurnPersistedEvent) error {
	if event == nil {
		return eventstream.ErrNilTurnEvent
	}

	p.logger.Debug("event stream disabled, dropping turn event",
		zap.String("event_id", event.EventID),
		zap.String("turn_id", event.Turn.ID),
	)
	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}

var _ eventstream.Publisher = (*Publisher)(nil)
