// Package eventstream publishes narrative turn events to external consumers.
package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/storyloom/pkg/narrative"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeTurnPersisted is emitted after a narrative turn is persisted.
	EventTypeTurnPersisted = "storyloom.turn.persisted"
)

// TurnPersistedEvent is a transport-neutral event payload for a persisted turn.
type TurnPersistedEvent struct {
	SchemaVersion int            `json:"schema_version"`
	EventType     string         `json:"event_type"`
	EventID       string         `json:"event_id"`
	EmittedAt     time.Time      `json:"emitted_at"`
	Source        EventSource    `json:"source"`
	Exchange      ExchangeMeta   `json:"exchange"`
	Turn          narrative.Turn `json:"turn"`
}

// EventSource identifies the pipeline that produced the turn.
type EventSource struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// ExchangeMeta describes the exchange the turn belongs to. Attempts and
// Compliant are only meaningful on assistant turns.
type ExchangeMeta struct {
	Attempts   int   `json:"attempts,omitempty"`
	Compliant  bool  `json:"compliant"`
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewTurnPersistedEvent stamps a v1 event for turn.
func NewTurnPersistedEvent(turn narrative.Turn, source EventSource, meta ExchangeMeta) *TurnPersistedEvent {
	return &TurnPersistedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeTurnPersisted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Source:        source,
		Exchange:      meta,
		Turn:          turn,
	}
}
