// Package storage defines persistence for the narrative thread: turns, memory
// log entries, archived transcripts and runtime settings.
package storage

import (
	"context"
	"slices"

	"github.com/papercomputeco/storyloom/pkg/narrative"
)

// Driver is implemented by every storage backend.
type Driver interface {
	// Turns returns every turn, oldest first.
	Turns(ctx context.Context) ([]narrative.Turn, error)

	// CreateTurn validates and stores a turn. Empty IDs and zero CreatedAt are
	// filled in. Returns the stored turn.
	CreateTurn(ctx context.Context, turn *narrative.Turn) (*narrative.Turn, error)

	// SetTurnLocation patches the location of an existing turn.
	SetTurnLocation(ctx context.Context, id, location string) (*narrative.Turn, error)

	// CountTurns returns the number of persisted turns.
	CountTurns(ctx context.Context) (int, error)

	// Settings returns the runtime settings, or the zero value if none were
	// saved yet.
	Settings(ctx context.Context) (*narrative.RuntimeSettings, error)

	// SaveSettings replaces the runtime settings.
	SaveSettings(ctx context.Context, settings *narrative.RuntimeSettings) error

	// CreateMemoryLog validates and stores a memory log entry.
	CreateMemoryLog(ctx context.Context, entry *narrative.MemoryLogEntry) (*narrative.MemoryLogEntry, error)

	// LatestMemoryLogForLocation returns the newest entry recorded at
	// location, or ErrNotFound.
	LatestMemoryLogForLocation(ctx context.Context, location string) (*narrative.MemoryLogEntry, error)

	// GetMemoryLog returns an entry by id, or ErrNotFound.
	GetMemoryLog(ctx context.Context, id string) (*narrative.MemoryLogEntry, error)

	// ListMemoryLogs returns every entry, newest first.
	ListMemoryLogs(ctx context.Context) ([]narrative.MemoryLogEntry, error)

	// UpdateMemoryLog applies a partial update to an entry.
	UpdateMemoryLog(ctx context.Context, id string, update MemoryLogUpdate) (*narrative.MemoryLogEntry, error)

	// DeleteMemoryLog removes an entry and its archived transcripts.
	DeleteMemoryLog(ctx context.Context, id string) error

	// CreateTranscript stores a transcript for an existing entry.
	CreateTranscript(ctx context.Context, transcript *narrative.ArchivedTranscript) (*narrative.ArchivedTranscript, error)

	// Transcripts returns the transcripts of an entry, oldest first.
	Transcripts(ctx context.Context, memoryLogID string) ([]narrative.ArchivedTranscript, error)

	// Close closes the store and releases any resources.
	Close() error
}

// MemoryLogUpdate is a partial update; nil fields are left unchanged.
type MemoryLogUpdate struct {
	Content    *string               `json:"content,omitempty"`
	Summary    *string               `json:"summary,omitempty"`
	Location   *string               `json:"location,omitempty"`
	EntityName *string               `json:"entity_name,omitempty"`
	Type       *narrative.MemoryType `json:"type,omitempty"`
	Importance *int                  `json:"importance,omitempty"`

	// Embedding replaces the stored vector; an empty slice clears it. It is
	// set by the server, never by clients.
	Embedding *[]float32 `json:"-"`
}

// Apply copies the set fields onto entry.
func (u MemoryLogUpdate) Apply(entry *narrative.MemoryLogEntry) {
	if u.Content != nil {
		entry.Content = *u.Content
	}
	if u.Summary != nil {
		entry.Summary = *u.Summary
	}
	if u.Location != nil {
		entry.Location = *u.Location
	}
	if u.EntityName != nil {
		entry.EntityName = *u.EntityName
	}
	if u.Type != nil {
		entry.Type = narrative.ParseMemoryType(string(*u.Type))
	}
	if u.Importance != nil {
		entry.Importance = *u.Importance
	}
	if u.Embedding != nil {
		entry.Embedding = nil
		if len(*u.Embedding) > 0 {
			entry.Embedding = slices.Clone(*u.Embedding)
		}
	}
}

// Empty reports whether the update changes nothing.
func (u MemoryLogUpdate) Empty() bool {
	return u.Content == nil && u.Summary == nil && u.Location == nil &&
		u.EntityName == nil && u.Type == nil && u.Importance == nil && u.Embedding == nil
}
