// Package inmemory provides a storage.Driver kept entirely in process memory.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/storage"
)

// Driver implements storage.Driver using in-memory maps.
type Driver struct {
	mu sync.RWMutex

	// turns is kept in insertion order; turnIndex maps id to position.
	turns     []narrative.Turn
	turnIndex map[string]int

	memoryLogs  map[string]narrative.MemoryLogEntry
	transcripts map[string][]narrative.ArchivedTranscript
	settings    narrative.RuntimeSettings
}

// NewDriver creates a new in-memory store.
func NewDriver() *Driver {
	return &Driver{
		turnIndex:   make(map[string]int),
		memoryLogs:  make(map[string]narrative.MemoryLogEntry),
		transcripts: make(map[string][]narrative.ArchivedTranscript),
	}
}

func (d *Driver) Turns(_ context.Context) ([]narrative.Turn, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]narrative.Turn, len(d.turns))
	copy(out, d.turns)
	return out, nil
}

func (d *Driver) CreateTurn(_ context.Context, turn *narrative.Turn) (*narrative.Turn, error) {
	if err := storage.PrepareTurn(turn); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.turnIndex[turn.ID]; ok {
		return nil, fmt.Errorf("%w: turn %s already exists", storage.ErrInvalid, turn.ID)
	}
	d.turnIndex[turn.ID] = len(d.turns)
	d.turns = append(d.turns, *turn)

	stored := *turn
	return &stored, nil
}

func (d *Driver) SetTurnLocation(_ context.Context, id, location string) (*narrative.Turn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, ok := d.turnIndex[id]
	if !ok {
		return nil, fmt.Errorf("%w: turn %s", storage.ErrNotFound, id)
	}
	d.turns[i].Location = location

	stored := d.turns[i]
	return &stored, nil
}

func (d *Driver) CountTurns(_ context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.turns), nil
}

func (d *Driver) Settings(_ context.Context) (*narrative.RuntimeSettings, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	settings := d.settings
	return &settings, nil
}

func (d *Driver) SaveSettings(_ context.Context, settings *narrative.RuntimeSettings) error {
	if settings == nil {
		return fmt.Errorf("%w: nil settings", storage.ErrInvalid)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.settings = *settings
	return nil
}

func (d *Driver) CreateMemoryLog(_ context.Context, entry *narrative.MemoryLogEntry) (*narrative.MemoryLogEntry, error) {
	if err := storage.PrepareMemoryLog(entry); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.memoryLogs[entry.ID]; ok {
		return nil, fmt.Errorf("%w: memory log %s already exists", storage.ErrInvalid, entry.ID)
	}
	d.memoryLogs[entry.ID] = cloneEntry(*entry)

	stored := cloneEntry(*entry)
	return &stored, nil
}

// sortedLogs returns entries newest first, ties broken by descending id.
// Callers hold d.mu.
func (d *Driver) sortedLogs() []narrative.MemoryLogEntry {
	out := make([]narrative.MemoryLogEntry, 0, len(d.memoryLogs))
	for _, e := range d.memoryLogs {
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (d *Driver) LatestMemoryLogForLocation(_ context.Context, location string) (*narrative.MemoryLogEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, e := range d.sortedLogs() {
		if e.Location == location {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("%w: memory log at %q", storage.ErrNotFound, location)
}

func (d *Driver) GetMemoryLog(_ context.Context, id string) (*narrative.MemoryLogEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.memoryLogs[id]
	if !ok {
		return nil, fmt.Errorf("%w: memory log %s", storage.ErrNotFound, id)
	}
	stored := cloneEntry(e)
	return &stored, nil
}

func (d *Driver) ListMemoryLogs(_ context.Context) ([]narrative.MemoryLogEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sortedLogs(), nil
}

func (d *Driver) UpdateMemoryLog(_ context.Context, id string, update storage.MemoryLogUpdate) (*narrative.MemoryLogEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.memoryLogs[id]
	if !ok {
		return nil, fmt.Errorf("%w: memory log %s", storage.ErrNotFound, id)
	}

	update.Apply(&e)
	if err := storage.ValidateMemoryLog(&e); err != nil {
		return nil, err
	}
	e.UpdatedAt = time.Now().UTC()
	d.memoryLogs[id] = e

	stored := cloneEntry(e)
	return &stored, nil
}

func (d *Driver) DeleteMemoryLog(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.memoryLogs[id]; !ok {
		return fmt.Errorf("%w: memory log %s", storage.ErrNotFound, id)
	}
	delete(d.memoryLogs, id)
	delete(d.transcripts, id)
	return nil
}

func (d *Driver) CreateTranscript(_ context.Context, transcript *narrative.ArchivedTranscript) (*narrative.ArchivedTranscript, error) {
	if err := storage.PrepareTranscript(transcript); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.memoryLogs[transcript.MemoryLogEntryID]; !ok {
		return nil, fmt.Errorf("%w: memory log %s", storage.ErrNotFound, transcript.MemoryLogEntryID)
	}
	d.transcripts[transcript.MemoryLogEntryID] = append(d.transcripts[transcript.MemoryLogEntryID], *transcript)

	stored := *transcript
	return &stored, nil
}

func (d *Driver) Transcripts(_ context.Context, memoryLogID string) ([]narrative.ArchivedTranscript, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	src := d.transcripts[memoryLogID]
	out := make([]narrative.ArchivedTranscript, len(src))
	copy(out, src)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (d *Driver) Close() error {
	return nil
}

func cloneEntry(e narrative.MemoryLogEntry) narrative.MemoryLogEntry {
	if e.Embedding != nil {
		emb := make([]float32, len(e.Embedding))
		copy(emb, e.Embedding)
		e.Embedding = emb
	}
	return e
}

var _ storage.Driver = (*Driver)(nil)
