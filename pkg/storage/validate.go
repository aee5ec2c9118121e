package storage

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/papercomputeco/storyloom/pkg/narrative"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a lexically sortable ULID string.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// PrepareTurn validates turn and fills in ID and CreatedAt.
func PrepareTurn(turn *narrative.Turn) error {
	if turn == nil {
		return fmt.Errorf("%w: nil turn", ErrInvalid)
	}
	if !narrative.ValidRole(turn.Role) {
		return fmt.Errorf("%w: unknown role %q", ErrInvalid, turn.Role)
	}
	if strings.TrimSpace(turn.Content) == "" {
		return fmt.Errorf("%w: turn content is empty", ErrInvalid)
	}
	if turn.ID == "" {
		turn.ID = NewID()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	return nil
}

// ValidateMemoryLog checks the entry invariants shared by create and update.
func ValidateMemoryLog(entry *narrative.MemoryLogEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: nil memory log entry", ErrInvalid)
	}
	if strings.TrimSpace(entry.Content) == "" {
		return fmt.Errorf("%w: memory log content is empty", ErrInvalid)
	}
	if !narrative.ValidImportance(entry.Importance) {
		return fmt.Errorf("%w: importance %d outside [%d, %d]",
			ErrInvalid, entry.Importance, narrative.MinImportance, narrative.MaxImportance)
	}
	return nil
}

// PrepareMemoryLog validates entry and fills in ID, Type and timestamps.
func PrepareMemoryLog(entry *narrative.MemoryLogEntry) error {
	if err := ValidateMemoryLog(entry); err != nil {
		return err
	}
	entry.Type = narrative.ParseMemoryType(string(entry.Type))
	if entry.ID == "" {
		entry.ID = NewID()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.CreatedAt
	}
	return nil
}

// PrepareTranscript validates transcript and fills in ID and CreatedAt.
func PrepareTranscript(transcript *narrative.ArchivedTranscript) error {
	if transcript == nil {
		return fmt.Errorf("%w: nil transcript", ErrInvalid)
	}
	if transcript.MemoryLogEntryID == "" {
		return fmt.Errorf("%w: transcript has no memory log entry", ErrInvalid)
	}
	if strings.TrimSpace(transcript.TranscriptContent) == "" {
		return fmt.Errorf("%w: transcript content is empty", ErrInvalid)
	}
	if transcript.ID == "" {
		transcript.ID = NewID()
	}
	if transcript.CreatedAt.IsZero() {
		transcript.CreatedAt = time.Now().UTC()
	}
	return nil
}
