// Package sqlstore implements storage.Driver over database/sql. Statements are
// built with the ent SQL builder so one implementation serves both the SQLite
// and PostgreSQL dialects.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/storage"
)

var (
	turnColumns       = []string{"id", "role", "content", "location", "created_at"}
	memoryLogColumns  = []string{"id", "content", "summary", "location", "entity_name", "type", "importance", "embedding", "created_at", "updated_at"}
	transcriptColumns = []string{"id", "memory_log_entry_id", "transcript_content", "created_at"}
	settingsColumns   = []string{"id", "behavior_prompt", "framework_template", "character_preset", "lore", "provider_api_key"}
)

// Driver provides storage operations on a *sql.DB. It is database-agnostic
// and is embedded by the sqlite and postgres drivers.
type Driver struct {
	db      *sql.DB
	dialect string
}

// New wraps db and creates the schema.
func New(ctx context.Context, db *sql.DB, dialect string) (*Driver, error) {
	d := &Driver{db: db, dialect: dialect}
	if err := d.migrate(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// DB exposes the underlying handle.
func (d *Driver) DB() *sql.DB {
	return d.db
}

func (d *Driver) builder() *entsql.DialectBuilder {
	return entsql.Dialect(d.dialect)
}

func (d *Driver) exec(ctx context.Context, q entsql.Querier) (sql.Result, error) {
	query, args := q.Query()
	return d.db.ExecContext(ctx, query, args...)
}

func (d *Driver) query(ctx context.Context, q entsql.Querier) (*sql.Rows, error) {
	query, args := q.Query()
	return d.db.QueryContext(ctx, query, args...)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(s scanner) (narrative.Turn, error) {
	var t narrative.Turn
	err := s.Scan(&t.ID, &t.Role, &t.Content, &t.Location, &t.CreatedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, err
}

func (d *Driver) Turns(ctx context.Context) ([]narrative.Turn, error) {
	rows, err := d.query(ctx, d.builder().
		Select(turnColumns...).
		From(entsql.Table(tableTurns)).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var turns []narrative.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (d *Driver) CreateTurn(ctx context.Context, turn *narrative.Turn) (*narrative.Turn, error) {
	if err := storage.PrepareTurn(turn); err != nil {
		return nil, err
	}

	_, err := d.exec(ctx, d.builder().
		Insert(tableTurns).
		Columns(turnColumns...).
		Values(turn.ID, turn.Role, turn.Content, turn.Location, turn.CreatedAt.UTC()))
	if err != nil {
		return nil, fmt.Errorf("failed to create turn: %w", err)
	}

	stored := *turn
	return &stored, nil
}

func (d *Driver) getTurn(ctx context.Context, id string) (*narrative.Turn, error) {
	query, args := d.builder().
		Select(turnColumns...).
		From(entsql.Table(tableTurns)).
		Where(entsql.EQ("id", id)).
		Query()

	t, err := scanTurn(d.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: turn %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}
	return &t, nil
}

func (d *Driver) SetTurnLocation(ctx context.Context, id, location string) (*narrative.Turn, error) {
	res, err := d.exec(ctx, d.builder().
		Update(tableTurns).
		Set("location", location).
		Where(entsql.EQ("id", id)))
	if err != nil {
		return nil, fmt.Errorf("failed to update turn location: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: turn %s", storage.ErrNotFound, id)
	}
	return d.getTurn(ctx, id)
}

func (d *Driver) CountTurns(ctx context.Context) (int, error) {
	query, args := d.builder().
		Select(entsql.Count("*")).
		From(entsql.Table(tableTurns)).
		Query()

	var n int
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return n, nil
}

func (d *Driver) Settings(ctx context.Context) (*narrative.RuntimeSettings, error) {
	query, args := d.builder().
		Select(settingsColumns[1:]...).
		From(entsql.Table(tableSettings)).
		Where(entsql.EQ("id", settingsRowID)).
		Query()

	var s narrative.RuntimeSettings
	err := d.db.QueryRowContext(ctx, query, args...).Scan(
		&s.BehaviorPrompt, &s.FrameworkTemplate, &s.CharacterPreset, &s.Lore, &s.ProviderAPIKey,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &narrative.RuntimeSettings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return &s, nil
}

func (d *Driver) SaveSettings(ctx context.Context, s *narrative.RuntimeSettings) error {
	if s == nil {
		return fmt.Errorf("%w: nil settings", storage.ErrInvalid)
	}

	_, err := d.exec(ctx, d.builder().
		Insert(tableSettings).
		Columns(settingsColumns...).
		Values(settingsRowID, s.BehaviorPrompt, s.FrameworkTemplate, s.CharacterPreset, s.Lore, s.ProviderAPIKey).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWithNewValues(),
		))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func scanMemoryLog(s scanner) (narrative.MemoryLogEntry, error) {
	var (
		e    narrative.MemoryLogEntry
		typ  string
		blob []byte
	)
	err := s.Scan(&e.ID, &e.Content, &e.Summary, &e.Location, &e.EntityName,
		&typ, &e.Importance, &blob, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return e, err
	}
	e.Type = narrative.ParseMemoryType(typ)
	e.Embedding = decodeEmbedding(blob)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

func (d *Driver) CreateMemoryLog(ctx context.Context, entry *narrative.MemoryLogEntry) (*narrative.MemoryLogEntry, error) {
	if err := storage.PrepareMemoryLog(entry); err != nil {
		return nil, err
	}

	_, err := d.exec(ctx, d.builder().
		Insert(tableMemoryLogs).
		Columns(memoryLogColumns...).
		Values(entry.ID, entry.Content, entry.Summary, entry.Location, entry.EntityName,
			string(entry.Type), entry.Importance, encodeEmbedding(entry.Embedding),
			entry.CreatedAt.UTC(), entry.UpdatedAt.UTC()))
	if err != nil {
		return nil, fmt.Errorf("failed to create memory log: %w", err)
	}

	stored := *entry
	return &stored, nil
}

func (d *Driver) oneMemoryLog(ctx context.Context, sel *entsql.Selector, what string) (*narrative.MemoryLogEntry, error) {
	query, args := sel.Query()
	e, err := scanMemoryLog(d.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: memory log %s", storage.ErrNotFound, what)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory log: %w", err)
	}
	return &e, nil
}

func (d *Driver) LatestMemoryLogForLocation(ctx context.Context, location string) (*narrative.MemoryLogEntry, error) {
	return d.oneMemoryLog(ctx, d.builder().
		Select(memoryLogColumns...).
		From(entsql.Table(tableMemoryLogs)).
		Where(entsql.EQ("location", location)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id")).
		Limit(1), fmt.Sprintf("at %q", location))
}

func (d *Driver) GetMemoryLog(ctx context.Context, id string) (*narrative.MemoryLogEntry, error) {
	return d.oneMemoryLog(ctx, d.builder().
		Select(memoryLogColumns...).
		From(entsql.Table(tableMemoryLogs)).
		Where(entsql.EQ("id", id)), id)
}

func (d *Driver) ListMemoryLogs(ctx context.Context) ([]narrative.MemoryLogEntry, error) {
	rows, err := d.query(ctx, d.builder().
		Select(memoryLogColumns...).
		From(entsql.Table(tableMemoryLogs)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id")))
	if err != nil {
		return nil, fmt.Errorf("failed to list memory logs: %w", err)
	}
	defer rows.Close()

	var entries []narrative.MemoryLogEntry
	for rows.Next() {
		e, err := scanMemoryLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (d *Driver) UpdateMemoryLog(ctx context.Context, id string, update storage.MemoryLogUpdate) (*narrative.MemoryLogEntry, error) {
	entry, err := d.GetMemoryLog(ctx, id)
	if err != nil {
		return nil, err
	}

	update.Apply(entry)
	if err := storage.ValidateMemoryLog(entry); err != nil {
		return nil, err
	}
	entry.UpdatedAt = time.Now().UTC()

	_, err = d.exec(ctx, d.builder().
		Update(tableMemoryLogs).
		Set("content", entry.Content).
		Set("summary", entry.Summary).
		Set("location", entry.Location).
		Set("entity_name", entry.EntityName).
		Set("type", string(entry.Type)).
		Set("importance", entry.Importance).
		Set("embedding", encodeEmbedding(entry.Embedding)).
		Set("updated_at", entry.UpdatedAt).
		Where(entsql.EQ("id", id)))
	if err != nil {
		return nil, fmt.Errorf("failed to update memory log: %w", err)
	}
	return entry, nil
}

// DeleteMemoryLog removes the entry and its transcripts in one transaction;
// the foreign key cascade covers the same rows.
func (d *Driver) DeleteMemoryLog(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query, args := d.builder().Delete(tableTranscripts).Where(entsql.EQ("memory_log_entry_id", id)).Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete transcripts: %w", err)
	}

	query, args = d.builder().Delete(tableMemoryLogs).Where(entsql.EQ("id", id)).Query()
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete memory log: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: memory log %s", storage.ErrNotFound, id)
	}

	return tx.Commit()
}

func (d *Driver) CreateTranscript(ctx context.Context, transcript *narrative.ArchivedTranscript) (*narrative.ArchivedTranscript, error) {
	if err := storage.PrepareTranscript(transcript); err != nil {
		return nil, err
	}
	if _, err := d.GetMemoryLog(ctx, transcript.MemoryLogEntryID); err != nil {
		return nil, err
	}

	_, err := d.exec(ctx, d.builder().
		Insert(tableTranscripts).
		Columns(transcriptColumns...).
		Values(transcript.ID, transcript.MemoryLogEntryID, transcript.TranscriptContent, transcript.CreatedAt.UTC()))
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript: %w", err)
	}

	stored := *transcript
	return &stored, nil
}

func (d *Driver) Transcripts(ctx context.Context, memoryLogID string) ([]narrative.ArchivedTranscript, error) {
	rows, err := d.query(ctx, d.builder().
		Select(transcriptColumns...).
		From(entsql.Table(tableTranscripts)).
		Where(entsql.EQ("memory_log_entry_id", memoryLogID)).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer rows.Close()

	var out []narrative.ArchivedTranscript
	for rows.Next() {
		var t narrative.ArchivedTranscript
		if err := rows.Scan(&t.ID, &t.MemoryLogEntryID, &t.TranscriptContent, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (d *Driver) Close() error {
	return d.db.Close()
}

func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

var _ storage.Driver = (*Driver)(nil)
