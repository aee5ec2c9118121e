package sqlstore

import (
	"context"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	tableTurns       = "turns"
	tableMemoryLogs  = "memory_logs"
	tableTranscripts = "archived_transcripts"
	tableSettings    = "runtime_settings"

	// settingsRowID keys the singleton settings row.
	settingsRowID = 1

	// textSize makes string columns unbounded TEXT on every dialect.
	textSize = 2147483647
)

var (
	// TurnsColumns holds the columns for the "turns" table.
	TurnsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "role", Type: field.TypeString},
		{Name: "content", Type: field.TypeString, Size: textSize},
		{Name: "location", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "created_at", Type: field.TypeTime},
	}
	// TurnsTable holds the schema information for the "turns" table.
	TurnsTable = &schema.Table{
		Name:       tableTurns,
		Columns:    TurnsColumns,
		PrimaryKey: []*schema.Column{TurnsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "turn_created_at_id", Columns: []*schema.Column{TurnsColumns[4], TurnsColumns[0]}},
		},
	}

	// MemoryLogsColumns holds the columns for the "memory_logs" table.
	MemoryLogsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "content", Type: field.TypeString, Size: textSize},
		{Name: "summary", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "location", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "entity_name", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "type", Type: field.TypeString},
		{Name: "importance", Type: field.TypeInt},
		{Name: "embedding", Type: field.TypeBytes, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// MemoryLogsTable holds the schema information for the "memory_logs" table.
	MemoryLogsTable = &schema.Table{
		Name:       tableMemoryLogs,
		Columns:    MemoryLogsColumns,
		PrimaryKey: []*schema.Column{MemoryLogsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "memorylog_location_created_at", Columns: []*schema.Column{MemoryLogsColumns[3], MemoryLogsColumns[8]}},
		},
	}

	// ArchivedTranscriptsColumns holds the columns for the "archived_transcripts" table.
	ArchivedTranscriptsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "memory_log_entry_id", Type: field.TypeString},
		{Name: "transcript_content", Type: field.TypeString, Size: textSize},
		{Name: "created_at", Type: field.TypeTime},
	}
	// ArchivedTranscriptsTable holds the schema information for the "archived_transcripts" table.
	ArchivedTranscriptsTable = &schema.Table{
		Name:       tableTranscripts,
		Columns:    ArchivedTranscriptsColumns,
		PrimaryKey: []*schema.Column{ArchivedTranscriptsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "archived_transcripts_memory_logs_transcripts",
				Columns:    []*schema.Column{ArchivedTranscriptsColumns[1]},
				RefColumns: []*schema.Column{MemoryLogsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "archivedtranscript_memory_log_entry_id", Columns: []*schema.Column{ArchivedTranscriptsColumns[1]}},
		},
	}

	// RuntimeSettingsColumns holds the columns for the "runtime_settings" table.
	RuntimeSettingsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt},
		{Name: "behavior_prompt", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "framework_template", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "character_preset", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "lore", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "provider_api_key", Type: field.TypeString, Size: textSize, Default: ""},
	}
	// RuntimeSettingsTable holds the schema information for the "runtime_settings" table.
	RuntimeSettingsTable = &schema.Table{
		Name:       tableSettings,
		Columns:    RuntimeSettingsColumns,
		PrimaryKey: []*schema.Column{RuntimeSettingsColumns[0]},
	}

	// Tables holds all the tables in the schema, referenced tables first.
	Tables = []*schema.Table{
		TurnsTable,
		MemoryLogsTable,
		ArchivedTranscriptsTable,
		RuntimeSettingsTable,
	}
)

func init() {
	ArchivedTranscriptsTable.ForeignKeys[0].RefTable = MemoryLogsTable
}

// migrate creates missing tables, columns and indexes. It never drops
// anything.
func (d *Driver) migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(entsql.OpenDB(d.dialect, d.db))
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
