package narrative

import (
	"strings"
	"time"
)

const (
	// MinImportance and MaxImportance bound MemoryLogEntry.Importance.
	MinImportance = 1
	MaxImportance = 10

	// DefaultImportance is assigned to entries produced by consolidation.
	DefaultImportance = 5
)

// MemoryType classifies a memory log entry. It is a closed set; anything the
// classifier cannot place lands in MemoryTypeOther.
type MemoryType string

const (
	MemoryTypePlot      MemoryType = "PLOT"
	MemoryTypeCharacter MemoryType = "CHARACTER"
	MemoryTypeEvent     MemoryType = "EVENT"
	MemoryTypeLore      MemoryType = "LORE"
	MemoryTypeOther     MemoryType = "OTHER"
)

// MemoryTypes lists every MemoryType in declaration order.
func MemoryTypes() []MemoryType {
	return []MemoryType{
		MemoryTypePlot,
		MemoryTypeCharacter,
		MemoryTypeEvent,
		MemoryTypeLore,
		MemoryTypeOther,
	}
}

// ParseMemoryType maps free-form classifier output onto a MemoryType.
func ParseMemoryType(s string) MemoryType {
	switch MemoryType(strings.ToUpper(strings.TrimSpace(s))) {
	case MemoryTypePlot:
		return MemoryTypePlot
	case MemoryTypeCharacter:
		return MemoryTypeCharacter
	case MemoryTypeEvent:
		return MemoryTypeEvent
	case MemoryTypeLore:
		return MemoryTypeLore
	default:
		return MemoryTypeOther
	}
}

// MemoryLogEntry is a consolidated, embeddable record of several turns.
type MemoryLogEntry struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	Summary    string     `json:"summary"`
	Location   string     `json:"location,omitempty"`
	EntityName string     `json:"entity_name,omitempty"`
	Type       MemoryType `json:"type"`
	Importance int        `json:"importance"`
	Embedding  []float32  `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ValidImportance reports whether importance is inside [MinImportance, MaxImportance].
func ValidImportance(importance int) bool {
	return importance >= MinImportance && importance <= MaxImportance
}

// ArchivedTranscript is a high-fidelity copy of the turns behind an entry.
type ArchivedTranscript struct {
	ID                string    `json:"id"`
	MemoryLogEntryID  string    `json:"memory_log_entry_id"`
	TranscriptContent string    `json:"transcript_content"`
	CreatedAt         time.Time `json:"created_at"`
}

// RuntimeSettings is the singleton configuration consumed by every stage.
type RuntimeSettings struct {
	BehaviorPrompt    string `json:"behavior_prompt" toml:"behavior_prompt"`
	FrameworkTemplate string `json:"framework_template,omitempty" toml:"framework_template"`
	CharacterPreset   string `json:"character_preset,omitempty" toml:"character_preset"`
	Lore              string `json:"lore,omitempty" toml:"lore"`
	ProviderAPIKey    string `json:"provider_api_key,omitempty" toml:"provider_api_key"`
}

// Redacted returns a copy safe to hand to API clients.
func (s RuntimeSettings) Redacted() RuntimeSettings {
	if s.ProviderAPIKey != "" {
		s.ProviderAPIKey = "********"
	}
	return s
}

// ComplianceVerdict is the reviewer's judgement on one generation attempt.
type ComplianceVerdict struct {
	IsCompliant bool   `json:"is_compliant"`
	Feedback    string `json:"feedback,omitempty"`
}
