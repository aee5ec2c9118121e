// Package narrative holds the domain model for a long-running story thread:
// turns, consolidated memory log entries, archived transcripts and the
// singleton runtime settings every pipeline stage reads.
package narrative

import (
	"strings"
	"time"
)

const (
	// RoleUser marks a turn written by the player.
	RoleUser = "user"

	// RoleAssistant marks a turn produced by the narrator pipeline.
	RoleAssistant = "assistant"
)

// Turn is one message in the ongoing narrative exchange.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsUser reports whether the turn was authored by the player.
func (t Turn) IsUser() bool {
	return t.Role == RoleUser
}

// ValidRole reports whether role is one a persisted turn may carry.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// LastLocation returns the most recent non-empty location in turns, which are
// expected in chronological order.
func LastLocation(turns []Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if loc := strings.TrimSpace(turns[i].Location); loc != "" {
			return loc
		}
	}
	return ""
}

// Tail returns the last n turns (or all of them when there are fewer).
func Tail(turns []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// Transcript renders turns as a verbatim "Role: content" block.
func Transcript(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(RoleLabel(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

// RoleLabel is the display label used in transcripts and prompts.
func RoleLabel(role string) string {
	switch role {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Narrator"
	default:
		return "System"
	}
}
