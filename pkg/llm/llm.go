// Package llm defines the provider-agnostic chat generation contract the
// narrative agents call.
package llm

import "context"

// Conversation roles. System messages are folded into user-equivalent turns
// by providers that have no system role inside a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one text turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserEquivalent reports whether the message is sent on the user side of a
// conversation.
func (m Message) UserEquivalent() bool {
	return m.Role == RoleUser || m.Role == RoleSystem
}

// Request is a single generation call.
type Request struct {
	// System is the system instruction. Providers without a dedicated field
	// prepend it to the conversation.
	System string

	Messages []Message

	// Temperature is optional; nil leaves the provider default.
	Temperature *float32

	// MaxTokens caps the response length. Zero leaves the provider default.
	MaxTokens int
}

// Response is the outcome of a generation call.
type Response struct {
	Text string

	// Blocked is set when the provider refused the prompt or the candidate
	// on safety grounds.
	Blocked     bool
	BlockReason string
}

// Provider generates text from a conversation.
type Provider interface {
	// Name returns the canonical provider name (e.g., "gemini", "openai").
	Name() string

	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Prompt builds a request holding one user message.
func Prompt(system, user string) *Request {
	return &Request{
		System:   system,
		Messages: []Message{{Role: RoleUser, Content: user}},
	}
}
