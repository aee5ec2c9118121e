package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/llm"
	"github.com/papercomputeco/storyloom/pkg/telemetry"
)

const (
	// BlockedResponse replaces a reply the provider refused on safety grounds.
	BlockedResponse = "The story falters here. The narrator could not continue this scene. Try steering it another way."

	// EmptyResponse replaces an empty reply.
	EmptyResponse = "Sorry, the narrator lost the thread for a moment. Please try again."
)

// GenerationContext is everything the generator composes into its system
// instruction and conversation.
type GenerationContext struct {
	BehaviorPrompt    string
	FrameworkTemplate string
	CharacterPreset   string
	Lore              string

	// RelevantMemories are injected individually labeled unless Transcript
	// is set.
	RelevantMemories []string

	// Transcript is a high-fidelity archived transcript for a specifically
	// recalled past event. It replaces RelevantMemories when non-empty.
	Transcript string

	ConversationHistory []llm.Message
}

// GenerationAgent produces the narrator reply.
type GenerationAgent struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewGenerationAgent creates a GenerationAgent calling provider.
func NewGenerationAgent(provider llm.Provider, logger *zap.Logger) *GenerationAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationAgent{provider: provider, logger: logger}
}

// Generate returns the narrator reply to userMessage. Safety blocks return
// BlockedResponse and empty output returns EmptyResponse, both without error.
// Authentication failures wrap llm.ErrInvalidCredential.
func (a *GenerationAgent) Generate(ctx context.Context, userMessage string, gc GenerationContext) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "agent.generate", telemetry.AttrProvider.String(a.provider.Name()))
	defer span.End()

	req := &llm.Request{
		Messages: BuildMessages(BuildSystemInstruction(gc), gc.ConversationHistory, userMessage),
	}

	resp, err := a.provider.Generate(ctx, req)
	if err != nil {
		telemetry.RecordError(ctx, err)
		if isCredentialError(err) {
			return "", fmt.Errorf("generating response: %w", err)
		}
		if looksLikeAuthError(err) {
			return "", fmt.Errorf("generating response: %w: %w", llm.ErrInvalidCredential, err)
		}
		return "", fmt.Errorf("generating response: %w", err)
	}

	if resp.Blocked {
		recordDegraded(stageBlocked)
		a.logger.Warn("generation blocked by provider", zap.String("reason", resp.BlockReason))
		return BlockedResponse, nil
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		a.logger.Warn("provider returned an empty response")
		return EmptyResponse, nil
	}
	return text, nil
}

// BuildSystemInstruction assembles the system instruction: behavior prompt,
// character preset, lore, output format, then memories.
func BuildSystemInstruction(gc GenerationContext) string {
	sections := []string{strings.TrimSpace(gc.BehaviorPrompt)}

	if preset := strings.TrimSpace(gc.CharacterPreset); preset != "" {
		sections = append(sections, "[CHARACTER PRESET]\n"+preset)
	}
	if lore := strings.TrimSpace(gc.Lore); lore != "" {
		sections = append(sections, "[WORLD LORE]\n"+lore)
	}

	format := strings.TrimSpace(gc.FrameworkTemplate)
	if format == "" {
		format = defaultOutputFormat
	}
	sections = append(sections, "[OUTPUT FORMAT]\n"+format)

	if transcript := strings.TrimSpace(gc.Transcript); transcript != "" {
		sections = append(sections, "[ARCHIVED TRANSCRIPT]\n"+transcript)
	} else {
		n := 0
		for _, m := range gc.RelevantMemories {
			if m = strings.TrimSpace(m); m == "" {
				continue
			}
			n++
			sections = append(sections, fmt.Sprintf("[RELEVANT MEMORY %d]\n%s", n, m))
		}
	}

	return strings.Join(sections, "\n\n")
}

// BuildMessages returns a new conversation: history with the instruction
// merged into a leading user-equivalent turn, followed by userMessage.
// history is not modified.
func BuildMessages(instruction string, history []llm.Message, userMessage string) []llm.Message {
	out := make([]llm.Message, 0, len(history)+2)

	switch {
	case len(history) > 0 && history[0].UserEquivalent():
		first := history[0]
		first.Content = instruction + "\n\n" + first.Content
		out = append(out, first)
		out = append(out, history[1:]...)
	default:
		out = append(out, llm.Message{Role: llm.RoleUser, Content: instruction})
		out = append(out, history...)
	}

	return append(out, llm.Message{Role: llm.RoleUser, Content: userMessage})
}

func isCredentialError(err error) bool {
	return errors.Is(err, llm.ErrInvalidCredential) || errors.Is(err, llm.ErrMissingCredential)
}

// looksLikeAuthError matches provider errors that reject the key without a
// typed status.
func looksLikeAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"api key not valid",
		"invalid api key",
		"invalid x-api-key",
		"permission_denied",
		"unauthenticated",
		"unauthorized",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
