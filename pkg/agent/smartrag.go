package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/llm"
	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/telemetry"
)

// RecentHistoryTurns is how many trailing turns the distiller sees as recent
// history.
const RecentHistoryTurns = 5

// SmartRagAgent distills retrieved turns down to the verbatim excerpts the
// generator needs.
type SmartRagAgent struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewSmartRagAgent creates a SmartRagAgent calling provider.
func NewSmartRagAgent(provider llm.Provider, logger *zap.Logger) *SmartRagAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SmartRagAgent{provider: provider, logger: logger}
}

// Distill returns the continuity excerpts for userMessage, or "" when none are
// needed. An empty retrieved set returns "" without calling the provider.
// Provider errors are returned; a safety block yields "".
func (a *SmartRagAgent) Distill(ctx context.Context, userMessage string, retrieved, recentHistory []narrative.Turn) (string, error) {
	if len(retrieved) == 0 {
		return "", nil
	}

	ctx, span := telemetry.StartSpan(ctx, "agent.distill", telemetry.AttrRetrieved.Int(len(retrieved)))
	defer span.End()

	resp, err := a.provider.Generate(ctx, llm.Prompt(distillPrompt, distillInput(userMessage, retrieved, recentHistory)))
	if err != nil {
		telemetry.RecordError(ctx, err)
		return "", fmt.Errorf("distilling context: %w", err)
	}
	if resp.Blocked {
		a.logger.Warn("distillation blocked by provider", zap.String("reason", resp.BlockReason))
		return "", nil
	}

	text := strings.TrimSpace(resp.Text)
	if strings.EqualFold(text, noneSentinel) {
		return "", nil
	}

	a.logger.Debug("context distilled",
		zap.Int("retrieved", len(retrieved)),
		zap.Int("distilled_len", len(text)),
	)
	return text, nil
}

func distillInput(userMessage string, retrieved, recent []narrative.Turn) string {
	var b strings.Builder
	b.WriteString("[PLAYER MESSAGE]\n")
	b.WriteString(userMessage)
	b.WriteString("\n\n[RECENT HISTORY]\n")
	if len(recent) == 0 {
		b.WriteString("(none)")
	} else {
		b.WriteString(narrative.Transcript(recent))
	}
	b.WriteString("\n\n[RETRIEVED PASSAGES]")
	for i, t := range retrieved {
		fmt.Fprintf(&b, "\n\n<passage %d>\n%s: %s", i+1, narrative.RoleLabel(t.Role), t.Content)
	}
	return b.String()
}
