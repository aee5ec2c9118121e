package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/llm"
	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/telemetry"
)

const (
	markerCompliant    = "COMPLIANT"
	markerNonCompliant = "NON_COMPLIANT"
)

// ProofreaderAgent reviews a draft for unrequested time skips, scene changes
// and arc summaries.
type ProofreaderAgent struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewProofreaderAgent creates a ProofreaderAgent calling provider.
func NewProofreaderAgent(provider llm.Provider, logger *zap.Logger) *ProofreaderAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProofreaderAgent{provider: provider, logger: logger}
}

// Review judges generated against userMessage. It never fails: provider
// errors, safety blocks and unparseable verdicts count as compliant.
func (a *ProofreaderAgent) Review(ctx context.Context, generated, userMessage string) narrative.ComplianceVerdict {
	ctx, span := telemetry.StartSpan(ctx, "agent.review")
	defer span.End()

	input := "[PLAYER MESSAGE]\n" + userMessage + "\n\n[NARRATOR DRAFT]\n" + generated
	resp, err := a.provider.Generate(ctx, llm.Prompt(reviewPrompt, input))
	switch {
	case err != nil:
		telemetry.RecordError(ctx, err)
		recordDegraded(stageReview)
		a.logger.Warn("review failed, accepting draft", zap.Error(err))
		return narrative.ComplianceVerdict{IsCompliant: true}
	case resp.Blocked:
		recordDegraded(stageReview)
		a.logger.Warn("review blocked by provider, accepting draft", zap.String("reason", resp.BlockReason))
		return narrative.ComplianceVerdict{IsCompliant: true}
	}

	verdict, ok := ParseVerdict(resp.Text)
	if !ok {
		recordDegraded(stageReview)
		a.logger.Warn("unparseable review verdict, accepting draft", zap.String("raw", resp.Text))
	}
	span.SetAttributes(telemetry.AttrCompliant.Bool(verdict.IsCompliant))
	return verdict
}

// ParseVerdict reads a verdict that begins with COMPLIANT or NON_COMPLIANT.
// Feedback is the remaining text with leading separators removed. ok is false
// when no marker was found, in which case the verdict is compliant.
func ParseVerdict(text string) (narrative.ComplianceVerdict, bool) {
	body := strings.TrimLeft(strings.TrimSpace(text), "*#` \t")
	upper := strings.ToUpper(body)

	switch {
	case strings.HasPrefix(upper, markerNonCompliant):
		return narrative.ComplianceVerdict{
			IsCompliant: false,
			Feedback:    trimFeedback(body[len(markerNonCompliant):]),
		}, true
	case strings.HasPrefix(upper, markerCompliant):
		return narrative.ComplianceVerdict{
			IsCompliant: true,
			Feedback:    trimFeedback(body[len(markerCompliant):]),
		}, true
	default:
		return narrative.ComplianceVerdict{IsCompliant: true}, false
	}
}

func trimFeedback(s string) string {
	return strings.TrimSpace(strings.TrimLeft(s, "*`:-.,;|–— \t\r\n"))
}
