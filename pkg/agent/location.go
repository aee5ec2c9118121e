package agent

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/llm"
	"github.com/papercomputeco/storyloom/pkg/telemetry"
)

const (
	inferredLocationLines    = 5
	minInferredLocationRunes = 6
)

// explicitLocation matches a "Location:" label, optionally wrapped in
// markdown bold, e.g. "**Location:** The Docks".
var explicitLocation = regexp.MustCompile(`(?i)^\s*(?:\*\*|__)?\s*location\s*:\s*(?:\*\*|__)?\s*(.+?)\s*(?:\*\*|__)?\s*$`)

// LocationStrategy resolves a location from generated text. ok is false when
// the strategy has no answer.
type LocationStrategy interface {
	Name() string
	Locate(ctx context.Context, generated string) (location string, ok bool)
}

// ExplicitLocation reads a "Location:" label on the first non-empty line.
type ExplicitLocation struct{}

func (ExplicitLocation) Name() string { return "explicit" }

func (ExplicitLocation) Locate(_ context.Context, generated string) (string, bool) {
	for _, line := range strings.Split(generated, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := explicitLocation.FindStringSubmatch(line)
		if m == nil {
			return "", false
		}
		loc := strings.Trim(strings.TrimSpace(m[1]), "*_")
		loc = strings.TrimSpace(loc)
		return loc, loc != ""
	}
	return "", false
}

// InferredLocation asks the model to name the location from the opening
// lines. Short answers and the NONE sentinel are rejected.
type InferredLocation struct {
	Provider llm.Provider
	Logger   *zap.Logger
}

func (InferredLocation) Name() string { return "inferred" }

func (s InferredLocation) Locate(ctx context.Context, generated string) (string, bool) {
	if s.Provider == nil {
		return "", false
	}

	resp, err := s.Provider.Generate(ctx, llm.Prompt(locationPrompt, firstLines(generated, inferredLocationLines)))
	if err != nil || resp.Blocked {
		if s.Logger != nil {
			s.Logger.Debug("location inference failed", zap.Error(err))
		}
		return "", false
	}

	answer := strings.TrimSpace(resp.Text)
	answer = strings.Trim(answer, "\"'`*.")
	answer = strings.TrimSpace(answer)
	if strings.EqualFold(answer, noneSentinel) || utf8.RuneCountInString(answer) < minInferredLocationRunes {
		return "", false
	}
	return answer, true
}

// LocationTracker resolves the scene location through an ordered strategy
// chain, keeping the previous location when every strategy declines.
type LocationTracker struct {
	strategies []LocationStrategy
	logger     *zap.Logger
}

// NewLocationTracker returns the Explicit then Inferred chain.
func NewLocationTracker(provider llm.Provider, logger *zap.Logger) *LocationTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return NewLocationTrackerWithStrategies(logger,
		ExplicitLocation{},
		InferredLocation{Provider: provider, Logger: logger},
	)
}

// NewLocationTrackerWithStrategies builds a tracker from an explicit chain.
func NewLocationTrackerWithStrategies(logger *zap.Logger, strategies ...LocationStrategy) *LocationTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocationTracker{strategies: strategies, logger: logger}
}

// Extract returns the location of generated, or previous when no strategy
// produces one.
func (t *LocationTracker) Extract(ctx context.Context, generated, previous string) string {
	ctx, span := telemetry.StartSpan(ctx, "agent.locate")
	defer span.End()

	for _, s := range t.strategies {
		if loc, ok := s.Locate(ctx, generated); ok {
			t.logger.Debug("location resolved",
				zap.String("strategy", s.Name()),
				zap.String("location", loc),
			)
			span.SetAttributes(telemetry.AttrLocation.String(loc))
			return loc
		}
	}

	recordDegraded(stageLocation)
	return previous
}

func firstLines(text string, n int) string {
	lines := strings.SplitN(text, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
