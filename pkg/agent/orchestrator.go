// Package agent implements the narrative pipeline: retrieval, context
// distillation, generation, compliance review with bounded regeneration,
// location tracking and the periodic memory consolidation trigger.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/embeddings"
	"github.com/papercomputeco/storyloom/pkg/eventstream"
	"github.com/papercomputeco/storyloom/pkg/eventstream/nop"
	"github.com/papercomputeco/storyloom/pkg/llm"
	"github.com/papercomputeco/storyloom/pkg/llm/provider"
	"github.com/papercomputeco/storyloom/pkg/memory"
	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/storage"
	"github.com/papercomputeco/storyloom/pkg/telemetry"
	"github.com/papercomputeco/storyloom/pkg/vector"
	"github.com/papercomputeco/storyloom/pkg/worker"
)

const (
	// MaxAttempts is the fixed number of generation attempts per exchange.
	MaxAttempts = 2

	// ConsolidateEvery is the fixed turn interval between consolidations.
	ConsolidateEvery = 4

	// DefaultHistoryTurns is how many trailing turns the generator sees.
	DefaultHistoryTurns = 20
)

// recallCues mark a message that asks to revisit a past event.
var recallCues = []string{"remember", "recall", "flashback", "back when", "last time"}

// Config configures an Orchestrator.
type Config struct {
	Storage storage.Driver

	// ProviderName is the configured provider type, used to decide whether an
	// API key is required and to label events.
	ProviderName string
	Model        string
	Providers    ProviderFactory

	// Keys resolves the API key when runtime settings carry none. Nil means
	// only the settings key is used.
	Keys KeyResolver

	// Embedder and TurnCache back semantic retrieval.
	Embedder  embeddings.Embedder
	TurnCache vector.Driver

	// Memory consolidates and recalls memory log entries. Nil builds a
	// Consolidator over Storage without recall.
	Memory *memory.Consolidator

	// Pool runs consolidation jobs. Nil starts a single-worker pool owned by
	// the Orchestrator.
	Pool *worker.Pool

	Publisher eventstream.Publisher

	HistoryTurns int

	// RecallK adds up to RecallK recalled memory summaries to the generation
	// context. Zero disables it.
	RecallK int

	Logger *zap.Logger
}

// Exchange is the result of one user message.
type Exchange struct {
	UserTurn      narrative.Turn `json:"user_turn"`
	AssistantTurn narrative.Turn `json:"assistant_turn"`
	Location      string         `json:"location"`
	Attempts      int            `json:"attempts"`
	Compliant     bool           `json:"compliant"`
	Feedback      string         `json:"feedback,omitempty"`
	Consolidating bool           `json:"consolidating"`
}

// Orchestrator runs one exchange at a time.
type Orchestrator struct {
	storage   storage.Driver
	config    Config
	query     *QueryAgent
	memory    *memory.Consolidator
	pool      *worker.Pool
	ownsPool  bool
	publisher eventstream.Publisher
	logger    *zap.Logger

	mu      sync.Mutex
	pending *worker.Job
}

// NewOrchestrator creates an Orchestrator, filling in defaults.
func NewOrchestrator(c Config) (*Orchestrator, error) {
	if c.Storage == nil {
		return nil, errors.New("orchestrator requires storage")
	}
	if c.Providers == nil {
		return nil, errors.New("orchestrator requires a provider factory")
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = DefaultHistoryTurns
	}

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mem := c.Memory
	if mem == nil {
		mem = memory.NewConsolidator(memory.Config{Storage: c.Storage, Logger: logger})
	}

	o := &Orchestrator{
		storage: c.Storage,
		config:  c,
		query: NewQueryAgent(QueryConfig{
			Embedder: c.Embedder,
			Cache:    c.TurnCache,
			Logger:   logger,
		}),
		memory:    mem,
		pool:      c.Pool,
		publisher: c.Publisher,
		logger:    logger,
	}

	if o.publisher == nil {
		o.publisher = nop.NewPublisher(logger)
	}

	if o.pool == nil {
		pool, err := worker.NewPool(&worker.Config{
			Consolidator: mem,
			NumWorkers:   1,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("starting consolidation pool: %w", err)
		}
		o.pool = pool
		o.ownsPool = true
	}

	return o, nil
}

// Memory returns the consolidator used for recall.
func (o *Orchestrator) Memory() *memory.Consolidator {
	return o.memory
}

// Exchange runs the pipeline for one user message and returns both persisted
// turns. Consolidation triggered by this exchange continues in the
// background.
func (o *Orchestrator) Exchange(ctx context.Context, message string) (*Exchange, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "agent.exchange")
	defer span.End()

	ex, err := o.exchange(ctx, message)
	if err != nil {
		telemetry.RecordError(ctx, err)
		recordExchange(outcomeError, 0, time.Since(start).Seconds())
		return nil, err
	}

	recordExchange(outcomeOK, ex.Attempts, time.Since(start).Seconds())
	o.logger.Info("exchange complete",
		zap.String("user_turn_id", ex.UserTurn.ID),
		zap.String("assistant_turn_id", ex.AssistantTurn.ID),
		zap.String("location", ex.Location),
		zap.Int("attempts", ex.Attempts),
		zap.Bool("compliant", ex.Compliant),
		zap.Duration("elapsed", time.Since(start)),
	)
	return ex, nil
}

func (o *Orchestrator) exchange(ctx context.Context, message string) (*Exchange, error) {
	// Start
	settings, err := o.storage.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	p, err := o.buildProvider(ctx, settings)
	if err != nil {
		return nil, err
	}

	turns, err := o.storage.Turns(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading turns: %w", err)
	}
	previous := narrative.LastLocation(turns)

	userTurn, err := o.storage.CreateTurn(ctx, &narrative.Turn{
		Role:     narrative.RoleUser,
		Content:  message,
		Location: previous,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting user turn: %w", err)
	}

	// Retrieve and Distill
	retrieved := o.query.Retrieve(ctx, message, turns)
	distilled, err := NewSmartRagAgent(p, o.logger).Distill(ctx, message, retrieved, narrative.Tail(turns, RecentHistoryTurns))
	if err != nil {
		return nil, o.unanswered(userTurn, err)
	}

	gc := GenerationContext{
		BehaviorPrompt:      settings.BehaviorPrompt,
		FrameworkTemplate:   settings.FrameworkTemplate,
		CharacterPreset:     settings.CharacterPreset,
		Lore:                settings.Lore,
		ConversationHistory: toMessages(narrative.Tail(turns, o.config.HistoryTurns)),
	}
	if distilled != "" {
		gc.RelevantMemories = append(gc.RelevantMemories, distilled)
	}
	o.addMemories(ctx, message, previous, &gc)

	// Generate and Review, regenerating on a non-compliant verdict
	generator := NewGenerationAgent(p, o.logger)
	reviewer := NewProofreaderAgent(p, o.logger)

	baseHistory := gc.ConversationHistory
	var (
		draft   string
		verdict narrative.ComplianceVerdict
		attempt int
	)
	for attempt = 1; attempt <= MaxAttempts; attempt++ {
		draft, err = generator.Generate(ctx, message, gc)
		if err != nil {
			return nil, o.unanswered(userTurn, err)
		}

		if draft == BlockedResponse || draft == EmptyResponse {
			verdict = narrative.ComplianceVerdict{IsCompliant: true}
			break
		}

		verdict = reviewer.Review(ctx, draft, message)
		if verdict.IsCompliant {
			break
		}

		o.logger.Info("draft rejected by review",
			zap.Int("attempt", attempt),
			zap.String("feedback", verdict.Feedback),
		)
		if attempt == MaxAttempts {
			break
		}
		recordComplianceRetry()
		gc.ConversationHistory = retryHistory(baseHistory, message, draft, verdict.Feedback)
	}
	attempts := min(attempt, MaxAttempts)

	// LocateAndPersist
	location := NewLocationTracker(p, o.logger).Extract(ctx, draft, previous)

	assistantTurn, err := o.storage.CreateTurn(ctx, &narrative.Turn{
		Role:     narrative.RoleAssistant,
		Content:  draft,
		Location: location,
	})
	if err != nil {
		return nil, o.unanswered(userTurn, fmt.Errorf("persisting assistant turn: %w", err))
	}

	o.publish(ctx, *userTurn, eventstream.ExchangeMeta{})
	o.publish(ctx, *assistantTurn, eventstream.ExchangeMeta{
		Attempts:  attempts,
		Compliant: verdict.IsCompliant,
	})

	ex := &Exchange{
		UserTurn:      *userTurn,
		AssistantTurn: *assistantTurn,
		Location:      location,
		Attempts:      attempts,
		Compliant:     verdict.IsCompliant,
		Feedback:      verdict.Feedback,
	}

	all := make([]narrative.Turn, 0, len(turns)+2)
	all = append(all, turns...)
	all = append(all, *userTurn, *assistantTurn)

	consolidating, err := o.maybeConsolidate(ctx, p, all, location)
	if err != nil {
		return nil, err
	}
	ex.Consolidating = consolidating

	return ex, nil
}

// unanswered logs a persisted user turn that gets no reply and returns err.
// The stored turn count stays odd afterwards, so the consolidation interval
// no longer falls on a completed exchange.
func (o *Orchestrator) unanswered(userTurn *narrative.Turn, err error) error {
	o.logger.Warn("user turn left without a reply; consolidation cadence shifts",
		zap.String("user_turn_id", userTurn.ID),
		zap.Error(err),
	)
	return err
}

// buildProvider resolves the API key (settings, then Keys) and builds the
// exchange provider. A key-requiring provider without a key fails with
// llm.ErrMissingCredential before any call is made.
func (o *Orchestrator) buildProvider(ctx context.Context, settings *narrative.RuntimeSettings) (llm.Provider, error) {
	key := settings.ProviderAPIKey
	source := "settings"
	if key == "" && o.config.Keys != nil {
		var err error
		key, source, err = o.config.Keys.Resolve(o.config.ProviderName, "")
		if err != nil {
			return nil, fmt.Errorf("resolving %s credential: %w", o.config.ProviderName, err)
		}
	}

	if key == "" && o.config.ProviderName != "" && provider.RequiresAPIKey(o.config.ProviderName) {
		return nil, fmt.Errorf("%w: no API key for %s", llm.ErrMissingCredential, o.config.ProviderName)
	}
	if key != "" {
		o.logger.Debug("resolved provider credential",
			zap.String("provider", o.config.ProviderName),
			zap.String("source", source),
		)
	}

	p, err := o.config.Providers(ctx, key)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// addMemories fills the archived transcript for recall requests and appends
// recalled memory summaries.
func (o *Orchestrator) addMemories(ctx context.Context, message, location string, gc *GenerationContext) {
	if wantsRecall(message) {
		transcript, err := o.recallTranscript(ctx, message, location)
		if err != nil {
			recordDegraded(stageRecall)
			o.logger.Warn("failed to load archived transcript", zap.Error(err))
		}
		gc.Transcript = transcript
	}

	if o.config.RecallK <= 0 || !o.memory.RecallEnabled() {
		return
	}
	recalled, err := o.memory.Recall(ctx, message, o.config.RecallK)
	if err != nil {
		recordDegraded(stageRecall)
		o.logger.Warn("memory recall failed", zap.Error(err))
		return
	}
	for _, r := range recalled {
		gc.RelevantMemories = append(gc.RelevantMemories, r.Entry.Summary)
	}
}

func (o *Orchestrator) recallTranscript(ctx context.Context, message, location string) (string, error) {
	if o.memory.RecallEnabled() {
		recalled, err := o.memory.Recall(ctx, message, 1)
		if err == nil && len(recalled) > 0 {
			transcripts, err := o.storage.Transcripts(ctx, recalled[0].Entry.ID)
			if err != nil {
				return "", err
			}
			if len(transcripts) > 0 {
				return transcripts[len(transcripts)-1].TranscriptContent, nil
			}
			return recalled[0].Entry.Content, nil
		}
	}

	_, transcript, err := o.memory.ForLocation(ctx, location)
	return transcript, err
}

// maybeConsolidate waits for the previous consolidation, then enqueues a new
// one when the persisted turn count is a positive multiple of
// ConsolidateEvery.
func (o *Orchestrator) maybeConsolidate(ctx context.Context, p llm.Provider, all []narrative.Turn, location string) (bool, error) {
	if err := o.waitPending(ctx); err != nil {
		return false, err
	}

	count, err := o.storage.CountTurns(ctx)
	if err != nil {
		return false, fmt.Errorf("counting turns: %w", err)
	}
	if count == 0 || count%ConsolidateEvery != 0 {
		return false, nil
	}

	recent := narrative.Tail(all, ConsolidateEvery)
	source := make([]narrative.Turn, len(recent))
	copy(source, recent)

	job := worker.NewJob(p, source, location)
	if !o.pool.Enqueue(job) {
		recordConsolidation(outcomeDropped)
		return false, nil
	}
	o.pending = job
	o.logger.Debug("consolidation enqueued", zap.Int("turn_count", count))
	return true, nil
}

func (o *Orchestrator) waitPending(ctx context.Context) error {
	job := o.pending
	if job == nil {
		return nil
	}

	select {
	case <-job.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	o.pending = nil

	if _, err := job.Result(); err != nil {
		recordConsolidation(outcomeError)
		o.logger.Error("previous consolidation failed", zap.Error(err))
		return nil
	}
	recordConsolidation(outcomeOK)
	return nil
}

// WaitForConsolidation blocks until the in-flight consolidation, if any,
// finishes.
func (o *Orchestrator) WaitForConsolidation(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.waitPending(ctx)
}

func (o *Orchestrator) publish(ctx context.Context, turn narrative.Turn, meta eventstream.ExchangeMeta) {
	event := eventstream.NewTurnPersistedEvent(turn, eventstream.EventSource{
		Provider: o.config.ProviderName,
		Model:    o.config.Model,
	}, meta)
	if err := o.publisher.PublishTurn(ctx, event); err != nil {
		recordDegraded(stagePublish)
		o.logger.Warn("failed to publish turn event",
			zap.String("turn_id", turn.ID),
			zap.Error(err),
		)
	}
}

// Close drains an owned consolidation pool.
func (o *Orchestrator) Close() {
	if o.ownsPool {
		o.pool.Close()
	}
}

// retryHistory returns a new history: base, then the rejected exchange, then
// a system note quoting the reviewer feedback. base is not modified.
func retryHistory(base []llm.Message, message, draft, feedback string) []llm.Message {
	if strings.TrimSpace(feedback) == "" {
		feedback = "The reply advanced the story beyond what the player asked for."
	}

	out := make([]llm.Message, 0, len(base)+3)
	out = append(out, base...)
	return append(out,
		llm.Message{Role: llm.RoleUser, Content: message},
		llm.Message{Role: llm.RoleAssistant, Content: draft},
		llm.Message{Role: llm.RoleSystem, Content: fmt.Sprintf(correctiveNote, feedback)},
	)
}

func toMessages(turns []narrative.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleAssistant
		if t.IsUser() {
			role = llm.RoleUser
		}
		out = append(out, llm.Message{Role: role, Content: t.Content})
	}
	return out
}

func wantsRecall(message string) bool {
	lower := strings.ToLower(message)
	for _, cue := range recallCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}
