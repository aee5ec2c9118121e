package agent

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/papercomputeco/storyloom/pkg/llm"
	"github.com/papercomputeco/storyloom/pkg/memory"
	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/storyloom/pkg/utils/test"
)

type stubKeys struct {
	key string
	err error
}

func (s stubKeys) Resolve(_, settingsKey string) (string, string, error) {
	if settingsKey != "" {
		return settingsKey, "settings", nil
	}
	return s.key, "credentials", s.err
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx       context.Context
		store     *inmemory.Driver
		r         *router
		publisher *testutils.MockPublisher
		o         *Orchestrator
	)

	newOrchestrator := func(mutate func(c *Config)) *Orchestrator {
		c := Config{
			Storage:      store,
			ProviderName: "ollama",
			Providers:    StaticProvider(r.provider()),
			Publisher:    publisher,
			Memory: memory.NewConsolidator(memory.Config{
				Storage:        store,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     time.Millisecond,
			}),
		}
		if mutate != nil {
			mutate(&c)
		}
		orch, err := NewOrchestrator(c)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(orch.Close)
		return orch
	}

	memoryLogCount := func() int {
		Expect(o.WaitForConsolidation(ctx)).To(Succeed())
		logs, err := store.ListMemoryLogs(ctx)
		Expect(err).NotTo(HaveOccurred())
		return len(logs)
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		Expect(store.SaveSettings(ctx, &narrative.RuntimeSettings{BehaviorPrompt: "You are the narrator."})).To(Succeed())
		r = newRouter()
		publisher = testutils.NewMockPublisher()
		o = newOrchestrator(nil)
	})

	It("requires storage and a provider factory", func() {
		_, err := NewOrchestrator(Config{Providers: StaticProvider(testutils.NewMockProvider())})
		Expect(err).To(HaveOccurred())
		_, err = NewOrchestrator(Config{Storage: store})
		Expect(err).To(HaveOccurred())
	})

	It("rejects a blank message", func() {
		_, err := o.Exchange(ctx, "  \n ")
		Expect(err).To(MatchError(ErrEmptyMessage))
	})

	It("persists both turns and returns the exchange", func() {
		ex, err := o.Exchange(ctx, "I step into the square.")
		Expect(err).NotTo(HaveOccurred())

		Expect(ex.UserTurn.Content).To(Equal("I step into the square."))
		Expect(ex.UserTurn.Location).To(BeEmpty())
		Expect(ex.AssistantTurn.Content).To(Equal("Location: Village Square\nThe crowd murmurs."))
		Expect(ex.AssistantTurn.Location).To(Equal("Village Square"))
		Expect(ex.Location).To(Equal("Village Square"))
		Expect(ex.Attempts).To(Equal(1))
		Expect(ex.Compliant).To(BeTrue())

		turns, err := store.Turns(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(turns).To(HaveLen(2))
		Expect(turns[0].Role).To(Equal(narrative.RoleUser))
		Expect(turns[1].Role).To(Equal(narrative.RoleAssistant))

		Expect(r.calls(stageGenerateCall)).To(Equal(1))
		Expect(r.calls(stageReviewCall)).To(Equal(1))
		Expect(r.calls(stageLocateCall)).To(Equal(0))
	})

	It("persists the user turn with the previous location", func() {
		_, err := o.Exchange(ctx, "I step into the square.")
		Expect(err).NotTo(HaveOccurred())

		r.script(stageGenerateCall, testutils.MockResponse{Text: "Location: Bell Tower\nThe bells ring."})
		ex, err := o.Exchange(ctx, "I climb the tower stairs.")
		Expect(err).NotTo(HaveOccurred())
		Expect(ex.UserTurn.Location).To(Equal("Village Square"))
		Expect(ex.AssistantTurn.Location).To(Equal("Bell Tower"))
	})

	It("keeps the previous location when none can be resolved", func() {
		_, err := o.Exchange(ctx, "I step into the square.")
		Expect(err).NotTo(HaveOccurred())

		r.script(stageGenerateCall, testutils.MockResponse{Text: "Nothing much happens."})
		ex, err := o.Exchange(ctx, "I wait quietly.")
		Expect(err).NotTo(HaveOccurred())
		Expect(ex.Location).To(Equal("Village Square"))
		Expect(r.calls(stageLocateCall)).To(Equal(1))
	})

	It("uses an inferred location when the reply has no label", func() {
		r.script(stageGenerateCall, testutils.MockResponse{Text: "Flour dust hangs in the old mill."})
		r.script(stageLocateCall, testutils.MockResponse{Text: "The Old Mill"})

		ex, err := o.Exchange(ctx, "I push open the door.")
		Expect(err).NotTo(HaveOccurred())
		Expect(ex.Location).To(Equal("The Old Mill"))
	})

	Describe("compliance review", func() {
		It("regenerates once with a single corrective note and stores the second draft", func() {
			r.script(stageGenerateCall,
				testutils.MockResponse{Text: "Location: Inn\nSix hours later, you wake."},
				testutils.MockResponse{Text: "Location: Inn\nYou sip your ale."},
			)
			r.script(stageReviewCall,
				testutils.MockResponse{Text: "NON_COMPLIANT: time skipped 6 hours"},
				testutils.MockResponse{Text: "COMPLIANT"},
			)

			ex, err := o.Exchange(ctx, "I sit at the bar.")
			Expect(err).NotTo(HaveOccurred())
			Expect(ex.Attempts).To(Equal(2))
			Expect(ex.Compliant).To(BeTrue())
			Expect(ex.AssistantTurn.Content).To(Equal("Location: Inn\nYou sip your ale."))

			turns, err := store.Turns(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns[len(turns)-1].Content).To(Equal("Location: Inn\nYou sip your ale."))

			Expect(r.calls(stageGenerateCall)).To(Equal(2))
			first := r.request(stageGenerateCall, 0).Messages
			second := r.request(stageGenerateCall, 1).Messages
			Expect(countContaining(first, "[CONTINUITY REVIEW]")).To(Equal(0))
			Expect(countContaining(second, "[CONTINUITY REVIEW]")).To(Equal(1))
			Expect(countContaining(second, "time skipped 6 hours")).To(Equal(1))

			var notes []llm.Message
			for _, m := range second {
				if m.Role == llm.RoleSystem {
					notes = append(notes, m)
				}
			}
			Expect(notes).To(HaveLen(1))
			Expect(second[len(second)-1]).To(Equal(llm.Message{Role: llm.RoleUser, Content: "I sit at the bar."}))
		})

		It("accepts the second draft when both are non-compliant", func() {
			r.script(stageGenerateCall,
				testutils.MockResponse{Text: "Location: Inn\nA week passes."},
				testutils.MockResponse{Text: "Location: Inn\nA day passes."},
			)
			r.setDefault(stageReviewCall, testutils.MockResponse{Text: "NON_COMPLIANT: time skip"})

			ex, err := o.Exchange(ctx, "I sit at the bar.")
			Expect(err).NotTo(HaveOccurred())
			Expect(ex.Attempts).To(Equal(2))
			Expect(ex.Compliant).To(BeFalse())
			Expect(ex.Feedback).To(Equal("time skip"))
			Expect(ex.AssistantTurn.Content).To(Equal("Location: Inn\nA day passes."))
			Expect(r.calls(stageGenerateCall)).To(Equal(2))
		})

		It("never generates more than twice per message", func() {
			r.setDefault(stageReviewCall, testutils.MockResponse{Text: "NON_COMPLIANT: no"})
			for range 3 {
				before := r.calls(stageGenerateCall)
				_, err := o.Exchange(ctx, "I act.")
				Expect(err).NotTo(HaveOccurred())
				Expect(r.calls(stageGenerateCall) - before).To(BeNumerically("<=", 2))
			}
		})

		It("stops at the fixed attempt limit when every draft is rejected", func() {
			r.setDefault(stageReviewCall, testutils.MockResponse{Text: "NON_COMPLIANT: skips ahead"})

			ex, err := o.Exchange(ctx, "I wait for the tide.")
			Expect(err).NotTo(HaveOccurred())
			Expect(MaxAttempts).To(Equal(2))
			Expect(ex.Attempts).To(Equal(MaxAttempts))
			Expect(r.calls(stageGenerateCall)).To(Equal(MaxAttempts))
			Expect(r.calls(stageReviewCall)).To(Equal(MaxAttempts))
		})

		It("accepts the draft when review fails", func() {
			r.script(stageReviewCall, testutils.MockResponse{Err: testutils.ErrMockProvider})
			ex, err := o.Exchange(ctx, "I act.")
			Expect(err).NotTo(HaveOccurred())
			Expect(ex.Attempts).To(Equal(1))
			Expect(ex.Compliant).To(BeTrue())
		})

		It("persists the blocked sentinel without review", func() {
			r.script(stageGenerateCall, testutils.MockResponse{Blocked: true, BlockReason: "SAFETY"})
			ex, err := o.Exchange(ctx, "I act.")
			Expect(err).NotTo(HaveOccurred())
			Expect(ex.AssistantTurn.Content).To(Equal(BlockedResponse))
			Expect(r.calls(stageReviewCall)).To(Equal(0))
		})
	})

	Describe("credentials", func() {
		It("fails with a missing credential before any provider call", func() {
			factoryCalls := 0
			o = newOrchestrator(func(c *Config) {
				c.ProviderName = "gemini"
				c.Providers = func(context.Context, string) (llm.Provider, error) {
					factoryCalls++
					return r.provider(), nil
				}
			})

			_, err := o.Exchange(ctx, "hello there")
			Expect(err).To(MatchError(llm.ErrMissingCredential))
			Expect(factoryCalls).To(Equal(0))

			n, err := store.CountTurns(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(0))
		})

		It("prefers the settings key and falls back to the resolver", func() {
			var keys []string
			o = newOrchestrator(func(c *Config) {
				c.ProviderName = "gemini"
				c.Keys = stubKeys{key: "from-credentials"}
				c.Providers = func(_ context.Context, key string) (llm.Provider, error) {
					keys = append(keys, key)
					return r.provider(), nil
				}
			})

			_, err := o.Exchange(ctx, "hello there")
			Expect(err).NotTo(HaveOccurred())

			Expect(store.SaveSettings(ctx, &narrative.RuntimeSettings{
				BehaviorPrompt: "Narrate.",
				ProviderAPIKey: "from-settings",
			})).To(Succeed())
			_, err = o.Exchange(ctx, "hello again")
			Expect(err).NotTo(HaveOccurred())

			Expect(keys).To(Equal([]string{"from-credentials", "from-settings"}))
		})

		It("surfaces invalid credentials from generation", func() {
			r.script(stageGenerateCall, testutils.MockResponse{Err: llm.StatusError("gemini", 403, []byte("denied"))})
			_, err := o.Exchange(ctx, "hello there")
			Expect(err).To(MatchError(llm.ErrInvalidCredential))
		})
	})

	Describe("distillation", func() {
		It("distills retrieved turns into a relevant memory", func() {
			_, err := o.Exchange(ctx, "I greet the blacksmith.")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.calls(stageDistillCall)).To(Equal(0))

			r.script(stageDistillCall, testutils.MockResponse{Text: "User: I greet the blacksmith."})
			_, err = o.Exchange(ctx, "I ask the blacksmith about swords.")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.calls(stageDistillCall)).To(Equal(1))

			gen := r.request(stageGenerateCall, 1)
			Expect(gen.Messages[0].Content).To(ContainSubstring("[RELEVANT MEMORY 1]\nUser: I greet the blacksmith."))
		})

		It("warns when a failed exchange leaves the user turn unanswered", func() {
			core, logs := observer.New(zap.WarnLevel)
			o = newOrchestrator(func(c *Config) { c.Logger = zap.New(core) })

			r.script(stageGenerateCall, testutils.MockResponse{Err: testutils.ErrMockProvider})
			_, err := o.Exchange(ctx, "I shout into the well.")
			Expect(err).To(MatchError(testutils.ErrMockProvider))

			turns, err := store.Turns(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(1))

			warned := logs.FilterMessageSnippet("left without a reply").All()
			Expect(warned).To(HaveLen(1))
			Expect(warned[0].ContextMap()).To(HaveKeyWithValue("user_turn_id", turns[0].ID))
		})

		It("fails the exchange when distillation fails", func() {
			_, err := o.Exchange(ctx, "I greet the blacksmith.")
			Expect(err).NotTo(HaveOccurred())

			r.script(stageDistillCall, testutils.MockResponse{Err: testutils.ErrMockProvider})
			_, err = o.Exchange(ctx, "I ask the blacksmith about swords.")
			Expect(err).To(MatchError(testutils.ErrMockProvider))
		})
	})

	Describe("consolidation", func() {
		It("creates a memory log only when the turn count is a positive multiple of 4", func() {
			expected := []int{0, 1, 1, 2}
			for i, want := range expected {
				ex, err := o.Exchange(ctx, "I keep walking.")
				Expect(err).NotTo(HaveOccurred())
				Expect(ex.Consolidating).To(Equal((i+1)%2 == 0))
				Expect(memoryLogCount()).To(Equal(want))
			}

			logs, err := store.ListMemoryLogs(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(logs[0].Importance).To(Equal(narrative.DefaultImportance))
			Expect(logs[0].Location).To(Equal("Village Square"))

			turns, err := store.Turns(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(logs[0].Content).To(Equal(narrative.Transcript(turns[4:8])))

			transcripts, err := store.Transcripts(ctx, logs[0].ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(transcripts).To(HaveLen(1))
		})

		It("never consolidates when the count stays off the interval", func() {
			_, err := store.CreateTurn(ctx, &narrative.Turn{Role: narrative.RoleUser, Content: "Once upon a time."})
			Expect(err).NotTo(HaveOccurred())

			for range 4 {
				ex, err := o.Exchange(ctx, "I keep walking.")
				Expect(err).NotTo(HaveOccurred())
				Expect(ex.Consolidating).To(BeFalse())
			}
			Expect(memoryLogCount()).To(Equal(0))
		})
	})

	It("publishes an event for each persisted turn", func() {
		_, err := o.Exchange(ctx, "I step into the square.")
		Expect(err).NotTo(HaveOccurred())

		events := publisher.Published()
		Expect(events).To(HaveLen(2))
		Expect(events[0].Turn.Role).To(Equal(narrative.RoleUser))
		Expect(events[1].Turn.Role).To(Equal(narrative.RoleAssistant))
		Expect(events[1].Exchange.Attempts).To(Equal(1))
		Expect(events[1].Exchange.Compliant).To(BeTrue())
		Expect(events[1].Source.Provider).To(Equal("ollama"))
	})

	It("ignores publish failures", func() {
		publisher.Err = errors.New("broker down")
		_, err := o.Exchange(ctx, "I step into the square.")
		Expect(err).NotTo(HaveOccurred())
	})

	It("injects the archived transcript when the player asks to remember", func() {
		entry, err := store.CreateMemoryLog(ctx, &narrative.MemoryLogEntry{
			Content:    "User: hi\n\nNarrator: the harbor fog",
			Summary:    "Fog at the harbor.",
			Location:   "Harbor",
			Type:       narrative.MemoryTypeEvent,
			Importance: 5,
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = store.CreateTranscript(ctx, &narrative.ArchivedTranscript{
			MemoryLogEntryID:  entry.ID,
			TranscriptContent: "User: hi\n\nNarrator: the harbor fog",
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = store.CreateTurn(ctx, &narrative.Turn{Role: narrative.RoleAssistant, Content: "You stand on the pier.", Location: "Harbor"})
		Expect(err).NotTo(HaveOccurred())

		_, err = o.Exchange(ctx, "Do you remember the fog?")
		Expect(err).NotTo(HaveOccurred())

		gen := r.request(stageGenerateCall, 0)
		Expect(gen.Messages[0].Content).To(ContainSubstring("[ARCHIVED TRANSCRIPT]\nUser: hi\n\nNarrator: the harbor fog"))
	})
})
