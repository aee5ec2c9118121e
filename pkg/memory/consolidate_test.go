package memory_test

import (
	"context"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/storyloom/pkg/llm"
	"github.com/papercomputeco/storyloom/pkg/memory"
	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/storyloom/pkg/utils/test"
	"github.com/papercomputeco/storyloom/pkg/vector/local"
)

func fourTurns() []narrative.Turn {
	return []narrative.Turn{
		{ID: "1", Role: narrative.RoleUser, Content: "I open the door."},
		{ID: "2", Role: narrative.RoleAssistant, Content: "The door groans open onto a dusty hall."},
		{ID: "3", Role: narrative.RoleUser, Content: "I call out for Mira."},
		{ID: "4", Role: narrative.RoleAssistant, Content: "Mira answers from the stairwell."},
	}
}

// isSummaryRequest distinguishes the two consolidation calls.
func isSummaryRequest(req *llm.Request) bool {
	return strings.Contains(req.System, "Summarize")
}

var _ = Describe("Consolidator", func() {
	var (
		ctx      context.Context
		store    *inmemory.Driver
		embedder *testutils.MockEmbedder
		index    *local.Driver
		c        *memory.Consolidator
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		embedder = testutils.NewMockEmbedder()
		index = local.NewDriver(0)
		c = memory.NewConsolidator(memory.Config{
			Storage:        store,
			Embedder:       embedder,
			Index:          index,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		})
	})

	It("rejects an empty turn list", func() {
		_, err := c.Consolidate(ctx, testutils.NewMockProvider(), nil, "Castle")
		Expect(err).To(MatchError(memory.ErrNoTurns))
	})

	It("persists an entry with a verbatim transcript, summary and classification", func() {
		provider := testutils.NewMockProvider()
		provider.Respond = func(req *llm.Request) testutils.MockResponse {
			if isSummaryRequest(req) {
				return testutils.MockResponse{Text: "  The hero entered the hall and found Mira.  "}
			}
			return testutils.MockResponse{Text: "```json\n{\"entity_name\": \"Mira\", \"type\": \"character\"}\n```"}
		}

		res, err := c.Consolidate(ctx, provider, fourTurns(), "Old Manor")
		Expect(err).NotTo(HaveOccurred())
		Expect(provider.CallCount()).To(Equal(2))

		entry := res.Entry
		Expect(entry.ID).NotTo(BeEmpty())
		Expect(entry.Content).To(Equal(narrative.Transcript(fourTurns())))
		Expect(entry.Summary).To(Equal("The hero entered the hall and found Mira."))
		Expect(entry.Location).To(Equal("Old Manor"))
		Expect(entry.EntityName).To(Equal("Mira"))
		Expect(entry.Type).To(Equal(narrative.MemoryTypeCharacter))
		Expect(entry.Importance).To(Equal(narrative.DefaultImportance))
		Expect(res.SummaryFallback).To(BeFalse())
		Expect(res.ClassificationFallback).To(BeFalse())

		transcripts, err := store.Transcripts(ctx, entry.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(transcripts).To(HaveLen(1))
		Expect(transcripts[0].TranscriptContent).To(Equal(entry.Content))

		Expect(index.Len()).To(Equal(1))
	})

	It("retries summarization and falls back to raw text after exhaustion", func() {
		provider := testutils.NewMockProvider()
		summaryCalls := 0
		provider.Respond = func(req *llm.Request) testutils.MockResponse {
			if isSummaryRequest(req) {
				summaryCalls++
				return testutils.MockResponse{Err: testutils.ErrMockProvider}
			}
			return testutils.MockResponse{Text: `{"entity_name": "", "type": "EVENT"}`}
		}

		res, err := c.Consolidate(ctx, provider, fourTurns(), "Old Manor")
		Expect(err).NotTo(HaveOccurred())
		Expect(summaryCalls).To(Equal(int(memory.DefaultSummaryAttempts)))
		Expect(res.SummaryFallback).To(BeTrue())
		Expect(res.Entry.Summary).To(Equal(
			"I open the door.\nThe door groans open onto a dusty hall.\nI call out for Mira.\nMira answers from the stairwell.",
		))
		Expect(res.Entry.Type).To(Equal(narrative.MemoryTypeEvent))
	})

	It("succeeds on a later summarization attempt", func() {
		provider := testutils.NewMockProvider()
		summaryCalls := 0
		provider.Respond = func(req *llm.Request) testutils.MockResponse {
			if isSummaryRequest(req) {
				summaryCalls++
				if summaryCalls == 1 {
					return testutils.MockResponse{Blocked: true, BlockReason: "SAFETY"}
				}
				return testutils.MockResponse{Text: "Recovered summary."}
			}
			return testutils.MockResponse{Text: `{"entity_name": "Hall", "type": "LORE"}`}
		}

		res, err := c.Consolidate(ctx, provider, fourTurns(), "")
		Expect(err).NotTo(HaveOccurred())
		Expect(summaryCalls).To(Equal(2))
		Expect(res.Entry.Summary).To(Equal("Recovered summary."))
		Expect(res.SummaryFallback).To(BeFalse())
	})

	It("stops retrying on credential errors", func() {
		provider := testutils.NewMockProvider()
		provider.Default = testutils.MockResponse{Err: llm.ErrInvalidCredential}

		res, err := c.Consolidate(ctx, provider, fourTurns(), "")
		Expect(err).NotTo(HaveOccurred())
		// one summary attempt plus one classification attempt
		Expect(provider.CallCount()).To(Equal(2))
		Expect(res.SummaryFallback).To(BeTrue())
	})

	DescribeTable("classification fallback",
		func(resp testutils.MockResponse) {
			provider := testutils.NewMockProvider()
			provider.Respond = func(req *llm.Request) testutils.MockResponse {
				if isSummaryRequest(req) {
					return testutils.MockResponse{Text: "A summary."}
				}
				return resp
			}

			res, err := c.Consolidate(ctx, provider, fourTurns(), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Entry.Type).To(Equal(narrative.MemoryTypeOther))
			Expect(res.Entry.EntityName).To(BeEmpty())
			Expect(res.ClassificationFallback).To(BeTrue())
		},
		Entry("provider error", testutils.MockResponse{Err: testutils.ErrMockProvider}),
		Entry("safety block", testutils.MockResponse{Blocked: true}),
		Entry("prose instead of JSON", testutils.MockResponse{Text: "It is about Mira."}),
		Entry("malformed JSON", testutils.MockResponse{Text: `{"entity_name": "Mira", "type": }`}),
	)

	It("maps unknown classification types to OTHER but keeps the entity", func() {
		provider := testutils.NewMockProvider()
		provider.Respond = func(req *llm.Request) testutils.MockResponse {
			if isSummaryRequest(req) {
				return testutils.MockResponse{Text: "A summary."}
			}
			return testutils.MockResponse{Text: `{"entity_name": "Mira", "type": "ROMANCE"}`}
		}

		res, err := c.Consolidate(ctx, provider, fourTurns(), "")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Entry.Type).To(Equal(narrative.MemoryTypeOther))
		Expect(res.Entry.EntityName).To(Equal("Mira"))
		Expect(res.ClassificationFallback).To(BeFalse())
	})

	It("still persists the entry when embedding fails", func() {
		embedder.FailAll = true
		provider := testutils.NewMockProvider()
		provider.Default = testutils.MockResponse{Text: `{"entity_name": "", "type": "PLOT"}`}

		res, err := c.Consolidate(ctx, provider, fourTurns(), "")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Entry.Embedding).To(BeNil())
		Expect(index.Len()).To(Equal(0))
	})
})
