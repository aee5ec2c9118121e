package agent

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/storyloom/pkg/narrative"
	testutils "github.com/papercomputeco/storyloom/pkg/utils/test"
)

var _ = Describe("SmartRagAgent", func() {
	var (
		ctx       context.Context
		retrieved []narrative.Turn
		recent    []narrative.Turn
	)

	BeforeEach(func() {
		ctx = context.Background()
		retrieved = []narrative.Turn{
			{ID: "r1", Role: narrative.RoleAssistant, Content: "Mira, the ferrywoman, owes you a favor."},
		}
		recent = []narrative.Turn{
			{ID: "h1", Role: narrative.RoleUser, Content: "I walk to the river."},
		}
	})

	It("returns empty without calling the provider when nothing was retrieved", func() {
		p := testutils.NewMockProvider()
		got, err := NewSmartRagAgent(p, nil).Distill(ctx, "hello", nil, recent)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeEmpty())
		Expect(p.CallCount()).To(Equal(0))
	})

	It("returns the trimmed excerpts and sends every section", func() {
		p := testutils.NewMockProvider(testutils.MockResponse{Text: "  Mira, the ferrywoman, owes you a favor.\n"})
		got, err := NewSmartRagAgent(p, nil).Distill(ctx, "I ask Mira for a ride.", retrieved, recent)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal("Mira, the ferrywoman, owes you a favor."))

		req := p.LastRequest()
		Expect(req.System).To(Equal(distillPrompt))
		Expect(req.Messages).To(HaveLen(1))
		Expect(req.Messages[0].Content).To(ContainSubstring("[PLAYER MESSAGE]\nI ask Mira for a ride."))
		Expect(req.Messages[0].Content).To(ContainSubstring("User: I walk to the river."))
		Expect(req.Messages[0].Content).To(ContainSubstring("<passage 1>\nNarrator: Mira, the ferrywoman"))
	})

	DescribeTable("treats empty answers as no context",
		func(resp testutils.MockResponse) {
			p := testutils.NewMockProvider(resp)
			got, err := NewSmartRagAgent(p, nil).Distill(ctx, "hi", retrieved, recent)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())
		},
		Entry("empty text", testutils.MockResponse{Text: ""}),
		Entry("whitespace", testutils.MockResponse{Text: " \n "}),
		Entry("NONE sentinel", testutils.MockResponse{Text: "NONE"}),
		Entry("lowercase sentinel", testutils.MockResponse{Text: "none\n"}),
		Entry("safety block", testutils.MockResponse{Blocked: true, BlockReason: "SAFETY"}),
	)

	It("propagates provider errors", func() {
		p := testutils.NewMockProvider(testutils.MockResponse{Err: testutils.ErrMockProvider})
		_, err := NewSmartRagAgent(p, nil).Distill(ctx, "hi", retrieved, recent)
		Expect(err).To(MatchError(testutils.ErrMockProvider))
		Expect(p.CallCount()).To(Equal(1))
	})
})
