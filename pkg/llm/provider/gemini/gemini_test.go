package gemini

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/genai"

	"github.com/papercomputeco/storyloom/pkg/llm"
)

var _ = Describe("New", func() {
	It("requires an API key", func() {
		_, err := New(context.Background(), Config{})
		Expect(errors.Is(err, llm.ErrMissingCredential)).To(BeTrue())
	})
})

var _ = Describe("toContents", func() {
	It("puts system and user turns on the user side", func() {
		contents := toContents([]llm.Message{
			{Role: llm.RoleSystem, Content: "Earlier, the harbor burned."},
			{Role: llm.RoleUser, Content: "Search the docks"},
			{Role: llm.RoleAssistant, Content: "Ash drifts over the water."},
		})

		Expect(contents).To(HaveLen(3))
		Expect(contents[0].Role).To(Equal(string(genai.RoleUser)))
		Expect(contents[1].Role).To(Equal(string(genai.RoleUser)))
		Expect(contents[2].Role).To(Equal(string(genai.RoleModel)))
		Expect(contents[2].Parts[0].Text).To(Equal("Ash drifts over the water."))
	})
})

var _ = Describe("classify", func() {
	It("marks forbidden responses as invalid credentials", func() {
		err := classify(genai.APIError{Code: 403, Message: "permission denied"})
		Expect(errors.Is(err, llm.ErrInvalidCredential)).To(BeTrue())
	})

	It("marks key complaints as invalid credentials", func() {
		err := classify(&genai.APIError{Code: 400, Message: "API key not valid"})
		Expect(errors.Is(err, llm.ErrInvalidCredential)).To(BeTrue())
	})

	It("wraps other failures", func() {
		err := classify(genai.APIError{Code: 500, Message: "internal"})
		Expect(errors.Is(err, llm.ErrInvalidCredential)).To(BeFalse())
		Expect(err).To(MatchError(ContainSubstring("gemini generate")))
	})
})
