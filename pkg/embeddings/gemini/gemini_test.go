package gemini

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NewEmbedder", func() {
	It("requires an API key", func() {
		_, err := NewEmbedder(context.Background(), EmbedderConfig{})
		Expect(err).To(MatchError(ContainSubstring("API key is required")))
	})

	It("applies the default model and leaves dimensions unset", func() {
		e, err := NewEmbedder(context.Background(), EmbedderConfig{APIKey: "test-key"})
		Expect(err).NotTo(HaveOccurred())
		Expect(e.model).To(Equal(DefaultEmbeddingModel))
		Expect(e.dimensions).To(BeNil())
	})

	It("keeps requested output dimensions", func() {
		e, err := NewEmbedder(context.Background(), EmbedderConfig{APIKey: "test-key", Model: "custom", Dimensions: 768})
		Expect(err).NotTo(HaveOccurred())
		Expect(e.model).To(Equal("custom"))
		Expect(*e.dimensions).To(Equal(int32(768)))
	})
})
