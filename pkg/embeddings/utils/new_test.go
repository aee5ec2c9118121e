package embeddingutils_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/storyloom/pkg/embeddings/ollama"
	"github.com/papercomputeco/storyloom/pkg/embeddings/openai"
	embeddingutils "github.com/papercomputeco/storyloom/pkg/embeddings/utils"
)

var _ = Describe("NewEmbedder", func() {
	It("builds an ollama embedder", func() {
		e, err := embeddingutils.NewEmbedder(context.Background(), &embeddingutils.NewEmbedderOpts{ProviderType: "ollama"})
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(BeAssignableToTypeOf(&ollama.Embedder{}))
	})

	It("builds an openai embedder", func() {
		e, err := embeddingutils.NewEmbedder(context.Background(), &embeddingutils.NewEmbedderOpts{ProviderType: "openai", APIKey: "k"})
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(BeAssignableToTypeOf(&openai.Embedder{}))
	})

	It("requires a key for gemini", func() {
		_, err := embeddingutils.NewEmbedder(context.Background(), &embeddingutils.NewEmbedderOpts{ProviderType: "gemini"})
		Expect(err).To(HaveOccurred())
		Expect(embeddingutils.RequiresAPIKey("gemini")).To(BeTrue())
		Expect(embeddingutils.RequiresAPIKey("ollama")).To(BeFalse())
	})

	It("rejects unknown providers", func() {
		_, err := embeddingutils.NewEmbedder(context.Background(), &embeddingutils.NewEmbedderOpts{ProviderType: "word2vec"})
		Expect(err).To(MatchError(ContainSubstring("unsupported embedding provider")))
	})
})
