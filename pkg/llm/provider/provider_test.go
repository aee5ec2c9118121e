package provider_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/storyloom/pkg/llm"
	"github.com/papercomputeco/storyloom/pkg/llm/provider"
)

var _ = Describe("New", func() {
	It("requires a key for hosted providers", func() {
		for _, name := range []string{provider.Gemini, provider.OpenAI, provider.Anthropic} {
			_, err := provider.New(context.Background(), provider.Opts{ProviderType: name})
			Expect(errors.Is(err, llm.ErrMissingCredential)).To(BeTrue(), name)
		}
	})

	It("builds ollama without a key", func() {
		p, err := provider.New(context.Background(), provider.Opts{ProviderType: provider.Ollama})
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Name()).To(Equal("ollama"))
	})

	It("wraps providers in a rate limiter when configured", func() {
		p, err := provider.New(context.Background(), provider.Opts{
			ProviderType:      provider.OpenAI,
			APIKey:            "sk",
			RequestsPerSecond: 2,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(BeAssignableToTypeOf(&llm.RateLimited{}))
		Expect(p.Name()).To(Equal("openai"))
	})

	It("rejects unknown providers", func() {
		_, err := provider.New(context.Background(), provider.Opts{ProviderType: "palm", APIKey: "k"})
		Expect(err).To(MatchError(ContainSubstring("unknown provider type")))
	})

	It("lists supported providers", func() {
		Expect(provider.SupportedProviders()).To(ConsistOf("gemini", "openai", "anthropic", "ollama"))
	})
})
