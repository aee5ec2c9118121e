package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/storyloom/pkg/llm"
	"github.com/papercomputeco/storyloom/pkg/llm/provider"
)

var _ = Describe("NewProviderFactory", func() {
	var (
		server *httptest.Server
		hits   atomic.Int32
	)

	BeforeEach(func() {
		hits.Store(0)
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"The lamp flickers."},"done":true}`))
		}))
		DeferCleanup(server.Close)
	})

	It("shares one rate limit across the providers it builds", func() {
		factory := NewProviderFactory(provider.Opts{
			ProviderType:      provider.Ollama,
			BaseURL:           server.URL,
			RequestsPerSecond: 0.1,
			Burst:             1,
		})

		first, err := factory(context.Background(), "")
		Expect(err).NotTo(HaveOccurred())
		_, err = first.Generate(context.Background(), llm.Prompt("", "I light the lamp."))
		Expect(err).NotTo(HaveOccurred())

		second, err := factory(context.Background(), "")
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_, err = second.Generate(ctx, llm.Prompt("", "I light another lamp."))
		Expect(err).To(MatchError(ContainSubstring("rate limit")))
		Expect(hits.Load()).To(Equal(int32(1)))
	})

	It("does not limit when no rate is configured", func() {
		factory := NewProviderFactory(provider.Opts{ProviderType: provider.Ollama, BaseURL: server.URL})
		for range 3 {
			p, err := factory(context.Background(), "")
			Expect(err).NotTo(HaveOccurred())
			_, err = p.Generate(context.Background(), llm.Prompt("", "I wait."))
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(hits.Load()).To(Equal(int32(3)))
	})
})
