package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/storyloom/pkg/llm"
	"github.com/papercomputeco/storyloom/pkg/llm/provider/openai"
)

var _ = Describe("Provider", func() {
	var (
		server   *httptest.Server
		response string
		status   int
		captured map[string]any
		auth     string
	)

	BeforeEach(func() {
		status = http.StatusOK
		response = `{"choices":[{"message":{"content":"The tide rolls in."},"finish_reason":"stop"}]}`
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&captured)
			w.WriteHeader(status)
			w.Write([]byte(response))
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	newProvider := func() *openai.Provider {
		p, err := openai.New(openai.Config{APIKey: "sk-test", BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	It("requires an API key", func() {
		_, err := openai.New(openai.Config{})
		Expect(errors.Is(err, llm.ErrMissingCredential)).To(BeTrue())
	})

	It("sends the system instruction first and returns the text", func() {
		resp, err := newProvider().Generate(context.Background(), &llm.Request{
			System: "You narrate.",
			Messages: []llm.Message{
				{Role: llm.RoleUser, Content: "Look around"},
				{Role: llm.RoleAssistant, Content: "Fog."},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Text).To(Equal("The tide rolls in."))
		Expect(resp.Blocked).To(BeFalse())
		Expect(auth).To(Equal("Bearer sk-test"))

		messages := captured["messages"].([]any)
		Expect(messages).To(HaveLen(3))
		Expect(messages[0]).To(HaveKeyWithValue("role", "system"))
		Expect(messages[0]).To(HaveKeyWithValue("content", "You narrate."))
		Expect(captured["model"]).To(Equal(openai.DefaultModel))
	})

	It("reports content filter stops as blocked", func() {
		response = `{"choices":[{"message":{"content":""},"finish_reason":"content_filter"}]}`
		resp, err := newProvider().Generate(context.Background(), llm.Prompt("", "x"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Blocked).To(BeTrue())
		Expect(resp.BlockReason).To(Equal("content_filter"))
	})

	It("maps 401 to an invalid credential", func() {
		status = http.StatusUnauthorized
		response = `{"error":{"message":"Incorrect API key"}}`
		_, err := newProvider().Generate(context.Background(), llm.Prompt("", "x"))
		Expect(errors.Is(err, llm.ErrInvalidCredential)).To(BeTrue())
	})

	It("errors when no choices are returned", func() {
		response = `{"choices":[]}`
		_, err := newProvider().Generate(context.Background(), llm.Prompt("", "x"))
		Expect(err).To(MatchError(ContainSubstring("no choices")))
	})
})
