package anthropic_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/storyloom/pkg/llm"
	"github.com/papercomputeco/storyloom/pkg/llm/provider/anthropic"
)

var _ = Describe("Provider", func() {
	var (
		server   *httptest.Server
		response string
		status   int
		captured map[string]any
		headers  http.Header
	)

	BeforeEach(func() {
		status = http.StatusOK
		response = `{"content":[{"type":"text","text":"Rain "},{"type":"text","text":"falls."}],"stop_reason":"end_turn"}`
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers = r.Header.Clone()
			_ = json.NewDecoder(r.Body).Decode(&captured)
			w.WriteHeader(status)
			w.Write([]byte(response))
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	newProvider := func() *anthropic.Provider {
		p, err := anthropic.New(anthropic.Config{APIKey: "ak", BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	It("sets the api key and version headers", func() {
		_, err := newProvider().Generate(context.Background(), llm.Prompt("sys", "hi"))
		Expect(err).NotTo(HaveOccurred())
		Expect(headers.Get("x-api-key")).To(Equal("ak"))
		Expect(headers.Get("anthropic-version")).To(Equal("2023-06-01"))
		Expect(captured["system"]).To(Equal("sys"))
		Expect(captured["max_tokens"]).To(BeNumerically("==", anthropic.DefaultMaxTokens))
	})

	It("joins text blocks", func() {
		resp, err := newProvider().Generate(context.Background(), llm.Prompt("", "hi"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Text).To(Equal("Rain falls."))
	})

	It("folds system turns into the user side and merges consecutive turns", func() {
		_, err := newProvider().Generate(context.Background(), &llm.Request{Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "one"},
			{Role: llm.RoleAssistant, Content: "two"},
			{Role: llm.RoleSystem, Content: "note"},
			{Role: llm.RoleUser, Content: "three"},
		}})
		Expect(err).NotTo(HaveOccurred())

		messages := captured["messages"].([]any)
		Expect(messages).To(HaveLen(3))
		Expect(messages[2]).To(HaveKeyWithValue("role", "user"))
		Expect(messages[2]).To(HaveKeyWithValue("content", "note\n\nthree"))
	})

	It("reports refusals as blocked", func() {
		response = `{"content":[],"stop_reason":"refusal"}`
		resp, err := newProvider().Generate(context.Background(), llm.Prompt("", "x"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Blocked).To(BeTrue())
	})

	It("maps 401 to an invalid credential", func() {
		status = http.StatusUnauthorized
		response = `{"error":{"message":"invalid x-api-key"}}`
		_, err := newProvider().Generate(context.Background(), llm.Prompt("", "x"))
		Expect(errors.Is(err, llm.ErrInvalidCredential)).To(BeTrue())
	})
})
