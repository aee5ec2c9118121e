package chroma_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/vector"
	"github.com/papercomputeco/storyloom/pkg/vector/chroma"
)

var _ = Describe("Driver", func() {
	var logger *zap.Logger

	BeforeEach(func() {
		logger = zap.NewNop()
	})

	Describe("NewDriver", func() {
		It("should return an error when URL is empty", func() {
			_, err := chroma.NewDriver(chroma.Config{URL: ""}, logger)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("chroma URL is required"))
		})

		It("should create the collection with the cosine space when missing", func() {
			var created map[string]any
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodGet {
					http.NotFound(w, r)
					return
				}
				_ = json.NewDecoder(r.Body).Decode(&created)
				json.NewEncoder(w).Encode(map[string]string{"id": "c-1", "name": "turns"})
			}))
			defer server.Close()

			_, err := chroma.NewDriver(chroma.Config{URL: server.URL, CollectionName: "turns"}, logger)
			Expect(err).NotTo(HaveOccurred())
			Expect(created["name"]).To(Equal("turns"))
			Expect(created["metadata"]).To(HaveKeyWithValue("hnsw:space", "cosine"))
		})

		It("should succeed after retrying when Chroma becomes available", func() {
			var attempts atomic.Int32

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if attempts.Add(1) <= 4 {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				json.NewEncoder(w).Encode(map[string]string{"id": "test-collection-id", "name": "storyloom_turns"})
			}))
			defer server.Close()

			driver, err := chroma.NewDriver(chroma.Config{
				URL:           server.URL,
				MaxRetries:    5,
				RetryDelay:    10 * time.Millisecond,
				MaxRetryDelay: 50 * time.Millisecond,
			}, logger)
			Expect(err).NotTo(HaveOccurred())
			Expect(driver).NotTo(BeNil())
			Expect(attempts.Load()).To(BeNumerically(">=", int32(5)))
		})

		It("should return an error after exhausting all retries", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			}))
			defer server.Close()

			_, err := chroma.NewDriver(chroma.Config{
				URL:           server.URL,
				MaxRetries:    3,
				RetryDelay:    10 * time.Millisecond,
				MaxRetryDelay: 50 * time.Millisecond,
			}, logger)
			Expect(err).To(MatchError(vector.ErrConnection))
			Expect(err.Error()).To(ContainSubstring("after 3 attempts"))
		})
	})

	Describe("operations", func() {
		var (
			server *httptest.Server
			driver *chroma.Driver
			paths  []string
		)

		BeforeEach(func() {
			paths = nil
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				paths = append(paths, r.URL.Path)
				switch {
				case r.Method == http.MethodGet:
					json.NewEncoder(w).Encode(map[string]string{"id": "c-1", "name": "storyloom_turns"})
				case strings.HasSuffix(r.URL.Path, "/query"):
					json.NewEncoder(w).Encode(map[string]any{
						"ids":        [][]string{{"t-1", "t-2"}},
						"distances":  [][]float32{{0.25, 0.5}},
						"embeddings": [][][]float32{{{1, 0}, {0, 1}}},
					})
				case strings.HasSuffix(r.URL.Path, "/get"):
					json.NewEncoder(w).Encode(map[string]any{
						"ids":        []string{"t-1"},
						"embeddings": [][]float32{{1, 0}},
					})
				default:
					w.WriteHeader(http.StatusOK)
					w.Write([]byte("{}"))
				}
			}))

			var err error
			driver, err = chroma.NewDriver(chroma.Config{URL: server.URL}, logger)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			server.Close()
		})

		It("should upsert documents into the collection", func() {
			Expect(driver.Add(context.Background(), []vector.Document{{ID: "t-1", Embedding: []float32{1, 0}}})).To(Succeed())
			Expect(paths).To(ContainElement(HaveSuffix("/collections/c-1/upsert")))
		})

		It("should convert cosine distances to similarity scores", func() {
			results, err := driver.Query(context.Background(), []float32{1, 0}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].ID).To(Equal("t-1"))
			Expect(results[0].Score).To(BeNumerically("~", 0.75, 1e-6))
			Expect(results[1].Embedding).To(Equal([]float32{0, 1}))
		})

		It("should return only the documents Chroma knows", func() {
			docs, err := driver.Get(context.Background(), []string{"t-1", "t-9"})
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(1))
			Expect(docs[0].Embedding).To(Equal([]float32{1, 0}))
		})

		It("should delete documents", func() {
			Expect(driver.Delete(context.Background(), []string{"t-1"})).To(Succeed())
			Expect(paths).To(ContainElement(HaveSuffix("/collections/c-1/delete")))
		})
	})
})
