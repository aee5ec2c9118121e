package servecmder

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/config"
	"github.com/papercomputeco/storyloom/pkg/credentials"
	"github.com/papercomputeco/storyloom/pkg/eventstream/kafka"
	"github.com/papercomputeco/storyloom/pkg/eventstream/nop"
	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/settings"
	"github.com/papercomputeco/storyloom/pkg/storage/inmemory"
)

var _ = Describe("NewServeCmd", func() {
	It("registers every bound flag from the shared registry", func() {
		cmd := NewServeCmd()
		for _, key := range registeredFlags {
			Expect(cmd.Flags().Lookup(config.Flags[key].Name)).NotTo(BeNil(), key)
		}
	})

	It("defaults flags from the default config", func() {
		cmd := NewServeCmd()
		Expect(cmd.Flags().Lookup("listen").DefValue).To(Equal(":8081"))
		Expect(cmd.Flags().Lookup("provider").DefValue).To(Equal("ollama"))
		Expect(cmd.Flags().Lookup("workers").DefValue).To(Equal("1"))
	})

	It("does not expose the fixed pipeline limits as flags", func() {
		cmd := NewServeCmd()
		Expect(cmd.Flags().Lookup("max-attempts")).To(BeNil())
		Expect(cmd.Flags().Lookup("consolidate-every")).To(BeNil())
	})

	It("has the serve-only switches", func() {
		cmd := NewServeCmd()
		Expect(cmd.Flags().Lookup("trace")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("no-mcp")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("no-recall")).NotTo(BeNil())
	})
})

var _ = Describe("serveCommander", func() {
	var c *serveCommander

	BeforeEach(func() {
		c = &serveCommander{
			cfg:       config.NewDefaultConfig(),
			configDir: GinkgoT().TempDir(),
			logger:    zap.NewNop(),
		}
	})

	Describe("newStorageDriver", func() {
		It("opens in-memory storage", func() {
			c.cfg.Storage.Driver = "memory"

			store, path, err := c.newStorageDriver(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(store).To(BeAssignableToTypeOf(&inmemory.Driver{}))
			Expect(path).To(BeEmpty())
		})

		It("opens SQLite storage at the configured path", func() {
			c.cfg.Storage.SQLitePath = filepath.Join(GinkgoT().TempDir(), "story.db")

			store, path, err := c.newStorageDriver(context.Background())
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(store.Close)
			Expect(path).To(Equal(c.cfg.Storage.SQLitePath))
		})

		It("requires a DSN for postgres", func() {
			c.cfg.Storage.Driver = "postgres"

			_, _, err := c.newStorageDriver(context.Background())
			Expect(err).To(MatchError(ContainSubstring("--postgres")))
		})

		It("rejects unknown drivers", func() {
			c.cfg.Storage.Driver = "tape"

			_, _, err := c.newStorageDriver(context.Background())
			Expect(err).To(MatchError(ContainSubstring("unsupported storage driver")))
		})
	})

	Describe("loadSettings", func() {
		It("copies the settings file into storage", func() {
			c.settingsPath = filepath.Join(c.configDir, "settings.toml")
			Expect(settings.Save(c.settingsPath, &narrative.RuntimeSettings{BehaviorPrompt: "Narrate tersely."})).To(Succeed())

			store := inmemory.NewDriver()
			Expect(c.loadSettings(context.Background(), store)).To(Succeed())

			got, err := store.Settings(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(got.BehaviorPrompt).To(Equal("Narrate tersely."))
		})

		It("tolerates a missing settings file", func() {
			c.settingsPath = filepath.Join(c.configDir, "missing.toml")
			Expect(c.loadSettings(context.Background(), inmemory.NewDriver())).To(Succeed())
		})
	})

	Describe("newRecallStack", func() {
		var keys *credentials.Manager

		BeforeEach(func() {
			var err error
			keys, err = credentials.NewManager(c.configDir)
			Expect(err).NotTo(HaveOccurred())
			GinkgoT().Setenv("OPENAI_API_KEY", "")
		})

		It("is disabled by --no-recall", func() {
			c.noRecall = true

			embedder, turns, memories, err := c.newRecallStack(context.Background(), keys, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(embedder).To(BeNil())
			Expect(turns).To(BeNil())
			Expect(memories).To(BeNil())
		})

		It("is disabled when a key-requiring embedder has no key", func() {
			c.cfg.Embedding.Provider = "openai"

			embedder, _, _, err := c.newRecallStack(context.Background(), keys, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(embedder).To(BeNil())
		})

		It("builds an embedder and two in-memory indexes", func() {
			c.cfg.VectorStore.Provider = "memory"

			embedder, turns, memories, err := c.newRecallStack(context.Background(), keys, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(embedder).NotTo(BeNil())
			Expect(turns).NotTo(BeNil())
			Expect(memories).NotTo(BeNil())
			Expect(turns).NotTo(BeIdenticalTo(memories))
		})
	})

	Describe("newPublisher", func() {
		It("defaults to the nop publisher", func() {
			p, err := c.newPublisher()
			Expect(err).NotTo(HaveOccurred())
			Expect(p).To(BeAssignableToTypeOf(&nop.Publisher{}))
		})

		It("builds a kafka publisher from the broker list", func() {
			c.cfg.EventStream.Provider = "kafka"
			c.cfg.EventStream.Brokers = "localhost:9092, localhost:9093"

			p, err := c.newPublisher()
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(p.Close)
			Expect(p).To(BeAssignableToTypeOf(&kafka.Publisher{}))
		})

		It("requires brokers for kafka", func() {
			c.cfg.EventStream.Provider = "kafka"

			_, err := c.newPublisher()
			Expect(err).To(MatchError(ContainSubstring("--kafka-brokers")))
		})

		It("rejects unknown providers", func() {
			c.cfg.EventStream.Provider = "pigeon"

			_, err := c.newPublisher()
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("splitBrokers", func() {
		It("trims and drops empty entries", func() {
			Expect(splitBrokers(" a:1 ,, b:2 ")).To(Equal([]string{"a:1", "b:2"}))
			Expect(splitBrokers("")).To(BeEmpty())
		})
	})
})
