package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/storyloom/pkg/config"
)

var _ = Describe("Configer config", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	writeConfig := func(data string) {
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())
	}

	Describe("LoadConfig", func() {
		It("returns default config when no config file exists", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(Equal(config.NewDefaultConfig()))
		})

		It("loads a valid config file and fills the gaps with defaults", func() {
			writeConfig(`version = 0

[llm]
provider = "gemini"
model = "gemini-2.5-flash"

[agent]
history_turns = 6

[eventstream]
provider = "kafka"
brokers = "localhost:9092"
`)
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.LLM.Provider).To(Equal("gemini"))
			Expect(cfg.LLM.Model).To(Equal("gemini-2.5-flash"))
			Expect(cfg.Agent.HistoryTurns).To(Equal(uint(6)))
			Expect(cfg.Agent.Workers).To(Equal(uint(1)))
			Expect(cfg.EventStream.Provider).To(Equal("kafka"))
			Expect(cfg.EventStream.Brokers).To(Equal("localhost:9092"))
			Expect(cfg.EventStream.Topic).To(Equal("storyloom.turns"))
			Expect(cfg.API.Listen).To(Equal(":8081"))
		})

		It("returns error for malformed TOML", func() {
			writeConfig("this is not [valid toml")
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("parsing config TOML"))
		})

		It("returns error for unsupported config version", func() {
			writeConfig("version = 99\n")
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(MatchError(ContainSubstring("unsupported config version 99")))
		})
	})

	Describe("SaveConfig", func() {
		It("round-trips every section", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg := config.NewDefaultConfig()
			cfg.Storage = config.StorageConfig{Driver: "postgres", PostgresDSN: "postgres://localhost/storyloom"}
			cfg.LLM.RequestsPerSecond = 2.5
			cfg.VectorStore = config.VectorStoreConfig{Provider: "qdrant", Target: "localhost:6334"}
			cfg.Agent.RecallK = 3
			cfg.Settings.DisableWatch = true
			Expect(c.SaveConfig(cfg)).To(Succeed())

			loaded, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(cfg))
		})

		It("returns error for nil config", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SaveConfig(nil)).To(MatchError("cannot save nil config"))
		})
	})

	Describe("SetConfigValue and GetConfigValue", func() {
		var c *config.Configer

		BeforeEach(func() {
			var err error
			c, err = config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
		})

		It("sets and gets a string key", func() {
			Expect(c.SetConfigValue("llm.provider", "anthropic")).To(Succeed())
			v, err := c.GetConfigValue("llm.provider")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("anthropic"))
		})

		It("sets and gets a uint key", func() {
			Expect(c.SetConfigValue("agent.history_turns", "8")).To(Succeed())
			v, err := c.GetConfigValue("agent.history_turns")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("8"))
		})

		It("sets and gets a float key", func() {
			Expect(c.SetConfigValue("llm.requests_per_second", "0.5")).To(Succeed())
			v, err := c.GetConfigValue("llm.requests_per_second")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("0.5"))
		})

		It("rejects invalid values", func() {
			Expect(c.SetConfigValue("agent.workers", "two")).To(MatchError(ContainSubstring("agent.workers")))
			Expect(c.SetConfigValue("llm.requests_per_second", "-1")).To(HaveOccurred())
			Expect(c.SetConfigValue("settings.disable_watch", "maybe")).To(HaveOccurred())
		})

		It("returns error for unknown keys", func() {
			Expect(c.SetConfigValue("proxy.upstream", "x")).To(MatchError(ContainSubstring("unknown config key")))
			_, err := c.GetConfigValue("nope")
			Expect(err).To(HaveOccurred())
		})

		It("does not accept the fixed pipeline limits", func() {
			Expect(c.SetConfigValue("agent.max_attempts", "5")).To(MatchError(ContainSubstring("unknown config key")))
			Expect(c.SetConfigValue("agent.consolidate_every", "6")).To(MatchError(ContainSubstring("unknown config key")))
		})

		It("preserves existing values when setting a new key", func() {
			Expect(c.SetConfigValue("llm.model", "gpt-4o")).To(Succeed())
			Expect(c.SetConfigValue("api.listen", ":9000")).To(Succeed())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.LLM.Model).To(Equal("gpt-4o"))
			Expect(cfg.API.Listen).To(Equal(":9000"))
		})

		It("returns defaults when no file exists", func() {
			v, err := c.GetConfigValue("storage.driver")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("sqlite"))
		})
	})

	Describe("SettingsPath", func() {
		It("resolves relative paths against the config directory", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg := config.NewDefaultConfig()
			Expect(c.SettingsPath(cfg)).To(Equal(filepath.Join(tmpDir, "settings.toml")))

			cfg.Settings.Path = "/etc/storyloom/settings.toml"
			Expect(c.SettingsPath(cfg)).To(Equal("/etc/storyloom/settings.toml"))
		})
	})
})

var _ = Describe("ValidConfigKeys", func() {
	It("lists every key once in section order", func() {
		keys := config.ValidConfigKeys()
		Expect(keys[0]).To(Equal("storage.driver"))
		Expect(keys).To(ContainElements("llm.provider", "agent.recall_k", "eventstream.brokers", "settings.path"))

		seen := map[string]bool{}
		for _, k := range keys {
			Expect(seen[k]).To(BeFalse(), k)
			seen[k] = true
			Expect(config.IsValidConfigKey(k)).To(BeTrue())
		}
	})

	It("rejects unknown keys", func() {
		Expect(config.IsValidConfigKey("proxy.listen")).To(BeFalse())
		Expect(config.IsValidConfigKey("")).To(BeFalse())
	})
})

var _ = Describe("PresetConfig", func() {
	It("returns a gemini preset", func() {
		cfg, err := config.PresetConfig("gemini")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.LLM.Provider).To(Equal("gemini"))
		Expect(cfg.Embedding.Provider).To(Equal("gemini"))
		Expect(cfg.Agent).To(Equal(config.NewDefaultConfig().Agent))
	})

	It("is case-insensitive", func() {
		cfg, err := config.PresetConfig("OpenAI")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.LLM.Provider).To(Equal("openai"))
		Expect(cfg.Embedding.Dimensions).To(Equal(uint(1536)))
	})

	It("returns the defaults for ollama", func() {
		cfg, err := config.PresetConfig("ollama")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(config.NewDefaultConfig()))
	})

	It("returns error for unknown preset", func() {
		_, err := config.PresetConfig("bard")
		Expect(err).To(MatchError(ContainSubstring("unknown preset")))
	})

	It("lists every preset", func() {
		for _, name := range config.ValidPresetNames() {
			_, err := config.PresetConfig(name)
			Expect(err).NotTo(HaveOccurred())
		}
	})
})

var _ = Describe("InitViper", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	It("returns viper with defaults when no config file exists", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(config.FromViper(v)).To(Equal(config.NewDefaultConfig()))
	})

	It("reads config file values over defaults", func() {
		data := "[llm]\nprovider = \"openai\"\n\n[agent]\nworkers = 3\n"
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg := config.FromViper(v)
		Expect(cfg.LLM.Provider).To(Equal("openai"))
		Expect(cfg.Agent.Workers).To(Equal(uint(3)))
		Expect(cfg.Agent.HistoryTurns).To(Equal(uint(20)))
	})

	It("lets STORYLOOM_ environment variables override the file", func() {
		data := "[api]\nlisten = \":5555\"\n"
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())
		GinkgoT().Setenv("STORYLOOM_API_LISTEN", ":6666")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.GetString("api.listen")).To(Equal(":6666"))
	})
})

var _ = Describe("Flag registry", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	It("binds cobra flags to viper keys", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		var listen string
		config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &listen)
		Expect(cmd.Flags().Set("listen", ":7777")).To(Succeed())

		config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagAPIListen})
		Expect(v.GetString("api.listen")).To(Equal(":7777"))
	})

	It("falls through to the config file when the flag is not set", func() {
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("[api]\nlisten = \":5555\"\n"), 0o600)).To(Succeed())
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		var listen string
		config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &listen)
		config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagAPIListen})

		Expect(v.GetString("api.listen")).To(Equal(":5555"))
	})

	It("takes defaults and shorthands from the registry", func() {
		cmd := &cobra.Command{Use: "test"}
		var provider string
		var workers uint
		config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &provider)
		config.AddUintFlag(cmd, config.Flags, config.FlagWorkers, &workers)

		f := cmd.Flags().Lookup("provider")
		Expect(f).NotTo(BeNil())
		Expect(f.Shorthand).To(Equal("p"))
		Expect(f.DefValue).To(Equal("ollama"))

		g := cmd.Flags().Lookup("workers")
		Expect(g).NotTo(BeNil())
		Expect(g.DefValue).To(Equal("1"))
	})

	It("skips unknown registry keys", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		var s string
		config.AddStringFlag(cmd, config.Flags, "nonexistent", &s)
		config.BindRegisteredFlags(v, cmd, config.Flags, []string{"nonexistent"})
		Expect(cmd.Flags().HasFlags()).To(BeFalse())
	})
})
