package initcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	initcmder "github.com/papercomputeco/storyloom/cmd/storyloom/init"
	"github.com/papercomputeco/storyloom/pkg/config"
	"github.com/papercomputeco/storyloom/pkg/settings"
)

var _ = Describe("NewInitCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := initcmder.NewInitCmd()
		Expect(cmd.Use).To(Equal("init"))
	})

	It("rejects any arguments", func() {
		cmd := initcmder.NewInitCmd()
		Expect(cmd.Args(cmd, []string{})).To(Succeed())
		Expect(cmd.Args(cmd, []string{"extra"})).To(HaveOccurred())
	})

	It("has a --preset flag", func() {
		cmd := initcmder.NewInitCmd()
		f := cmd.Flags().Lookup("preset")
		Expect(f).NotTo(BeNil())
		Expect(f.DefValue).To(Equal(""))
	})
})

var _ = Describe("Init command execution", func() {
	var (
		tmpDir  string
		origDir string
	)

	run := func(args ...string) error {
		cmd := initcmder.NewInitCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs(args)
		return cmd.Execute()
	}

	loadConfig := func() *config.Config {
		data, err := os.ReadFile(filepath.Join(tmpDir, ".storyloom", "config.toml"))
		Expect(err).NotTo(HaveOccurred())
		cfg, err := config.ParseConfigTOML(data)
		Expect(err).NotTo(HaveOccurred())
		return cfg
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "storyloom-init-test-*")
		Expect(err).NotTo(HaveOccurred())

		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(tmpDir)).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
		os.RemoveAll(tmpDir)
	})

	It("creates the directory with default config and starter settings", func() {
		Expect(run()).To(Succeed())

		cfg := loadConfig()
		Expect(cfg.Version).To(Equal(config.CurrentV))
		Expect(cfg.LLM.Provider).To(Equal("ollama"))
		Expect(cfg.API.Listen).To(Equal(":8081"))

		s, err := settings.Load(filepath.Join(tmpDir, ".storyloom", "settings.toml"))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.BehaviorPrompt).To(ContainSubstring("narrator"))
	})

	It("writes the requested preset", func() {
		Expect(run("--preset", "gemini")).To(Succeed())

		cfg := loadConfig()
		Expect(cfg.LLM.Provider).To(Equal("gemini"))
		Expect(cfg.Embedding.Provider).To(Equal("gemini"))
	})

	It("rejects unknown presets", func() {
		Expect(run("--preset", "typewriter")).To(MatchError(ContainSubstring("unknown preset")))
	})

	It("leaves existing files untouched", func() {
		dir := filepath.Join(tmpDir, ".storyloom")
		Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
		settingsPath := filepath.Join(dir, "settings.toml")
		Expect(os.WriteFile(settingsPath, []byte("behavior_prompt = \"mine\"\n"), 0o644)).To(Succeed())

		Expect(run()).To(Succeed())

		s, err := settings.Load(settingsPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.BehaviorPrompt).To(Equal("mine"))
	})
})
