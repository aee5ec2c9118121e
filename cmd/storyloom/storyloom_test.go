package storyloomcmder_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	storyloomcmder "github.com/papercomputeco/storyloom/cmd/storyloom"
	"github.com/papercomputeco/storyloom/pkg/utils"
)

var _ = Describe("NewStoryloomCmd", func() {
	It("registers every subcommand", func() {
		cmd := storyloomcmder.NewStoryloomCmd()
		names := []string{}
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements("init", "serve", "chat", "config", "auth", "version"))
	})

	It("has persistent debug and config-dir flags", func() {
		cmd := storyloomcmder.NewStoryloomCmd()
		Expect(cmd.PersistentFlags().Lookup("debug")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("config-dir")).NotTo(BeNil())
	})

	It("prints the version", func() {
		cmd := storyloomcmder.NewStoryloomCmd()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetArgs([]string{"version"})

		Expect(cmd.Execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("storyloom " + utils.Version))
	})

	It("passes --config-dir through to subcommands", func() {
		dir := GinkgoT().TempDir()
		cmd := storyloomcmder.NewStoryloomCmd()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetArgs([]string{"config", "get", "llm.provider", "--config-dir", dir})

		Expect(cmd.Execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring(dir))
		Expect(out.String()).To(ContainSubstring("ollama"))
	})
})
