// Package initcmder provides the init command for initializing a local
// .storyloom directory in the current working directory.
package initcmder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/storyloom/pkg/cliui"
	"github.com/papercomputeco/storyloom/pkg/config"
	"github.com/papercomputeco/storyloom/pkg/dotdir"
	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/settings"
)

// starterBehavior seeds settings.toml so a fresh story has a narrator voice.
const starterBehavior = `You are the narrator of an interactive story. Describe what the player
sees and hears in second person, keep replies to a few paragraphs, and never
act or speak for the player.`

const initLongDesc string = `Initialize a new .storyloom/ directory in the current working directory.

Creates a local .storyloom/ directory that takes precedence over the default
~/.storyloom/ directory, with a config.toml and a starter settings.toml.
Existing files are left untouched.

Use --preset to seed config.toml for a provider (gemini, openai, anthropic, ollama).

Examples:
  storyloom init
  storyloom init --preset gemini`

const initShortDesc string = "Initialize a local .storyloom/ directory"

func NewInitCmd() *cobra.Command {
	var preset string

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.OutOrStdout(), preset)
		},
		ValidArgsFunction: func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "", "Provider preset for config.toml (gemini, openai, anthropic, ollama)")

	return cmd
}

func runInit(w io.Writer, preset string) error {
	cfg := config.NewDefaultConfig()
	if preset != "" {
		var err error
		cfg, err = config.PresetConfig(preset)
		if err != nil {
			return err
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dotdir.DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating .storyloom directory: %w", err)
	}
	fmt.Fprintf(w, "\n  %s Initialized %s\n", cliui.SuccessMark, cliui.DimStyle.Render(dir))

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	created, err := createIfMissing(cfger.GetTarget(), func() error { return cfger.SaveConfig(cfg) })
	if err != nil {
		return err
	}
	report(w, "config.toml", created)

	settingsPath := cfger.SettingsPath(cfg)
	created, err = createIfMissing(settingsPath, func() error {
		return settings.Save(settingsPath, &narrative.RuntimeSettings{BehaviorPrompt: starterBehavior})
	})
	if err != nil {
		return err
	}
	report(w, filepath.Base(settingsPath), created)

	fmt.Fprintln(w)
	return nil
}

// createIfMissing runs write only when path does not exist yet.
func createIfMissing(path string, write func() error) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, os.ErrNotExist):
		return false, fmt.Errorf("checking %s: %w", path, err)
	}

	if err := write(); err != nil {
		return false, err
	}
	return true, nil
}

func report(w io.Writer, name string, created bool) {
	if created {
		fmt.Fprintf(w, "  %s Wrote %s\n", cliui.SuccessMark, cliui.KeyStyle.Render(name))
		return
	}
	fmt.Fprintf(w, "  %s Kept existing %s\n", cliui.DimStyle.Render("●"), cliui.KeyStyle.Render(name))
}
