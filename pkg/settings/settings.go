// Package settings keeps the runtime settings TOML file and storage in step.
package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/storage"
)

// ErrNoPath is returned when no settings file path is configured.
var ErrNoPath = errors.New("no settings file path")

// Load reads RuntimeSettings from the TOML file at path. A missing file
// returns an error wrapping os.ErrNotExist.
func Load(path string) (*narrative.RuntimeSettings, error) {
	if path == "" {
		return nil, ErrNoPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	s := &narrative.RuntimeSettings{}
	if err := toml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing settings TOML: %w", err)
	}
	return s, nil
}

// Save writes s to path, creating parent directories as needed.
func Save(path string, s *narrative.RuntimeSettings) error {
	if path == "" {
		return ErrNoPath
	}
	if s == nil {
		return errors.New("cannot save nil settings")
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

// Sync loads the file at path into store. It reports false without error
// when the file does not exist.
func Sync(ctx context.Context, path string, store storage.Driver) (bool, error) {
	s, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	if err := store.SaveSettings(ctx, s); err != nil {
		return false, fmt.Errorf("storing settings: %w", err)
	}
	return true, nil
}
