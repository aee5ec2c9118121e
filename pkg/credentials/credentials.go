// Package credentials stores provider API keys in credentials.toml and
// resolves the key a provider call should use.
package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/storyloom/pkg/dotdir"
)

const (
	credentialsFile = "credentials.toml"

	currentVersion = 1
)

// Key sources reported by Resolve.
const (
	SourceSettings    = "settings"
	SourceCredentials = "credentials"
	SourceEnv         = "env"
)

// ErrEmptyKey is returned when an empty API key is stored.
var ErrEmptyKey = errors.New("API key cannot be empty")

// providerEnvVars maps generation providers to their environment variables,
// most specific first.
var providerEnvVars = map[string][]string{
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
}

// Manager reads and writes credentials.toml inside the .storyloom/ directory.
type Manager struct {
	path string

	// getenv is swapped in tests.
	getenv func(string) string
	now    func() time.Time
}

// NewManager resolves the credentials file under override, or under the
// standard .storyloom/ location when override is empty.
func NewManager(override string) (*Manager, error) {
	dir, err := dotdir.NewManager().Target(override)
	if err != nil {
		return nil, err
	}

	return &Manager{
		path:   filepath.Join(dir, credentialsFile),
		getenv: os.Getenv,
		now:    time.Now,
	}, nil
}

// Load reads credentials.toml. A missing file yields empty credentials.
func (m *Manager) Load() (*Credentials, error) {
	creds := &Credentials{Version: currentVersion}

	data, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading credentials: %w", err)
	default:
		if err := toml.Unmarshal(data, creds); err != nil {
			return nil, fmt.Errorf("parsing credentials %s: %w", m.path, err)
		}
	}

	if creds.Providers == nil {
		creds.Providers = make(map[string]ProviderCredential)
	}
	return creds, nil
}

// Save replaces credentials.toml atomically. The file is only readable by
// the owner.
func (m *Manager) Save(creds *Credentials) error {
	if creds == nil {
		return errors.New("cannot save nil credentials")
	}
	creds.Version = currentVersion

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(creds); err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".credentials-*.toml")
	if err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}

	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}

func (m *Manager) update(fn func(*Credentials)) error {
	creds, err := m.Load()
	if err != nil {
		return err
	}
	fn(creds)
	return m.Save(creds)
}

// SetKey stores key for provider, replacing any previous key.
func (m *Manager) SetKey(provider, key string) error {
	if !IsSupportedProvider(provider) {
		return fmt.Errorf("unsupported provider %q (supported: %s)",
			provider, strings.Join(SupportedProviders(), ", "))
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}

	return m.update(func(c *Credentials) {
		c.Providers[provider] = ProviderCredential{APIKey: key, StoredAt: m.now().UTC()}
	})
}

// GetKey returns the stored key for provider, or "" when none is stored.
func (m *Manager) GetKey(provider string) (string, error) {
	creds, err := m.Load()
	if err != nil {
		return "", err
	}
	return creds.Providers[provider].APIKey, nil
}

// RemoveKey deletes the stored key for provider. Removing a provider without
// a key is not an error.
func (m *Manager) RemoveKey(provider string) error {
	return m.update(func(c *Credentials) {
		delete(c.Providers, provider)
	})
}

// ListProviders returns the providers with stored keys, sorted by name.
func (m *Manager) ListProviders() ([]string, error) {
	creds, err := m.Load()
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(creds.Providers)), nil
}

// Resolve returns the API key for provider and where it came from. The
// settingsKey wins when non-empty, then the stored credential, then the
// provider's environment variables. A missing key returns ("", "", nil).
func (m *Manager) Resolve(provider, settingsKey string) (string, string, error) {
	if settingsKey != "" {
		return settingsKey, SourceSettings, nil
	}

	key, err := m.GetKey(provider)
	if err != nil {
		return "", "", err
	}
	if key != "" {
		return key, SourceCredentials, nil
	}

	for _, name := range providerEnvVars[provider] {
		if v := m.getenv(name); v != "" {
			return v, SourceEnv, nil
		}
	}
	return "", "", nil
}

// GetTarget returns the path of credentials.toml.
func (m *Manager) GetTarget() string {
	return m.path
}

// EnvVarForProvider returns the primary environment variable for provider,
// or "" for providers that take no key.
func EnvVarForProvider(provider string) string {
	if vars := providerEnvVars[provider]; len(vars) > 0 {
		return vars[0]
	}
	return ""
}

// SupportedProviders lists the providers that need an API key.
func SupportedProviders() []string {
	return []string{"gemini", "openai", "anthropic"}
}

func IsSupportedProvider(provider string) bool {
	return slices.Contains(SupportedProviders(), provider)
}
