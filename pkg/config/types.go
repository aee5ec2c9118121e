package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent storyloom configuration stored as
// config.toml in the .storyloom/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	API         APIConfig         `toml:"api"`
	Client      ClientConfig      `toml:"client"`
	LLM         LLMConfig         `toml:"llm"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Agent       AgentConfig       `toml:"agent"`
	EventStream EventStreamConfig `toml:"eventstream"`
	Settings    SettingsConfig    `toml:"settings"`
}

// StorageConfig selects the relational storage driver.
type StorageConfig struct {
	// Driver is one of "memory", "sqlite" or "postgres".
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// ClientConfig holds settings for CLI commands that talk to a running API
// server (e.g. storyloom chat). Values are full URLs.
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// LLMConfig holds the generation provider settings.
type LLMConfig struct {
	Provider string `toml:"provider,omitempty"`
	Model    string `toml:"model,omitempty"`
	BaseURL  string `toml:"base_url,omitempty"`

	// RequestsPerSecond rate limits provider calls when positive.
	RequestsPerSecond float64 `toml:"requests_per_second,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// VectorStoreConfig holds vector store settings.
type VectorStoreConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
}

// AgentConfig tunes the exchange pipeline.
type AgentConfig struct {
	HistoryTurns uint `toml:"history_turns,omitempty"`
	RecallK      uint `toml:"recall_k,omitempty"`
	Workers      uint `toml:"workers,omitempty"`
}

// EventStreamConfig selects where persisted turns are published.
type EventStreamConfig struct {
	// Provider is "nop" or "kafka".
	Provider string `toml:"provider,omitempty"`

	// Brokers is a comma separated list of kafka brokers.
	Brokers string `toml:"brokers,omitempty"`
	Topic   string `toml:"topic,omitempty"`
}

// SettingsConfig points at the runtime settings file.
type SettingsConfig struct {
	Path string `toml:"path,omitempty"`
	// DisableWatch turns off hot reload of the settings file.
	DisableWatch bool `toml:"disable_watch,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.driver":       stringKey(func(c *Config) *string { return &c.Storage.Driver }),
	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),
	"api.listen":           stringKey(func(c *Config) *string { return &c.API.Listen }),
	"client.api_target":    stringKey(func(c *Config) *string { return &c.Client.APITarget }),
	"llm.provider":         stringKey(func(c *Config) *string { return &c.LLM.Provider }),
	"llm.model":            stringKey(func(c *Config) *string { return &c.LLM.Model }),
	"llm.base_url":         stringKey(func(c *Config) *string { return &c.LLM.BaseURL }),
	"llm.requests_per_second": {
		get: func(c *Config) string {
			if c.LLM.RequestsPerSecond == 0 {
				return ""
			}
			return strconv.FormatFloat(c.LLM.RequestsPerSecond, 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for llm.requests_per_second: %w", err)
			}
			if f < 0 {
				return fmt.Errorf("invalid value for llm.requests_per_second: must not be negative")
			}
			c.LLM.RequestsPerSecond = f
			return nil
		},
	},
	"embedding.provider":    stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":      stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":       stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions":  uintKey("embedding.dimensions", func(c *Config) *uint { return &c.Embedding.Dimensions }),
	"vector_store.provider": stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":   stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"agent.history_turns":   uintKey("agent.history_turns", func(c *Config) *uint { return &c.Agent.HistoryTurns }),
	"agent.recall_k":        uintKey("agent.recall_k", func(c *Config) *uint { return &c.Agent.RecallK }),
	"agent.workers":         uintKey("agent.workers", func(c *Config) *uint { return &c.Agent.Workers }),
	"eventstream.provider":  stringKey(func(c *Config) *string { return &c.EventStream.Provider }),
	"eventstream.brokers":   stringKey(func(c *Config) *string { return &c.EventStream.Brokers }),
	"eventstream.topic":     stringKey(func(c *Config) *string { return &c.EventStream.Topic }),
	"settings.path":         stringKey(func(c *Config) *string { return &c.Settings.Path }),
	"settings.disable_watch": {
		get: func(c *Config) string { return strconv.FormatBool(c.Settings.DisableWatch) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for settings.disable_watch: %w", err)
			}
			c.Settings.DisableWatch = b
			return nil
		},
	},
}
