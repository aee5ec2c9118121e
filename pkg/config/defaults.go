package config

const (
	defaultStorageDriver = "sqlite"

	defaultAPIListen       = ":8081"
	defaultClientAPITarget = "http://localhost:8081"

	defaultLLMProvider = "ollama"
	defaultLLMModel    = "llama3.2"
	defaultUpstream    = "http://localhost:11434"

	defaultVectorProvider = "sqlite"

	defaultEmbeddingModel      = "embeddinggemma"
	defaultEmbeddingDimensions = 768

	defaultHistoryTurns = 20
	defaultRecallK      = 0
	defaultWorkers      = 1

	defaultEventStreamProvider = "nop"
	defaultEventStreamTopic    = "storyloom.turns"

	defaultSettingsFile = "settings.toml"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
		LLM: LLMConfig{
			Provider: defaultLLMProvider,
			Model:    defaultLLMModel,
			BaseURL:  defaultUpstream,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultLLMProvider,
			Target:     defaultUpstream,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		VectorStore: VectorStoreConfig{
			Provider: defaultVectorProvider,
		},
		Agent: AgentConfig{
			HistoryTurns: defaultHistoryTurns,
			RecallK:      defaultRecallK,
			Workers:      defaultWorkers,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
			Topic:    defaultEventStreamTopic,
		},
		Settings: SettingsConfig{
			Path: defaultSettingsFile,
		},
	}
}
