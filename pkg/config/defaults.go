package config

import "time"

const (
	defaultUserID = "default_user"

	defaultMaxCycles      = 3
	defaultMinQueryLength = 5
	defaultHistoryLimit   = 10
	defaultMemoryK        = 5

	defaultIntentTimeout     = 30 * time.Second
	defaultRetrieveTimeout   = 15 * time.Second
	defaultSynthesizeTimeout = 90 * time.Second
	defaultValidateTimeout   = 60 * time.Second
	defaultApprovalTimeout   = 2 * time.Minute

	defaultLLMProvider = "ollama"
	defaultLLMModel    = "llama3.2"
	defaultOllamaURL   = "http://localhost:11434"

	defaultHostedMemoryURL     = "https://api.mem0.ai"
	defaultSimilarityThreshold = 0.85
	defaultMemoryCollection    = "warden_memories"

	defaultTopK             = 12
	defaultMinScore         = 0.3
	defaultMaxPerSource     = 4
	defaultRetrievalCollect = "compliance_docs"

	defaultValidationStrategy = "llm"
	defaultLexicalThreshold   = 0.6

	defaultVectorProvider = "sqlite"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingModel      = "mxbai-embed-large"
	defaultEmbeddingDimensions = 1024

	defaultEventsProvider = "none"
	defaultEventsTopic    = "warden.turns"

	defaultAPIListen = ":8090"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Agent: AgentConfig{
			UserID:            defaultUserID,
			MaxCycles:         defaultMaxCycles,
			MinQueryLength:    defaultMinQueryLength,
			HistoryLimit:      defaultHistoryLimit,
			MemoryK:           defaultMemoryK,
			IntentTimeout:     D(defaultIntentTimeout),
			RetrieveTimeout:   D(defaultRetrieveTimeout),
			SynthesizeTimeout: D(defaultSynthesizeTimeout),
			ValidateTimeout:   D(defaultValidateTimeout),
		},
		Approval: ApprovalConfig{
			Timeout: D(defaultApprovalTimeout),
		},
		LLM: LLMConfig{
			Provider: defaultLLMProvider,
			Model:    defaultLLMModel,
			Target:   defaultOllamaURL,
		},
		Memory: MemoryConfig{
			UseCustomMemory:     true,
			Target:              defaultHostedMemoryURL,
			SimilarityThreshold: defaultSimilarityThreshold,
			Collection:          defaultMemoryCollection,
		},
		Retrieval: RetrievalConfig{
			TopK:         defaultTopK,
			MinScore:     defaultMinScore,
			MaxPerSource: defaultMaxPerSource,
			Collection:   defaultRetrievalCollect,
		},
		Validation: ValidationConfig{
			Strategy:         defaultValidationStrategy,
			LexicalThreshold: defaultLexicalThreshold,
		},
		VectorStore: VectorStoreConfig{
			Provider: defaultVectorProvider,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultOllamaURL,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
	}
}
