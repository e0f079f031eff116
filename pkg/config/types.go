package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent warden configuration stored as config.toml
// in the .warden/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Agent       AgentConfig       `toml:"agent"`
	Approval    ApprovalConfig    `toml:"approval"`
	LLM         LLMConfig         `toml:"llm"`
	Memory      MemoryConfig      `toml:"memory"`
	Retrieval   RetrievalConfig   `toml:"retrieval"`
	Validation  ValidationConfig  `toml:"validation"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Storage     StorageConfig     `toml:"storage"`
	Events      EventsConfig      `toml:"events"`
	API         APIConfig         `toml:"api"`
}

// AgentConfig holds the reasoning loop knobs.
type AgentConfig struct {
	UserID            string   `toml:"user_id,omitempty" validate:"required"`
	MaxCycles         int      `toml:"max_cycles,omitempty" validate:"gte=0,lte=10"`
	AllowPartial      bool     `toml:"allow_partial,omitempty"`
	MinQueryLength    int      `toml:"min_query_length,omitempty" validate:"gte=0"`
	HistoryLimit      int      `toml:"history_limit,omitempty" validate:"gte=0"`
	MemoryK           int      `toml:"memory_k,omitempty" validate:"gte=0"`
	IntentTimeout     Duration `toml:"intent_timeout,omitempty"`
	RetrieveTimeout   Duration `toml:"retrieve_timeout,omitempty"`
	SynthesizeTimeout Duration `toml:"synthesize_timeout,omitempty"`
	ValidateTimeout   Duration `toml:"validate_timeout,omitempty"`
}

// ApprovalConfig configures the human approval gate.
type ApprovalConfig struct {
	Enabled     bool     `toml:"enabled,omitempty"`
	Timeout     Duration `toml:"timeout,omitempty"`
	AutoApprove bool     `toml:"auto_approve,omitempty"`
	Reviewer    string   `toml:"reviewer,omitempty"`
}

// LLMConfig selects the generation backend.
type LLMConfig struct {
	Provider string `toml:"provider,omitempty" validate:"oneof=ollama openai anthropic"`
	Model    string `toml:"model,omitempty"`
	Target   string `toml:"target,omitempty" validate:"omitempty,url"`
	APIKey   string `toml:"api_key,omitempty"`
}

// MemoryConfig selects and configures the memory gateway backend.
type MemoryConfig struct {
	UseCustomMemory     bool    `toml:"use_custom_memory"`
	Target              string  `toml:"target,omitempty" validate:"omitempty,url"`
	APIKey              string  `toml:"api_key,omitempty"`
	SimilarityThreshold float64 `toml:"similarity_threshold,omitempty" validate:"gte=0,lte=1"`
	Collection          string  `toml:"collection,omitempty"`
}

// RetrievalConfig configures the evidence retriever.
type RetrievalConfig struct {
	TopK         int     `toml:"top_k,omitempty" validate:"gte=1"`
	MinScore     float64 `toml:"min_score,omitempty" validate:"gte=0,lte=1"`
	MaxPerSource int     `toml:"max_per_source,omitempty" validate:"gte=0"`
	Collection   string  `toml:"collection,omitempty"`
}

// ValidationConfig selects the claim entailment strategy.
type ValidationConfig struct {
	Strategy         string  `toml:"strategy,omitempty" validate:"oneof=llm lexical"`
	LexicalThreshold float64 `toml:"lexical_threshold,omitempty" validate:"gte=0,lte=1"`
}

// VectorStoreConfig holds vector store settings shared by the evidence
// index and the local memory index.
type VectorStoreConfig struct {
	Provider string `toml:"provider,omitempty" validate:"oneof=sqlite chroma qdrant chromem"`
	Target   string `toml:"target,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty" validate:"oneof=ollama hash"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty" validate:"gte=1"`
}

// StorageConfig holds conversation history persistence settings. When both
// are empty history is kept in memory.
type StorageConfig struct {
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// EventsConfig configures turn outcome publishing.
type EventsConfig struct {
	Provider string   `toml:"provider,omitempty" validate:"oneof=none kafka"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

const (
	// MemoryBackendHosted is the hosted semantic memory service backend.
	MemoryBackendHosted = "hosted-semantic-memory"

	// MemoryBackendLocal is the local vector store backed memory.
	MemoryBackendLocal = "local-vector-memory"
)

// Backend returns the recognized backend name selected by UseCustomMemory.
func (m MemoryConfig) Backend() string {
	if m.UseCustomMemory {
		return MemoryBackendLocal
	}
	return MemoryBackendHosted
}

// Duration is a time.Duration that round-trips through TOML as a string
// such as "30s" or "2m".
type Duration struct {
	time.Duration
}

// D is shorthand for building a Duration.
func D(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
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

func intKey(name string, field func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = n
			return nil
		},
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatUint(uint64(*field(c)), 10) },
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

func boolKey(name string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

func floatKey(name string, field func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatFloat(*field(c), 'f', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = f
			return nil
		},
	}
}

func durationKey(name string, field func(c *Config) *Duration) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return field(c).String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			field(c).Duration = d
			return nil
		},
	}
}

func listKey(field func(c *Config) *[]string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strings.Join(*field(c), ",") },
		set: func(c *Config, v string) error {
			var out []string
			for part := range strings.SplitSeq(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			*field(c) = out
			return nil
		},
	}
}

// configKeyOrder lists every supported key in TOML section order.
var configKeyOrder = []string{
	"agent.user_id",
	"agent.max_cycles",
	"agent.allow_partial",
	"agent.min_query_length",
	"agent.history_limit",
	"agent.memory_k",
	"agent.intent_timeout",
	"agent.retrieve_timeout",
	"agent.synthesize_timeout",
	"agent.validate_timeout",
	"approval.enabled",
	"approval.timeout",
	"approval.auto_approve",
	"approval.reviewer",
	"llm.provider",
	"llm.model",
	"llm.target",
	"llm.api_key",
	"memory.use_custom_memory",
	"memory.target",
	"memory.api_key",
	"memory.similarity_threshold",
	"memory.collection",
	"retrieval.top_k",
	"retrieval.min_score",
	"retrieval.max_per_source",
	"retrieval.collection",
	"validation.strategy",
	"validation.lexical_threshold",
	"vector_store.provider",
	"vector_store.target",
	"embedding.provider",
	"embedding.target",
	"embedding.model",
	"embedding.dimensions",
	"storage.sqlite_path",
	"storage.postgres_dsn",
	"events.provider",
	"events.brokers",
	"events.topic",
	"api.listen",
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"agent.user_id":            stringKey(func(c *Config) *string { return &c.Agent.UserID }),
	"agent.max_cycles":         intKey("agent.max_cycles", func(c *Config) *int { return &c.Agent.MaxCycles }),
	"agent.allow_partial":      boolKey("agent.allow_partial", func(c *Config) *bool { return &c.Agent.AllowPartial }),
	"agent.min_query_length":   intKey("agent.min_query_length", func(c *Config) *int { return &c.Agent.MinQueryLength }),
	"agent.history_limit":      intKey("agent.history_limit", func(c *Config) *int { return &c.Agent.HistoryLimit }),
	"agent.memory_k":           intKey("agent.memory_k", func(c *Config) *int { return &c.Agent.MemoryK }),
	"agent.intent_timeout":     durationKey("agent.intent_timeout", func(c *Config) *Duration { return &c.Agent.IntentTimeout }),
	"agent.retrieve_timeout":   durationKey("agent.retrieve_timeout", func(c *Config) *Duration { return &c.Agent.RetrieveTimeout }),
	"agent.synthesize_timeout": durationKey("agent.synthesize_timeout", func(c *Config) *Duration { return &c.Agent.SynthesizeTimeout }),
	"agent.validate_timeout":   durationKey("agent.validate_timeout", func(c *Config) *Duration { return &c.Agent.ValidateTimeout }),

	"approval.enabled":      boolKey("approval.enabled", func(c *Config) *bool { return &c.Approval.Enabled }),
	"approval.timeout":      durationKey("approval.timeout", func(c *Config) *Duration { return &c.Approval.Timeout }),
	"approval.auto_approve": boolKey("approval.auto_approve", func(c *Config) *bool { return &c.Approval.AutoApprove }),
	"approval.reviewer":     stringKey(func(c *Config) *string { return &c.Approval.Reviewer }),

	"llm.provider": stringKey(func(c *Config) *string { return &c.LLM.Provider }),
	"llm.model":    stringKey(func(c *Config) *string { return &c.LLM.Model }),
	"llm.target":   stringKey(func(c *Config) *string { return &c.LLM.Target }),
	"llm.api_key":  stringKey(func(c *Config) *string { return &c.LLM.APIKey }),

	"memory.use_custom_memory":    boolKey("memory.use_custom_memory", func(c *Config) *bool { return &c.Memory.UseCustomMemory }),
	"memory.target":               stringKey(func(c *Config) *string { return &c.Memory.Target }),
	"memory.api_key":              stringKey(func(c *Config) *string { return &c.Memory.APIKey }),
	"memory.similarity_threshold": floatKey("memory.similarity_threshold", func(c *Config) *float64 { return &c.Memory.SimilarityThreshold }),
	"memory.collection":           stringKey(func(c *Config) *string { return &c.Memory.Collection }),

	"retrieval.top_k":          intKey("retrieval.top_k", func(c *Config) *int { return &c.Retrieval.TopK }),
	"retrieval.min_score":      floatKey("retrieval.min_score", func(c *Config) *float64 { return &c.Retrieval.MinScore }),
	"retrieval.max_per_source": intKey("retrieval.max_per_source", func(c *Config) *int { return &c.Retrieval.MaxPerSource }),
	"retrieval.collection":     stringKey(func(c *Config) *string { return &c.Retrieval.Collection }),

	"validation.strategy":          stringKey(func(c *Config) *string { return &c.Validation.Strategy }),
	"validation.lexical_threshold": floatKey("validation.lexical_threshold", func(c *Config) *float64 { return &c.Validation.LexicalThreshold }),

	"vector_store.provider": stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":   stringKey(func(c *Config) *string { return &c.VectorStore.Target }),

	"embedding.provider":   stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":     stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":      stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions": uintKey("embedding.dimensions", func(c *Config) *uint { return &c.Embedding.Dimensions }),

	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),

	"events.provider": stringKey(func(c *Config) *string { return &c.Events.Provider }),
	"events.brokers":  listKey(func(c *Config) *[]string { return &c.Events.Brokers }),
	"events.topic":    stringKey(func(c *Config) *string { return &c.Events.Topic }),

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),
}
