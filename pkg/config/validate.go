package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/papercomputeco/warden/pkg/credentials"
	"github.com/papercomputeco/warden/pkg/fault"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ResolveCredentials fills empty API keys from the credentials store and the
// environment. It is called once at startup before Validate.
func (c *Config) ResolveCredentials(mgr *credentials.Manager) {
	switch c.LLM.Provider {
	case "openai", "anthropic":
		c.LLM.APIKey = mgr.Resolve(c.LLM.Provider, c.LLM.APIKey)
	}

	if c.Memory.Backend() == MemoryBackendHosted {
		c.Memory.APIKey = mgr.Resolve(credentials.ProviderHostedMemory, c.Memory.APIKey)
	}
}

// Validate checks the configuration once at startup. Every problem is a
// configuration fault: the process must not start with an invalid config.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fault.Newf(fault.Configuration, "config.validate", "invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fault.New(fault.Configuration, "config.validate", err)
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
		if c.LLM.APIKey == "" {
			return fault.Newf(fault.Configuration, "config.validate",
				"llm provider %s selected but no API key found (set llm.api_key, run 'warden auth %s', or export %s)",
				c.LLM.Provider, c.LLM.Provider, credentials.EnvVarForProvider(c.LLM.Provider))
		}
	}

	if c.Memory.Backend() == MemoryBackendHosted {
		if c.Memory.APIKey == "" {
			return fault.Newf(fault.Configuration, "config.validate",
				"%s selected but no API key found (set memory.api_key, run 'warden auth %s', or export %s)",
				MemoryBackendHosted, credentials.ProviderHostedMemory, credentials.EnvVarForProvider(credentials.ProviderHostedMemory))
		}
		if c.Memory.Target == "" {
			return fault.Newf(fault.Configuration, "config.validate", "%s selected but memory.target is empty", MemoryBackendHosted)
		}
	}

	switch c.VectorStore.Provider {
	case "chroma", "qdrant":
		if c.VectorStore.Target == "" {
			return fault.Newf(fault.Configuration, "config.validate", "vector_store.provider %s requires vector_store.target", c.VectorStore.Provider)
		}
	}

	if c.Events.Provider == "kafka" && (len(c.Events.Brokers) == 0 || c.Events.Topic == "") {
		return fault.Newf(fault.Configuration, "config.validate", "events.provider kafka requires events.brokers and events.topic")
	}

	if c.Storage.SQLitePath != "" && c.Storage.PostgresDSN != "" {
		return fault.Newf(fault.Configuration, "config.validate", "storage.sqlite_path and storage.postgres_dsn are mutually exclusive")
	}

	return nil
}
