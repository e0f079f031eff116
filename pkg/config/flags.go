package config

import (
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag describes one CLI flag shared by warden ask and warden serve.
// Commands register flags by registry key, and the default always comes
// from NewDefaultConfig.
type Flag struct {
	Name      string
	Shorthand string

	// ViperKey is the dotted config key the flag overrides.
	ViperKey    string
	Description string

	// Choices feeds shell completion for enumerated values.
	Choices []string
}

type FlagSet map[string]Flag

// Flag registry keys.
const (
	FlagUser           = "user"
	FlagMaxCycles      = "max-cycles"
	FlagAllowPartial   = "allow-partial"
	FlagCustomMemory   = "custom-memory"
	FlagApproval       = "approval"
	FlagAutoApprove    = "auto-approve"
	FlagLLMProvider    = "provider"
	FlagLLMModel       = "model"
	FlagLLMTarget      = "llm-target"
	FlagVectorProvider = "vector-store-provider"
	FlagVectorTarget   = "vector-store-target"
	FlagEmbeddingProv  = "embedding-provider"
	FlagEmbeddingModel = "embedding-model"
	FlagSQLite         = "sqlite"
	FlagListen         = "listen"
)

// Flags is the registry shared by all commands.
var Flags = FlagSet{
	FlagUser:           {Name: "user", Shorthand: "u", ViperKey: "agent.user_id", Description: "User id whose memory and history are used"},
	FlagMaxCycles:      {Name: "max-cycles", ViperKey: "agent.max_cycles", Description: "Maximum validation refinement cycles per turn"},
	FlagAllowPartial:   {Name: "allow-partial", ViperKey: "agent.allow_partial", Description: "Deliver partially supported answers with caveats once cycles are exhausted"},
	FlagCustomMemory:   {Name: "custom-memory", ViperKey: "memory.use_custom_memory", Description: "Use the local vector memory backend instead of the hosted service"},
	FlagApproval:       {Name: "approval", ViperKey: "approval.enabled", Description: "Hold validated answers for human approval"},
	FlagAutoApprove:    {Name: "auto-approve", ViperKey: "approval.auto_approve", Description: "Approve held answers automatically"},
	FlagLLMProvider:    {Name: "provider", Shorthand: "p", ViperKey: "llm.provider", Description: "LLM provider (ollama, openai, anthropic)", Choices: []string{"ollama", "openai", "anthropic"}},
	FlagLLMModel:       {Name: "model", Shorthand: "m", ViperKey: "llm.model", Description: "LLM model name"},
	FlagLLMTarget:      {Name: "llm-target", ViperKey: "llm.target", Description: "LLM provider base URL"},
	FlagVectorProvider: {Name: "vector-store-provider", ViperKey: "vector_store.provider", Description: "Evidence vector store (sqlite, chroma, qdrant, chromem)", Choices: []string{"sqlite", "chroma", "qdrant", "chromem"}},
	FlagVectorTarget:   {Name: "vector-store-target", ViperKey: "vector_store.target", Description: "Vector store path or URL"},
	FlagEmbeddingProv:  {Name: "embedding-provider", ViperKey: "embedding.provider", Description: "Embedding provider (ollama, hash)", Choices: []string{"ollama", "hash"}},
	FlagEmbeddingModel: {Name: "embedding-model", ViperKey: "embedding.model", Description: "Embedding model name"},
	FlagSQLite:         {Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path", Description: "Path to the SQLite history database"},
	FlagListen:         {Name: "listen", Shorthand: "l", ViperKey: "api.listen", Description: "Address for the API server to listen on"},
}

// AddStringFlag registers a string flag, with completion when the flag
// has fixed choices. Unknown keys are ignored.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}
	cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaults().GetString(def.ViperKey), def.Description)

	if len(def.Choices) > 0 {
		_ = cmd.RegisterFlagCompletionFunc(def.Name, cobra.FixedCompletions(def.Choices, cobra.ShellCompDirectiveNoFileComp))
	}
}

func AddIntFlag(cmd *cobra.Command, fs FlagSet, key string, target *int) {
	if def, ok := fs[key]; ok {
		cmd.Flags().IntVarP(target, def.Name, def.Shorthand, defaults().GetInt(def.ViperKey), def.Description)
	}
}

func AddBoolFlag(cmd *cobra.Command, fs FlagSet, key string, target *bool) {
	if def, ok := fs[key]; ok {
		cmd.Flags().BoolVarP(target, def.Name, def.Shorthand, defaults().GetBool(def.ViperKey), def.Description)
	}
}

// BindRegisteredFlags connects the command's registered flags to v so an
// explicitly set flag beats env, config.toml and defaults. Keys the
// command did not register are skipped.
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, key := range registryKeys {
		def, ok := fs[key]
		if !ok {
			continue
		}
		if f := cmd.Flags().Lookup(def.Name); f != nil {
			_ = v.BindPFlag(def.ViperKey, f)
		}
	}
}

// defaults is a viper holding only NewDefaultConfig values.
var defaults = sync.OnceValue(func() *viper.Viper {
	v := viper.New()
	setViperDefaults(v)
	return v
})
