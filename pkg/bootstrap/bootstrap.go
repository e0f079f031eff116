// Package bootstrap assembles a warden agent from a validated Config. It is
// the only place that turns configuration into concrete backends; every
// component below it receives its collaborators through constructors.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/do"

	"github.com/papercomputeco/warden/pkg/agent"
	"github.com/papercomputeco/warden/pkg/approval"
	"github.com/papercomputeco/warden/pkg/config"
	"github.com/papercomputeco/warden/pkg/embeddings"
	embeddingutils "github.com/papercomputeco/warden/pkg/embeddings/utils"
	"github.com/papercomputeco/warden/pkg/eventstream"
	"github.com/papercomputeco/warden/pkg/eventstream/kafka"
	"github.com/papercomputeco/warden/pkg/eventstream/nop"
	"github.com/papercomputeco/warden/pkg/extract"
	"github.com/papercomputeco/warden/pkg/fault"
	"github.com/papercomputeco/warden/pkg/followup"
	"github.com/papercomputeco/warden/pkg/intent"
	"github.com/papercomputeco/warden/pkg/llm"
	"github.com/papercomputeco/warden/pkg/memory"
	"github.com/papercomputeco/warden/pkg/memory/hosted"
	"github.com/papercomputeco/warden/pkg/memory/local"
	"github.com/papercomputeco/warden/pkg/retrieve"
	storageutils "github.com/papercomputeco/warden/pkg/storage/utils"
	"github.com/papercomputeco/warden/pkg/synth"
	"github.com/papercomputeco/warden/pkg/validate"
	"github.com/papercomputeco/warden/pkg/vector"
	vectorutils "github.com/papercomputeco/warden/pkg/vector/utils"
	"github.com/papercomputeco/warden/pkg/worker"
)

const (
	// EvidenceIndex and MemoryIndex name the two vector drivers in the injector.
	EvidenceIndex = "evidence"
	MemoryIndex   = "memory"

	embeddingCacheEntries = 4096
)

// Options configures assembly.
type Options struct {
	// Config must already have credentials resolved and be validated.
	Config *config.Config

	// DataDir holds embedded stores (sqlite, chromem). Empty keeps them in memory.
	DataDir string

	// Gate overrides the approval gate chosen from config, e.g. a terminal
	// prompt for the CLI. It is used only when approval is enabled and
	// auto_approve is off.
	Gate approval.Gate

	// LLM replaces the caller built from the [llm] section.
	LLM llm.CallFunc

	Logger *slog.Logger
}

// App is an assembled agent with its shared services.
type App struct {
	Injector *do.Injector
	Config   *config.Config
	Agent    *agent.Orchestrator
	Memory   memory.Gateway
	Broker   *approval.Broker
	Pool     *worker.Pool

	logger *slog.Logger
}

// New wires every component. Construction errors are configuration
// faults: the process must not start half-assembled.
func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, fault.Newf(fault.Configuration, "bootstrap.new", "config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	i := do.New()
	do.ProvideValue(i, ctx)
	do.ProvideValue(i, opts.Config)
	do.ProvideValue(i, logger)
	do.ProvideValue(i, &opts)

	do.Provide(i, provideLLM)
	do.Provide(i, provideEmbedder)
	do.ProvideNamed(i, EvidenceIndex, provideIndex(EvidenceIndex))
	do.ProvideNamed(i, MemoryIndex, provideIndex(MemoryIndex))
	do.Provide(i, provideHistory)
	do.Provide(i, provideMemory)
	do.Provide(i, providePool)
	do.Provide(i, providePublisher)
	do.Provide(i, provideBroker)
	do.Provide(i, provideGate)
	do.Provide(i, provideAgent)

	orchestrator, err := do.Invoke[*agent.Orchestrator](i)
	if err != nil {
		_ = i.Shutdown()
		return nil, fault.New(fault.Configuration, "bootstrap.new", err)
	}

	app := &App{
		Injector: i,
		Config:   opts.Config,
		Agent:    orchestrator,
		Memory:   do.MustInvoke[memory.Gateway](i),
		Broker:   do.MustInvoke[*approval.Broker](i),
		Pool:     do.MustInvoke[*worker.Pool](i),
		logger:   logger,
	}

	logger.Info("agent assembled",
		"llm_provider", opts.Config.LLM.Provider,
		"memory_backend", opts.Config.Memory.Backend(),
		"vector_store", opts.Config.VectorStore.Provider,
		"approval", opts.Config.Approval.Enabled,
		"events", opts.Config.Events.Provider,
	)
	return app, nil
}

// Close drains pending side effects, then releases backends.
func (a *App) Close() error {
	a.Pool.Close()

	var errs []error
	if p, err := do.Invoke[eventstream.Publisher](a.Injector); err == nil {
		errs = append(errs, p.Close())
	}
	errs = append(errs, a.Memory.Close())
	if idx, err := do.InvokeNamed[vector.VectorDriver](a.Injector, EvidenceIndex); err == nil {
		errs = append(errs, idx.Close())
	}
	errs = append(errs, a.Injector.Shutdown())

	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown finished with errors", "error", err)
		return err
	}
	return nil
}

func provideLLM(i *do.Injector) (llm.CallFunc, error) {
	if opts := do.MustInvoke[*Options](i); opts.LLM != nil {
		return opts.LLM, nil
	}
	cfg := do.MustInvoke[*config.Config](i)
	return llm.NewCaller(llm.CallerConfig{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.Target,
	})
}

func provideEmbedder(i *do.Injector) (embeddings.Embedder, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: cfg.Embedding.Provider,
		TargetURL:    cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
		Dimensions:   cfg.Embedding.Dimensions,
		CacheEntries: embeddingCacheEntries,
	})
}

func provideIndex(name string) do.Provider[vector.VectorDriver] {
	return func(i *do.Injector) (vector.VectorDriver, error) {
		cfg := do.MustInvoke[*config.Config](i)
		opts := do.MustInvoke[*Options](i)

		collection := cfg.Retrieval.Collection
		if name == MemoryIndex {
			collection = cfg.Memory.Collection
		}

		return vectorutils.NewVectorDriver(&vectorutils.NewVectorDriverOpts{
			ProviderType: cfg.VectorStore.Provider,
			TargetURL:    cfg.VectorStore.Target,
			DataDir:      opts.DataDir,
			Collection:   collection,
			Dimensions:   cfg.Embedding.Dimensions,
			Logger:       do.MustInvoke[*slog.Logger](i).With("index", name),
		})
	}
}

func provideHistory(i *do.Injector) (memory.HistoryStore, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return storageutils.NewHistoryStore(do.MustInvoke[context.Context](i), &storageutils.NewHistoryStoreOpts{
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
		Logger:      do.MustInvoke[*slog.Logger](i),
	})
}

// provideMemory selects the backend once, at startup.
func provideMemory(i *do.Injector) (memory.Gateway, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i).With("component", "memory")

	history, err := do.Invoke[memory.HistoryStore](i)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}

	switch cfg.Memory.Backend() {
	case config.MemoryBackendLocal:
		store, err := do.InvokeNamed[vector.VectorDriver](i, MemoryIndex)
		if err != nil {
			return nil, fmt.Errorf("memory index: %w", err)
		}
		return local.New(store, do.MustInvoke[embeddings.Embedder](i), history, local.Config{
			Threshold:    cfg.Memory.SimilarityThreshold,
			HistoryLimit: cfg.Agent.HistoryLimit,
			Logger:       logger,
		}), nil

	case config.MemoryBackendHosted:
		return hosted.New(hosted.Config{
			BaseURL:      cfg.Memory.Target,
			APIKey:       cfg.Memory.APIKey,
			Threshold:    cfg.Memory.SimilarityThreshold,
			HistoryLimit: cfg.Agent.HistoryLimit,
			Logger:       logger,
		}, history)

	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Memory.Backend())
	}
}

func providePool(i *do.Injector) (*worker.Pool, error) {
	return worker.NewPool(&worker.Config{
		Logger: do.MustInvoke[*slog.Logger](i).With("component", "worker"),
	})
}

func providePublisher(i *do.Injector) (eventstream.Publisher, error) {
	cfg := do.MustInvoke[*config.Config](i)
	if cfg.Events.Provider != "kafka" {
		return nop.NewPublisher(), nil
	}
	return kafka.NewPublisher(kafka.Config{
		Brokers: cfg.Events.Brokers,
		Topic:   cfg.Events.Topic,
		Logger:  do.MustInvoke[*slog.Logger](i).With("component", "events"),
	})
}

func provideBroker(i *do.Injector) (*approval.Broker, error) {
	return approval.NewBroker(do.MustInvoke[*slog.Logger](i).With("component", "approval")), nil
}

// provideGate returns a nil gate when approval is disabled.
func provideGate(i *do.Injector) (approval.Gate, error) {
	cfg := do.MustInvoke[*config.Config](i)
	opts := do.MustInvoke[*Options](i)

	switch {
	case !cfg.Approval.Enabled:
		return nil, nil
	case cfg.Approval.AutoApprove:
		return approval.Auto{Approve: true, Reviewer: cfg.Approval.Reviewer}, nil
	case opts.Gate != nil:
		return opts.Gate, nil
	default:
		return do.MustInvoke[*approval.Broker](i), nil
	}
}

func provideAgent(i *do.Injector) (*agent.Orchestrator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)

	call, err := do.Invoke[llm.CallFunc](i)
	if err != nil {
		return nil, fmt.Errorf("llm caller: %w", err)
	}
	embedder, err := do.Invoke[embeddings.Embedder](i)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	index, err := do.InvokeNamed[vector.VectorDriver](i, EvidenceIndex)
	if err != nil {
		return nil, fmt.Errorf("evidence index: %w", err)
	}
	gw, err := do.Invoke[memory.Gateway](i)
	if err != nil {
		return nil, fmt.Errorf("memory gateway: %w", err)
	}
	pool, err := do.Invoke[*worker.Pool](i)
	if err != nil {
		return nil, err
	}
	publisher, err := do.Invoke[eventstream.Publisher](i)
	if err != nil {
		return nil, fmt.Errorf("event publisher: %w", err)
	}

	deps := agent.Deps{
		Memory:      gw,
		Analyzer:    intent.NewAnalyzer(call, logger.With("step", "intent")),
		Retriever:   retrieve.New(index, embedder, retrieverConfig(cfg, logger)),
		Synthesizer: synth.New(call, logger.With("step", "synthesize")),
		Validator:   validate.New(validatorConfig(cfg, call, logger)),
		Learner:     extract.New(call, logger.With("step", "extract")),
		FollowUps:   followup.New(call, logger.With("step", "followup")),
		Publisher:   publisher,
		Dispatcher:  pool,
	}

	// A nil approval.Gate must stay a nil interface in Deps.
	if gate := do.MustInvoke[approval.Gate](i); gate != nil {
		deps.Approval = gate
	}

	return agent.New(AgentConfig(cfg, logger), deps)
}

// AgentConfig maps the [agent] and [approval] sections onto the orchestrator.
func AgentConfig(cfg *config.Config, logger *slog.Logger) agent.Config {
	return agent.Config{
		MaxCycles:      cfg.Agent.MaxCycles,
		MinQueryLength: cfg.Agent.MinQueryLength,
		MemoryK:        cfg.Agent.MemoryK,
		TopK:           cfg.Retrieval.TopK,
		Timeouts: agent.Timeouts{
			Intent:     cfg.Agent.IntentTimeout.Duration,
			Retrieve:   cfg.Agent.RetrieveTimeout.Duration,
			Synthesize: cfg.Agent.SynthesizeTimeout.Duration,
			Validate:   cfg.Agent.ValidateTimeout.Duration,
		},
		Policy: PolicyFrom(cfg),
		EventSource: eventstream.EventSource{
			Agent:         "warden",
			Provider:      cfg.LLM.Provider,
			Model:         cfg.LLM.Model,
			MemoryBackend: cfg.Memory.Backend(),
		},
		Logger: logger.With("component", "agent"),
	}
}

// PolicyFrom extracts the hot-reloadable knobs.
func PolicyFrom(cfg *config.Config) agent.Policy {
	return agent.Policy{
		AllowPartial:    cfg.Agent.AllowPartial,
		ApprovalTimeout: cfg.Approval.Timeout.Duration,
	}
}

func retrieverConfig(cfg *config.Config, logger *slog.Logger) retrieve.Config {
	return retrieve.Config{
		TopK:         cfg.Retrieval.TopK,
		MinScore:     cfg.Retrieval.MinScore,
		MaxPerSource: cfg.Retrieval.MaxPerSource,
		Logger:       logger.With("step", "retrieve"),
	}
}

func validatorConfig(cfg *config.Config, call llm.CallFunc, logger *slog.Logger) validate.Config {
	lexical := validate.Lexical{Threshold: cfg.Validation.LexicalThreshold}
	vc := validate.Config{
		Primary:  lexical,
		Fallback: lexical,
		Logger:   logger.With("step", "validate"),
	}
	if cfg.Validation.Strategy == validate.StrategyLLM {
		vc.Primary = validate.LLM{Call: call}
	}
	return vc
}
