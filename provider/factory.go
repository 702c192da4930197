// Package provider builds llm.Client values for resolved provider keys and
// caches them for the life of the process.
package provider

import (
	"fmt"
	"sync"

	"github.com/aschepis/backscratcher/promptcall/llm"
	llmanthropic "github.com/aschepis/backscratcher/promptcall/llm/anthropic"
	llmollama "github.com/aschepis/backscratcher/promptcall/llm/ollama"
	llmopenai "github.com/aschepis/backscratcher/promptcall/llm/openai"
	"github.com/rs/zerolog"
)

// Factory creates clients on first use and returns the cached client for
// every later request with the same ClientKey. It is safe for concurrent
// use.
type Factory struct {
	mu         sync.RWMutex
	cache      map[llm.ClientKey]llm.Client
	middleware []llm.Middleware
	logger     zerolog.Logger
}

// NewFactory returns a factory that wraps every client it builds with mw.
func NewFactory(logger zerolog.Logger, mw ...llm.Middleware) *Factory {
	return &Factory{
		cache:      make(map[llm.ClientKey]llm.Client),
		middleware: mw,
		logger:     logger.With().Str("component", "provider").Logger(),
	}
}

// Client returns the client for key, creating it if needed.
func (f *Factory) Client(key llm.ClientKey) (llm.Client, error) {
	f.mu.RLock()
	if client, ok := f.cache[key]; ok {
		f.mu.RUnlock()
		return client, nil
	}
	f.mu.RUnlock()

	// no lock held while the SDK client is built
	client, err := New(key, f.logger)
	if err != nil {
		return nil, err
	}
	if len(f.middleware) > 0 {
		client = llm.WrapWithMiddleware(client, f.middleware...)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.cache[key]; ok {
		return existing, nil
	}
	f.cache[key] = client
	f.logger.Debug().Str("provider", key.Provider).Str("model", key.Model).Msg("Created client")
	return client, nil
}

// Resolve looks provider and model up in registry and returns the client
// together with the resolved key. An empty provider picks the first
// enabled and configured one.
func (f *Factory) Resolve(registry *llm.ProviderRegistry, provider, model string) (llm.Client, *llm.ClientKey, error) {
	var (
		key *llm.ClientKey
		err error
	)
	if provider == "" {
		key, err = registry.ResolvePreferences("default", nil)
	} else {
		key, err = registry.Resolve(provider, model)
	}
	if err != nil {
		return nil, nil, err
	}
	client, err := f.Client(*key)
	if err != nil {
		return nil, nil, err
	}
	return client, key, nil
}

// New builds an uncached client for key.
func New(key llm.ClientKey, logger zerolog.Logger) (llm.Client, error) {
	switch key.Provider {
	case llm.ProviderAnthropic:
		client, err := llmanthropic.NewAnthropicClient(key.APIKey, key.BaseURL, key.Model, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic client: %w", err)
		}
		return client, nil

	case llm.ProviderOpenAI:
		client, err := llmopenai.NewOpenAIClient(key.APIKey, key.BaseURL, key.Model, key.Organization)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		return client, nil

	case llm.ProviderAzure:
		client, err := llmopenai.NewAzureClient(key.APIKey, key.BaseURL, key.APIVersion, key.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure client: %w", err)
		}
		return client, nil

	case llm.ProviderGroq, llm.ProviderMistral, llm.ProviderCohere, llm.ProviderLiteLLM, llm.ProviderVertex:
		client, err := llmopenai.NewCompatibleClient(key.Provider, key.APIKey, key.BaseURL, key.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s client: %w", key.Provider, err)
		}
		return client, nil

	case llm.ProviderOllama:
		client, err := llmollama.NewOllamaClient(key.Host, key.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", key.Provider)
	}
}
