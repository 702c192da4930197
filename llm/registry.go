package llm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderGroq      = "groq"
	ProviderMistral   = "mistral"
	ProviderLiteLLM   = "litellm"
	ProviderCohere    = "cohere"
	ProviderVertex    = "vertex"
)

// Providers lists every provider the registry knows how to resolve.
var Providers = []string{
	ProviderAnthropic,
	ProviderOpenAI,
	ProviderAzure,
	ProviderGroq,
	ProviderMistral,
	ProviderLiteLLM,
	ProviderCohere,
	ProviderVertex,
	ProviderOllama,
}

// Default endpoints for OpenAI-compatible providers.
const (
	GroqBaseURL    = "https://api.groq.com/openai/v1"
	MistralBaseURL = "https://api.mistral.ai/v1"
	CohereBaseURL  = "https://api.cohere.ai/compatibility/v1"
	LiteLLMBaseURL = "http://localhost:4000"
	OllamaHost     = "http://localhost:11434"
)

// LLMPreference represents a single provider/model preference.
type LLMPreference struct {
	Provider string
	Model    string
}

// ClientKey uniquely identifies an LLM client configuration.
type ClientKey struct {
	Provider     string
	Model        string
	APIKey       string // For credential-based providers
	Host         string // For Ollama
	BaseURL      string // For OpenAI-compatible endpoints
	Organization string // For OpenAI
	APIVersion   string // For Azure
}

// ProviderConfig holds the configuration needed for provider registry.
// This avoids import cycles by not importing the config package.
type ProviderConfig struct {
	AnthropicAPIKey  string
	AnthropicBaseURL string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIOrg     string

	AzureAPIKey     string
	AzureEndpoint   string
	AzureAPIVersion string

	GroqAPIKey    string
	MistralAPIKey string
	CohereAPIKey  string

	LiteLLMAPIKey  string
	LiteLLMBaseURL string

	VertexProject     string
	VertexLocation    string
	VertexAccessToken string

	OllamaHost string

	// DefaultModels maps a provider to the model used when a preference
	// does not name one.
	DefaultModels map[string]string
}

// ProviderRegistry manages LLM provider selection and configuration resolution.
// Client creation and caching is handled by the provider package.
type ProviderRegistry struct {
	enabledProviders []string // Enabled providers in preference order
	mu               sync.RWMutex
	config           *ProviderConfig
}

// NewProviderRegistry creates a new ProviderRegistry with the given config and enabled providers.
func NewProviderRegistry(providerConfig *ProviderConfig, enabledProviders []string) *ProviderRegistry {
	if providerConfig == nil {
		providerConfig = &ProviderConfig{}
	}
	return &ProviderRegistry{
		enabledProviders: lo.Uniq(enabledProviders),
		config:           providerConfig,
	}
}

// IsProviderEnabled checks if a provider is in the enabled providers list.
func (r *ProviderRegistry) IsProviderEnabled(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Contains(r.enabledProviders, provider)
}

// IsProviderConfigured checks if a provider has the required configuration (API keys, hosts, etc.).
func (r *ProviderRegistry) IsProviderConfigured(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isProviderConfiguredUnlocked(provider)
}

// Resolve returns a ClientKey for a single provider and model.
func (r *ProviderRegistry) Resolve(provider, model string) (*ClientKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !lo.Contains(r.enabledProviders, provider) {
		return nil, fmt.Errorf("provider %s is not enabled (enabled: %v)", provider, r.enabledProviders)
	}
	if !r.isProviderConfiguredUnlocked(provider) {
		return nil, fmt.Errorf("provider %s is not configured", provider)
	}
	return r.resolveProviderConfig(provider, model)
}

// ResolvePreferences resolves a prompt function's LLM preferences.
// It returns a ClientKey for the first available provider from the preference list,
// falling back to the first enabled and configured provider when prefs is empty.
func (r *ProviderRegistry) ResolvePreferences(name string, prefs []LLMPreference) (*ClientKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(prefs) > 0 {
		var attemptedProviders []string
		for _, pref := range prefs {
			attemptedProviders = append(attemptedProviders, pref.Provider)

			if !lo.Contains(r.enabledProviders, pref.Provider) {
				continue
			}
			if !r.isProviderConfiguredUnlocked(pref.Provider) {
				continue
			}

			key, err := r.resolveProviderConfig(pref.Provider, pref.Model)
			if err != nil {
				continue
			}
			return key, nil
		}

		return nil, fmt.Errorf("%s: no available provider from preferences %v (enabled: %v)", name, attemptedProviders, r.enabledProviders)
	}

	if len(r.enabledProviders) == 0 {
		return nil, fmt.Errorf("no providers enabled")
	}

	for _, p := range r.enabledProviders {
		if !r.isProviderConfiguredUnlocked(p) {
			continue
		}
		key, err := r.resolveProviderConfig(p, "")
		if err != nil {
			continue
		}
		return key, nil
	}
	return nil, fmt.Errorf("%s: none of the enabled providers %v is configured", name, r.enabledProviders)
}

// isProviderConfiguredUnlocked is the unlocked version of IsProviderConfigured.
// Must be called with r.mu already locked.
func (r *ProviderRegistry) isProviderConfiguredUnlocked(provider string) bool {
	c := r.config
	switch provider {
	case ProviderAnthropic:
		return c.AnthropicAPIKey != ""
	case ProviderOpenAI:
		return c.OpenAIAPIKey != ""
	case ProviderAzure:
		return c.AzureAPIKey != "" && c.AzureEndpoint != ""
	case ProviderGroq:
		return c.GroqAPIKey != ""
	case ProviderMistral:
		return c.MistralAPIKey != ""
	case ProviderCohere:
		return c.CohereAPIKey != ""
	case ProviderVertex:
		return c.VertexProject != "" && c.VertexAccessToken != ""
	case ProviderLiteLLM, ProviderOllama:
		// Local proxies with default endpoints; no credentials required.
		return true
	default:
		return false
	}
}

// resolveProviderConfig resolves provider-specific configuration and returns a ClientKey.
func (r *ProviderRegistry) resolveProviderConfig(provider, modelOverride string) (*ClientKey, error) {
	c := r.config
	key := &ClientKey{
		Provider: provider,
		Model:    modelOverride,
	}
	if key.Model == "" {
		key.Model = c.DefaultModels[provider]
	}

	switch provider {
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic API key not configured")
		}
		key.APIKey = c.AnthropicAPIKey
		key.BaseURL = c.AnthropicBaseURL
		if key.Model == "" {
			key.Model = "claude-haiku-4-5"
		}

	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai API key not configured")
		}
		key.APIKey = c.OpenAIAPIKey
		key.BaseURL = c.OpenAIBaseURL
		key.Organization = c.OpenAIOrg
		if key.Model == "" {
			key.Model = "gpt-4o-mini"
		}

	case ProviderAzure:
		if c.AzureAPIKey == "" || c.AzureEndpoint == "" {
			return nil, fmt.Errorf("azure API key and endpoint must both be configured")
		}
		key.APIKey = c.AzureAPIKey
		key.BaseURL = c.AzureEndpoint
		key.APIVersion = c.AzureAPIVersion

	case ProviderGroq:
		if c.GroqAPIKey == "" {
			return nil, fmt.Errorf("groq API key not configured")
		}
		key.APIKey = c.GroqAPIKey
		key.BaseURL = GroqBaseURL

	case ProviderMistral:
		if c.MistralAPIKey == "" {
			return nil, fmt.Errorf("mistral API key not configured")
		}
		key.APIKey = c.MistralAPIKey
		key.BaseURL = MistralBaseURL

	case ProviderCohere:
		if c.CohereAPIKey == "" {
			return nil, fmt.Errorf("cohere API key not configured")
		}
		key.APIKey = c.CohereAPIKey
		key.BaseURL = CohereBaseURL

	case ProviderLiteLLM:
		key.APIKey = c.LiteLLMAPIKey
		key.BaseURL = lo.Ternary(c.LiteLLMBaseURL != "", c.LiteLLMBaseURL, LiteLLMBaseURL)

	case ProviderVertex:
		if c.VertexProject == "" || c.VertexAccessToken == "" {
			return nil, fmt.Errorf("vertex project and access token must both be configured")
		}
		location := lo.Ternary(c.VertexLocation != "", c.VertexLocation, "us-central1")
		key.APIKey = c.VertexAccessToken
		key.BaseURL = VertexBaseURL(c.VertexProject, location)

	case ProviderOllama:
		key.Host = lo.Ternary(c.OllamaHost != "", c.OllamaHost, OllamaHost)

	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	if key.Model == "" {
		return nil, fmt.Errorf("%s model not specified and no default configured", provider)
	}
	return key, nil
}

// VertexBaseURL returns the OpenAI-compatible endpoint of a Vertex AI project.
func VertexBaseURL(project, location string) string {
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/endpoints/openapi",
		location, project, location)
}

// IsOpenAICompatible reports whether provider is served by the OpenAI wire protocol.
func IsOpenAICompatible(provider string) bool {
	switch strings.ToLower(provider) {
	case ProviderOpenAI, ProviderAzure, ProviderGroq, ProviderMistral, ProviderLiteLLM, ProviderCohere, ProviderVertex:
		return true
	}
	return false
}
