package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/aschepis/backscratcher/promptcall/mcp"
	"gopkg.in/yaml.v3"
)

// ProviderSettings holds credentials and endpoints for a hosted provider.
type ProviderSettings struct {
	APIKey       string `yaml:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"`     // Custom endpoint (default: provider's public API)
	Organization string `yaml:"organization,omitempty"` // OpenAI only
	APIVersion   string `yaml:"api_version,omitempty"`  // Azure only
	Model        string `yaml:"model,omitempty"`        // Default model name
}

// VertexSettings configures Vertex AI through its OpenAI-compatible endpoint.
type VertexSettings struct {
	Project     string `yaml:"project,omitempty"`
	Location    string `yaml:"location,omitempty"` // default: us-central1
	AccessToken string `yaml:"access_token,omitempty"`
	Model       string `yaml:"model,omitempty"`
}

// OllamaSettings configures a local Ollama server.
type OllamaSettings struct {
	Host  string `yaml:"host,omitempty"` // default: http://localhost:11434
	Model string `yaml:"model,omitempty"`
}

// Defaults selects what a prompt function uses when it does not say.
type Defaults struct {
	Provider   string         `yaml:"provider,omitempty"`
	Model      string         `yaml:"model,omitempty"`
	CallParams llm.CallParams `yaml:"call_params,omitempty"`
}

// StoreConfig configures the SQLite call log.
type StoreConfig struct {
	Path     string `yaml:"path,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	File   string `yaml:"file,omitempty"`
	Pretty bool   `yaml:"pretty,omitempty"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

// Config is the promptcall configuration file.
type Config struct {
	Anthropic ProviderSettings `yaml:"anthropic,omitempty"`
	OpenAI    ProviderSettings `yaml:"openai,omitempty"`
	Azure     ProviderSettings `yaml:"azure,omitempty"`
	Groq      ProviderSettings `yaml:"groq,omitempty"`
	Mistral   ProviderSettings `yaml:"mistral,omitempty"`
	LiteLLM   ProviderSettings `yaml:"litellm,omitempty"`
	Cohere    ProviderSettings `yaml:"cohere,omitempty"`
	Vertex    VertexSettings   `yaml:"vertex,omitempty"`
	Ollama    OllamaSettings   `yaml:"ollama,omitempty"`

	// LLMProviders lists the enabled providers in preference order.
	LLMProviders []string                    `yaml:"llm_providers,omitempty"`
	Defaults     Defaults                    `yaml:"defaults,omitempty"`
	Store        StoreConfig                 `yaml:"store,omitempty"`
	MCPServers   map[string]mcp.ServerConfig `yaml:"mcp_servers,omitempty"`
	Logging      LoggingConfig               `yaml:"logging,omitempty"`
	Tracing      TracingConfig               `yaml:"tracing,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLMProviders: []string{
			llm.ProviderAnthropic,
			llm.ProviderOpenAI,
			llm.ProviderAzure,
			llm.ProviderGroq,
			llm.ProviderMistral,
			llm.ProviderCohere,
			llm.ProviderVertex,
			llm.ProviderLiteLLM,
			llm.ProviderOllama,
		},
		Anthropic:  ProviderSettings{Model: "claude-haiku-4-5"},
		OpenAI:     ProviderSettings{Model: "gpt-4o-mini"},
		Azure:      ProviderSettings{APIVersion: "2024-10-21"},
		Groq:       ProviderSettings{Model: "llama-3.1-8b-instant"},
		Mistral:    ProviderSettings{Model: "mistral-small-latest"},
		Cohere:     ProviderSettings{Model: "command-r"},
		Vertex:     VertexSettings{Location: "us-central1", Model: "google/gemini-1.5-flash"},
		Ollama:     OllamaSettings{Host: llm.OllamaHost, Model: "llama3.2:3b"},
		Defaults:   Defaults{Provider: llm.ProviderOpenAI},
		Store:      StoreConfig{Path: "~/.promptcall/calls.db"},
		MCPServers: map[string]mcp.ServerConfig{},
	}
}

// Path returns the config file path.
// Can be overridden via PROMPTCALL_CONFIG environment variable.
func Path() string {
	if envPath := os.Getenv("PROMPTCALL_CONFIG"); envPath != "" {
		return ExpandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.promptcall/config.yaml"
	}
	return filepath.Join(homeDir, ".promptcall", "config.yaml")
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Load builds the configuration: built-in defaults, then the file at path
// (skipped when it does not exist), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	expandedPath := ExpandPath(path)
	data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
	default:
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", expandedPath, err)
		}
		if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config file: %w", err)
		}
	}

	if err := mergo.Merge(&cfg, fromEnv(), mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge environment: %w", err)
	}

	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]mcp.ServerConfig)
	}
	cfg.Store.Path = ExpandPath(cfg.Store.Path)
	return &cfg, nil
}

// Save writes cfg to path, creating the directory if needed.
func Save(cfg *Config, path string) error {
	expandedPath := ExpandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// credentials live in this file
	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ProviderConfig converts the configuration into what llm.ProviderRegistry
// consumes.
func (c *Config) ProviderConfig() *llm.ProviderConfig {
	models := map[string]string{
		llm.ProviderAnthropic: c.Anthropic.Model,
		llm.ProviderOpenAI:    c.OpenAI.Model,
		llm.ProviderAzure:     c.Azure.Model,
		llm.ProviderGroq:      c.Groq.Model,
		llm.ProviderMistral:   c.Mistral.Model,
		llm.ProviderLiteLLM:   c.LiteLLM.Model,
		llm.ProviderCohere:    c.Cohere.Model,
		llm.ProviderVertex:    c.Vertex.Model,
		llm.ProviderOllama:    c.Ollama.Model,
	}
	if c.Defaults.Provider != "" && c.Defaults.Model != "" {
		models[c.Defaults.Provider] = c.Defaults.Model
	}

	return &llm.ProviderConfig{
		AnthropicAPIKey:   c.Anthropic.APIKey,
		AnthropicBaseURL:  c.Anthropic.BaseURL,
		OpenAIAPIKey:      c.OpenAI.APIKey,
		OpenAIBaseURL:     c.OpenAI.BaseURL,
		OpenAIOrg:         c.OpenAI.Organization,
		AzureAPIKey:       c.Azure.APIKey,
		AzureEndpoint:     c.Azure.BaseURL,
		AzureAPIVersion:   c.Azure.APIVersion,
		GroqAPIKey:        c.Groq.APIKey,
		MistralAPIKey:     c.Mistral.APIKey,
		CohereAPIKey:      c.Cohere.APIKey,
		LiteLLMAPIKey:     c.LiteLLM.APIKey,
		LiteLLMBaseURL:    c.LiteLLM.BaseURL,
		VertexProject:     c.Vertex.Project,
		VertexLocation:    c.Vertex.Location,
		VertexAccessToken: c.Vertex.AccessToken,
		OllamaHost:        c.Ollama.Host,
		DefaultModels:     models,
	}
}

// Registry returns a provider registry over the enabled providers.
func (c *Config) Registry() *llm.ProviderRegistry {
	return llm.NewProviderRegistry(c.ProviderConfig(), c.LLMProviders)
}
