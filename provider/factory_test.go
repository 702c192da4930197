package provider

import (
	"sync"
	"testing"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_CachesPerKey(t *testing.T) {
	f := NewFactory(zerolog.Nop())
	key := llm.ClientKey{Provider: llm.ProviderOpenAI, Model: "gpt-4o-mini", APIKey: "sk-test"}

	first, err := f.Client(key)
	require.NoError(t, err)
	second, err := f.Client(key)
	require.NoError(t, err)
	assert.Same(t, first, second)

	other, err := f.Client(llm.ClientKey{Provider: llm.ProviderOpenAI, Model: "gpt-4o", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.NotSame(t, first, other)
}

func TestFactory_ConcurrentCallersShareClient(t *testing.T) {
	f := NewFactory(zerolog.Nop())
	key := llm.ClientKey{Provider: llm.ProviderOllama, Model: "llama3.2:3b", Host: "http://localhost:11434"}

	clients := make([]llm.Client, 16)
	var wg sync.WaitGroup
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := f.Client(key)
			assert.NoError(t, err)
			clients[i] = c
		}(i)
	}
	wg.Wait()
	for _, c := range clients[1:] {
		assert.Same(t, clients[0], c)
	}
}

func TestNew_Providers(t *testing.T) {
	tests := []struct {
		name    string
		key     llm.ClientKey
		wantErr bool
	}{
		{"anthropic", llm.ClientKey{Provider: llm.ProviderAnthropic, APIKey: "k", Model: "claude-haiku-4-5"}, false},
		{"anthropic without key", llm.ClientKey{Provider: llm.ProviderAnthropic}, true},
		{"azure", llm.ClientKey{Provider: llm.ProviderAzure, APIKey: "k", BaseURL: "https://x.openai.azure.com", Model: "gpt-4o"}, false},
		{"azure without endpoint", llm.ClientKey{Provider: llm.ProviderAzure, APIKey: "k"}, true},
		{"groq", llm.ClientKey{Provider: llm.ProviderGroq, APIKey: "k", BaseURL: llm.GroqBaseURL}, false},
		{"litellm without key", llm.ClientKey{Provider: llm.ProviderLiteLLM, BaseURL: llm.LiteLLMBaseURL}, false},
		{"mistral without key", llm.ClientKey{Provider: llm.ProviderMistral, BaseURL: llm.MistralBaseURL}, true},
		{"ollama", llm.ClientKey{Provider: llm.ProviderOllama, Host: llm.OllamaHost}, false},
		{"unknown", llm.ClientKey{Provider: "bedrock"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.key, zerolog.Nop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestFactory_Resolve(t *testing.T) {
	registry := llm.NewProviderRegistry(&llm.ProviderConfig{
		GroqAPIKey:    "gsk",
		DefaultModels: map[string]string{llm.ProviderGroq: "llama-3.1-8b-instant"},
	}, []string{llm.ProviderAnthropic, llm.ProviderGroq})
	f := NewFactory(zerolog.Nop(), llm.NewLoggingMiddleware(zerolog.Nop()))

	client, key, err := f.Resolve(registry, "", "")
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.Equal(t, llm.ProviderGroq, key.Provider)
	assert.Equal(t, llm.GroqBaseURL, key.BaseURL)

	_, _, err = f.Resolve(registry, llm.ProviderAnthropic, "")
	assert.Error(t, err, "anthropic is enabled but has no key")
}
