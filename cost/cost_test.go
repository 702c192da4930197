package cost

import (
	"testing"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate_EveryPricedModel(t *testing.T) {
	for provider, models := range tables() {
		for model, price := range models {
			got, ok := Calculate(provider, model, 1_000_000, 1_000_000)
			require.True(t, ok, "%s/%s", provider, model)
			assert.InDelta(t, price.Input+price.Output, got, 1e-9, "%s/%s", provider, model)
		}
	}
}

func TestCalculate_Unknown(t *testing.T) {
	for _, tc := range [][2]string{
		{llm.ProviderOpenAI, "gpt-99"},
		{"nope", "gpt-4o"},
		{llm.ProviderOllama, "llama3.2"},
		{"", ""},
	} {
		got, ok := Calculate(tc[0], tc[1], 100, 100)
		assert.False(t, ok, "%v", tc)
		assert.Zero(t, got)
	}
}

func TestCalculate_Value(t *testing.T) {
	got, ok := Calculate(llm.ProviderOpenAI, "gpt-4o-mini", 1000, 500)
	require.True(t, ok)
	assert.InDelta(t, (1000*0.15+500*0.60)/1e6, got, 1e-12)
}

func TestLookup_Aliases(t *testing.T) {
	openai, ok := Lookup(llm.ProviderOpenAI, "gpt-4o")
	require.True(t, ok)

	azure, ok := Lookup(llm.ProviderAzure, "gpt-4o")
	require.True(t, ok)
	assert.Equal(t, openai, azure)

	lite, ok := Lookup(llm.ProviderLiteLLM, "gpt-4o")
	require.True(t, ok)
	assert.Equal(t, openai, lite)

	prefixed, ok := Lookup(llm.ProviderLiteLLM, "anthropic/claude-3-5-haiku-latest")
	require.True(t, ok)
	assert.Equal(t, 0.80, prefixed.Input)

	vertex, ok := Lookup(llm.ProviderVertex, "gemini-1.5-flash")
	require.True(t, ok)
	assert.Equal(t, 0.075, vertex.Input)
}

func TestModelsAndProviders(t *testing.T) {
	assert.Contains(t, Providers(), llm.ProviderAnthropic)
	models := Models(llm.ProviderAzure)
	assert.Contains(t, models, "gpt-4o")
	assert.IsNonDecreasing(t, models)
}
