// Package cost prices calls from static per-provider tables.
//
// The tables are embedded and parsed once. Lookups for a provider or model
// that is not listed report false; they never fail.
package cost

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

//go:embed pricing.yaml
var pricingYAML []byte

// Price is a model's rate in USD per million tokens.
type Price struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Table maps provider to model to price.
type Table map[string]map[string]Price

var tables = sync.OnceValue(func() Table {
	var t Table
	if err := yaml.Unmarshal(pricingYAML, &t); err != nil {
		panic(fmt.Sprintf("cost: embedded pricing table: %v", err))
	}
	return t
})

// tableAlias lists providers that bill at another provider's rates.
var tableAlias = map[string]string{
	llm.ProviderAzure: llm.ProviderOpenAI,
}

// Lookup returns the price of model on provider.
//
// Azure uses the OpenAI table. LiteLLM searches every table; a model
// written as "provider/model" is looked up in that provider's table first.
// Vertex model names may omit the "google/" publisher prefix.
func Lookup(provider, model string) (Price, bool) {
	t := tables()
	provider = strings.ToLower(provider)
	if alias, ok := tableAlias[provider]; ok {
		provider = alias
	}

	switch provider {
	case llm.ProviderLiteLLM:
		return lookupAny(t, model)
	case llm.ProviderVertex:
		if p, ok := t[provider][model]; ok {
			return p, true
		}
		p, ok := t[provider]["google/"+model]
		return p, ok
	default:
		p, ok := t[provider][model]
		return p, ok
	}
}

func lookupAny(t Table, model string) (Price, bool) {
	if prefix, name, found := strings.Cut(model, "/"); found {
		if p, ok := Lookup(prefix, name); ok {
			return p, true
		}
	}
	for _, provider := range Providers() {
		if p, ok := t[provider][model]; ok {
			return p, true
		}
	}
	return Price{}, false
}

// Calculate returns the USD cost of a call, or false when the model is not
// priced.
func Calculate(provider, model string, inputTokens, outputTokens int64) (float64, bool) {
	p, ok := Lookup(provider, model)
	if !ok {
		return 0, false
	}
	return p.Cost(inputTokens, outputTokens), true
}

// Cost applies the price to token counts.
func (p Price) Cost(inputTokens, outputTokens int64) float64 {
	return (float64(inputTokens)*p.Input + float64(outputTokens)*p.Output) / 1_000_000
}

// Models returns the priced models of a provider, sorted.
func Models(provider string) []string {
	if alias, ok := tableAlias[provider]; ok {
		provider = alias
	}
	models := lo.Keys(tables()[provider])
	sort.Strings(models)
	return models
}

// Providers returns the providers with a pricing table, sorted.
func Providers() []string {
	providers := lo.Keys(tables())
	sort.Strings(providers)
	return providers
}
