// Package cost prices LLM usage in fixed-point decimal. All engine
// cost arithmetic carries six fractional digits; float64 is never used
// for money so that totals are exact and reproducible across runs.
package cost

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/genflow/workflow-engine/graph"
)

// Places is the fixed number of fractional digits every cost value is
// rounded to before it is accumulated or persisted.
const Places = 6

// Round normalises d to the engine's fixed-point precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// ModelPricing holds a model's USD price per one million tokens.
type ModelPricing struct {
	InputPer1M  decimal.Decimal
	OutputPer1M decimal.Decimal
}

// Pricing maps model identifiers to their token prices. Safe for
// concurrent readers; SetModel is intended for startup configuration
// and test overrides only.
type Pricing struct {
	mu     sync.RWMutex
	models map[string]ModelPricing
}

func price(in, out string) ModelPricing {
	return ModelPricing{
		InputPer1M:  decimal.RequireFromString(in),
		OutputPer1M: decimal.RequireFromString(out),
	}
}

// DefaultPricing returns the built-in price table for the major hosted
// providers. Prices are USD per 1M tokens and drift as providers adjust
// their lists; deployments with negotiated rates override per model.
func DefaultPricing() *Pricing {
	return &Pricing{models: map[string]ModelPricing{
		"gpt-4o":                     price("2.50", "10.00"),
		"gpt-4o-2024-08-06":          price("2.50", "10.00"),
		"gpt-4o-mini":                price("0.15", "0.60"),
		"gpt-4-turbo":                price("10.00", "30.00"),
		"gpt-3.5-turbo":              price("0.50", "1.50"),
		"claude-3-5-sonnet-20241022": price("3.00", "15.00"),
		"claude-3.5-sonnet":          price("3.00", "15.00"),
		"claude-3-opus":              price("15.00", "75.00"),
		"claude-3-haiku":             price("0.25", "1.25"),
		"gemini-1.5-pro":             price("1.25", "5.00"),
		"gemini-1.5-flash":           price("0.075", "0.30"),
		"text-embedding-3-small":     price("0.02", "0"),
		"text-embedding-3-large":     price("0.13", "0"),
	}}
}

// SetModel installs or replaces the price entry for model.
func (p *Pricing) SetModel(model string, mp ModelPricing) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.models == nil {
		p.models = make(map[string]ModelPricing)
	}
	p.models[model] = mp
}

var oneMillion = decimal.NewFromInt(1_000_000)

// Cost prices usage against model's table entry. Unknown models cost
// zero: the engine still accounts tokens, it just cannot price them.
func (p *Pricing) Cost(model string, usage graph.TokenUsage) decimal.Decimal {
	p.mu.RLock()
	mp, ok := p.models[model]
	p.mu.RUnlock()
	if !ok {
		return decimal.Zero
	}
	in := decimal.NewFromInt(usage.Prompt).Mul(mp.InputPer1M).Div(oneMillion)
	out := decimal.NewFromInt(usage.Completion).Mul(mp.OutputPer1M).Div(oneMillion)
	return Round(in.Add(out))
}

// Known reports whether model has a price entry.
func (p *Pricing) Known(model string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.models[model]
	return ok
}
