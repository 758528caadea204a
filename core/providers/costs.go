package providers

import (
	"sync"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
)

// modelPrice is USD per million tokens, or per image/minute for the
// flat-priced modalities.
type modelPrice struct {
	InputPerMTok  float64
	OutputPerMTok float64
	PerImage      float64
	PerMinute     float64
}

// Published list prices. Unknown models cost zero rather than guessing.
var modelPrices = map[string]modelPrice{
	"claude-opus-4-5-20251101":   {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"claude-sonnet-4-5-20250901": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-haiku-4-5-20251001":  {InputPerMTok: 0.80, OutputPerMTok: 4.00},

	"gpt-4.1-mini":    {InputPerMTok: 0.40, OutputPerMTok: 1.60},
	"gpt-4.1":         {InputPerMTok: 2.00, OutputPerMTok: 8.00},
	"gpt-image-1":     {PerImage: 0.042},
	"gpt-4o-mini-tts": {PerMinute: 0.015},

	"gemini-2.0-flash": {InputPerMTok: 0.10, OutputPerMTok: 0.40},
}

// EstimateCost prices a result by its model's token usage, or flat
// rate for image and audio output.
func EstimateCost(model string, capability Capability, usage artifact.Usage, audioSeconds float64) float64 {
	price, ok := modelPrices[model]
	if !ok {
		return 0
	}

	switch capability {
	case CapabilityImage:
		return price.PerImage
	case CapabilityAudio:
		return price.PerMinute * audioSeconds / 60
	default:
		return float64(usage.TokensIn)/1e6*price.InputPerMTok +
			float64(usage.TokensOut)/1e6*price.OutputPerMTok
	}
}

// CostLedger accumulates spend per provider across a run.
type CostLedger struct {
	mu         sync.Mutex
	byProvider map[string]float64
	calls      int64
}

// NewCostLedger creates an empty ledger.
func NewCostLedger() *CostLedger {
	return &CostLedger{byProvider: make(map[string]float64)}
}

// Add records one call's cost against the provider.
func (l *CostLedger) Add(provider string, costUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byProvider[provider] += costUSD
	l.calls++
}

// Total returns the accumulated spend across providers.
func (l *CostLedger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for _, v := range l.byProvider {
		total += v
	}
	return total
}

// ByProvider returns a copy of per-provider spend.
func (l *CostLedger) ByProvider() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]float64, len(l.byProvider))
	for k, v := range l.byProvider {
		out[k] = v
	}
	return out
}

// Calls returns how many priced calls the ledger has seen.
func (l *CostLedger) Calls() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}
