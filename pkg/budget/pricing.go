// Package budget implements the AI-call ledger and the admission gate that
// enforces daily spending limits. Costs are always computed server-side from
// the pricing table; client-reported costs are never trusted.
package budget

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

// builtinPrices holds USD per 1000 tokens for the models the platform
// routinely invokes. Admin-supplied custom prices take precedence.
var builtinPrices = map[string]models.ModelPrice{
	"gemini-1.5-flash":  {InputPer1K: 0.000075, OutputPer1K: 0.0003},
	"gemini-2.5-flash":  {InputPer1K: 0.0003, OutputPer1K: 0.0025},
	"gemini-2.5-pro":    {InputPer1K: 0.00125, OutputPer1K: 0.01},
	"gpt-4o":            {InputPer1K: 0.005, OutputPer1K: 0.015},
	"gpt-4o-mini":       {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"claude-3-5-sonnet": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-5-haiku":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
}

// fallbackPrice covers unknown models so usage is still recorded rather than
// dropped. Deliberately mid-range.
var fallbackPrice = models.ModelPrice{InputPer1K: 0.001, OutputPer1K: 0.002}

// PriceFor resolves the price for a model name. Custom prices win over the
// builtin table. Dated model variants ("claude-3-5-sonnet-20241022") match
// their base entry by longest prefix. Unknown models get the fallback price
// and a warning so operators notice the gap.
func PriceFor(model string, custom map[string]models.ModelPrice) models.ModelPrice {
	if p, ok := lookupPrice(model, custom); ok {
		return p
	}
	if p, ok := lookupPrice(model, builtinPrices); ok {
		return p
	}
	slog.Warn("model not priced, using fallback rate",
		"model", model,
		"input_per_1k", fallbackPrice.InputPer1K,
		"output_per_1k", fallbackPrice.OutputPer1K)
	return fallbackPrice
}

func lookupPrice(model string, table map[string]models.ModelPrice) (models.ModelPrice, bool) {
	if table == nil {
		return models.ModelPrice{}, false
	}
	if p, ok := table[model]; ok {
		return p, true
	}

	// Longest-prefix match, scanned in deterministic order.
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		if strings.HasPrefix(model, k) {
			return table[k], true
		}
	}
	return models.ModelPrice{}, false
}

// EstimateCost projects a call's cost before the completion exists. The
// completion is assumed to run 1.5x the prompt length, which overshoots for
// most generation prompts; reservations err on the conservative side.
func EstimateCost(price models.ModelPrice, promptTokens int) float64 {
	pt := float64(promptTokens) / 1000
	return pt*price.InputPer1K + 1.5*pt*price.OutputPer1K
}

// FinalCost computes the exact cost from reported token counts.
func FinalCost(price models.ModelPrice, promptTokens, completionTokens int) float64 {
	input, output := CostBreakdown(price, promptTokens, completionTokens)
	return input + output
}

// CostBreakdown splits the exact cost into its input and output components.
func CostBreakdown(price models.ModelPrice, promptTokens, completionTokens int) (inputUSD, outputUSD float64) {
	return float64(promptTokens) / 1000 * price.InputPer1K,
		float64(completionTokens) / 1000 * price.OutputPer1K
}
