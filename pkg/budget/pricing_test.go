package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

func TestPriceFor_CustomOverridesBuiltin(t *testing.T) {
	custom := map[string]models.ModelPrice{
		"gpt-4o": {InputPer1K: 1, OutputPer1K: 2},
	}
	p := PriceFor("gpt-4o", custom)
	assert.Equal(t, 1.0, p.InputPer1K)
	assert.Equal(t, 2.0, p.OutputPer1K)
}

func TestPriceFor_DatedVariantMatchesBase(t *testing.T) {
	p := PriceFor("claude-3-5-sonnet-20241022", nil)
	assert.Equal(t, builtinPrices["claude-3-5-sonnet"], p)
}

func TestPriceFor_UnknownModelGetsFallback(t *testing.T) {
	p := PriceFor("some-experimental-model", nil)
	assert.Equal(t, fallbackPrice, p)
}

func TestEstimateCost_AssumesCompletionOvershoot(t *testing.T) {
	price := models.ModelPrice{InputPer1K: 0.01, OutputPer1K: 0.02}
	// 2000 prompt tokens: 2*0.01 input + 1.5*2*0.02 assumed output.
	assert.InDelta(t, 0.08, EstimateCost(price, 2000), 1e-9)
}

func TestFinalCost_UsesReportedTokens(t *testing.T) {
	price := models.ModelPrice{InputPer1K: 0.01, OutputPer1K: 0.02}
	assert.InDelta(t, 0.05, FinalCost(price, 1000, 2000), 1e-9)
}
