package openai

// PricingMode selects which rate table prices a request
type PricingMode string

const (
	// PricingSync is the standard per-request rate table
	PricingSync PricingMode = "sync"
	// PricingBatch is the discounted batch-endpoint rate table
	PricingBatch PricingMode = "batch"
)

// ModelPricing contains per-token pricing information for a model.
// Prices are in USD per million tokens.
type ModelPricing struct {
	InputPrice  float64 // USD per 1M input tokens
	OutputPrice float64 // USD per 1M output tokens
}

// syncPricing contains standard (synchronous) pricing.
// Source: https://openai.com/api/pricing
var syncPricing = map[string]ModelPricing{
	"gpt-4o": {
		InputPrice:  2.50,
		OutputPrice: 10.00,
	},
	"gpt-4o-mini": {
		InputPrice:  0.15,
		OutputPrice: 0.60,
	},
	"gpt-4.1": {
		InputPrice:  2.00,
		OutputPrice: 8.00,
	},
	"gpt-4.1-mini": {
		InputPrice:  0.40,
		OutputPrice: 1.60,
	},
	"gpt-4.1-nano": {
		InputPrice:  0.10,
		OutputPrice: 0.40,
	},
	"o3-mini": {
		InputPrice:  1.10,
		OutputPrice: 4.40,
	},
}

// batchPricing contains the batch-endpoint rates (50% of standard).
var batchPricing = map[string]ModelPricing{
	"gpt-4o": {
		InputPrice:  1.25,
		OutputPrice: 5.00,
	},
	"gpt-4o-mini": {
		InputPrice:  0.075,
		OutputPrice: 0.30,
	},
	"gpt-4.1": {
		InputPrice:  1.00,
		OutputPrice: 4.00,
	},
	"gpt-4.1-mini": {
		InputPrice:  0.20,
		OutputPrice: 0.80,
	},
	"gpt-4.1-nano": {
		InputPrice:  0.05,
		OutputPrice: 0.20,
	},
	"o3-mini": {
		InputPrice:  0.55,
		OutputPrice: 2.20,
	},
}

// DefaultPricingFallback is the fallback cost per request when model pricing
// is unknown. Conservative one-cent estimate.
const DefaultPricingFallback = 0.01

// CalculateCost computes the cost of an API call based on token usage.
// Returns cost in USD.
func CalculateCost(model string, mode PricingMode, inputTokens, outputTokens int) float64 {
	pricing, found := GetPricing(model, mode)
	if !found {
		return DefaultPricingFallback
	}

	inputCost := (float64(inputTokens) / 1_000_000.0) * pricing.InputPrice
	outputCost := (float64(outputTokens) / 1_000_000.0) * pricing.OutputPrice

	return inputCost + outputCost
}

// GetPricing returns pricing information for a model under a mode, if available
func GetPricing(model string, mode PricingMode) (ModelPricing, bool) {
	table := syncPricing
	if mode == PricingBatch {
		table = batchPricing
	}
	pricing, found := table[model]
	return pricing, found
}
