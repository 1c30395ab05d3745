package summarize

// ModelPricing holds per-model token prices in USD per million tokens.
type ModelPricing struct {
	InputPrice  float64
	OutputPrice float64
}

// DefaultPricingFallback is the per-call cost assumed for models with no
// pricing entry.
const DefaultPricingFallback = 0.01

// modelPricing covers the Anthropic models we expect to see. Prices are
// USD per 1M tokens.
var modelPricing = map[string]ModelPricing{
	"claude-sonnet-4-20250514": {InputPrice: 3.00, OutputPrice: 15.00},
	"claude-opus-4-20250514":   {InputPrice: 15.00, OutputPrice: 75.00},

	"claude-3-5-sonnet-20241022": {InputPrice: 3.00, OutputPrice: 15.00},
	"claude-3-5-sonnet-latest":   {InputPrice: 3.00, OutputPrice: 15.00},
	"claude-3-5-haiku-20241022":  {InputPrice: 0.80, OutputPrice: 4.00},
	"claude-3-5-haiku-latest":    {InputPrice: 0.80, OutputPrice: 4.00},

	"claude-3-opus-20240229":   {InputPrice: 15.00, OutputPrice: 75.00},
	"claude-3-sonnet-20240229": {InputPrice: 3.00, OutputPrice: 15.00},
	"claude-3-haiku-20240307":  {InputPrice: 0.25, OutputPrice: 1.25},

	// Aliases without date suffixes.
	"claude-sonnet-4": {InputPrice: 3.00, OutputPrice: 15.00},
	"claude-opus-4":   {InputPrice: 15.00, OutputPrice: 75.00},
}

// GetPricing returns the pricing for a model and whether it was found.
func GetPricing(model string) (ModelPricing, bool) {
	p, ok := modelPricing[model]
	return p, ok
}

// CalculateCost computes the USD cost of a call. Unknown models fall
// back to a flat per-call estimate so budget tracking still sees spend.
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	p, ok := modelPricing[model]
	if !ok {
		return DefaultPricingFallback
	}
	inputCost := float64(promptTokens) / 1_000_000 * p.InputPrice
	outputCost := float64(completionTokens) / 1_000_000 * p.OutputPrice
	return inputCost + outputCost
}
