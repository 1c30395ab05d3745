package summarize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qacompanion/qac/config"
)

func TestNewProvider(t *testing.T) {
	t.Run("local inference wins when enabled", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.LocalInference.Enabled = true
		cfg.Anthropic.APIKey = "also-set"

		p, err := NewProvider(cfg)
		require.NoError(t, err)
		assert.Equal(t, "local", p.Name())
	})

	t.Run("anthropic with api key", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Anthropic.APIKey = "sk-test"

		p, err := NewProvider(cfg)
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Name())
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := NewProvider(&config.Config{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no summarization provider configured")
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewProvider(nil)
		require.Error(t, err)
	})
}

func TestCalculateCost(t *testing.T) {
	// claude-sonnet-4 is $3/M input, $15/M output.
	cost := CalculateCost("claude-sonnet-4-20250514", 200_000, 10_000)
	assert.InDelta(t, 0.75, cost, 1e-9)

	cost = CalculateCost("claude-3-haiku-20240307", 1_000_000, 0)
	assert.InDelta(t, 0.25, cost, 1e-9)

	// Unknown models charge the flat fallback so spend is never invisible.
	cost = CalculateCost("mystery-model", 1_000_000, 1_000_000)
	assert.InDelta(t, DefaultPricingFallback, cost, 1e-9)
}

func TestGetPricing(t *testing.T) {
	p, ok := GetPricing("claude-opus-4-20250514")
	require.True(t, ok)
	assert.InDelta(t, 15.0, p.InputPrice, 1e-9)
	assert.InDelta(t, 75.0, p.OutputPrice, 1e-9)

	_, ok = GetPricing("not-a-model")
	assert.False(t, ok)
}
