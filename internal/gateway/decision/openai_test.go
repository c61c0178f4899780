package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"binance-ai-trader-go/internal/models"
)

func nopLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

// TestExtractJSON verifies that the decision payload is recovered from the
// noisy shapes LLMs actually return.
func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{
			name:    "bare object",
			content: `{"decisions":[]}`,
			want:    `{"decisions":[]}`,
		},
		{
			name:    "markdown fenced",
			content: "Here you go:\n```json\n{\"decisions\":[]}\n```\nLet me know!",
			want:    `{"decisions":[]}`,
		},
		{
			name:    "no json at all",
			content: "I cannot make trading decisions.",
			wantErr: true,
		},
		{
			name:    "unbalanced braces",
			content: "}{",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractJSON(tc.content)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// TestToActionConversion verifies USDT sizing is converted into base units at
// the forecast price, and that junk decisions are dropped.
func TestToActionConversion(t *testing.T) {
	p := &OpenAIProvider{quoteAsset: "USDT", logger: nopLogger()}
	predictions := map[string]models.PredictionSnapshot{
		"BTCUSDT": {Symbol: "BTCUSDT", CurrentPrice: 50000},
	}

	a, ok := p.toAction(rawDecision{
		Symbol: "BTCUSDT", Action: "BUY", QuantityUSDT: 250, Reasoning: "momentum", Confidence: 0.8,
	}, predictions, nil)
	require.True(t, ok)
	assert.Equal(t, models.Buy, a.Side)
	assert.InDelta(t, 0.005, a.Quantity, 1e-9)
	assert.Equal(t, 50000.0, a.Price)
	assert.InDelta(t, 250, a.Notional(), 1e-9)

	// Unknown verbs are dropped, not guessed at.
	_, ok = p.toAction(rawDecision{Symbol: "BTCUSDT", Action: "yolo"}, predictions, nil)
	assert.False(t, ok)

	// A tradable decision without any reference price is dropped too.
	_, ok = p.toAction(rawDecision{Symbol: "DOGEUSDT", Action: "buy", QuantityUSDT: 100}, predictions, nil)
	assert.False(t, ok)

	// Holds survive without a price.
	a, ok = p.toAction(rawDecision{Symbol: "DOGEUSDT", Action: "hold"}, predictions, nil)
	require.True(t, ok)
	assert.Equal(t, models.Hold, a.Side)
	assert.Zero(t, a.Quantity)
}
