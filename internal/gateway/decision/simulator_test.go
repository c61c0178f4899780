package decision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-ai-trader-go/internal/models"
)

func pred(symbol string, upside, price float64) models.PredictionSnapshot {
	return models.PredictionSnapshot{Symbol: symbol, UpsideProbability: upside, CurrentPrice: price}
}

// TestSimulatorThresholds verifies the three decision branches: strong upside
// buys, weak upside with a holding sells, anything else holds.
func TestSimulatorThresholds(t *testing.T) {
	sim := NewSimulator(0.60, 0.40, 100, "USDT")

	predictions := map[string]models.PredictionSnapshot{
		"BTCUSDT": pred("BTCUSDT", 0.75, 50000), // above buy threshold
		"ETHUSDT": pred("ETHUSDT", 0.30, 2000),  // below sell threshold, held
		"SOLUSDT": pred("SOLUSDT", 0.50, 150),   // in the dead zone
		"BNBUSDT": pred("BNBUSDT", 0.30, 600),   // weak but nothing to sell
	}
	positions := map[string]models.Position{
		"ETH": {Asset: "ETH", FreeAmount: 2, LastPrice: 2000, USDValue: 4000},
	}

	actions, err := sim.Propose(context.Background(), predictions, positions, 5000)
	require.NoError(t, err)
	require.Len(t, actions, 4)

	bySymbol := make(map[string]models.ProposedAction, len(actions))
	for _, a := range actions {
		bySymbol[a.Symbol] = a
	}

	assert.Equal(t, models.Buy, bySymbol["BTCUSDT"].Side)
	assert.InDelta(t, 100.0/50000, bySymbol["BTCUSDT"].Quantity, 1e-9, "buy size targets the configured notional")

	assert.Equal(t, models.Sell, bySymbol["ETHUSDT"].Side)
	assert.Equal(t, models.Hold, bySymbol["SOLUSDT"].Side)
	assert.Equal(t, models.Hold, bySymbol["BNBUSDT"].Side, "nothing held means nothing to sell")
}

// TestSimulatorSellCappedAtHolding verifies that a sell never exceeds the
// held amount.
func TestSimulatorSellCappedAtHolding(t *testing.T) {
	sim := NewSimulator(0.60, 0.40, 1000, "USDT")

	predictions := map[string]models.PredictionSnapshot{
		"ETHUSDT": pred("ETHUSDT", 0.20, 2000),
	}
	positions := map[string]models.Position{
		"ETH": {Asset: "ETH", FreeAmount: 0.1, LastPrice: 2000, USDValue: 200},
	}

	actions, err := sim.Propose(context.Background(), predictions, positions, 0)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.Sell, actions[0].Side)
	assert.InDelta(t, 0.1, actions[0].Quantity, 1e-9)
}

// TestSimulatorDeterministicOrder verifies a stable, sorted action order.
func TestSimulatorDeterministicOrder(t *testing.T) {
	sim := NewSimulator(0, 0, 0, "")

	predictions := map[string]models.PredictionSnapshot{
		"ETHUSDT": pred("ETHUSDT", 0.5, 2000),
		"BTCUSDT": pred("BTCUSDT", 0.5, 50000),
		"SOLUSDT": pred("SOLUSDT", 0.5, 150),
	}

	actions, err := sim.Propose(context.Background(), predictions, nil, 0)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, "BTCUSDT", actions[0].Symbol)
	assert.Equal(t, "ETHUSDT", actions[1].Symbol)
	assert.Equal(t, "SOLUSDT", actions[2].Symbol)
}
