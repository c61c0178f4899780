package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"binance-ai-trader-go/internal/models"
)

func newTestSimulator(balance float64) *Simulator {
	return NewSimulator("USDT", balance, zap.NewNop().Sugar())
}

func action(symbol string, side models.Side, quantity, price float64) models.ProposedAction {
	return models.ProposedAction{Symbol: symbol, Side: side, Quantity: quantity, Price: price}
}

// TestSimulatorBuyAndSell walks a position through open, partial close and
// full close, checking balances and average entry price along the way.
func TestSimulatorBuyAndSell(t *testing.T) {
	sim := newTestSimulator(10000)
	ctx := context.Background()

	record := sim.Execute(ctx, action("BTCUSDT", models.Buy, 0.1, 50000))
	require.Equal(t, models.TradeSuccess, record.Status)
	assert.Equal(t, 5000.0, record.Notional)
	assert.NotEmpty(t, record.OrderID)

	positions, err := sim.GetPositions(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, positions["BTC"].FreeAmount, 1e-9)
	assert.InDelta(t, 50000, positions["BTC"].AvgEntryPrice, 1e-9)
	// 5000 notional plus 0.1% fee comes off the quote balance.
	assert.InDelta(t, 10000-5000-5, positions["USDT"].FreeAmount, 1e-9)

	// A second buy at a higher price moves the average entry up.
	record = sim.Execute(ctx, action("BTCUSDT", models.Buy, 0.1, 60000))
	require.Equal(t, models.TradeSuccess, record.Status)
	positions, _ = sim.GetPositions(ctx)
	assert.InDelta(t, 55000, positions["BTC"].AvgEntryPrice, 1e-6)

	// Selling everything clears the position and its entry price.
	record = sim.Execute(ctx, action("BTCUSDT", models.Sell, 0.2, 60000))
	require.Equal(t, models.TradeSuccess, record.Status)
	positions, _ = sim.GetPositions(ctx)
	_, held := positions["BTC"]
	assert.False(t, held, "a fully closed position disappears")
}

// TestSimulatorInsufficientFunds verifies that rejected orders come back as
// failed trade records, never as errors.
func TestSimulatorInsufficientFunds(t *testing.T) {
	sim := newTestSimulator(100)
	ctx := context.Background()

	record := sim.Execute(ctx, action("BTCUSDT", models.Buy, 1, 50000))
	assert.Equal(t, models.TradeFailed, record.Status)
	assert.NotEmpty(t, record.Reason)

	record = sim.Execute(ctx, action("ETHUSDT", models.Sell, 1, 2000))
	assert.Equal(t, models.TradeFailed, record.Status, "selling an unheld asset fails")

	// The failed orders must not have touched the balance.
	positions, err := sim.GetPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, positions["USDT"].FreeAmount)
}

// TestSimulatorRejectsBadActions verifies quantity and side validation.
func TestSimulatorRejectsBadActions(t *testing.T) {
	sim := newTestSimulator(1000)
	ctx := context.Background()

	record := sim.Execute(ctx, action("BTCUSDT", models.Hold, 0, 0))
	assert.Equal(t, models.TradeFailed, record.Status)

	record = sim.Execute(ctx, action("BTCUSDT", models.Buy, 0, 50000))
	assert.Equal(t, models.TradeFailed, record.Status)

	record = sim.Execute(ctx, action("BTCUSDT", models.Buy, 0.01, 0))
	assert.Equal(t, models.TradeFailed, record.Status)
}

// TestSimulatorMarkPrice verifies that marked prices drive position valuation.
func TestSimulatorMarkPrice(t *testing.T) {
	sim := newTestSimulator(10000)
	ctx := context.Background()

	record := sim.Execute(ctx, action("ETHUSDT", models.Buy, 1, 2000))
	require.Equal(t, models.TradeSuccess, record.Status)

	sim.MarkPrice("ETHUSDT", 2500)

	positions, err := sim.GetPositions(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2500, positions["ETH"].LastPrice, 1e-9)
	assert.InDelta(t, 2500, positions["ETH"].USDValue, 1e-9)
}
