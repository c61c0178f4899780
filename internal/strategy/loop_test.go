package strategy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"binance-ai-trader-go/internal/gateway"
	"binance-ai-trader-go/internal/models"
	"binance-ai-trader-go/internal/risk"
	"binance-ai-trader-go/internal/statestore"
)

// fakeForecasts serves canned predictions and fails listed symbols.
type fakeForecasts struct {
	snapshots map[string]models.PredictionSnapshot
	fail      map[string]bool
}

func (f *fakeForecasts) Get(_ context.Context, symbol string) (models.PredictionSnapshot, error) {
	if f.fail[symbol] {
		return models.PredictionSnapshot{}, gateway.NewError("forecast.get", errors.New("service unavailable"))
	}
	return f.snapshots[symbol], nil
}

// fakeDecisions returns a fixed action list or a fixed error.
type fakeDecisions struct {
	actions []models.ProposedAction
	err     error
	calls   int
}

func (f *fakeDecisions) Propose(_ context.Context, _ map[string]models.PredictionSnapshot,
	_ map[string]models.Position, _ float64) ([]models.ProposedAction, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.actions, nil
}

// fakeExchange tracks executed actions and fills everything at the proposal price.
type fakeExchange struct {
	mu        sync.Mutex
	positions map[string]models.Position
	executed  []models.ProposedAction
	posErr    error
}

func (f *fakeExchange) GetPositions(_ context.Context) (map[string]models.Position, error) {
	if f.posErr != nil {
		return nil, f.posErr
	}
	out := make(map[string]models.Position, len(f.positions))
	for k, v := range f.positions {
		out[k] = v
	}
	return out, nil
}

func (f *fakeExchange) Execute(_ context.Context, action models.ProposedAction) models.TradeRecord {
	f.mu.Lock()
	f.executed = append(f.executed, action)
	f.mu.Unlock()
	return models.TradeRecord{
		Timestamp: time.Now(),
		Symbol:    action.Symbol,
		Side:      action.Side,
		Quantity:  action.Quantity,
		Price:     action.Price,
		Notional:  action.Notional(),
		Status:    models.TradeSuccess,
		OrderID:   "fake-1",
	}
}

func (f *fakeExchange) executedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

// fakePublisher records the snapshots it receives.
type fakePublisher struct {
	mu    sync.Mutex
	snaps []models.Snapshot
}

func (f *fakePublisher) Publish(snap models.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snaps)
}

func prediction(symbol string, upside, price float64) models.PredictionSnapshot {
	return models.PredictionSnapshot{
		Symbol:            symbol,
		UpsideProbability: upside,
		CurrentPrice:      price,
		FetchedAt:         time.Now(),
	}
}

func testPolicy() models.RiskConfig {
	return models.RiskConfig{
		MinTradeNotional:      50,
		MaxTradeNotional:      500,
		MaxTotalExposureRatio: 0.80,
		MaxSingleAssetRatio:   0.30,
		StopLossRatio:         0.05,
	}
}

func newTestLoop(store *statestore.Store, forecasts gateway.ForecastProvider,
	decisions gateway.DecisionProvider, venue gateway.Exchange, pub Publisher) *Loop {
	return New(Options{
		Symbols:        []string{"BTCUSDT", "ETHUSDT"},
		QuoteAsset:     "USDT",
		Period:         time.Hour,
		CallTimeout:    time.Second,
		RetryAttempts:  2,
		RetryInitDelay: time.Millisecond,
	}, store, forecasts, decisions, venue, risk.NewEvaluator(testPolicy(), "USDT"),
		pub, nil, zap.NewNop().Sugar())
}

func startingPositions() map[string]models.Position {
	return map[string]models.Position{
		"USDT": {Asset: "USDT", FreeAmount: 10000, LastPrice: 1, USDValue: 10000},
	}
}

// TestCycleHappyPath runs one full cycle: forecasts for both symbols, one
// approved buy, and a published snapshot at the end.
func TestCycleHappyPath(t *testing.T) {
	store := statestore.New(statestore.Options{}, nil, zap.NewNop().Sugar())
	forecasts := &fakeForecasts{snapshots: map[string]models.PredictionSnapshot{
		"BTCUSDT": prediction("BTCUSDT", 0.7, 50000),
		"ETHUSDT": prediction("ETHUSDT", 0.5, 2000),
	}}
	decisions := &fakeDecisions{actions: []models.ProposedAction{
		{Symbol: "BTCUSDT", Side: models.Buy, Quantity: 0.002, Price: 50000, Rationale: "strong upside"},
		{Symbol: "ETHUSDT", Side: models.Hold},
	}}
	venue := &fakeExchange{positions: startingPositions()}
	pub := &fakePublisher{}

	loop := newTestLoop(store, forecasts, decisions, venue, pub)
	loop.runCycle()

	snap := store.Read()
	assert.Len(t, snap.Predictions, 2)
	require.Len(t, snap.Trades, 1)
	assert.Equal(t, "BTCUSDT", snap.Trades[0].Symbol)
	assert.Equal(t, models.TradeSuccess, snap.Trades[0].Status)
	assert.Equal(t, 1, venue.executedCount(), "exactly the approved actions reach the venue")

	assert.Equal(t, int64(1), snap.Status.CycleCount)
	assert.Equal(t, int64(0), snap.Status.ErrorCount)
	assert.False(t, snap.Status.IsRunning)
	assert.Empty(t, snap.Status.LastError)
	assert.False(t, snap.Status.NextRunAt.IsZero())

	assert.Equal(t, 1, pub.count(), "one snapshot per completed cycle")
}

// TestForecastDegradation verifies that a single failing symbol is skipped
// with a warning while the cycle still completes.
func TestForecastDegradation(t *testing.T) {
	store := statestore.New(statestore.Options{}, nil, zap.NewNop().Sugar())
	forecasts := &fakeForecasts{
		snapshots: map[string]models.PredictionSnapshot{
			"BTCUSDT": prediction("BTCUSDT", 0.7, 50000),
		},
		fail: map[string]bool{"ETHUSDT": true},
	}
	decisions := &fakeDecisions{}
	venue := &fakeExchange{positions: startingPositions()}

	loop := newTestLoop(store, forecasts, decisions, venue, &fakePublisher{})
	loop.runCycle()

	snap := store.Read()
	assert.Len(t, snap.Predictions, 1, "the failed symbol must be absent")
	assert.Contains(t, snap.Predictions, "BTCUSDT")
	assert.Equal(t, int64(1), snap.Status.CycleCount)
	assert.Equal(t, int64(0), snap.Status.ErrorCount, "degradation is not a cycle failure")

	var warned bool
	for _, entry := range snap.Logs {
		if entry.Level == models.LevelWarning && strings.Contains(entry.Message, "ETHUSDT") {
			warned = true
		}
	}
	assert.True(t, warned, "the skipped symbol must be visible in the strategy logs")
}

// TestDecisionFailureAbortsCycle verifies that an exhausted decision retry
// fails the whole cycle with zero trades.
func TestDecisionFailureAbortsCycle(t *testing.T) {
	store := statestore.New(statestore.Options{}, nil, zap.NewNop().Sugar())
	forecasts := &fakeForecasts{snapshots: map[string]models.PredictionSnapshot{
		"BTCUSDT": prediction("BTCUSDT", 0.7, 50000),
		"ETHUSDT": prediction("ETHUSDT", 0.5, 2000),
	}}
	decisions := &fakeDecisions{err: gateway.NewError("decision.propose", errors.New("llm timeout"))}
	venue := &fakeExchange{positions: startingPositions()}

	loop := newTestLoop(store, forecasts, decisions, venue, &fakePublisher{})
	loop.runCycle()

	snap := store.Read()
	assert.Empty(t, snap.Trades, "a failed cycle must not place orders")
	assert.Zero(t, venue.executedCount())
	assert.Equal(t, int64(1), snap.Status.CycleCount, "a failed cycle still counts as completed")
	assert.Equal(t, int64(1), snap.Status.ErrorCount)
	assert.NotEmpty(t, snap.Status.LastError)
	assert.False(t, snap.Status.IsRunning)
	assert.Equal(t, 2, decisions.calls, "the decision call is retried before giving up")
}

// TestAllForecastsFailedFailsCycle verifies that losing every symbol aborts
// the cycle instead of proposing on an empty forecast set.
func TestAllForecastsFailedFailsCycle(t *testing.T) {
	store := statestore.New(statestore.Options{}, nil, zap.NewNop().Sugar())
	forecasts := &fakeForecasts{fail: map[string]bool{"BTCUSDT": true, "ETHUSDT": true}}
	decisions := &fakeDecisions{}
	venue := &fakeExchange{positions: startingPositions()}

	loop := newTestLoop(store, forecasts, decisions, venue, &fakePublisher{})
	loop.runCycle()

	snap := store.Read()
	assert.Equal(t, int64(1), snap.Status.ErrorCount)
	assert.NotEmpty(t, snap.Status.LastError)
	assert.Zero(t, decisions.calls, "no decision call without any forecast")
}

// TestRejectedActionNotExecuted verifies that risk rejections never reach the
// venue and leave a warning in the logs.
func TestRejectedActionNotExecuted(t *testing.T) {
	store := statestore.New(statestore.Options{}, nil, zap.NewNop().Sugar())
	forecasts := &fakeForecasts{snapshots: map[string]models.PredictionSnapshot{
		"BTCUSDT": prediction("BTCUSDT", 0.7, 50000),
		"ETHUSDT": prediction("ETHUSDT", 0.5, 2000),
	}}
	// 10 USDT is below the 50 USDT minimum notional.
	decisions := &fakeDecisions{actions: []models.ProposedAction{
		{Symbol: "BTCUSDT", Side: models.Buy, Quantity: 0.0002, Price: 50000},
	}}
	venue := &fakeExchange{positions: startingPositions()}

	loop := newTestLoop(store, forecasts, decisions, venue, &fakePublisher{})
	loop.runCycle()

	snap := store.Read()
	assert.Empty(t, snap.Trades)
	assert.Zero(t, venue.executedCount())
	assert.Equal(t, int64(0), snap.Status.ErrorCount, "a risk rejection is not a cycle failure")

	var rejected bool
	for _, entry := range snap.Logs {
		if entry.Level == models.LevelWarning && strings.Contains(entry.Message, "min_notional") {
			rejected = true
		}
	}
	assert.True(t, rejected)
}

// TestBusyStoreSkipsCycle verifies that a tick arriving while a cycle holds
// the token is skipped entirely.
func TestBusyStoreSkipsCycle(t *testing.T) {
	store := statestore.New(statestore.Options{}, nil, zap.NewNop().Sugar())
	tok, err := store.BeginCycle()
	require.NoError(t, err)

	decisions := &fakeDecisions{}
	venue := &fakeExchange{positions: startingPositions()}
	loop := newTestLoop(store, &fakeForecasts{}, decisions, venue, &fakePublisher{})
	loop.runCycle()

	snap := store.Read()
	assert.Equal(t, int64(0), snap.Status.CycleCount, "the skipped tick leaves no trace")
	assert.Zero(t, decisions.calls)

	store.EndCycle(tok)
}

// TestTriggerNowCoalesces verifies that repeated manual triggers collapse
// into a single queued request.
func TestTriggerNowCoalesces(t *testing.T) {
	store := statestore.New(statestore.Options{}, nil, zap.NewNop().Sugar())
	loop := newTestLoop(store, &fakeForecasts{}, &fakeDecisions{}, &fakeExchange{positions: startingPositions()}, &fakePublisher{})

	loop.TriggerNow()
	loop.TriggerNow()
	loop.TriggerNow()

	assert.Len(t, loop.triggerCh, 1, "pending triggers coalesce")
}
