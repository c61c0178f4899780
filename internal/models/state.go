package models

import "time"

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
	Hold Side = "HOLD"
)

// TradeStatus 标记一次交易尝试的最终结果
type TradeStatus string

const (
	TradeSuccess TradeStatus = "success"
	TradeFailed  TradeStatus = "failed"
)

// LogLevel 是策略日志条目的级别
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelSuccess LogLevel = "success"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// RunStatus describes the health of the strategy loop.
type RunStatus struct {
	IsRunning      bool      `json:"is_running"`
	SimulationMode bool      `json:"simulation_mode"`
	CycleCount     int64     `json:"cycle_count"`
	ErrorCount     int64     `json:"error_count"`
	LastRunAt      time.Time `json:"last_run_at"`
	NextRunAt      time.Time `json:"next_run_at"`
	LastError      string    `json:"last_error"`
	LastUpdate     time.Time `json:"last_update"`
}

// Position 定义了单个资产的持仓信息
type Position struct {
	Asset         string  `json:"asset"`
	FreeAmount    float64 `json:"free_amount"`
	LockedAmount  float64 `json:"locked_amount"`
	LastPrice     float64 `json:"last_price"`
	USDValue      float64 `json:"usd_value"`
	AvgEntryPrice float64 `json:"avg_entry_price,omitempty"` // zero when the venue does not report it
}

// TotalAmount returns free plus locked holdings.
func (p Position) TotalAmount() float64 { return p.FreeAmount + p.LockedAmount }

// UnrealizedReturn is the fractional return against the average entry price.
// It returns 0 when no entry price is known.
func (p Position) UnrealizedReturn() float64 {
	if p.AvgEntryPrice <= 0 || p.LastPrice <= 0 {
		return 0
	}
	return (p.LastPrice - p.AvgEntryPrice) / p.AvgEntryPrice
}

// PredictionSnapshot 定义了单个交易对的一次完整预测结果。
// 每个周期整体替换，不做增量合并。
type PredictionSnapshot struct {
	Symbol                  string    `json:"symbol"`
	UpsideProbability       float64   `json:"upside_probability"`
	VolatilityAmplification float64   `json:"volatility_amplification"`
	CurrentPrice            float64   `json:"current_price"`
	MeanPredictedPrice      float64   `json:"mean_predicted_price"`
	MinPredictedPrice       float64   `json:"min_predicted_price"`
	MaxPredictedPrice       float64   `json:"max_predicted_price"`
	FetchedAt               time.Time `json:"fetched_at"`
}

// ProposedAction is one candidate trade produced by the decision service.
type ProposedAction struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Quantity   float64 `json:"quantity"` // base asset units
	Price      float64 `json:"price"`    // reference price at proposal time
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
}

// Notional returns the USDT value of the action at its reference price.
func (a ProposedAction) Notional() float64 { return a.Quantity * a.Price }

// BaseAsset strips the quote suffix from the action's symbol, e.g. "BTCUSDT" -> "BTC".
func (a ProposedAction) BaseAsset(quote string) string {
	if len(a.Symbol) > len(quote) && a.Symbol[len(a.Symbol)-len(quote):] == quote {
		return a.Symbol[:len(a.Symbol)-len(quote)]
	}
	return a.Symbol
}

// TradeRecord 记录一次已执行（或失败）的交易尝试，追加后不可变。
type TradeRecord struct {
	Timestamp time.Time   `json:"timestamp"`
	Symbol    string      `json:"symbol"`
	Side      Side        `json:"side"`
	Quantity  float64     `json:"quantity"`
	Price     float64     `json:"price"`
	Notional  float64     `json:"notional"`
	Status    TradeStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	OrderID   string      `json:"order_id,omitempty"`
}

// LogEntry 是一条策略叙事日志
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// RiskMetrics 是从持仓集合派生的组合风险指标，每个周期重新计算。
type RiskMetrics struct {
	TotalExposureRatio float64 `json:"total_exposure_ratio"`
	USDTReserve        float64 `json:"usdt_reserve"`
	PositionCount      int     `json:"position_count"`
	MaxSinglePosition  float64 `json:"max_single_position"`
	TotalValue         float64 `json:"total_value"`
}

// PerformanceStats 是累计的执行统计
type PerformanceStats struct {
	TotalTrades      int64   `json:"total_trades"`
	SuccessfulTrades int64   `json:"successful_trades"`
	FailedTrades     int64   `json:"failed_trades"`
	TotalVolume      float64 `json:"total_volume"`
}

// Snapshot is a full, internally consistent copy of every store entity at one
// instant. Readers own their copy and may retain it freely.
type Snapshot struct {
	Status      RunStatus                     `json:"status"`
	Positions   map[string]Position           `json:"positions"`
	Predictions map[string]PredictionSnapshot `json:"predictions"`
	Trades      []TradeRecord                 `json:"trades"`
	Logs        []LogEntry                    `json:"logs"`
	Performance PerformanceStats              `json:"performance"`
	Risk        RiskMetrics                   `json:"risk"`
	TakenAt     time.Time                     `json:"taken_at"`
}
