package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"binance-ai-trader-go/internal/models"
)

// simTakerFeeRate 模拟成交按此费率在计价资产侧扣除手续费。
const simTakerFeeRate = 0.001

// Simulator 是内存撮合的模拟交易所。所有订单按提案参考价立即成交，
// 并跟踪平均建仓价以支持止损判断。
type Simulator struct {
	mu         sync.Mutex
	quoteAsset string
	balances   map[string]float64 // asset -> free amount
	avgEntry   map[string]float64 // asset -> average entry price
	lastPrices map[string]float64 // asset -> last seen price
	orderSeq   int64
	logger     *zap.SugaredLogger
}

// NewSimulator 创建模拟交易所，初始只持有计价资产。
func NewSimulator(quoteAsset string, startBalance float64, logger *zap.SugaredLogger) *Simulator {
	return &Simulator{
		quoteAsset: quoteAsset,
		balances:   map[string]float64{quoteAsset: startBalance},
		avgEntry:   make(map[string]float64),
		lastPrices: make(map[string]float64),
		logger:     logger,
	}
}

// MarkPrice 更新某资产的标记价格，用于持仓估值。
// 预测周期开始时由上层按最新预测价调用。
func (s *Simulator) MarkPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrices[strings.TrimSuffix(symbol, s.quoteAsset)] = price
}

// GetPositions 返回当前模拟持仓，按最近标记价估值。
func (s *Simulator) GetPositions(_ context.Context) (map[string]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make(map[string]models.Position, len(s.balances))
	for asset, amount := range s.balances {
		pos := models.Position{
			Asset:         asset,
			FreeAmount:    amount,
			AvgEntryPrice: s.avgEntry[asset],
		}
		if asset == s.quoteAsset {
			pos.LastPrice = 1
			pos.USDValue = amount
		} else {
			pos.LastPrice = s.lastPrices[asset]
			pos.USDValue = amount * pos.LastPrice
		}
		positions[asset] = pos
	}
	return positions, nil
}

// Execute 立即按参考价撮合。资金不足是正常的失败结果，不是错误。
func (s *Simulator) Execute(_ context.Context, action models.ProposedAction) models.TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := models.TradeRecord{
		Timestamp: time.Now(),
		Symbol:    action.Symbol,
		Side:      action.Side,
		Quantity:  action.Quantity,
		Price:     action.Price,
		Notional:  action.Notional(),
		Status:    models.TradeFailed,
	}

	if action.Side != models.Buy && action.Side != models.Sell {
		record.Reason = "不可执行的交易方向"
		return record
	}
	qty := decimal.NewFromFloat(action.Quantity).Truncate(quantityPrecision).InexactFloat64()
	if qty <= 0 || action.Price <= 0 {
		record.Reason = "数量或价格非法"
		return record
	}

	base := action.BaseAsset(s.quoteAsset)
	notional := qty * action.Price
	fee := notional * simTakerFeeRate

	switch action.Side {
	case models.Buy:
		cost := notional + fee
		if cost > s.balances[s.quoteAsset] {
			record.Reason = fmt.Sprintf("%s 余额不足: 需要 %.2f, 可用 %.2f",
				s.quoteAsset, cost, s.balances[s.quoteAsset])
			return record
		}
		s.balances[s.quoteAsset] -= cost
		held := s.balances[base]
		// 加权平均建仓价
		s.avgEntry[base] = (held*s.avgEntry[base] + qty*action.Price) / (held + qty)
		s.balances[base] = held + qty

	case models.Sell:
		if qty > s.balances[base] {
			record.Reason = fmt.Sprintf("%s 持仓不足: 需要 %.6f, 可用 %.6f",
				base, qty, s.balances[base])
			return record
		}
		s.balances[base] -= qty
		s.balances[s.quoteAsset] += notional - fee
		if s.balances[base] <= 0 {
			delete(s.balances, base)
			delete(s.avgEntry, base)
		}
	}

	s.lastPrices[base] = action.Price
	s.orderSeq++

	record.Status = models.TradeSuccess
	record.Quantity = qty
	record.Notional = notional
	record.Reason = action.Rationale
	record.OrderID = fmt.Sprintf("sim-%d", s.orderSeq)

	s.logger.Infof("模拟成交: %s %.6f %s @ %.4f", action.Side, qty, action.Symbol, action.Price)
	return record
}
