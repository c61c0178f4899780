package decision

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"binance-ai-trader-go/internal/models"
)

// Simulator 是基于固定阈值的规则决策器，用于模拟模式和测试。
// 上涨概率高于买入阈值则买入，低于卖出阈值且有持仓则卖出，其余保持。
type Simulator struct {
	buyThreshold  float64 // 上涨概率高于此值买入
	sellThreshold float64 // 上涨概率低于此值且持仓时卖出
	tradeNotional float64 // 每笔交易的目标 USDT 金额
	quoteAsset    string
}

// NewSimulator 创建规则决策器。阈值为零时使用缺省值 0.60/0.40，
// 金额为零时使用 100。
func NewSimulator(buyThreshold, sellThreshold, tradeNotional float64, quoteAsset string) *Simulator {
	if buyThreshold <= 0 {
		buyThreshold = 0.60
	}
	if sellThreshold <= 0 {
		sellThreshold = 0.40
	}
	if tradeNotional <= 0 {
		tradeNotional = 100
	}
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &Simulator{
		buyThreshold:  buyThreshold,
		sellThreshold: sellThreshold,
		tradeNotional: tradeNotional,
		quoteAsset:    quoteAsset,
	}
}

// Propose 对每个有预测的交易对给出一条决策，按交易对排序保证可复现。
func (s *Simulator) Propose(_ context.Context, predictions map[string]models.PredictionSnapshot,
	positions map[string]models.Position, reserve float64) ([]models.ProposedAction, error) {

	symbols := make([]string, 0, len(predictions))
	for sym := range predictions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	actions := make([]models.ProposedAction, 0, len(symbols))
	for _, sym := range symbols {
		pred := predictions[sym]
		base := strings.TrimSuffix(sym, s.quoteAsset)
		held := positions[base].TotalAmount()

		action := models.ProposedAction{
			Symbol: sym,
			Side:   models.Hold,
			Price:  pred.CurrentPrice,
		}

		switch {
		case pred.UpsideProbability > s.buyThreshold && pred.CurrentPrice > 0:
			action.Side = models.Buy
			action.Quantity = s.tradeNotional / pred.CurrentPrice
			action.Rationale = fmt.Sprintf("上涨概率 %.0f%% 高于买入阈值 %.0f%%",
				pred.UpsideProbability*100, s.buyThreshold*100)
			action.Confidence = pred.UpsideProbability
		case pred.UpsideProbability < s.sellThreshold && held > 0 && pred.CurrentPrice > 0:
			action.Side = models.Sell
			qty := s.tradeNotional / pred.CurrentPrice
			if qty > held {
				qty = held
			}
			action.Quantity = qty
			action.Rationale = fmt.Sprintf("上涨概率 %.0f%% 低于卖出阈值 %.0f%%",
				pred.UpsideProbability*100, s.sellThreshold*100)
			action.Confidence = 1 - pred.UpsideProbability
		default:
			action.Rationale = "信号不足，保持观望"
			action.Confidence = 0.5
		}

		actions = append(actions, action)
	}

	return actions, nil
}
