package risk

import (
	"fmt"

	"binance-ai-trader-go/internal/models"
)

// Rule identifiers, in evaluation order. The first failing rule names the
// rejection.
const (
	RuleMinNotional   = "min_notional"
	RuleMaxNotional   = "max_notional"
	RuleTotalExposure = "total_exposure"
	RuleAssetExposure = "asset_exposure"
	RuleBalance       = "balance"
)

// Verdict is the outcome of evaluating one proposed action.
type Verdict struct {
	Action           models.ProposedAction
	Approved         bool
	RuleID           string // set on rejection
	Reason           string // set on rejection
	StopLossOverride bool   // true when a loss-cutting sell bypassed exposure caps
}

// Evaluator applies the fixed risk policy to proposed actions. It is pure:
// the verdict depends only on the action, the position set and the derived
// risk metrics passed in.
type Evaluator struct {
	cfg        models.RiskConfig
	quoteAsset string
}

// NewEvaluator 创建风控评估器
func NewEvaluator(cfg models.RiskConfig, quoteAsset string) *Evaluator {
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &Evaluator{cfg: cfg, quoteAsset: quoteAsset}
}

// Evaluate runs the ordered checks against one action, short-circuiting on
// the first failure. A sell that cuts a position whose unrealized loss
// exceeds the stop-loss threshold is exempt from the exposure caps, so
// loss-cutting is never blocked by them.
func (e *Evaluator) Evaluate(action models.ProposedAction, positions map[string]models.Position, metrics models.RiskMetrics) Verdict {
	v := Verdict{Action: action}

	if action.Side == models.Hold {
		v.Approved = true
		return v
	}

	notional := action.Notional()
	base := action.BaseAsset(e.quoteAsset)

	// 1. minimum notional
	if notional < e.cfg.MinTradeNotional {
		return rejected(action, RuleMinNotional,
			fmt.Sprintf("名义价值 %.2f 低于最小交易金额 %.2f", notional, e.cfg.MinTradeNotional))
	}

	// 2. maximum single-order notional
	if notional > e.cfg.MaxTradeNotional {
		return rejected(action, RuleMaxNotional,
			fmt.Sprintf("名义价值 %.2f 超过单笔上限 %.2f", notional, e.cfg.MaxTradeNotional))
	}

	// stop-loss override: checks 3-4 do not apply to a loss-cutting sell
	if action.Side == models.Sell {
		if pos, ok := positions[base]; ok && pos.TotalAmount() > 0 &&
			pos.UnrealizedReturn() < -e.cfg.StopLossRatio {
			v.StopLossOverride = true
		}
	}

	if action.Side == models.Buy && !v.StopLossOverride {
		// 3. global exposure cap
		if metrics.TotalValue > 0 {
			exposure := metrics.TotalValue - metrics.USDTReserve
			if (exposure+notional)/metrics.TotalValue > e.cfg.MaxTotalExposureRatio {
				return rejected(action, RuleTotalExposure,
					fmt.Sprintf("买入后总仓位比例 %.1f%% 将超过上限 %.1f%%",
						(exposure+notional)/metrics.TotalValue*100, e.cfg.MaxTotalExposureRatio*100))
			}
		}

		// 4. per-asset cap
		if metrics.TotalValue > 0 {
			held := positions[base].USDValue
			if (held+notional)/metrics.TotalValue > e.cfg.MaxSingleAssetRatio {
				return rejected(action, RuleAssetExposure,
					fmt.Sprintf("买入后 %s 仓位比例 %.1f%% 将超过上限 %.1f%%",
						base, (held+notional)/metrics.TotalValue*100, e.cfg.MaxSingleAssetRatio*100))
			}
		}
	}

	// 5. sufficient balance
	switch action.Side {
	case models.Sell:
		if free := positions[base].FreeAmount; action.Quantity > free {
			return rejected(action, RuleBalance,
				fmt.Sprintf("卖出数量 %.6f 超过可用持仓 %.6f %s", action.Quantity, free, base))
		}
	case models.Buy:
		if notional > metrics.USDTReserve {
			return rejected(action, RuleBalance,
				fmt.Sprintf("买入金额 %.2f 超过可用 %s 余额 %.2f", notional, e.quoteAsset, metrics.USDTReserve))
		}
	}

	v.Approved = true
	return v
}

func rejected(action models.ProposedAction, ruleID, reason string) Verdict {
	return Verdict{Action: action, RuleID: ruleID, Reason: reason}
}
