package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"binance-ai-trader-go/internal/gateway"
	"binance-ai-trader-go/internal/models"
	"binance-ai-trader-go/internal/risk"
	"binance-ai-trader-go/internal/statestore"
)

// Publisher 在每个周期结束后收到一份完整状态快照。
type Publisher interface {
	Publish(snap models.Snapshot)
}

// Journal 是追加式审计落库，失败只记日志，不影响周期。
type Journal interface {
	AppendTrade(tr models.TradeRecord) error
	AppendLog(entry models.LogEntry) error
}

// priceMarker 是模拟交易所的可选能力：用最新预测价更新标记价格。
type priceMarker interface {
	MarkPrice(symbol string, price float64)
}

// Options 配置策略循环。
type Options struct {
	Symbols        []string
	QuoteAsset     string
	Period         time.Duration
	CallTimeout    time.Duration
	RetryAttempts  int
	RetryInitDelay time.Duration
}

// Loop 驱动完整的决策周期：拉取预测 → LLM 决策 → 风控评估 → 执行 →
// 记录。同一时刻最多一个周期在运行，定时触发撞上运行中的周期直接跳过。
type Loop struct {
	opts      Options
	store     *statestore.Store
	forecasts gateway.ForecastProvider
	decisions gateway.DecisionProvider
	exchange  gateway.Exchange
	evaluator *risk.Evaluator
	publisher Publisher
	journal   Journal
	logger    *zap.SugaredLogger

	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
}

// New 组装策略循环。publisher 与 journal 允许为 nil。
func New(opts Options, store *statestore.Store, forecasts gateway.ForecastProvider,
	decisions gateway.DecisionProvider, exchange gateway.Exchange, evaluator *risk.Evaluator,
	publisher Publisher, journal Journal, logger *zap.SugaredLogger) *Loop {

	if opts.QuoteAsset == "" {
		opts.QuoteAsset = "USDT"
	}
	if opts.Period <= 0 {
		opts.Period = time.Hour
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryInitDelay <= 0 {
		opts.RetryInitDelay = time.Second
	}

	return &Loop{
		opts:      opts,
		store:     store,
		forecasts: forecasts,
		decisions: decisions,
		exchange:  exchange,
		evaluator: evaluator,
		publisher: publisher,
		journal:   journal,
		logger:    logger,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start 启动调度协程。第一个周期立即执行，之后按固定周期触发。
func (l *Loop) Start() {
	go l.run()
}

// Stop 停止调度并等待运行中的周期结束。
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
}

// TriggerNow 请求尽快运行一个周期。已有排队请求时为空操作。
func (l *Loop) TriggerNow() {
	select {
	case l.triggerCh <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.opts.Period)
	defer ticker.Stop()

	l.runCycle()

	for {
		select {
		case <-ticker.C:
			l.runCycle()
		case <-l.triggerCh:
			l.runCycle()
		case <-l.stopCh:
			return
		}
	}
}

// cycleState 收集一个周期内累积的待提交数据。logs 是尚未提交的增量，
// allLogs 保留全量供审计落库。
type cycleState struct {
	logs    []models.LogEntry
	allLogs []models.LogEntry
	trades  []models.TradeRecord
}

func (cs *cycleState) log(level models.LogLevel, format string, args ...interface{}) {
	entry := models.LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
	}
	cs.logs = append(cs.logs, entry)
	cs.allLogs = append(cs.allLogs, entry)
}

// runCycle 执行一个完整周期。任何外部依赖在重试耗尽后失败都会使周期
// 以失败告终：错误计入状态，本周期不产生任何订单。
func (l *Loop) runCycle() {
	tok, err := l.store.BeginCycle()
	if err != nil {
		if errors.Is(err, statestore.ErrBusy) {
			l.logger.Warn("上一个周期仍在运行，跳过本次触发。")
			return
		}
		l.logger.Errorf("无法开始新周期: %v", err)
		return
	}
	defer l.store.EndCycle(tok)

	ctx := context.Background()
	started := time.Now()
	cs := &cycleState{}
	cs.log(models.LevelInfo, "交易周期开始")

	running := true
	l.commit(tok, statestore.Update{
		Logs:   cs.logs,
		Status: statestore.StatusPatch{IsRunning: &running},
	})
	cs.logs = nil

	// 1. 并行拉取各交易对预测，失败的交易对降级跳过
	predictions := l.fetchPredictions(ctx, cs)
	if len(predictions) == 0 {
		l.failCycle(tok, cs, started, "所有交易对的预测均获取失败")
		return
	}

	// 模拟交易所按预测价刷新标记价格
	if pm, ok := l.exchange.(priceMarker); ok {
		for sym, pred := range predictions {
			pm.MarkPrice(sym, pred.CurrentPrice)
		}
	}

	// 2. 获取账户持仓，重试耗尽则整个周期失败
	var positions map[string]models.Position
	err = l.withRetry(ctx, "获取持仓", func(callCtx context.Context) error {
		var e error
		positions, e = l.exchange.GetPositions(callCtx)
		return e
	})
	if err != nil {
		l.failCycle(tok, cs, started, fmt.Sprintf("获取持仓失败: %v", err))
		return
	}

	metrics := statestore.DeriveRiskMetrics(positions, l.opts.QuoteAsset)
	cs.log(models.LevelInfo, "已获取 %d 条预测，组合总值 %.2f %s，可用 %.2f",
		len(predictions), metrics.TotalValue, l.opts.QuoteAsset, metrics.USDTReserve)

	// 阶段性提交：预测与持仓先行可见
	if err := l.commit(tok, statestore.Update{
		Positions:   positions,
		Predictions: predictions,
		Logs:        cs.logs,
	}); err != nil {
		l.failCycle(tok, cs, started, fmt.Sprintf("阶段提交被拒绝: %v", err))
		return
	}
	cs.logs = nil

	// 3. LLM 决策，重试耗尽则整个周期失败
	var actions []models.ProposedAction
	err = l.withRetry(ctx, "获取交易决策", func(callCtx context.Context) error {
		var e error
		actions, e = l.decisions.Propose(callCtx, predictions, positions, metrics.USDTReserve)
		return e
	})
	if err != nil {
		l.failCycle(tok, cs, started, fmt.Sprintf("获取交易决策失败: %v", err))
		return
	}

	// 4. 逐条风控评估并执行通过的动作
	l.evaluateAndExecute(ctx, cs, actions, positions, metrics)

	// 5. 执行后尽力刷新一次持仓，失败不影响周期结果
	if refreshed, e := l.exchange.GetPositions(ctx); e == nil {
		positions = refreshed
	} else {
		cs.log(models.LevelWarning, "执行后刷新持仓失败: %v", e)
	}

	cs.log(models.LevelSuccess, "交易周期完成: 执行 %d 笔交易，耗时 %s",
		len(cs.trades), time.Since(started).Round(time.Millisecond))

	l.finishCycle(tok, cs, started, positions, "")
}

// fetchPredictions 并行请求每个交易对的预测，单个失败只记警告并跳过。
func (l *Loop) fetchPredictions(ctx context.Context, cs *cycleState) map[string]models.PredictionSnapshot {
	var mu sync.Mutex
	predictions := make(map[string]models.PredictionSnapshot, len(l.opts.Symbols))
	var degraded []string

	g, gctx := errgroup.WithContext(ctx)
	for _, symbol := range l.opts.Symbols {
		symbol := symbol
		g.Go(func() error {
			var snap models.PredictionSnapshot
			err := l.withRetry(gctx, "获取预测 "+symbol, func(callCtx context.Context) error {
				var e error
				snap, e = l.forecasts.Get(callCtx, symbol)
				return e
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				degraded = append(degraded, symbol)
				return nil // 降级，不中断其余交易对
			}
			predictions[symbol] = snap
			return nil
		})
	}
	_ = g.Wait()

	for _, symbol := range degraded {
		cs.log(models.LevelWarning, "%s 预测获取失败，本周期跳过该交易对", symbol)
	}
	return predictions
}

// evaluateAndExecute 按顺序评估每条候选动作，执行通过的动作并在本地
// 滚动更新风险视图，使同一周期内的多笔买入共同受制于仓位上限。
func (l *Loop) evaluateAndExecute(ctx context.Context, cs *cycleState,
	actions []models.ProposedAction, positions map[string]models.Position, metrics models.RiskMetrics) {

	for _, action := range actions {
		if action.Side == models.Hold {
			cs.log(models.LevelInfo, "%s: 保持观望 (%s)", action.Symbol, action.Rationale)
			continue
		}

		verdict := l.evaluator.Evaluate(action, positions, metrics)
		if !verdict.Approved {
			cs.log(models.LevelWarning, "%s %s 被风控拒绝 [%s]: %s",
				action.Symbol, action.Side, verdict.RuleID, verdict.Reason)
			continue
		}
		if verdict.StopLossOverride {
			cs.log(models.LevelWarning, "%s 触发止损卖出，跳过仓位限制检查", action.Symbol)
		}

		callCtx, cancel := context.WithTimeout(ctx, l.opts.CallTimeout)
		record := l.exchange.Execute(callCtx, action)
		cancel()

		cs.trades = append(cs.trades, record)
		if l.journal != nil {
			if err := l.journal.AppendTrade(record); err != nil {
				l.logger.Errorf("交易审计落库失败: %v", err)
			}
		}

		if record.Status == models.TradeSuccess {
			cs.log(models.LevelSuccess, "%s %s %.6f @ %.4f 成交",
				action.Symbol, action.Side, record.Quantity, record.Price)
			applyFill(positions, &metrics, record, l.opts.QuoteAsset)
		} else {
			cs.log(models.LevelError, "%s %s 执行失败: %s", action.Symbol, action.Side, record.Reason)
		}
	}
}

// applyFill 在本地持仓视图上回放一笔成交，避免周期内重复占用额度。
func applyFill(positions map[string]models.Position, metrics *models.RiskMetrics,
	record models.TradeRecord, quoteAsset string) {

	base := models.ProposedAction{Symbol: record.Symbol}.BaseAsset(quoteAsset)
	pos := positions[base]
	pos.Asset = base
	pos.LastPrice = record.Price
	quote := positions[quoteAsset]

	switch record.Side {
	case models.Buy:
		pos.FreeAmount += record.Quantity
		quote.FreeAmount -= record.Notional
		quote.USDValue -= record.Notional
	case models.Sell:
		pos.FreeAmount -= record.Quantity
		if pos.FreeAmount < 0 {
			pos.FreeAmount = 0
		}
		quote.FreeAmount += record.Notional
		quote.USDValue += record.Notional
	}
	pos.USDValue = pos.TotalAmount() * pos.LastPrice
	positions[base] = pos
	positions[quoteAsset] = quote

	*metrics = statestore.DeriveRiskMetrics(positions, quoteAsset)
}

// failCycle 以失败状态收尾：记录错误、递增错误计数，本周期零成交。
func (l *Loop) failCycle(tok *statestore.Token, cs *cycleState, started time.Time, reason string) {
	l.logger.Errorf("交易周期失败: %s", reason)
	cs.log(models.LevelError, "交易周期失败: %s", reason)
	l.finishCycle(tok, cs, started, nil, reason)
}

// finishCycle 写入终态提交并发布快照。lastErr 为空表示周期成功。
func (l *Loop) finishCycle(tok *statestore.Token, cs *cycleState, started time.Time,
	positions map[string]models.Position, lastErr string) {

	running := false
	next := started.Add(l.opts.Period)
	update := statestore.Update{
		Positions: positions,
		Trades:    cs.trades,
		Logs:      cs.logs,
		Status: statestore.StatusPatch{
			IsRunning:      &running,
			LastRunAt:      &started,
			NextRunAt:      &next,
			LastError:      &lastErr,
			CycleCompleted: true,
			ErrorOccurred:  lastErr != "",
		},
	}
	if err := l.commit(tok, update); err != nil {
		// 终态提交被拒绝时仍要释放令牌并复位运行标志
		l.logger.Errorf("终态提交被拒绝: %v", err)
		failMsg := fmt.Sprintf("终态提交被拒绝: %v", err)
		_ = l.commit(tok, statestore.Update{
			Status: statestore.StatusPatch{
				IsRunning:      &running,
				LastRunAt:      &started,
				NextRunAt:      &next,
				LastError:      &failMsg,
				CycleCompleted: true,
				ErrorOccurred:  true,
			},
		})
	}

	if l.journal != nil {
		for _, entry := range cs.allLogs {
			if err := l.journal.AppendLog(entry); err != nil {
				l.logger.Errorf("策略日志审计落库失败: %v", err)
			}
		}
	}

	if l.publisher != nil {
		l.publisher.Publish(l.store.Read())
	}
}

func (l *Loop) commit(tok *statestore.Token, u statestore.Update) error {
	return l.store.Commit(tok, u)
}

// withRetry 以指数退避执行 fn，每次尝试带独立超时。
func (l *Loop) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    l.opts.RetryInitDelay,
		Max:    8 * time.Second,
		Factor: 2,
	}

	var err error
	for attempt := 1; attempt <= l.opts.RetryAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, l.opts.CallTimeout)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}

		if attempt < l.opts.RetryAttempts {
			d := b.Duration()
			l.logger.Warnf("%s 第 %d 次尝试失败: %v，%s 后重试", op, attempt, err, d)
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s 重试 %d 次后仍然失败: %w", op, l.opts.RetryAttempts, err)
}
