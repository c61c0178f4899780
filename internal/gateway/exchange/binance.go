package exchange

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"binance-ai-trader-go/internal/gateway"
	"binance-ai-trader-go/internal/models"
)

// quantityPrecision 是市价单数量的统一精度。数量向下截断，
// 避免超出可用余额。
const quantityPrecision = 6

// BinanceAdapter 对接币安现货，实现账户查询与市价下单。
type BinanceAdapter struct {
	client     *binance.Client
	symbols    []string
	quoteAsset string
	logger     *zap.SugaredLogger
}

// NewBinanceAdapter 创建现货交易所适配器。symbols 限定关注的交易对，
// 余额查询只保留这些交易对的基础资产与计价资产。baseURL 留空使用官方端点。
func NewBinanceAdapter(apiKey, secretKey, baseURL string, symbols []string, quoteAsset string, logger *zap.SugaredLogger) *BinanceAdapter {
	client := binance.NewClient(apiKey, secretKey)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &BinanceAdapter{
		client:     client,
		symbols:    symbols,
		quoteAsset: quoteAsset,
		logger:     logger,
	}
}

// GetPositions 拉取账户余额与最新价格，合成持仓视图。
// 计价资产本身也作为一个持仓返回（价格恒为 1）。
func (b *BinanceAdapter) GetPositions(ctx context.Context) (map[string]models.Position, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, gateway.NewError("exchange.positions", err)
	}

	tickers, err := b.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, gateway.NewError("exchange.positions", err)
	}
	prices := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		prices[t.Symbol], _ = strconv.ParseFloat(t.Price, 64)
	}

	wanted := make(map[string]bool, len(b.symbols)+1)
	wanted[b.quoteAsset] = true
	for _, sym := range b.symbols {
		wanted[strings.TrimSuffix(sym, b.quoteAsset)] = true
	}

	positions := make(map[string]models.Position)
	for _, bal := range account.Balances {
		if !wanted[bal.Asset] {
			continue
		}
		free, _ := strconv.ParseFloat(bal.Free, 64)
		locked, _ := strconv.ParseFloat(bal.Locked, 64)

		pos := models.Position{
			Asset:        bal.Asset,
			FreeAmount:   free,
			LockedAmount: locked,
		}
		if bal.Asset == b.quoteAsset {
			pos.LastPrice = 1
			pos.USDValue = free + locked
		} else {
			pos.LastPrice = prices[bal.Asset+b.quoteAsset]
			pos.USDValue = (free + locked) * pos.LastPrice
		}
		positions[bal.Asset] = pos
	}

	return positions, nil
}

// Execute 以市价单执行一条已批准的动作。订单被交易所拒绝不是错误，
// 结果编码在返回的交易记录中。
func (b *BinanceAdapter) Execute(ctx context.Context, action models.ProposedAction) models.TradeRecord {
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

	qty := decimal.NewFromFloat(action.Quantity).Truncate(quantityPrecision)
	if !qty.IsPositive() {
		record.Reason = "截断后数量为零"
		return record
	}

	clientOrderID := "ai-" + string(base62.FormatInt(time.Now().UnixNano()))

	order, err := b.client.NewCreateOrderService().
		Symbol(action.Symbol).
		Side(binance.SideType(action.Side)).
		Type(binance.OrderTypeMarket).
		Quantity(qty.String()).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		b.logger.Errorf("下单失败: %s %s %s: %v", action.Side, qty.String(), action.Symbol, err)
		record.Reason = err.Error()
		return record
	}

	record.Status = models.TradeSuccess
	record.OrderID = strconv.FormatInt(order.OrderID, 10)
	record.Reason = action.Rationale

	// 回填实际成交价与成交量（市价单按累计成交额/成交量折算）
	executedQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	cumQuote, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)
	if executedQty > 0 && cumQuote > 0 {
		record.Quantity = executedQty
		record.Notional = cumQuote
		record.Price = cumQuote / executedQty
	}

	b.logger.Infof("订单成交: %s %s %s, orderID=%d", action.Side, qty.String(), action.Symbol, order.OrderID)
	return record
}
