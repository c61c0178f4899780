package gateway

import (
	"context"
	"errors"
	"fmt"

	"binance-ai-trader-go/internal/models"
)

// ForecastProvider 返回单个交易对的预测快照。
type ForecastProvider interface {
	Get(ctx context.Context, symbol string) (models.PredictionSnapshot, error)
}

// DecisionProvider 根据预测与当前组合给出一组候选交易动作。
type DecisionProvider interface {
	Propose(ctx context.Context, predictions map[string]models.PredictionSnapshot,
		positions map[string]models.Position, reserve float64) ([]models.ProposedAction, error)
}

// Exchange 提供账户与下单能力。
// Execute 从不因订单被拒而返回错误：失败的交易是一种正常结果，
// 编码在返回的 TradeRecord (status=failed) 中。
type Exchange interface {
	GetPositions(ctx context.Context) (map[string]models.Position, error)
	Execute(ctx context.Context, action models.ProposedAction) models.TradeRecord
}

// Error wraps a transient fault from an external collaborator. Callers retry
// these with a bounded backoff before degrading.
type Error struct {
	Op  string // e.g. "forecast.get", "exchange.positions"
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("gateway %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a gateway error for the given operation.
func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// IsGatewayError reports whether err originated from an external collaborator.
func IsGatewayError(err error) bool {
	var ge *Error
	return errors.As(err, &ge)
}
