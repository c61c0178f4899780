package forecast

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"binance-ai-trader-go/internal/models"
)

// Simulator 在模拟模式下生成确定性的合成预测。
// 同一交易对在同一周期内的结果可复现，便于测试与回放。
type Simulator struct {
	mu         sync.Mutex
	rngs       map[string]*rand.Rand
	basePrices map[string]float64
	now        func() time.Time
}

// NewSimulator 创建合成预测源。basePrices 为各交易对的起始价格，
// 缺省时使用 1000。
func NewSimulator(basePrices map[string]float64) *Simulator {
	if basePrices == nil {
		basePrices = make(map[string]float64)
	}
	return &Simulator{
		rngs:       make(map[string]*rand.Rand),
		basePrices: basePrices,
		now:        time.Now,
	}
}

// Get 返回一条合成预测。价格围绕基准价做有界随机游走，
// 上涨概率在 [0.25, 0.75] 区间内波动。
func (s *Simulator) Get(_ context.Context, symbol string) (models.PredictionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rng, ok := s.rngs[symbol]
	if !ok {
		h := fnv.New64a()
		h.Write([]byte(symbol))
		rng = rand.New(rand.NewSource(int64(h.Sum64())))
		s.rngs[symbol] = rng
	}

	price, ok := s.basePrices[symbol]
	if !ok || price <= 0 {
		price = 1000
	}
	// 随机游走，单步不超过 ±2%
	price *= 1 + (rng.Float64()-0.5)*0.04
	s.basePrices[symbol] = price

	upside := 0.5 + 0.25*math.Sin(rng.Float64()*2*math.Pi)
	spread := price * (0.01 + rng.Float64()*0.03)

	return models.PredictionSnapshot{
		Symbol:                  symbol,
		UpsideProbability:       upside,
		VolatilityAmplification: 0.8 + rng.Float64()*0.8,
		CurrentPrice:            price,
		MeanPredictedPrice:      price * (1 + (upside-0.5)*0.05),
		MinPredictedPrice:       price - spread,
		MaxPredictedPrice:       price + spread,
		FetchedAt:               s.now(),
	}, nil
}
