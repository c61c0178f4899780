package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"binance-ai-trader-go/internal/gateway"
	"binance-ai-trader-go/internal/models"
)

// Client 通过 HTTP 调用外部预测服务（Kronos 模型服务）。
// 每个交易对单独请求，失败只影响该交易对。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewClient 创建预测服务客户端。
func NewClient(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// predictionResponse 是预测服务的原始响应体。
type predictionResponse struct {
	Symbol                  string  `json:"symbol"`
	UpsideProbability       float64 `json:"upside_probability"`
	VolatilityAmplification float64 `json:"volatility_amplification"`
	CurrentPrice            float64 `json:"current_price"`
	MeanPredictedPrice      float64 `json:"mean_predicted_price"`
	MinPredictedPrice       float64 `json:"min_predicted_price"`
	MaxPredictedPrice       float64 `json:"max_predicted_price"`
}

// Get 拉取单个交易对的最新预测。
func (c *Client) Get(ctx context.Context, symbol string) (models.PredictionSnapshot, error) {
	url := fmt.Sprintf("%s/api/predictions/%s", c.baseURL, symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.PredictionSnapshot{}, gateway.NewError("forecast.get", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.PredictionSnapshot{}, gateway.NewError("forecast.get", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.PredictionSnapshot{}, gateway.NewError("forecast.get", err)
	}

	if resp.StatusCode != http.StatusOK {
		return models.PredictionSnapshot{}, gateway.NewError("forecast.get",
			fmt.Errorf("预测服务返回状态码 %d: %s", resp.StatusCode, string(body)))
	}

	var pr predictionResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return models.PredictionSnapshot{}, gateway.NewError("forecast.get",
			fmt.Errorf("解析预测响应失败: %w", err))
	}

	if pr.UpsideProbability < 0 || pr.UpsideProbability > 1 {
		return models.PredictionSnapshot{}, gateway.NewError("forecast.get",
			fmt.Errorf("预测服务返回非法上涨概率 %f", pr.UpsideProbability))
	}

	snap := models.PredictionSnapshot{
		Symbol:                  symbol,
		UpsideProbability:       pr.UpsideProbability,
		VolatilityAmplification: pr.VolatilityAmplification,
		CurrentPrice:            pr.CurrentPrice,
		MeanPredictedPrice:      pr.MeanPredictedPrice,
		MinPredictedPrice:       pr.MinPredictedPrice,
		MaxPredictedPrice:       pr.MaxPredictedPrice,
		FetchedAt:               time.Now(),
	}
	c.logger.Debugf("获取预测成功: %s 上涨概率=%.2f", symbol, snap.UpsideProbability)
	return snap, nil
}
