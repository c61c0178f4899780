package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"binance-ai-trader-go/internal/gateway"
	"binance-ai-trader-go/internal/models"
)

const systemPrompt = `You are a professional cryptocurrency portfolio manager.
You receive model forecasts for a fixed set of spot trading pairs together with
the current portfolio. Decide, for each pair, whether to BUY, SELL or HOLD, and
size every non-hold trade in USDT notional.

Rules:
- Only propose trades you can justify from the forecasts given.
- Prefer HOLD when the signal is weak or conflicting.
- Never propose selling an asset that is not held.
- Respond with a single JSON object and nothing else, in this exact shape:
{"decisions":[{"symbol":"BTCUSDT","action":"buy|sell|hold","quantity_usdt":0,"reasoning":"...","confidence":0.0}]}`

// OpenAIProvider 调用 LLM 将预测转化为候选交易动作。
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	quoteAsset string
	logger     *zap.SugaredLogger
}

// NewOpenAIProvider 创建 LLM 决策服务。baseURL 为空时使用官方端点。
func NewOpenAIProvider(apiKey, baseURL, model, quoteAsset string, logger *zap.SugaredLogger) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		quoteAsset: quoteAsset,
		logger:     logger,
	}
}

// rawDecision 是 LLM 响应中的单条决策。
type rawDecision struct {
	Symbol       string  `json:"symbol"`
	Action       string  `json:"action"`
	QuantityUSDT float64 `json:"quantity_usdt"`
	Reasoning    string  `json:"reasoning"`
	Confidence   float64 `json:"confidence"`
}

type rawResponse struct {
	Decisions []rawDecision `json:"decisions"`
}

// Propose 将预测与组合状态交给 LLM，解析返回的 JSON 决策。
// API 错误与格式错误都包装为网关错误，由上层重试。
func (p *OpenAIProvider) Propose(ctx context.Context, predictions map[string]models.PredictionSnapshot,
	positions map[string]models.Position, reserve float64) ([]models.ProposedAction, error) {

	userPrompt := buildUserPrompt(predictions, positions, reserve, p.quoteAsset)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return nil, gateway.NewError("decision.propose", err)
	}
	if len(resp.Choices) == 0 {
		return nil, gateway.NewError("decision.propose", fmt.Errorf("LLM 返回空响应"))
	}

	content := resp.Choices[0].Message.Content
	raw, err := extractJSON(content)
	if err != nil {
		return nil, gateway.NewError("decision.propose", err)
	}

	var parsed rawResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, gateway.NewError("decision.propose", fmt.Errorf("解析 LLM 决策失败: %w", err))
	}

	actions := make([]models.ProposedAction, 0, len(parsed.Decisions))
	for _, d := range parsed.Decisions {
		action, ok := p.toAction(d, predictions, positions)
		if !ok {
			continue
		}
		actions = append(actions, action)
	}

	p.logger.Infof("LLM 决策完成: %d 条候选动作", len(actions))
	return actions, nil
}

// toAction 将一条原始决策转换为内部动作。USDT 金额按当前价折算为基础币数量。
func (p *OpenAIProvider) toAction(d rawDecision, predictions map[string]models.PredictionSnapshot,
	positions map[string]models.Position) (models.ProposedAction, bool) {

	var side models.Side
	switch strings.ToLower(d.Action) {
	case "buy":
		side = models.Buy
	case "sell":
		side = models.Sell
	case "hold":
		side = models.Hold
	default:
		p.logger.Warnf("忽略未知决策动作: %s %s", d.Symbol, d.Action)
		return models.ProposedAction{}, false
	}

	price := 0.0
	if pred, ok := predictions[d.Symbol]; ok {
		price = pred.CurrentPrice
	}
	if price <= 0 {
		base := strings.TrimSuffix(d.Symbol, p.quoteAsset)
		if pos, ok := positions[base]; ok {
			price = pos.LastPrice
		}
	}
	if side != models.Hold && price <= 0 {
		p.logger.Warnf("忽略无参考价格的决策: %s", d.Symbol)
		return models.ProposedAction{}, false
	}

	var quantity float64
	if side != models.Hold && price > 0 {
		quantity = d.QuantityUSDT / price
	}

	return models.ProposedAction{
		Symbol:     d.Symbol,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		Rationale:  d.Reasoning,
		Confidence: d.Confidence,
	}, true
}

// buildUserPrompt 将预测与持仓序列化为提示词，按交易对排序以保证可复现。
func buildUserPrompt(predictions map[string]models.PredictionSnapshot,
	positions map[string]models.Position, reserve float64, quoteAsset string) string {

	var b strings.Builder

	b.WriteString("## Forecasts\n")
	symbols := make([]string, 0, len(predictions))
	for s := range predictions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		pr := predictions[s]
		fmt.Fprintf(&b, "- %s: price=%.4f upside_probability=%.2f volatility=%.2f predicted_mean=%.4f range=[%.4f, %.4f]\n",
			s, pr.CurrentPrice, pr.UpsideProbability, pr.VolatilityAmplification,
			pr.MeanPredictedPrice, pr.MinPredictedPrice, pr.MaxPredictedPrice)
	}

	b.WriteString("\n## Portfolio\n")
	assets := make([]string, 0, len(positions))
	for a := range positions {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	for _, a := range assets {
		pos := positions[a]
		if a == quoteAsset || pos.TotalAmount() <= 0 {
			continue
		}
		fmt.Fprintf(&b, "- %s: amount=%.6f value=%.2f %s\n", a, pos.TotalAmount(), pos.USDValue, quoteAsset)
	}
	fmt.Fprintf(&b, "- available %s reserve: %.2f\n", quoteAsset, reserve)

	return b.String()
}

// extractJSON 提取响应中第一个 '{' 到最后一个 '}' 之间的内容。
// LLM 偶尔会在 JSON 外包裹说明文字或 markdown 代码块。
func extractJSON(content string) (string, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("LLM 响应中不包含 JSON 对象: %q", truncate(content, 200))
	}
	return content[start : end+1], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
