package config

import (
	"encoding/json"
	"fmt"
	"os"

	"binance-ai-trader-go/internal/models"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	cfg := &models.Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills the optional fields a minimal config file may omit.
func applyDefaults(cfg *models.Config) {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.CyclePeriodSec <= 0 {
		cfg.CyclePeriodSec = 3600
	}
	if cfg.SimStartBalance <= 0 {
		cfg.SimStartBalance = 10000
	}
	if cfg.MaxTradeHistory <= 0 {
		cfg.MaxTradeHistory = 1000
	}
	if cfg.MaxLogHistory <= 0 {
		cfg.MaxLogHistory = 1000
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryInitDelayMs <= 0 {
		cfg.RetryInitDelayMs = 1000
	}
	if cfg.CallTimeoutSec <= 0 {
		cfg.CallTimeoutSec = 30
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o"
	}
	if cfg.Risk.MinTradeNotional <= 0 {
		cfg.Risk.MinTradeNotional = 50
	}
	if cfg.Risk.MaxTradeNotional <= 0 {
		cfg.Risk.MaxTradeNotional = 500
	}
	if cfg.Risk.MaxTotalExposureRatio <= 0 {
		cfg.Risk.MaxTotalExposureRatio = 0.8
	}
	if cfg.Risk.MaxSingleAssetRatio <= 0 {
		cfg.Risk.MaxSingleAssetRatio = 0.3
	}
	if cfg.Risk.StopLossRatio <= 0 {
		cfg.Risk.StopLossRatio = 0.05
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8000"
	}
	if cfg.Server.SubscriberQueueSize <= 0 {
		cfg.Server.SubscriberQueueSize = 8
	}
	if cfg.Server.PingIntervalSec <= 0 {
		cfg.Server.PingIntervalSec = 30
	}
	if cfg.Server.PongTimeoutSec <= 0 {
		cfg.Server.PongTimeoutSec = 75
	}
}

func validate(cfg *models.Config) error {
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("配置缺少 symbols：至少需要一个交易对")
	}
	for _, s := range cfg.Symbols {
		if len(s) <= len(cfg.QuoteAsset) || s[len(s)-len(cfg.QuoteAsset):] != cfg.QuoteAsset {
			return fmt.Errorf("交易对 %s 必须以计价资产 %s 结尾", s, cfg.QuoteAsset)
		}
	}
	if cfg.Risk.MaxTradeNotional < cfg.Risk.MinTradeNotional {
		return fmt.Errorf("max_trade_notional 不能小于 min_trade_notional")
	}
	return nil
}
