package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"binance-ai-trader-go/internal/config"
	"binance-ai-trader-go/internal/gateway"
	"binance-ai-trader-go/internal/gateway/decision"
	"binance-ai-trader-go/internal/gateway/exchange"
	"binance-ai-trader-go/internal/gateway/forecast"
	"binance-ai-trader-go/internal/logger"
	"binance-ai-trader-go/internal/models"
	"binance-ai-trader-go/internal/persistence"
	"binance-ai-trader-go/internal/reporter"
	"binance-ai-trader-go/internal/risk"
	"binance-ai-trader-go/internal/server"
	"binance-ai-trader-go/internal/statestore"
	"binance-ai-trader-go/internal/storage"
	"binance-ai-trader-go/internal/strategy"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "", "running mode: live or sim (overrides config)")
	flag.Parse()

	// 提前用默认配置初始化日志，保证加载配置阶段也有日志输出
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	switch *mode {
	case "live":
		cfg.SimulationMode = false
	case "sim":
		cfg.SimulationMode = true
	case "":
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'live' 或 'sim'。", *mode)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.Log)
	defer logger.S().Sync()

	run(cfg)
}

func run(cfg *models.Config) {
	log := logger.S()
	startedAt := time.Now()

	if cfg.SimulationMode {
		log.Info("--- 启动模拟交易模式 ---")
	} else {
		log.Info("--- 启动实盘交易模式 ---")
	}

	// --- 快照持久化 ---
	var repo persistence.SnapshotRepository
	if cfg.DBPath != "" {
		var err error
		repo, err = persistence.NewBadgerRepository(cfg.DBPath)
		if err != nil {
			log.Fatalf("初始化快照数据库失败: %v", err)
		}
		defer repo.Close()
	} else {
		log.Warn("未配置 db_path，状态快照将不会持久化。")
	}

	// --- 状态中心 ---
	store := statestore.New(statestore.Options{
		MaxTradeHistory: cfg.MaxTradeHistory,
		MaxLogHistory:   cfg.MaxLogHistory,
		QuoteAsset:      cfg.QuoteAsset,
		SimulationMode:  cfg.SimulationMode,
	}, repo, log)
	store.Start()
	defer store.Stop()

	// --- 审计流水 ---
	var journal *storage.Journal
	if cfg.JournalPath != "" {
		var err error
		journal, err = storage.OpenJournal(cfg.JournalPath)
		if err != nil {
			log.Fatalf("初始化交易流水数据库失败: %v", err)
		}
		defer journal.Close()
	}

	// --- 外部网关 ---
	forecasts, decisions, venue := buildGateways(cfg)

	evaluator := risk.NewEvaluator(cfg.Risk, cfg.QuoteAsset)

	// --- 看板推送与查询 ---
	hub := server.NewHub(server.HubOptions{
		QueueSize:    cfg.Server.SubscriberQueueSize,
		PingInterval: time.Duration(cfg.Server.PingIntervalSec) * time.Second,
		PongTimeout:  time.Duration(cfg.Server.PongTimeoutSec) * time.Second,
	}, store.Read, log)

	// --- 策略循环 ---
	loop := strategy.New(strategy.Options{
		Symbols:        cfg.Symbols,
		QuoteAsset:     cfg.QuoteAsset,
		Period:         time.Duration(cfg.CyclePeriodSec) * time.Second,
		CallTimeout:    time.Duration(cfg.CallTimeoutSec) * time.Second,
		RetryAttempts:  cfg.RetryAttempts,
		RetryInitDelay: time.Duration(cfg.RetryInitDelayMs) * time.Millisecond,
	}, store, forecasts, decisions, venue, evaluator, hub, journalOrNil(journal), log)

	srv := server.NewServer(cfg.Server.ListenAddr, store, loop, hub, log)
	srv.Start()
	loop.Start()

	// --- 等待中断信号以实现优雅退出 ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("收到退出信号，正在停止…")

	loop.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Warnf("看板服务关闭异常: %v", err)
	}

	reporter.PrintSessionReport(store.Read(), startedAt)
	log.Info("交易引擎已成功停止。")
}

// buildGateways 按运行模式组装三个外部网关。实盘模式要求 API 密钥齐全。
func buildGateways(cfg *models.Config) (gateway.ForecastProvider, gateway.DecisionProvider, gateway.Exchange) {
	log := logger.S()
	callTimeout := time.Duration(cfg.CallTimeoutSec) * time.Second

	if cfg.SimulationMode {
		forecasts := forecast.NewSimulator(nil)
		decisions := decision.NewSimulator(0, 0, cfg.Risk.MinTradeNotional*2, cfg.QuoteAsset)
		venue := exchange.NewSimulator(cfg.QuoteAsset, cfg.SimStartBalance, log)
		return forecasts, decisions, venue
	}

	if cfg.ForecastBaseURL == "" {
		log.Fatal("实盘模式需要配置 forecast_base_url。")
	}
	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		log.Fatal("错误：BINANCE_API_KEY 和 BINANCE_SECRET_KEY 环境变量必须被设置。")
	}
	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		log.Fatal("错误：OPENAI_API_KEY 环境变量必须被设置。")
	}

	forecasts := forecast.NewClient(cfg.ForecastBaseURL, callTimeout, log)
	decisions := decision.NewOpenAIProvider(openAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.QuoteAsset, log)
	venue := exchange.NewBinanceAdapter(apiKey, secretKey, cfg.BinanceAPIURL, cfg.Symbols, cfg.QuoteAsset, log)
	return forecasts, decisions, venue
}

// journalOrNil 避免把带 nil 指针的具体类型塞进接口。
func journalOrNil(j *storage.Journal) strategy.Journal {
	if j == nil {
		return nil
	}
	return j
}
