package models

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	Symbols          []string `json:"symbols"`            // 交易对列表，如 ["BTCUSDT", "ETHUSDT"]
	QuoteAsset       string   `json:"quote_asset"`        // 计价资产，默认 "USDT"
	CyclePeriodSec   int      `json:"cycle_period_sec"`   // 策略周期间隔（秒）
	SimulationMode   bool     `json:"simulation_mode"`    // 是否使用模拟网关
	SimStartBalance  float64  `json:"sim_start_balance"`  // 模拟模式下的初始USDT余额
	DBPath           string   `json:"db_path"`            // badger 快照数据库路径
	JournalPath      string   `json:"journal_path"`       // sqlite 交易流水数据库路径
	MaxTradeHistory  int      `json:"max_trade_history"`  // 交易历史上限（FIFO淘汰）
	MaxLogHistory    int      `json:"max_log_history"`    // 策略日志上限（FIFO淘汰）
	ForecastBaseURL  string   `json:"forecast_base_url"`  // 预测服务地址
	BinanceAPIURL    string   `json:"binance_api_url"`    // 交易所REST地址（留空使用默认）
	OpenAIModel      string   `json:"openai_model"`       // 决策模型，如 "gpt-4o"
	OpenAIBaseURL    string   `json:"openai_base_url"`    // 留空使用官方地址
	RetryAttempts    int      `json:"retry_attempts"`     // 外部调用的重试次数
	RetryInitDelayMs int      `json:"retry_init_delay_ms"`// 重试初始延迟毫秒数（指数退避）
	CallTimeoutSec   int      `json:"call_timeout_sec"`   // 单次外部调用超时（秒）

	Risk   RiskConfig   `json:"risk"`
	Server ServerConfig `json:"server"`
	Log    LogConfig    `json:"log"`
}

// RiskConfig 定义了风控评估器使用的固定策略常量
type RiskConfig struct {
	MinTradeNotional      float64 `json:"min_trade_notional"`       // 最小单笔名义价值 (USDT)
	MaxTradeNotional      float64 `json:"max_trade_notional"`       // 最大单笔名义价值 (USDT)
	MaxTotalExposureRatio float64 `json:"max_total_exposure_ratio"` // 总仓位比例上限
	MaxSingleAssetRatio   float64 `json:"max_single_asset_ratio"`   // 单资产仓位比例上限
	StopLossRatio         float64 `json:"stop_loss_ratio"`          // 止损豁免阈值（未实现亏损比例）
}

// ServerConfig 定义了行情面板服务的参数
type ServerConfig struct {
	ListenAddr          string `json:"listen_addr"`           // 监听地址，如 ":8000"
	SubscriberQueueSize int    `json:"subscriber_queue_size"` // 每个订阅者的推送队列长度
	PingIntervalSec     int    `json:"ping_interval_sec"`     // WebSocket Ping消息发送间隔(秒)
	PongTimeoutSec      int    `json:"pong_timeout_sec"`      // WebSocket Pong消息超时时间(秒)
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}
